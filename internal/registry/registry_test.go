package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbridge/fluxbridge/pkg/types"
)

func table(name string, vals ...float64) *types.Table {
	return types.NewTable(name, types.NewFloat64Column("value", vals))
}

func TestPutAndGetTable(t *testing.T) {
	r := New()
	r.PutTable("ecoli", "b", table("b", 0, 0))

	got, ok := r.GetTable("ecoli", "b")
	require.True(t, ok)
	assert.Equal(t, "b", got.Name())
	assert.Equal(t, 2, got.NumRows())

	_, ok = r.GetTable("ecoli", "missing")
	assert.False(t, ok)
	_, ok = r.GetTable("unknown", "b")
	assert.False(t, ok)
}

func TestPutTableReplacesExisting(t *testing.T) {
	r := New()
	r.PutTable("ecoli", "b", table("b", 1))
	r.PutTable("ecoli", "b", table("b", 2, 3))

	got, ok := r.GetTable("ecoli", "b")
	require.True(t, ok)
	assert.Equal(t, 2, got.NumRows())
}

func TestGetSchemaSnapshotIsolation(t *testing.T) {
	r := New()
	r.PutTable("ecoli", "b", table("b", 1))

	snap, ok := r.GetSchema("ecoli")
	require.True(t, ok)

	// Mutating the snapshot must not leak into the registry.
	snap["b"].Columns[0].Float64s[0] = 99
	snap["extra"] = table("extra", 5)

	got, ok := r.GetTable("ecoli", "b")
	require.True(t, ok)
	assert.Equal(t, 1.0, got.Columns[0].Float64s[0])
	_, ok = r.GetTable("ecoli", "extra")
	assert.False(t, ok)
}

func TestPutTableClonesInput(t *testing.T) {
	r := New()
	src := table("b", 1)
	r.PutTable("ecoli", "b", src)

	src.Columns[0].Float64s[0] = 99

	got, _ := r.GetTable("ecoli", "b")
	assert.Equal(t, 1.0, got.Columns[0].Float64s[0], "callers must not share storage with the registry")
}

func TestReplaceSchema(t *testing.T) {
	r := New()
	r.PutTable("ecoli", "old", table("old", 1))

	r.ReplaceSchema("ecoli", types.TableSet{
		"b": table("b", 0),
		"c": table("c", 1),
	})

	set, ok := r.GetSchema("ecoli")
	require.True(t, ok)
	assert.Len(t, set, 2)
	_, hasOld := set["old"]
	assert.False(t, hasOld, "replace swaps the whole set, never merges")
}

func TestGetSchemaEmpty(t *testing.T) {
	r := New()
	_, ok := r.GetSchema("nothing")
	assert.False(t, ok)

	r.ReplaceSchema("empty", types.TableSet{})
	_, ok = r.GetSchema("empty")
	assert.False(t, ok, "an empty table set reads as absent")
}

func TestDeleteSchema(t *testing.T) {
	r := New()
	r.PutTable("ecoli", "b", table("b", 1))
	r.DeleteSchema("ecoli")

	_, ok := r.GetSchema("ecoli")
	assert.False(t, ok)

	// Deleting twice is harmless.
	r.DeleteSchema("ecoli")
}

func TestListSorted(t *testing.T) {
	r := New()
	r.PutTable("zebra", "s", table("s", 1))
	r.PutTable("alpha", "ub", table("ub", 1, 2))
	r.PutTable("alpha", "lb", table("lb", 1, 2))

	entries := r.List()
	require.Len(t, entries, 3)
	assert.Equal(t, Entry{Schema: "alpha", Table: "lb", Rows: 2, Columns: 1}, entries[0])
	assert.Equal(t, Entry{Schema: "alpha", Table: "ub", Rows: 2, Columns: 1}, entries[1])
	assert.Equal(t, "zebra", entries[2].Schema)
}

func TestSchemasSorted(t *testing.T) {
	r := New()
	r.PutTable("c", "t", table("t", 1))
	r.PutTable("a", "t", table("t", 1))
	r.PutTable("b", "t", table("t", 1))

	assert.Equal(t, []string{"a", "b", "c"}, r.Schemas())
}

func TestConcurrentAccess(t *testing.T) {
	r := NewWithShards(4)
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			schema := fmt.Sprintf("schema-%d", i%4)
			for j := 0; j < 100; j++ {
				r.PutTable(schema, "b", table("b", float64(j)))
				if set, ok := r.GetSchema(schema); ok {
					// A snapshot is always internally complete.
					assert.NotNil(t, set["b"])
				}
				r.List()
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, r.Schemas(), 4)
}
