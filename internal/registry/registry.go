// Package registry holds the in-memory dataset registry: the volatile map
// from schema identifier to its set of named tables. Schemas are distributed
// across hash shards so unrelated schemas never contend on one lock.
package registry

import (
	"sort"
	"sync"

	"github.com/spaolacci/murmur3"

	"github.com/fluxbridge/fluxbridge/pkg/types"
)

// DefaultShardCount is the shard count used by New.
const DefaultShardCount = 16

type shard struct {
	mu      sync.RWMutex
	schemas map[string]types.TableSet
}

// Registry is a sharded schema -> table-set map. All mutations of one schema
// happen under its shard's write lock, so readers observe either the old or
// the new complete table set, never a mix.
type Registry struct {
	shards []*shard
}

// New creates a registry with DefaultShardCount shards.
func New() *Registry {
	return NewWithShards(DefaultShardCount)
}

// NewWithShards creates a registry with an explicit shard count.
func NewWithShards(count int) *Registry {
	if count < 1 {
		count = 1
	}
	r := &Registry{shards: make([]*shard, count)}
	for i := range r.shards {
		r.shards[i] = &shard{schemas: make(map[string]types.TableSet)}
	}
	return r
}

func (r *Registry) shardFor(schema string) *shard {
	h := murmur3.Sum32([]byte(schema))
	return r.shards[h%uint32(len(r.shards))]
}

// PutTable registers one table under a schema, creating the schema if
// needed. An existing table with the same name is replaced.
func (r *Registry) PutTable(schema, name string, t *types.Table) {
	s := r.shardFor(schema)
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.schemas[schema]
	if !ok {
		set = make(types.TableSet)
		s.schemas[schema] = set
	}
	set[name] = t.Clone()
}

// ReplaceSchema swaps the schema's entire table set atomically.
func (r *Registry) ReplaceSchema(schema string, tables types.TableSet) {
	s := r.shardFor(schema)
	clone := tables.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas[schema] = clone
}

// GetSchema returns a snapshot copy of the schema's complete table set.
func (r *Registry) GetSchema(schema string) (types.TableSet, bool) {
	s := r.shardFor(schema)
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.schemas[schema]
	if !ok || len(set) == 0 {
		return nil, false
	}
	return set.Clone(), true
}

// GetTable returns a snapshot copy of one table.
func (r *Registry) GetTable(schema, name string) (*types.Table, bool) {
	s := r.shardFor(schema)
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.schemas[schema]
	if !ok {
		return nil, false
	}
	t, ok := set[name]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// DeleteSchema removes a schema and all its tables.
func (r *Registry) DeleteSchema(schema string) {
	s := r.shardFor(schema)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schemas, schema)
}

// Entry describes one registered table for listing purposes.
type Entry struct {
	Schema  string
	Table   string
	Rows    int
	Columns int
}

// List enumerates all registered tables, sorted by schema then table name.
func (r *Registry) List() []Entry {
	var entries []Entry
	for _, s := range r.shards {
		s.mu.RLock()
		for schema, set := range s.schemas {
			for name, t := range set {
				entries = append(entries, Entry{
					Schema:  schema,
					Table:   name,
					Rows:    t.NumRows(),
					Columns: t.NumColumns(),
				})
			}
		}
		s.mu.RUnlock()
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Schema != entries[j].Schema {
			return entries[i].Schema < entries[j].Schema
		}
		return entries[i].Table < entries[j].Table
	})
	return entries
}

// Schemas returns the sorted list of schema identifiers currently registered.
func (r *Registry) Schemas() []string {
	var out []string
	for _, s := range r.shards {
		s.mu.RLock()
		for schema := range s.schemas {
			out = append(out, schema)
		}
		s.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}
