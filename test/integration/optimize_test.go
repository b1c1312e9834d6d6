// Package integration exercises the full request path: tables uploaded
// through the gate, streamed over the wire protocol to the engine, assembled
// into an LP problem, solved, and the result returned through the bridge.
package integration

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbridge/fluxbridge/internal/assemble"
	"github.com/fluxbridge/fluxbridge/internal/bridge"
	"github.com/fluxbridge/fluxbridge/internal/engine"
	"github.com/fluxbridge/fluxbridge/internal/engine/solver"
	"github.com/fluxbridge/fluxbridge/internal/gate"
	"github.com/fluxbridge/fluxbridge/internal/persist"
	"github.com/fluxbridge/fluxbridge/internal/registry"
	"github.com/fluxbridge/fluxbridge/pkg/types"
)

// boundSolver reports each flux at its favorable bound, which is enough to
// verify that the assembled problem arrived intact.
type boundSolver struct {
	got *types.LPProblem
}

func (s *boundSolver) Solve(ctx context.Context, p *types.LPProblem) (solver.Solution, error) {
	s.got = p
	flux := make([]float64, p.S.NumCols)
	var objective float64
	for i := range flux {
		if p.OSense == types.SenseMaximize {
			flux[i] = p.UB[i]
		} else {
			flux[i] = p.LB[i]
		}
		objective += p.C[i] * flux[i]
	}
	return solver.Solution{Status: "optimal", Objective: objective, Flux: flux}, nil
}

type stack struct {
	gate     *gate.Gate
	registry *registry.Registry
	solver   *boundSolver
}

func newStack(t *testing.T) *stack {
	t.Helper()

	sv := &boundSolver{}
	factory := func(name string, params []types.SolverParam) (solver.Solver, error) {
		if _, err := solver.Resolve(name); err != nil {
			return nil, err
		}
		return sv, nil
	}

	eng := engine.NewServer("127.0.0.1:0", factory)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { eng.Close() })

	client := bridge.NewClient(eng.Addr().String())
	t.Cleanup(func() { client.Close() })

	store, err := persist.Open(filepath.Join(t.TempDir(), "persist.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := registry.New()
	return &stack{
		gate:     gate.New(reg, client, store, nil),
		registry: reg,
		solver:   sv,
	}
}

// uploadModel pushes the toy model table by table, the way a client would.
func uploadModel(t *testing.T, g *gate.Gate, schema string) {
	t.Helper()
	ctx := context.Background()

	s := types.NewTable(assemble.TableS,
		types.NewInt64Column("row", []int64{1, 1, 2}),
		types.NewInt64Column("col", []int64{1, 2, 2}),
		types.NewFloat64Column("val", []float64{2.0, -1.0, 3.0}),
	)
	s.SetMetadata(assemble.MetadataKeyDimensions, "[2, 2]")

	tables := []*types.Table{
		s,
		types.NewTable(assemble.TableB, types.NewFloat64Column("value", []float64{0, 0})),
		types.NewTable(assemble.TableC, types.NewFloat64Column("value", []float64{1, 0})),
		types.NewTable(assemble.TableLB, types.NewFloat64Column("value", []float64{-10, -10})),
		types.NewTable(assemble.TableUB, types.NewFloat64Column("value", []float64{10, 10})),
		types.NewTable(assemble.TableOsenseStr, types.NewStringColumn("value", []string{"max"})),
		types.NewTable(assemble.TableCsense, types.NewStringColumn("value", []string{"E", "E"})),
		types.NewTable(assemble.TableRxns, types.NewStringColumn("value", []string{"r1", "r2"})),
		types.NewTable(assemble.TableMets, types.NewStringColumn("value", []string{"m1", "m2"})),
	}
	for _, tbl := range tables {
		require.NoError(t, g.DoPut(ctx, gate.PathDescriptor(schema), tbl))
	}
}

func optimize(t *testing.T, g *gate.Gate, schema string) (*gate.OptimizeResponse, error) {
	t.Helper()
	body, err := json.Marshal(gate.OptimizeRequest{SchemaName: schema, SolverName: "GLPK"})
	require.NoError(t, err)

	out, err := g.Do(context.Background(), gate.ActionOptimize, body)
	if err != nil {
		return nil, err
	}
	return out.(*gate.OptimizeResponse), nil
}

func TestOptimizeEndToEnd(t *testing.T) {
	st := newStack(t)
	uploadModel(t, st.gate, "toy")

	resp, err := optimize(t, st.gate, "toy")
	require.NoError(t, err)

	assert.Equal(t, "optimal", resp.Status)
	assert.Equal(t, []string{"r1", "r2"}, resp.Rxns)
	assert.Equal(t, []float64{10, 10}, resp.Flux, "maximization drives both fluxes to their upper bounds")
	assert.Equal(t, 10.0, resp.ObjectiveValue)

	// The problem the solver saw is the problem that was uploaded.
	p := st.solver.got
	require.NotNil(t, p)
	assert.Equal(t, 2, p.S.NumRows)
	assert.Equal(t, 2, p.S.NumCols)
	assert.Equal(t, 3, p.S.NNZ())
	assert.Equal(t, types.SenseMaximize, p.OSense)
	assert.Equal(t, []byte("EE"), p.CSense)
	assert.Equal(t, []string{"m1", "m2"}, p.Mets)
}

func TestOptimizeFailureDoesNotPoisonTheConnection(t *testing.T) {
	st := newStack(t)

	// First schema is incomplete: no right-hand side.
	uploadModel(t, st.gate, "broken")
	brokenSet, ok := st.registry.GetSchema("broken")
	require.True(t, ok)
	delete(brokenSet, assemble.TableB)
	st.registry.ReplaceSchema("broken", brokenSet)

	_, err := optimize(t, st.gate, "broken")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrSolver, "the engine reports the assembly failure")
	assert.Contains(t, err.Error(), `"b"`)

	// A complete schema succeeds over the same bridge connection.
	uploadModel(t, st.gate, "toy")
	resp, err := optimize(t, st.gate, "toy")
	require.NoError(t, err)
	assert.Equal(t, "optimal", resp.Status)
}

func TestOptimizeUnknownSolverRejected(t *testing.T) {
	st := newStack(t)
	uploadModel(t, st.gate, "toy")

	body, _ := json.Marshal(gate.OptimizeRequest{SchemaName: "toy", SolverName: "abacus"})
	_, err := st.gate.Do(context.Background(), gate.ActionOptimize, body)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrSolver)
}

func TestPersistLoadOptimizeCycle(t *testing.T) {
	st := newStack(t)
	uploadModel(t, st.gate, "toy")
	ctx := context.Background()

	body, _ := json.Marshal(gate.PersistRequest{SchemaName: "toy"})
	_, err := st.gate.Do(ctx, gate.ActionPersist, body)
	require.NoError(t, err)

	// A second persist without overwrite conflicts.
	_, err = st.gate.Do(ctx, gate.ActionPersist, body)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConflict)

	// Drop the in-memory copy, restore it from the snapshot, and optimize.
	st.registry.DeleteSchema("toy")
	_, err = optimize(t, st.gate, "toy")
	require.Error(t, err, "the schema is gone until it is loaded back")

	loadBody, _ := json.Marshal(gate.LoadRequest{SchemaName: "toy"})
	_, err = st.gate.Do(ctx, gate.ActionLoad, loadBody)
	require.NoError(t, err)

	resp, err := optimize(t, st.gate, "toy")
	require.NoError(t, err)
	assert.Equal(t, 10.0, resp.ObjectiveValue)
}
