package bridge

import (
	"context"
	"net"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbridge/fluxbridge/internal/assemble"
	"github.com/fluxbridge/fluxbridge/internal/engine"
	"github.com/fluxbridge/fluxbridge/internal/engine/solver"
	"github.com/fluxbridge/fluxbridge/pkg/types"
)

type stubSolver struct {
	sol solver.Solution
}

func (s stubSolver) Solve(ctx context.Context, p *types.LPProblem) (solver.Solution, error) {
	return s.sol, nil
}

func stubFactory(sol solver.Solution) solver.Factory {
	return func(name string, params []types.SolverParam) (solver.Solver, error) {
		return stubSolver{sol: sol}, nil
	}
}

func modelTables() types.TableSet {
	s := types.NewTable(assemble.TableS,
		types.NewInt64Column("row", []int64{1, 1, 2}),
		types.NewInt64Column("col", []int64{1, 2, 2}),
		types.NewFloat64Column("val", []float64{2.0, -1.0, 3.0}),
	)
	s.SetMetadata(assemble.MetadataKeyDimensions, "[2, 2]")

	return types.TableSet{
		assemble.TableS:         s,
		assemble.TableB:         types.NewTable(assemble.TableB, types.NewFloat64Column("value", []float64{0, 0})),
		assemble.TableC:         types.NewTable(assemble.TableC, types.NewFloat64Column("value", []float64{1, 0})),
		assemble.TableLB:        types.NewTable(assemble.TableLB, types.NewFloat64Column("value", []float64{-10, -10})),
		assemble.TableUB:        types.NewTable(assemble.TableUB, types.NewFloat64Column("value", []float64{10, 10})),
		assemble.TableOsenseStr: types.NewTable(assemble.TableOsenseStr, types.NewStringColumn("value", []string{"max"})),
		assemble.TableCsense:    types.NewTable(assemble.TableCsense, types.NewStringColumn("value", []string{"E", "E"})),
		assemble.TableRxns:      types.NewTable(assemble.TableRxns, types.NewStringColumn("value", []string{"r1", "r2"})),
		assemble.TableMets:      types.NewTable(assemble.TableMets, types.NewStringColumn("value", []string{"m1", "m2"})),
	}
}

func startEngine(t *testing.T, factory solver.Factory) *engine.Server {
	t.Helper()
	srv := engine.NewServer("127.0.0.1:0", factory)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Close() })
	return srv
}

func TestSendOptimizationRequest(t *testing.T) {
	srv := startEngine(t, stubFactory(solver.Solution{
		Status: "optimal", Objective: 7.5, Flux: []float64{1.5, 2.5},
	}))

	client := NewClient(srv.Addr().String())
	defer client.Close()

	result, err := client.SendOptimizationRequest(context.Background(), modelTables(), types.SolverSpec{Name: "GLPK"})
	require.NoError(t, err)
	assert.Equal(t, "optimal", result.Status)
	assert.Equal(t, 7.5, result.Objective)
	assert.Equal(t, []string{"r1", "r2"}, result.Rxns)
	assert.Equal(t, []float64{1.5, 2.5}, result.Flux)
}

func TestSendOptimizationRequestEngineFailure(t *testing.T) {
	srv := startEngine(t, stubFactory(solver.Solution{Status: "optimal"}))

	client := NewClient(srv.Addr().String())
	defer client.Close()

	tables := modelTables()
	delete(tables, assemble.TableB)

	_, err := client.SendOptimizationRequest(context.Background(), tables, types.SolverSpec{Name: "GLPK"})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrSolver, "engine-reported failures surface as solver errors")
	assert.Contains(t, err.Error(), `"b"`)
}

func TestClientReusesConnection(t *testing.T) {
	srv := startEngine(t, stubFactory(solver.Solution{
		Status: "optimal", Objective: 1, Flux: []float64{0, 0},
	}))

	client := NewClient(srv.Addr().String())
	defer client.Close()

	var dials atomic.Int64
	base := client.dialer
	client.dialer = func(ctx context.Context, addr string) (net.Conn, error) {
		dials.Add(1)
		return base(ctx, addr)
	}

	for i := 0; i < 3; i++ {
		_, err := client.SendOptimizationRequest(context.Background(), modelTables(), types.SolverSpec{Name: "GLPK"})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), dials.Load(), "calls after the first reuse the connection")
}

func TestClientRedialsStaleConnection(t *testing.T) {
	srv := startEngine(t, stubFactory(solver.Solution{
		Status: "optimal", Objective: 1, Flux: []float64{0, 0},
	}))

	client := NewClient(srv.Addr().String())
	defer client.Close()

	var dials atomic.Int64
	base := client.dialer
	client.dialer = func(ctx context.Context, addr string) (net.Conn, error) {
		dials.Add(1)
		return base(ctx, addr)
	}

	_, err := client.SendOptimizationRequest(context.Background(), modelTables(), types.SolverSpec{Name: "GLPK"})
	require.NoError(t, err)

	// Kill the cached connection out from under the client; the next call
	// must detect the stale socket and redial once.
	client.mu.Lock()
	client.conn.Close()
	client.mu.Unlock()

	_, err = client.SendOptimizationRequest(context.Background(), modelTables(), types.SolverSpec{Name: "GLPK"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), dials.Load())
}

func TestClientDialFailure(t *testing.T) {
	// A listener opened and immediately closed yields an address nothing is
	// listening on.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	client := NewClient(addr)
	defer client.Close()

	_, err = client.SendOptimizationRequest(context.Background(), modelTables(), types.SolverSpec{Name: "GLPK"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")
}
