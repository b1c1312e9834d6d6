// Package solver defines the seam between the optimization engine and the
// external numerical solvers it dispatches to. Solver numerics live outside
// this repository; backends plug in through Register, the same way
// database/sql drivers do.
package solver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/fluxbridge/fluxbridge/pkg/types"
)

// Backend identifies one supported solver variant. The set is closed:
// solver selection is an enum lookup, not string dispatch at call sites.
type Backend int8

const (
	BackendGLPK Backend = iota
	BackendGurobi
	BackendCPLEX
	BackendMosek
)

// String returns the backend's canonical wire name.
func (b Backend) String() string {
	switch b {
	case BackendGLPK:
		return "GLPK"
	case BackendGurobi:
		return "Gurobi"
	case BackendCPLEX:
		return "CPLEX"
	case BackendMosek:
		return "Mosek"
	default:
		return fmt.Sprintf("Backend(%d)", int8(b))
	}
}

// Resolve maps a wire solver name to its backend, case-insensitively.
func Resolve(name string) (Backend, error) {
	switch strings.ToLower(name) {
	case "glpk":
		return BackendGLPK, nil
	case "gurobi":
		return BackendGurobi, nil
	case "cplex":
		return BackendCPLEX, nil
	case "mosek":
		return BackendMosek, nil
	default:
		return 0, fmt.Errorf("solver: %w: unsupported solver %q", types.ErrSolver, name)
	}
}

// Solution is the outcome reported by a solver backend.
type Solution struct {
	Status    string
	Objective float64
	Flux      []float64
}

// Solver solves one LP problem. The call is synchronous and blocks the
// calling session until it returns.
type Solver interface {
	Solve(ctx context.Context, problem *types.LPProblem) (Solution, error)
}

// Constructor builds a solver instance from its parameter list.
type Constructor func(params []types.SolverParam) (Solver, error)

// Factory is a pure function from (name, params) to a solver handle.
type Factory func(name string, params []types.SolverParam) (Solver, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[Backend]Constructor)
)

// Register installs a constructor for a backend. Registering the same
// backend twice panics, matching the database/sql driver contract.
func Register(b Backend, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if ctor == nil {
		panic("solver: Register with nil constructor")
	}
	if _, dup := registry[b]; dup {
		panic("solver: Register called twice for backend " + b.String())
	}
	registry[b] = ctor
}

// Registered returns the names of all registered backends, sorted.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for b := range registry {
		names = append(names, b.String())
	}
	sort.Strings(names)
	return names
}

// New resolves a name and constructs a solver from the registry.
func New(name string, params []types.SolverParam) (Solver, error) {
	backend, err := Resolve(name)
	if err != nil {
		return nil, err
	}
	registryMu.RLock()
	ctor, ok := registry[backend]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("solver: %w: no backend registered for %s", types.ErrSolver, backend)
	}
	s, err := ctor(params)
	if err != nil {
		return nil, fmt.Errorf("solver: %w: %v", types.ErrSolver, err)
	}
	return s, nil
}
