// Package gate routes named actions to their handlers and declares the
// per-action authentication requirement. The gate is transport-agnostic:
// the gRPC and HTTP front doors both dispatch through it, enforcing auth
// before any handler runs.
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/fluxbridge/fluxbridge/internal/codec"
	"github.com/fluxbridge/fluxbridge/internal/registry"
	"github.com/fluxbridge/fluxbridge/pkg/types"
)

// Action names.
const (
	ActionListActions   = "list_actions"
	ActionDoGet         = "do_get"
	ActionDoPut         = "do_put"
	ActionListFlights   = "list_flights"
	ActionGetFlightInfo = "get_flight_info"
	ActionOptimize      = "optimize"
	ActionPersist       = "persist"
	ActionLoad          = "load"
	ActionClear         = "clear"
	ActionShutdown      = "shutdown"
)

// ActionInfo is one entry of the action catalog.
type ActionInfo struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	RequiresAuth bool   `json:"requires_auth"`
}

// catalog is the static action table. Order is the listing order.
var catalog = []ActionInfo{
	{ActionListActions, "List the available actions.", false},
	{ActionDoGet, "Download the table stored under a descriptor key.", false},
	{ActionListFlights, "List stored tables with row counts and sizes.", false},
	{ActionGetFlightInfo, "Describe the table stored under a descriptor key.", false},
	{ActionDoPut, "Upload a table under a descriptor key.", true},
	{ActionOptimize, "Optimize the data for a given schema using a given solver.", true},
	{ActionPersist, "Persist the data for a given schema to storage.", true},
	{ActionLoad, "Load and restore data for a given schema from storage.", true},
	{ActionClear, "Clear the stored datasets.", true},
	{ActionShutdown, "Shut down the server.", true},
}

// RequiresAuth reports the auth requirement for an action; the second return
// is false for unknown actions.
func RequiresAuth(name string) (bool, bool) {
	for _, a := range catalog {
		if a.Name == name {
			return a.RequiresAuth, true
		}
	}
	return false, false
}

// Optimizer is the bridge-client seam.
type Optimizer interface {
	SendOptimizationRequest(ctx context.Context, tables types.TableSet, spec types.SolverSpec) (*types.OptimizationResult, error)
}

// Persister is the snapshot-store seam.
type Persister interface {
	Persist(ctx context.Context, schema string, tables types.TableSet, overwrite bool) error
	Load(ctx context.Context, schema string) (types.TableSet, error)
}

// Gate dispatches actions against the registry, bridge, and snapshot store.
type Gate struct {
	registry  *registry.Registry
	optimizer Optimizer
	persister Persister
	terminate func()
}

// New creates a gate. terminate is invoked (from its own goroutine) after a
// shutdown action has been acknowledged; nil disables shutdown.
func New(reg *registry.Registry, optimizer Optimizer, persister Persister, terminate func()) *Gate {
	return &Gate{registry: reg, optimizer: optimizer, persister: persister, terminate: terminate}
}

// Request bodies. Solver parameters ride as key/value pairs; a nil value
// means the parameter is a bare flag.
type (
	// OptimizeRequest is the body of the optimize action.
	OptimizeRequest struct {
		SchemaName   string        `json:"schema_name"`
		SolverName   string        `json:"solver_name"`
		SolverParams []ActionParam `json:"solver_params,omitempty"`
	}

	// ActionParam is one solver parameter.
	ActionParam struct {
		Key   string  `json:"key"`
		Value *string `json:"value,omitempty"`
	}

	// PersistRequest is the body of the persist action.
	PersistRequest struct {
		SchemaName  string `json:"schema_name"`
		ToOverwrite bool   `json:"to_overwrite"`
	}

	// LoadRequest is the body of the load action.
	LoadRequest struct {
		SchemaName string `json:"schema_name"`
	}
)

// OptimizeResponse is the success payload of the optimize action.
type OptimizeResponse struct {
	Status         string    `json:"status"`
	ObjectiveValue float64   `json:"objective_value"`
	Rxns           []string  `json:"rxns"`
	Flux           []float64 `json:"flux"`
}

// Ack is the success payload of actions that return only a message.
type Ack struct {
	Message string `json:"message"`
}

// Do dispatches one JSON-bodied action. Auth has already been enforced by
// the transport for actions that require it.
func (g *Gate) Do(ctx context.Context, action string, body []byte) (any, error) {
	switch action {
	case ActionListActions:
		return g.listActions(), nil
	case ActionOptimize:
		return g.optimize(ctx, body)
	case ActionPersist:
		return g.persist(ctx, body)
	case ActionLoad:
		return g.load(ctx, body)
	case ActionClear:
		return nil, fmt.Errorf("gate: clear: %w", types.ErrUnimplemented)
	case ActionShutdown:
		return g.shutdown(), nil
	default:
		return nil, fmt.Errorf("gate: unknown action %q: %w", action, types.ErrNotFound)
	}
}

func (g *Gate) listActions() []ActionInfo {
	out := make([]ActionInfo, len(catalog))
	copy(out, catalog)
	return out
}

// optimize looks up the schema and delegates to the bridge. A missing schema
// is rejected before any connection to the engine is made.
func (g *Gate) optimize(ctx context.Context, body []byte) (any, error) {
	var req OptimizeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("gate: malformed optimize body: %w", err)
	}
	if req.SchemaName == "" {
		return nil, fmt.Errorf("gate: optimize requires a schema name")
	}

	tables, ok := g.registry.GetSchema(req.SchemaName)
	if !ok {
		return nil, fmt.Errorf("gate: no data found for schema %q: %w", req.SchemaName, types.ErrNotFound)
	}

	spec := types.SolverSpec{Name: req.SolverName}
	for _, p := range req.SolverParams {
		param := types.SolverParam{Key: p.Key}
		if p.Value != nil {
			param.Value, param.HasValue = *p.Value, true
		}
		spec.Params = append(spec.Params, param)
	}

	start := time.Now()
	result, err := g.optimizer.SendOptimizationRequest(ctx, tables, spec)
	if err != nil {
		return nil, err
	}
	log.Printf("gate: optimized schema %q with %s in %s (status=%s)",
		req.SchemaName, req.SolverName, time.Since(start).Round(time.Millisecond), result.Status)

	return &OptimizeResponse{
		Status:         result.Status,
		ObjectiveValue: result.Objective,
		Rxns:           result.Rxns,
		Flux:           result.Flux,
	}, nil
}

func (g *Gate) persist(ctx context.Context, body []byte) (any, error) {
	var req PersistRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("gate: malformed persist body: %w", err)
	}
	if req.SchemaName == "" {
		return nil, fmt.Errorf("gate: persist requires a schema name")
	}

	tables, ok := g.registry.GetSchema(req.SchemaName)
	if !ok {
		return nil, fmt.Errorf("gate: no data found for schema %q: %w", req.SchemaName, types.ErrNotFound)
	}
	if err := g.persister.Persist(ctx, req.SchemaName, tables, req.ToOverwrite); err != nil {
		return nil, err
	}
	return &Ack{Message: fmt.Sprintf("schema %q persisted", req.SchemaName)}, nil
}

// load restores a schema from the snapshot store and swaps it into the
// registry as one complete set.
func (g *Gate) load(ctx context.Context, body []byte) (any, error) {
	var req LoadRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("gate: malformed load body: %w", err)
	}
	if req.SchemaName == "" {
		return nil, fmt.Errorf("gate: load requires a schema name")
	}

	tables, err := g.persister.Load(ctx, req.SchemaName)
	if err != nil {
		return nil, err
	}
	g.registry.ReplaceSchema(req.SchemaName, tables)
	return &Ack{Message: fmt.Sprintf("schema %q loaded (%d tables)", req.SchemaName, len(tables))}, nil
}

// shutdown acknowledges first; termination runs from its own goroutine so
// the in-flight response is flushed before the process exits.
func (g *Gate) shutdown() *Ack {
	if g.terminate != nil {
		go func() {
			time.Sleep(100 * time.Millisecond)
			log.Printf("gate: shutdown requested, terminating")
			g.terminate()
		}()
	}
	return &Ack{Message: "shutting down"}
}

// FlightInfo describes one stored table for the dataset verbs.
type FlightInfo struct {
	Key       string `json:"key"`
	Schema    string `json:"schema"`
	Table     string `json:"table"`
	Rows      int    `json:"rows"`
	Columns   int    `json:"columns"`
	SizeBytes int    `json:"size_bytes"`
}

// DoPut registers an uploaded table under the descriptor's registry address.
func (g *Gate) DoPut(ctx context.Context, d Descriptor, t *types.Table) error {
	schema, table, err := d.SchemaTable()
	if err != nil {
		return err
	}
	if table == "" {
		table = t.Name()
	}
	if table == "" {
		return fmt.Errorf("gate: do_put table has no name: %w", types.ErrMissingName)
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("gate: do_put rejected: %w", err)
	}
	g.registry.PutTable(schema, table, t)
	log.Printf("gate: stored table %q under schema %q (%d rows)", table, schema, t.NumRows())
	return nil
}

// DoGet fetches the table stored under the descriptor's registry address.
func (g *Gate) DoGet(ctx context.Context, d Descriptor) (*types.Table, error) {
	schema, table, err := d.SchemaTable()
	if err != nil {
		return nil, err
	}
	if table == "" {
		return nil, fmt.Errorf("gate: do_get descriptor names no table: %w", types.ErrProtocol)
	}
	t, ok := g.registry.GetTable(schema, table)
	if !ok {
		return nil, fmt.Errorf("gate: no table %q under schema %q: %w", table, schema, types.ErrNotFound)
	}
	return t, nil
}

// ListFlights enumerates all stored tables, sorted by key.
func (g *Gate) ListFlights(ctx context.Context) ([]FlightInfo, error) {
	entries := g.registry.List()
	infos := make([]FlightInfo, 0, len(entries))
	for _, e := range entries {
		info, err := g.flightInfo(e.Schema, e.Table)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// GetFlightInfo describes one stored table.
func (g *Gate) GetFlightInfo(ctx context.Context, d Descriptor) (*FlightInfo, error) {
	schema, table, err := d.SchemaTable()
	if err != nil {
		return nil, err
	}
	if table == "" {
		return nil, fmt.Errorf("gate: get_flight_info descriptor names no table: %w", types.ErrProtocol)
	}
	if _, ok := g.registry.GetTable(schema, table); !ok {
		return nil, fmt.Errorf("gate: no table %q under schema %q: %w", table, schema, types.ErrNotFound)
	}
	info, err := g.flightInfo(schema, table)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (g *Gate) flightInfo(schema, table string) (FlightInfo, error) {
	t, ok := g.registry.GetTable(schema, table)
	if !ok {
		return FlightInfo{}, fmt.Errorf("gate: no table %q under schema %q: %w", table, schema, types.ErrNotFound)
	}
	encoded, err := codec.Encode(t)
	if err != nil {
		return FlightInfo{}, fmt.Errorf("gate: failed to size table %q of schema %q: %w", table, schema, err)
	}
	return FlightInfo{
		Key:       PathDescriptor(schema, table).Key(),
		Schema:    schema,
		Table:     table,
		Rows:      t.NumRows(),
		Columns:   t.NumColumns(),
		SizeBytes: len(encoded),
	}, nil
}
