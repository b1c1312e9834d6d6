// Package bridge implements the caller side of the optimization wire
// protocol: it streams a schema's tables to the engine and collects the
// result frames into an optimization result.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"

	"github.com/fluxbridge/fluxbridge/internal/assemble"
	"github.com/fluxbridge/fluxbridge/internal/codec"
	"github.com/fluxbridge/fluxbridge/pkg/types"
)

// Client talks to one engine address. It reuses a single connection across
// calls when possible; each call is exactly one request/response cycle, and
// calls are serialized so cycles never interleave on the wire.
type Client struct {
	addr   string
	dialer func(ctx context.Context, addr string) (net.Conn, error)

	mu   sync.Mutex
	conn net.Conn
}

// NewClient creates a bridge client for the given engine address.
func NewClient(addr string) *Client {
	return &Client{
		addr: addr,
		dialer: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
	}
}

// SendOptimizationRequest streams the schema's tables plus the solver table
// to the engine and returns the decoded result. A failure reported by the
// engine comes back as a types.ErrSolver-wrapped error.
func (c *Client) SendOptimizationRequest(ctx context.Context, tables types.TableSet, spec types.SolverSpec) (*types.OptimizationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, fresh, err := c.connLocked(ctx)
	if err != nil {
		return nil, err
	}

	result, err := c.roundTrip(conn, tables, spec)
	if err != nil && !fresh && isTransport(err) {
		// The reused connection went stale between calls; redial once. A
		// fresh connection is never retried, so a request is sent at most
		// twice and only when the first copy never reached a live peer.
		c.closeLocked()
		conn, _, dialErr := c.connLocked(ctx)
		if dialErr != nil {
			return nil, dialErr
		}
		result, err = c.roundTrip(conn, tables, spec)
	}
	if err != nil {
		if isTransport(err) {
			c.closeLocked()
		}
		return nil, err
	}
	return result, nil
}

func (c *Client) roundTrip(conn net.Conn, tables types.TableSet, spec types.SolverSpec) (*types.OptimizationResult, error) {
	if err := c.sendTables(conn, tables, spec); err != nil {
		return nil, err
	}
	return c.receiveResult(conn)
}

// sendTables writes each named table as a frame in sorted-name order (stable
// across calls), then the solver table, then the end marker.
func (c *Client) sendTables(conn net.Conn, tables types.TableSet, spec types.SolverSpec) error {
	names := make([]string, 0, len(tables))
	for name := range tables {
		if name == assemble.TableSolver {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := codec.WriteTable(conn, tables[name]); err != nil {
			return fmt.Errorf("bridge: failed to send table %q: %w", name, err)
		}
	}
	if err := codec.WriteTable(conn, assemble.SolverSpecTable(spec)); err != nil {
		return fmt.Errorf("bridge: failed to send solver table: %w", err)
	}
	if err := codec.WriteEndMarker(conn); err != nil {
		return fmt.Errorf("bridge: failed to send end marker: %w", err)
	}
	return nil
}

// receiveResult reads frames until the end marker and interprets them per the
// response contract: a flag table announcing success and the expected table
// count, or a single failure table.
func (c *Client) receiveResult(conn net.Conn) (*types.OptimizationResult, error) {
	var received []*types.Table
	for {
		t, err := codec.ReadTable(conn)
		if errors.Is(err, codec.ErrEndOfStream) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bridge: failed to read result frame: %w", err)
		}
		received = append(received, t)
	}
	if len(received) == 0 {
		return nil, fmt.Errorf("bridge: %w: empty response from engine", types.ErrProtocol)
	}

	flag := received[0]
	success, ok := boolAt(flag, "success")
	if !ok {
		return nil, fmt.Errorf("bridge: %w: response flag table missing %q column", types.ErrProtocol, "success")
	}
	if !success {
		message, _ := stringAt(flag, "error_message")
		return nil, fmt.Errorf("bridge: %w: %s", types.ErrSolver, message)
	}

	numTables, ok := int64At(flag, "num_tables")
	if !ok {
		return nil, fmt.Errorf("bridge: %w: response flag table missing %q column", types.ErrProtocol, "num_tables")
	}
	if int64(len(received)-1) != numTables {
		return nil, fmt.Errorf("bridge: %w: expected %d result tables, got %d",
			types.ErrProtocol, numTables, len(received)-1)
	}
	if numTables != 2 {
		return nil, fmt.Errorf("bridge: %w: unexpected result table count %d", types.ErrProtocol, numTables)
	}

	fluxTable, statusTable := received[1], received[2]
	rxnsCol, ok := fluxTable.Column("rxns")
	if !ok || rxnsCol.Type != types.ColumnString {
		return nil, fmt.Errorf("bridge: %w: result table missing %q column", types.ErrProtocol, "rxns")
	}
	fluxCol, ok := fluxTable.Column("flux")
	if !ok || fluxCol.Type != types.ColumnFloat64 {
		return nil, fmt.Errorf("bridge: %w: result table missing %q column", types.ErrProtocol, "flux")
	}
	status, ok := stringAt(statusTable, "status")
	if !ok {
		return nil, fmt.Errorf("bridge: %w: status table missing %q column", types.ErrProtocol, "status")
	}
	objective, ok := float64At(statusTable, "objective_value")
	if !ok {
		return nil, fmt.Errorf("bridge: %w: status table missing %q column", types.ErrProtocol, "objective_value")
	}

	return &types.OptimizationResult{
		Status:    status,
		Objective: objective,
		Rxns:      rxnsCol.Strings,
		Flux:      fluxCol.Float64s,
	}, nil
}

// connLocked returns the live connection, dialing if needed, and reports
// whether it was freshly dialed. Callers hold mu.
func (c *Client) connLocked(ctx context.Context) (net.Conn, bool, error) {
	if c.conn != nil {
		return c.conn, false, nil
	}
	conn, err := c.dialer(ctx, c.addr)
	if err != nil {
		return nil, false, fmt.Errorf("bridge: failed to connect to engine at %s: %w", c.addr, err)
	}
	c.conn = conn
	return conn, true, nil
}

func (c *Client) closeLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close releases the reused connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

// isTransport reports whether an error is connection-level rather than a
// result reported by the engine.
func isTransport(err error) bool {
	if errors.Is(err, types.ErrSolver) || errors.Is(err, types.ErrAssembly) {
		return false
	}
	var netErr net.Error
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.As(err, &netErr) ||
		errors.Is(err, types.ErrProtocol)
}

func boolAt(t *types.Table, name string) (bool, bool) {
	col, ok := t.Column(name)
	if !ok || col.Type != types.ColumnBool || col.Len() == 0 {
		return false, false
	}
	return col.Bools[0], true
}

func int64At(t *types.Table, name string) (int64, bool) {
	col, ok := t.Column(name)
	if !ok || col.Type != types.ColumnInt64 || col.Len() == 0 {
		return 0, false
	}
	return col.Int64s[0], true
}

func stringAt(t *types.Table, name string) (string, bool) {
	col, ok := t.Column(name)
	if !ok || col.Type != types.ColumnString || col.Len() == 0 {
		return "", false
	}
	return col.Strings[0], true
}

func float64At(t *types.Table, name string) (float64, bool) {
	col, ok := t.Column(name)
	if !ok || col.Type != types.ColumnFloat64 || col.Len() == 0 {
		return 0, false
	}
	return col.Float64s[0], true
}
