// Package engine implements the optimization engine: a TCP server that
// reassembles streamed table frames into LP problems, dispatches them to a
// solver backend, and streams results back.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"

	"github.com/fluxbridge/fluxbridge/internal/assemble"
	"github.com/fluxbridge/fluxbridge/internal/codec"
	"github.com/fluxbridge/fluxbridge/internal/engine/solver"
	"github.com/fluxbridge/fluxbridge/pkg/types"
)

// Session is the per-connection state machine:
// Receiving -> Assembling -> Solving -> Responding -> Receiving, looping
// until the peer closes the connection or a transport failure occurs. The
// request/response loop is strictly sequential; a session never processes
// two requests concurrently.
type Session struct {
	id      uint64
	conn    net.Conn
	factory solver.Factory
}

// NewSession creates a session over an accepted connection.
func NewSession(id uint64, conn net.Conn, factory solver.Factory) *Session {
	return &Session{id: id, conn: conn, factory: factory}
}

// Run drives the session until the peer closes the connection (returns nil)
// or a connection-scoped failure occurs (returns the error). In either case
// the connection is closed on return. Request-scoped failures are reported
// to the peer as failure frames and do not end the session.
func (s *Session) Run(ctx context.Context) error {
	defer s.conn.Close()

	for {
		tables, err := s.receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Printf("engine: session %d: peer closed connection", s.id)
				return nil
			}
			// Protocol failures are fatal to the connection. Tell the peer
			// why, best-effort, then tear down this session only.
			log.Printf("engine: session %d: %v", s.id, err)
			s.sendFailure(err.Error())
			return err
		}

		result, reqErr := s.process(ctx, tables)
		if reqErr != nil {
			log.Printf("engine: session %d: request failed: %v", s.id, reqErr)
			if err := s.sendFailure(reqErr.Error()); err != nil {
				return err
			}
			continue
		}

		if err := s.send(result); err != nil {
			log.Printf("engine: session %d: failed to send response: %v", s.id, err)
			return err
		}
	}
}

// receive reads frames into a table map until the end-of-stream marker.
// Tables lacking name metadata are dropped with a log line, not an error.
// A clean close before the first frame returns io.EOF; a close mid-request
// is a protocol error.
func (s *Session) receive() (types.TableSet, error) {
	tables := make(types.TableSet)
	received := 0
	for {
		t, err := codec.ReadTable(s.conn)
		if errors.Is(err, codec.ErrEndOfStream) {
			return tables, nil
		}
		if errors.Is(err, io.EOF) {
			if received == 0 {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("engine: %w: connection closed mid-request after %d tables",
				types.ErrProtocol, received)
		}
		if err != nil {
			return nil, err
		}
		received++

		name := t.Name()
		if name == "" {
			log.Printf("engine: session %d: dropping table without %q metadata (%d columns, %d rows)",
				s.id, types.MetadataKeyName, t.NumColumns(), t.NumRows())
			continue
		}
		tables[name] = t
	}
}

// process assembles the LP problem and invokes the solver. Both steps fail
// at request scope only.
func (s *Session) process(ctx context.Context, tables types.TableSet) ([]*types.Table, error) {
	spec, err := assemble.SolverSpecFromTable(tables[assemble.TableSolver])
	if err != nil {
		return nil, err
	}

	problem, err := assemble.Assemble(tables)
	if err != nil {
		return nil, err
	}

	sv, err := s.factory(spec.Name, spec.Params)
	if err != nil {
		return nil, err
	}

	log.Printf("engine: session %d: solving %dx%d model (nnz=%d) with %s",
		s.id, problem.S.NumRows, problem.S.NumCols, problem.S.NNZ(), spec.Name)

	sol, err := sv.Solve(ctx, problem)
	if err != nil {
		return nil, fmt.Errorf("engine: %w: %v", types.ErrSolver, err)
	}
	return SuccessTables(problem.Rxns, sol), nil
}

// send writes the response tables followed by the end marker.
func (s *Session) send(tables []*types.Table) error {
	for _, t := range tables {
		if err := codec.WriteTable(s.conn, t); err != nil {
			return err
		}
	}
	return codec.WriteEndMarker(s.conn)
}

// sendFailure writes the single failure frame plus end marker. Write errors
// are returned so callers can distinguish "peer informed" from "peer gone".
func (s *Session) sendFailure(message string) error {
	if err := codec.WriteTable(s.conn, FailureTable(message)); err != nil {
		return err
	}
	return codec.WriteEndMarker(s.conn)
}
