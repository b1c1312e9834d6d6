package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxbridge/fluxbridge/internal/engine/solver"
)

// Server accepts connections and spawns one session goroutine per accepted
// connection. Sessions are fully independent; a failure in one never affects
// another.
type Server struct {
	addr    string
	factory solver.Factory

	mu       sync.Mutex
	listener net.Listener
	conns    map[uint64]net.Conn
	wg       sync.WaitGroup
	nextID   uint64
	closed   bool
}

// NewServer creates an engine server. A nil factory defaults to the package
// solver registry.
func NewServer(addr string, factory solver.Factory) *Server {
	if factory == nil {
		factory = solver.New
	}
	return &Server{addr: addr, factory: factory, conns: make(map[uint64]net.Conn)}
}

// Start begins listening and accepting connections in the background.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("engine: failed to listen on %s: %w", s.addr, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		listener.Close()
		return fmt.Errorf("engine: server already closed")
	}
	s.listener = listener
	s.mu.Unlock()

	log.Printf("engine: listening on %s", listener.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ctx, listener)
	}()
	return nil
}

// Addr returns the bound listener address, useful when the configured
// address had port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) {
	var retryDelay time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			// Transient failures such as running out of descriptors must not
			// kill the accept loop while the process lives on.
			if retryDelay == 0 {
				retryDelay = 5 * time.Millisecond
			} else {
				retryDelay *= 2
			}
			if retryDelay > time.Second {
				retryDelay = time.Second
			}
			log.Printf("engine: accept failed, retrying in %v: %v", retryDelay, err)
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return
			}
			continue
		}
		retryDelay = 0

		id := atomic.AddUint64(&s.nextID, 1)
		log.Printf("engine: session %d: accepted connection from %s", id, conn.RemoteAddr())

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[id] = conn
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, id)
				s.mu.Unlock()
			}()
			// No error or panic may take down the engine process; sessions
			// fail alone.
			defer func() {
				if r := recover(); r != nil {
					log.Printf("engine: session %d: recovered from panic: %v", id, r)
					conn.Close()
				}
			}()
			if err := NewSession(id, conn, s.factory).Run(ctx); err != nil {
				log.Printf("engine: session %d: terminated: %v", id, err)
			}
		}()
	}
}

// Close stops accepting connections and waits for active sessions to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listener := s.listener
	conns := make([]net.Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()
	return err
}
