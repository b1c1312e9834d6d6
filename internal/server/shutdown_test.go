package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClosersRunInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{})

	var order []string
	sm.RegisterCloser(CloserFunc(func() error { order = append(order, "store"); return nil }))
	sm.RegisterCloser(CloserFunc(func() error { order = append(order, "server"); return nil }))

	require.NoError(t, sm.Shutdown(context.Background(), "test"))
	assert.Equal(t, []string{"server", "store"}, order)
}

func TestShutdownReturnsFirstCloserError(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{})
	sm.RegisterCloser(CloserFunc(func() error { return assert.AnError }))
	sm.RegisterCloser(CloserFunc(func() error { return nil }))

	err := sm.Shutdown(context.Background(), "test")
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestDrainWaitsForInFlight(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{DrainTimeout: 2 * time.Second})
	require.True(t, sm.TrackRequest())

	released := make(chan struct{})
	go func() {
		time.Sleep(150 * time.Millisecond)
		sm.UntrackRequest()
		close(released)
	}()

	require.NoError(t, sm.Shutdown(context.Background(), "test"))
	select {
	case <-released:
	default:
		t.Fatal("shutdown returned before the in-flight request finished")
	}
}

func TestDrainTimesOut(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{DrainTimeout: 100 * time.Millisecond})
	require.True(t, sm.TrackRequest()) // never untracked

	err := sm.Shutdown(context.Background(), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in-flight")
}

func TestTrackRequestRejectsAfterShutdownBegins(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{})
	require.True(t, sm.TrackRequest())
	sm.UntrackRequest()

	sm.Trigger()
	assert.False(t, sm.TrackRequest())
	assert.True(t, sm.IsShuttingDown())
}

func TestTriggerUnblocksListener(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{})

	done := make(chan error, 1)
	go func() {
		done <- sm.ListenForSignals(context.Background())
	}()

	sm.Trigger()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ListenForSignals did not return after Trigger")
	}
}

func TestListenerHonorsContextCancel(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- sm.ListenForSignals(ctx)
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ListenForSignals did not return after cancellation")
	}
}

func TestShutdownMiddleware(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{})
	handler := ShutdownMiddleware(sm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	sm.Trigger()
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "close", rec.Header().Get("Connection"))
}
