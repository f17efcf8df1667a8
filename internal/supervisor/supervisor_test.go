package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/uho-indexer/uho/internal/fanout"
	"github.com/uho-indexer/uho/internal/webhook"
)

func newTestSupervisor() *Supervisor {
	bus := fanout.New()
	return New(nil, nil, nil, bus, webhook.NewDispatcher(nil, true), nil, 0)
}

func TestAcquireReleaseWatchSharesOneWatcherPerProgram(t *testing.T) {
	s := newTestSupervisor()

	s.mu.Lock()
	s.acquireWatchLocked("progA")
	s.acquireWatchLocked("progA")
	assert.Equal(t, 2, s.watches["progA"].refCount)
	s.mu.Unlock()

	s.mu.Lock()
	s.releaseWatchLocked("progA")
	_, stillTracked := s.watches["progA"]
	assert.True(t, stillTracked, "watcher should survive while refCount > 0")
	s.mu.Unlock()

	s.mu.Lock()
	s.releaseWatchLocked("progA")
	_, tracked := s.watches["progA"]
	assert.False(t, tracked, "watcher should be torn down once refCount reaches 0")
	s.mu.Unlock()
}

func TestShutdownWithNoPipelinesReturnsImmediately(t *testing.T) {
	s := newTestSupervisor()
	done := make(chan struct{})
	go func() {
		s.Shutdown(time.Second)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return for an empty pipeline set")
	}
}
