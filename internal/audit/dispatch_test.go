package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSink counts deliveries, optionally failing each one.
type countingSink struct {
	mu    sync.Mutex
	count int
	fail  bool
}

func (s *countingSink) Emit(_ context.Context, _ *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	if s.fail {
		return errors.New("sink down")
	}
	return nil
}

func (s *countingSink) delivered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func TestDispatcherDeliversAsync(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(sink)

	for i := 0; i < 10; i++ {
		require.NoError(t, d.Emit(context.Background(), &Event{EventType: EventStepProposed}))
	}
	d.Close()

	assert.Eventually(t, func() bool { return sink.delivered() == 10 },
		2*time.Second, 10*time.Millisecond)
}

func TestDispatcherNeverSurfacesSinkFailure(t *testing.T) {
	sink := &countingSink{fail: true}
	d := NewDispatcher(sink)
	defer d.Close()

	// The caller sees nil even though every delivery fails.
	err := d.Emit(context.Background(), &Event{EventType: EventStepExecuted})
	assert.NoError(t, err)
}

func TestDispatcherCloseIsIdempotent(t *testing.T) {
	d := NewDispatcher(&countingSink{})
	d.Close()
	d.Close()
}
