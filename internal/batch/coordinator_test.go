package batch

import (
	"sync"
	"testing"
	"time"

	"github.com/hailostream/eventd/internal/log"
	"github.com/hailostream/eventd/internal/types"
	"github.com/stretchr/testify/require"
)

func TestCoordinatorInvokesEachCallbackExactlyOnce(t *testing.T) {
	c := NewCoordinator("nonexistent.hef", 2, 20*time.Millisecond, log.New(log.Critical))
	defer c.Stop()

	var mu sync.Mutex
	var calls []string
	done := make(chan struct{}, 2)

	cb := func(streamID string) func([]types.Detection) {
		return func(_ []types.Detection) {
			mu.Lock()
			calls = append(calls, streamID)
			mu.Unlock()
			done <- struct{}{}
		}
	}

	c.SubmitFrame("s1", []byte{1, 2, 3}, 1, 1, 0.5, cb("s1"))
	c.SubmitFrame("s2", []byte{1, 2, 3}, 1, 1, 0.5, cb("s2"))

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for batch callback")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 2)
	require.ElementsMatch(t, []string{"s1", "s2"}, calls)
	require.Equal(t, 2.0, c.AverageBatchFill())
}

func TestCoordinatorRunsUnderfullBatchAfterDeadline(t *testing.T) {
	c := NewCoordinator("nonexistent.hef", 5, 20*time.Millisecond, log.New(log.Critical))
	defer c.Stop()

	done := make(chan struct{}, 1)
	c.SubmitFrame("solo", []byte{1}, 1, 1, 0.5, func(_ []types.Detection) {
		done <- struct{}{}
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("underfull batch never ran after deadline")
	}
}

func TestStopDrainsQueue(t *testing.T) {
	c := NewCoordinator("nonexistent.hef", 10, time.Hour, log.New(log.Critical))
	done := make(chan struct{}, 1)
	c.SubmitFrame("s1", []byte{1}, 1, 1, 0.5, func(_ []types.Detection) { done <- struct{}{} })
	c.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not drain pending frame")
	}
}
