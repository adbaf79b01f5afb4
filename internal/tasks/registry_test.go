package tasks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTask confirms cancellation after an optional delay.
type fakeTask struct {
	delay time.Duration

	once sync.Once
	done chan struct{}
}

func newFakeTask(delay time.Duration) *fakeTask {
	return &fakeTask{delay: delay, done: make(chan struct{})}
}

func (t *fakeTask) Cancel() {
	t.once.Do(func() {
		if t.delay == 0 {
			close(t.done)
			return
		}
		go func() {
			time.Sleep(t.delay)
			close(t.done)
		}()
	})
}

func (t *fakeTask) Done() <-chan struct{} { return t.done }

func TestRegisterAndUnregister(t *testing.T) {
	reg := NewRegistry(nil)

	idA := reg.Register(newFakeTask(0), PriorityHigh, "worker-a")
	idB := reg.Register(newFakeTask(0), PriorityHigh, "worker-b")
	require.NotEqual(t, idA, idB)
	assert.Equal(t, 2, reg.Len())

	reg.Unregister(idA)
	assert.Equal(t, 1, reg.Len())

	// Unknown and repeated ids are ignored.
	reg.Unregister(idA)
	reg.Unregister("no-such-id")
	assert.Equal(t, 1, reg.Len())
}

func TestByPriorityFiltersAndSorts(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(newFakeTask(0), PriorityLow, "zeta")
	reg.Register(newFakeTask(0), PriorityLow, "alpha")
	reg.Register(newFakeTask(0), PriorityCritical, "replicator")

	low := reg.ByPriority(PriorityLow)
	require.Len(t, low, 2)
	assert.Equal(t, "alpha", low[0].Name)
	assert.Equal(t, "zeta", low[1].Name)

	assert.Len(t, reg.ByPriority(PriorityCritical), 1)
	assert.Empty(t, reg.ByPriority(PriorityMedium))
}

func TestGoUnregistersOnReturn(t *testing.T) {
	reg := NewRegistry(nil)

	release := make(chan struct{})
	reg.Go(context.Background(), "short-lived", PriorityMedium, func(ctx context.Context) error {
		<-release
		return nil
	})
	require.Equal(t, 1, reg.Len())

	close(release)
	assert.Eventually(t, func() bool { return reg.Len() == 0 },
		time.Second, 5*time.Millisecond)
}

func TestGoTaskStopsOnCancel(t *testing.T) {
	reg := NewRegistry(nil)

	reg.Go(context.Background(), "looper", PriorityHigh, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	tier := reg.ByPriority(PriorityHigh)
	require.Len(t, tier, 1)

	tier[0].task.Cancel()
	select {
	case <-tier[0].task.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not stop after cancel")
	}
}

func TestPriorityString(t *testing.T) {
	assert.Equal(t, "CRITICAL", PriorityCritical.String())
	assert.Equal(t, "HIGH", PriorityHigh.String())
	assert.Equal(t, "MEDIUM", PriorityMedium.String())
	assert.Equal(t, "LOW", PriorityLow.String())
	assert.Equal(t, "UNKNOWN", Priority(42).String())
}
