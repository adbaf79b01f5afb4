package tasks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/timeout"
)

// orderedTask records the tier it was cancelled under.
type orderedTask struct {
	*fakeTask
	priority Priority
	log      *cancelLog
}

type cancelLog struct {
	mu    sync.Mutex
	tiers []Priority
}

func (l *cancelLog) record(p Priority) {
	l.mu.Lock()
	l.tiers = append(l.tiers, p)
	l.mu.Unlock()
}

func (t *orderedTask) Cancel() {
	t.log.record(t.priority)
	t.fakeTask.Cancel()
}

// stuckTask accepts the cancel request but never confirms it.
type stuckTask struct {
	done chan struct{}
}

func (t *stuckTask) Cancel()               {}
func (t *stuckTask) Done() <-chan struct{} { return t.done }

func TestCancelAllRunsTiersInOrder(t *testing.T) {
	reg := NewRegistry(nil)
	log := &cancelLog{}

	for _, p := range []Priority{PriorityLow, PriorityCritical, PriorityMedium, PriorityHigh} {
		reg.Register(&orderedTask{fakeTask: newFakeTask(0), priority: p, log: log},
			p, "task-"+p.String())
	}

	c := NewCanceller(reg, DefaultCancelConfig(), nil, nil)
	errs := c.CancelAll(context.Background())
	require.Empty(t, errs)
	assert.Equal(t, 0, reg.Len())

	require.Len(t, log.tiers, 4)
	assert.Equal(t, []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}, log.tiers)
}

func TestCancelAllBatches(t *testing.T) {
	reg := NewRegistry(nil)
	for i := 0; i < 5; i++ {
		reg.Register(newFakeTask(0), PriorityMedium, "worker")
	}

	cfg := DefaultCancelConfig()
	cfg.BatchSize = 2

	c := NewCanceller(reg, cfg, nil, nil)
	errs := c.CancelAll(context.Background())
	assert.Empty(t, errs)
	assert.Equal(t, 0, reg.Len())
}

func TestCancelAllReportsTierTimeout(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(newFakeTask(0), PriorityHigh, "prompt")
	id := reg.Register(&stuckTask{done: make(chan struct{})}, PriorityHigh, "stuck")
	reg.Register(newFakeTask(0), PriorityLow, "later")

	cfg := DefaultCancelConfig()
	cfg.TierTimeouts[PriorityHigh] = 30 * time.Millisecond

	c := NewCanceller(reg, cfg, nil, nil)
	errs := c.CancelAll(context.Background())

	require.Len(t, errs, 1)
	var batchErr *BatchTimeoutError
	require.ErrorAs(t, errs[0], &batchErr)
	assert.Equal(t, PriorityHigh, batchErr.Priority)
	assert.Equal(t, []string{"stuck"}, batchErr.Names)

	// The LOW tier still ran despite the HIGH tier timing out.
	assert.Empty(t, reg.ByPriority(PriorityLow))
	// The stuck task stays registered.
	require.Len(t, reg.ByPriority(PriorityHigh), 1)
	assert.Equal(t, id, reg.ByPriority(PriorityHigh)[0].ID)
}

func TestCancelAllGivesEachBatchAFreshDeadline(t *testing.T) {
	reg := NewRegistry(nil)
	// Names sort the stuck task into the first batch.
	stuckID := reg.Register(&stuckTask{done: make(chan struct{})}, PriorityHigh, "a-stuck")
	reg.Register(newFakeTask(10*time.Millisecond), PriorityHigh, "b-good")

	cfg := DefaultCancelConfig()
	cfg.BatchSize = 1
	cfg.TierTimeouts[PriorityHigh] = 50 * time.Millisecond

	c := NewCanceller(reg, cfg, nil, nil)
	errs := c.CancelAll(context.Background())

	// Only the stuck batch times out. The cooperative task in the next
	// batch gets its own budget and cancels cleanly.
	require.Len(t, errs, 1)
	var batchErr *BatchTimeoutError
	require.ErrorAs(t, errs[0], &batchErr)
	assert.Equal(t, []string{"a-stuck"}, batchErr.Names)

	remaining := reg.ByPriority(PriorityHigh)
	require.Len(t, remaining, 1)
	assert.Equal(t, stuckID, remaining[0].ID)
}

func TestCancelAllFeedsEstimator(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(newFakeTask(0), PriorityMedium, "indexer")

	est := timeout.NewEstimator(time.Millisecond, time.Second, 10)
	c := NewCanceller(reg, DefaultCancelConfig(), est, nil)

	require.Empty(t, c.CancelAll(context.Background()))
	assert.Equal(t, 1, est.SampleCount("cancel:indexer"))
}

func TestCancelAllEmptyRegistry(t *testing.T) {
	c := NewCanceller(NewRegistry(nil), DefaultCancelConfig(), nil, nil)
	assert.Empty(t, c.CancelAll(context.Background()))
}
