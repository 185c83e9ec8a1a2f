package offline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/MrSnakeDoc/pinbook/internal/domain"
	"github.com/MrSnakeDoc/pinbook/internal/pinboard"
	"github.com/MrSnakeDoc/pinbook/internal/storage"
)

// recorder executes actions by URL and fails the ones listed in failing.
type recorder struct {
	mu      sync.Mutex
	order   []string
	failing map[string]error
}

func (r *recorder) Execute(_ context.Context, a domain.QueuedAction) error {
	var p domain.DeletePayload
	if err := a.Decode(&p); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, p.URL)
	return r.failing[p.URL]
}

func (r *recorder) executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = nil
}

func enqueue(t *testing.T, q *Queue, name string) Result {
	t.Helper()
	res, err := q.Enqueue(context.Background(), domain.ActionDelete, domain.DeletePayload{URL: name})
	assert.NilError(t, err)
	return res
}

func TestQueueOrderingAndDropAfterCeiling(t *testing.T) {
	monitor := NewMonitor(nil, nil)
	monitor.Set(false)

	rec := &recorder{failing: map[string]error{"B": errors.New("remote says no")}}
	var dropped []string
	q := NewQueue(storage.NewMemoryQueue(), rec, Options{
		Owner:        "alice",
		Connectivity: monitor,
		OnDropped: func(a domain.QueuedAction, err error) {
			dropped = append(dropped, a.ID)
		},
	})
	ctx := context.Background()

	a := enqueue(t, q, "A")
	b := enqueue(t, q, "B")
	enqueue(t, q, "C")
	assert.Check(t, !a.Done && a.Err == nil)
	assert.Check(t, is.Len(rec.executed(), 0), "nothing runs while offline")

	drained := make(chan Report, 1)
	monitor.Subscribe(func() {
		rep, _ := q.Drain(ctx)
		drained <- rep
	})
	monitor.Set(true)
	monitor.Wait()
	rep := <-drained

	assert.DeepEqual(t, rec.executed(), []string{"A", "B", "C"})
	assert.Check(t, is.Len(rep.Succeeded, 2))
	assert.Check(t, is.Len(rep.Failed, 1))
	assert.Equal(t, rep.Failed[0].Action.RetryCount, 1)

	for i := 2; i <= 3; i++ {
		rep, err := q.Drain(ctx)
		assert.NilError(t, err)
		assert.Check(t, is.Len(rep.Failed, 1))
		assert.Equal(t, rep.Failed[0].Action.RetryCount, i)
	}

	rep, err := q.Drain(ctx)
	assert.NilError(t, err)
	assert.Check(t, is.Len(rep.Dropped, 1))
	assert.Equal(t, rep.Dropped[0].Action.ID, b.Action.ID)
	assert.DeepEqual(t, dropped, []string{b.Action.ID})

	pending, err := q.Pending(ctx)
	assert.NilError(t, err)
	assert.Check(t, is.Len(pending, 0))

	// B ran four times in total, A and C once each.
	counts := map[string]int{}
	for _, name := range rec.executed() {
		counts[name]++
	}
	assert.DeepEqual(t, counts, map[string]int{"A": 1, "B": 4, "C": 1})
}

func TestEnqueueDrainsImmediatelyWhenOnline(t *testing.T) {
	rec := &recorder{failing: map[string]error{"bad": errors.New("rejected")}}
	var done []string
	q := NewQueue(storage.NewMemoryQueue(), rec, Options{
		Owner:  "alice",
		OnDone: func(_ context.Context, a domain.QueuedAction) { done = append(done, a.ID) },
	})

	ok := enqueue(t, q, "good")
	assert.Check(t, ok.Done)
	assert.NilError(t, ok.Err)
	assert.DeepEqual(t, done, []string{ok.Action.ID})

	bad := enqueue(t, q, "bad")
	assert.Check(t, !bad.Done)
	assert.ErrorContains(t, bad.Err, "rejected")

	pending, err := q.Pending(context.Background())
	assert.NilError(t, err)
	assert.Check(t, is.Len(pending, 1))

	assert.NilError(t, q.Remove(context.Background(), bad.Action.ID))
	assert.NilError(t, q.Remove(context.Background(), bad.Action.ID), "removing twice is not an error")
}

func TestDrainStopsOnOfflineWithoutCounting(t *testing.T) {
	rec := &recorder{failing: map[string]error{"A": &pinboard.Error{Kind: pinboard.KindOffline, Op: "posts/delete"}}}
	store := storage.NewMemoryQueue()
	monitor := NewMonitor(nil, nil)
	monitor.Set(false)
	q := NewQueue(store, rec, Options{Owner: "alice", Connectivity: monitor})

	enqueue(t, q, "A")
	enqueue(t, q, "B")
	monitor.Set(true)

	rep, err := q.Drain(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, rep.Remaining, 2)
	assert.DeepEqual(t, rec.executed(), []string{"A"})

	pending, err := q.Pending(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, pending[0].RetryCount, 0)
}

func TestDrainSkipsWhileOffline(t *testing.T) {
	rec := &recorder{}
	monitor := NewMonitor(nil, nil)
	monitor.Set(false)
	q := NewQueue(storage.NewMemoryQueue(), rec, Options{Owner: "alice", Connectivity: monitor})
	enqueue(t, q, "A")

	rep, err := q.Drain(context.Background())
	assert.NilError(t, err)
	assert.Check(t, rep.Skipped)
	assert.Check(t, is.Len(rec.executed(), 0))
}

func TestEnqueueRejectsUnknownType(t *testing.T) {
	q := NewQueue(storage.NewMemoryQueue(), &recorder{}, Options{})
	_, err := q.Enqueue(context.Background(), "rename", nil)
	assert.ErrorContains(t, err, "unknown action type")
}

func TestMonitorObserve(t *testing.T) {
	m := NewMonitor(nil, nil)
	fired := 0
	var mu sync.Mutex
	unsubscribe := m.Subscribe(func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	m.Observe(&pinboard.Error{Kind: pinboard.KindServer})
	assert.Check(t, m.Online(), "server errors prove connectivity")

	m.Observe(&pinboard.Error{Kind: pinboard.KindNetwork})
	assert.Check(t, !m.Online())

	m.Observe(nil)
	m.Observe(nil)
	m.Wait()
	assert.Check(t, m.Online())
	assert.Equal(t, fired, 1)

	unsubscribe()
	m.Set(false)
	m.Set(true)
	m.Wait()
	assert.Equal(t, fired, 1)
}

func TestMonitorProbe(t *testing.T) {
	fail := true
	m := NewMonitor(func(context.Context) error {
		if fail {
			return errors.New("dial tcp: connection refused")
		}
		return nil
	}, nil)

	assert.Check(t, m.Probe(context.Background()) != nil)
	assert.Check(t, !m.Online())

	fail = false
	assert.NilError(t, m.Probe(context.Background()))
	assert.Check(t, m.Online())
}
