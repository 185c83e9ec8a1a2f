// Package offline keeps mutations durable while Pinboard is unreachable and
// replays them, in order, once it is back.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/pinbook/internal/domain"
	"github.com/MrSnakeDoc/pinbook/internal/logger"
	"github.com/MrSnakeDoc/pinbook/internal/pinboard"
	"github.com/MrSnakeDoc/pinbook/internal/storage"
)

// DefaultMaxRetries is the retry ceiling: an action failing once more than
// this is dropped.
const DefaultMaxRetries = 3

// Executor replays one queued action against the remote.
type Executor interface {
	Execute(ctx context.Context, a domain.QueuedAction) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, a domain.QueuedAction) error

func (f ExecutorFunc) Execute(ctx context.Context, a domain.QueuedAction) error { return f(ctx, a) }

// Connectivity is satisfied by *Monitor.
type Connectivity interface {
	Online() bool
}

type Options struct {
	Owner        string // credential hash, scopes the persisted rows
	MaxRetries   int
	Connectivity Connectivity
	Logger       logger.Logger
	Now          func() time.Time
	// OnDone is told about every action that went through.
	OnDone func(ctx context.Context, a domain.QueuedAction)
	// OnDropped is told about every action abandoned after the ceiling.
	OnDropped func(a domain.QueuedAction, err error)
}

// Failure is an action that did not go through during a drain.
type Failure struct {
	Action domain.QueuedAction
	Err    error
}

// Report summarises one drain.
type Report struct {
	Succeeded []domain.QueuedAction
	Failed    []Failure // still queued, retry counter incremented
	Dropped   []Failure // removed after exceeding the ceiling
	Skipped   bool      // offline, nothing attempted
	Remaining int
}

func (r Report) outcome(id string) (done, found bool, err error) {
	for _, a := range r.Succeeded {
		if a.ID == id {
			return true, true, nil
		}
	}
	for _, f := range append(r.Failed, r.Dropped...) {
		if f.Action.ID == id {
			return false, true, f.Err
		}
	}
	return false, false, nil
}

// Result is what Enqueue knows about the action it just stored.
type Result struct {
	Action domain.QueuedAction
	// Done is set when the opportunistic drain executed the action.
	Done bool
	// Err is the execution error when the drain attempted it and failed.
	Err error
}

// Queue is the offline mutation queue of one credential.
type Queue struct {
	store      storage.QueueStore
	exec       Executor
	owner      string
	maxRetries int
	conn       Connectivity
	log        logger.Logger
	now        func() time.Time
	onDone     func(context.Context, domain.QueuedAction)
	onDropped  func(domain.QueuedAction, error)

	drainMu sync.Mutex
}

func NewQueue(store storage.QueueStore, exec Executor, opts Options) *Queue {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Queue{
		store:      store,
		exec:       exec,
		owner:      opts.Owner,
		maxRetries: opts.MaxRetries,
		conn:       opts.Connectivity,
		log:        opts.Logger,
		now:        opts.Now,
		onDone:     opts.OnDone,
		onDropped:  opts.OnDropped,
	}
}

func (q *Queue) online() bool {
	return q.conn == nil || q.conn.Online()
}

// Enqueue persists the action, then drains the queue right away when online.
func (q *Queue) Enqueue(ctx context.Context, typ domain.ActionType, payload any) (Result, error) {
	if !typ.Valid() {
		return Result{}, fmt.Errorf("unknown action type %q", typ)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	a := domain.QueuedAction{
		ID:        uuid.NewString(),
		Type:      typ,
		Payload:   raw,
		CreatedAt: q.now().UTC(),
	}
	if err := q.store.Append(ctx, q.owner, a); err != nil {
		return Result{}, fmt.Errorf("enqueue %s: %w", typ, err)
	}
	q.log.Debug("action queued", logger.String("id", a.ID), logger.String("type", string(typ)))

	res := Result{Action: a}
	if !q.online() {
		return res, nil
	}
	rep, err := q.Drain(ctx)
	if err != nil {
		return res, nil
	}
	if done, found, execErr := rep.outcome(a.ID); found {
		res.Done, res.Err = done, execErr
	}
	return res, nil
}

// Drain replays queued actions strictly in order. A failure does not stop
// the drain: the action's retry counter is incremented and later actions
// still run. An offline error stops it without counting.
func (q *Queue) Drain(ctx context.Context) (Report, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	if !q.online() {
		return Report{Skipped: true}, nil
	}

	actions, err := q.store.List(ctx, q.owner)
	if err != nil {
		return Report{}, fmt.Errorf("list queue: %w", err)
	}

	var rep Report
	for i, a := range actions {
		if ctx.Err() != nil {
			rep.Remaining = len(actions) - i
			return rep, ctx.Err()
		}

		execErr := q.exec.Execute(ctx, a)
		if execErr == nil {
			if err := q.store.Remove(ctx, a.ID); err != nil && !errors.Is(err, storage.ErrNotQueued) {
				q.log.Error("failed to remove drained action", logger.String("id", a.ID), logger.Error(err))
			}
			rep.Succeeded = append(rep.Succeeded, a)
			if q.onDone != nil {
				q.onDone(ctx, a)
			}
			continue
		}

		if errors.Is(execErr, pinboard.ErrOffline) {
			rep.Failed = append(rep.Failed, Failure{Action: a, Err: execErr})
			rep.Remaining = len(actions) - i
			q.log.Info("connectivity lost during drain", logger.Int("remaining", rep.Remaining))
			return rep, nil
		}

		a.RetryCount++
		if a.RetryCount > q.maxRetries {
			if err := q.store.Remove(ctx, a.ID); err != nil && !errors.Is(err, storage.ErrNotQueued) {
				q.log.Error("failed to drop action", logger.String("id", a.ID), logger.Error(err))
			}
			rep.Dropped = append(rep.Dropped, Failure{Action: a, Err: execErr})
			q.log.Warn("queued action dropped after retries",
				logger.String("id", a.ID),
				logger.String("type", string(a.Type)),
				logger.Int("retries", a.RetryCount-1),
				logger.Error(execErr))
			if q.onDropped != nil {
				q.onDropped(a, execErr)
			}
			continue
		}

		if err := q.store.UpdateRetry(ctx, a.ID, a.RetryCount); err != nil && !errors.Is(err, storage.ErrNotQueued) {
			q.log.Error("failed to update retry counter", logger.String("id", a.ID), logger.Error(err))
		}
		rep.Failed = append(rep.Failed, Failure{Action: a, Err: execErr})
		rep.Remaining++
		q.log.Debug("queued action failed",
			logger.String("id", a.ID),
			logger.Int("retry_count", a.RetryCount),
			logger.Error(execErr))
	}

	if n := len(rep.Succeeded) + len(rep.Failed) + len(rep.Dropped); n > 0 {
		q.log.Info("offline queue drained",
			logger.Int("succeeded", len(rep.Succeeded)),
			logger.Int("failed", len(rep.Failed)),
			logger.Int("dropped", len(rep.Dropped)))
	}
	return rep, nil
}

// Pending lists the queued actions in replay order.
func (q *Queue) Pending(ctx context.Context) ([]domain.QueuedAction, error) {
	return q.store.List(ctx, q.owner)
}

// Remove deletes an action, e.g. after the caller rolled back its effect.
func (q *Queue) Remove(ctx context.Context, id string) error {
	err := q.store.Remove(ctx, id)
	if errors.Is(err, storage.ErrNotQueued) {
		return nil
	}
	return err
}
