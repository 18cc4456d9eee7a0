package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"castline/internal/logging"
	"castline/internal/services"
)

var (
	// ErrJobNotFound is returned for unknown or forgotten job ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrRunnerStopped is returned when submitting to a stopped runner, and is
	// the error of jobs still queued when the runner stops.
	ErrRunnerStopped = errors.New("job runner stopped")
)

// State is a job lifecycle state.
type State string

const (
	StateQueued  State = "queued"
	StateRunning State = "running"
	StateSuccess State = "success"
	StateError   State = "error"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateError
}

// Progress lets an operation publish a free-text progress label.
type Progress func(label string)

// Op is one unit of work executed by the runner.
type Op func(ctx context.Context, progress Progress) (any, error)

// Job is a snapshot of a submitted operation. Result is kept when the op
// fails, so partial work stays visible.
type Job struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Label       string     `json:"label"`
	UnitID      int64      `json:"unit_id,omitempty"`
	State       State      `json:"state"`
	Progress    string     `json:"progress,omitempty"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

type entry struct {
	job  Job
	op   Op
	err  error
	done chan struct{}
}

// Runner executes submitted jobs one at a time in FIFO order.
type Runner struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*entry
	jobs    map[string]*entry
	order   []string
	history int
	stopped bool
	exited  chan struct{}
	logger  *slog.Logger
}

// NewRunner starts a runner that remembers at most history finished jobs.
func NewRunner(logger *slog.Logger, history int) *Runner {
	if history <= 0 {
		history = 200
	}
	r := &Runner{
		jobs:    make(map[string]*entry),
		history: history,
		exited:  make(chan struct{}),
		logger:  logging.NewComponentLogger(logger, "jobs"),
	}
	r.cond = sync.NewCond(&r.mu)
	go r.loop()
	return r
}

// Submit enqueues op and returns its job id immediately.
func (r *Runner) Submit(kind, label string, unitID int64, op Op) (string, error) {
	if op == nil {
		return "", errors.New("job operation is nil")
	}
	e := &entry{
		job: Job{
			ID:          uuid.NewString(),
			Kind:        kind,
			Label:       label,
			UnitID:      unitID,
			State:       StateQueued,
			SubmittedAt: time.Now().UTC(),
		},
		op:   op,
		done: make(chan struct{}),
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return "", ErrRunnerStopped
	}
	r.queue = append(r.queue, e)
	r.jobs[e.job.ID] = e
	r.order = append(r.order, e.job.ID)
	depth := len(r.queue)
	r.cond.Signal()
	r.mu.Unlock()

	r.logger.Debug("job queued",
		logging.String(logging.FieldJobID, e.job.ID),
		logging.String("kind", kind),
		logging.String("label", label),
		logging.Int("queue_depth", depth),
	)
	return e.job.ID, nil
}

// Wait blocks until the job finishes or ctx ends. The returned error is the
// operation's own error, so callers can inspect it with errors.As.
func (r *Runner) Wait(ctx context.Context, id string) (Job, error) {
	r.mu.Lock()
	e, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	select {
	case <-e.done:
	case <-ctx.Done():
		return r.snapshot(e), ctx.Err()
	}
	return r.snapshot(e), e.err
}

// Do submits op and waits for it to finish.
func (r *Runner) Do(ctx context.Context, kind, label string, unitID int64, op Op) (Job, error) {
	id, err := r.Submit(kind, label, unitID, op)
	if err != nil {
		return Job{}, err
	}
	return r.Wait(ctx, id)
}

// Get returns a snapshot of one job.
func (r *Runner) Get(id string) (Job, error) {
	r.mu.Lock()
	e, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return r.snapshot(e), nil
}

// List returns every remembered job in submission order.
func (r *Runner) List() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Job, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.jobs[id].job)
	}
	return out
}

// Pending returns the number of queued jobs.
func (r *Runner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Stop fails queued jobs, waits for the running job to finish, and stops the
// worker. It is safe to call more than once.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.stopped {
		r.stopped = true
		r.cond.Broadcast()
	}
	r.mu.Unlock()
	<-r.exited
}

func (r *Runner) snapshot(e *entry) Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return e.job
}

func (r *Runner) loop() {
	defer close(r.exited)
	for {
		r.mu.Lock()
		for len(r.queue) == 0 && !r.stopped {
			r.cond.Wait()
		}
		if r.stopped {
			abandoned := r.queue
			r.queue = nil
			for _, e := range abandoned {
				r.finishLocked(e, nil, ErrRunnerStopped)
			}
			r.mu.Unlock()
			return
		}
		e := r.queue[0]
		r.queue[0] = nil
		r.queue = r.queue[1:]
		now := time.Now().UTC()
		e.job.State = StateRunning
		e.job.StartedAt = &now
		r.mu.Unlock()

		result, err := r.execute(e)

		r.mu.Lock()
		r.finishLocked(e, result, err)
		r.pruneLocked()
		r.mu.Unlock()
	}
}

func (r *Runner) execute(e *entry) (result any, err error) {
	ctx := services.WithJobID(context.Background(), e.job.ID)
	logger := logging.WithContext(ctx, r.logger)
	started := time.Now()
	logger.Info("job started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.String("kind", e.job.Kind),
		logging.String("label", e.job.Label),
	)
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job panicked: %v", rec)
			logging.ErrorWithContext(logger, "job panicked", "job_panic",
				logging.Any("panic", rec),
				logging.String("stack", string(debug.Stack())),
				logging.String(logging.FieldErrorHint, "this is a bug; report it with the stack trace"),
			)
		}
		if err != nil {
			logger.Warn("job failed",
				logging.String(logging.FieldEventType, "job_error"),
				logging.String(logging.FieldErrorHint, "inspect the job error and the unit log"),
				logging.String(logging.FieldImpact, "the operation did not complete"),
				logging.Error(err),
				logging.Duration("duration", time.Since(started)),
			)
			return
		}
		logger.Info("job finished",
			logging.String(logging.FieldEventType, "job_finish"),
			logging.Duration("duration", time.Since(started)),
		)
	}()
	progress := func(label string) {
		r.mu.Lock()
		e.job.Progress = label
		r.mu.Unlock()
	}
	return e.op(ctx, progress)
}

func (r *Runner) finishLocked(e *entry, result any, err error) {
	now := time.Now().UTC()
	e.job.FinishedAt = &now
	e.err = err
	e.job.Result = result
	e.job.State = StateSuccess
	if err != nil {
		e.job.State = StateError
		e.job.Error = err.Error()
	}
	close(e.done)
}

// pruneLocked forgets the oldest finished jobs beyond the history limit.
func (r *Runner) pruneLocked() {
	finished := 0
	for _, id := range r.order {
		if r.jobs[id].job.State.Terminal() {
			finished++
		}
	}
	if finished <= r.history {
		return
	}
	excess := finished - r.history
	kept := r.order[:0]
	for _, id := range r.order {
		if excess > 0 && r.jobs[id].job.State.Terminal() {
			delete(r.jobs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}
