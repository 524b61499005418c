package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// runRetention is how long finished runs stay queryable.
const runRetention = 24 * time.Hour

type localRun struct {
	run  Run
	done chan struct{}
}

// LocalRunner executes runs on goroutines of the current process. Each task type
// gets a weighted semaphore sized to its concurrency.
type LocalRunner struct {
	registry *Registry
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	sems    map[string]*semaphore.Weighted
	runs    map[string]*localRun
	stopped bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewLocalRunner(registry *Registry, log *zap.Logger) *LocalRunner {
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalRunner{
		registry: registry,
		log:      log.Named("tasks"),
		ctx:      ctx,
		cancel:   cancel,
		sems:     map[string]*semaphore.Weighted{},
		runs:     map[string]*localRun{},
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *LocalRunner) Trigger(ctx context.Context, task string, payload any) (string, error) {
	lr, err := r.enqueue(ctx, task, payload)
	if err != nil {
		return "", err
	}
	return lr.run.ID, nil
}

func (r *LocalRunner) TriggerAndWait(ctx context.Context, task string, payload any, out any) error {
	lr, err := r.enqueue(ctx, task, payload)
	if err != nil {
		return err
	}
	select {
	case <-lr.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	run, err := r.Run(ctx, lr.run.ID)
	if err != nil {
		return err
	}
	if run.Status != RunCompleted {
		return &RunError{Task: task, RunID: run.ID, Attempts: run.Attempts, Message: run.Error}
	}
	if out != nil && len(run.Output) > 0 {
		if err := json.Unmarshal(run.Output, out); err != nil {
			return fmt.Errorf("decode %s output: %w", task, err)
		}
	}
	return nil
}

func (r *LocalRunner) BatchTrigger(ctx context.Context, task string, payloads []any) ([]string, error) {
	if len(payloads) > MaxBatchTrigger {
		return nil, ErrTooManyPayloads
	}
	if _, err := r.registry.Get(task); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(payloads))
	for _, p := range payloads {
		id, err := r.Trigger(ctx, task, p)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *LocalRunner) Run(_ context.Context, id string) (*Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lr, ok := r.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	run := lr.run
	return &run, nil
}

// Shutdown stops accepting runs and waits for in-flight ones. When ctx expires
// first, running handlers are cancelled and awaited.
func (r *LocalRunner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.log.Warn("shutdown deadline reached, cancelling running tasks")
		r.cancel()
		<-done
		return ctx.Err()
	}
}

func (r *LocalRunner) enqueue(ctx context.Context, task string, payload any) (*localRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	def, err := r.registry.Get(task)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, Permanent(fmt.Errorf("encode %s payload: %w", task, err))
	}

	lr := &localRun{
		run:  Run{ID: uuid.NewString(), Task: task, Status: RunPending, CreatedAt: r.now()},
		done: make(chan struct{}),
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil, ErrRunnerStopped
	}
	r.pruneLocked()
	r.runs[lr.run.ID] = lr
	sem, ok := r.sems[task]
	if !ok {
		sem = semaphore.NewWeighted(int64(def.Concurrency))
		r.sems[task] = sem
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go r.execute(def, sem, lr, raw)
	return lr, nil
}

func (r *LocalRunner) execute(def Definition, sem *semaphore.Weighted, lr *localRun, payload json.RawMessage) {
	defer r.wg.Done()
	defer close(lr.done)

	log := r.log.With(zap.String("task", def.Name), zap.String("run", lr.run.ID))

	if err := sem.Acquire(r.ctx, 1); err != nil {
		r.finish(lr, RunCancelled, nil, err)
		return
	}
	defer sem.Release(1)

	started := r.now()
	r.update(lr, func(run *Run) {
		run.Status = RunRunning
		run.StartedAt = &started
	})

	maxAttempts := def.Retry.attempts()
	for attempt := 1; ; attempt++ {
		r.update(lr, func(run *Run) { run.Attempts = attempt })

		out, err := r.attempt(def, payload)
		if err == nil {
			raw, merr := json.Marshal(out)
			if merr != nil {
				r.finish(lr, RunFailed, nil, fmt.Errorf("encode output: %w", merr))
				return
			}
			r.finish(lr, RunCompleted, raw, nil)
			log.Debug("task completed", zap.Int("attempts", attempt))
			return
		}

		if !IsRetryable(err) || attempt >= maxAttempts || r.ctx.Err() != nil {
			r.finish(lr, RunFailed, nil, err)
			log.Warn("task failed", zap.Int("attempts", attempt), zap.Error(err))
			return
		}

		wait := def.Retry.Backoff(attempt)
		log.Info("task attempt failed, retrying", zap.Int("attempt", attempt), zap.Duration("backoff", wait), zap.Error(err))
		if err := r.sleep(r.ctx, wait); err != nil {
			r.finish(lr, RunCancelled, nil, err)
			return
		}
	}
}

func (r *LocalRunner) attempt(def Definition, payload json.RawMessage) (out any, err error) {
	ctx := r.ctx
	if def.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, def.Timeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			err = Permanent(fmt.Errorf("task %s panicked: %v", def.Name, p))
		}
	}()
	return def.Run(ctx, payload)
}

func (r *LocalRunner) update(lr *localRun, fn func(*Run)) {
	r.mu.Lock()
	fn(&lr.run)
	r.mu.Unlock()
}

func (r *LocalRunner) finish(lr *localRun, status RunStatus, output json.RawMessage, err error) {
	finished := r.now()
	r.update(lr, func(run *Run) {
		run.Status = status
		run.Output = output
		run.FinishedAt = &finished
		if err != nil {
			run.Error = err.Error()
		}
	})
}

func (r *LocalRunner) pruneLocked() {
	cutoff := r.now().Add(-runRetention)
	for id, lr := range r.runs {
		if lr.run.FinishedAt != nil && lr.run.FinishedAt.Before(cutoff) {
			delete(r.runs, id)
		}
	}
}
