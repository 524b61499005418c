package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	// WorkflowName is the single workflow type that wraps every task.
	WorkflowName = "RunTask"

	defaultActivityTimeout = 10 * time.Minute
)

// TaskInput is the workflow argument. The retry policy travels with the input so
// the workflow stays deterministic when definitions change between deployments.
type TaskInput struct {
	Task      string          `json:"task"`
	TaskQueue string          `json:"taskQueue"`
	Payload   json.RawMessage `json:"payload"`
	Timeout   time.Duration   `json:"timeout"`
	Retry     RetryPolicy     `json:"retry"`
}

// RunTaskWorkflow executes the task as one activity on the task's own queue.
func RunTaskWorkflow(ctx workflow.Context, in TaskInput) (json.RawMessage, error) {
	timeout := in.Timeout
	if timeout <= 0 {
		timeout = defaultActivityTimeout
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		TaskQueue:           in.TaskQueue,
		StartToCloseTimeout: timeout,
		RetryPolicy:         temporalRetry(in.Retry),
	})

	var out json.RawMessage
	if err := workflow.ExecuteActivity(ctx, in.Task, in.Payload).Get(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func temporalRetry(p RetryPolicy) *temporal.RetryPolicy {
	initial := p.MinBackoff
	if initial <= 0 {
		initial = time.Second
	}
	coefficient := p.Factor
	if coefficient < 1 {
		coefficient = 1
	}
	return &temporal.RetryPolicy{
		InitialInterval:    initial,
		BackoffCoefficient: coefficient,
		MaximumInterval:    p.MaxBackoff,
		MaximumAttempts:    int32(p.attempts()),
	}
}

// activityFor adapts a handler to a Temporal activity. Permanent errors become
// non-retryable application errors.
func activityFor(def Definition) func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	return func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		out, err := def.Run(ctx, payload)
		if err != nil {
			if !IsRetryable(err) {
				return nil, temporal.NewNonRetryableApplicationError(err.Error(), "Permanent", err)
			}
			return nil, err
		}
		raw, err := json.Marshal(out)
		if err != nil {
			return nil, temporal.NewNonRetryableApplicationError("encode output", "Permanent", err)
		}
		return raw, nil
	}
}

// TemporalRunner dispatches runs as Temporal workflows. Each task type is served
// by its own worker whose activity slots equal the task concurrency.
type TemporalRunner struct {
	client   client.Client
	registry *Registry
	queue    string
	workers  []worker.Worker
	log      *zap.Logger
}

func NewTemporalRunner(c client.Client, registry *Registry, queue string, log *zap.Logger) *TemporalRunner {
	return &TemporalRunner{client: c, registry: registry, queue: queue, log: log.Named("temporal")}
}

func (r *TemporalRunner) taskQueue(task string) string {
	return r.queue + "." + task
}

// Start launches the workflow worker and one activity worker per task type.
func (r *TemporalRunner) Start() error {
	wf := worker.New(r.client, r.queue, worker.Options{})
	wf.RegisterWorkflowWithOptions(RunTaskWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	r.workers = append(r.workers, wf)

	for _, def := range r.registry.Definitions() {
		w := worker.New(r.client, r.taskQueue(def.Name), worker.Options{
			MaxConcurrentActivityExecutionSize: def.Concurrency,
		})
		w.RegisterActivityWithOptions(activityFor(def), activity.RegisterOptions{Name: def.Name})
		r.workers = append(r.workers, w)
	}

	for i, w := range r.workers {
		if err := w.Start(); err != nil {
			for _, started := range r.workers[:i] {
				started.Stop()
			}
			return fmt.Errorf("start temporal worker: %w", err)
		}
	}
	r.log.Info("temporal workers started", zap.Int("workers", len(r.workers)), zap.String("queue", r.queue))
	return nil
}

func (r *TemporalRunner) Stop() {
	for _, w := range r.workers {
		w.Stop()
	}
	r.workers = nil
}

func (r *TemporalRunner) start(ctx context.Context, task string, payload any) (client.WorkflowRun, error) {
	def, err := r.registry.Get(task)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, Permanent(fmt.Errorf("encode %s payload: %w", task, err))
	}
	in := TaskInput{
		Task:      task,
		TaskQueue: r.taskQueue(task),
		Payload:   raw,
		Timeout:   def.Timeout,
		Retry:     def.Retry,
	}
	opts := client.StartWorkflowOptions{
		ID:        task + "-" + uuid.NewString(),
		TaskQueue: r.queue,
	}
	run, err := r.client.ExecuteWorkflow(ctx, opts, WorkflowName, in)
	if err != nil {
		return nil, fmt.Errorf("start %s workflow: %w", task, err)
	}
	return run, nil
}

func (r *TemporalRunner) Trigger(ctx context.Context, task string, payload any) (string, error) {
	run, err := r.start(ctx, task, payload)
	if err != nil {
		return "", err
	}
	return run.GetID(), nil
}

func (r *TemporalRunner) TriggerAndWait(ctx context.Context, task string, payload any, out any) error {
	run, err := r.start(ctx, task, payload)
	if err != nil {
		return err
	}
	var raw json.RawMessage
	if err := run.Get(ctx, &raw); err != nil {
		return &RunError{Task: task, RunID: run.GetID(), Attempts: 0, Message: rootMessage(err)}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s output: %w", task, err)
		}
	}
	return nil
}

func (r *TemporalRunner) BatchTrigger(ctx context.Context, task string, payloads []any) ([]string, error) {
	if len(payloads) > MaxBatchTrigger {
		return nil, ErrTooManyPayloads
	}
	ids := make([]string, 0, len(payloads))
	var errs error
	for _, p := range payloads {
		id, err := r.Trigger(ctx, task, p)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		ids = append(ids, id)
	}
	return ids, errs
}

func (r *TemporalRunner) Run(ctx context.Context, id string) (*Run, error) {
	desc, err := r.client.DescribeWorkflowExecution(ctx, id, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRunNotFound, id, err)
	}
	info := desc.GetWorkflowExecutionInfo()
	run := &Run{ID: id, Task: taskFromWorkflowID(id), CreatedAt: info.GetStartTime().AsTime()}
	if info.GetCloseTime() != nil {
		closed := info.GetCloseTime().AsTime()
		run.FinishedAt = &closed
	}

	switch info.GetStatus() {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING:
		run.Status = RunRunning
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		run.Status = RunCompleted
		var raw json.RawMessage
		if err := r.client.GetWorkflow(ctx, id, "").Get(ctx, &raw); err == nil {
			run.Output = raw
		}
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED, enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED:
		run.Status = RunCancelled
	default:
		run.Status = RunFailed
		if err := r.client.GetWorkflow(ctx, id, "").Get(ctx, nil); err != nil {
			run.Error = rootMessage(err)
		}
	}
	return run, nil
}

// taskFromWorkflowID reverses the "<task>-<uuid>" workflow id scheme.
func taskFromWorkflowID(id string) string {
	const suffix = 37 // "-" + canonical uuid
	if len(id) <= suffix {
		return ""
	}
	return id[:len(id)-suffix]
}

// rootMessage strips the workflow and activity wrappers from a Temporal error.
func rootMessage(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Error()
	}
	return err.Error()
}
