// Package orchestration holds the background tasks of the expedition pipeline and
// the enqueue operations the API calls to start them.
package orchestration

import (
	"context"
	"time"

	"ExpeditionFlow/internal/carrier"
	"ExpeditionFlow/internal/config"
	"ExpeditionFlow/internal/records"
	"ExpeditionFlow/internal/storage"
	"ExpeditionFlow/internal/tasks"
	"ExpeditionFlow/internal/webhook"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	TaskGeneratePipeline = "awb.generate-pipeline"
	TaskFetchAWBData     = "awb.fetch-data"
	TaskLookupCounty     = "carrier.lookup-county"
	TaskLookupCity       = "carrier.lookup-city"
	TaskCreateLabel      = "carrier.create-label"
	TaskGeneratePV       = "documents.generate-pv"
	TaskGeneratePVBulk   = "documents.generate-pv-bulk"
	TaskSendLogistics    = "email.send-logistics"
	TaskRenameSigned     = "files.rename-signed"
	TaskReformatSigned   = "files.reformat-signed"
	TaskStatusUpdate     = "awb.status-update"
	TaskSendReminder     = "recipients.send-reminder"
)

// Carrier is the part of the carrier client the pipeline needs.
type Carrier interface {
	LookupCounty(ctx context.Context, name string) (int, error)
	LookupCity(ctx context.Context, name string, countyID int) (int, error)
	CreateLabel(ctx context.Context, req carrier.LabelRequest) (*carrier.Label, error)
}

type Webhooks interface {
	Post(ctx context.Context, name, url string, payload any) (*webhook.Response, error)
	GenerateDocument(ctx context.Context, name, url string, payload any) (webhook.GeneratedFile, error)
}

type Reporter interface {
	ReportFailures(ctx context.Context, subject string, total int, failures []string) error
}

type Service struct {
	repo       *records.Repository
	dispatcher tasks.Dispatcher
	carrier    Carrier
	hooks      Webhooks
	objects    storage.ObjectStore
	reporter   Reporter
	cfg        *config.Config
	log        *zap.Logger

	pipelines singleflight.Group
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewService(
	repo *records.Repository,
	dispatcher tasks.Dispatcher,
	carrierClient Carrier,
	hooks Webhooks,
	objects storage.ObjectStore,
	reporter Reporter,
	cfg *config.Config,
	log *zap.Logger,
) *Service {
	return &Service{
		repo:       repo,
		dispatcher: dispatcher,
		carrier:    carrierClient,
		hooks:      hooks,
		objects:    objects,
		reporter:   reporter,
		cfg:        cfg,
		log:        log.Named("orchestration"),
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

// Definitions lists every task with its default limits.
func (s *Service) Definitions() []tasks.Definition {
	retry3 := tasks.RetryPolicy{MaxAttempts: 3, MinBackoff: 2 * time.Second, MaxBackoff: time.Minute, Factor: 2, Jitter: true}
	once := tasks.RetryPolicy{MaxAttempts: 1}

	return []tasks.Definition{
		{Name: TaskGeneratePipeline, Concurrency: 10, Retry: once, Timeout: time.Hour, Run: s.runPipeline},
		{Name: TaskFetchAWBData, Concurrency: 10, Retry: retry3, Timeout: 2 * time.Minute, Run: s.runFetchAWBData},
		{Name: TaskLookupCounty, Concurrency: 10, Retry: retry3, Timeout: time.Minute, Run: s.runLookupCounty},
		{Name: TaskLookupCity, Concurrency: 10, Retry: retry3, Timeout: time.Minute, Run: s.runLookupCity},
		{Name: TaskCreateLabel, Concurrency: 5, Retry: retry3, Timeout: 2 * time.Minute, Run: s.runCreateLabel},
		{Name: TaskGeneratePV, Concurrency: 20, Retry: retry3, Timeout: 5 * time.Minute, Run: s.runGeneratePV},
		{Name: TaskGeneratePVBulk, Concurrency: 2, Retry: once, Timeout: 2 * time.Hour, Run: s.runGeneratePVBulk},
		{Name: TaskSendLogistics, Concurrency: 5, Retry: retry3, Timeout: 5 * time.Minute, Run: s.runSendLogistics},
		{Name: TaskRenameSigned, Concurrency: 1, Retry: once, Timeout: 6 * time.Hour, Run: s.runRenameSigned},
		{Name: TaskReformatSigned, Concurrency: 5, Retry: tasks.DefaultRetry(), Timeout: 5 * time.Minute, Run: s.runReformatSigned},
		{Name: TaskStatusUpdate, Concurrency: 5, Retry: tasks.DefaultRetry(), Timeout: 5 * time.Minute, Run: s.runStatusUpdate},
		{Name: TaskSendReminder, Concurrency: 5, Retry: tasks.DefaultRetry(), Timeout: 5 * time.Minute, Run: s.runSendReminder},
	}
}

// Register adds every task to the registry.
func (s *Service) Register(reg *tasks.Registry) error {
	for _, def := range s.Definitions() {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// postCallDelay is the pause a throttled task takes after its webhook call.
func (s *Service) postCallDelay(task string) time.Duration {
	if o, ok := s.cfg.Tasks.Overrides[task]; ok && o.PostCallDelay > 0 {
		return o.PostCallDelay
	}
	return s.cfg.Tasks.PostCallDelay
}
