package pkg

import (
	"context"
	"fmt"

	"ExpeditionFlow/internal/carrier"
	"ExpeditionFlow/internal/config"
	"ExpeditionFlow/internal/events"
	"ExpeditionFlow/internal/notification"
	"ExpeditionFlow/internal/orchestration"
	"ExpeditionFlow/internal/records"
	"ExpeditionFlow/internal/storage"
	"ExpeditionFlow/internal/tasks"
	"ExpeditionFlow/internal/webhook"

	"go.temporal.io/sdk/client"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewPublisher returns a Kafka publisher when brokers are configured and a no-op
// otherwise.
func NewPublisher(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) events.Publisher {
	if len(cfg.Kafka.Brokers) == 0 {
		log.Info("no kafka brokers configured, status events are not published")
		return events.Nop{}
	}
	p := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log.Named("events"))
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return p.Close() },
	})
	return p
}

func NewObjectStore(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (storage.ObjectStore, error) {
	if cfg.Storage.Endpoint == "" {
		return nil, fmt.Errorf("STORAGE_ENDPOINT not set")
	}
	s, err := storage.NewMinioStore(cfg, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStart: s.EnsureBucket})
	return s, nil
}

func NewRegistry(cfg *config.Config) *tasks.Registry {
	return tasks.NewRegistry(cfg.Tasks.Overrides)
}

// NewDispatcher builds the runner named by TASKS_RUNNER. Temporal workers are
// started separately by StartTaskWorkers.
func NewDispatcher(lc fx.Lifecycle, cfg *config.Config, reg *tasks.Registry, log *zap.Logger) (tasks.Dispatcher, error) {
	switch cfg.Tasks.Runner {
	case "", "local":
		r := tasks.NewLocalRunner(reg, log)
		lc.Append(fx.Hook{OnStop: r.Shutdown})
		return r, nil
	case "temporal":
		c, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to temporal: %w", err)
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				c.Close()
				return nil
			},
		})
		return tasks.NewTemporalRunner(c, reg, cfg.Temporal.TaskQueue, log), nil
	default:
		return nil, fmt.Errorf("unknown task runner %q", cfg.Tasks.Runner)
	}
}

func NewOrchestration(
	repo *records.Repository,
	dispatcher tasks.Dispatcher,
	carrierClient *carrier.Client,
	hooks *webhook.Client,
	objects storage.ObjectStore,
	reporter *notification.Reporter,
	cfg *config.Config,
	log *zap.Logger,
) *orchestration.Service {
	return orchestration.NewService(repo, dispatcher, carrierClient, hooks, objects, reporter, cfg, log)
}

// RegisterTasks fills the registry before any runner starts.
func RegisterTasks(svc *orchestration.Service, reg *tasks.Registry) error {
	return svc.Register(reg)
}

func StartTaskWorkers(lc fx.Lifecycle, dispatcher tasks.Dispatcher) {
	r, ok := dispatcher.(*tasks.TemporalRunner)
	if !ok {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return r.Start() },
		OnStop: func(context.Context) error {
			r.Stop()
			return nil
		},
	})
}

// StartTracking refreshes carrier statuses of open AWBs on TASKS_TRACKING_INTERVAL.
func StartTracking(lc fx.Lifecycle, svc *orchestration.Service, cfg *config.Config, log *zap.Logger) {
	notification.NewScheduler("tracking", cfg.Tasks.TrackingPeriod, svc.TrackingJob, log.Named("scheduler")).Start(lc)
}
