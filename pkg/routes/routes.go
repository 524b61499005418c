package pkg

import (
	"context"
	"errors"
	"net/http"

	"ExpeditionFlow/internal/actions"
	"ExpeditionFlow/internal/auth"
	"ExpeditionFlow/internal/carrier"
	"ExpeditionFlow/internal/config"
	"ExpeditionFlow/internal/documents"
	"ExpeditionFlow/internal/importer"
	"ExpeditionFlow/internal/logging"
	"ExpeditionFlow/internal/notification"
	"ExpeditionFlow/internal/records"
	"ExpeditionFlow/internal/store"
	"ExpeditionFlow/internal/webhook"
	"ExpeditionFlow/pkg/middleware"

	"github.com/casbin/casbin/v2"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// CoreModules provides everything except the HTTP server. The admin CLI runs on it.
var CoreModules = fx.Module("core",
	fx.Provide(config.NewConfig),
	fx.Provide(logging.New),
	fx.Provide(config.NewMongoDBClient),
	fx.Provide(fx.Annotate(store.NewMongoStore, fx.As(new(store.Store)))),
	fx.Provide(NewPublisher),
	fx.Provide(records.NewRepository),
	fx.Provide(carrier.NewClient),
	fx.Provide(webhook.NewClient),
	fx.Provide(NewObjectStore),
	fx.Provide(notification.NewMailer),
	fx.Provide(notification.NewReporter),
	fx.Provide(NewRegistry),
	fx.Provide(NewDispatcher),
	fx.Provide(NewOrchestration),
	fx.Provide(importer.NewImporter),
	fx.Provide(documents.NewStaticService),
	fx.Provide(fx.Annotate(auth.NewOperatorRepository, fx.As(new(auth.Operators)))),
	fx.Provide(auth.NewTokens),
	fx.Provide(auth.NewOperatorService),
	fx.Invoke(RegisterTasks))

var EchoModules = fx.Module("echo",
	fx.Provide(NewEchoServer),
	fx.Provide(middleware.NewEnforcer),
	fx.Provide(auth.NewAuthHandler),
	fx.Provide(actions.NewShipmentHandler),
	fx.Provide(actions.NewImportHandler),
	fx.Provide(actions.NewStaticHandler),
	fx.Provide(actions.NewPipelineHandler),
	fx.Invoke(StartTaskWorkers),
	fx.Invoke(StartTracking),
	fx.Invoke(RegisterRoutes))

func NewEchoServer(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = actions.NewValidator()
	middleware.SetupMiddleware(e, cfg, log)

	addr := cfg.HTTP.Address
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("server listening", zap.String("address", addr))
			go func() {
				if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("failed to start the server", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down the server")
			return e.Shutdown(ctx)
		},
	})
	return e
}

type Handlers struct {
	fx.In

	Auth      *auth.AuthHandler
	Shipments *actions.ShipmentHandler
	Imports   *actions.ImportHandler
	Static    *actions.StaticHandler
	Pipeline  *actions.PipelineHandler
}

func RegisterRoutes(e *echo.Echo, h Handlers, tokens *auth.Tokens, enf *casbin.Enforcer, log *zap.Logger) {
	e.POST("/login", h.Auth.Login)

	protected := e.Group("/api")
	protected.Use(middleware.JWT(tokens), middleware.Casbin(enf, log))
	protected.GET("/profile", h.Auth.Profile)

	protected.POST("/import", h.Imports.Import)
	protected.GET("/shipments", h.Shipments.List)
	protected.GET("/shipments/:id", h.Shipments.Get)
	protected.GET("/shipments/:id/awbs", h.Shipments.AWBs)
	protected.GET("/shipments/:id/recipients", h.Shipments.Recipients)

	protected.POST("/awbs/generate", h.Pipeline.GenerateAWBs)
	protected.POST("/awbs/status-update", h.Pipeline.StatusUpdate)
	protected.POST("/documents/pv", h.Pipeline.GeneratePV)
	protected.POST("/emails/logistics", h.Pipeline.SendLogisticsEmails)
	protected.POST("/reminders", h.Pipeline.SendReminders)
	protected.POST("/files/reformat", h.Pipeline.ReformatSigned)
	protected.GET("/runs/:id", h.Pipeline.RunStatus)

	protected.POST("/static-documents", h.Static.Upload)
	protected.POST("/static-documents/sync", h.Static.Sync)
	protected.POST("/admin/rename-signed", h.Pipeline.RenameSigned)
}
