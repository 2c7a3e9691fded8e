package main

import (
	"context"
	"io"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"userdesk/client/internal/authclient"
	"userdesk/client/internal/config"
	"userdesk/client/internal/directory"
	"userdesk/client/internal/logging"
	"userdesk/client/internal/orchestrator"
	"userdesk/client/internal/platform/rbac"
	"userdesk/client/internal/policy/engine"
	"userdesk/client/internal/policy/repository"
	"userdesk/client/internal/session"
	"userdesk/client/internal/telemetry"
	otelsetup "userdesk/client/internal/telemetry/otel"
)

// Terminal is where the console reads commands and writes output.
type Terminal struct {
	In  io.Reader
	Out io.Writer
}

// NewApp wires the console. The app stops itself when the console exits.
func NewApp(term Terminal) *fx.App {
	return fx.New(
		fx.Supply(term),
		fx.Provide(
			config.Load,
			newLogger,
			newTelemetry,
			newTracker,
			newEmitter,
			session.NewMachine,
			newEvaluator,
			newGate,
			newAuthClient,
			newDirectoryClient,
			directory.NewRecords,
			newOrchestrator,
			newConsole,
		),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		fx.Invoke(runConsole),
	)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogLevel, cfg.Env)
}

func newTelemetry(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*otelsetup.Providers, error) {
	providers, err := otelsetup.NewProviders(context.Background(), otelsetup.Settings{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Insecure:    cfg.OTLPInsecure,
	}, logger)
	if err != nil {
		return nil, err
	}
	providers.SetGlobal()
	exporting := strings.TrimSpace(cfg.OTLPEndpoint) != ""
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if exporting {
				// Let in-flight async emits finish before the log provider is closed.
				select {
				case <-time.After(telemetry.ShutdownDrainDuration):
				case <-ctx.Done():
				}
			}
			return providers.Shutdown(ctx)
		},
	})
	return providers, nil
}

func newTracker(p *otelsetup.Providers) (*telemetry.Tracker, error) {
	return telemetry.NewTracker(p.TracerProvider, p.MeterProvider)
}

func newEmitter(p *otelsetup.Providers) telemetry.EventEmitter {
	return otelsetup.NewEventEmitter(p.LoggerProvider)
}

func newEvaluator(cfg *config.Config, logger *zap.Logger) (engine.Evaluator, error) {
	if cfg.GatePolicyPath == "" {
		return engine.PhaseEvaluator{}, nil
	}
	ev := engine.NewOPAEvaluator(repository.NewFileRepository(cfg.GatePolicyPath), logger)
	if err := ev.HealthCheck(context.Background()); err != nil {
		return nil, err
	}
	logger.Info("gate: policy loaded", zap.String("path", cfg.GatePolicyPath))
	return ev, nil
}

func newGate(m *session.Machine, ev engine.Evaluator, emitter telemetry.EventEmitter, logger *zap.Logger) *rbac.Gate {
	return rbac.NewGate(m, ev, emitter, logger)
}

func newAuthClient(cfg *config.Config, logger *zap.Logger, tracker *telemetry.Tracker) *authclient.Client {
	c := authclient.NewClient(cfg.AuthURL(), cfg.HTTPTimeoutDuration(), logger.Named("auth"))
	c.OTPBaseURL = cfg.OTPRequestURL()
	c.Tracker = tracker
	c.PlaceholderUserID = cfg.LegacyPlaceholderUserID
	if c.PlaceholderUserID != 0 {
		logger.Warn("auth: legacy placeholder user id enabled; challenges without userId will be flagged suspect",
			zap.Int64("placeholder_user_id", c.PlaceholderUserID))
	}
	return c
}

func newDirectoryClient(cfg *config.Config, gate *rbac.Gate, logger *zap.Logger, tracker *telemetry.Tracker) *directory.Client {
	c := directory.NewClient(cfg.UsersURL(), cfg.HTTPTimeoutDuration(), gate, logger.Named("directory"))
	c.Tracker = tracker
	return c
}

func newOrchestrator(
	auth *authclient.Client,
	m *session.Machine,
	users *directory.Client,
	records *directory.Records,
	emitter telemetry.EventEmitter,
	logger *zap.Logger,
) *orchestrator.Orchestrator {
	return orchestrator.New(orchestrator.Deps{
		Auth:    auth,
		Machine: m,
		Users:   users,
		Records: records,
		Emitter: emitter,
		Logger:  logger.Named("orchestrator"),
	})
}

func runConsole(lc fx.Lifecycle, shutdowner fx.Shutdowner, c *Console, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := c.Run(ctx); err != nil {
					logger.Error("console stopped", zap.Error(err))
				}
				if err := shutdowner.Shutdown(); err != nil {
					logger.Warn("shutdown", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
