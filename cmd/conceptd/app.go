package main

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conceptd/internal/config"
	"github.com/fyrsmithlabs/conceptd/internal/extraction"
	"github.com/fyrsmithlabs/conceptd/internal/logging"
	"github.com/fyrsmithlabs/conceptd/internal/pipeline"
	"github.com/fyrsmithlabs/conceptd/internal/redact"
	"github.com/fyrsmithlabs/conceptd/internal/session"
	"github.com/fyrsmithlabs/conceptd/internal/telemetry"
)

// app holds the process-wide components every command shares.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	tracer    trace.Tracer
	extractor pipeline.Extractor
	redactor  pipeline.Redactor
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logCfg, err := logging.FromConfig(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to build logging config: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if h := tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.Strings("reasons", h.Reasons))
	}
	tracer := tel.Tracer("github.com/fyrsmithlabs/conceptd")

	a := &app{
		cfg:       cfg,
		logger:    logger,
		telemetry: tel,
		tracer:    tracer,
	}

	svc, err := extraction.New(extraction.FromConfig(cfg.Extraction),
		extraction.WithLogger(logger.Named("extraction")),
		extraction.WithTracer(tracer))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize extraction: %w", err)
	}
	a.extractor = svc

	if cfg.Redaction.Enabled {
		allow, err := redact.LoadAllowlist(cfg.Redaction.Allowlist)
		if err != nil {
			return nil, fmt.Errorf("failed to load redaction allowlist: %w", err)
		}
		r, err := redact.New(allow, logger.Named("redact"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redaction: %w", err)
		}
		a.redactor = r
	}

	logger.Info(ctx, "conceptd initialized",
		zap.String("version", version),
		zap.String("extraction_provider", cfg.Extraction.Provider),
		zap.String("extraction_model", cfg.Extraction.Model),
		zap.Bool("redaction", cfg.Redaction.Enabled),
		zap.Bool("telemetry", cfg.Telemetry.Enabled))
	return a, nil
}

// settings maps configuration onto per-session settings.
func (a *app) settings() session.Settings {
	s := session.DefaultSettings()
	if a.cfg.Bus.Topic != "" {
		s.Topic = a.cfg.Bus.Topic
	}
	if a.cfg.Transport.ReadyMessage != "" {
		s.ReadyMessage = a.cfg.Transport.ReadyMessage
	}
	s.FlushOnClose = a.cfg.Batch.FlushOnClose
	s.Pipeline = pipeline.Config{
		Policy:         pipeline.PolicyFromConfig(a.cfg.Batch),
		Retries:        a.cfg.Extraction.Retries,
		RetryBackoff:   a.cfg.Extraction.RetryBackoff.Duration(),
		DedupThreshold: a.cfg.Extraction.DedupThreshold,
	}
	return s
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	if err := a.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.logger.Sync(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
