package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/conceptd/internal/bus"
	httpserver "github.com/fyrsmithlabs/conceptd/internal/http"
	"github.com/fyrsmithlabs/conceptd/internal/session"
	"github.com/fyrsmithlabs/conceptd/internal/transport"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Process every live session until interrupted",
		Long: `Join the sessions listed in transport.sessions and every session announced
on the transport, extract concepts from their transcripts and publish them.

Examples:
  # Serve with the default config file
  conceptd serve

  # Use a local Ollama model and an in-process NATS server
  CONCEPTD_EXTRACTION_PROVIDER=ollama CONCEPTD_BUS_EMBEDDED=true conceptd serve`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	return a.serve(ctx)
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if err := a.close(shutdownCtx); err != nil {
			a.logger.Warn(shutdownCtx, "shutdown incomplete", zap.Error(err))
		}
	}()

	if cfg.Bus.Embedded {
		srv, err := bus.StartEmbedded(bus.EmbeddedConfig{Port: -1, StoreDir: cfg.Bus.StoreDir})
		if err != nil {
			return err
		}
		defer srv.Shutdown()
		if cfg.Transport.URL == cfg.Bus.URL {
			cfg.Transport.URL = srv.ClientURL()
		}
		cfg.Bus.URL = srv.ClientURL()
		a.logger.Info(ctx, "embedded nats server started", zap.String("url", cfg.Bus.URL))
	}

	b, err := bus.Open(ctx, cfg.Bus, a.logger.Named("bus"))
	if err != nil {
		return fmt.Errorf("failed to open bus: %w", err)
	}
	defer func() {
		if err := b.Close(); err != nil {
			a.logger.Warn(ctx, "bus close failed", zap.Error(err))
		}
	}()

	tr, discoverer, cleanup, err := a.openTransport(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	deps := session.Deps{
		Transport: tr,
		Bus:       b,
		Extractor: a.extractor,
		Logger:    a.logger.Named("session"),
		Tracer:    a.tracer,
	}
	if a.redactor != nil {
		deps.Redactor = a.redactor
	}
	manager := session.NewManager(deps, a.settings())

	server, err := httpserver.NewServer(manager, a.logger.Named("http"), &httpserver.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, httpserver.WithTelemetry(a.telemetry))
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		return manager.Run(gctx, cfg.Transport.Sessions, discoverer)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info(ctx, "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info(ctx, "conceptd stopped")
	return nil
}

// openTransport connects the session event source named by the config.
// The returned discoverer is nil when the transport cannot announce sessions.
func (a *app) openTransport(ctx context.Context) (transport.Transport, transport.Discoverer, func(), error) {
	cfg := a.cfg.Transport
	switch cfg.Provider {
	case "nats":
		nc, err := bus.Connect(cfg.URL, "conceptd-transport", a.logger.Named("transport"))
		if err != nil {
			return nil, nil, nil, err
		}
		t := transport.NewNATS(nc, cfg.SubjectPrefix, a.logger.Named("transport"))
		a.logger.Info(ctx, "transport connected",
			zap.String("url", cfg.URL),
			zap.String("discovery_subject", t.DiscoverySubject()))
		return t, t, func() { drain(nc) }, nil
	case "file":
		return transport.NewFile(cfg.URL, true, a.logger.Named("transport")), nil, func() {}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown transport provider %q", cfg.Provider)
	}
}

func drain(nc *nats.Conn) {
	if err := nc.Drain(); err != nil {
		nc.Close()
	}
}
