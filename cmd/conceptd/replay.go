package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conceptd/internal/bus"
	"github.com/fyrsmithlabs/conceptd/internal/session"
	"github.com/fyrsmithlabs/conceptd/internal/transport"
)

type replayOptions struct {
	follow    bool
	stdout    bool
	sessionID string
}

func newReplayCmd() *cobra.Command {
	var opts replayOptions
	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Run a transcript file through the pipeline",
		Long: `Feed a transcript file to a single session as if it were spoken live.

Each line is either a JSON transport event or plain text, which is treated
as a final transcript. The session ends at end of file unless --follow is
set, in which case appended lines keep arriving until interrupted.
With --stdout, envelopes are written as NDJSON objects carrying a
"subject" key next to the log output.

Examples:
  # Print concept envelopes instead of publishing them
  conceptd replay --stdout lecture.txt

  # Tail a file that another process is writing
  conceptd replay --follow --session room-42 live.ndjson`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.follow, "follow", false, "keep reading lines appended to the file")
	cmd.Flags().BoolVar(&opts.stdout, "stdout", false, "write envelopes to stdout instead of the configured bus")
	cmd.Flags().StringVar(&opts.sessionID, "session", "", "session id (default: file name without extension)")
	return cmd
}

func runReplay(cmd *cobra.Command, path string, opts replayOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.sessionID == "" {
		opts.sessionID = sessionFromPath(path)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if err := a.close(shutdownCtx); err != nil {
			a.logger.Warn(shutdownCtx, "shutdown incomplete", zap.Error(err))
		}
	}()

	var b bus.Bus
	if opts.stdout {
		b = bus.NewWriter(cmd.OutOrStdout())
	} else if b, err = bus.Open(ctx, cfg.Bus, a.logger.Named("bus")); err != nil {
		return fmt.Errorf("failed to open bus: %w", err)
	}
	defer b.Close()

	deps := session.Deps{
		Transport: transport.NewFile(path, opts.follow, a.logger.Named("transport")),
		Bus:       b,
		Extractor: a.extractor,
		Logger:    a.logger.Named("session"),
		Tracer:    a.tracer,
	}
	if a.redactor != nil {
		deps.Redactor = a.redactor
	}

	d := session.NewDriver(opts.sessionID, deps, a.settings())
	runErr := d.Run(ctx)

	stats, err := json.Marshal(d.Stats())
	if err == nil {
		fmt.Fprintln(cmd.ErrOrStderr(), string(stats))
	}
	return runErr
}

func sessionFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
