package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ncsync/uploadd/internal/config"
	"github.com/ncsync/uploadd/internal/daemon"
	"github.com/ncsync/uploadd/internal/journal"
	"github.com/ncsync/uploadd/internal/metrics"
	"github.com/ncsync/uploadd/internal/status"
	"github.com/ncsync/uploadd/internal/watcher"
)

const shutdownTimeout = 10 * time.Second

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "uploadd",
		Short:         "Watch a directory tree for files closed after writing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the watch daemon until interrupted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runDaemon(cmd, configPath)
			},
		},
		&cobra.Command{
			Use:   "check-config",
			Short: "Load and validate the configuration, then print it with secrets masked",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return checkConfig(cmd, configPath)
			},
		},
		&cobra.Command{
			Use:   "verify-journal <path>",
			Short: "Verify the hash chain of a dispatch journal",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return verifyJournal(cmd, args[0])
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "uploadd %s\n", version)
			},
		},
	)
	return root
}

func checkConfig(cmd *cobra.Command, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "# %s: ok\n%s", path, out)
	return nil
}

func verifyJournal(cmd *cobra.Command, path string) error {
	entries, err := journal.Verify(path)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintf(w, "%s: empty journal\n", path)
		return nil
	}
	last := entries[len(entries)-1]
	fmt.Fprintf(w, "%s: %d entries, chain intact, head %s\n", path, len(entries), last.Hash)
	return nil
}

// runDaemon loads the configuration, installs the watch, and dispatches
// events until a signal arrives or the watch root disappears.
func runDaemon(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("config_path", configPath),
		slog.String("local_path", cfg.LocalPath),
		slog.String("log_level", cfg.LogLevel),
		slog.String("status_addr", cfg.StatusAddr),
		slog.String("journal_path", cfg.JournalPath),
	)

	m := metrics.New()
	w, err := watcher.New(cfg.LocalPath,
		watcher.WithLogger(logger),
		watcher.WithBufferSize(cfg.EventBuffer),
		watcher.WithRawObserver(m.ObserveRaw),
	)
	if err != nil {
		logger.Error("watch registration failed", slog.Any("error", err))
		return err
	}

	var sinks []daemon.Sink
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			_ = w.Close()
			return err
		}
		defer func() {
			if err := j.Close(); err != nil {
				logger.Warn("journal close error", slog.Any("error", err))
			}
		}()
		sinks = append(sinks, j)
	}

	var (
		recent *status.Recent
		bc     *status.Broadcaster
		ln     net.Listener
	)
	if cfg.StatusAddr != "" {
		ln, err = net.Listen("tcp", cfg.StatusAddr)
		if err != nil {
			_ = w.Close()
			return fmt.Errorf("status server: %w", err)
		}
		recent = status.NewRecent(cfg.RecentEvents)
		bc = status.NewBroadcaster(logger, 0, m)
		sinks = append(sinks, recent, bc)
	}

	d := daemon.New(cfg, logger, w, daemon.WithSinks(sinks...), daemon.WithMetrics(m))

	var srv *http.Server
	if ln != nil {
		srv = &http.Server{
			Handler:           status.NewRouter(status.NewServer(d, m, recent, bc, logger)),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("status server listening", slog.String("addr", ln.Addr().String()))
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server error", slog.Any("error", err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := d.Run(ctx)
	logger.Info("shutting down")

	if bc != nil {
		bc.Close()
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status server shutdown error", slog.Any("error", err))
		}
	}

	if runErr != nil {
		return runErr
	}
	logger.Info("uploadd exited cleanly")
	return nil
}
