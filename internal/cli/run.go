package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/muloop/internal/bridge"
	"github.com/me/muloop/internal/console"
	"github.com/me/muloop/internal/doctor"
	"github.com/me/muloop/internal/logging"
	"github.com/me/muloop/internal/script"
	"github.com/me/muloop/internal/server"
	"github.com/me/muloop/internal/store"
	"github.com/me/muloop/pkg/sched"
)

// tickInterval paces the scheduler loop. One tick costs one pass over the
// task list, so this bounds idle CPU without adding meaningful latency.
const tickInterval = time.Millisecond

func newRunCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler daemon",
		Long: "Run starts the scheduler loop with all configured collaborators:\n" +
			"console, HTTP surface, MQTT bridge, statistics archive and scripts.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, name)
		},
	}
	cmd.Flags().StringVar(&name, "name", "muloop", "Node name used by console and doctor")
	return cmd
}

func runDaemon(cmd *cobra.Command, name string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger = logging.New(cfg.LogLevel, cfg.LogFormat)

	e := sched.New(cfg.Engine.TaskListSize, cfg.Engine.QueueSize, cfg.Engine.SubscriptionListSize)

	var st store.Store
	var recorder *store.Recorder
	if cfg.Store.Enabled {
		sq, err := store.NewSQLiteStore(cfg.Store.Path, logger)
		if err != nil {
			return fmt.Errorf("open stats archive: %w", err)
		}
		defer sq.Close()
		if err := sq.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("migrate stats archive: %w", err)
		}
		st = sq
		recorder = store.NewRecorder(sq, logger)
		recorder.Attach(e)
		defer recorder.Close()
	}

	doctor.New(name, logger).Begin(e)

	if cfg.Console.Enabled {
		console.New(name, os.Stdin, os.Stdout, logger).Begin(e)
	}

	if cfg.Bridge.Enabled {
		br, err := bridge.NewFromConfig(cfg.Bridge, logger)
		if err != nil {
			return fmt.Errorf("bridge: %w", err)
		}
		br.Begin(e)
		defer br.Close()
	}

	for _, sc := range cfg.Scripts {
		task, err := script.Load(sc, logger)
		if err != nil {
			return err
		}
		if _, err := task.Begin(e); err != nil {
			return err
		}
		logger.Info("script registered", "script", task.Name())
	}

	var httpSrv *http.Server
	if cfg.HTTP.Enabled {
		srv := server.New(e, st, logger)
		srv.Begin()
		httpSrv = &http.Server{Addr: cfg.HTTP.Addr, Handler: srv.Handler()}
		go func() {
			logger.Info("http listening", "addr", cfg.HTTP.Addr)
			if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server stopped", "error", err)
			}
		}()
	}

	if cfg.Engine.StatIntervalMs > 0 {
		e.Publish(sched.StatControlTopic, strconv.FormatInt(cfg.Engine.StatIntervalMs, 10))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("scheduler running", "name", name, "tasks", e.TaskCount())

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			if httpSrv != nil {
				shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := httpSrv.Shutdown(shutCtx); err != nil {
					logger.Warn("http shutdown", "error", err)
				}
				cancel()
			}
			return nil
		case <-ticker.C:
			e.Loop()
		}
	}
}
