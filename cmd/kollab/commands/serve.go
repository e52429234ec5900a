package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Nash0810/kollab-board/internal/api"
	"github.com/Nash0810/kollab-board/internal/broadcast"
	"github.com/Nash0810/kollab-board/internal/config"
	"github.com/Nash0810/kollab-board/internal/coordinator"
	"github.com/Nash0810/kollab-board/internal/logging"
	"github.com/Nash0810/kollab-board/internal/metrics"
	"github.com/Nash0810/kollab-board/internal/presence"
	"github.com/Nash0810/kollab-board/internal/printer"
	"github.com/Nash0810/kollab-board/internal/realtime"
	"github.com/Nash0810/kollab-board/internal/resolver"
	"github.com/Nash0810/kollab-board/internal/tasks"
	"github.com/Nash0810/kollab-board/pkg/board"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the board server",
	Long: `Run the HTTP API, the realtime WebSocket endpoint and the stale lock sweeper.

Endpoints:
  /api/...   REST API (identity from X-User-ID / X-User-Name headers)
  /ws        realtime edit coordination
  /healthz   Redis connectivity check
  /metrics   Prometheus metrics

Examples:
  # Serve with kollab.yml from the current directory
  kollab serve

  # Override the listen address and disable the disconnect grace period
  kollab serve --addr :9000 --grace-period 0s`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("addr", "", "HTTP listen address")
	f.Duration("grace-period", 0, "Delay before a disconnected user's locks are released")
	f.Duration("stale-after", 0, "Age at which locks are force-released (0 = never)")
	f.Duration("sweep-interval", 0, "How often stale locks are swept")
	f.Bool("enforce-locks", true, "Reject writes to tasks locked by another user")
	f.StringSlice("merge-keep", nil, "Fields a merge resolution keeps from the server record")
	f.Int("send-buffer", 0, "Frames queued per realtime connection")
	f.Duration("ping-interval", 0, "Realtime keepalive ping interval")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.client.Close()

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	a.start(gctx, g)
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := httpServer.Shutdown(shutdownCtx)
		a.stop()
		return err
	})

	printer.Success("kollab serving board '%s' on %s\n", cfg.Board, cfg.Server.Addr)
	logger.Info("server_started", "board", cfg.Board, "addr", cfg.Server.Addr,
		"grace_period", cfg.Locks.GracePeriod, "stale_after", cfg.Locks.StaleAfter, "enforce_locks", cfg.Locks.Enforce)

	if err := g.Wait(); err != nil {
		return printer.Error("server stopped with an error", err.Error(), nil)
	}
	logger.Info("server_stopped")
	return nil
}

// app is the wired board server.
type app struct {
	client   *board.Client
	hub      *broadcast.Hub
	coord    *coordinator.Coordinator
	realtime *realtime.Server
	handler  http.Handler
}

// newApp connects to Redis and wires every component from cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	rule, err := resolver.ParseMergeRule(cfg.Merge.KeepServerFields)
	if err != nil {
		return nil, fmt.Errorf("failed to build merge rule: %w", err)
	}

	client, err := connectBoard(ctx, cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	registry := presence.New()
	hub := broadcast.NewHub(registry,
		broadcast.WithBus(client),
		broadcast.WithLogger(logger),
		broadcast.WithMetrics(m),
	)
	coord := coordinator.New(registry, hub, coordinator.Config{
		GracePeriod:   cfg.Locks.GracePeriod,
		StaleAfter:    cfg.Locks.StaleAfter,
		SweepInterval: cfg.Locks.SweepInterval,
	}, coordinator.WithLogger(logger), coordinator.WithMetrics(m))

	taskSvc := tasks.New(client, hub, tasks.WithLogger(logger), tasks.WithLocks(coord, cfg.Locks.Enforce))
	res := resolver.New(client, hub, rule, resolver.WithLogger(logger), resolver.WithMetrics(m))
	rt := realtime.NewServer(coord, hub, realtime.Config{
		SendBuffer:   cfg.Realtime.SendBuffer,
		PingInterval: cfg.Realtime.PingInterval,
	}, realtime.WithLogger(logger), realtime.WithTaskChecker(taskSvc))

	logger.Info("lock_state_local", "board", cfg.Board,
		"detail", "edit locks live in this process; run one server per board")

	return &app{
		client:   client,
		hub:      hub,
		coord:    coord,
		realtime: rt,
		handler: api.New(taskSvc, res, coord,
			api.WithLogger(logger),
			api.WithHealth(client),
			api.WithPresence(hub),
			api.WithMetrics(m.Handler(), m),
			api.WithRealtime(rt),
		),
	}, nil
}

// start runs the hub relay and the stale lock sweeper in g.
func (a *app) start(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error { return a.hub.Run(ctx) })
	g.Go(func() error { return a.coord.RunSweeper(ctx) })
}

// stop closes realtime sockets and pending grace timers.
func (a *app) stop() {
	a.realtime.Close()
	a.coord.Close()
}

// connectBoard opens the board client and verifies Redis is reachable.
func connectBoard(ctx context.Context, cfg *config.Config) (*board.Client, error) {
	opts, err := cfg.RedisOptions()
	if err != nil {
		return nil, err
	}

	client, err := board.NewClient(opts, cfg.Board)
	if err != nil {
		return nil, fmt.Errorf("failed to create board client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		client.Close()
		return nil, printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", cfg.Redis.URL),
			map[string]string{"board": cfg.Board, "error": err.Error()},
			[]string{
				"Check that Redis is running and reachable",
				"Point kollab at another server:\n  kollab serve --redis-url redis://host:6379/0",
			},
		)
	}
	return client, nil
}
