// Command kasane runs the evidence integration worker: it connects to
// Postgres, runs migrations, and repeatedly classifies pending
// fragments across all units until stopped.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kasane-ai/kasane"
)

// version is set at build time via -ldflags.
var version = "dev"

// pollInterval is how often the worker sweeps for pending fragments
// when no notifications arrive.
const pollInterval = 15 * time.Second

// batchLimit bounds one sweep's fragments per unit.
const batchLimit = 50

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("KASANE_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	eng, err := kasane.New(
		kasane.WithLogger(logger),
		kasane.WithVersion(version),
	)
	if err != nil {
		return err
	}
	defer eng.Close(context.Background())

	logger.Info("worker started", "poll_interval", pollInterval)

	// Wake immediately when extraction creates pending fragments.
	// Without NOTIFY_URL the watcher exits and the ticker alone drives
	// the sweeps.
	wake := make(chan struct{}, 1)
	go func() {
		err := eng.WatchActivity(ctx, func(channel, _ string) {
			if channel != kasane.ActivitySources {
				return
			}
			select {
			case wake <- struct{}{}:
			default:
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Info("notifications unavailable, polling only", "error", err)
		}
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if err := sweep(ctx, eng, logger); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			logger.Error("sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-wake:
		}
	}
}

// sweep classifies pending fragments for every unit. Per-unit errors
// are logged and do not stop the sweep; fragments whose oracle call
// failed stay pending for the next pass.
func sweep(ctx context.Context, eng *kasane.Engine, logger *slog.Logger) error {
	units, err := eng.ListUnits(ctx)
	if err != nil {
		return err
	}
	for _, unit := range units {
		outcomes, err := eng.AnalyzePending(ctx, unit.ID, batchLimit)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			logger.Error("unit analysis failed", "unit_id", unit.ID, "error", err)
			continue
		}
		if len(outcomes) > 0 {
			failed := 0
			for _, out := range outcomes {
				if out.Err != nil {
					failed++
				}
			}
			logger.Info("unit analyzed",
				"unit_id", unit.ID,
				"classified", len(outcomes)-failed,
				"failed", failed)
		}
	}
	return nil
}
