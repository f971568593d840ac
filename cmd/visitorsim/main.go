// Command visitorsim drives one visitor tracker from a JSON scenario against a
// running ingest service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brightensolutions/brightensolutions-sub000/internal/config"
	"github.com/brightensolutions/brightensolutions-sub000/internal/repository"
	"github.com/brightensolutions/brightensolutions-sub000/pkg/tracking"
)

func main() {
	scenarioPath := flag.String("scenario", "", "path to a scenario JSON file (default stdin)")
	realtime := flag.Bool("realtime", false, "sleep through wait steps instead of using a virtual clock")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx, *scenarioPath, *realtime); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func Run(ctx context.Context, scenarioPath string, realtime bool) error {
	cfg, err := config.LoadSimulatorConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	in := os.Stdin
	if scenarioPath != "" {
		f, err := os.Open(scenarioPath)
		if err != nil {
			return fmt.Errorf("failed to open scenario: %w", err)
		}
		defer f.Close()
		in = f
	}
	scenario, err := LoadScenario(in)
	if err != nil {
		return err
	}

	env := tracking.NewStaticEnvironment(scenario.UserAgent, scenario.Screen, scenario.Path, scenario.Title)
	env.Referer = scenario.Referrer

	if cfg.RedisURL != "" {
		rdb, err := repository.InitRedis(cfg.RedisURL, "", 0)
		if err != nil {
			logger.Warn("Profile store unreachable, using a throwaway identity", "error", err)
		} else {
			defer rdb.Close()
			env.Local = tracking.NewRedisStorage(rdb, cfg.Profile)
			logger.Info("Using durable profile", "profile", cfg.Profile)
		}
	}

	opts := []tracking.Option{
		tracking.WithLogger(logger),
		tracking.WithBaseURL(cfg.BaseURL),
		tracking.WithSyncInterval(cfg.SyncInterval),
	}
	sleep := realSleep
	if !realtime {
		clock := newVirtualClock(time.Now())
		opts = append(opts, tracking.WithClock(clock.Now), tracking.WithSyncInterval(0))
		sleep = clock.Sleep
	}

	tr := tracking.New(env, opts...)
	defer tr.Close()

	player := &Player{Env: env, Tracker: tr, Sleep: sleep}
	if err := player.Play(ctx, scenario.Steps); err != nil {
		return fmt.Errorf("scenario aborted: %w", err)
	}
	tr.Wait()

	id := tr.Identity()
	logger.Info("Scenario finished",
		"visitor_id", id.VisitorID,
		"visit_count", id.VisitCount,
		"pages", len(tr.Snapshot().PagesVisited),
	)
	return nil
}
