package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/tge-sentinel/internal/pipeline"
)

var (
	watchFeeds    string
	watchInterval time.Duration
	watchOnce     bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll feed sources continuously",
	Long:  "Polls every *.jsonl feed in the feeds directory each cycle, in source-health order, skipping sources whose circuit is open. State is checkpointed in the background and flushed on shutdown.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if watchFeeds != "" {
			cfg.Pipeline.FeedsDir = watchFeeds
		}
		env, err := initDetector(ctx, cfg, "watch")
		if err != nil {
			return err
		}
		defer env.Close()

		fetcher := pipeline.NewJSONLFetcher(cfg.Pipeline.FeedsDir)
		p := env.newPipeline(cfg, fetcher, cmd.OutOrStdout())

		if watchOnce {
			ids, err := fetcher.Sources()
			if err != nil {
				return err
			}
			if _, err := p.RunCycle(ctx, ids); err != nil {
				return err
			}
			env.finalCheckpoint(ctx)
			return nil
		}

		return runWatch(ctx, env, p, fetcher, cycleInterval())
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchFeeds, "feeds", "", "feeds directory (default from config)")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "cycle interval (default from config)")
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "run a single cycle and exit")
	rootCmd.AddCommand(watchCmd)
}

func cycleInterval() time.Duration {
	if watchInterval > 0 {
		return watchInterval
	}
	return time.Duration(cfg.Pipeline.CycleIntervalSecs) * time.Second
}

// runWatch runs the poll loop, the checkpointer and, when enabled, the
// monitoring checker until ctx is cancelled.
func runWatch(ctx context.Context, env *detectorEnv, p *pipeline.Pipeline, fetcher *pipeline.JSONLFetcher, interval time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.Run(gctx, fetcher.Sources, interval)
	})
	g.Go(func() error {
		env.Checkpointer.Run(gctx)
		return nil
	})
	if cfg.Monitoring.Enabled {
		checker := env.newChecker(cfg)
		g.Go(func() error {
			checker.Run(gctx)
			return nil
		})
	}

	err := g.Wait()
	zap.L().Info("watch stopped")
	return err
}
