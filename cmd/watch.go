package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/conviction-cli/internal/config"
	"github.com/sells-group/conviction-cli/internal/monitoring"
)

var watchInterval int

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-evaluate proposals periodically and alert on state changes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if watchInterval > 0 {
			cfg.Watch.IntervalSecs = watchInterval
		}

		env, err := initEngine(ctx, config.ModeWatch)
		if err != nil {
			return err
		}
		defer env.Close()

		w := monitoring.NewWatcher(
			monitoring.NewCollector(env.Evaluator),
			monitoring.NewAlerter(cfg.Watch),
			cfg.Watch,
		)
		w.Run(ctx)
		return nil
	},
}

func init() {
	watchCmd.Flags().IntVar(&watchInterval, "interval", 0, "seconds between rounds (default from config)")
	rootCmd.AddCommand(watchCmd)
}
