package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

func newScheduleCmd(gf *globalFlags) *cobra.Command {
	var expr string
	var runNow bool
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run cycles on a cron schedule until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, gf)
			if err != nil {
				return err
			}
			defer s.close()

			if strings.TrimSpace(expr) == "" {
				expr = s.cfg.Schedule.Cron
			}
			if strings.TrimSpace(expr) == "" {
				return &configError{err: fmt.Errorf("a cron expression is required (--cron or SCHEDULE.CRON)")}
			}

			ctx := cmd.Context()
			cycle := func() {
				if _, err := s.pipeline.RunCycle(ctx); err != nil {
					s.log.Error("scheduled cycle failed", "err", err)
				}
			}
			c, err := newScheduler(expr, s.log, cycle)
			if err != nil {
				return &configError{err: err}
			}
			return runScheduler(ctx, c, s.log, runNow, cycle)
		},
	}
	cmd.Flags().StringVar(&expr, "cron", "", "Cron expression (default SCHEDULE.CRON, env: SCHEDULE_CRON)")
	cmd.Flags().BoolVar(&runNow, "run-now", false, "Run one cycle immediately before waiting for the schedule")
	return cmd
}

// newScheduler registers cycle on expr. Overlapping triggers are skipped so at most
// one cycle touches the snapshot files at a time.
func newScheduler(expr string, log *slog.Logger, cycle func()) (*cron.Cron, error) {
	cl := cronLogger{log}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(expr, cycle); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return c, nil
}

func runScheduler(ctx context.Context, c *cron.Cron, log *slog.Logger, runNow bool, cycle func()) error {
	if runNow {
		cycle()
	}
	c.Start()
	for _, e := range c.Entries() {
		log.Info("scheduler started", "next", e.Next)
	}
	<-ctx.Done()
	log.Info("stopping scheduler, waiting for running cycle")
	<-c.Stop().Done()
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
