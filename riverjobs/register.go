package riverjobs

import (
	"fmt"

	"github.com/riverqueue/river"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/open-rails/accessgate/core"
)

// RegisterRefreshTrustWorker registers the trust-refresh worker into a
// River workers registry.
func RegisterRefreshTrustWorker(ws *river.Workers, keys *core.KeySetCache, network *core.NetworkRegistry, logger *zap.Logger) {
	river.AddWorker(ws, NewRefreshTrustWorker(keys, network, logger))
}

// AddRefreshTrustPeriodicJob adds a periodic job that enqueues a trust
// refresh on a cron schedule.
//
// Example cron: "0 4 * * *" (daily at 4 AM). RunOnStart should be true
// in most deployments so a fresh process warms its caches immediately.
func AddRefreshTrustPeriodicJob[T any](client *river.Client[T], cronSpec string, args RefreshTrustArgs, runOnStart bool) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cronSpec)
	if err != nil {
		return fmt.Errorf("invalid cron schedule '%s': %w", cronSpec, err)
	}
	opts := args.InsertOpts()
	_ = client.PeriodicJobs().Add(
		river.NewPeriodicJob(
			schedule,
			func() (river.JobArgs, *river.InsertOpts) { return args, &opts },
			&river.PeriodicJobOpts{RunOnStart: runOnStart},
		),
	)
	return nil
}
