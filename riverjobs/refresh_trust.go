package riverjobs

import (
	"context"
	"errors"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"github.com/open-rails/accessgate/core"
)

type RefreshTrustArgs struct {
	// KeysOnly skips the IP-range refresh, for teams that pin their own
	// network policy.
	KeysOnly bool `json:"keys_only,omitempty"`
}

func (RefreshTrustArgs) Kind() string { return "accessgate_refresh_trust" }

func (args RefreshTrustArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue: river.QueueDefault,
		UniqueOpts: river.UniqueOpts{
			ByArgs:   true,
			ByPeriod: time.Hour,
			ByQueue:  true,
		},
	}
}

// RefreshTrustWorker re-fetches the verification key set and the edge
// network's published IP ranges. Failures keep the previously cached
// material in place, so a flaky authority degrades to stale trust data
// rather than broken logins.
type RefreshTrustWorker struct {
	river.WorkerDefaults[RefreshTrustArgs]
	keys    *core.KeySetCache
	network *core.NetworkRegistry
	logger  *zap.Logger
}

func NewRefreshTrustWorker(keys *core.KeySetCache, network *core.NetworkRegistry, logger *zap.Logger) *RefreshTrustWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefreshTrustWorker{keys: keys, network: network, logger: logger}
}

func (w *RefreshTrustWorker) Timeout(*river.Job[RefreshTrustArgs]) time.Duration {
	return 2 * time.Minute
}

func (w *RefreshTrustWorker) Work(ctx context.Context, job *river.Job[RefreshTrustArgs]) error {
	if w == nil || w.keys == nil {
		return errors.New("accessgate refresh: key-set cache not configured")
	}
	var firstErr error
	if err := w.keys.Refresh(ctx); err != nil {
		w.logger.Warn("key-set refresh failed", zap.Error(err))
		firstErr = err
	}
	if !job.Args.KeysOnly && w.network != nil {
		if err := w.network.Refresh(ctx); err != nil {
			w.logger.Warn("ip-range refresh failed", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
