package core

import (
	"context"

	"go.uber.org/zap"
)

// WatchTeamDomain re-fetches the key set and the edge ranges whenever
// the team domain setting changes to a new non-empty value, so a
// freshly configured or re-pointed installation can verify logins
// without waiting for the scheduled refresh. Failures are logged and
// leave the caches as they were.
func WatchTeamDomain(settings *Settings, keys *KeySetCache, network *NetworkRegistry, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings.Subscribe(SettingTeamDomain, func(old, new string) {
		if SanitizeTeamDomain(new) == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), DefaultFetchTimeout)
		defer cancel()
		if err := keys.Refresh(ctx); err != nil {
			logger.Warn("key-set refresh on team change failed", zap.Error(err))
		}
		if network != nil {
			if err := network.Refresh(ctx); err != nil {
				logger.Warn("range refresh on team change failed", zap.Error(err))
			}
		}
	})
}
