package app

import (
	"context"

	"tickrun/internal/config"
	"tickrun/internal/storage"
	logx "tickrun/pkg/logx"
)

// RecentRuns reads up to limit run summaries, newest first, from the store
// configured in cfgPath. It returns storage.ErrDisabled when storage is off.
func RecentRuns(ctx context.Context, cfgPath string, limit int) ([]storage.RunSummary, error) {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	sc, enabled, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, storage.ErrDisabled
	}
	st, err := storage.Open(sc, logx.Nop())
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return st.RecentRuns(ctx, limit)
}
