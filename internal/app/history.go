package app

import (
	"context"
	"fmt"

	"github.com/MrWong99/voxbridge/internal/config"
	"github.com/MrWong99/voxbridge/pkg/history"
	historybadger "github.com/MrWong99/voxbridge/pkg/history/badger"
	historypg "github.com/MrWong99/voxbridge/pkg/history/postgres"
)

// OpenHistoryStore opens the backend selected by cfg. The returned closer is
// never nil.
func OpenHistoryStore(ctx context.Context, cfg config.HistoryConfig) (history.Store, func() error, error) {
	switch cfg.Backend {
	case config.HistoryMemory, "":
		return history.NewMemoryStore(), func() error { return nil }, nil

	case config.HistoryPostgres:
		s, err := historypg.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("app: open postgres history: %w", err)
		}
		return s, func() error { s.Close(); return nil }, nil

	case config.HistoryBadger:
		s, err := historybadger.Open(historybadger.Options{Dir: cfg.BadgerPath})
		if err != nil {
			return nil, nil, fmt.Errorf("app: open badger history: %w", err)
		}
		return s, s.Close, nil

	default:
		return nil, nil, fmt.Errorf("app: unknown history backend %q", cfg.Backend)
	}
}
