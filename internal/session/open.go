package session

import (
	"fmt"

	"github.com/liliang-cn/mindrag/internal/config"
	"github.com/liliang-cn/mindrag/internal/repository"
	"go.uber.org/zap"
)

// OpenStore returns the configured backend and a function releasing it.
// db backs the sqlite backend and may be nil for the others.
func OpenStore(cfg config.SessionConfig, db *repository.DB, logger *zap.Logger) (Store, func() error, error) {
	nop := func() error { return nil }
	switch cfg.Backend {
	case "memory", "":
		return NewMemoryStore(), nop, nil
	case "sqlite":
		if db == nil {
			return nil, nil, fmt.Errorf("sqlite session backend requires a database")
		}
		return repository.NewSessionRepository(db), nop, nil
	case "badger":
		bdb, err := OpenBadger(cfg.BadgerPath, logger)
		if err != nil {
			return nil, nil, err
		}
		return NewBadgerStore(bdb, cfg.IdleTTL), bdb.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown session backend: %s", cfg.Backend)
	}
}
