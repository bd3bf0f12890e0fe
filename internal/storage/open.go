package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "ps2notify/pkg/logx"
)

// Store is the persistence API used by the notifier and the digest.
type Store interface {
	AppendJournal(ctx context.Context, e JournalEntry) error
	// JournalSince returns entries at or after since, oldest first, at most limit.
	JournalSince(ctx context.Context, since time.Time, limit int) ([]JournalEntry, error)
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
