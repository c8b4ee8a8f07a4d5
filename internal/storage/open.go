package storage

import (
	"context"
	"errors"
	"strings"

	logx "upgradebot/pkg/logx"
)

// Open initializes the configured store and applies migrations.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	var (
		st  Store
		err error
	)
	switch driver {
	case "none":
		return nil, ErrDisabled
	case "sqlite", "sqlite3":
		st, err = openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pgx":
		st, err = openPostgres(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Redis != nil && strings.TrimSpace(cfg.Redis.Addr) != "" {
		rs, err := newRedisUsage(ctx, st, *cfg.Redis, log)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		st = rs
	}
	return st, nil
}
