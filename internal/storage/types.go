package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Request log statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusFail    = "FAIL"
)

// UsageStore holds per-user per-day request counters. day is "2006-01-02".
type UsageStore interface {
	GetUsage(ctx context.Context, userID int64, day string) (int, error)
	// IncrementUsage creates the row with count 1 or adds one, atomically.
	IncrementUsage(ctx context.Context, userID int64, day string) (int, error)
	ResetUsage(ctx context.Context, userID int64, day string) error
}

type Store interface {
	UsageStore

	// PruneUsage deletes counters for days strictly before day.
	PruneUsage(ctx context.Context, before string) (int64, error)

	GetLang(ctx context.Context, userID int64) (lang string, ok bool, err error)
	SetLang(ctx context.Context, userID int64, lang string) error

	GetConfig(ctx context.Context, key string) (value string, ok bool, err error)
	SetConfig(ctx context.Context, key, value string) error

	AppendRequestLog(ctx context.Context, e RequestLog) error
	Stats(ctx context.Context) (Stats, error)

	GetCredentialSets(ctx context.Context) ([]TokenSet, error)
	// SaveCredentialSets replaces every stored set in one transaction.
	SaveCredentialSets(ctx context.Context, sets []TokenSet) error

	// KnownUsers is every user id seen in usage or settings, ascending.
	KnownUsers(ctx context.Context) ([]int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path (default)
//   - "postgres": PostgreSQL at DSN
//   - "none": storage disabled; Open returns ErrDisabled
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Redis, when set, moves usage counters to redis.
	Redis *RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type RequestLog struct {
	UserID    int64
	Target    string
	Status    string
	CreatedAt time.Time
}

type Stats struct {
	Total       int
	Success     int
	Fail        int
	UniqueUsers int
}

// TokenSet is one stored credential set.
type TokenSet struct {
	FetchToken     string
	AppTransaction string
	HashParams     string
	HashHeaders    string
	IsSandbox      bool
}
