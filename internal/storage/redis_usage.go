package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	logx "upgradebot/pkg/logx"
)

// redisUsage keeps daily counters in redis and delegates the rest to the SQL
// store. Increments are mirrored into SQL so KnownUsers and pruning still see
// the user; a mirror failure is only logged.
type redisUsage struct {
	Store

	rdb    *redis.Client
	prefix string
	log    logx.Logger
}

func newRedisUsage(ctx context.Context, base Store, cfg RedisConfig, log logx.Logger) (*redisUsage, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "upgradebot:"
	}
	log.Debug("redis usage counters enabled", logx.String("addr", cfg.Addr))
	return &redisUsage{Store: base, rdb: rdb, prefix: prefix, log: log}, nil
}

func (r *redisUsage) key(userID int64, day string) string {
	return r.prefix + "usage:" + day + ":" + strconv.FormatInt(userID, 10)
}

// dayExpiry is one hour past the end of day, in local time.
func dayExpiry(day string) time.Time {
	t, err := time.ParseInLocation("2006-01-02", day, time.Local)
	if err != nil {
		return time.Now().Add(25 * time.Hour)
	}
	return t.AddDate(0, 0, 1).Add(time.Hour)
}

func (r *redisUsage) GetUsage(ctx context.Context, userID int64, day string) (int, error) {
	n, err := r.rdb.Get(ctx, r.key(userID, day)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (r *redisUsage) IncrementUsage(ctx context.Context, userID int64, day string) (int, error) {
	k := r.key(userID, day)
	pipe := r.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireAt(ctx, k, dayExpiry(day))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	if _, err := r.Store.IncrementUsage(ctx, userID, day); err != nil {
		r.log.Warn("usage mirror to sql failed", logx.Int64("user_id", userID), logx.Err(err))
	}
	return int(incr.Val()), nil
}

func (r *redisUsage) ResetUsage(ctx context.Context, userID int64, day string) error {
	if err := r.rdb.Del(ctx, r.key(userID, day)).Err(); err != nil {
		return err
	}
	return r.Store.ResetUsage(ctx, userID, day)
}

func (r *redisUsage) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return r.Store.Ping(ctx)
}

func (r *redisUsage) Close() error {
	err1 := r.rdb.Close()
	err2 := r.Store.Close()
	return errors.Join(err1, err2)
}
