package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	logx "upgradebot/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) String() string {
	if d == dialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// sqlStore implements Store over database/sql for both dialects. Queries are
// written with '?' placeholders and rebound for postgres.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	log     logx.Logger
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect, log logx.Logger) (*sqlStore, error) {
	s := &sqlStore{db: db, dialect: d, log: log}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", d, err)
	}
	return s, nil
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/" + s.dialect.String() + ".sql")
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(b), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites '?' placeholders to '$1..$n' for postgres.
func (s *sqlStore) rebind(q string) string {
	if s.dialect != dialectPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func (s *sqlStore) timeArg(t time.Time) any {
	if s.dialect == dialectPostgres {
		return t
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	return s.db.PingContext(ctx)
}

func (s *sqlStore) GetUsage(ctx context.Context, userID int64, day string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT count FROM usage_logs WHERE user_id = ? AND date = ?`), userID, day).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

func (s *sqlStore) IncrementUsage(ctx context.Context, userID int64, day string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO usage_logs(user_id, date, count) VALUES(?, ?, 1)
		 ON CONFLICT(user_id, date) DO UPDATE SET count = usage_logs.count + 1
		 RETURNING count`), userID, day).Scan(&n)
	return n, err
}

func (s *sqlStore) ResetUsage(ctx context.Context, userID int64, day string) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM usage_logs WHERE user_id = ? AND date = ?`), userID, day)
	return err
}

func (s *sqlStore) PruneUsage(ctx context.Context, before string) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM usage_logs WHERE date < ?`), before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqlStore) GetLang(ctx context.Context, userID int64) (string, bool, error) {
	var lang string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT language FROM user_settings WHERE user_id = ?`), userID).Scan(&lang)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return lang, true, nil
}

func (s *sqlStore) SetLang(ctx context.Context, userID int64, lang string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO user_settings(user_id, language) VALUES(?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET language = excluded.language`), userID, lang)
	return err
}

func (s *sqlStore) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT value FROM bot_config WHERE key = ?`), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *sqlStore) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO bot_config(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`), key, value)
	return err
}

func (s *sqlStore) AppendRequestLog(ctx context.Context, e RequestLog) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO request_logs(user_id, target, status, created_at) VALUES(?, ?, ?, ?)`),
		e.UserID, e.Target, e.Status, s.timeArg(e.CreatedAt))
	return err
}

func (s *sqlStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		        COUNT(DISTINCT user_id)
		 FROM request_logs`), StatusSuccess).Scan(&st.Total, &st.Success, &st.UniqueUsers)
	if err != nil {
		return Stats{}, err
	}
	st.Fail = st.Total - st.Success
	return st, nil
}

func (s *sqlStore) GetCredentialSets(ctx context.Context) ([]TokenSet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fetch_token, app_transaction, hash_params, hash_headers, is_sandbox FROM token_sets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TokenSet
	for rows.Next() {
		var ts TokenSet
		if err := rows.Scan(&ts.FetchToken, &ts.AppTransaction, &ts.HashParams, &ts.HashHeaders, &ts.IsSandbox); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

func (s *sqlStore) SaveCredentialSets(ctx context.Context, sets []TokenSet) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM token_sets`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO token_sets(fetch_token, app_transaction, hash_params, hash_headers, is_sandbox) VALUES(?, ?, ?, ?, ?)`))
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, ts := range sets {
		if _, err = stmt.ExecContext(ctx, ts.FetchToken, ts.AppTransaction, ts.HashParams, ts.HashHeaders, ts.IsSandbox); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqlStore) KnownUsers(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM usage_logs UNION SELECT user_id FROM user_settings ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
