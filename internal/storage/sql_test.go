package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "upgradebot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(context.Background(), Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "bot.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestUsageCounters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	if n, err := st.GetUsage(ctx, 1, "2025-01-02"); err != nil || n != 0 {
		t.Fatalf("GetUsage empty = %d, %v", n, err)
	}
	for want := 1; want <= 3; want++ {
		n, err := st.IncrementUsage(ctx, 1, "2025-01-02")
		if err != nil {
			t.Fatalf("IncrementUsage: %v", err)
		}
		if n != want {
			t.Fatalf("IncrementUsage = %d, want %d", n, want)
		}
	}
	if n, _ := st.GetUsage(ctx, 1, "2025-01-03"); n != 0 {
		t.Fatalf("other day leaked: %d", n)
	}
	if err := st.ResetUsage(ctx, 1, "2025-01-02"); err != nil {
		t.Fatalf("ResetUsage: %v", err)
	}
	if n, _ := st.GetUsage(ctx, 1, "2025-01-02"); n != 0 {
		t.Fatalf("after reset = %d", n)
	}
}

func TestPruneUsage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	for _, day := range []string{"2024-12-30", "2024-12-31", "2025-01-01"} {
		if _, err := st.IncrementUsage(ctx, 5, day); err != nil {
			t.Fatalf("IncrementUsage: %v", err)
		}
	}
	n, err := st.PruneUsage(ctx, "2025-01-01")
	if err != nil || n != 2 {
		t.Fatalf("PruneUsage = %d, %v; want 2", n, err)
	}
	if c, _ := st.GetUsage(ctx, 5, "2025-01-01"); c != 1 {
		t.Fatalf("kept day count = %d", c)
	}
}

func TestSettingsAndConfig(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	if _, ok, err := st.GetLang(ctx, 9); err != nil || ok {
		t.Fatalf("GetLang missing = %v, %v", ok, err)
	}
	_ = st.SetLang(ctx, 9, "VI")
	_ = st.SetLang(ctx, 9, "EN")
	if lang, ok, _ := st.GetLang(ctx, 9); !ok || lang != "EN" {
		t.Fatalf("GetLang = %q, %v", lang, ok)
	}

	if err := st.SetConfig(ctx, "donate_photo", "file-1"); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	_ = st.SetConfig(ctx, "donate_photo", "file-2")
	if v, ok, _ := st.GetConfig(ctx, "donate_photo"); !ok || v != "file-2" {
		t.Fatalf("GetConfig = %q, %v", v, ok)
	}
}

func TestKnownUsersUnionOrdered(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	_, _ = st.IncrementUsage(ctx, 30, "2025-01-01")
	_, _ = st.IncrementUsage(ctx, 10, "2025-01-01")
	_, _ = st.IncrementUsage(ctx, 10, "2025-01-02")
	_ = st.SetLang(ctx, 20, "EN")
	_ = st.SetLang(ctx, 10, "VI")

	got, err := st.KnownUsers(ctx)
	if err != nil {
		t.Fatalf("KnownUsers: %v", err)
	}
	want := []int64{10, 20, 30}
	if len(got) != len(want) {
		t.Fatalf("KnownUsers = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("KnownUsers = %v, want %v", got, want)
		}
	}
}

func TestRequestLogStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	logs := []RequestLog{
		{UserID: 1, Target: "a", Status: StatusSuccess},
		{UserID: 1, Target: "b", Status: StatusFail},
		{UserID: 2, Target: "c", Status: StatusSuccess, CreatedAt: time.Now().Add(-time.Hour)},
	}
	for _, l := range logs {
		if err := st.AppendRequestLog(ctx, l); err != nil {
			t.Fatalf("AppendRequestLog: %v", err)
		}
	}
	s, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if s != (Stats{Total: 3, Success: 2, Fail: 1, UniqueUsers: 2}) {
		t.Fatalf("Stats = %+v", s)
	}
}

func TestSaveCredentialSetsReplaces(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	first := []TokenSet{{FetchToken: "a"}, {FetchToken: "b", IsSandbox: true}}
	if err := st.SaveCredentialSets(ctx, first); err != nil {
		t.Fatalf("SaveCredentialSets: %v", err)
	}
	got, err := st.GetCredentialSets(ctx)
	if err != nil || len(got) != 2 || got[1].FetchToken != "b" || !got[1].IsSandbox {
		t.Fatalf("GetCredentialSets = %+v, %v", got, err)
	}

	if err := st.SaveCredentialSets(ctx, []TokenSet{{FetchToken: "c", HashParams: "p"}}); err != nil {
		t.Fatalf("SaveCredentialSets: %v", err)
	}
	got, _ = st.GetCredentialSets(ctx)
	if len(got) != 1 || got[0].FetchToken != "c" || got[0].HashParams != "p" {
		t.Fatalf("after replace = %+v", got)
	}
}

func TestOpenDriverSelection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	if _, err := Open(ctx, Config{Driver: "none"}, logx.Nop()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("none: err = %v", err)
	}
	if _, err := Open(ctx, Config{Driver: "mysql"}, logx.Nop()); err == nil {
		t.Fatal("expected unknown driver error")
	}
	if _, err := Open(ctx, Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected missing dsn error")
	}
}

func TestRebind(t *testing.T) {
	t.Parallel()
	pg := &sqlStore{dialect: dialectPostgres}
	if got := pg.rebind(`a = ? AND b = ?`); got != `a = $1 AND b = $2` {
		t.Fatalf("rebind = %q", got)
	}
	lite := &sqlStore{dialect: dialectSQLite}
	if got := lite.rebind(`a = ?`); got != `a = ?` {
		t.Fatalf("sqlite rebind = %q", got)
	}
}

func TestDayExpiry(t *testing.T) {
	t.Parallel()
	got := dayExpiry("2025-03-10")
	want := time.Date(2025, 3, 11, 1, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Fatalf("dayExpiry = %v, want %v", got, want)
	}
}
