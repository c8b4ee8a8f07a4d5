package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"upgradebot/internal/config"
	"upgradebot/internal/dispatch"
)

func baseConfig() *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{Token: "t", AdminID: 42},
		Remote:   config.RemoteConfig{BaseURL: "http://127.0.0.1:9000", Timeout: "30s"},
	}
}

func TestMapStorageConfigDefaults(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if sc.Driver != "sqlite" || sc.Path != defaultSQLitePath || sc.BusyTimeout != time.Second {
		t.Fatalf("unexpected storage config: %+v", sc)
	}
	if sc.Redis != nil {
		t.Fatal("redis overlay should be off by default")
	}

	cfg.Storage = config.StorageConfig{Driver: "postgres"}
	if _, err := mapStorageConfig(cfg); err == nil {
		t.Fatal("postgres without dsn should fail")
	}

	cfg.Storage.DSN = "postgres://bot@localhost/bot"
	cfg.Redis = &config.RedisConfig{Enabled: true, Addr: "127.0.0.1:6379", Prefix: "ub:"}
	sc, err = mapStorageConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if sc.Redis == nil || sc.Redis.Addr != "127.0.0.1:6379" || sc.Redis.Prefix != "ub:" {
		t.Fatalf("redis not mapped: %+v", sc.Redis)
	}
}

func TestMapDispatchConfig(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.Dispatch = config.DispatchConfig{Workers: 2, DailyLimit: 7, Cooldown: "10s"}
	cfg.Telegram.DonatePhoto = " photo-id "
	dc, err := mapDispatchConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if dc.Workers != 2 || dc.DailyLimit != 7 || dc.PrivilegedID != 42 {
		t.Fatalf("unexpected: %+v", dc)
	}
	if dc.Cooldown != 10*time.Second || dc.SettleDelay != dispatch.DefaultSettleDelay {
		t.Fatalf("durations: cooldown=%s settle=%s", dc.Cooldown, dc.SettleDelay)
	}
	if dc.ResultPhoto != "photo-id" {
		t.Fatalf("result photo = %q", dc.ResultPhoto)
	}

	cfg.Dispatch.SettleDelay = "soon"
	if _, err := mapDispatchConfig(cfg); err == nil || !strings.Contains(err.Error(), "dispatch.settle_delay") {
		t.Fatalf("expected settle_delay error, got %v", err)
	}
}

func TestMapLogConfigDefaultsToAdminChat(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.Logging.Telegram.Enabled = true
	lc := mapLogConfig(cfg)
	if !lc.Telegram.Enabled || lc.Telegram.ChatID != 42 {
		t.Fatalf("log chat = %+v", lc.Telegram)
	}

	cfg.Logging.Telegram.ChatID = -100
	if got := mapLogConfig(cfg).Telegram.ChatID; got != -100 {
		t.Fatalf("explicit chat = %d", got)
	}

	cfg.Logging.Telegram.ChatID = 0
	cfg.Telegram.AdminID = 0
	if mapLogConfig(cfg).Telegram.Enabled {
		t.Fatal("telegram logging without a chat should be disabled")
	}
}

func TestMapOptionalSections(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	if _, ok, err := mapProvisionConfig(cfg); ok || err != nil {
		t.Fatalf("provision disabled: ok=%v err=%v", ok, err)
	}
	if _, ok, err := mapEventsConfig(cfg); ok || err != nil {
		t.Fatalf("events absent: ok=%v err=%v", ok, err)
	}

	cfg.Provision = config.ProvisionConfig{Enabled: true, APIKey: "k", Timeout: "5s"}
	pc, ok, err := mapProvisionConfig(cfg)
	if err != nil || !ok || pc.Timeout != 5*time.Second {
		t.Fatalf("provision: %+v ok=%v err=%v", pc, ok, err)
	}

	cfg.Events = &config.EventsConfig{Enabled: true, URL: "amqp://localhost", DialDelay: "2s"}
	ec, ok, err := mapEventsConfig(cfg)
	if err != nil || !ok || ec.DialDelay != 2*time.Second || ec.URL != "amqp://localhost" {
		t.Fatalf("events: %+v ok=%v err=%v", ec, ok, err)
	}
}

func TestMapCredentials(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.Credentials = []config.CredentialConfig{
		{FetchToken: "a", IsSandbox: true},
		{FetchToken: "b", AppTransaction: "tx"},
	}
	sets := mapCredentials(cfg)
	if len(sets) != 2 || !sets[0].Sandbox || sets[1].AppTransaction != "tx" {
		t.Fatalf("sets = %+v", sets)
	}
}

func TestValidateMapping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := baseConfig()
	if err := validateMapping(ctx, cfg); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := baseConfig()
	bad.Jobs.Timezone = "Mars/Olympus"
	if err := validateMapping(ctx, bad); err == nil {
		t.Fatal("bad timezone accepted")
	}

	bad = baseConfig()
	bad.Ops.ReadTimeout = "-1s"
	if err := validateMapping(ctx, bad); err == nil {
		t.Fatal("negative duration accepted")
	}

	bad = baseConfig()
	bad.Telegram.PollTimeout = "x"
	if err := validateMapping(ctx, bad); err == nil {
		t.Fatal("bad poll timeout accepted")
	}
}
