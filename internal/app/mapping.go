package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"upgradebot/internal/config"
	"upgradebot/internal/dispatch"
	"upgradebot/internal/events"
	"upgradebot/internal/jobs"
	"upgradebot/internal/observability/ops"
	"upgradebot/internal/remote"
	"upgradebot/internal/storage"
	logx "upgradebot/pkg/logx"
)

const defaultSQLitePath = "./data/upgradebot.db"

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	out := storage.Config{Driver: driver}
	switch driver {
	case "sqlite":
		out.Path = strings.TrimSpace(sc.Path)
		if out.Path == "" {
			out.Path = defaultSQLitePath
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		out.BusyTimeout = busy
	case "postgres":
		out.DSN = strings.TrimSpace(sc.DSN)
		if out.DSN == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	if r := cfg.Redis; r != nil && r.Enabled {
		out.Redis = &storage.RedisConfig{Addr: r.Addr, Password: r.Password, DB: r.DB, Prefix: r.Prefix}
	}
	return out, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	d := cfg.Dispatch
	out := dispatch.Config{
		Workers:         d.Workers,
		DailyLimit:      d.DailyLimit,
		PrivilegedID:    cfg.Telegram.AdminID,
		BroadcastStride: d.BroadcastStride,
		ProgressTail:    d.ProgressTail,
		ResultPhoto:     strings.TrimSpace(cfg.Telegram.DonatePhoto),
	}
	var err error
	if out.Cooldown, err = config.ParseDurationOrDefault("dispatch.cooldown", d.Cooldown, dispatch.DefaultCooldown); err != nil {
		return dispatch.Config{}, err
	}
	if out.SettleDelay, err = config.ParseDurationOrDefault("dispatch.settle_delay", d.SettleDelay, dispatch.DefaultSettleDelay); err != nil {
		return dispatch.Config{}, err
	}
	if out.BroadcastDelay, err = config.ParseDurationOrDefault("dispatch.broadcast_delay", d.BroadcastDelay, dispatch.DefaultBroadcastDelay); err != nil {
		return dispatch.Config{}, err
	}
	if out.ProgressEditInterval, err = config.ParseDurationOrDefault("dispatch.progress_edit_interval", d.ProgressEditInterval, time.Second); err != nil {
		return dispatch.Config{}, err
	}
	return out, nil
}

// mapLogConfig sends the log chat to the admin when no chat is configured.
func mapLogConfig(cfg *config.Config) logx.Config {
	lt := cfg.Logging.Telegram
	chat := lt.ChatID
	if chat == 0 {
		chat = cfg.Telegram.AdminID
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    lt.Enabled && chat != 0,
			ChatID:     chat,
			ThreadID:   lt.ThreadID,
			MinLevel:   lt.MinLevel,
			RatePerSec: lt.RatePerSec,
		},
	}
}

func mapExecutorConfig(cfg *config.Config) (remote.ExecutorConfig, error) {
	timeout, err := config.ParseDurationField("remote.timeout", cfg.Remote.Timeout)
	if err != nil {
		return remote.ExecutorConfig{}, err
	}
	return remote.ExecutorConfig{BaseURL: cfg.Remote.BaseURL, APIKey: cfg.Remote.APIKey, Timeout: timeout}, nil
}

// mapProvisionConfig returns ok=false when provisioning is disabled.
func mapProvisionConfig(cfg *config.Config) (remote.ProvisionerConfig, bool, error) {
	p := cfg.Provision
	if !p.Enabled {
		return remote.ProvisionerConfig{}, false, nil
	}
	timeout, err := config.ParseDurationField("provision.timeout", p.Timeout)
	if err != nil {
		return remote.ProvisionerConfig{}, false, err
	}
	return remote.ProvisionerConfig{
		BaseURL:      p.BaseURL,
		APIKey:       p.APIKey,
		LinkTemplate: p.LinkTemplate,
		Timeout:      timeout,
	}, true, nil
}

// mapEventsConfig returns ok=false when forwarding is disabled.
func mapEventsConfig(cfg *config.Config) (events.RabbitConfig, bool, error) {
	e := cfg.Events
	if e == nil || !e.Enabled {
		return events.RabbitConfig{}, false, nil
	}
	delay, err := config.ParseDurationField("events.dial_delay", e.DialDelay)
	if err != nil {
		return events.RabbitConfig{}, false, err
	}
	return events.RabbitConfig{URL: e.URL, Exchange: e.Exchange, DialAttempts: e.DialAttempts, DialDelay: delay}, true, nil
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	o := cfg.Ops
	out := ops.Config{
		Enabled:       o.Enabled,
		Addr:          strings.TrimSpace(o.Addr),
		Token:         o.Token,
		AllowInsecure: o.AllowInsecure,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationField("ops.read_timeout", o.ReadTimeout); err != nil {
		return ops.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("ops.write_timeout", o.WriteTimeout); err != nil {
		return ops.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationField("ops.idle_timeout", o.IdleTimeout); err != nil {
		return ops.Config{}, err
	}
	return out, nil
}

func mapJobsConfig(cfg *config.Config) (jobs.Config, error) {
	j := cfg.Jobs
	retention, err := config.ParseDurationField("jobs.usage_retention", j.UsageRetention)
	if err != nil {
		return jobs.Config{}, err
	}
	if tz := strings.TrimSpace(j.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return jobs.Config{}, fmt.Errorf("jobs.timezone: invalid %q: %w", tz, err)
		}
	}
	return jobs.Config{
		Enabled:        j.Enabled,
		Timezone:       j.Timezone,
		PruneSpec:      j.PruneSpec,
		UsageRetention: retention,
		DigestSpec:     j.DigestSpec,
	}, nil
}

func mapCredentials(cfg *config.Config) []dispatch.CredentialSet {
	out := make([]dispatch.CredentialSet, 0, len(cfg.Credentials))
	for _, c := range cfg.Credentials {
		out = append(out, dispatch.CredentialSet{
			FetchToken:     c.FetchToken,
			AppTransaction: c.AppTransaction,
			HashParams:     c.HashParams,
			HashHeaders:    c.HashHeaders,
			Sandbox:        c.IsSandbox,
		})
	}
	return out
}

// validateMapping rejects configs that pass struct validation but cannot be
// turned into component settings.
func validateMapping(_ context.Context, cfg *config.Config) error {
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDispatchConfig(cfg); err != nil {
		return err
	}
	if _, err := mapExecutorConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapProvisionConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapEventsConfig(cfg); err != nil {
		return err
	}
	if _, err := mapOpsConfig(cfg); err != nil {
		return err
	}
	if _, err := mapJobsConfig(cfg); err != nil {
		return err
	}
	return nil
}

// usagePruner adapts the store's day-keyed prune to the jobs cutoff time.
type usagePruner struct{ store storage.Store }

func (p usagePruner) PruneUsage(ctx context.Context, before time.Time) (int64, error) {
	return p.store.PruneUsage(ctx, before.Format("2006-01-02"))
}
