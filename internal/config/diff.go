package config

import (
	"reflect"
	"sort"
	"strings"

	logx "upgradebot/pkg/logx"
)

// SummarizeConfigChange returns the sorted list of changed sections and safe
// attrs for logging. Secrets (tokens, keys, passwords, DSNs) are never included;
// only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.Int64("telegram.admin_id", newCfg.Telegram.AdminID),
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.String("telegram.default_lang", newCfg.Telegram.DefaultLang),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Int("dispatch.workers", newCfg.Dispatch.Workers),
			logx.Int("dispatch.daily_limit", newCfg.Dispatch.DailyLimit),
			logx.String("dispatch.cooldown", strings.TrimSpace(newCfg.Dispatch.Cooldown)),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
		)
	}

	if oldCfg.Remote != newCfg.Remote {
		changed = append(changed, "remote")
		attrs = append(attrs,
			logx.String("remote.base_url", newCfg.Remote.BaseURL),
			logx.Bool("remote.api_key_set", newCfg.Remote.APIKey != ""),
		)
	}

	if oldCfg.Provision != newCfg.Provision {
		changed = append(changed, "provision")
		attrs = append(attrs,
			logx.Bool("provision.enabled", newCfg.Provision.Enabled),
			logx.Bool("provision.api_key_set", newCfg.Provision.APIKey != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Credentials, newCfg.Credentials) {
		changed = append(changed, "credentials")
		attrs = append(attrs, logx.Int("credentials.count", len(newCfg.Credentials)))
	}

	if !ptrEqual(oldCfg.Redis, newCfg.Redis) {
		changed = append(changed, "redis")
		attrs = append(attrs, logx.Bool("redis.enabled", newCfg.Redis != nil && newCfg.Redis.Enabled))
	}

	if !ptrEqual(oldCfg.Events, newCfg.Events) {
		changed = append(changed, "events")
		attrs = append(attrs, logx.Bool("events.enabled", newCfg.Events != nil && newCfg.Events.Enabled))
	}

	if oldCfg.Ops != newCfg.Ops {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", strings.TrimSpace(newCfg.Ops.Addr)),
			logx.Bool("ops.token_set", newCfg.Ops.Token != ""),
		)
	}

	if oldCfg.Jobs != newCfg.Jobs {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Bool("jobs.enabled", newCfg.Jobs.Enabled),
			logx.String("jobs.prune_spec", newCfg.Jobs.PruneSpec),
			logx.String("jobs.digest_spec", newCfg.Jobs.DigestSpec),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists the settings that changed between oldCfg and newCfg
// but are only read at startup.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	add := func(changed bool, name string) {
		if changed {
			out = append(out, name)
		}
	}
	add(oldCfg.Telegram.Token != newCfg.Telegram.Token, "telegram.token")
	add(oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout, "telegram.poll_timeout")
	add(oldCfg.Dispatch.Workers != newCfg.Dispatch.Workers, "dispatch.workers")
	add(oldCfg.Storage != newCfg.Storage, "storage")
	add(!ptrEqual(oldCfg.Redis, newCfg.Redis), "redis")
	add(!ptrEqual(oldCfg.Events, newCfg.Events), "events")
	add(oldCfg.Remote != newCfg.Remote, "remote")
	add(oldCfg.Provision != newCfg.Provision, "provision")
	return out
}

func ptrEqual[T comparable](a, b *T) bool {
	switch {
	case a == nil && b == nil:
		return true
	case a == nil || b == nil:
		return false
	default:
		return *a == *b
	}
}
