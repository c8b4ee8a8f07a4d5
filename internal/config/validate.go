package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

var (
	validate   = validator.New()
	cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// Validate checks struct tags, duration strings, the timezone and cron specs.
// It is used on first load and before every hot-reload commit.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s: failed %q validation", fieldPath(fe.Namespace()), fe.Tag())
		}
		return err
	}

	durations := map[string]string{
		"telegram.poll_timeout":           cfg.Telegram.PollTimeout,
		"dispatch.cooldown":               cfg.Dispatch.Cooldown,
		"dispatch.settle_delay":           cfg.Dispatch.SettleDelay,
		"dispatch.broadcast_delay":        cfg.Dispatch.BroadcastDelay,
		"dispatch.progress_edit_interval": cfg.Dispatch.ProgressEditInterval,
		"storage.busy_timeout":            cfg.Storage.BusyTimeout,
		"remote.timeout":                  cfg.Remote.Timeout,
		"provision.timeout":               cfg.Provision.Timeout,
		"ops.read_timeout":                cfg.Ops.ReadTimeout,
		"ops.write_timeout":               cfg.Ops.WriteTimeout,
		"ops.idle_timeout":                cfg.Ops.IdleTimeout,
		"jobs.usage_retention":            cfg.Jobs.UsageRetention,
	}
	if cfg.Events != nil {
		durations["events.dial_delay"] = cfg.Events.DialDelay
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}

	if strings.EqualFold(cfg.Storage.Driver, "postgres") && strings.TrimSpace(cfg.Storage.DSN) == "" {
		return errors.New("storage.dsn is required for the postgres driver")
	}
	if tz := strings.TrimSpace(cfg.Jobs.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("jobs.timezone: invalid %q: %w", tz, err)
		}
	}
	for path, spec := range map[string]string{"jobs.prune_spec": cfg.Jobs.PruneSpec, "jobs.digest_spec": cfg.Jobs.DigestSpec} {
		spec = strings.TrimSpace(spec)
		if spec == "" || spec == "-" {
			continue
		}
		if _, err := cronParser.Parse(spec); err != nil {
			return fmt.Errorf("%s: invalid cron spec %q: %w", path, spec, err)
		}
	}
	return nil
}

// fieldPath turns "Config.Dispatch.Workers" into "dispatch.workers".
func fieldPath(ns string) string {
	ns = strings.TrimPrefix(ns, "Config.")
	parts := strings.Split(ns, ".")
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	var b strings.Builder
	rs := []rune(s)
	for i, r := range rs {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prevLower := rs[i-1] >= 'a' && rs[i-1] <= 'z'
			nextLower := i+1 < len(rs) && rs[i+1] >= 'a' && rs[i+1] <= 'z'
			if prevLower || (nextLower && rs[i-1] != '[') {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
