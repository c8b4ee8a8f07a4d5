package app

import (
	"context"
	"strings"
	"time"

	"upgradebot/internal/bot"
	"upgradebot/internal/config"
	"upgradebot/internal/jobs"
	logx "upgradebot/pkg/logx"
)

// reloadLoop applies committed configs to the running components.
func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	// Track last applied config to generate a safe diff summary for logx.
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if restart := config.RestartRequired(oldCfg, newCfg); len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("fields", joinOrNone(restart)))
	}

	// Logging first, so later warnings reach the right sinks.
	a.logs.Apply(mapLogConfig(newCfg))

	a.router.SetAdmin(newCfg.Telegram.AdminID)
	a.bot.Apply(bot.Config{DefaultLang: newCfg.Telegram.DefaultLang})

	if dc, err := mapDispatchConfig(newCfg); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		a.svc.Apply(dc)
	}
	a.reloadCredentials(c, newCfg)

	if oc, err := mapOpsConfig(newCfg); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else {
		a.ops.Reconfigure(c, oc)
	}

	if jc, err := mapJobsConfig(newCfg); err != nil {
		a.log.Warn("invalid jobs config; keeping previous", logx.Err(err))
	} else {
		a.applyJobs(c, oldCfg.Jobs.Enabled, jc)
	}

	a.log.Info("config reloaded", fields...)
}

// reloadCredentials swaps in config credentials unless uploaded sets exist.
func (a *App) reloadCredentials(c context.Context, cfg *config.Config) {
	ctx, cancel := context.WithTimeout(c, 5*time.Second)
	defer cancel()
	rows, err := a.store.GetCredentialSets(ctx)
	if err != nil {
		a.log.Warn("credential reload skipped", logx.Err(err))
		return
	}
	if len(rows) > 0 {
		return
	}
	sets := mapCredentials(cfg)
	a.svc.Credentials().Swap(sets)
	a.log.Debug("credentials reloaded from config", logx.Int("sets", len(sets)))
}

// applyJobs handles enable/disable on the fly. Apply alone restarts a running
// scheduler but never starts a stopped one.
func (a *App) applyJobs(c context.Context, wasEnabled bool, jc jobs.Config) {
	if err := a.jobs.Apply(jc); err != nil {
		a.log.Warn("jobs reconfigure failed", logx.Err(err))
		return
	}
	switch {
	case wasEnabled && !jc.Enabled:
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		a.jobs.Stop(stopCtx)
		cancel()
		a.log.Info("jobs disabled via config")
	case !wasEnabled && jc.Enabled:
		if err := a.jobs.Start(c); err != nil {
			a.log.Warn("jobs start failed", logx.Err(err))
			return
		}
		a.log.Info("jobs enabled via config")
	}
}
