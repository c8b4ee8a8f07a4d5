package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"upgradebot/internal/bot"
	"upgradebot/internal/config"
	"upgradebot/internal/dispatch"
	"upgradebot/internal/eventbus"
	"upgradebot/internal/events"
	"upgradebot/internal/jobs"
	"upgradebot/internal/observability/ops"
	"upgradebot/internal/remote"
	"upgradebot/internal/runtime/supervisor"
	"upgradebot/internal/storage"
	kit "upgradebot/internal/transport"
	telegram "upgradebot/internal/transport/telegram/adapter"
	"upgradebot/internal/transport/telegram/router"
	logx "upgradebot/pkg/logx"
	"upgradebot/pkg/systemd"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	router  *router.Router
	bot     *bot.Bot
	svc     *dispatch.Service
	jobs    *jobs.Service
	ops     *ops.Service
	sd      *systemd.Notifier

	// Set by the forwarder goroutine once the broker is reachable.
	rabbit    atomic.Pointer[events.Rabbit]
	forwarder atomic.Pointer[events.Forwarder]

	updates chan kit.Update
}

// New loads the config and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateMapping(ctx, cfg); err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogConfig(cfg), ad)
	bus := eventbus.New()

	stCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, stCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	fail := func(err error) (*App, error) {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}

	creds, fromStore, err := loadCredentials(ctx, store, cfg)
	if err != nil {
		return fail(err)
	}
	log.Info("credentials loaded", logx.Int("sets", len(creds)), logx.Bool("uploaded", fromStore))

	exCfg, err := mapExecutorConfig(cfg)
	if err != nil {
		return fail(err)
	}
	exec, err := remote.NewExecutor(exCfg, log.With(logx.String("comp", "remote")))
	if err != nil {
		return fail(err)
	}
	var prov dispatch.Provisioner
	if pc, ok, err := mapProvisionConfig(cfg); err != nil {
		return fail(err)
	} else if ok {
		p, err := remote.NewProvisioner(pc)
		if err != nil {
			return fail(err)
		}
		prov = p
	}

	dCfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return fail(err)
	}
	svc, err := dispatch.New(dCfg, dispatch.Deps{
		Store:       store,
		Messenger:   ad,
		Executor:    exec,
		Provisioner: prov,
		Bus:         bus,
		Credentials: creds,
		Log:         log.With(logx.String("comp", "dispatch")),
	})
	if err != nil {
		return fail(err)
	}

	rt := router.New(log.With(logx.String("comp", "router")), ad, cfg.Telegram.AdminID)
	b, err := bot.New(bot.Config{DefaultLang: cfg.Telegram.DefaultLang}, bot.Deps{
		Adapter:  ad,
		Router:   rt,
		Store:    store,
		Lookup:   exec,
		Dispatch: svc,
		Log:      log.With(logx.String("comp", "bot")),
	})
	if err != nil {
		return fail(err)
	}
	b.Register()

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		bus:     bus,
		store:   store,
		adapter: ad,
		router:  rt,
		bot:     b,
		svc:     svc,
		sd:      systemd.New(log.With(logx.String("comp", "systemd"))),
		updates: make(chan kit.Update, 256),
	}

	jCfg, err := mapJobsConfig(cfg)
	if err != nil {
		return fail(err)
	}
	a.jobs = jobs.New(jCfg, jobs.Deps{
		Pruner: usagePruner{store: store},
		Digest: b.Digest,
		Notify: a.notifyAdmin,
		Bus:    bus,
		Log:    log.With(logx.String("comp", "jobs")),
	})

	oCfg, err := mapOpsConfig(cfg)
	if err != nil {
		return fail(err)
	}
	a.ops = ops.New(oCfg, ops.Sources{Ready: store.Ping, Queue: a.queueSnapshot}, log.With(logx.String("comp", "ops")))

	return a, nil
}

// loadCredentials prefers sets uploaded with /settoken over the config file.
func loadCredentials(ctx context.Context, store storage.Store, cfg *config.Config) ([]dispatch.CredentialSet, bool, error) {
	rows, err := store.GetCredentialSets(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("load credential sets: %w", err)
	}
	if len(rows) > 0 {
		return dispatch.FromTokenSets(rows), true, nil
	}
	return mapCredentials(cfg), false, nil
}

// notifyAdmin delivers job output to the admin chat.
func (a *App) notifyAdmin(ctx context.Context, text string) error {
	admin := a.cfgm.Get().Telegram.AdminID
	if admin == 0 {
		return errors.New("telegram.admin_id is not set")
	}
	_, err := a.adapter.SendText(ctx, kit.ChatTarget{ChatID: admin}, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

type queueView struct {
	Dispatch dispatch.Snapshot `json:"dispatch"`
	Jobs     []jobs.JobStatus  `json:"jobs"`
	Events   *forwardStats     `json:"events,omitempty"`
	Dropped  uint64            `json:"bus_dropped"`
}

type forwardStats struct {
	Sent   uint64 `json:"sent"`
	Failed uint64 `json:"failed"`
}

func (a *App) queueSnapshot() any {
	v := queueView{Dispatch: a.svc.Snapshot(), Jobs: a.jobs.Snapshot()}
	if d, ok := a.bus.(interface{ Dropped() uint64 }); ok {
		v.Dropped = d.Dropped()
	}
	if f := a.forwarder.Load(); f != nil {
		sent, failed := f.Stats()
		v.Events = &forwardStats{Sent: sent, Failed: failed}
	}
	return v
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateMapping)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if err := a.svc.Start(a.sup.Context()); err != nil {
		return err
	}

	menuCtx, cancel := context.WithTimeout(a.sup.Context(), 10*time.Second)
	if err := a.router.PublishMenu(menuCtx); err != nil {
		a.log.Warn("command menu publish failed", logx.Err(err))
	}
	cancel()

	a.sup.Go("router", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})

	if err := a.jobs.Start(a.sup.Context()); err != nil {
		return err
	}
	a.ops.Start(a.sup.Context())
	a.startEvents(a.cfgm.Get())

	annCtx, cancel := context.WithTimeout(a.sup.Context(), 10*time.Second)
	a.bot.Announce(annCtx, a.cfgm.Get().Telegram.AdminID)
	cancel()

	// Optional: log events for observability/debug.
	evCh, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-evCh:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if a.sd.Ready() {
		a.sd.Status("serving")
	}
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return a.sd.Watchdog(c, a.store.Ping)
	})

	a.log.Info("app started", logx.Int("credentials", a.svc.Credentials().Len()))
	return nil
}

// startEvents dials the broker in the background so a slow broker never
// delays startup. Delivery failures are logged by the forwarder.
func (a *App) startEvents(cfg *config.Config) {
	rc, ok, err := mapEventsConfig(cfg)
	if err != nil || !ok {
		return
	}
	log := a.log.With(logx.String("comp", "events"))
	a.sup.Go0("events.forward", func(c context.Context) {
		r, err := events.DialRabbit(c, rc, log)
		if err != nil {
			if c.Err() == nil {
				log.Error("event broker unavailable; forwarding disabled", logx.Err(err))
			}
			return
		}
		a.rabbit.Store(r)
		f := events.NewForwarder(a.bus, r, log)
		a.forwarder.Store(f)
		f.Run(c)
	})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			elapsed := time.Since(start)
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", elapsed),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	step("jobs", 2*time.Second, func(c context.Context) error { a.jobs.Stop(c); return nil })
	step("ops", 1*time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("dispatch", 4*time.Second, func(c context.Context) error { return a.svc.Stop(c) })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })

	// Wait for supervised goroutines (router, forwarder, config watch/reload) before closing what they use.
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	step("events", 1*time.Second, func(c context.Context) error {
		if r := a.rabbit.Load(); r != nil {
			return r.Close()
		}
		return nil
	})
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ",")
}
