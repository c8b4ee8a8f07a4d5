package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"upgradebot/internal/eventbus"
	"upgradebot/internal/i18n"
	"upgradebot/internal/runtime/supervisor"
	"upgradebot/internal/storage"
	kit "upgradebot/internal/transport"
	logx "upgradebot/pkg/logx"
)

// Event types published on the bus.
const (
	EventQueued    = "request.queued"
	EventSucceeded = "request.succeeded"
	EventFailed    = "request.failed"
	EventLimited   = "request.limited"
	EventAbandoned = "request.abandoned"
)

// RequestEvent is the payload of every request.* event.
type RequestEvent struct {
	ItemID     string `json:"item_id"`
	UserID     int64  `json:"user_id"`
	Target     string `json:"target"`
	Worker     int    `json:"worker,omitempty"`
	Credential int    `json:"credential,omitempty"`
	Position   int    `json:"position,omitempty"`
	Diagnostic string `json:"diagnostic,omitempty"`
	ElapsedMS  int64  `json:"elapsed_ms,omitempty"`
}

// WorkerPool runs N long-lived workers draining the Dispatcher. Worker k
// uses credential set (k-1) mod pool size, re-read for every item.
type WorkerPool struct {
	n       int
	queue   *Dispatcher
	pending *PendingRegistry
	creds   *CredentialPool
	limiter *RateLimiter

	store Store
	msgr  Messenger
	exec  Executor
	prov  Provisioner
	bus   eventbus.Bus
	cfg   func() Config
	log   logx.Logger

	sleep func(ctx context.Context, d time.Duration) error

	busy      atomic.Int64
	processed atomic.Uint64
}

// Start launches the workers under sup. Each worker restarts if its loop
// ever returns an error; item-level panics are handled inside the loop.
func (p *WorkerPool) Start(sup *supervisor.Supervisor) {
	for i := 1; i <= p.n; i++ {
		ordinal := i
		sup.GoRestart(fmt.Sprintf("dispatch.worker.%d", ordinal), func(ctx context.Context) error {
			return p.loop(ctx, ordinal)
		}, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	}
	p.log.Info("dispatch workers started", logx.Int("workers", p.n))
}

func (p *WorkerPool) loop(ctx context.Context, ordinal int) error {
	log := p.log.With(logx.Int("worker", ordinal))
	log.Debug("worker started")
	for {
		it, err := p.queue.Pop(ctx)
		if err != nil {
			log.Debug("worker stopped")
			return nil
		}
		p.handle(ctx, ordinal, it, log)
		p.processed.Add(1)
	}
}

func (p *WorkerPool) handle(ctx context.Context, ordinal int, it QueueItem, log logx.Logger) {
	p.busy.Add(1)
	defer p.busy.Add(-1)
	start := time.Now()
	log = log.With(logx.String("item", it.ID), logx.Int64("user_id", it.UserID), logx.String("target", it.Target))

	defer func() {
		if r := recover(); r != nil {
			log.Error("worker panicked; item abandoned", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			p.publish(EventAbandoned, it, RequestEvent{Worker: ordinal, Diagnostic: fmt.Sprint(r)})
		}
	}()

	p.pending.Dequeue(ctx, it)

	creds, idx, haveCreds := p.creds.ForWorker(ordinal)

	allowed, err := p.limiter.CheckCanRequest(ctx, it.UserID)
	if err != nil {
		log.Error("limit re-check failed; item abandoned", logx.Err(err))
		p.edit(ctx, it.Origin, i18n.T(it.Lang, "busy"))
		p.publish(EventAbandoned, it, RequestEvent{Worker: ordinal, Diagnostic: err.Error()})
		return
	}
	if !allowed {
		log.Info("limit reached at dispatch")
		p.edit(ctx, it.Origin, i18n.T(it.Lang, "limit_reached"))
		p.publish(EventLimited, it, RequestEvent{Worker: ordinal})
		return
	}

	if !haveCreds {
		log.Warn("no credential sets loaded")
		p.fail(ctx, ordinal, -1, it, "no credential sets configured", start, log)
		return
	}

	cfg := p.cfg()
	tail := newProgressTail(fmt.Sprintf("[Worker #%d] Processing Request...", ordinal), cfg.ProgressTail)
	renderer := startProgress(ctx, p.msgr, it.Origin, tail, cfg.ProgressEditInterval, log)
	defer renderer.Stop()

	log.Info("processing", logx.Int("credential", idx+1), logx.Bool("sandbox", creds.Sandbox))
	_, err = p.exec.Execute(ctx, it.Target, creds, tail.Append)
	if err != nil {
		renderer.Stop()
		p.fail(ctx, ordinal, idx, it, diagnostic(err), start, log)
		return
	}

	p.succeed(ctx, ordinal, idx, it, tail, renderer, start, log)
}

func (p *WorkerPool) succeed(ctx context.Context, ordinal, idx int, it QueueItem, tail *progressTail, renderer *progressRenderer, start time.Time, log logx.Logger) {
	p.logRequest(ctx, it, storage.StatusSuccess, log)
	if !p.limiter.IsPrivileged(it.UserID) {
		if err := p.limiter.Increment(ctx, it.UserID); err != nil {
			log.Warn("usage increment failed", logx.Err(err))
		}
	}

	dns := ""
	if p.prov != nil {
		prof, err := p.prov.Provision(ctx, tail.Append)
		if err != nil {
			log.Warn("provisioning failed", logx.Err(err))
		}
		dns = renderProvision(it.Lang, prof, err)
	}
	renderer.Stop()
	caption := renderSuccess(it, dns)

	cfg := p.cfg()
	if err := p.sleep(ctx, cfg.SettleDelay); err != nil {
		return
	}

	p.deliver(ctx, "delete progress", func(ctx context.Context) error {
		return p.msgr.DeleteMessage(ctx, it.Origin)
	})

	to := it.Origin.Target()
	sentPhoto := false
	if photo := p.resultPhoto(ctx, cfg); photo != "" {
		dctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
		_, err := p.msgr.SendPhoto(dctx, to, photo, caption, &kit.SendOptions{ParseMode: "HTML"})
		cancel()
		if err != nil {
			log.Warn("result photo failed; falling back to text", logx.Err(err))
		} else {
			sentPhoto = true
		}
	}
	if !sentPhoto {
		p.deliver(ctx, "result text", func(ctx context.Context) error {
			_, err := p.msgr.SendText(ctx, to, caption, htmlOpts())
			return err
		})
	}

	elapsed := time.Since(start)
	log.Info("request succeeded", logx.Duration("took", elapsed))
	p.publish(EventSucceeded, it, RequestEvent{Worker: ordinal, Credential: idx + 1, ElapsedMS: elapsed.Milliseconds()})

	// Hold this worker (and its credential set) before the next item.
	_ = p.sleep(ctx, cfg.Cooldown)
}

func (p *WorkerPool) fail(ctx context.Context, ordinal, idx int, it QueueItem, diag string, start time.Time, log logx.Logger) {
	p.logRequest(ctx, it, storage.StatusFail, log)
	p.edit(ctx, it.Origin, renderFailure(it.Lang, diag))
	elapsed := time.Since(start)
	log.Info("request failed", logx.String("diag", diag), logx.Duration("took", elapsed))
	p.publish(EventFailed, it, RequestEvent{Worker: ordinal, Credential: idx + 1, Diagnostic: diag, ElapsedMS: elapsed.Milliseconds()})
}

func (p *WorkerPool) resultPhoto(ctx context.Context, cfg Config) string {
	v, ok, err := p.store.GetConfig(ctx, ConfigKeyResultPhoto)
	if err != nil {
		p.log.Debug("result photo lookup failed", logx.Err(err))
	}
	if ok && strings.TrimSpace(v) != "" {
		return v
	}
	return cfg.ResultPhoto
}

func (p *WorkerPool) logRequest(ctx context.Context, it QueueItem, status string, log logx.Logger) {
	err := p.store.AppendRequestLog(ctx, storage.RequestLog{UserID: it.UserID, Target: it.Target, Status: status})
	if err != nil {
		log.Warn("request log append failed", logx.String("status", status), logx.Err(err))
	}
}

func (p *WorkerPool) edit(ctx context.Context, ref kit.MessageRef, text string) {
	p.deliver(ctx, "edit origin", func(ctx context.Context) error {
		return p.msgr.EditText(ctx, ref, text, htmlOpts())
	})
}

// deliver swallows transport errors; they never change an item's outcome.
func (p *WorkerPool) deliver(ctx context.Context, what string, fn func(ctx context.Context) error) {
	dctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()
	if err := fn(dctx); err != nil && !errors.Is(err, kit.ErrNotModified) {
		p.log.Debug("delivery failed", logx.String("what", what), logx.Err(err))
	}
}

func (p *WorkerPool) publish(typ string, it QueueItem, ev RequestEvent) {
	if p.bus == nil {
		return
	}
	ev.ItemID, ev.UserID, ev.Target = it.ID, it.UserID, it.Target
	p.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

func (p *WorkerPool) Busy() int { return int(p.busy.Load()) }

func (p *WorkerPool) Processed() uint64 { return p.processed.Load() }
