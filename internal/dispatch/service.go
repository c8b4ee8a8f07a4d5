package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"upgradebot/internal/eventbus"
	"upgradebot/internal/runtime/supervisor"
	kit "upgradebot/internal/transport"
	logx "upgradebot/pkg/logx"
)

// Config holds the pipeline tunables. Zero values take the defaults below.
type Config struct {
	Workers              int
	DailyLimit           int
	PrivilegedID         int64
	Cooldown             time.Duration
	SettleDelay          time.Duration
	BroadcastDelay       time.Duration
	BroadcastStride      int
	ProgressTail         int
	ProgressEditInterval time.Duration
	// ResultPhoto is used when the store has no result photo configured.
	ResultPhoto string
}

const (
	DefaultWorkers        = 3
	DefaultCooldown       = 45 * time.Second
	DefaultSettleDelay    = 2 * time.Second
	DefaultBroadcastDelay = 50 * time.Millisecond
)

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.DailyLimit <= 0 {
		c.DailyLimit = DefaultDailyLimit
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.BroadcastDelay <= 0 {
		c.BroadcastDelay = DefaultBroadcastDelay
	}
	if c.BroadcastStride <= 0 {
		c.BroadcastStride = DefaultBroadcastStride
	}
	if c.ProgressTail <= 0 {
		c.ProgressTail = DefaultProgressTail
	}
	if c.ProgressEditInterval <= 0 {
		c.ProgressEditInterval = time.Second
	}
	return c
}

// Deps are the collaborators of the pipeline. Provisioner and Bus are optional.
type Deps struct {
	Store       Store
	Messenger   Messenger
	Executor    Executor
	Provisioner Provisioner
	Bus         eventbus.Bus
	Credentials []CredentialSet
	Log         logx.Logger
}

// Snapshot is the runtime state exposed to /stats and the ops server.
type Snapshot struct {
	Workers     int                 `json:"workers"`
	BusyWorkers int                 `json:"busy_workers"`
	QueueDepth  int                 `json:"queue_depth"`
	Pending     int                 `json:"pending"`
	Credentials int                 `json:"credentials"`
	Processed   uint64              `json:"processed"`
	DailyLimit  int                 `json:"daily_limit"`
	Broadcasts  []BroadcastSnapshot `json:"broadcasts,omitempty"`
}

// Service is the entry point used by the chat layer.
type Service struct {
	cfg     atomic.Pointer[Config]
	limiter *RateLimiter
	creds   *CredentialPool
	pending *PendingRegistry
	queue   *Dispatcher
	pool    *WorkerPool

	msgr Messenger
	bus  eventbus.Bus
	log  logx.Logger

	mu         sync.Mutex
	sup        *supervisor.Supervisor
	broadcasts map[string]*BroadcastJob
}

func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("dispatch: store is required")
	}
	if deps.Messenger == nil {
		return nil, errors.New("dispatch: messenger is required")
	}
	if deps.Executor == nil {
		return nil, errors.New("dispatch: executor is required")
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()

	s := &Service{
		limiter:    NewRateLimiter(deps.Store, cfg.DailyLimit, cfg.PrivilegedID),
		creds:      NewCredentialPool(deps.Credentials, log),
		pending:    NewPendingRegistry(deps.Messenger, log),
		queue:      NewDispatcher(),
		msgr:       deps.Messenger,
		bus:        deps.Bus,
		log:        log,
		broadcasts: map[string]*BroadcastJob{},
	}
	s.cfg.Store(&cfg)
	s.pool = &WorkerPool{
		n:       cfg.Workers,
		queue:   s.queue,
		pending: s.pending,
		creds:   s.creds,
		limiter: s.limiter,
		store:   deps.Store,
		msgr:    deps.Messenger,
		exec:    deps.Executor,
		prov:    deps.Provisioner,
		bus:     deps.Bus,
		cfg:     s.config,
		log:     log,
		sleep:   sleepCtx,
	}
	return s, nil
}

func (s *Service) config() Config { return *s.cfg.Load() }

// Apply updates tunables that are safe to change at runtime. The worker
// count is fixed for the life of the process.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	cfg.Workers = s.config().Workers
	s.cfg.Store(&cfg)
	s.limiter.SetLimit(cfg.DailyLimit)
	s.limiter.SetPrivileged(cfg.PrivilegedID)
}

func (s *Service) Limiter() *RateLimiter { return s.limiter }

func (s *Service) Credentials() *CredentialPool { return s.creds }

// Start launches the worker pool. Calling it twice is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}
	s.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(s.log))
	s.pool.Start(s.sup)
	return nil
}

// Stop cancels workers and running broadcasts and waits for them.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Stop(ctx)
}

// Submit accepts a request: limit check, enqueue with position broadcast,
// then push to the workers. It returns the 1-based queue position.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (int, error) {
	allowed, err := s.limiter.CheckCanRequest(ctx, req.UserID)
	if err != nil {
		return 0, err
	}
	if !allowed {
		return 0, ErrRateLimited
	}
	it := newItem(req, time.Now())
	pos := s.pending.Enqueue(ctx, it, s.queue.Push)
	s.log.Info("request queued",
		logx.String("item", it.ID), logx.Int64("user_id", it.UserID), logx.String("target", it.Target), logx.Int("position", pos))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventQueued, Data: RequestEvent{ItemID: it.ID, UserID: it.UserID, Target: it.Target, Position: pos}})
	}
	return pos, nil
}

// StartBroadcast runs a broadcast in the background and returns its handle
// immediately. The job is bound to the service lifetime, not to ctx.
func (s *Service) StartBroadcast(ctx context.Context, userIDs []int64, text string, surface kit.MessageRef) *BroadcastJob {
	job := newBroadcastJob(userIDs, text, surface, s.config(), s.msgr, s.bus, s.log)

	s.mu.Lock()
	s.pruneBroadcastsLocked()
	s.broadcasts[job.ID()] = job
	sup := s.sup
	s.mu.Unlock()

	if sup != nil {
		sup.Go0("dispatch.broadcast."+job.ID(), job.Run)
	} else {
		go job.Run(context.WithoutCancel(ctx))
	}
	return job
}

// Broadcast returns a job started by StartBroadcast.
func (s *Service) Broadcast(id string) (*BroadcastJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.broadcasts[id]
	return j, ok
}

const broadcastRetention = time.Hour

func (s *Service) pruneBroadcastsLocked() {
	now := time.Now()
	for id, j := range s.broadcasts {
		snap := j.Snapshot()
		if !snap.Running && !snap.FinishedAt.IsZero() && now.Sub(snap.FinishedAt) > broadcastRetention {
			delete(s.broadcasts, id)
		}
	}
}

func (s *Service) Snapshot() Snapshot {
	cfg := s.config()
	snap := Snapshot{
		Workers:     cfg.Workers,
		BusyWorkers: s.pool.Busy(),
		QueueDepth:  s.queue.Len(),
		Pending:     s.pending.Len(),
		Credentials: s.creds.Len(),
		Processed:   s.pool.Processed(),
		DailyLimit:  s.limiter.Limit(),
	}
	s.mu.Lock()
	for _, j := range s.broadcasts {
		snap.Broadcasts = append(snap.Broadcasts, j.Snapshot())
	}
	s.mu.Unlock()
	sort.Slice(snap.Broadcasts, func(a, b int) bool {
		return snap.Broadcasts[a].StartedAt.Before(snap.Broadcasts[b].StartedAt)
	})
	return snap
}
