package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"upgradebot/internal/eventbus"
	logx "upgradebot/pkg/logx"
)

const (
	JobPrune  = "usage.prune"
	JobDigest = "stats.digest"

	DefaultPruneSpec      = "@daily"
	DefaultDigestSpec     = "0 0 9 * * *"
	DefaultUsageRetention = 30 * 24 * time.Hour

	jobTimeout = 2 * time.Minute

	EventJobFinished = "job.finished"
)

type Config struct {
	Enabled        bool
	Timezone       string
	PruneSpec      string
	UsageRetention time.Duration
	// DigestSpec "-" disables the digest.
	DigestSpec string
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.PruneSpec) == "" {
		c.PruneSpec = DefaultPruneSpec
	}
	if c.UsageRetention <= 0 {
		c.UsageRetention = DefaultUsageRetention
	}
	if strings.TrimSpace(c.DigestSpec) == "" {
		c.DigestSpec = DefaultDigestSpec
	}
	return c
}

// Pruner deletes usage rows for days before the cutoff.
type Pruner interface {
	PruneUsage(ctx context.Context, before time.Time) (int64, error)
}

type Deps struct {
	Pruner Pruner
	// Digest renders the admin summary; Notify delivers it. Both are needed
	// for the digest job to be registered.
	Digest func(ctx context.Context) (string, error)
	Notify func(ctx context.Context, text string) error
	Bus    eventbus.Bus
	Log    logx.Logger
}

// JobStatus is one scheduled job as seen by /queue and the digest.
type JobStatus struct {
	Name     string    `json:"name"`
	Spec     string    `json:"spec"`
	Next     time.Time `json:"next,omitempty"`
	LastRun  time.Time `json:"last_run,omitempty"`
	LastErr  string    `json:"last_error,omitempty"`
	Runs     uint64    `json:"runs"`
	Failures uint64    `json:"failures"`
}

// JobEvent is published after every run.
type JobEvent struct {
	Name      string `json:"name"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Error     string `json:"error,omitempty"`
}

type jobDef struct {
	name    string
	spec    string
	run     func(ctx context.Context) error
	entryID cron.EntryID

	running  bool
	lastRun  time.Time
	lastErr  string
	runs     uint64
	failures uint64
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	deps   Deps
	log    logx.Logger
	parser cron.Parser
	loc    *time.Location
	c      *cron.Cron
	defs   map[string]*jobDef
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, deps Deps) *Service {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:  cfg.withDefaults(),
		deps: deps,
		log:  log,
		// SecondOptional accepts both 5-field and 6-field specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		defs:   map[string]*jobDef{},
		now:    time.Now,
	}
}

// Start registers the jobs and starts triggering. No-op when disabled or running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	if !s.cfg.Enabled {
		s.log.Info("jobs disabled")
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	if err := s.startLocked(); err != nil {
		s.cancel()
		return err
	}
	return nil
}

func (s *Service) startLocked() error {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	s.defs = map[string]*jobDef{}

	if s.deps.Pruner != nil {
		if err := s.addLocked(JobPrune, s.cfg.PruneSpec, s.prune); err != nil {
			return err
		}
	}
	if s.deps.Digest != nil && s.deps.Notify != nil && s.cfg.DigestSpec != "-" {
		if err := s.addLocked(JobDigest, s.cfg.DigestSpec, s.digest); err != nil {
			return err
		}
	}
	s.c.Start()
	s.log.Info("jobs started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.defs)))
	return nil
}

func (s *Service) addLocked(name, spec string, run func(ctx context.Context) error) error {
	d := &jobDef{name: name, spec: strings.TrimSpace(spec), run: run}
	job := cron.FuncJob(func() { s.execute(d) })

	if every, ok := strings.CutPrefix(d.spec, "@every"); ok {
		if dur, err := time.ParseDuration(strings.TrimSpace(every)); err == nil && dur > 0 {
			sched, jitter := intervalWithSpread(dur, s.now().In(s.loc), name)
			d.entryID = s.c.Schedule(sched, job)
			s.defs[name] = d
			s.log.Debug("job scheduled", logx.String("job", name), logx.String("spec", d.spec), logx.Duration("spread", jitter))
			return nil
		}
	}
	id, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return fmt.Errorf("jobs: %s: bad spec %q: %w", name, d.spec, err)
	}
	d.entryID = id
	s.defs[name] = d
	s.log.Debug("job scheduled", logx.String("job", name), logx.String("spec", d.spec))
	return nil
}

// execute runs one job, skipping it when the previous run is still going.
func (s *Service) execute(d *jobDef) {
	s.mu.Lock()
	if d.running || s.ctx == nil {
		s.mu.Unlock()
		s.log.Debug("job skipped", logx.String("job", d.name))
		return
	}
	d.running = true
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	start := s.now()
	err := s.runGuarded(ctx, d)
	elapsed := time.Since(start)

	s.mu.Lock()
	d.running = false
	d.lastRun = start
	d.runs++
	d.lastErr = ""
	if err != nil {
		d.failures++
		d.lastErr = err.Error()
	}
	s.mu.Unlock()

	ev := JobEvent{Name: d.name, ElapsedMS: elapsed.Milliseconds()}
	if err != nil {
		ev.Error = err.Error()
		s.log.Warn("job failed", logx.String("job", d.name), logx.Duration("took", elapsed), logx.Err(err))
	} else {
		s.log.Info("job finished", logx.String("job", d.name), logx.Duration("took", elapsed))
	}
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(eventbus.Event{Type: EventJobFinished, Data: ev})
	}
}

func (s *Service) runGuarded(ctx context.Context, d *jobDef) (err error) {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked", logx.String("job", d.name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.run(ctx)
}

func (s *Service) prune(ctx context.Context) error {
	s.mu.Lock()
	retention, loc := s.cfg.UsageRetention, s.loc
	s.mu.Unlock()
	cutoff := s.now().In(loc).Add(-retention)
	n, err := s.deps.Pruner.PruneUsage(ctx, cutoff)
	if err != nil {
		return err
	}
	s.log.Info("usage pruned", logx.Int64("rows", n), logx.String("before", cutoff.Format("2006-01-02")))
	return nil
}

func (s *Service) digest(ctx context.Context) error {
	text, err := s.deps.Digest(ctx)
	if err != nil {
		return fmt.Errorf("render digest: %w", err)
	}
	return s.deps.Notify(ctx, text)
}

// RunNow executes a registered job immediately, outside its schedule.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	d, ok := s.defs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("jobs: unknown job %q", name)
	}
	s.execute(d)
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.lastErr != "" {
		return errors.New(d.lastErr)
	}
	return nil
}

// Apply swaps the config and restarts the scheduler when it is running.
func (s *Service) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.c == nil {
		return nil
	}
	if old == cfg {
		return nil
	}
	<-s.c.Stop().Done()
	s.c = nil
	if !cfg.Enabled {
		s.log.Info("jobs disabled")
		return nil
	}
	return s.startLocked()
}

// Stop stops triggering and waits for running jobs up to ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	cancel := s.cancel
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("jobs still running at shutdown")
	}
	s.log.Info("jobs stopped")
}

// Snapshot lists the registered jobs ordered by name.
func (s *Service) Snapshot() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.defs))
	for _, d := range s.defs {
		st := JobStatus{Name: d.name, Spec: d.spec, LastRun: d.lastRun, LastErr: d.lastErr, Runs: d.runs, Failures: d.failures}
		if s.c != nil {
			st.Next = s.c.Entry(d.entryID).Next
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
