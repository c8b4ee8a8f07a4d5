package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rtsup "upgradebot/internal/runtime/supervisor"
	kit "upgradebot/internal/transport"
	logx "upgradebot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	// AccessAdmin commands are silently ignored for everyone but the admin.
	AccessAdmin
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	// Usage is shown in the admin help block, e.g. "/rs [id]".
	Usage   string
	Access  Access
	Timeout time.Duration
	Handle  HandlerFunc
}

// CallbackRoute matches callback data exactly, or by prefix when Prefix is set.
// For prefix routes Request.Payload holds the data after the prefix.
type CallbackRoute struct {
	Data    string
	Prefix  bool
	Access  Access
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	FromID   int64
	FromName string
	IsAdmin  bool

	// Message is set for command and text updates, Callback for callbacks.
	Message  *kit.Message
	Callback *kit.Callback

	Command string
	Args    []string
	// Rest is the raw text after the command word.
	Rest    string
	Payload string

	ReqID  string
	Logger logx.Logger

	adapter  kit.Adapter
	answered atomic.Bool
}

// Answer answers the callback of this request once. Later calls are no-ops.
func (r *Request) Answer(ctx context.Context, text string, alert bool) error {
	if r.Callback == nil || !r.answered.CompareAndSwap(false, true) {
		return nil
	}
	return r.adapter.AnswerCallback(ctx, r.Callback.ID, text, alert)
}

// Router turns updates into handler calls on a bounded worker pool.
type Router struct {
	mu        sync.RWMutex
	commands  map[string]*Command
	ordered   []Command
	exact     map[string]*CallbackRoute
	prefixes  []*CallbackRoute
	text      HandlerFunc
	textLimit time.Duration

	admin   atomic.Int64
	log     logx.Logger
	adapter kit.Adapter

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
	jobs    chan func()
}

func New(log logx.Logger, adapter kit.Adapter, adminID int64) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		commands: map[string]*Command{},
		exact:    map[string]*CallbackRoute{},
		log:      log,
		adapter:  adapter,
		jobs:     make(chan func(), 256),
	}
	r.admin.Store(adminID)
	return r
}

// SetAdmin updates the privileged identity. Safe during hot-reload.
func (r *Router) SetAdmin(id int64) { r.admin.Store(id) }

func (r *Router) IsAdmin(id int64) bool {
	a := r.admin.Load()
	return a != 0 && a == id
}

// SetRegistry replaces every route. text handles plain messages (nil ignores them).
func (r *Router) SetRegistry(cmds []Command, cbs []CallbackRoute, text HandlerFunc, textTimeout time.Duration) {
	commands := map[string]*Command{}
	ordered := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		commands[name] = &cc
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				commands[a] = &cc
			}
		}
		ordered = append(ordered, cc)
	}

	exact := map[string]*CallbackRoute{}
	var prefixes []*CallbackRoute
	for _, cb := range cbs {
		if cb.Data == "" || cb.Handle == nil {
			continue
		}
		cc := cb
		if cc.Prefix {
			prefixes = append(prefixes, &cc)
		} else {
			exact[cc.Data] = &cc
		}
	}
	// Longest prefix wins.
	sort.SliceStable(prefixes, func(i, j int) bool { return len(prefixes[i].Data) > len(prefixes[j].Data) })

	r.mu.Lock()
	r.commands, r.ordered, r.exact, r.prefixes = commands, ordered, exact, prefixes
	r.text, r.textLimit = text, textTimeout
	r.mu.Unlock()
}

// PublishMenu pushes the public commands to the chat client's command menu.
func (r *Router) PublishMenu(ctx context.Context) error {
	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	r.mu.RLock()
	menu := buildMenu(r.ordered)
	r.mu.RUnlock()
	return up.UpdateMenuCommands(ctx, menu)
}

// Supervisor returns the worker supervisor (nil if not running).
func (r *Router) Supervisor() *rtsup.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return nil
	}
	return r.sup
}

func (r *Router) setSupervisor(sup *rtsup.Supervisor, running bool) {
	r.runMu.Lock()
	r.sup, r.running = sup, running
	r.runMu.Unlock()
}

// tryEnqueue is panic-safe against the jobs channel being closed.
func (r *Router) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// Run consumes updates until ctx ends or the channel closes.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	workers := max(runtime.NumCPU(), 2)
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(r.log),
		rtsup.WithCancelOnError(false),
	)
	r.setSupervisor(sup, true)
	r.log.Info("router started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(r.jobs)))

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("router.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in router job", logx.Int("worker", idx), logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		r.setSupervisor(sup, false)
		close(r.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.setSupervisor(nil, false)
		r.log.Info("router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.Route(ctx, up)
		}
	}
}

// Route resolves one update and queues its handler.
func (r *Router) Route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		r.routeMessage(ctx, up)
	case kit.UpdateCallback:
		r.routeCallback(ctx, up)
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	req := r.newRequest(up, kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}, msg.FromID)
	req.Message = msg
	req.FromName = msg.FromUsername

	word, args, rest, isCmd := splitCommand(msg.Text)
	if !isCmd {
		r.mu.RLock()
		h, timeout := r.text, r.textLimit
		r.mu.RUnlock()
		if h == nil {
			return
		}
		req.Command = "text"
		req.Rest = strings.TrimSpace(msg.Text)
		r.enqueue(ctx, req, h, timeout, nil)
		return
	}

	r.mu.RLock()
	cmd := r.commands[word]
	r.mu.RUnlock()
	if cmd == nil {
		return
	}
	if cmd.Access == AccessAdmin && !req.IsAdmin {
		r.log.Debug("admin command ignored", logx.String("cmd", cmd.Name), logx.Int64("from_id", req.FromID))
		return
	}
	req.Command, req.Args, req.Rest = cmd.Name, args, rest
	r.enqueue(ctx, req, cmd.Handle, cmd.Timeout, func() {
		_, _ = r.adapter.SendText(ctx, req.Chat, "⏳ Busy, try again in a moment.", nil)
	})
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	data := strings.TrimSpace(cb.Data)
	route, payload := r.matchCallback(data)
	if route == nil {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "", false)
		return
	}
	req := r.newRequest(up, kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}, cb.FromID)
	req.Callback = cb
	req.Command = "cb:" + route.Data
	req.Payload = payload
	if route.Access == AccessAdmin && !req.IsAdmin {
		_ = req.Answer(ctx, "forbidden", false)
		return
	}
	h := func(ctx context.Context, req *Request) error {
		err := route.Handle(ctx, req)
		// Stop the client's loading indicator when the handler did not answer.
		_ = req.Answer(ctx, "", false)
		return err
	}
	r.enqueue(ctx, req, h, route.Timeout, func() {
		_ = req.Answer(ctx, "busy", false)
	})
}

func (r *Router) matchCallback(data string) (*CallbackRoute, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rt, ok := r.exact[data]; ok {
		return rt, ""
	}
	for _, rt := range r.prefixes {
		if rest, ok := strings.CutPrefix(data, rt.Data); ok {
			return rt, rest
		}
	}
	return nil, ""
}

func (r *Router) newRequest(up kit.Update, chat kit.ChatTarget, from int64) *Request {
	rid := newReqID()
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  from,
		IsAdmin: r.IsAdmin(from),
		ReqID:   rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from),
		),
		adapter: r.adapter,
	}
}

func (r *Router) enqueue(ctx context.Context, req *Request, h HandlerFunc, timeout time.Duration, busy func()) {
	final := Chain(h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)
	if !r.tryEnqueue(func() { _ = final(ctx, req) }) && busy != nil {
		busy()
	}
}
