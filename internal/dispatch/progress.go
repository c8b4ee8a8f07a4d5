package dispatch

import (
	"context"
	"errors"
	"regexp"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	kit "upgradebot/internal/transport"
	logx "upgradebot/pkg/logx"
)

// DefaultProgressTail is how many log lines the progress display keeps.
const DefaultProgressTail = 10

var ansiRE = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

func stripANSI(s string) string { return ansiRE.ReplaceAllString(s, "") }

// progressTail collects log lines from any goroutine and keeps the last max.
// Append never blocks: the dirty channel coalesces pending renders into one.
type progressTail struct {
	mu    sync.Mutex
	lines []string
	max   int
	dirty chan struct{}
}

func newProgressTail(first string, max int) *progressTail {
	if max <= 0 {
		max = DefaultProgressTail
	}
	return &progressTail{lines: []string{first}, max: max, dirty: make(chan struct{}, 1)}
}

func (p *progressTail) Append(line string) {
	line = strings.TrimRight(stripANSI(line), "\r\n")
	p.mu.Lock()
	p.lines = append(p.lines, line)
	if over := len(p.lines) - p.max; over > 0 {
		p.lines = append(p.lines[:0], p.lines[over:]...)
	}
	p.mu.Unlock()
	select {
	case p.dirty <- struct{}{}:
	default:
	}
}

func (p *progressTail) Lines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.lines...)
}

// progressRenderer owns the edits of one item's progress message. Only its
// goroutine touches the transport, so renders never race each other.
type progressRenderer struct {
	msgr    Messenger
	ref     kit.MessageRef
	tail    *progressTail
	limiter *rate.Limiter
	log     logx.Logger

	stop chan struct{}
	done chan struct{}
	last string
}

func startProgress(ctx context.Context, msgr Messenger, ref kit.MessageRef, tail *progressTail, every time.Duration, log logx.Logger) *progressRenderer {
	if every <= 0 {
		every = time.Second
	}
	r := &progressRenderer{
		msgr:    msgr,
		ref:     ref,
		tail:    tail,
		limiter: rate.NewLimiter(rate.Every(every), 1),
		log:     log,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	// First frame goes out before the remote call starts.
	_ = r.limiter.Allow()
	r.render(ctx)
	go r.loop(ctx)
	return r
}

func (r *progressRenderer) loop(ctx context.Context) {
	defer close(r.done)
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("progress renderer panicked; rendering stopped", logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-r.tail.dirty:
		}
		res := r.limiter.Reserve()
		if d := res.Delay(); d > 0 {
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				res.Cancel()
				return
			case <-r.stop:
				t.Stop()
				res.Cancel()
				return
			case <-t.C:
			}
		}
		r.render(ctx)
	}
}

func (r *progressRenderer) render(ctx context.Context) {
	text := renderProgress(r.tail.Lines())
	if text == r.last {
		return
	}
	dctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()
	if err := r.msgr.EditText(dctx, r.ref, text, htmlOpts()); err != nil && !errors.Is(err, kit.ErrNotModified) {
		r.log.Debug("progress edit failed", logx.Err(err))
		return
	}
	r.last = text
}

// Stop ends the render loop and waits for it. Lines appended afterwards are
// not rendered.
func (r *progressRenderer) Stop() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	<-r.done
}
