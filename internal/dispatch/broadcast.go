package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"upgradebot/internal/eventbus"
	kit "upgradebot/internal/transport"
	logx "upgradebot/pkg/logx"
)

const (
	EventBroadcastStarted  = "broadcast.started"
	EventBroadcastFinished = "broadcast.finished"
)

// DefaultBroadcastStride is how many recipients pass between progress edits.
const DefaultBroadcastStride = 5

// BroadcastSnapshot is a point-in-time copy of a job's state.
type BroadcastSnapshot struct {
	ID         string    `json:"id"`
	Total      int       `json:"total"`
	Done       int       `json:"done"`
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Running    bool      `json:"running"`
}

// BroadcastJob sends one admin message to a fixed list of users and reports
// the running tally on a single surface message. It cannot be cancelled by
// users; it stops early only when its context ends.
type BroadcastJob struct {
	id      string
	text    string
	users   []int64
	surface kit.MessageRef

	msgr   Messenger
	bus    eventbus.Bus
	log    logx.Logger
	delay  time.Duration
	stride int
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time

	mu   sync.Mutex
	snap BroadcastSnapshot
	done chan struct{}
}

func newBroadcastJob(users []int64, text string, surface kit.MessageRef, cfg Config, msgr Messenger, bus eventbus.Bus, log logx.Logger) *BroadcastJob {
	stride := cfg.BroadcastStride
	if stride <= 0 {
		stride = DefaultBroadcastStride
	}
	j := &BroadcastJob{
		id:      uuid.NewString(),
		text:    text,
		users:   append([]int64(nil), users...),
		surface: surface,
		msgr:    msgr,
		bus:     bus,
		delay:   cfg.BroadcastDelay,
		stride:  stride,
		sleep:   sleepCtx,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	j.log = log.With(logx.String("job", j.id))
	j.snap = BroadcastSnapshot{ID: j.id, Total: len(j.users)}
	return j
}

func (j *BroadcastJob) ID() string { return j.id }

// Done is closed when Run returns.
func (j *BroadcastJob) Done() <-chan struct{} { return j.done }

func (j *BroadcastJob) Snapshot() BroadcastSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snap
}

// Run delivers to every user in order. Delivery errors are counted, never returned.
func (j *BroadcastJob) Run(ctx context.Context) {
	defer close(j.done)
	total := len(j.users)
	j.mu.Lock()
	j.snap.StartedAt = j.now()
	j.snap.Running = true
	j.mu.Unlock()
	j.publish(EventBroadcastStarted)
	j.log.Info("broadcast started", logx.Int("total", total))

	msg := broadcastMessage(j.text)
	for i, uid := range j.users {
		dctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
		_, err := j.msgr.SendText(dctx, kit.ChatTarget{ChatID: uid}, msg, htmlOpts())
		cancel()

		j.mu.Lock()
		j.snap.Done = i + 1
		if err != nil {
			j.snap.Failed++
		} else {
			j.snap.Sent++
		}
		s := j.snap
		j.mu.Unlock()
		if err != nil {
			j.log.Debug("broadcast delivery failed", logx.Int64("user_id", uid), logx.Err(err))
		}

		if (i+1)%j.stride == 0 || i+1 == total {
			j.edit(ctx, renderBroadcastProgress(i+1, total, s.Sent, s.Failed))
		}
		if err := j.sleep(ctx, j.delay); err != nil {
			j.log.Warn("broadcast interrupted", logx.Int("done", i+1), logx.Int("total", total))
			break
		}
	}

	j.mu.Lock()
	j.snap.Running = false
	j.snap.FinishedAt = j.now()
	s := j.snap
	j.mu.Unlock()

	// The final tally goes out even when shutdown cut the loop short.
	j.edit(context.WithoutCancel(ctx), renderBroadcastDone(total, s.Sent, s.Failed))
	j.publish(EventBroadcastFinished)
	j.log.Info("broadcast finished", logx.Int("total", total), logx.Int("sent", s.Sent), logx.Int("failed", s.Failed))
}

func (j *BroadcastJob) edit(ctx context.Context, text string) {
	dctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()
	if err := j.msgr.EditText(dctx, j.surface, text, htmlOpts()); err != nil && !errors.Is(err, kit.ErrNotModified) {
		j.log.Debug("broadcast progress edit failed", logx.Err(err))
	}
}

func (j *BroadcastJob) publish(typ string) {
	if j.bus == nil {
		return
	}
	j.bus.Publish(eventbus.Event{Type: typ, Data: j.Snapshot()})
}
