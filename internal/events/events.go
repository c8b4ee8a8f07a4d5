// Package events forwards in-process dispatch events to a RabbitMQ topic
// exchange so other systems can follow request outcomes.
package events

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"upgradebot/internal/eventbus"
	logx "upgradebot/pkg/logx"
)

const (
	Source          = "upgradebot"
	DefaultExchange = "upgradebot.events"
	publishTimeout  = 5 * time.Second
	subBuffer       = 256
)

// Prefixes are the event families that leave the process.
var Prefixes = []string{"request.", "broadcast."}

// Envelope is the wire form of one event.
type Envelope struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	Source string    `json:"source"`
	Time   time.Time `json:"time"`
	Data   any       `json:"data,omitempty"`
}

// Message is what a Sink delivers: routing key, message id and JSON body.
type Message struct {
	Key  string
	ID   string
	Time time.Time
	Body []byte
}

type Sink interface {
	Publish(ctx context.Context, m Message) error
	Close() error
}

func NewEnvelope(e eventbus.Event) Envelope {
	t := e.Time
	if t.IsZero() {
		t = time.Now()
	}
	return Envelope{ID: uuid.NewString(), Type: e.Type, Source: Source, Time: t.UTC(), Data: e.Data}
}

// Forwarder drains a bus subscription into a Sink. Publish failures are
// logged and counted; the event is not retried.
type Forwarder struct {
	bus  eventbus.Bus
	sink Sink
	log  logx.Logger

	sent   atomic.Uint64
	failed atomic.Uint64
}

func NewForwarder(bus eventbus.Bus, sink Sink, log logx.Logger) *Forwarder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Forwarder{bus: bus, sink: sink, log: log}
}

// Run blocks until ctx ends.
func (f *Forwarder) Run(ctx context.Context) {
	ch, unsub := f.bus.Subscribe(subBuffer, Prefixes...)
	defer unsub()
	f.log.Info("event forwarder started")
	for {
		select {
		case <-ctx.Done():
			f.log.Info("event forwarder stopped", logx.Uint64("sent", f.sent.Load()), logx.Uint64("failed", f.failed.Load()))
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			f.forward(ctx, e)
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, e eventbus.Event) {
	env := NewEnvelope(e)
	body, err := json.Marshal(env)
	if err != nil {
		f.failed.Add(1)
		f.log.Warn("event encode failed", logx.String("type", e.Type), logx.Err(err))
		return
	}
	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := f.sink.Publish(pctx, Message{Key: env.Type, ID: env.ID, Time: env.Time, Body: body}); err != nil {
		f.failed.Add(1)
		f.log.Warn("event publish failed", logx.String("type", e.Type), logx.Err(err))
		return
	}
	f.sent.Add(1)
}

// Stats returns how many events were published and how many failed.
func (f *Forwarder) Stats() (sent, failed uint64) {
	return f.sent.Load(), f.failed.Load()
}
