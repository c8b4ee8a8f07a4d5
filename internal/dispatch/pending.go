package dispatch

import (
	"context"
	"errors"
	"sync"

	"upgradebot/internal/i18n"
	kit "upgradebot/internal/transport"
	logx "upgradebot/pkg/logx"
)

// almostAhead is the ahead count that triggers the one-shot heads-up.
const almostAhead = 2

// PendingRegistry is the ordered list of accepted but not yet dispatched
// items. One mutex serializes Enqueue, Dequeue and BroadcastPositions so
// positions are never computed against a list in flux.
type PendingRegistry struct {
	mu       sync.Mutex
	items    []QueueItem
	notified map[string]struct{}

	msgr Messenger
	log  logx.Logger
}

func NewPendingRegistry(msgr Messenger, log logx.Logger) *PendingRegistry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &PendingRegistry{msgr: msgr, notified: map[string]struct{}{}, log: log}
}

// Enqueue appends it, rebroadcasts every position and returns its 1-based
// position. push, when non-nil, runs under the registry lock so the dispatch
// order matches the pending order.
func (r *PendingRegistry) Enqueue(ctx context.Context, it QueueItem, push func(QueueItem)) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, it)
	pos := len(r.items)
	if push != nil {
		push(it)
	}
	r.broadcastLocked(ctx)
	return pos
}

// Dequeue removes the first entry with the same ID, rebroadcasts and returns the
// remaining list.
func (r *PendingRegistry) Dequeue(ctx context.Context, it QueueItem) []QueueItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		if r.items[i].ID == it.ID {
			r.items = append(r.items[:i], r.items[i+1:]...)
			break
		}
	}
	delete(r.notified, it.ID)
	rest := append([]QueueItem(nil), r.items...)
	r.broadcastLocked(ctx)
	return rest
}

// BroadcastPositions edits every pending item's origin with its position.
func (r *PendingRegistry) BroadcastPositions(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(ctx)
}

func (r *PendingRegistry) broadcastLocked(ctx context.Context) {
	for i, it := range r.items {
		position, ahead := i+1, i
		text := i18n.F(it.Lang, "queued", escape(it.DisplayName), position, ahead)
		r.deliver(ctx, "edit position", it, func(ctx context.Context) error {
			return r.msgr.EditText(ctx, it.Origin, text, htmlOpts())
		})

		if ahead != almostAhead {
			continue
		}
		if _, done := r.notified[it.ID]; done {
			continue
		}
		r.notified[it.ID] = struct{}{}
		r.deliver(ctx, "almost notice", it, func(ctx context.Context) error {
			_, err := r.msgr.SendText(ctx, it.Origin.Target(), i18n.T(it.Lang, "queue_almost"), htmlOpts())
			return err
		})
	}
}

// deliver runs one transport call with its own timeout and swallows the error.
func (r *PendingRegistry) deliver(ctx context.Context, what string, it QueueItem, fn func(ctx context.Context) error) {
	dctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()
	if err := fn(dctx); err != nil && !errors.Is(err, kit.ErrNotModified) {
		r.log.Debug("pending delivery failed", logx.String("what", what), logx.String("item", it.ID), logx.Int64("user_id", it.UserID), logx.Err(err))
	}
}

func (r *PendingRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Snapshot returns a copy of the pending list in order.
func (r *PendingRegistry) Snapshot() []QueueItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]QueueItem(nil), r.items...)
}
