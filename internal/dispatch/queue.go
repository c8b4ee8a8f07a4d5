package dispatch

import (
	"context"
	"sync"
)

// Dispatcher is an unbounded multi-producer multi-consumer FIFO.
// Push never blocks; Pop blocks until an item is available.
type Dispatcher struct {
	mu    sync.Mutex
	items []QueueItem
	// ready holds at most one wake-up token; a consumer that leaves items
	// behind passes the token on.
	ready chan struct{}
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{ready: make(chan struct{}, 1)}
}

func (d *Dispatcher) Push(it QueueItem) {
	d.mu.Lock()
	d.items = append(d.items, it)
	d.mu.Unlock()
	d.signal()
}

func (d *Dispatcher) signal() {
	select {
	case d.ready <- struct{}{}:
	default:
	}
}

// Pop returns the oldest item, or ctx.Err() when ctx is done first.
func (d *Dispatcher) Pop(ctx context.Context) (QueueItem, error) {
	for {
		d.mu.Lock()
		if len(d.items) > 0 {
			it := d.items[0]
			d.items[0] = QueueItem{}
			d.items = d.items[1:]
			more := len(d.items) > 0
			d.mu.Unlock()
			if more {
				d.signal()
			}
			return it, nil
		}
		d.mu.Unlock()

		select {
		case <-ctx.Done():
			return QueueItem{}, ctx.Err()
		case <-d.ready:
		}
	}
}

func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}
