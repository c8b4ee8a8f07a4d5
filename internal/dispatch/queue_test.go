package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestDispatcherFIFO(t *testing.T) {
	t.Parallel()
	d := NewDispatcher()
	for _, id := range []string{"A", "B", "C"} {
		d.Push(QueueItem{ID: id})
	}
	if d.Len() != 3 {
		t.Fatalf("Len = %d", d.Len())
	}
	ctx := context.Background()
	for _, want := range []string{"A", "B", "C"} {
		it, err := d.Pop(ctx)
		if err != nil || it.ID != want {
			t.Fatalf("Pop = %q, %v; want %q", it.ID, err, want)
		}
	}
}

func TestDispatcherPopBlocksUntilPush(t *testing.T) {
	t.Parallel()
	d := NewDispatcher()
	got := make(chan string, 1)
	go func() {
		it, err := d.Pop(context.Background())
		if err == nil {
			got <- it.ID
		}
	}()

	select {
	case <-got:
		t.Fatal("Pop returned before Push")
	case <-time.After(50 * time.Millisecond):
	}
	d.Push(QueueItem{ID: "late"})
	select {
	case id := <-got:
		if id != "late" {
			t.Fatalf("got %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not wake up")
	}
}

func TestDispatcherPopHonorsContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := NewDispatcher().Pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestDispatcherManyConsumers(t *testing.T) {
	t.Parallel()
	d := NewDispatcher()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const n = 200
	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				it, err := d.Pop(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[it.ID] = true
				done := len(seen) == n
				mu.Unlock()
				if done {
					cancel()
				}
			}
		}()
	}
	for i := 0; i < n; i++ {
		d.Push(QueueItem{ID: time.Duration(i).String()})
	}
	wg.Wait()
	if len(seen) != n {
		t.Fatalf("consumed %d items, want %d", len(seen), n)
	}
}
