package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"upgradebot/internal/storage"
	kit "upgradebot/internal/transport"
)

type memStore struct {
	mu      sync.Mutex
	usage   map[string]int
	logs    []storage.RequestLog
	config  map[string]string
	failGet error
	incrs   int
}

func newMemStore() *memStore {
	return &memStore{usage: map[string]int{}, config: map[string]string{}}
}

func usageKey(user int64, day string) string { return fmt.Sprintf("%d/%s", user, day) }

func (m *memStore) GetUsage(_ context.Context, user int64, day string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return 0, m.failGet
	}
	return m.usage[usageKey(user, day)], nil
}

func (m *memStore) IncrementUsage(_ context.Context, user int64, day string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incrs++
	k := usageKey(user, day)
	m.usage[k]++
	return m.usage[k], nil
}

func (m *memStore) ResetUsage(_ context.Context, user int64, day string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.usage, usageKey(user, day))
	return nil
}

func (m *memStore) AppendRequestLog(_ context.Context, e storage.RequestLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, e)
	return nil
}

func (m *memStore) GetConfig(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.config[key]
	return v, ok, nil
}

func (m *memStore) increments() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incrs
}

func (m *memStore) requestLogs() []storage.RequestLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.RequestLog(nil), m.logs...)
}

type sentMsg struct {
	To   kit.ChatTarget
	Text string
}

type editMsg struct {
	Ref  kit.MessageRef
	Text string
}

type photoMsg struct {
	To      kit.ChatTarget
	Photo   string
	Caption string
}

var errDelivery = errors.New("delivery failed")

type fakeMessenger struct {
	mu       sync.Mutex
	sent     []sentMsg
	edits    []editMsg
	deleted  []kit.MessageRef
	photos   []photoMsg
	failTo   map[int64]bool
	failPhot bool
	nextID   int
	// panicOn makes EditText panic for texts containing it.
	panicOn string
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{failTo: map[int64]bool{}, nextID: 1000}
}

func (f *fakeMessenger) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTo[to.ChatID] {
		return kit.MessageRef{}, errDelivery
	}
	f.sent = append(f.sent, sentMsg{To: to, Text: text})
	f.nextID++
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}, nil
}

func (f *fakeMessenger) EditText(_ context.Context, ref kit.MessageRef, text string, _ *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOn != "" && strings.Contains(text, f.panicOn) {
		panic("edit " + f.panicOn)
	}
	f.edits = append(f.edits, editMsg{Ref: ref, Text: text})
	return nil
}

func (f *fakeMessenger) DeleteMessage(_ context.Context, ref kit.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeMessenger) SendPhoto(_ context.Context, to kit.ChatTarget, photo, caption string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPhot {
		return kit.MessageRef{}, errDelivery
	}
	f.photos = append(f.photos, photoMsg{To: to, Photo: photo, Caption: caption})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeMessenger) snapshot() ([]sentMsg, []editMsg, []kit.MessageRef, []photoMsg) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMsg(nil), f.sent...),
		append([]editMsg(nil), f.edits...),
		append([]kit.MessageRef(nil), f.deleted...),
		append([]photoMsg(nil), f.photos...)
}

// editsFor returns the texts edited into ref, in order.
func (f *fakeMessenger) editsFor(ref kit.MessageRef) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.edits {
		if e.Ref == ref {
			out = append(out, e.Text)
		}
	}
	return out
}

type execFunc func(ctx context.Context, target string, creds CredentialSet, progress ProgressFunc) (string, error)

func (f execFunc) Execute(ctx context.Context, target string, creds CredentialSet, progress ProgressFunc) (string, error) {
	return f(ctx, target, creds, progress)
}

type provFunc func(ctx context.Context, progress ProgressFunc) (Profile, error)

func (f provFunc) Provision(ctx context.Context, progress ProgressFunc) (Profile, error) {
	return f(ctx, progress)
}

// sleepRecorder replaces real sleeps and records requested durations.
type sleepRecorder struct {
	mu  sync.Mutex
	got []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.got = append(r.got, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) durations() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.got...)
}

func origin(chat int64, msg int) kit.MessageRef {
	return kit.MessageRef{ChatID: chat, MessageID: msg}
}
