package bot

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"upgradebot/internal/dispatch"
	"upgradebot/internal/remote"
	"upgradebot/internal/storage"
	kit "upgradebot/internal/transport"
	"upgradebot/internal/transport/telegram/router"
	logx "upgradebot/pkg/logx"
)

const adminID = 1

type sent struct {
	To   kit.ChatTarget
	Text string
	Opt  *kit.SendOptions
}

type edited struct {
	Ref  kit.MessageRef
	Text string
	Opt  *kit.SendOptions
}

type answered struct {
	Text  string
	Alert bool
}

type fakeAdapter struct {
	mu      sync.Mutex
	sent    []sent
	edits   []edited
	answers []answered
	nextID  int
	files   map[string][]byte
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, sent{To: to, Text: text, Opt: opt})
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: 500 + f.nextID}, nil
}

func (f *fakeAdapter) EditText(_ context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, edited{Ref: ref, Text: text, Opt: opt})
	return nil
}

func (f *fakeAdapter) DeleteMessage(context.Context, kit.MessageRef) error { return nil }

func (f *fakeAdapter) SendPhoto(_ context.Context, to kit.ChatTarget, _, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return f.SendText(context.Background(), to, caption, opt)
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string, alert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, answered{Text: text, Alert: alert})
	return nil
}

func (f *fakeAdapter) DownloadFile(_ context.Context, fileID string, maxBytes int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.files[fileID]
	if !ok {
		return nil, fmt.Errorf("file %q not found", fileID)
	}
	if int64(len(body)) > maxBytes {
		return nil, kit.ErrFileTooLarge
	}
	return body, nil
}

func (f *fakeAdapter) addFile(id string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.files == nil {
		f.files = make(map[string][]byte)
	}
	f.files[id] = body
}

func (f *fakeAdapter) snapshot() ([]sent, []edited, []answered) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...), append([]edited(nil), f.edits...), append([]answered(nil), f.answers...)
}

type fakeStore struct {
	mu     sync.Mutex
	langs  map[int64]string
	config map[string]string
	usage  map[string]int
	users  []int64
	stats  storage.Stats
	saved  []storage.TokenSet
	saves  int
	logs   []storage.RequestLog
}

func newFakeStore() *fakeStore {
	return &fakeStore{langs: map[int64]string{}, config: map[string]string{}, usage: map[string]int{}}
}

func ukey(user int64, day string) string { return fmt.Sprintf("%d/%s", user, day) }

func (s *fakeStore) GetLang(_ context.Context, user int64) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.langs[user]
	return l, ok, nil
}

func (s *fakeStore) SetLang(_ context.Context, user int64, lang string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.langs[user] = lang
	return nil
}

func (s *fakeStore) SetConfig(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config[key] = value
	return nil
}

func (s *fakeStore) GetConfig(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.config[key]
	return v, ok, nil
}

func (s *fakeStore) Stats(context.Context) (storage.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats, nil
}

func (s *fakeStore) KnownUsers(context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.users...), nil
}

func (s *fakeStore) SaveCredentialSets(_ context.Context, sets []storage.TokenSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append([]storage.TokenSet(nil), sets...)
	s.saves++
	return nil
}

func (s *fakeStore) GetUsage(_ context.Context, user int64, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[ukey(user, day)], nil
}

func (s *fakeStore) IncrementUsage(_ context.Context, user int64, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[ukey(user, day)]++
	return s.usage[ukey(user, day)], nil
}

func (s *fakeStore) ResetUsage(_ context.Context, user int64, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.usage, ukey(user, day))
	return nil
}

func (s *fakeStore) AppendRequestLog(_ context.Context, e storage.RequestLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, e)
	return nil
}

type fakeLookup struct {
	uids   map[string]string
	status remote.Status
	mu     sync.Mutex
	asked  []string
}

func (l *fakeLookup) Resolve(_ context.Context, username string) (string, error) {
	l.mu.Lock()
	l.asked = append(l.asked, username)
	l.mu.Unlock()
	if uid, ok := l.uids[username]; ok {
		return uid, nil
	}
	return "", dispatch.ErrNotFound
}

func (l *fakeLookup) Status(context.Context, string) (remote.Status, error) {
	return l.status, nil
}

type noopExec struct{}

func (noopExec) Execute(context.Context, string, dispatch.CredentialSet, dispatch.ProgressFunc) (string, error) {
	return "", nil
}

type harness struct {
	ad      *fakeAdapter
	store   *fakeStore
	lookup  *fakeLookup
	svc     *dispatch.Service
	bot     *Bot
	updates chan kit.Update
}

// newHarness wires a bot to a running router. The dispatch workers are not
// started, so submitted items stay queued.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		ad:      &fakeAdapter{},
		store:   newFakeStore(),
		lookup:  &fakeLookup{uids: map[string]string{}},
		updates: make(chan kit.Update, 8),
	}
	svc, err := dispatch.New(dispatch.Config{PrivilegedID: adminID, BroadcastDelay: time.Millisecond}, dispatch.Deps{
		Store:     h.store,
		Messenger: h.ad,
		Executor:  noopExec{},
	})
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}
	h.svc = svc
	r := router.New(logx.Nop(), h.ad, adminID)
	h.bot, err = New(Config{DefaultLang: "EN"}, Deps{
		Adapter:  h.ad,
		Router:   r,
		Store:    h.store,
		Lookup:   h.lookup,
		Dispatch: svc,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.bot.Register()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx, h.updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) message(from int64, text string, mut ...func(*kit.Message)) {
	m := &kit.Message{ID: 10, ChatID: from, FromID: from, Text: text}
	for _, fn := range mut {
		fn(m)
	}
	h.updates <- kit.Update{Kind: kit.UpdateMessage, Message: m}
}

func (h *harness) callback(from int64, data string) {
	h.updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "cb", ChatID: from, FromID: from, MessageID: 77, Data: data}}
}

// waitFor polls the adapter until cond holds.
func (h *harness) waitFor(t *testing.T, what string, cond func(s []sent, e []edited, a []answered) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s, e, a := h.ad.snapshot()
		if cond(s, e, a) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s\nsent=%+v\nedits=%+v\nanswers=%+v", what, s, e, a)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func replyToBot(m *kit.Message) { m.ReplyToBot = true }
