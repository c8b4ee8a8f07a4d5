package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"upgradebot/internal/dispatch"
	"upgradebot/internal/i18n"
	"upgradebot/internal/remote"
	"upgradebot/internal/storage"
	kit "upgradebot/internal/transport"
)

func lastEdit(e []edited) string {
	if len(e) == 0 {
		return ""
	}
	return e[len(e)-1].Text
}

func sentContaining(s []sent, sub string) bool {
	for _, m := range s {
		if strings.Contains(m.Text, sub) {
			return true
		}
	}
	return false
}

func TestStartSendsMainMenu(t *testing.T) {
	h := newHarness(t)
	h.message(7, "/start")
	h.waitFor(t, "welcome", func(s []sent, _ []edited, _ []answered) bool {
		return len(s) == 1 && s[0].Text == i18n.T(i18n.EN, "welcome") && s[0].Opt.ReplyMarkupAdapter != nil
	})
}

func TestSetLangCallbackStoresLanguage(t *testing.T) {
	h := newHarness(t)
	h.callback(7, "setlang_VI")
	h.waitFor(t, "menu edit", func(_ []sent, e []edited, a []answered) bool {
		return lastEdit(e) == i18n.T(i18n.VI, "menu_msg") && len(a) == 1 && a[0].Text == "Ngôn ngữ: VI"
	})
	if lang, ok, _ := h.store.GetLang(context.Background(), 7); !ok || lang != i18n.VI {
		t.Fatalf("stored lang = %q, %v", lang, ok)
	}

	h.callback(7, "setlang_FR")
	h.waitFor(t, "empty answer", func(_ []sent, _ []edited, a []answered) bool { return len(a) == 2 && a[1].Text == "" })
	if lang, _, _ := h.store.GetLang(context.Background(), 7); lang != i18n.VI {
		t.Fatalf("unsupported language stored: %q", lang)
	}
}

func TestHelpAppendsAdminBlock(t *testing.T) {
	h := newHarness(t)
	h.message(7, "/help")
	h.message(adminID, "/help")
	h.waitFor(t, "two help texts", func(s []sent, _ []edited, _ []answered) bool { return len(s) == 2 })
	s, _, _ := h.ad.snapshot()
	for _, m := range s {
		admin := strings.Contains(m.Text, "👑 Admin Control")
		if (m.To.ChatID == adminID) != admin {
			t.Fatalf("help to %d has admin block = %v", m.To.ChatID, admin)
		}
		if admin && !strings.Contains(m.Text, "/settoken - Upload credential sets") {
			t.Fatalf("admin help = %q", m.Text)
		}
	}
}

func TestNonAdminCommandsIgnored(t *testing.T) {
	h := newHarness(t)
	h.message(7, "/stats")
	h.message(7, "/rs 7")
	h.message(7, "/start")
	h.waitFor(t, "start reply", func(s []sent, _ []edited, _ []answered) bool { return len(s) >= 1 })
	time.Sleep(50 * time.Millisecond)
	if s, _, _ := h.ad.snapshot(); len(s) != 1 {
		t.Fatalf("sent = %+v", s)
	}
}

func TestLookupFlow(t *testing.T) {
	h := newHarness(t)
	h.lookup.uids["alice"] = "uid-1"
	h.lookup.status = remote.Status{Active: true, Expires: "2026-12-01"}

	h.message(7, "https://locket.cam/alice?ref=share", replyToBot)
	h.waitFor(t, "info", func(_ []sent, e []edited, _ []answered) bool {
		return strings.Contains(lastEdit(e), i18n.T(i18n.EN, "user_info_title"))
	})
	s, e, _ := h.ad.snapshot()
	if s[0].Text != i18n.T(i18n.EN, "resolving") || s[0].Opt.ReplyTo != 10 {
		t.Fatalf("first reply = %+v", s[0])
	}
	final := e[len(e)-1]
	for _, want := range []string{"<code>uid-1</code>", "<code>alice</code>", "Gold active until 2026-12-01"} {
		if !strings.Contains(final.Text, want) {
			t.Fatalf("info %q missing %q", final.Text, want)
		}
	}
	if final.Opt.ReplyMarkupAdapter == nil {
		t.Fatal("info has no upgrade button")
	}
	if final.Ref != (kit.MessageRef{ChatID: 7, MessageID: 501}) {
		t.Fatalf("edited ref = %+v", final.Ref)
	}
}

func TestLookupOutcomes(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		h := newHarness(t)
		h.message(7, "ghost", replyToBot)
		h.waitFor(t, "not found", func(_ []sent, e []edited, _ []answered) bool {
			return lastEdit(e) == i18n.T(i18n.EN, "not_found")
		})
	})
	t.Run("limit reached", func(t *testing.T) {
		h := newHarness(t)
		h.lookup.uids["bob"] = "uid-2"
		for i := 0; i < dispatch.DefaultDailyLimit; i++ {
			_, _ = h.store.IncrementUsage(context.Background(), 7, h.svc.Limiter().Today())
		}
		h.message(7, "bob", replyToBot)
		h.waitFor(t, "limit", func(_ []sent, e []edited, _ []answered) bool {
			return lastEdit(e) == i18n.T(i18n.EN, "limit_reached")
		})
	})
	t.Run("admin bypasses limit", func(t *testing.T) {
		h := newHarness(t)
		h.lookup.uids["bob"] = "uid-2"
		for i := 0; i < dispatch.DefaultDailyLimit; i++ {
			_, _ = h.store.IncrementUsage(context.Background(), adminID, h.svc.Limiter().Today())
		}
		h.message(adminID, "bob", replyToBot)
		h.waitFor(t, "info", func(_ []sent, e []edited, _ []answered) bool {
			return strings.Contains(lastEdit(e), "<code>uid-2</code>") && strings.Contains(lastEdit(e), i18n.T(i18n.EN, "free_status"))
		})
	})
	t.Run("not a reply", func(t *testing.T) {
		h := newHarness(t)
		h.lookup.uids["bob"] = "uid-2"
		h.message(7, "bob")
		time.Sleep(50 * time.Millisecond)
		if s, e, _ := h.ad.snapshot(); len(s) != 0 || len(e) != 0 {
			t.Fatalf("unexpected output: %+v %+v", s, e)
		}
	})
}

func TestUpgradeCallbackQueues(t *testing.T) {
	h := newHarness(t)
	h.callback(7, "upg|uid-1|alice")
	h.waitFor(t, "ack", func(_ []sent, _ []edited, a []answered) bool {
		return len(a) == 1 && a[0].Text == i18n.T(i18n.EN, "queue_ack") && !a[0].Alert
	})
	_, e, _ := h.ad.snapshot()
	if len(e) == 0 || !strings.Contains(e[0].Text, "<code>alice</code>") || e[0].Ref != (kit.MessageRef{ChatID: 7, MessageID: 77}) {
		t.Fatalf("edits = %+v", e)
	}
	if snap := h.svc.Snapshot(); snap.QueueDepth != 1 || snap.Pending != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestUpgradeCallbackRateLimited(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < dispatch.DefaultDailyLimit; i++ {
		_, _ = h.store.IncrementUsage(context.Background(), 7, h.svc.Limiter().Today())
	}
	h.callback(7, "upg|uid-1|alice")
	h.waitFor(t, "alert", func(_ []sent, _ []edited, a []answered) bool {
		return len(a) == 1 && a[0].Alert && a[0].Text == i18n.T(i18n.EN, "limit_alert")
	})
	if snap := h.svc.Snapshot(); snap.QueueDepth != 0 {
		t.Fatalf("queue depth = %d", snap.QueueDepth)
	}
}

func TestMenuInputForcesReply(t *testing.T) {
	h := newHarness(t)
	h.callback(7, "menu_input")
	h.waitFor(t, "prompt", func(s []sent, _ []edited, _ []answered) bool {
		return len(s) == 1 && s[0].Opt.ForceReply && s[0].Text == i18n.T(i18n.EN, "prompt_input")
	})
}

func TestNoti(t *testing.T) {
	h := newHarness(t)
	h.message(adminID, "/noti")
	h.waitFor(t, "usage", func(s []sent, _ []edited, _ []answered) bool { return sentContaining(s, "Usage: /noti") })

	h.message(adminID, "/noti hello")
	h.waitFor(t, "no users", func(s []sent, _ []edited, _ []answered) bool { return sentContaining(s, "No users found.") })

	h.store.mu.Lock()
	h.store.users = []int64{7, 8}
	h.store.mu.Unlock()
	h.message(adminID, "/noti hello <b>all</b>")
	h.waitFor(t, "delivered", func(s []sent, e []edited, _ []answered) bool {
		var to7, to8 bool
		for _, m := range s {
			to7 = to7 || (m.To.ChatID == 7 && strings.Contains(m.Text, "hello <b>all</b>"))
			to8 = to8 || (m.To.ChatID == 8 && strings.Contains(m.Text, "hello <b>all</b>"))
		}
		return to7 && to8 && strings.Contains(lastEdit(e), "Broadcast Complete!")
	})
	s, _, _ := h.ad.snapshot()
	if !sentContaining(s, "Starting broadcast to 2 users...") {
		t.Fatalf("no status message: %+v", s)
	}
}

func TestResetCommand(t *testing.T) {
	h := newHarness(t)
	_, _ = h.store.IncrementUsage(context.Background(), 7, h.svc.Limiter().Today())

	h.message(adminID, "/rs abc")
	h.waitFor(t, "invalid", func(s []sent, _ []edited, _ []answered) bool { return sentContaining(s, "Invalid User ID") })

	h.message(adminID, "/rs 7")
	h.waitFor(t, "reset", func(s []sent, _ []edited, _ []answered) bool {
		return sentContaining(s, "Usage reset for user 7.")
	})
	if n, _ := h.svc.Limiter().Usage(context.Background(), 7); n != 0 {
		t.Fatalf("usage after reset = %d", n)
	}
}

func TestSetDonate(t *testing.T) {
	h := newHarness(t)
	h.message(adminID, "/setdonate")
	h.waitFor(t, "hint", func(s []sent, _ []edited, _ []answered) bool { return sentContaining(s, "reply to a photo") })

	h.message(adminID, "/setdonate", func(m *kit.Message) { m.ReplyPhotoID = "photo-1" })
	h.waitFor(t, "saved", func(s []sent, _ []edited, _ []answered) bool { return sentContaining(s, "<code>photo-1</code>") })
	if v, _, _ := h.store.GetConfig(context.Background(), dispatch.ConfigKeyResultPhoto); v != "photo-1" {
		t.Fatalf("donate photo = %q", v)
	}
}

func TestSetTokenUpload(t *testing.T) {
	h := newHarness(t)
	h.message(adminID, "/settoken")
	h.waitFor(t, "instructions", func(s []sent, _ []edited, _ []answered) bool { return sentContaining(s, "Send credential sets") })

	h.message(adminID, `here: [{"fetch_token":"ft-1","is_sandbox":true},{"hash_params":"x"},{"app_transaction":"at-2"}]`)
	h.waitFor(t, "saved", func(s []sent, _ []edited, _ []answered) bool { return sentContaining(s, "Saved 2 credential set(s)!") })

	h.store.mu.Lock()
	saved, saves := h.store.saved, h.store.saves
	h.store.mu.Unlock()
	want := []storage.TokenSet{{FetchToken: "ft-1", IsSandbox: true}, {AppTransaction: "at-2"}}
	if saves != 1 || len(saved) != 2 || saved[0] != want[0] || saved[1] != want[1] {
		t.Fatalf("saved = %+v (%d saves)", saved, saves)
	}
	if got := h.svc.Credentials().Len(); got != 2 {
		t.Fatalf("pool size = %d", got)
	}

	// The upload is one-shot: the next text is an ordinary message again.
	h.message(adminID, `[{"fetch_token":"ft-9"}]`)
	time.Sleep(50 * time.Millisecond)
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if h.store.saves != 1 {
		t.Fatalf("saves = %d", h.store.saves)
	}
}

func TestTokenFileUpload(t *testing.T) {
	h := newHarness(t)
	h.ad.addFile("doc-1", []byte(`[{"fetch_token":"ft-file","is_sandbox":true},{"app_transaction":"at-file"}]`))
	h.ad.addFile("doc-bad", []byte("not json"))
	attach := func(id, name string) func(*kit.Message) {
		return func(m *kit.Message) { m.Document = &kit.Document{FileID: id, FileName: name, Size: 64} }
	}

	// Non-admin documents are ignored.
	h.message(42, "", attach("doc-1", "tokens.json"))
	time.Sleep(50 * time.Millisecond)
	if s, _, _ := h.ad.snapshot(); len(s) != 0 {
		t.Fatalf("sent = %+v", s)
	}

	h.message(adminID, "", attach("doc-bad", "tokens.txt"))
	h.waitFor(t, "rejected", func(s []sent, _ []edited, _ []answered) bool { return sentContaining(s, "No valid credential sets found in the file") })

	h.message(adminID, "", attach("doc-1", "creds.exe"))
	h.waitFor(t, "wrong type", func(s []sent, _ []edited, _ []answered) bool { return sentContaining(s, ".json or .txt file") })

	// Unsolicited upload also disarms a pending /settoken.
	h.message(adminID, "/settoken")
	h.waitFor(t, "instructions", func(s []sent, _ []edited, _ []answered) bool { return sentContaining(s, "Send credential sets") })
	h.message(adminID, "", attach("doc-1", "Tokens.JSON"))
	h.waitFor(t, "saved", func(s []sent, _ []edited, _ []answered) bool { return sentContaining(s, "Saved 2 credential set(s)!") })

	h.store.mu.Lock()
	saved, saves := h.store.saved, h.store.saves
	h.store.mu.Unlock()
	want := []storage.TokenSet{{FetchToken: "ft-file", IsSandbox: true}, {AppTransaction: "at-file"}}
	if saves != 1 || len(saved) != 2 || saved[0] != want[0] || saved[1] != want[1] {
		t.Fatalf("saved = %+v (%d saves)", saved, saves)
	}
	if got := h.svc.Credentials().Len(); got != 2 {
		t.Fatalf("pool size = %d", got)
	}
	if h.bot.awaitingTokens.Load() {
		t.Fatal("upload still armed after file")
	}
}

func TestAnnounce(t *testing.T) {
	h := newHarness(t)
	h.bot.Announce(context.Background(), adminID)
	s, _, _ := h.ad.snapshot()
	if len(s) != 1 || s[0].To.ChatID != adminID || !strings.Contains(s[0].Text, "/settoken") {
		t.Fatalf("sent = %+v", s)
	}

	h.svc.Credentials().Swap([]dispatch.CredentialSet{{FetchToken: "ft"}})
	h.bot.Announce(context.Background(), adminID)
	h.bot.Announce(context.Background(), 0)
	if s, _, _ := h.ad.snapshot(); len(s) != 1 {
		t.Fatalf("sent = %+v", s)
	}
}

func TestDigest(t *testing.T) {
	h := newHarness(t)
	h.store.stats = storage.Stats{Total: 12, Success: 9, Fail: 3, UniqueUsers: 4}
	text, err := h.bot.Digest(context.Background())
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	for _, want := range []string{"SYSTEM STATISTICS", "<b>Active Users</b>: 4", "<b>Total Requests</b>: 12", "<b>Failed</b>: 3", "<b>Active Workers</b>: 3", "<b>Queue Size</b>: 0"} {
		if !strings.Contains(text, want) {
			t.Fatalf("digest %q missing %q", text, want)
		}
	}
}

func TestExtractUsername(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"alice":                              "alice",
		"  bob  ":                            "bob",
		"locket.cam/carol":                   "carol",
		"https://locket.cam/dave?ref=share":  "dave",
		"https://locket.cam/erin/extra#frag": "erin",
	}
	for in, want := range cases {
		if got := extractUsername(in); got != want {
			t.Errorf("extractUsername(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseCredentialSets(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   string
		want int
		err  bool
	}{
		{"array", `[{"fetch_token":"a"},{"fetch_token":"b","is_sandbox":true}]`, 2, false},
		{"single object in prose", "tokens:\n{\"app_transaction\":\"x\"}\nthanks", 1, false},
		{"entries without tokens", `[{"hash_params":"p"}]`, 0, true},
		{"no json", "fetch|transaction", 0, true},
		{"broken json", `[{"fetch_token":}]`, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseCredentialSets(tc.in)
			if (err != nil) != tc.err || len(got) != tc.want {
				t.Fatalf("parseCredentialSets = %+v, %v", got, err)
			}
		})
	}
}
