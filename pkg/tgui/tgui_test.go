package tgui

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestDataFitsLimit(t *testing.T) {
	t.Parallel()
	got, err := Data("upg", "uid-123", "alice")
	if err != nil || got != "upg|uid-123|alice" {
		t.Fatalf("Data = %q, %v", got, err)
	}

	uid := strings.Repeat("u", 28)
	name := strings.Repeat("ñ", 30) // 60 bytes
	got, err = Data("upg", uid, name)
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if len(got) > MaxCallbackDataLen || !utf8.ValidString(got) {
		t.Fatalf("Data = %q (%d bytes)", got, len(got))
	}
	parts := Fields(strings.TrimPrefix(got, "upg|"), 2)
	if len(parts) != 2 || parts[0] != uid || !strings.HasPrefix(name, parts[1]) {
		t.Fatalf("Fields = %q", parts)
	}

	if _, err := Data("upg", strings.Repeat("x", 64), "y"); err != ErrCallbackDataTooLong {
		t.Fatalf("err = %v, want ErrCallbackDataTooLong", err)
	}
}

func TestBuilderEscapesAndAttachesMarkup(t *testing.T) {
	t.Parallel()
	kb := NewInline().Row(Btn("Go", "go"))
	m := New().Title("📊", "Stats <x>").KV("Total", "3").Inline(kb).Build()
	want := "📊 <b>Stats &lt;x&gt;</b>\n• <b>Total</b>: 3"
	if m.Text != want {
		t.Fatalf("Text = %q", m.Text)
	}
	if m.Opt.ParseMode != "HTML" || !m.Opt.DisablePreview || m.Opt.ReplyMarkupAdapter == nil {
		t.Fatalf("Opt = %+v", m.Opt)
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	if got := TruncRunes("héllo", 3); got != "hél…" {
		t.Fatalf("TruncRunes = %q", got)
	}
	if got := TruncRunes("hi", 3); got != "hi" {
		t.Fatalf("TruncRunes = %q", got)
	}
}
