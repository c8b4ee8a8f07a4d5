package i18n

import (
	"strings"
	"testing"
)

func TestFallback(t *testing.T) {
	t.Parallel()
	if got := Normalize("vi"); got != VI {
		t.Fatalf("Normalize(vi) = %q", got)
	}
	if got := Normalize("fr"); got != EN {
		t.Fatalf("Normalize(fr) = %q", got)
	}
	if T("FR", "btn_help") != T(EN, "btn_help") {
		t.Fatal("unknown language should fall back to EN")
	}
	if got := T(EN, "no_such_key"); got != "no_such_key" {
		t.Fatalf("missing key = %q", got)
	}
}

func TestTablesHaveSameKeys(t *testing.T) {
	t.Parallel()
	for key := range table[EN] {
		if _, ok := table[VI][key]; !ok {
			t.Errorf("VI missing %q", key)
		}
	}
	for key := range table[VI] {
		if _, ok := table[EN][key]; !ok {
			t.Errorf("EN missing %q", key)
		}
	}
}

func TestQueuedFormat(t *testing.T) {
	t.Parallel()
	got := F(EN, "queued", "alice", 3, 2)
	for _, want := range []string{"<code>alice</code>", "<b>3</b>", "<b>2</b>"} {
		if !strings.Contains(got, want) {
			t.Fatalf("queued text %q missing %q", got, want)
		}
	}
}
