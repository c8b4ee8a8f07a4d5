package dispatch

import (
	"context"
	"strings"
	"testing"
	"time"

	logx "upgradebot/pkg/logx"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()
	if got := stripANSI("\x1b[1;31merror\x1b[0m: bad"); got != "error: bad" {
		t.Fatalf("stripANSI = %q", got)
	}
}

func TestProgressTailKeepsLastLines(t *testing.T) {
	t.Parallel()
	tail := newProgressTail("header", 3)
	for _, l := range []string{"one\n", "two", "three\r\n", "four"} {
		tail.Append(l)
	}
	if got := strings.Join(tail.Lines(), ","); got != "two,three,four" {
		t.Fatalf("lines = %s", got)
	}
}

func TestProgressRendererCoalesces(t *testing.T) {
	t.Parallel()
	m := newFakeMessenger()
	ref := origin(1, 1)
	tail := newProgressTail("start", 10)
	r := startProgress(context.Background(), m, ref, tail, 20*time.Millisecond, logx.Nop())
	for range 50 {
		tail.Append("line")
	}
	time.Sleep(100 * time.Millisecond)
	r.Stop()
	r.Stop()

	edits := m.editsFor(ref)
	if len(edits) < 2 || len(edits) > 10 {
		t.Fatalf("edits = %d", len(edits))
	}
	if !strings.Contains(edits[0], "<pre><code>start</code></pre>") {
		t.Fatalf("first frame = %q", edits[0])
	}
	if !strings.Contains(edits[len(edits)-1], "line") {
		t.Fatalf("last frame = %q", edits[len(edits)-1])
	}
}

func TestProgressRendererSurvivesPanic(t *testing.T) {
	t.Parallel()
	m := newFakeMessenger()
	m.panicOn = "exploding"
	ref := origin(1, 1)
	tail := newProgressTail("start", 10)
	r := startProgress(context.Background(), m, ref, tail, time.Millisecond, logx.Nop())
	tail.Append("exploding")

	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("render loop did not exit after panic")
	}
	r.Stop()

	tail.Append("later")
	time.Sleep(20 * time.Millisecond)
	if edits := m.editsFor(ref); len(edits) != 1 {
		t.Fatalf("edits = %q", edits)
	}
}
