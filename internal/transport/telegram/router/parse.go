package router

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode"
)

var ridSeq atomic.Uint64

// newReqID returns a short id: base36 timestamp plus a sequence number.
func newReqID() string {
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(ridSeq.Add(1), 36)
}

// splitCommand parses "/cmd@bot a b" into ("cmd", [a b], "a b", true).
// rest keeps the original spacing and newlines after the command word.
func splitCommand(text string) (word string, args []string, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) == 1 {
		return "", nil, "", false
	}
	head, tail := text[1:], ""
	if i := strings.IndexFunc(head, unicode.IsSpace); i >= 0 {
		head, tail = head[:i], head[i:]
	}
	if i := strings.IndexByte(head, '@'); i >= 0 {
		head = head[:i]
	}
	if head == "" {
		return "", nil, "", false
	}
	rest = strings.TrimSpace(tail)
	return strings.ToLower(head), strings.Fields(rest), rest, true
}
