package tgui

import (
	"strings"
	"unicode/utf8"
)

// DataSep separates the prefix and parts of callback data.
const DataSep = "|"

// Data formats callback data as "prefix|part1|part2...". Parts must not
// contain DataSep. The last part is cut at a rune boundary so the result
// fits MaxCallbackDataLen; ErrCallbackDataTooLong is returned when even an
// empty last part does not fit.
func Data(prefix string, parts ...string) (string, error) {
	s := strings.TrimSpace(prefix)
	if len(parts) == 0 {
		if len(s) > MaxCallbackDataLen {
			return "", ErrCallbackDataTooLong
		}
		return s, nil
	}
	head := s
	for _, p := range parts[:len(parts)-1] {
		head += DataSep + p
	}
	head += DataSep
	if len(head) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	last := parts[len(parts)-1]
	room := MaxCallbackDataLen - len(head)
	for len(last) > room {
		_, size := utf8.DecodeLastRuneInString(last)
		last = last[:len(last)-size]
	}
	return head + last, nil
}

// Fields splits a callback payload (data after the prefix) into at most n parts.
func Fields(payload string, n int) []string {
	return strings.SplitN(payload, DataSep, n)
}
