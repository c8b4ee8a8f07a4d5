package dispatch

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	kit "upgradebot/internal/transport"
)

// MaxDisplayName is the rune limit for QueueItem.DisplayName.
const MaxDisplayName = 30

// QueueItem is one accepted request. Items are never persisted.
type QueueItem struct {
	ID          string
	UserID      int64
	Target      string
	DisplayName string
	// Origin is the message that shows the position and then the progress.
	Origin     kit.MessageRef
	Lang       string
	EnqueuedAt time.Time
}

// SubmitRequest is what the chat layer hands to Service.Submit.
type SubmitRequest struct {
	UserID      int64
	Target      string
	DisplayName string
	Origin      kit.MessageRef
	Lang        string
}

func newItem(req SubmitRequest, now time.Time) QueueItem {
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		name = req.Target
	}
	return QueueItem{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Target:      req.Target,
		DisplayName: truncateName(name),
		Origin:      req.Origin,
		Lang:        req.Lang,
		EnqueuedAt:  now,
	}
}

func truncateName(s string) string {
	if utf8.RuneCountInString(s) <= MaxDisplayName {
		return s
	}
	return string([]rune(s)[:MaxDisplayName])
}
