package adapter

import "time"

// Config holds the adapter's connection settings.
type Config struct {
	Token       string
	PollTimeout time.Duration
	// AllowedUpdates limits the update types requested from Telegram (empty = default set).
	AllowedUpdates []string
}
