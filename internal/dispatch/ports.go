package dispatch

import (
	"context"
	"time"

	"upgradebot/internal/storage"
	kit "upgradebot/internal/transport"
)

// Store is the persistence the pipeline needs. storage.Store satisfies it.
type Store interface {
	storage.UsageStore
	AppendRequestLog(ctx context.Context, e storage.RequestLog) error
	GetConfig(ctx context.Context, key string) (string, bool, error)
}

// Messenger is the subset of the chat transport used for delivery.
// Every call is best-effort from the pipeline's point of view.
type Messenger interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error
	DeleteMessage(ctx context.Context, ref kit.MessageRef) error
	SendPhoto(ctx context.Context, to kit.ChatTarget, photo, caption string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// ProgressFunc receives one log line. It may be called from any goroutine.
type ProgressFunc func(line string)

// Executor performs the remote operation. A non-nil error is a failed item;
// *RemoteError carries the diagnostic shown to the user.
type Executor interface {
	Execute(ctx context.Context, target string, creds CredentialSet, progress ProgressFunc) (string, error)
}

// Profile is the result of a successful provisioning call.
type Profile struct {
	ID   string
	Link string
}

type Provisioner interface {
	Provision(ctx context.Context, progress ProgressFunc) (Profile, error)
}

// ConfigKeyResultPhoto is the bot_config key holding the result photo.
const ConfigKeyResultPhoto = "donate_photo"

const deliveryTimeout = 15 * time.Second

func htmlOpts() *kit.SendOptions {
	return &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
}

// sleepCtx waits d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
