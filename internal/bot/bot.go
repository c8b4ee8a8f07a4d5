package bot

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"upgradebot/internal/dispatch"
	"upgradebot/internal/i18n"
	"upgradebot/internal/remote"
	"upgradebot/internal/storage"
	kit "upgradebot/internal/transport"
	"upgradebot/internal/transport/telegram/router"
	logx "upgradebot/pkg/logx"
	"upgradebot/pkg/tgui"
)

// Store is the persistence the chat surface needs. storage.Store satisfies it.
type Store interface {
	GetLang(ctx context.Context, userID int64) (string, bool, error)
	SetLang(ctx context.Context, userID int64, lang string) error
	SetConfig(ctx context.Context, key, value string) error
	Stats(ctx context.Context) (storage.Stats, error)
	KnownUsers(ctx context.Context) ([]int64, error)
	SaveCredentialSets(ctx context.Context, sets []storage.TokenSet) error
}

// Lookup resolves usernames and reads their current status.
type Lookup interface {
	Resolve(ctx context.Context, username string) (string, error)
	Status(ctx context.Context, uid string) (remote.Status, error)
}

type Config struct {
	DefaultLang string
}

type Deps struct {
	Adapter  kit.Adapter
	Router   *router.Router
	Store    Store
	Lookup   Lookup
	Dispatch *dispatch.Service
	Log      logx.Logger
}

// textTimeout covers one resolve plus one status call.
const textTimeout = 90 * time.Second

type Bot struct {
	cfg atomic.Pointer[Config]

	ad     kit.Adapter
	router *router.Router
	store  Store
	lookup Lookup
	svc    *dispatch.Service
	log    logx.Logger

	// awaitingTokens is armed by /settoken and consumed by the admin's next text.
	awaitingTokens atomic.Bool
}

func New(cfg Config, deps Deps) (*Bot, error) {
	switch {
	case deps.Adapter == nil:
		return nil, errors.New("bot: adapter is required")
	case deps.Router == nil:
		return nil, errors.New("bot: router is required")
	case deps.Store == nil:
		return nil, errors.New("bot: store is required")
	case deps.Lookup == nil:
		return nil, errors.New("bot: lookup is required")
	case deps.Dispatch == nil:
		return nil, errors.New("bot: dispatch service is required")
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Bot{
		ad:     deps.Adapter,
		router: deps.Router,
		store:  deps.Store,
		lookup: deps.Lookup,
		svc:    deps.Dispatch,
		log:    log,
	}
	b.Apply(cfg)
	return b, nil
}

// Apply swaps the runtime config. Safe during hot-reload.
func (b *Bot) Apply(cfg Config) {
	cfg.DefaultLang = i18n.Normalize(cfg.DefaultLang)
	b.cfg.Store(&cfg)
}

// Register installs every command, callback and the text handler on the router.
func (b *Bot) Register() {
	b.router.SetRegistry(b.Commands(), b.Callbacks(), b.handleText, textTimeout)
}

// Announce asks the admin for credentials when none is usable.
func (b *Bot) Announce(ctx context.Context, adminID int64) {
	if adminID == 0 || b.svc.Credentials().HasUsable() {
		return
	}
	text := i18n.IconLoading + " <b>Bot started without credentials!</b>\n\n" +
		"Send /settoken and paste the credential JSON here to start serving requests."
	if _, err := b.ad.SendText(ctx, kit.ChatTarget{ChatID: adminID}, text, htmlOpts()); err != nil {
		b.log.Warn("admin credential prompt failed", logx.Err(err))
		return
	}
	b.log.Info("no usable credentials; asked admin")
}

// lang returns the user's stored language or the configured default.
func (b *Bot) lang(ctx context.Context, userID int64) string {
	lang, ok, err := b.store.GetLang(ctx, userID)
	if err != nil {
		b.log.Debug("language lookup failed", logx.Int64("user_id", userID), logx.Err(err))
	}
	if !ok || strings.TrimSpace(lang) == "" {
		return b.cfg.Load().DefaultLang
	}
	return i18n.Normalize(lang)
}

func htmlOpts() *kit.SendOptions {
	return &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
}

// reply sends an HTML message to the request's chat.
func (b *Bot) reply(ctx context.Context, req *router.Request, text string, kb *tgui.Inline) (kit.MessageRef, error) {
	return tgui.New().RawLine(text).Inline(kb).Build().Send(ctx, b.ad, req.Chat)
}

// edit replaces the text (and keyboard) of ref. Unchanged content is not an error.
func (b *Bot) edit(ctx context.Context, ref kit.MessageRef, text string, kb *tgui.Inline) error {
	err := tgui.New().RawLine(text).Inline(kb).Build().Edit(ctx, b.ad, ref)
	if errors.Is(err, kit.ErrNotModified) {
		return nil
	}
	return err
}

// callbackRef is the message carrying the pressed button.
func callbackRef(req *router.Request) kit.MessageRef {
	cb := req.Callback
	return kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
}
