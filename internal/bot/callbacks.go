package bot

import (
	"context"
	"errors"
	"strings"

	"upgradebot/internal/dispatch"
	"upgradebot/internal/i18n"
	"upgradebot/internal/transport/telegram/router"
	logx "upgradebot/pkg/logx"
	"upgradebot/pkg/tgui"
)

func (b *Bot) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Data: cbSetLang, Prefix: true, Handle: b.onSetLang},
		{Data: cbMenuLang, Handle: b.onMenuLang},
		{Data: cbMenuHelp, Handle: b.onMenuHelp},
		{Data: cbMenuBack, Handle: b.onMenuBack},
		{Data: cbMenuInput, Handle: b.onMenuInput},
		{Data: cbUpgrade + tgui.DataSep, Prefix: true, Handle: b.onUpgrade},
	}
}

func (b *Bot) onSetLang(ctx context.Context, req *router.Request) error {
	if !i18n.Supported(req.Payload) {
		return nil
	}
	lang := i18n.Normalize(req.Payload)
	if err := b.store.SetLang(ctx, req.FromID, lang); err != nil {
		req.Logger.Warn("language save failed", logx.Err(err))
		return req.Answer(ctx, i18n.T(lang, "busy"), false)
	}
	_ = req.Answer(ctx, i18n.F(lang, "lang_set", lang), false)
	return b.edit(ctx, callbackRef(req), i18n.T(lang, "menu_msg"), mainMenu(lang))
}

func (b *Bot) onMenuLang(ctx context.Context, req *router.Request) error {
	return b.edit(ctx, callbackRef(req), i18n.T(i18n.EN, "lang_select"), langMenu())
}

func (b *Bot) onMenuHelp(ctx context.Context, req *router.Request) error {
	lang := b.lang(ctx, req.FromID)
	return b.edit(ctx, callbackRef(req), b.helpText(lang, req.IsAdmin), backMenu(lang))
}

func (b *Bot) onMenuBack(ctx context.Context, req *router.Request) error {
	lang := b.lang(ctx, req.FromID)
	return b.edit(ctx, callbackRef(req), i18n.T(lang, "menu_msg"), mainMenu(lang))
}

func (b *Bot) onMenuInput(ctx context.Context, req *router.Request) error {
	_ = req.Answer(ctx, "", false)
	lang := b.lang(ctx, req.FromID)
	opt := htmlOpts()
	opt.ForceReply = true
	opt.Placeholder = "Username..."
	_, err := b.ad.SendText(ctx, req.Chat, i18n.T(lang, "prompt_input"), opt)
	return err
}

// onUpgrade submits "upg|<uid>|<name>". The queued text is written into the
// button's message by the dispatch service.
func (b *Bot) onUpgrade(ctx context.Context, req *router.Request) error {
	parts := tgui.Fields(req.Payload, 2)
	uid := strings.TrimSpace(parts[0])
	if uid == "" {
		return nil
	}
	name := uid
	if len(parts) == 2 && strings.TrimSpace(parts[1]) != "" {
		name = parts[1]
	}
	lang := b.lang(ctx, req.FromID)

	pos, err := b.svc.Submit(ctx, dispatch.SubmitRequest{
		UserID:      req.FromID,
		Target:      uid,
		DisplayName: name,
		Origin:      callbackRef(req),
		Lang:        lang,
	})
	switch {
	case errors.Is(err, dispatch.ErrRateLimited):
		return req.Answer(ctx, i18n.T(lang, "limit_alert"), true)
	case err != nil:
		req.Logger.Warn("submit failed", logx.Err(err))
		return req.Answer(ctx, i18n.T(lang, "busy"), true)
	}
	req.Logger.Info("upgrade queued", logx.String("target", uid), logx.Int("position", pos))
	return req.Answer(ctx, i18n.T(lang, "queue_ack"), false)
}

