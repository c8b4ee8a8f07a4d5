package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"upgradebot/internal/dispatch"
	"upgradebot/internal/i18n"
	"upgradebot/internal/transport/telegram/router"
	logx "upgradebot/pkg/logx"
	"upgradebot/pkg/tgui"
)

const profileHost = "locket.cam/"

// extractUsername takes the name out of a "locket.cam/<name>?..." link, or
// returns the text as is.
func extractUsername(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.LastIndex(text, profileHost); i >= 0 {
		name := text[i+len(profileHost):]
		if j := strings.IndexAny(name, "?#/ \n"); j >= 0 {
			name = name[:j]
		}
		return name
	}
	return text
}

// handleText serves plain messages: credential files and pending credential
// uploads from the admin first, then replies to the bot as lookups.
func (b *Bot) handleText(ctx context.Context, req *router.Request) error {
	if req.IsAdmin && req.Message != nil && req.Message.Document != nil {
		b.awaitingTokens.Store(false)
		return b.receiveTokenFile(ctx, req)
	}
	if req.IsAdmin && b.awaitingTokens.CompareAndSwap(true, false) {
		return b.receiveTokens(ctx, req)
	}
	if req.Message == nil || !req.Message.ReplyToBot {
		return nil
	}
	username := extractUsername(req.Rest)
	if username == "" {
		return nil
	}
	return b.lookupTarget(ctx, req, username)
}

func (b *Bot) lookupTarget(ctx context.Context, req *router.Request, username string) error {
	lang := b.lang(ctx, req.FromID)
	log := req.Logger.With(logx.String("username", username))

	opt := htmlOpts()
	opt.ReplyTo = req.Message.ID
	ref, err := b.ad.SendText(ctx, req.Chat, i18n.T(lang, "resolving"), opt)
	if err != nil {
		return err
	}

	uid, err := b.lookup.Resolve(ctx, username)
	if errors.Is(err, dispatch.ErrNotFound) {
		return b.edit(ctx, ref, i18n.T(lang, "not_found"), nil)
	}
	if err != nil {
		log.Warn("resolve failed", logx.Err(err))
		return b.edit(ctx, ref, i18n.T(lang, "busy"), nil)
	}

	allowed, err := b.svc.Limiter().CheckCanRequest(ctx, req.FromID)
	if err != nil {
		log.Warn("limit check failed", logx.Err(err))
		return b.edit(ctx, ref, i18n.T(lang, "busy"), nil)
	}
	if !allowed {
		return b.edit(ctx, ref, i18n.T(lang, "limit_reached"), nil)
	}

	_ = b.edit(ctx, ref, i18n.T(lang, "checking_status"), nil)
	statusText := i18n.T(lang, "free_status")
	st, err := b.lookup.Status(ctx, uid)
	if err != nil {
		log.Debug("status check failed; showing free", logx.Err(err))
	} else if st.Active {
		statusText = i18n.F(lang, "gold_active", tgui.Esc(st.Expires))
	}

	name := []rune(username)
	if len(name) > dispatch.MaxDisplayName {
		name = name[:dispatch.MaxDisplayName]
	}
	kb, err := upgradeMenu(lang, uid, string(name))
	if err != nil {
		log.Warn("upgrade button does not fit", logx.String("uid", uid), logx.Err(err))
		return b.edit(ctx, ref, i18n.T(lang, "busy"), nil)
	}
	return b.edit(ctx, ref, renderInfo(lang, uid, username, statusText), kb)
}

func renderInfo(lang, uid, username, status string) string {
	return fmt.Sprintf("%s\n%s: %s\n%s: %s\n%s <b>Status</b>: %s\n\n👇",
		i18n.T(lang, "user_info_title"),
		i18n.IconID, tgui.Code(uid),
		i18n.IconTag, tgui.Code(username),
		i18n.IconStat, status,
	)
}

