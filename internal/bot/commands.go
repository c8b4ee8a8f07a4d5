package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"upgradebot/internal/dispatch"
	"upgradebot/internal/i18n"
	"upgradebot/internal/transport/telegram/router"
	logx "upgradebot/pkg/logx"
	"upgradebot/pkg/tgui"
)

func (b *Bot) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "Main menu", Handle: b.handleStart},
		{Name: "setlang", Description: "Change language", Handle: b.handleSetLang},
		{Name: "help", Description: "How to use", Handle: b.handleHelp},
		{Name: "noti", Usage: "/noti [msg]", Description: "Broadcast message", Access: router.AccessAdmin, Handle: b.handleNoti},
		{Name: "rs", Usage: "/rs [id]", Description: "Reset usage limit", Access: router.AccessAdmin, Handle: b.handleReset},
		{Name: "setdonate", Description: "Set success photo", Access: router.AccessAdmin, Handle: b.handleSetDonate},
		{Name: "settoken", Description: "Upload credential sets", Access: router.AccessAdmin, Handle: b.handleSetToken},
		{Name: "stats", Description: "View detailed statistics", Access: router.AccessAdmin, Handle: b.handleStats},
	}
}

func (b *Bot) handleStart(ctx context.Context, req *router.Request) error {
	lang := b.lang(ctx, req.FromID)
	_, err := b.reply(ctx, req, i18n.T(lang, "welcome"), mainMenu(lang))
	return err
}

func (b *Bot) handleSetLang(ctx context.Context, req *router.Request) error {
	_, err := b.reply(ctx, req, i18n.T(i18n.EN, "lang_select"), langMenu())
	return err
}

func (b *Bot) helpText(lang string, admin bool) string {
	text := i18n.T(lang, "help_msg")
	if admin {
		if extra := b.router.AdminHelp(); extra != "" {
			text += "\n\n" + extra
		}
	}
	return text
}

func (b *Bot) handleHelp(ctx context.Context, req *router.Request) error {
	_, err := b.reply(ctx, req, b.helpText(b.lang(ctx, req.FromID), req.IsAdmin), nil)
	return err
}

func (b *Bot) handleStats(ctx context.Context, req *router.Request) error {
	text, err := b.Digest(ctx)
	if err != nil {
		req.Logger.Warn("stats failed", logx.Err(err))
		text = i18n.T(b.lang(ctx, req.FromID), "busy")
	}
	_, err = b.reply(ctx, req, text, nil)
	return err
}

// Digest renders the statistics block shown by /stats and the daily digest job.
func (b *Bot) Digest(ctx context.Context) (string, error) {
	st, err := b.store.Stats(ctx)
	if err != nil {
		return "", fmt.Errorf("stats: %w", err)
	}
	snap := b.svc.Snapshot()
	m := tgui.New().
		Title(i18n.IconStat, "SYSTEM STATISTICS").
		Line(rule).
		KV("Active Users", strconv.Itoa(st.UniqueUsers)).
		KV("Total Requests", strconv.Itoa(st.Total)).
		KV("Success", strconv.Itoa(st.Success)).
		KV("Failed", strconv.Itoa(st.Fail)).
		Line(rule).
		KV("Active Workers", strconv.Itoa(snap.Workers)).
		KV("Token Sets", strconv.Itoa(snap.Credentials)).
		KV("Queue Size", strconv.Itoa(snap.QueueDepth)).
		Build()
	return m.Text, nil
}

const rule = "━━━━━━━━━━━━━━━━━━━"

func (b *Bot) handleNoti(ctx context.Context, req *router.Request) error {
	msg := strings.TrimSpace(req.Rest)
	if msg == "" {
		_, err := b.reply(ctx, req, "Usage: /noti {message}", nil)
		return err
	}
	users, err := b.store.KnownUsers(ctx)
	if err != nil {
		req.Logger.Warn("known users lookup failed", logx.Err(err))
		_, err = b.reply(ctx, req, i18n.T(b.lang(ctx, req.FromID), "busy"), nil)
		return err
	}
	if len(users) == 0 {
		_, err := b.reply(ctx, req, "No users found.", nil)
		return err
	}
	status, err := b.reply(ctx, req, fmt.Sprintf("%s <b>Starting broadcast to %d users...</b>", i18n.IconLoading, len(users)), nil)
	if err != nil {
		return err
	}
	job := b.svc.StartBroadcast(ctx, users, msg, status)
	req.Logger.Info("broadcast requested", logx.String("job", job.ID()), logx.Int("users", len(users)))
	return nil
}

func (b *Bot) handleReset(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		_, err := b.reply(ctx, req, "Usage: /rs {user_id}", nil)
		return err
	}
	target, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil {
		_, err = b.reply(ctx, req, "Invalid User ID", nil)
		return err
	}
	lang := b.lang(ctx, req.FromID)
	if err := b.svc.Limiter().Reset(ctx, target); err != nil {
		req.Logger.Warn("usage reset failed", logx.Int64("target", target), logx.Err(err))
		_, err = b.reply(ctx, req, i18n.T(lang, "busy"), nil)
		return err
	}
	_, err = b.reply(ctx, req, i18n.F(lang, "admin_reset", target), nil)
	return err
}

func (b *Bot) handleSetDonate(ctx context.Context, req *router.Request) error {
	photo := req.Message.ReplyPhotoID
	if photo == "" {
		photo = req.Message.PhotoID
	}
	if photo == "" {
		_, err := b.reply(ctx, req, i18n.IconError+" Please reply to a photo with /setdonate to set it.", nil)
		return err
	}
	if err := b.store.SetConfig(ctx, dispatch.ConfigKeyResultPhoto, photo); err != nil {
		req.Logger.Warn("donate photo save failed", logx.Err(err))
		_, err = b.reply(ctx, req, i18n.T(b.lang(ctx, req.FromID), "busy"), nil)
		return err
	}
	_, err := b.reply(ctx, req, i18n.IconSuccess+" Updated Donate Photo ID:\n"+tgui.Code(photo).String(), nil)
	return err
}

func (b *Bot) handleSetToken(ctx context.Context, req *router.Request) error {
	b.awaitingTokens.Store(true)
	_, err := b.reply(ctx, req, uploadHelp, nil)
	return err
}

const uploadHelp = i18n.IconLoading + " <b>Send credential sets</b>\n\n" +
	"Paste a JSON array (or a single object) as your next message:\n" +
	"<pre>[\n" +
	`  {"fetch_token": "ey...", "app_transaction": "ey...", "hash_params": "", "hash_headers": "", "is_sandbox": true}` + "\n" +
	"]</pre>\n" +
	"or send the same JSON as a .json or .txt file.\n\n" +
	"The stored sets replace the current pool."
