package dispatch

import (
	"fmt"
	"strings"

	"upgradebot/internal/i18n"
	"upgradebot/pkg/tgui"
)

const (
	progressHeader = "⚡ SYSTEM EXPLOIT RUNNING..."
	planText       = "Gold (30d)"
	provisionError = "NextDNS Error: Check API Key"
	rule           = "━━━━━━━━━━━━━━━━━━━"
)

func escape(s string) string { return tgui.Esc(s).String() }

func renderProgress(lines []string) string {
	return i18n.IconLoading + " " + tgui.B(progressHeader).String() + "\n" +
		tgui.Pre(strings.Join(lines, "\n")).String()
}

func renderSuccess(it QueueItem, dns string) string {
	parts := []tgui.H{
		tgui.Raw(i18n.T(it.Lang, "success_title") + "\n"),
		tgui.Raw(i18n.IconTag + ": " + tgui.Code(it.DisplayName).String()),
		tgui.Raw(i18n.IconID + ": " + tgui.Code(it.Target).String()),
		tgui.Raw(i18n.IconCalendar + " " + tgui.B("Plan").String() + ": " + planText),
		tgui.Raw(dns),
	}
	return tgui.JoinH("\n", parts...).String()
}

func renderProvision(lang string, p Profile, err error) string {
	if err != nil || p.Link == "" {
		return i18n.IconError + " " + provisionError
	}
	return i18n.F(lang, "dns_msg", escape(p.Link), escape(p.ID))
}

func renderFailure(lang, diag string) string {
	return i18n.T(lang, "fail_title") + "\nInfo:\n" + tgui.Code(diag).String()
}

func renderBroadcastProgress(done, total, sent, failed int) string {
	return fmt.Sprintf("%s %s\n%s\n🔄 %s: %d/%d\n%s %s: %d\n%s %s: %d",
		i18n.IconLoading, tgui.B("Broadcasting..."), rule,
		tgui.B("Progress"), done, total,
		i18n.IconSuccess, tgui.B("Success"), sent,
		i18n.IconError, tgui.B("Failed"), failed)
}

func renderBroadcastDone(total, sent, failed int) string {
	return fmt.Sprintf("%s %s\n%s\n👥 %s: %d\n%s %s: %d\n%s %s: %d",
		i18n.IconSuccess, tgui.B("Broadcast Complete!"), rule,
		tgui.B("Total"), total,
		i18n.IconSuccess, tgui.B("Success"), sent,
		i18n.IconError, tgui.B("Failed"), failed)
}

// broadcastMessage prefixes text (already HTML) with the admin banner.
func broadcastMessage(text string) string {
	return "📢 " + tgui.B("ADMIN NOTIFICATION").String() + "\n\n" + text
}
