// Package i18n holds the fixed EN/VI text table.
//
// Values are Telegram HTML. Placeholders use fmt verbs; callers escape any
// user-provided argument before formatting.
package i18n

import (
	"fmt"
	"strings"
)

const (
	EN = "EN"
	VI = "VI"
)

// Icons shared by several texts.
const (
	IconLoading  = "⏳"
	IconSuccess  = "✅"
	IconError    = "❌"
	IconID       = "🆔"
	IconTag      = "🏷"
	IconCalendar = "📅"
	IconStat     = "📊"
	IconUser     = "👤"
	IconGlobe    = "🌐"
	IconWorker   = "🤖"
)

var table = map[string]map[string]string{
	EN: {
		"welcome": "👋 <b>Welcome!</b>\n\nSend me a username or profile link and I will upgrade it for you.\nYou have a small number of free upgrades per day.",
		"menu_msg": "🏠 <b>Main menu</b>\nChoose an option below.",
		"help_msg": "📖 <b>How to use</b>\n" +
			"1. Tap <b>Enter username</b>.\n" +
			"2. Reply with a username or a <code>locket.cam/...</code> link.\n" +
			"3. Tap <b>Upgrade</b> and wait for your turn.\n\n" +
			"/start - Main menu\n/setlang - Change language\n/help - This message",
		"lang_select":     "🌐 Choose your language:",
		"lang_set":        "Language: %s",
		"prompt_input":    "✍️ Reply to this message with a username or profile link.",
		"btn_input":       "✍️ Enter username",
		"btn_lang":        "🌐 Language",
		"btn_help":        "📖 Help",
		"btn_back":        "🔙 Back",
		"btn_upgrade":     "🚀 Upgrade",
		"resolving":       IconLoading + " Looking up user...",
		"not_found":       IconError + " <b>User not found.</b> Check the username and try again.",
		"checking_status": IconLoading + " Checking current status...",
		"free_status":     "Free",
		"gold_active":     "Gold active until %s",
		"user_info_title": "👤 <b>USER INFO</b>",
		"limit_reached":   "⛔ <b>Daily limit reached.</b> Come back tomorrow.",
		"limit_alert":     "⛔ Daily limit reached. Come back tomorrow.",
		"queued": IconLoading + " <b>Queued</b>\n" +
			IconTag + " <code>%s</code>\n" +
			"🔢 Position: <b>%d</b>\n" +
			"👥 Ahead of you: <b>%d</b>",
		"queue_almost":  "🔔 <b>Almost your turn!</b> Only 2 requests ahead of you.",
		"queue_ack":     "🚀 Queue...",
		"success_title": IconSuccess + " <b>UPGRADE SUCCESSFUL</b>",
		"fail_title":    IconError + " <b>UPGRADE FAILED</b>",
		"dns_msg":       "🛡 <b>DNS profile</b>: %s\n" + IconID + " Profile: <code>%s</code>",
		"admin_reset":   IconSuccess + " Usage reset for user %d.",
		"busy":          IconError + " Something went wrong. Please try again later.",
	},
	VI: {
		"welcome": "👋 <b>Xin chào!</b>\n\nGửi cho mình username hoặc link hồ sơ để nâng cấp.\nMỗi ngày bạn có một số lượt miễn phí.",
		"menu_msg": "🏠 <b>Menu chính</b>\nChọn một mục bên dưới.",
		"help_msg": "📖 <b>Hướng dẫn</b>\n" +
			"1. Bấm <b>Nhập username</b>.\n" +
			"2. Trả lời bằng username hoặc link <code>locket.cam/...</code>.\n" +
			"3. Bấm <b>Nâng cấp</b> và chờ đến lượt.\n\n" +
			"/start - Menu chính\n/setlang - Đổi ngôn ngữ\n/help - Hướng dẫn",
		"lang_select":     "🌐 Chọn ngôn ngữ:",
		"lang_set":        "Ngôn ngữ: %s",
		"prompt_input":    "✍️ Trả lời tin nhắn này bằng username hoặc link hồ sơ.",
		"btn_input":       "✍️ Nhập username",
		"btn_lang":        "🌐 Ngôn ngữ",
		"btn_help":        "📖 Hướng dẫn",
		"btn_back":        "🔙 Quay lại",
		"btn_upgrade":     "🚀 Nâng cấp",
		"resolving":       IconLoading + " Đang tìm người dùng...",
		"not_found":       IconError + " <b>Không tìm thấy người dùng.</b> Kiểm tra lại username.",
		"checking_status": IconLoading + " Đang kiểm tra trạng thái...",
		"free_status":     "Miễn phí",
		"gold_active":     "Gold còn hạn đến %s",
		"user_info_title": "👤 <b>THÔNG TIN</b>",
		"limit_reached":   "⛔ <b>Bạn đã hết lượt hôm nay.</b> Quay lại vào ngày mai.",
		"limit_alert":     "⛔ Bạn đã hết lượt hôm nay. Quay lại vào ngày mai.",
		"queued": IconLoading + " <b>Đang xếp hàng</b>\n" +
			IconTag + " <code>%s</code>\n" +
			"🔢 Vị trí: <b>%d</b>\n" +
			"👥 Phía trước: <b>%d</b>",
		"queue_almost":  "🔔 <b>Sắp đến lượt bạn!</b> Chỉ còn 2 yêu cầu phía trước.",
		"queue_ack":     "🚀 Đang xếp hàng...",
		"success_title": IconSuccess + " <b>NÂNG CẤP THÀNH CÔNG</b>",
		"fail_title":    IconError + " <b>NÂNG CẤP THẤT BẠI</b>",
		"dns_msg":       "🛡 <b>DNS profile</b>: %s\n" + IconID + " Profile: <code>%s</code>",
		"admin_reset":   IconSuccess + " Đã reset lượt cho user %d.",
		"busy":          IconError + " Có lỗi xảy ra. Vui lòng thử lại sau.",
	},
}

// Normalize maps any input to a supported language tag, EN when unknown.
func Normalize(lang string) string {
	l := strings.ToUpper(strings.TrimSpace(lang))
	if _, ok := table[l]; ok {
		return l
	}
	return EN
}

// Supported reports whether lang has its own table.
func Supported(lang string) bool {
	_, ok := table[strings.ToUpper(strings.TrimSpace(lang))]
	return ok
}

// T returns the text for key in lang, falling back to EN and then to the key.
func T(lang, key string) string {
	if s, ok := table[Normalize(lang)][key]; ok {
		return s
	}
	if s, ok := table[EN][key]; ok {
		return s
	}
	return key
}

// F formats the text for key with args.
func F(lang, key string, args ...any) string {
	return fmt.Sprintf(T(lang, key), args...)
}
