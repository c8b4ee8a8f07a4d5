package bot

import (
	"upgradebot/internal/i18n"
	"upgradebot/pkg/tgui"
)

// Callback data.
const (
	cbSetLang   = "setlang_"
	cbMenuLang  = "menu_lang"
	cbMenuHelp  = "menu_help"
	cbMenuBack  = "menu_back"
	cbMenuInput = "menu_input"
	cbUpgrade   = "upg"
)

func mainMenu(lang string) *tgui.Inline {
	return tgui.NewInline().
		Row(tgui.Btn(i18n.T(lang, "btn_input"), cbMenuInput)).
		Row(tgui.Btn(i18n.T(lang, "btn_lang"), cbMenuLang), tgui.Btn(i18n.T(lang, "btn_help"), cbMenuHelp))
}

func langMenu() *tgui.Inline {
	return tgui.NewInline().
		Row(tgui.Btn("Tiếng Việt 🇻🇳", cbSetLang+i18n.VI)).
		Row(tgui.Btn("English 🇺🇸", cbSetLang+i18n.EN))
}

func backMenu(lang string) *tgui.Inline {
	return tgui.NewInline().Row(tgui.Btn(i18n.T(lang, "btn_back"), cbMenuBack))
}

// upgradeMenu carries uid and the display name in the button data.
func upgradeMenu(lang, uid, name string) (*tgui.Inline, error) {
	data, err := tgui.Data(cbUpgrade, uid, name)
	if err != nil {
		return nil, err
	}
	return tgui.NewInline().Row(tgui.Btn(i18n.T(lang, "btn_upgrade"), data)), nil
}
