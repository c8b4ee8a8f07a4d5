package tgui

import (
	"context"
	"strings"

	kit "upgradebot/internal/transport"
)

// Messenger is the part of the chat adapter a Message needs.
type Messenger interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error
}

// Message is a rendered UI payload: text + send options.
type Message struct {
	Text string
	Opt  *kit.SendOptions
}

func (m Message) opts() *kit.SendOptions {
	if m.Opt == nil {
		return &kit.SendOptions{}
	}
	return m.Opt
}

// Send sends the Message as a new chat message.
func (m Message) Send(ctx context.Context, ms Messenger, to kit.ChatTarget) (kit.MessageRef, error) {
	return ms.SendText(ctx, to, m.Text, m.opts())
}

// Edit replaces the text and keyboard of ref.
func (m Message) Edit(ctx context.Context, ms Messenger, ref kit.MessageRef) error {
	return ms.EditText(ctx, ref, m.Text, m.opts())
}

// Builder assembles an HTML message line by line.
// Output always uses ParseMode=HTML with link previews disabled.
type Builder struct {
	inline *Inline
	lines  []string
}

func New() *Builder { return &Builder{} }

// Inline attaches an inline keyboard. A nil keyboard removes it.
func (b *Builder) Inline(kb *Inline) *Builder {
	b.inline = kb
	return b
}

// Title adds a bold title line. Emoji is optional.
func (b *Builder) Title(emoji, title string) *Builder {
	e := strings.TrimSpace(emoji)
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	if e != "" {
		b.lines = append(b.lines, Esc(e).String()+" "+B(t).String())
	} else {
		b.lines = append(b.lines, B(t).String())
	}
	return b
}

// Line adds a single escaped line.
func (b *Builder) Line(s string) *Builder {
	b.lines = append(b.lines, Esc(s).String())
	return b
}

// RawLine appends pre-rendered HTML as is.
func (b *Builder) RawLine(s string) *Builder {
	b.lines = append(b.lines, s)
	return b
}

// KV adds a "• key: value" row with the key in bold.
func (b *Builder) KV(key, value string) *Builder {
	key = strings.TrimSpace(key)
	if key == "" {
		return b
	}
	b.lines = append(b.lines, "• "+B(key).String()+": "+Esc(strings.TrimSpace(value)).String())
	return b
}

func (b *Builder) Build() Message {
	text := strings.Trim(strings.Join(b.lines, "\n"), "\n")
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if b.inline != nil {
		opt.ReplyMarkupAdapter = b.inline.Markup()
	}
	return Message{Text: text, Opt: opt}
}
