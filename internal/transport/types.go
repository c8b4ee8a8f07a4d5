package transport

import (
	"context"
	"errors"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool

	// ReplyToBot is set when the message answers one of the bot's own messages.
	ReplyToBot bool
	// ReplyPhotoID is the largest photo file id of the replied-to message, if any.
	ReplyPhotoID string
	// PhotoID is the largest photo file id attached to this message, if any.
	PhotoID string
	// Document is the attached file, if any. Its caption is carried in Text.
	Document *Document
}

type Document struct {
	FileID   string
	FileName string
	MIME     string
	Size     int64
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Target returns the chat the message lives in.
func (r MessageRef) Target() ChatTarget { return ChatTarget{ChatID: r.ChatID, ThreadID: r.ThreadID} }

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyTo            int // message id to reply to (0 = none)
	ForceReply         bool
	Placeholder        string // input placeholder shown with ForceReply
	ReplyMarkupAdapter any    // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// ErrNotModified is returned by EditText when the new content equals the old one.
var ErrNotModified = errors.New("transport: message is not modified")

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	SendPhoto(ctx context.Context, to ChatTarget, photo string, caption string, opt *SendOptions) (MessageRef, error)
	AnswerCallback(ctx context.Context, callbackID string, text string, alert bool) error
}

// ErrFileTooLarge is returned by DownloadFile when the file exceeds the limit.
var ErrFileTooLarge = errors.New("transport: file too large")

// FileDownloader is implemented by adapters that can fetch attached files.
type FileDownloader interface {
	DownloadFile(ctx context.Context, fileID string, maxBytes int64) ([]byte, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
