package transport

import (
	"context"
	"time"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
	UpdateJoined   UpdateKind = "joined"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
	Joined   *Joined
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
	ReplyToID    int // id of the replied-to message (0 if not a reply)
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

// Joined is delivered when users are added to a chat. UserIDs contains the
// added members; the consumer checks for the bot's own id to detect
// "bot added to group".
type Joined struct {
	ChatID   int64
	ThreadID int
	UserIDs  []int64
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

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// Member describes the bot's or a user's standing in a chat.
type Member struct {
	Role           string // "creator", "administrator", "member", ...
	CanInviteUsers bool
}

func (m Member) IsAdmin() bool {
	return m.Role == "creator" || m.Role == "administrator"
}

// Adapter is the messaging platform client boundary. Everything the lifecycle
// manager does to the outside world goes through this interface, which keeps
// it fakeable in tests.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	BotID() int64
	BotUsername() string

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	ForwardMessage(ctx context.Context, to ChatTarget, fromChatID int64, messageID int) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error

	// CreateInviteLink mints a single-use invite link expiring at expiresAt.
	CreateInviteLink(ctx context.Context, chatID int64, name string, expiresAt time.Time) (string, error)
	MemberOf(ctx context.Context, chatID, userID int64) (Member, error)
}
