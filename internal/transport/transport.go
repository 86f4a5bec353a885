package transport

import (
	"errors"
	"time"
)

// ErrFileTooBig is returned when the primary Bot API channel refuses a
// download because the file exceeds its size ceiling. Callers switch to the
// fallback transfer path on this error.
var ErrFileTooBig = errors.New("file exceeds bot API size limit")

// ErrNoInviteRights is returned when the transport reports the bot lacks
// invite-link management rights in the destination chat.
var ErrNoInviteRights = errors.New("missing rights to manage chat invite links")

// Update is one inbound event from the chat platform.
type Update struct {
	ID            int64
	Message       *Message
	CallbackQuery *CallbackQuery
}

// Message is an inbound or outbound chat message.
type Message struct {
	ID       int64
	Chat     Chat
	From     *UserRef
	Text     string
	ReplyTo  *Message
	Audio    *FileRef
	Voice    *FileRef
	Document *FileRef
	Date     time.Time
}

// Chat identifies a conversation. Type is one of "private", "group",
// "supergroup", or "channel".
type Chat struct {
	ID         int64
	Type       string
	Username   string
	InviteLink string
}

// UserRef identifies a chat user.
type UserRef struct {
	ID       int64
	Username string
}

// FileRef identifies an attached file.
type FileRef struct {
	FileID   string
	FileName string
	MIMEType string
	Size     int64
}

// CallbackQuery is a button press on an inline keyboard.
type CallbackQuery struct {
	ID      string
	From    UserRef
	Message *Message
	Data    string
}

// Button is one inline keyboard button.
type Button struct {
	Text         string
	CallbackData string
}

// InviteLink is a single-use (member limit 1) access grant.
type InviteLink struct {
	Link string
}

// ActiveMember reports whether a member-lookup status means the user
// currently belongs to the chat.
func ActiveMember(status string) bool {
	switch status {
	case "left", "kicked", "banned":
		return false
	default:
		return status != ""
	}
}
