// Package channel defines the transport contract the bot core talks to and the
// inbound events a transport delivers. Adapters such as Telegram implement it.
package channel

import (
	"strings"
	"time"
)

// ChannelType identifies a messaging platform (e.g., "telegram").
type ChannelType string

// String returns the channel type as a plain string.
func (c ChannelType) String() string {
	return string(c)
}

// MessageHandle addresses one message already delivered to a chat.
type MessageHandle struct {
	ChatID    int64
	MessageID int
}

// IsZero reports whether the handle points at no message.
func (h MessageHandle) IsZero() bool {
	return h.ChatID == 0 && h.MessageID == 0
}

// FileHandle is the platform reference to a remote file. It is borrowed from
// the transport and only meaningful to the adapter that produced it.
type FileHandle struct {
	ID       string
	UniqueID string
}

// FileKind is the platform media category a file arrived as.
type FileKind string

const (
	FileKindDocument FileKind = "document"
	FileKindVideo    FileKind = "video"
	FileKindAudio    FileKind = "audio"
)

// Sender carries the display identity of the user behind an event.
type Sender struct {
	UserID    int64
	Username  string
	FirstName string
}

// DisplayName returns the best available human label.
func (s Sender) DisplayName() string {
	if name := strings.TrimSpace(s.FirstName); name != "" {
		return name
	}
	if name := strings.TrimSpace(s.Username); name != "" {
		return "@" + name
	}
	return "User"
}

// FileArrived is delivered when a user sends a document, video or audio file.
type FileArrived struct {
	ChatID     int64
	MessageID  int
	Sender     Sender
	File       FileHandle
	Kind       FileKind
	Name       string
	Size       int64
	Mime       string
	DurationS  int
	ReceivedAt time.Time
}

// ButtonTapped is delivered when a user taps an inline button.
type ButtonTapped struct {
	CallbackID string
	ChatID     int64
	// MessageID is the message that carries the tapped keyboard.
	MessageID int
	Sender    Sender
	Payload   string
}

// TextReplied is delivered for a plain text message. RepliedToMessageID is zero
// when the message does not reply to anything.
type TextReplied struct {
	ChatID             int64
	MessageID          int
	Sender             Sender
	RepliedToMessageID int
	Text               string
}

// CommandIssued is delivered for a slash command such as /usage.
type CommandIssued struct {
	ChatID    int64
	MessageID int
	Sender    Sender
	Command   string
	Args      string
}

// PhotoArrived is delivered when a user sends a compressed photo.
type PhotoArrived struct {
	ChatID    int64
	MessageID int
	Sender    Sender
	File      FileHandle
	Size      int64
	Caption   string
}

// Button is one inline keyboard button. A button with URL opens the link
// instead of sending Data back.
type Button struct {
	Text string
	Data string
	URL  string
}

// SendOptions tunes an outbound text message.
type SendOptions struct {
	ReplyTo int
	// HTML enables HTML parse mode.
	HTML bool
	// ForceReply asks the client to open a reply to the sent message.
	ForceReply bool
	Buttons    [][]Button
}

// UploadAttributes are media hints attached to an upload.
type UploadAttributes struct {
	// AsVideo sends the file as a streamable video instead of a document.
	AsVideo           bool
	DurationS         int
	Width             int
	Height            int
	SupportsStreaming bool
}

// UploadRequest describes one file upload back to a chat.
type UploadRequest struct {
	Path          string
	Filename      string
	ThumbnailPath string
	Caption       string
	Attributes    UploadAttributes
}

// ProgressFunc observes a running transfer. total is zero when unknown.
type ProgressFunc func(done, total int64)
