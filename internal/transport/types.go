package transport

import (
	"context"
	"time"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	Time         time.Time // server-side send time of the message

	HasPhoto bool
	// DocumentMIME is set when the message carries a file attachment.
	DocumentMIME string
}

// HasImageDocument reports whether the attached document is an image
// (a photo sent "as file").
func (m *Message) HasImageDocument() bool {
	if m == nil || m.DocumentMIME == "" {
		return false
	}
	return len(m.DocumentMIME) > 6 && m.DocumentMIME[:6] == "image/"
}

// Qualifies reports whether the message counts as completed activity.
func (m *Message) Qualifies() bool {
	if m == nil {
		return false
	}
	return m.HasPhoto || m.HasImageDocument()
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Photo is a local image file sent with an optional caption.
type Photo struct {
	Path    string
	Caption string
}

// Sender is the outbound half of a transport.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendPhoto(ctx context.Context, to ChatTarget, p Photo, opt *SendOptions) (MessageRef, error)
}

type Adapter interface {
	Sender

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}
