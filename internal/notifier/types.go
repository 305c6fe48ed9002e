package notifier

import (
	"errors"
	"fmt"
	"time"

	"remindbot/internal/tracker"
)

var ErrNoRecipient = errors.New("notifier has no recipient chat")

type Config struct {
	ChatID    int64
	ThreadID  int
	ImagesDir string
	// RatePerSec caps sends. Default 1, burst 3.
	RatePerSec float64
	// SendTimeout bounds one transport call. Default 15s.
	SendTimeout time.Duration
}

// TransportError is returned when the transport rejects a send.
type TransportError struct {
	Kind tracker.Kind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("send %s notification: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NotificationEvent is published on the event bus after every attempt.
type NotificationEvent struct {
	Kind     tracker.Kind  `json:"kind"`
	ChatID   int64         `json:"chat_id"`
	Image    string        `json:"image,omitempty"`
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// OK reports whether the attempt was accepted by the transport.
func (e NotificationEvent) OK() bool { return e.Error == "" }

type HistoryItem struct {
	At   time.Time    `json:"at"`
	Kind tracker.Kind `json:"kind"`
	Text string       `json:"text"`
}
