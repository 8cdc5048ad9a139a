// Package push delivers notifications to device tokens.
package push

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// ErrInvalidToken marks a token that will never accept messages again.
var ErrInvalidToken = errors.New("invalid device token")

// Message is one push notification.
type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

// Sender delivers a message to a single token. Errors wrapping
// ErrInvalidToken are permanent; anything else is transient.
type Sender interface {
	Send(ctx context.Context, token string, msg Message) error
}

// LogSender writes messages to the log instead of a device. It backs the
// service when no transport is configured.
type LogSender struct {
	Log zerolog.Logger
}

func (s LogSender) Send(_ context.Context, token string, msg Message) error {
	s.Log.Info().
		Str("token", token).
		Str("title", msg.Title).
		Str("body", msg.Body).
		Interface("data", msg.Data).
		Msg("push (log transport)")
	return nil
}
