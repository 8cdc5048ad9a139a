package push

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MessageSender is the part of tgbotapi.BotAPI the sender uses.
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender treats chat ids as device tokens.
type TelegramSender struct {
	api MessageSender
}

func NewTelegramSender(api MessageSender) *TelegramSender {
	return &TelegramSender{api: api}
}

func (s *TelegramSender) Send(ctx context.Context, token string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(token), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: chat id %q", ErrInvalidToken, token)
	}

	out := tgbotapi.NewMessage(chatID, FormatHTML(msg))
	out.ParseMode = tgbotapi.ModeHTML
	if _, err := s.api.Send(out); err != nil {
		return classify(err)
	}
	return nil
}

// FormatHTML renders a message for Telegram's HTML parse mode.
func FormatHTML(msg Message) string {
	var sb strings.Builder
	sb.WriteString("<b>")
	sb.WriteString(html.EscapeString(msg.Title))
	sb.WriteString("</b>")
	if msg.Body != "" {
		sb.WriteByte('\n')
		sb.WriteString(html.EscapeString(msg.Body))
	}
	return sb.String()
}

// classify maps Telegram errors for blocked bots and unknown chats to ErrInvalidToken.
func classify(err error) error {
	var (
		apiErr    *tgbotapi.Error
		apiErrVal tgbotapi.Error
		code      int
		message   string
	)
	switch {
	case errors.As(err, &apiErr):
		code, message = apiErr.Code, apiErr.Message
	case errors.As(err, &apiErrVal):
		code, message = apiErrVal.Code, apiErrVal.Message
	default:
		return fmt.Errorf("telegram send: %w", err)
	}
	switch {
	case code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrInvalidToken, message)
	case code == http.StatusBadRequest && strings.Contains(strings.ToLower(message), "chat not found"):
		return fmt.Errorf("%w: %s", ErrInvalidToken, message)
	default:
		return fmt.Errorf("telegram send: %w", err)
	}
}
