package channel

import (
	"context"

	"github.com/wb-go/wbf/zlog"
)

// MaxSMSLength is the longest body the SMS provider accepts, in characters.
const MaxSMSLength = 1600

type smsClient interface {
	Send(ctx context.Context, to, body string) error
}

// SMSSender delivers notifications as text messages.
type SMSSender struct {
	client smsClient
}

func NewSMSSender(c smsClient) *SMSSender {
	return &SMSSender{client: c}
}

func (s *SMSSender) Send(ctx context.Context, recipient, subject, content string) Result {
	if recipient == "" {
		return Failed("empty phone number")
	}

	zlog.Logger.Info().Str("channel", "sms").Str("to", recipient).Msg("sending sms notification")

	if err := s.client.Send(ctx, recipient, FormatSMS(subject, content)); err != nil {
		return Failed(err.Error())
	}

	return Sent()
}

// FormatSMS folds the subject into the body and truncates to MaxSMSLength runes.
func FormatSMS(subject, content string) string {
	body := content
	if subject != "" {
		body = subject + ": " + content
	}

	runes := []rune(body)
	if len(runes) > MaxSMSLength {
		body = string(runes[:MaxSMSLength])
	}

	return body
}
