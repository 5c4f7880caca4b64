package channel

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/wb-go/wbf/zlog"
)

var validate = validator.New()

type emailClient interface {
	Send(ctx context.Context, to, subject, body string) error
}

// EmailSender delivers notifications as plain-text emails.
type EmailSender struct {
	client emailClient
}

func NewEmailSender(c emailClient) *EmailSender {
	return &EmailSender{client: c}
}

func (s *EmailSender) Send(ctx context.Context, recipient, subject, content string) Result {
	if err := validate.Var(recipient, "required,email"); err != nil {
		return Failed(fmt.Sprintf("invalid email address %q", recipient))
	}

	zlog.Logger.Info().Str("channel", "email").Str("to", recipient).Msg("sending email notification")

	if err := s.client.Send(ctx, recipient, subject, content); err != nil {
		return Failed(err.Error())
	}

	return Sent()
}
