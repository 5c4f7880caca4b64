package channel

import (
	"context"

	"github.com/wb-go/wbf/zlog"
)

type pushClient interface {
	Send(ctx context.Context, token, title, body string) error
}

// PushSender delivers notifications through a push provider. The subject
// becomes the title.
type PushSender struct {
	provider string
	client   pushClient
}

func NewPushSender(provider string, c pushClient) *PushSender {
	return &PushSender{provider: provider, client: c}
}

func (s *PushSender) Send(ctx context.Context, recipient, subject, content string) Result {
	if recipient == "" {
		return Failed("empty device token")
	}

	zlog.Logger.Info().
		Str("channel", "push").
		Str("provider", s.provider).
		Str("to", recipient).
		Msg("sending push notification")

	if err := s.client.Send(ctx, recipient, subject, content); err != nil {
		return Failed(err.Error())
	}

	return Sent()
}
