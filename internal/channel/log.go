package channel

import (
	"context"

	"github.com/wb-go/wbf/zlog"
)

// LogSender only logs the notification. It stands in for a channel whose
// provider is not configured.
type LogSender struct {
	channel string
}

func NewLogSender(channel string) *LogSender {
	return &LogSender{channel: channel}
}

func (s *LogSender) Send(ctx context.Context, recipient, subject, content string) Result {
	if err := ctx.Err(); err != nil {
		return Failed(err.Error())
	}

	zlog.Logger.Info().
		Str("channel", s.channel).
		Str("to", recipient).
		Str("subject", subject).
		Int("content_length", len(content)).
		Msg("provider not configured, notification logged")

	return Sent()
}
