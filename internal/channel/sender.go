// Package channel delivers a notification through one transport.
//
// Every Sender reports its outcome as a Result value. Provider errors are
// converted into Failed results inside the variant, so callers have a single
// way to record what happened.
package channel

import (
	"context"

	"github.com/aliskhannn/notification-dispatcher/internal/model"
)

const ReasonUnsupportedChannel = "unsupported channel"

// Result is the outcome of one delivery attempt.
type Result struct {
	Sent   bool
	Reason string // failure reason, empty when Sent
}

// Sent reports a successful delivery.
func Sent() Result {
	return Result{Sent: true}
}

// Failed reports a delivery failure with the given reason.
func Failed(reason string) Result {
	return Result{Reason: reason}
}

// Sender delivers one notification through one transport.
type Sender interface {
	Send(ctx context.Context, recipient, subject, content string) Result
}

// Registry maps each channel type onto its Sender.
type Registry struct {
	Email Sender
	SMS   Sender
	Push  Sender
}

// Resolve returns the Sender for a channel type, or false when the type is
// unknown or has no sender configured.
func (r Registry) Resolve(t model.ChannelType) (Sender, bool) {
	var s Sender

	switch t {
	case model.ChannelEmail:
		s = r.Email
	case model.ChannelSMS:
		s = r.SMS
	case model.ChannelPush:
		s = r.Push
	default:
		return nil, false
	}

	return s, s != nil
}

// Send resolves the sender for t and delivers through it. An unresolvable
// channel fails without contacting any provider.
func (r Registry) Send(ctx context.Context, t model.ChannelType, recipient, subject, content string) Result {
	s, ok := r.Resolve(t)
	if !ok {
		return Failed(ReasonUnsupportedChannel)
	}

	return s.Send(ctx, recipient, subject, content)
}
