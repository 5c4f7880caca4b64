// Package email sends plain-text notification emails over SMTP.
package email

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/mail.v2"
)

const dialTimeout = 10 * time.Second

// Client sends messages from a fixed sender address.
type Client struct {
	dialer *mail.Dialer
	from   string
}

func NewClient(smtpHost string, smtpPort int, username, password, from string) *Client {
	d := mail.NewDialer(smtpHost, smtpPort, username, password)
	d.Timeout = dialTimeout

	return &Client{dialer: d, from: from}
}

// Send delivers one message. The dialer is not context-aware, so ctx is only
// checked before dialing; the dial itself is bounded by dialTimeout.
func (c *Client) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := mail.NewMessage()
	m.SetHeader("From", c.from)
	m.SetHeader("To", to)
	if subject != "" {
		m.SetHeader("Subject", subject)
	}
	m.SetBody("text/plain", body)

	if err := c.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}

	return nil
}
