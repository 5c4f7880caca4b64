// Package telegram provides a simple client for sending notifications via Telegram.
//
// It allows creating a client with a bot token and sending messages to specified chat IDs.
// The dispatcher uses it as a push provider where the recipient is a chat id.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Client represents a Telegram client used to send notifications.
type Client struct {
	token    string       // bot token for authentication
	endpoint string       // Bot API endpoint format
	client   *http.Client // HTTP client used to make requests

	mu  sync.Mutex
	bot *tgbotapi.BotAPI // created on first send
}

// NewClient creates a new Telegram Client instance with the given bot token.
func NewClient(token string) *Client {
	return &Client{
		token:    token,
		endpoint: tgbotapi.APIEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// WithEndpoint overrides the Bot API endpoint format, e.g. for a local Bot API server.
func (c *Client) WithEndpoint(endpoint string) *Client {
	c.endpoint = endpoint
	return c
}

func (c *Client) botAPI() (*tgbotapi.BotAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bot != nil {
		return c.bot, nil
	}

	bot, err := tgbotapi.NewBotAPIWithClient(c.token, c.endpoint, c.client)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	c.bot = bot
	return bot, nil
}

// Send sends a notification message to the specified Telegram chat ID.
//
// The title, when present, is placed on the first line of the message.
func (c *Client) Send(ctx context.Context, chatID, title, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}

	bot, err := c.botAPI()
	if err != nil {
		return err
	}

	text := body
	if title != "" {
		text = title + "\n\n" + body
	}

	if _, err := bot.Send(tgbotapi.NewMessage(id, text)); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	return nil
}
