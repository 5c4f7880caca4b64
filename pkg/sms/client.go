// Package sms sends text messages through the Twilio Messages REST API.
package sms

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.twilio.com/2010-04-01"

// Client represents a Twilio client used to send SMS notifications.
type Client struct {
	accountSID string       // account identifier, also the basic-auth user
	authToken  string       // auth token, the basic-auth password
	fromNumber string       // sender phone number in E.164 format
	baseURL    string       // API root, overridable for tests
	client     *http.Client // HTTP client used to make requests
}

// NewClient creates a new Twilio client.
func NewClient(accountSID, authToken, fromNumber string) *Client {
	return &Client{
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		baseURL:    defaultBaseURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// WithBaseURL points the client at a different API root.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// Send posts one message to the recipient phone number.
func (c *Client) Send(ctx context.Context, to, body string) error {
	apiURL := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.baseURL, c.accountSID)

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.fromNumber)
	form.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("twilio API error %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}

	return nil
}
