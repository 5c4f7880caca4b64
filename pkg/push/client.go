// Package push provides a simple client for sending push notifications via
// the Firebase Cloud Messaging HTTP endpoint.
//
// The recipient is a device registration token, the subject becomes the
// notification title and the content its body.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultEndpoint = "https://fcm.googleapis.com/fcm/send"

// Client represents an FCM client used to send notifications.
type Client struct {
	serverKey string       // server key for authentication
	endpoint  string       // send endpoint, overridable for tests
	client    *http.Client // HTTP client used to make requests
}

// NewClient creates a new FCM Client instance with the given server key.
func NewClient(serverKey string) *Client {
	return &Client{
		serverKey: serverKey,
		endpoint:  defaultEndpoint,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// WithEndpoint replaces the send endpoint.
func (c *Client) WithEndpoint(endpoint string) *Client {
	c.endpoint = endpoint
	return c
}

type sendRequest struct {
	To           string      `json:"to"`           // device registration token
	Notification pushPayload `json:"notification"` // visible part of the message
}

type pushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type sendResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		Error string `json:"error"`
	} `json:"results"`
}

// Send delivers a push notification to the given device token.
//
// It returns an error if the request fails, the endpoint responds with a
// non-200 status or FCM reports the message as failed.
func (c *Client) Send(ctx context.Context, token, title, body string) error {
	payload, err := json.Marshal(sendRequest{
		To:           token,
		Notification: pushPayload{Title: title, Body: body},
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "key="+c.serverKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fcm API error: %s", resp.Status)
	}

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if out.Failure > 0 {
		reason := "unknown"
		if len(out.Results) > 0 && out.Results[0].Error != "" {
			reason = out.Results[0].Error
		}
		return fmt.Errorf("fcm rejected message: %s", reason)
	}

	return nil
}
