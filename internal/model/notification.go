package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChannelType is the delivery transport of a notification.
type ChannelType string

const (
	ChannelEmail ChannelType = "email"
	ChannelSMS   ChannelType = "sms"
	ChannelPush  ChannelType = "push"
)

// ParseChannelType converts a raw string into a known ChannelType.
func ParseChannelType(s string) (ChannelType, error) {
	switch ChannelType(s) {
	case ChannelEmail, ChannelSMS, ChannelPush:
		return ChannelType(s), nil
	default:
		return "", fmt.Errorf("unknown channel type %q", s)
	}
}

// Status is the lifecycle state of a notification.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// ParseStatus converts a raw string into a known Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusProcessing, StatusSent, StatusFailed:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// Terminal reports whether no worker will move the status any further.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// CanTransition reports whether a compare-and-swap transition from one
// status to another is allowed. Resetting to pending is not a CAS
// transition and is not covered here.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusSent || to == StatusFailed
	default:
		return false
	}
}

// Notification represents a notification entity in the system.
type Notification struct {
	ID          uuid.UUID   `json:"id"`           // unique identifier, immutable
	RecipientID string      `json:"recipient_id"` // address, phone, device token or chat id
	ChannelType ChannelType `json:"channel_type"` // delivery method: email, sms or push
	Subject     string      `json:"subject"`      // subject or push title
	Content     string      `json:"content"`      // message body
	Status      Status      `json:"status"`       // pending, processing, sent or failed
	ErrorDetail *string     `json:"error_detail"` // set only by the transition into failed
	CreatedAt   time.Time   `json:"created_at"`   // timestamp of insert
	UpdatedAt   *time.Time  `json:"updated_at"`   // timestamp of the last status transition
	SentAt      *time.Time  `json:"sent_at"`      // timestamp of the transition into sent
}

// CreateNotification holds the caller-supplied fields of a new notification.
type CreateNotification struct {
	RecipientID string
	ChannelType ChannelType
	Subject     string
	Content     string
}

// Filter narrows a notification listing. Zero values mean "any".
type Filter struct {
	RecipientID string
	ChannelType ChannelType
	Status      Status
}

const (
	DefaultPageLimit = 100
	MaxPageLimit     = 100
)

// Page is an offset-based page request.
type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps the page into the supported range.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
