package dto

// CreateRequest is the body of POST /api/notifications.
type CreateRequest struct {
	RecipientID string `json:"recipient_id" validate:"required"`
	ChannelType string `json:"channel_type" validate:"required,oneof=email sms push"`
	Subject     string `json:"subject"`
	Content     string `json:"content" validate:"required"`
}
