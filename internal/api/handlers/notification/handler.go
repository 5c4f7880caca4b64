package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/notification-dispatcher/internal/api/dto"
	"github.com/aliskhannn/notification-dispatcher/internal/api/respond"
	"github.com/aliskhannn/notification-dispatcher/internal/config"
	"github.com/aliskhannn/notification-dispatcher/internal/model"
	"github.com/aliskhannn/notification-dispatcher/internal/repository/notification"
)

// notificationService defines the interface that the Handler depends on.
//
//go:generate mockgen -source=handler.go -destination=../../../mocks/api/handlers/notification/mock.go -package=mocks
type notificationService interface {
	CreateNotification(context.Context, retry.Strategy, model.CreateNotification) (model.Notification, error)
	GetNotification(context.Context, retry.Strategy, uuid.UUID) (model.Notification, error)
	ListNotifications(context.Context, model.Filter, model.Page) ([]model.Notification, error)
	ResendNotification(context.Context, retry.Strategy, uuid.UUID) (model.Notification, error)
}

// Handler handles HTTP requests related to notifications.
type Handler struct {
	service   notificationService
	validator *validator.Validate
	cfg       *config.Config
}

// NewHandler creates a new Handler instance.
func NewHandler(
	s notificationService,
	v *validator.Validate,
	cfg *config.Config,
) *Handler {
	return &Handler{service: s, validator: v, cfg: cfg}
}

// Create handles POST /api/notifications.
//
// The notification is stored as pending and a dispatch task is enqueued;
// the response does not wait for delivery.
func (h *Handler) Create(c *ginext.Context) {
	var req dto.CreateRequest

	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to decode request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}

	if err := h.validator.Struct(req); err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to validate request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("validation error: %s", err.Error()))
		return
	}

	in := model.CreateNotification{
		RecipientID: req.RecipientID,
		ChannelType: model.ChannelType(req.ChannelType),
		Subject:     req.Subject,
		Content:     req.Content,
	}

	n, err := h.service.CreateNotification(c.Request.Context(), h.cfg.Retry, in)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("recipient_id", in.RecipientID).Msg("failed to create notification")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.Created(c.Writer, n)
}

// Get handles GET /api/notifications/:id.
func (h *Handler) Get(c *ginext.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	n, err := h.service.GetNotification(c.Request.Context(), h.cfg.Retry, id)
	if err != nil {
		failLookup(c, id, err, "failed to get notification")
		return
	}

	respond.OK(c.Writer, n)
}

// List handles GET /api/notifications with optional recipient_id,
// channel_type, status, limit and offset query parameters.
func (h *Handler) List(c *ginext.Context) {
	filter := model.Filter{RecipientID: c.Query("recipient_id")}

	if v := c.Query("channel_type"); v != "" {
		ct, err := model.ParseChannelType(v)
		if err != nil {
			respond.Fail(c.Writer, http.StatusBadRequest, err)
			return
		}
		filter.ChannelType = ct
	}

	if v := c.Query("status"); v != "" {
		st, err := model.ParseStatus(v)
		if err != nil {
			respond.Fail(c.Writer, http.StatusBadRequest, err)
			return
		}
		filter.Status = st
	}

	var page model.Page
	var err error

	if page.Limit, err = queryInt(c, "limit"); err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, err)
		return
	}
	if page.Offset, err = queryInt(c, "offset"); err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, err)
		return
	}

	notifications, err := h.service.ListNotifications(c.Request.Context(), filter, page.Normalize())
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to list notifications")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	if notifications == nil {
		notifications = []model.Notification{}
	}

	respond.OK(c.Writer, notifications)
}

// Resend handles POST /api/notifications/:id/resend.
//
// The notification goes back to pending whatever its status and is enqueued again.
func (h *Handler) Resend(c *ginext.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	n, err := h.service.ResendNotification(c.Request.Context(), h.cfg.Retry, id)
	if err != nil {
		failLookup(c, id, err, "failed to resend notification")
		return
	}

	respond.OK(c.Writer, n)
}

func parseID(c *ginext.Context) (uuid.UUID, bool) {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("idStr", idStr).Msg("failed to parse id")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid id"))
		return uuid.Nil, false
	}

	if id == uuid.Nil {
		zlog.Logger.Warn().Msg("missing id")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("missing id"))
		return uuid.Nil, false
	}

	return id, true
}

func failLookup(c *ginext.Context, id uuid.UUID, err error, msg string) {
	if errors.Is(err, notification.ErrNotificationNotFound) {
		zlog.Logger.Warn().Str("id", id.String()).Err(err).Msg("notification not found")
		respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("notification not found"))
		return
	}

	zlog.Logger.Error().Err(err).Str("id", id.String()).Msg(msg)
	respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
}

func queryInt(c *ginext.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}

	return n, nil
}
