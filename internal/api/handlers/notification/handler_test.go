package notification

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/notification-dispatcher/internal/api/dto"
	"github.com/aliskhannn/notification-dispatcher/internal/config"
	mocks "github.com/aliskhannn/notification-dispatcher/internal/mocks/api/handlers/notification"
	"github.com/aliskhannn/notification-dispatcher/internal/model"
	"github.com/aliskhannn/notification-dispatcher/internal/repository/notification"
)

func setupHandler(t *testing.T) (*Handler, *mocks.MocknotificationService, *config.Config) {
	ctrl := gomock.NewController(t)
	mockService := mocks.NewMocknotificationService(ctrl)
	cfg := &config.Config{Retry: retry.Strategy{Attempts: 3}}
	handler := NewHandler(mockService, validator.New(), cfg)
	return handler, mockService, cfg
}

func newContext(method, target string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, target, bytes.NewReader(body))
	return c, w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()

	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

func TestHandler_Create_Success(t *testing.T) {
	handler, mockService, cfg := setupHandler(t)

	reqBody := dto.CreateRequest{
		RecipientID: "user@example.com",
		ChannelType: "email",
		Subject:     "Welcome",
		Content:     "Hello",
	}
	bodyBytes, _ := json.Marshal(reqBody)
	c, w := newContext(http.MethodPost, "/api/notifications", bodyBytes)

	in := model.CreateNotification{
		RecipientID: reqBody.RecipientID,
		ChannelType: model.ChannelEmail,
		Subject:     reqBody.Subject,
		Content:     reqBody.Content,
	}
	created := model.Notification{ID: uuid.New(), RecipientID: in.RecipientID, ChannelType: in.ChannelType, Status: model.StatusPending}

	mockService.EXPECT().
		CreateNotification(gomock.Any(), cfg.Retry, in).
		Return(created, nil)

	handler.Create(c)

	assert.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Result model.Notification `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, created.ID, resp.Result.ID)
	assert.Equal(t, model.StatusPending, resp.Result.Status)
}

func TestHandler_Create_Invalid(t *testing.T) {
	handler, _, _ := setupHandler(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"recipient_id":`},
		{name: "unknown channel", body: `{"recipient_id":"x","channel_type":"fax","content":"c"}`},
		{name: "missing recipient", body: `{"channel_type":"sms","content":"c"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := newContext(http.MethodPost, "/api/notifications", []byte(tt.body))

			handler.Create(c)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, decodeError(t, w))
		})
	}
}

func TestHandler_Create_ServiceError(t *testing.T) {
	handler, mockService, _ := setupHandler(t)

	c, w := newContext(http.MethodPost, "/api/notifications",
		[]byte(`{"recipient_id":"+15550001111","channel_type":"sms","content":"code"}`))

	mockService.EXPECT().
		CreateNotification(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(model.Notification{}, notification.ErrStorageUnavailable)

	handler.Create(c)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", decodeError(t, w))
}

func TestHandler_Get(t *testing.T) {
	handler, mockService, cfg := setupHandler(t)
	id := uuid.New()

	c, w := newContext(http.MethodGet, "/api/notifications/"+id.String(), nil)
	c.Params = gin.Params{{Key: "id", Value: id.String()}}

	mockService.EXPECT().
		GetNotification(gomock.Any(), cfg.Retry, id).
		Return(model.Notification{ID: id, Status: model.StatusSent}, nil)

	handler.Get(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_Get_NotFound(t *testing.T) {
	handler, mockService, cfg := setupHandler(t)
	id := uuid.New()

	c, w := newContext(http.MethodGet, "/api/notifications/"+id.String(), nil)
	c.Params = gin.Params{{Key: "id", Value: id.String()}}

	mockService.EXPECT().
		GetNotification(gomock.Any(), cfg.Retry, id).
		Return(model.Notification{}, notification.ErrNotificationNotFound)

	handler.Get(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "notification not found", decodeError(t, w))
}

func TestHandler_Get_InvalidID(t *testing.T) {
	handler, _, _ := setupHandler(t)

	for _, raw := range []string{"not-a-uuid", uuid.Nil.String()} {
		c, w := newContext(http.MethodGet, "/api/notifications/"+raw, nil)
		c.Params = gin.Params{{Key: "id", Value: raw}}

		handler.Get(c)

		assert.Equal(t, http.StatusBadRequest, w.Code, raw)
	}
}

func TestHandler_List(t *testing.T) {
	handler, mockService, _ := setupHandler(t)

	c, w := newContext(http.MethodGet, "/api/notifications?recipient_id=u1&channel_type=push&status=failed&limit=10&offset=5", nil)

	filter := model.Filter{RecipientID: "u1", ChannelType: model.ChannelPush, Status: model.StatusFailed}
	mockService.EXPECT().
		ListNotifications(gomock.Any(), filter, model.Page{Limit: 10, Offset: 5}).
		Return(nil, nil)

	handler.List(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"result":[]}`, w.Body.String())
}

func TestHandler_List_BadQuery(t *testing.T) {
	handler, _, _ := setupHandler(t)

	for _, query := range []string{"status=lost", "channel_type=fax", "limit=abc", "offset=-1"} {
		c, w := newContext(http.MethodGet, "/api/notifications?"+query, nil)

		handler.List(c)

		assert.Equal(t, http.StatusBadRequest, w.Code, query)
	}
}

func TestHandler_List_ServiceError(t *testing.T) {
	handler, mockService, _ := setupHandler(t)

	c, w := newContext(http.MethodGet, "/api/notifications", nil)

	mockService.EXPECT().
		ListNotifications(gomock.Any(), model.Filter{}, model.Page{Limit: model.DefaultPageLimit}).
		Return(nil, errors.New("db down"))

	handler.List(c)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandler_Resend(t *testing.T) {
	handler, mockService, cfg := setupHandler(t)
	id := uuid.New()

	c, w := newContext(http.MethodPost, "/api/notifications/"+id.String()+"/resend", nil)
	c.Params = gin.Params{{Key: "id", Value: id.String()}}

	mockService.EXPECT().
		ResendNotification(gomock.Any(), cfg.Retry, id).
		Return(model.Notification{ID: id, Status: model.StatusPending}, nil)

	handler.Resend(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_Resend_NotFound(t *testing.T) {
	handler, mockService, cfg := setupHandler(t)
	id := uuid.New()

	c, w := newContext(http.MethodPost, "/api/notifications/"+id.String()+"/resend", nil)
	c.Params = gin.Params{{Key: "id", Value: id.String()}}

	mockService.EXPECT().
		ResendNotification(gomock.Any(), cfg.Retry, id).
		Return(model.Notification{}, notification.ErrNotificationNotFound)

	handler.Resend(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
