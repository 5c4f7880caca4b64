package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/aliskhannn/notification-dispatcher/internal/api/handlers/notification"
	"github.com/aliskhannn/notification-dispatcher/internal/config"
	mocks "github.com/aliskhannn/notification-dispatcher/internal/mocks/api/handlers/notification"
	"github.com/aliskhannn/notification-dispatcher/internal/model"
)

func TestRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)

	ctrl := gomock.NewController(t)
	svc := mocks.NewMocknotificationService(ctrl)
	r := New(notification.NewHandler(svc, validator.New(), &config.Config{}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"result":"ok"}`, w.Body.String())

	id := uuid.New()
	svc.EXPECT().
		ResendNotification(gomock.Any(), gomock.Any(), id).
		Return(model.Notification{ID: id, Status: model.StatusPending}, nil)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/notifications/"+id.String()+"/resend", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
