package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key=server-key", r.Header.Get("Authorization"))

		var req sendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "device-token", req.To)
		assert.Equal(t, "Title", req.Notification.Title)
		assert.Equal(t, "Body", req.Notification.Body)

		_, _ = w.Write([]byte(`{"success":1,"failure":0,"results":[{}]}`))
	}))
	defer srv.Close()

	c := NewClient("server-key").WithEndpoint(srv.URL)
	assert.NoError(t, c.Send(context.Background(), "device-token", "Title", "Body"))
}

func TestClient_Send_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":0,"failure":1,"results":[{"error":"NotRegistered"}]}`))
	}))
	defer srv.Close()

	err := NewClient("server-key").WithEndpoint(srv.URL).Send(context.Background(), "t", "a", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NotRegistered")
}

func TestClient_Send_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewClient("bad").WithEndpoint(srv.URL).Send(context.Background(), "t", "a", "b")
	assert.Error(t, err)
}
