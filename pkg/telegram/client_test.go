package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBotServer(t *testing.T, sent *[]string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"dispatcher","username":"dispatcher_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "42", r.Form.Get("chat_id"))
			*sent = append(*sent, r.Form.Get("text"))
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"},"text":"ok"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestClient_Send(t *testing.T) {
	var sent []string
	srv := newBotServer(t, &sent)
	defer srv.Close()

	c := NewClient("token").WithEndpoint(srv.URL + "/bot%s/%s")

	require.NoError(t, c.Send(context.Background(), "42", "Order shipped", "Your order is on its way"))
	require.NoError(t, c.Send(context.Background(), "42", "", "second"))

	require.Len(t, sent, 2)
	assert.Equal(t, "Order shipped\n\nYour order is on its way", sent[0])
	assert.Equal(t, "second", sent[1])
}

func TestClient_Send_InvalidChatID(t *testing.T) {
	err := NewClient("token").Send(context.Background(), "not-a-number", "t", "b")
	assert.Error(t, err)
}
