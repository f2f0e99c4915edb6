package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeMessage(t *testing.T) {
	assert.Equal(t, "upstream\\_timeout \\*4\\* \\[x\\] \\`y\\`", EscapeMessage("upstream_timeout *4* [x] `y`"))
}

func TestNotifierSendsMessage(t *testing.T) {
	var mu sync.Mutex
	var sent []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"alerts","username":"alerts_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			require.NoError(t, r.ParseForm())
			mu.Lock()
			sent = append(sent, r.PostForm.Get("chat_id")+"|"+r.PostForm.Get("text"))
			mu.Unlock()
			w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	notifier, err := NewNotifierWithEndpoint("token", 42, server.URL+"/bot%s/%s", server.Client())
	require.NoError(t, err)

	require.NoError(t, notifier.Notify(context.Background(), "try-on failed: upstream_timeout"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sent, 1)
	assert.Equal(t, "42|try-on failed: upstream\\_timeout", sent[0])
}

func TestNotifierRequiresToken(t *testing.T) {
	_, err := NewNotifier("", 1)
	assert.Error(t, err)
}
