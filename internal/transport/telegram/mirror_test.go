package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type botAPI struct {
	mu    sync.Mutex
	paths []string
	forms []url.Values
}

func (b *botAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	vals := url.Values{}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var m map[string]any
		_ = json.Unmarshal(body, &m)
		for k, v := range m {
			vals.Set(k, toString(v))
		}
	}
	b.mu.Lock()
	b.paths = append(b.paths, r.URL.Path)
	b.forms = append(b.forms, vals)
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":-100123,"type":"supergroup"},"text":"x"}}`))
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

func TestMirrorSendsToChatAndThread(t *testing.T) {
	api := &botAPI{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	m, err := New(Config{Token: "123:abc", ChatID: -100123, ThreadID: 42, APIURL: srv.URL})
	require.NoError(t, err)

	require.NoError(t, m.SendText(context.Background(), "WARN dispatch: delivery failed"))

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.paths, 1)
	assert.Equal(t, "/bot123:abc/sendMessage", api.paths[0])
	assert.Equal(t, "-100123", api.forms[0].Get("chat_id"))
	assert.Equal(t, "WARN dispatch: delivery failed", api.forms[0].Get("text"))
	assert.Equal(t, "42", api.forms[0].Get("message_thread_id"))
}

func TestMirrorSkipsBlankAndCancelled(t *testing.T) {
	api := &botAPI{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	m, err := New(Config{Token: "123:abc", ChatID: 1, APIURL: srv.URL})
	require.NoError(t, err)

	require.NoError(t, m.SendText(context.Background(), "  "))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.SendText(ctx, "late"), context.Canceled)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Empty(t, api.paths)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{ChatID: 1})
	assert.Error(t, err)
	_, err = New(Config{Token: "t"})
	assert.Error(t, err)
}
