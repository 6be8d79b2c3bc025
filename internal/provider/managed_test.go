package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/softwind-labs/companion/internal/prompt"
	"github.com/softwind-labs/companion/internal/settings"
)

func drain(t *testing.T, s *Stream) (string, error) {
	t.Helper()
	var buffer string
	for fragment := range s.Fragments() {
		buffer += fragment
	}
	return buffer, s.Err()
}

func testPrompt() prompt.Prompt {
	return prompt.Prompt{Messages: []prompt.Message{
		{Role: "system", Content: "be nice"},
		{Role: "user", Content: "hi"},
	}}
}

func TestManagedGenerate(t *testing.T) {
	var got managedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chats/messages/generate", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte("Hello there friend"))
	}))
	defer srv.Close()

	g := &Managed{UserID: 7, Token: "tok"}
	st := settings.Settings{ManagedURL: srv.URL}

	buffer, err := drain(t, g.Generate(context.Background(), testPrompt(), st))

	require.NoError(t, err)
	// The complete reply is re-streamed word by word.
	assert.Equal(t, "Hello there friend ", buffer)
	assert.Equal(t, int64(7), got.UserID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "be nice", got.Messages[0].Content)
}

func TestManagedQuotaExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// An empty 200 means the quota is used up.
	}))
	defer srv.Close()

	g := &Managed{UserID: 7}
	st := settings.Settings{ManagedURL: srv.URL}

	buffer, err := drain(t, g.Generate(context.Background(), testPrompt(), st))

	require.NoError(t, err)
	assert.Equal(t, QuotaExceededMessage, buffer)
}

func TestManagedBackendDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := &Managed{UserID: 7}
	st := settings.Settings{ManagedURL: srv.URL}

	buffer, err := drain(t, g.Generate(context.Background(), testPrompt(), st))

	// Benign failure: shown as reply text, not surfaced as an error.
	require.NoError(t, err)
	assert.Equal(t, ConnectionErrorMessage, buffer)
}

func TestManagedUnreachable(t *testing.T) {
	g := &Managed{UserID: 7}
	st := settings.Settings{ManagedURL: "http://127.0.0.1:1"}

	buffer, err := drain(t, g.Generate(context.Background(), testPrompt(), st))

	assert.Empty(t, buffer)
	assert.ErrorIs(t, err, ErrRequestFailed)
}

func TestManagedContextWindow(t *testing.T) {
	g := &Managed{}
	assert.Equal(t, 8192, g.contextWindow(settings.Settings{Model: "anything"}))
	assert.Equal(t, 4096, g.contextWindow(settings.Settings{Model: mythomaxModel}))
}

func TestManagedCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("a very long reply with many words to stream slowly over time"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	g := &Managed{}
	st := settings.Settings{ManagedURL: srv.URL}

	s := g.Generate(ctx, testPrompt(), st)
	<-s.Fragments() // first word arrived
	cancel()

	_, err := drain(t, s)
	assert.ErrorIs(t, err, context.Canceled)
}
