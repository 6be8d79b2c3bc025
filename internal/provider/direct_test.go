package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/softwind-labs/companion/internal/settings"
)

func sseChunk(content string) string {
	return fmt.Sprintf(`data: {"choices":[{"delta":{"role":"assistant","content":%q}}]}`, content) + "\n\n"
}

func proxySettings(baseURL string) settings.Settings {
	return settings.Settings{
		API:           "openai",
		OpenAIMode:    "proxy",
		ReverseProxy:  baseURL,
		TextStreaming: true,
	}
}

func TestDirectStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("Hello"))
		fmt.Fprint(w, sseChunk(" world"))
		// Chunks without content arrive at stream boundaries; they are skipped.
		fmt.Fprint(w, `data: {"choices":[{"delta":{"role":"assistant"}}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	g := &DirectAPI{}
	buffer, err := drain(t, g.Generate(context.Background(), testPrompt(), proxySettings(srv.URL)))

	require.NoError(t, err)
	assert.Equal(t, "Hello world", buffer)
}

func TestDirectStreamingWithoutContentType(t *testing.T) {
	// Some proxies omit the Content-Type; anything not JSON is treated as SSE.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Content-Type"] = nil
		fmt.Fprint(w, sseChunk("hi"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	g := &DirectAPI{}
	buffer, err := drain(t, g.Generate(context.Background(), testPrompt(), proxySettings(srv.URL)))

	require.NoError(t, err)
	assert.Equal(t, "hi", buffer)
}

func TestDirectJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"complete reply"}}]}`)
	}))
	defer srv.Close()

	st := proxySettings(srv.URL)
	st.TextStreaming = false

	g := &DirectAPI{}
	buffer, err := drain(t, g.Generate(context.Background(), testPrompt(), st))

	require.NoError(t, err)
	assert.Equal(t, "complete reply", buffer)
}

func TestDirectUpstreamErrorMidStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseChunk("partial"))
		fmt.Fprint(w, `data: {"id":"chatcmpl-upstream error","choices":[]}`+"\n\n")
	}))
	defer srv.Close()

	g := &DirectAPI{}
	_, err := drain(t, g.Generate(context.Background(), testPrompt(), proxySettings(srv.URL)))

	assert.ErrorIs(t, err, ErrStreamError)
}

func TestDirectMalformedChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {not json\n\n")
	}))
	defer srv.Close()

	g := &DirectAPI{}
	_, err := drain(t, g.Generate(context.Background(), testPrompt(), proxySettings(srv.URL)))

	assert.ErrorIs(t, err, ErrStreamError)
}

func TestDirectUnauthorizedProxy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"Unauthorized"}`)
	}))
	defer srv.Close()

	g := &DirectAPI{}
	_, err := drain(t, g.Generate(context.Background(), testPrompt(), proxySettings(srv.URL)))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "proxy key")
}

func TestDirectStructuredError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"Rate limit reached"}}`)
	}))
	defer srv.Close()

	g := &DirectAPI{}
	_, err := drain(t, g.Generate(context.Background(), testPrompt(), proxySettings(srv.URL)))

	require.Error(t, err)
	assert.Equal(t, "Rate limit reached", err.Error())
}

func TestDirectAuthorizationHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer srv.Close()

	st := proxySettings(srv.URL)
	st.ReverseProxyKey = "proxy-secret"
	st.TextStreaming = false

	g := &DirectAPI{}
	_, err := drain(t, g.Generate(context.Background(), testPrompt(), st))

	require.NoError(t, err)
	assert.Equal(t, "Bearer proxy-secret", gotAuth)
}
