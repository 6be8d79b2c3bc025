package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/softwind-labs/companion/internal/prompt"
	"github.com/softwind-labs/companion/internal/settings"
	"github.com/softwind-labs/companion/internal/store"
)

const openAIBaseURL = "https://api.openai.com/v1"

// DirectAPI posts the prompt straight to an OpenAI-compatible
// chat-completion endpoint, either the official API or a reverse proxy.
// Responses come back as a single JSON document or an SSE stream of deltas.
type DirectAPI struct {
	HTTPClient *http.Client
}

func (g *DirectAPI) BuildPrompt(input string, user store.User, chat store.ChatDetail, history []store.Message, st settings.Settings) prompt.Prompt {
	maxContentLength := st.ContextLength() - st.MaxNewToken()
	return prompt.NewBuilder(st).Build(input, user, chat, history, st, maxContentLength)
}

type chatCompletionRequest struct {
	Model       string           `json:"model"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Stream      bool             `json:"stream"`
	Messages    []prompt.Message `json:"messages"`
}

type chatCompletionChoice struct {
	Delta   *prompt.Message `json:"delta,omitempty"`
	Message *prompt.Message `json:"message,omitempty"`
}

type chatCompletionResponse struct {
	Choices []chatCompletionChoice `json:"choices"`
	Error   json.RawMessage        `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
}

func (g *DirectAPI) baseURL(st settings.Settings) string {
	if st.OpenAIMode == "api_key" {
		return openAIBaseURL
	}
	return strings.TrimSuffix(st.ReverseProxy, "/")
}

func (g *DirectAPI) authorization(st settings.Settings) string {
	if st.OpenAIMode == "api_key" && st.OpenAIKey != "" {
		return "Bearer " + st.OpenAIKey
	}
	if st.OpenAIMode == "proxy" && st.ReverseProxyKey != "" {
		return "Bearer " + st.ReverseProxyKey
	}
	return ""
}

func (g *DirectAPI) Generate(ctx context.Context, p prompt.Prompt, st settings.Settings) *Stream {
	s := NewStream()
	go func() {
		body, err := json.Marshal(chatCompletionRequest{
			Model:       st.Model,
			Temperature: st.Generation.Temperature,
			MaxTokens:   st.Generation.MaxNewToken,
			Stream:      st.TextStreaming,
			Messages:    p.Messages,
		})
		if err != nil {
			s.Finish(err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL(st)+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			s.Finish(err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if auth := g.authorization(st); auth != "" {
			req.Header.Set("Authorization", auth)
		}

		resp, err := orDefault(g.HTTPClient).Do(req)
		if err != nil {
			s.Finish(fmt.Errorf("%w: %v", ErrRequestFailed, err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			s.Finish(decodeAPIError(resp))
			return
		}

		// Some proxies omit the Content-Type entirely; treat anything that is
		// not plain JSON as an event stream.
		if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
			s.Finish(g.consumeJSON(ctx, resp.Body, s))
			return
		}
		s.Finish(g.consumeSSE(ctx, resp.Body, s))
	}()
	return s
}

func (g *DirectAPI) consumeJSON(ctx context.Context, body io.Reader, s *Stream) error {
	var response chatCompletionResponse
	if err := json.NewDecoder(body).Decode(&response); err != nil {
		return fmt.Errorf("%w: %v", ErrStreamError, err)
	}
	if len(response.Choices) == 0 || response.Choices[0].Message == nil {
		return fmt.Errorf("%w: no choices in response", ErrStreamError)
	}
	s.Emit(ctx, response.Choices[0].Message.Content)
	return nil
}

// consumeSSE reads "data: " prefixed lines until the [DONE] sentinel, the
// wall-clock cutoff, or an error line. Fragments are the delta content of
// each chunk, in arrival order.
func (g *DirectAPI) consumeSSE(ctx context.Context, body io.Reader, s *Stream) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	start := time.Now()
	for scanner.Scan() {
		// Prevent blocking when the backend never terminates the stream.
		if time.Since(start) > streamCutoff {
			return nil
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		// Upstream error markers from reverse proxies arrive inside an
		// otherwise healthy stream.
		if strings.Contains(line, "chatcmpl-upstream error") {
			return fmt.Errorf("%w: %s", ErrStreamError, line)
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return nil
		}

		var chunk chatCompletionResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("%w: malformed chunk: %v", ErrStreamError, err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		// The first and last chunks may carry no delta; tolerate that.
		delta := chunk.Choices[0].Delta
		if delta == nil || delta.Content == "" {
			continue
		}
		if !s.Emit(ctx, delta.Content) {
			return ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrStreamError, err)
	}
	return nil
}

// decodeAPIError normalizes the two error body shapes providers use:
// {"error": {"message": ...}} and {"error": "..."}.
func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Error) > 0 {
		var message string
		if err := json.Unmarshal(envelope.Error, &message); err == nil {
			if message == "Unauthorized" {
				return errors.New("This proxy requires a proxy key. Contact proxy owner to get the key!")
			}
			return errors.New(message)
		}
		var structured apiError
		if err := json.Unmarshal(envelope.Error, &structured); err == nil && structured.Message != "" {
			return errors.New(structured.Message)
		}
	}
	return fmt.Errorf("%w: %d - %s", ErrRequestFailed, resp.StatusCode, string(raw))
}
