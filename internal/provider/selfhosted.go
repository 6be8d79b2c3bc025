package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/softwind-labs/companion/internal/prompt"
	"github.com/softwind-labs/companion/internal/settings"
	"github.com/softwind-labs/companion/internal/store"
)

// SelfHosted targets a user-supplied text-generation server. The prompt is
// flattened to plain text and the reply comes back as one completion; the
// Stream contract is the same as the other variants.
type SelfHosted struct {
	HTTPClient *http.Client
}

// selfHostedWindow is fixed like the managed backend's; the configured
// context length only applies to direct-API generation.
const selfHostedWindow = 8192

func (g *SelfHosted) BuildPrompt(input string, user store.User, chat store.ChatDetail, history []store.Message, st settings.Settings) prompt.Prompt {
	maxContentLength := selfHostedWindow - st.MaxNewToken()
	return prompt.NewBuilder(st).Build(input, user, chat, history, st, maxContentLength)
}

type selfHostedRequest struct {
	Prompt       string  `json:"prompt"`
	MaxNewTokens int     `json:"max_new_tokens"`
	Temperature  float64 `json:"temperature"`
}

type selfHostedResponse struct {
	Results []struct {
		Text string `json:"text"`
	} `json:"results"`
}

// flattenPrompt renders role-tagged messages as the plain transcript these
// servers expect, ending with an open assistant turn.
func flattenPrompt(p prompt.Prompt) string {
	var sb strings.Builder
	for _, m := range p.Messages {
		switch m.Role {
		case "system":
			sb.WriteString(m.Content)
			sb.WriteString("\n")
		case "assistant":
			sb.WriteString("Assistant: ")
			sb.WriteString(m.Content)
			sb.WriteString("\n")
		default:
			sb.WriteString("User: ")
			sb.WriteString(m.Content)
			sb.WriteString("\n")
		}
	}
	sb.WriteString("Assistant:")
	return sb.String()
}

func (g *SelfHosted) Generate(ctx context.Context, p prompt.Prompt, st settings.Settings) *Stream {
	s := NewStream()
	go func() {
		body, err := json.Marshal(selfHostedRequest{
			Prompt:       flattenPrompt(p),
			MaxNewTokens: st.MaxNewToken(),
			Temperature:  st.Generation.Temperature,
		})
		if err != nil {
			s.Finish(err)
			return
		}

		url := strings.TrimSuffix(st.APIURL, "/") + "/api/v1/generate"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			s.Finish(err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := orDefault(g.HTTPClient).Do(req)
		if err != nil {
			s.Finish(fmt.Errorf("%w: %v", ErrRequestFailed, err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(resp.Body)
			s.Finish(fmt.Errorf("%w: %d - %s", ErrRequestFailed, resp.StatusCode, string(raw)))
			return
		}

		var response selfHostedResponse
		if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
			s.Finish(fmt.Errorf("%w: %v", ErrStreamError, err))
			return
		}
		if len(response.Results) == 0 {
			s.Finish(fmt.Errorf("%w: no results in response", ErrStreamError))
			return
		}

		s.Emit(ctx, strings.TrimSpace(response.Results[0].Text))
		s.Finish(nil)
	}()
	return s
}
