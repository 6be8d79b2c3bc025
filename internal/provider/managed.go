package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/softwind-labs/companion/internal/prompt"
	"github.com/softwind-labs/companion/internal/settings"
	"github.com/softwind-labs/companion/internal/store"
)

// Sentinel reply texts the managed backend maps benign failures to. They are
// yielded as if they were generated output.
const (
	QuotaExceededMessage   = "Your messages are ended. Please upgrade your current plan."
	ConnectionErrorMessage = "Connection Error."
)

// wordDelay paces the fake streaming of a complete managed reply.
const wordDelay = 50 * time.Millisecond

const mythomaxModel = "gryphe/mythomax-l2-13b"

// Managed proxies generation through the service's own endpoint, which
// returns a complete reply in one response. The reply is re-streamed
// word-by-word with a small artificial delay.
type Managed struct {
	UserID     int64
	Token      string // bearer token for the managed backend
	HTTPClient *http.Client
}

// contextWindow is fixed for the managed backend; the configured context
// length only applies to direct-API generation. Without the reply budget
// headroom the generated message gets cut off.
func (g *Managed) contextWindow(st settings.Settings) int {
	if st.Model == mythomaxModel {
		return 4096
	}
	return 8192
}

func (g *Managed) BuildPrompt(input string, user store.User, chat store.ChatDetail, history []store.Message, st settings.Settings) prompt.Prompt {
	maxContentLength := g.contextWindow(st) - st.MaxNewToken()
	return prompt.NewBuilder(st).Build(input, user, chat, history, st, maxContentLength)
}

type managedRequest struct {
	Messages []prompt.Message  `json:"messages"`
	Config   settings.Settings `json:"config"`
	UserID   int64             `json:"user_id"`
}

func (g *Managed) Generate(ctx context.Context, p prompt.Prompt, st settings.Settings) *Stream {
	s := NewStream()
	go func() {
		body, err := json.Marshal(managedRequest{Messages: p.Messages, Config: st, UserID: g.UserID})
		if err != nil {
			s.Finish(err)
			return
		}

		url := strings.TrimSuffix(st.ManagedURL, "/") + "/api/chats/messages/generate"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			s.Finish(err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if g.Token != "" {
			req.Header.Set("Authorization", "Bearer "+g.Token)
		}

		resp, err := orDefault(g.HTTPClient).Do(req)
		if err != nil {
			s.Finish(fmt.Errorf("%w: %v", ErrRequestFailed, err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			// Not surfaced as an error: the sentinel is shown as reply text.
			s.Emit(ctx, ConnectionErrorMessage)
			s.Finish(nil)
			return
		}

		replyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			s.Finish(fmt.Errorf("%w: %v", ErrStreamError, err))
			return
		}
		reply := string(replyBytes)

		if reply == "" {
			s.Emit(ctx, QuotaExceededMessage)
			s.Finish(nil)
			return
		}

		for _, word := range strings.Fields(reply) {
			select {
			case <-time.After(wordDelay):
			case <-ctx.Done():
				s.Finish(ctx.Err())
				return
			}
			if !s.Emit(ctx, word+" ") {
				s.Finish(ctx.Err())
				return
			}
		}
		s.Finish(nil)
	}()
	return s
}
