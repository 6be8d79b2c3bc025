package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/softwind-labs/companion/internal/prompt"
	"github.com/softwind-labs/companion/internal/settings"
	"github.com/softwind-labs/companion/internal/store"
)

var (
	ErrRequestFailed = errors.New("API request failed")
	ErrStreamError   = errors.New("stream error")
)

// streamCutoff bounds how long a single generation may stay open, even when
// the backend never signals termination.
const streamCutoff = 2 * time.Minute

// Generator is one generation backend. Generate never blocks: it returns a
// Stream whose fragments, concatenated in order, form the full reply.
type Generator interface {
	BuildPrompt(input string, user store.User, chat store.ChatDetail, history []store.Message, st settings.Settings) prompt.Prompt
	Generate(ctx context.Context, p prompt.Prompt, st settings.Settings) *Stream
}

// ForSettings selects the backend variant. The quirks of each variant stay
// enumerated here rather than behind construction indirection. The token is
// only used by the managed backend.
func ForSettings(st settings.Settings, user store.User, token string) Generator {
	switch st.API {
	case "openai":
		return &DirectAPI{}
	case "selfhosted":
		return &SelfHosted{}
	default:
		return &Managed{UserID: user.ID, Token: token}
	}
}

var defaultHTTPClient = &http.Client{}

func orDefault(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return defaultHTTPClient
}
