package settings

// Settings is the merged per-user configuration that drives prompt building
// and provider selection. Missing fields fall back to defaults at the point
// of use; nothing here is validated strictly.
type Settings struct {
	// API selects the generation backend: "managed", "openai" or "selfhosted".
	API string `json:"api"`

	// Model is the model identifier sent to direct-API backends.
	Model string `json:"model"`

	// OpenAIMode is "api_key" or "proxy" for the direct-API backend.
	OpenAIMode      string `json:"open_ai_mode"`
	OpenAIKey       string `json:"open_ai_key"`
	ReverseProxy    string `json:"open_ai_reverse_proxy"`
	ReverseProxyKey string `json:"reverse_proxy_key"`

	// APIURL is the base URL of a self-hosted backend.
	APIURL string `json:"api_url"`

	// ManagedURL is the base URL of the managed generation endpoint.
	ManagedURL string `json:"managed_url"`

	TextStreaming bool `json:"text_streaming"`
	ImmersiveMode bool `json:"immersive_mode"`

	JailbreakPrompt string `json:"jailbreak_prompt"`

	// TokenCounter selects the token-length estimator: "heuristic" (default)
	// or "tiktoken".
	TokenCounter string `json:"token_counter"`

	Generation GenerationSettings `json:"generation_settings"`
}

// GenerationSettings holds model sampling parameters.
type GenerationSettings struct {
	Temperature   float64 `json:"temperature"`
	MaxNewToken   int     `json:"max_new_token"`
	ContextLength int     `json:"context_length"`
}

const (
	DefaultMaxNewToken   = 320
	DefaultContextLength = 4095
)

// MaxNewToken returns the configured reply budget or the default.
func (s Settings) MaxNewToken() int {
	if s.Generation.MaxNewToken > 0 {
		return s.Generation.MaxNewToken
	}
	return DefaultMaxNewToken
}

// ContextLength returns the configured context window or the default.
func (s Settings) ContextLength() int {
	if s.Generation.ContextLength > 0 {
		return s.Generation.ContextLength
	}
	return DefaultContextLength
}

// Ready reports whether the settings carry everything needed to start a
// generation with the selected backend.
func (s Settings) Ready() bool {
	switch s.API {
	case "managed", "":
		return true
	case "openai":
		if s.OpenAIMode == "api_key" && s.OpenAIKey != "" {
			return true
		}
		if s.OpenAIMode == "proxy" && s.ReverseProxy != "" {
			return true
		}
		return false
	case "selfhosted":
		return s.APIURL != ""
	}
	return false
}
