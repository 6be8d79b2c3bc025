package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerationDefaults(t *testing.T) {
	var s Settings
	assert.Equal(t, DefaultMaxNewToken, s.MaxNewToken())
	assert.Equal(t, DefaultContextLength, s.ContextLength())

	s.Generation.MaxNewToken = 512
	s.Generation.ContextLength = 8192
	assert.Equal(t, 512, s.MaxNewToken())
	assert.Equal(t, 8192, s.ContextLength())
}

func TestReady(t *testing.T) {
	tests := []struct {
		name string
		s    Settings
		want bool
	}{
		{"managed by default", Settings{}, true},
		{"managed explicit", Settings{API: "managed"}, true},
		{"openai without credentials", Settings{API: "openai"}, false},
		{"openai with key", Settings{API: "openai", OpenAIMode: "api_key", OpenAIKey: "sk-x"}, true},
		{"openai key mode without key", Settings{API: "openai", OpenAIMode: "api_key"}, false},
		{"proxy with url", Settings{API: "openai", OpenAIMode: "proxy", ReverseProxy: "https://proxy.example"}, true},
		{"proxy without url", Settings{API: "openai", OpenAIMode: "proxy"}, false},
		{"selfhosted with url", Settings{API: "selfhosted", APIURL: "http://localhost:5000"}, true},
		{"selfhosted without url", Settings{API: "selfhosted"}, false},
		{"unknown backend", Settings{API: "other"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.s.Ready())
		})
	}
}
