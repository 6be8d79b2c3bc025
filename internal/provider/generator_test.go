package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/softwind-labs/companion/internal/settings"
	"github.com/softwind-labs/companion/internal/store"
)

func TestForSettings(t *testing.T) {
	user := store.User{ID: 42}

	gen := ForSettings(settings.Settings{API: "openai"}, user, "tok")
	assert.IsType(t, &DirectAPI{}, gen)

	gen = ForSettings(settings.Settings{API: "selfhosted"}, user, "tok")
	assert.IsType(t, &SelfHosted{}, gen)

	gen = ForSettings(settings.Settings{}, user, "tok")
	managed, ok := gen.(*Managed)
	if assert.True(t, ok) {
		assert.Equal(t, int64(42), managed.UserID)
		assert.Equal(t, "tok", managed.Token)
	}

	gen = ForSettings(settings.Settings{API: "managed"}, user, "")
	assert.IsType(t, &Managed{}, gen)
}
