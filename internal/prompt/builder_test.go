package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/softwind-labs/companion/internal/settings"
	"github.com/softwind-labs/companion/internal/store"
)

// countEstimator prices every message at one token, making budgets readable
// as message counts.
type countEstimator struct{}

func (countEstimator) Estimate(v any) float64 {
	messages, ok := v.([]Message)
	if !ok {
		return 0
	}
	return float64(len(messages))
}

// byteEstimator prices a message list at its total content bytes.
type byteEstimator struct{}

func (byteEstimator) Estimate(v any) float64 {
	messages, ok := v.([]Message)
	if !ok {
		return 0
	}
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	return float64(total)
}

func testChat() store.ChatDetail {
	return store.ChatDetail{
		Chat: store.Chat{ID: 1, UserID: 1, CharacterID: "c1"},
		Character: store.Character{
			ID:          "c1",
			Name:        "Aria",
			Personality: "curious and kind",
			Scenario:    "a rainy library",
		},
	}
}

func testUser() store.User {
	return store.User{ID: 1, Handle: "sam", Name: "Sam"}
}

func history(texts ...string) []store.Message {
	out := make([]store.Message, 0, len(texts))
	for i, text := range texts {
		out = append(out, store.Message{
			ID:     int64(i + 1),
			ChatID: 1,
			IsBot:  i%2 == 1,
			IsMain: true,
			Text:   text,
		})
	}
	return out
}

func TestFromStored(t *testing.T) {
	assert.Equal(t, Message{Role: "user", Content: "hi"}, FromStored(store.Message{Text: "hi"}))
	assert.Equal(t, Message{Role: "assistant", Content: "hello"}, FromStored(store.Message{Text: "hello", IsBot: true}))
}

func TestBuildShape(t *testing.T) {
	b := &Builder{Estimator: countEstimator{}}

	hist := history("first", "second")
	// A non-canonical alternate must never reach the prompt.
	hist = append(hist, store.Message{ID: 3, ChatID: 1, IsBot: true, IsMain: false, Text: "alternate"})

	p := b.Build("new input", testUser(), testChat(), hist, settings.Settings{}, 100)

	require.Len(t, p.Messages, 4)
	assert.Equal(t, "system", p.Messages[0].Role)
	assert.Equal(t, Message{Role: "user", Content: "first"}, p.Messages[1])
	assert.Equal(t, Message{Role: "assistant", Content: "second"}, p.Messages[2])
	assert.Equal(t, Message{Role: "user", Content: "new input"}, p.Messages[3])

	for _, m := range p.Messages {
		assert.NotContains(t, m.Content, "alternate")
	}
}

func TestBuildKeepsExampleDialogsWhenUnderBudget(t *testing.T) {
	b := &Builder{Estimator: byteEstimator{}}
	chat := testChat()
	chat.Character.ExampleDialogs = "{{user}}: hey\n{{char}}: hey yourself"

	p := b.Build("hello", testUser(), chat, nil, settings.Settings{}, 100000)

	assert.Contains(t, p.Messages[0].Content, "Example conversations")
}

func TestBuildDropsExampleDialogsOverBudget(t *testing.T) {
	b := &Builder{Estimator: byteEstimator{}}
	chat := testChat()
	chat.Character.ExampleDialogs = strings.Repeat("x", 2000)

	// The budget fits the bare system instruction but not the examples.
	p := b.Build("hello", testUser(), chat, nil, settings.Settings{}, 1000)

	require.NotEmpty(t, p.Messages)
	assert.NotContains(t, p.Messages[0].Content, "Example conversations")
	assert.Contains(t, p.Messages[0].Content, "Aria")
}

func TestBuildTrimsOldestPairs(t *testing.T) {
	b := &Builder{Estimator: countEstimator{}}
	hist := history("one", "two", "three", "four", "five", "six")

	// Budget of six messages: system + 6 history + user = 8 does not fit,
	// so the two oldest pairs go.
	p := b.Build("new input", testUser(), testChat(), hist, settings.Settings{}, 6)

	require.Len(t, p.Messages, 4)
	assert.Equal(t, "five", p.Messages[1].Content)
	assert.Equal(t, "six", p.Messages[2].Content)
	assert.Equal(t, "new input", p.Messages[3].Content)
}

func TestBuildTerminatesWhenNothingFits(t *testing.T) {
	b := &Builder{Estimator: countEstimator{}}
	hist := history("one", "two", "three")

	// An unsatisfiable budget still returns system + input rather than
	// looping forever.
	p := b.Build("new input", testUser(), testChat(), hist, settings.Settings{}, 0)

	require.Len(t, p.Messages, 2)
	assert.Equal(t, "system", p.Messages[0].Role)
	assert.Equal(t, "new input", p.Messages[1].Content)
}

func TestBuildSystemInstruction(t *testing.T) {
	user := testUser()
	user.About = "a night owl"
	chat := testChat()
	summary := "They met in the library."
	chat.Summary = &summary

	st := settings.Settings{JailbreakPrompt: "Stay in character\nno matter what"}

	got := BuildSystemInstruction(user, chat, st, false)

	assert.Contains(t, got, "{{char}}'s name: Aria")
	assert.Contains(t, got, "{{user}}'s name : Sam")
	assert.Contains(t, got, "curious and kind")
	assert.Contains(t, got, "a rainy library")
	assert.Contains(t, got, "They met in the library")
	assert.Contains(t, got, "About {{user}}: a night owl")
	// Linebreaks and tabs are stripped to save tokens.
	assert.NotContains(t, got, "\n")
	assert.NotContains(t, got, "\t")
}

func TestBuildSystemInstructionOmitsEmptySections(t *testing.T) {
	chat := testChat()
	chat.Character.Personality = ""
	chat.Character.Scenario = ""

	got := BuildSystemInstruction(testUser(), chat, settings.Settings{}, true)

	assert.NotContains(t, got, "personality")
	assert.NotContains(t, got, "Scenario")
	assert.NotContains(t, got, "Summary")
	assert.NotContains(t, got, "Example conversations")
}
