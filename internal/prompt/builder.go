// Package prompt assembles bounded-size role-tagged message lists for the
// generation providers.
package prompt

import (
	"fmt"
	"strings"

	"github.com/softwind-labs/companion/internal/settings"
	"github.com/softwind-labs/companion/internal/store"
	"github.com/softwind-labs/companion/internal/token"
)

// Message is one role-tagged block of a prompt. Role is "system", "user" or
// "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prompt is the ordered message list handed to a provider.
type Prompt struct {
	Messages []Message `json:"messages"`
}

// TokenEstimator approximates the token length of a message list.
type TokenEstimator interface {
	Estimate(v any) float64
}

// FromStored maps a persisted chat message to a prompt block.
func FromStored(m store.Message) Message {
	role := "user"
	if m.IsBot {
		role = "assistant"
	}
	return Message{Role: role, Content: m.Text}
}

// Builder produces prompts that fit a token budget by progressively dropping
// example dialogs and then the oldest history pairs.
type Builder struct {
	Estimator TokenEstimator
}

// NewBuilder picks the estimator configured in settings.
func NewBuilder(st settings.Settings) *Builder {
	return &Builder{Estimator: token.Select(st.TokenCounter)}
}

// Build assembles [system] + main-thread history + the new user message,
// trimmed to maxContentLength estimated tokens. Deterministic, no side
// effects. When the history is exhausted the prompt is returned even if the
// estimate is still over budget; the provider truncates in that case.
func (b *Builder) Build(message string, user store.User, chat store.ChatDetail, history []store.Message, st settings.Settings, maxContentLength int) Prompt {
	est := b.Estimator
	if est == nil {
		est = token.Heuristic{}
	}

	chatCopy := make([]Message, 0, len(history))
	for _, m := range history {
		if m.IsMain {
			chatCopy = append(chatCopy, FromStored(m))
		}
	}

	userMessage := Message{Role: "user", Content: message}

	assemble := func(system string) []Message {
		messages := make([]Message, 0, len(chatCopy)+2)
		messages = append(messages, Message{Role: "system", Content: system})
		messages = append(messages, chatCopy...)
		messages = append(messages, userMessage)
		return messages
	}

	messages := assemble(BuildSystemInstruction(user, chat, st, true))
	if est.Estimate(messages) < float64(maxContentLength) {
		return Prompt{Messages: messages}
	}

	// Conversation got too long: free budget by dropping example dialogs
	// from the system instruction.
	systemWithoutExamples := BuildSystemInstruction(user, chat, st, false)
	messages = assemble(systemWithoutExamples)

	// Then drop the oldest user+bot pair until the prompt fits.
	for est.Estimate(messages) >= float64(maxContentLength) && len(chatCopy) > 0 {
		if len(chatCopy) > 2 {
			chatCopy = chatCopy[2:]
		} else {
			chatCopy = chatCopy[:0]
		}
		messages = assemble(systemWithoutExamples)
	}

	return Prompt{Messages: messages}
}

// BuildSystemInstruction embeds the jailbreak prompt, persona substitution
// rules, scenario, rolling summary and user blurb into one system block.
// Linebreaks and tabs are stripped to save tokens.
func BuildSystemInstruction(user store.User, chat store.ChatDetail, st settings.Settings, includeExampleDialogs bool) string {
	c := chat.Character

	summary := ""
	if chat.Summary != nil {
		summary = *chat.Summary
	}

	var sb strings.Builder
	sb.WriteString(st.JailbreakPrompt)
	sb.WriteString(".\n")
	fmt.Fprintf(&sb, "{{char}}'s name: %s. {{user}}'s name : %s. {{char}} calls always {{user}} by {{user}}'s name or any name introduced by {{user}} in the first part of each conversation.", c.Name, user.Name)
	if c.Personality != "" {
		fmt.Fprintf(&sb, "\n{{char}}'s personality: %s.", c.Personality)
	}
	if c.Scenario != "" {
		fmt.Fprintf(&sb, "\nScenario of the roleplay: %s.", c.Scenario)
	}
	if summary != "" {
		fmt.Fprintf(&sb, "\nSummary of what happened: %s.", summary)
	}
	if user.About != "" {
		fmt.Fprintf(&sb, "\nAbout {{user}}: %s.", user.About)
	}

	instruction := strings.NewReplacer("\n", "", "\t", "", "    ", "").Replace(sb.String())

	if includeExampleDialogs && c.ExampleDialogs != "" {
		instruction += fmt.Sprintf(".Example conversations between {{char}} and {{user}}: %s.", c.ExampleDialogs)
	}

	return instruction
}
