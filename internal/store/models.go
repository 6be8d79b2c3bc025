package store

import "time"

type User struct {
	ID           int64     `json:"id"`
	Handle       string    `json:"handle"`
	Name         string    `json:"name"`
	About        string    `json:"about"`
	PasswordHash string    `json:"-"` // Do not expose this in JSON responses
	CreatedAt    time.Time `json:"created_at"`
}

type Character struct {
	ID             string    `json:"id"` // UUID
	UserID         int64     `json:"user_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Personality    string    `json:"personality"`
	Scenario       string    `json:"scenario"`
	ExampleDialogs string    `json:"example_dialogs"`
	Greeting       string    `json:"greeting"`
	AvatarURL      string    `json:"avatar_url"`
	IsNSFW         bool      `json:"is_nsfw"`
	IsPublic       bool      `json:"is_public"`
	Embedding      []float32 `json:"-"` // Search embedding, internal
	CreatedAt      time.Time `json:"created_at"`
}

type Chat struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	CharacterID string    `json:"character_id"`
	IsPublic    bool      `json:"is_public"`
	Summary     *string   `json:"summary"` // Nullable rolling summary
	CreatedAt   time.Time `json:"created_at"`
}

// ChatDetail is a chat joined with its character, the shape clients need to
// build prompts and render the conversation header.
type ChatDetail struct {
	Chat
	Character Character `json:"character"`
}

type Message struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	IsBot     bool      `json:"is_bot"`
	IsMain    bool      `json:"is_main"`
	Text      string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// MessagePatch carries a partial message update; nil fields are left alone.
type MessagePatch struct {
	Text   *string `json:"message,omitempty"`
	IsMain *bool   `json:"is_main,omitempty"`
}

// ChatPatch carries a partial chat update; nil fields are left alone.
type ChatPatch struct {
	IsPublic *bool   `json:"is_public,omitempty"`
	Summary  *string `json:"summary,omitempty"`
}
