package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/softwind-labs/companion/internal/store"
)

// Client talks to the companion API over HTTP. It satisfies
// engine.ChatStore, so a Session can reconcile directly against a remote
// server.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: server returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response of %s %s: %w", method, path, err)
		}
	}
	return nil
}

// Signup registers a new account. It does not log in.
func (c *Client) Signup(ctx context.Context, handle, name, password string) (*store.User, error) {
	var user store.User
	err := c.do(ctx, http.MethodPost, "/api/signup", SignupRequest{Handle: handle, Name: name, Password: password}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Login authenticates and stores the bearer token on the client for all
// subsequent calls.
func (c *Client) Login(ctx context.Context, handle, password string) (*store.User, error) {
	var res LoginResponse
	err := c.do(ctx, http.MethodPost, "/api/login", LoginRequest{Handle: handle, Password: password}, &res)
	if err != nil {
		return nil, err
	}
	c.Token = res.Token
	return res.User, nil
}

func (c *Client) ListChats(ctx context.Context) ([]store.Chat, error) {
	var chats []store.Chat
	if err := c.do(ctx, http.MethodGet, "/api/chats", nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func (c *Client) CreateChat(ctx context.Context, characterID string) (*store.Chat, error) {
	var chat store.Chat
	err := c.do(ctx, http.MethodPost, "/api/chats", CreateChatRequest{CharacterID: characterID}, &chat)
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func (c *Client) CreateCharacter(ctx context.Context, character *store.Character) error {
	return c.do(ctx, http.MethodPost, "/api/characters", character, character)
}

func (c *Client) SearchCharacters(ctx context.Context, query string, limit int) ([]store.Character, error) {
	path := fmt.Sprintf("/api/characters?q=%s&limit=%d", url.QueryEscape(query), limit)
	var characters []store.Character
	if err := c.do(ctx, http.MethodGet, path, nil, &characters); err != nil {
		return nil, err
	}
	return characters, nil
}

func (c *Client) UpdateChat(ctx context.Context, chatID int64, patch store.ChatPatch) error {
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/chats/%d", chatID), patch, nil)
}

func (c *Client) DeleteChat(ctx context.Context, chatID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/chats/%d", chatID), nil, nil)
}

// GetChat implements engine.ChatStore. The server resolves access from the
// bearer token, so userID is not sent.
func (c *Client) GetChat(ctx context.Context, chatID, userID int64) (*store.ChatDetail, []store.Message, error) {
	var res ChatResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/chats/%d", chatID), nil, &res); err != nil {
		return nil, nil, err
	}
	return res.Chat, res.ChatMessages, nil
}

// CreateMessage implements engine.ChatStore.
func (c *Client) CreateMessage(ctx context.Context, chatID int64, text string, isBot, isMain bool) (*store.Message, error) {
	var msg store.Message
	req := CreateMessageRequest{Message: text, IsBot: isBot, IsMain: isMain}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/chats/%d/messages", chatID), req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// UpdateMessage implements engine.ChatStore.
func (c *Client) UpdateMessage(ctx context.Context, chatID, messageID int64, patch store.MessagePatch) error {
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/chats/%d/messages/%d", chatID, messageID), patch, nil)
}

// DeleteMessages implements engine.ChatStore.
func (c *Client) DeleteMessages(ctx context.Context, chatID int64, messageIDs []int64) error {
	if len(messageIDs) == 0 {
		return nil
	}
	req := DeleteMessagesRequest{MessageIDs: messageIDs}
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/chats/%d/messages", chatID), req, nil)
}
