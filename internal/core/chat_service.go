package core

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/softwind-labs/companion/internal/prompt"
	"github.com/softwind-labs/companion/internal/settings"
	"github.com/softwind-labs/companion/internal/store"
)

// ChatService orchestrates the chat store behind the HTTP API: ownership
// checks, greeting seeding, quota-gated managed generation and the rolling
// summary refresh.
type ChatService struct {
	dbStore       *store.SQLiteStore
	gemini        *GeminiService // nil when no API key is configured
	messageQuota  int
	summaryEveryN int
}

func NewChatService(db *store.SQLiteStore, gemini *GeminiService, messageQuota, summaryEveryN int) *ChatService {
	return &ChatService{
		dbStore:       db,
		gemini:        gemini,
		messageQuota:  messageQuota,
		summaryEveryN: summaryEveryN,
	}
}

func (s *ChatService) GetUserByHandle(handle string) (*store.User, error) {
	return s.dbStore.GetUserByHandle(handle)
}

func (s *ChatService) CreateUser(handle, name, passwordHash string) (*store.User, error) {
	return s.dbStore.CreateUser(handle, name, passwordHash)
}

func (s *ChatService) UpdateUserProfile(userID int64, name, about string) error {
	return s.dbStore.UpdateUserProfile(userID, name, about)
}

func (s *ChatService) CreateCharacter(c *store.Character) error {
	return s.dbStore.CreateCharacter(c)
}

func (s *ChatService) GetCharacter(id string) (*store.Character, error) {
	return s.dbStore.GetCharacterByID(id)
}

// CreateChat opens a conversation with a character and seeds the character's
// greeting as the first canonical bot message.
func (s *ChatService) CreateChat(userID int64, characterID string) (*store.Chat, []store.Message, error) {
	character, err := s.dbStore.GetCharacterByID(characterID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load character: %w", err)
	}
	if character == nil {
		return nil, nil, fmt.Errorf("character not found")
	}

	chat, err := s.dbStore.CreateChat(userID, characterID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create chat in DB: %w", err)
	}

	var messages []store.Message
	if character.Greeting != "" {
		greeting := store.Message{
			ChatID: chat.ID,
			IsBot:  true,
			IsMain: true,
			Text:   character.Greeting,
		}
		if err := s.dbStore.CreateMessage(&greeting); err != nil {
			// The chat still works without the greeting, just empty.
			log.Printf("Failed to store greeting for new chat %d: %v", chat.ID, err)
		} else {
			messages = append(messages, greeting)
		}
	}

	return chat, messages, nil
}

func (s *ChatService) GetChats(userID int64) ([]store.Chat, error) {
	return s.dbStore.GetChatsByUserID(userID)
}

// GetChatDetails returns the chat with its character and full message list.
// Readable by the owner, or by anyone when the chat is public; otherwise it
// reports not-found rather than forbidden.
func (s *ChatService) GetChatDetails(chatID, userID int64) (*store.ChatDetail, []store.Message, error) {
	detail, err := s.dbStore.GetChatDetail(chatID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get chat: %w", err)
	}
	if detail == nil || (!detail.IsPublic && detail.UserID != userID) {
		return nil, nil, nil // Not found
	}

	messages, err := s.dbStore.GetMessagesByChatID(chatID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get messages for chat: %w", err)
	}
	return detail, messages, nil
}

func (s *ChatService) ownedChat(chatID, userID int64) (*store.Chat, error) {
	chat, err := s.dbStore.GetChatByID(chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to verify chat: %w", err)
	}
	if chat == nil || chat.UserID != userID {
		return nil, fmt.Errorf("chat not found")
	}
	return chat, nil
}

// CreateMessage stores one message in an owned chat and returns the
// confirmed record. User messages periodically kick off a summary refresh.
func (s *ChatService) CreateMessage(chatID, userID int64, text string, isBot, isMain bool) (*store.Message, error) {
	if _, err := s.ownedChat(chatID, userID); err != nil {
		return nil, err
	}

	msg := store.Message{ChatID: chatID, IsBot: isBot, IsMain: isMain, Text: text}
	if err := s.dbStore.CreateMessage(&msg); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}

	if !isBot {
		go s.maybeRefreshSummary(chatID, userID)
	}

	return &msg, nil
}

func (s *ChatService) UpdateMessage(chatID, userID, messageID int64, patch store.MessagePatch) error {
	if _, err := s.ownedChat(chatID, userID); err != nil {
		return err
	}
	return s.dbStore.UpdateMessage(chatID, messageID, patch)
}

func (s *ChatService) DeleteMessages(chatID, userID int64, messageIDs []int64) error {
	if _, err := s.ownedChat(chatID, userID); err != nil {
		return err
	}
	return s.dbStore.DeleteMessages(chatID, messageIDs)
}

func (s *ChatService) UpdateChat(chatID, userID int64, patch store.ChatPatch) error {
	return s.dbStore.UpdateChat(chatID, userID, patch)
}

func (s *ChatService) DeleteChat(chatID, userID int64) error {
	return s.dbStore.DeleteChat(chatID, userID)
}

// GenerateManaged serves the managed provider endpoint. An exhausted quota
// returns an empty reply, which the client maps to its upgrade notice; that
// is the contract, not an error.
func (s *ChatService) GenerateManaged(ctx context.Context, userID int64, messages []prompt.Message, cfg settings.Settings) (string, error) {
	if s.gemini == nil {
		return "", fmt.Errorf("managed generation is not configured")
	}

	if s.messageQuota > 0 {
		used, err := s.dbStore.CountUserMessages(userID)
		if err != nil {
			return "", err
		}
		if used >= s.messageQuota {
			return "", nil
		}
	}

	return s.gemini.Complete(ctx, messages, cfg.Generation.Temperature, cfg.MaxNewToken())
}

// maybeRefreshSummary regenerates the rolling summary every N user turns.
// Best effort on a background goroutine; failures are only logged.
func (s *ChatService) maybeRefreshSummary(chatID, userID int64) {
	if s.gemini == nil || s.summaryEveryN <= 0 {
		return
	}

	messages, err := s.dbStore.GetMessagesByChatID(chatID)
	if err != nil {
		log.Printf("Failed to load messages for summary of chat %d: %v", chatID, err)
		return
	}

	userTurns := 0
	for _, m := range messages {
		if !m.IsBot {
			userTurns++
		}
	}
	if userTurns == 0 || userTurns%s.summaryEveryN != 0 {
		return
	}

	var transcript strings.Builder
	for _, m := range messages {
		if !m.IsMain {
			continue
		}
		speaker := "User"
		if m.IsBot {
			speaker = "Character"
		}
		fmt.Fprintf(&transcript, "%s: %s\n", speaker, m.Text)
	}

	log.Printf("Attempting to generate summary for chat %d", chatID)
	summary, err := s.gemini.GenerateSummary(context.Background(), transcript.String())
	if err != nil {
		log.Printf("Failed to generate summary for chat %d: %v", chatID, err)
		return
	}

	if err := s.dbStore.UpdateChat(chatID, userID, store.ChatPatch{Summary: &summary}); err != nil {
		log.Printf("Failed to save generated summary for chat %d: %v", chatID, err)
	} else {
		log.Printf("Successfully generated and saved summary for chat %d", chatID)
	}
}
