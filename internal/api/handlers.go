package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/softwind-labs/companion/internal/auth"
	"github.com/softwind-labs/companion/internal/core"
	"github.com/softwind-labs/companion/internal/prompt"
	"github.com/softwind-labs/companion/internal/settings"
	"github.com/softwind-labs/companion/internal/store"
)

type contextKey string

const userContextKey contextKey = "user"

type APIHandler struct {
	chatService   *core.ChatService
	searchService *core.SearchService
}

func NewAPIHandler(cs *core.ChatService, ss *core.SearchService) *APIHandler {
	return &APIHandler{chatService: cs, searchService: ss}
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		handle, err := auth.ValidateJWT(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		user, err := h.chatService.GetUserByHandle(handle)
		if err != nil {
			log.Printf("Error in JWTAuthMiddleware for user %s: %v", handle, err)
			http.Error(w, "Failed to process user identity", http.StatusInternalServerError)
			return
		}
		if user == nil {
			http.Error(w, "User not found", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestUser(r *http.Request) *store.User {
	user, _ := r.Context().Value(userContextKey).(*store.User)
	return user
}

type SignupRequest struct {
	Handle   string `json:"handle"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.Handle == "" || req.Password == "" {
		http.Error(w, "Handle and password are required", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		req.Name = req.Handle
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Printf("Error hashing password for user %s: %v", req.Handle, err)
		http.Error(w, "Failed to process password", http.StatusInternalServerError)
		return
	}

	user, err := h.chatService.CreateUser(req.Handle, req.Name, hashedPassword)
	if err != nil {
		log.Printf("Error creating user %s: %v", req.Handle, err)
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

type LoginRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.Handle == "" || req.Password == "" {
		http.Error(w, "Handle and password are required", http.StatusBadRequest)
		return
	}

	user, err := h.chatService.GetUserByHandle(req.Handle)
	if err != nil {
		log.Printf("Error getting user %s: %v", req.Handle, err)
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateJWT(req.Handle)
	if err != nil {
		log.Printf("Error generating JWT for user %s: %v", req.Handle, err)
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(LoginResponse{Token: token, User: user})
}

type LoginResponse struct {
	Token string      `json:"token"`
	User  *store.User `json:"user"`
}

type UpdateProfileRequest struct {
	Name  string `json:"name"`
	About string `json:"about"`
}

func (h *APIHandler) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)

	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.chatService.UpdateUserProfile(user.ID, req.Name, req.About); err != nil {
		log.Printf("Error updating profile for user %d: %v", user.ID, err)
		http.Error(w, "Failed to update profile", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Character handlers

func (h *APIHandler) CreateCharacterHandler(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)

	var character store.Character
	if err := json.NewDecoder(r.Body).Decode(&character); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if character.Name == "" {
		http.Error(w, "Character name is required", http.StatusBadRequest)
		return
	}

	character.UserID = user.ID
	if err := h.chatService.CreateCharacter(&character); err != nil {
		log.Printf("Error creating character for user %d: %v", user.ID, err)
		http.Error(w, "Failed to create character", http.StatusInternalServerError)
		return
	}
	if err := h.searchService.RefreshCache(); err != nil {
		log.Printf("Failed to refresh search cache after character creation: %v", err)
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(character)
}

func (h *APIHandler) GetCharacterHandler(w http.ResponseWriter, r *http.Request) {
	characterID := chi.URLParam(r, "characterID")

	character, err := h.chatService.GetCharacter(characterID)
	if err != nil {
		log.Printf("Error getting character %s: %v", characterID, err)
		http.Error(w, "Failed to get character", http.StatusInternalServerError)
		return
	}
	if character == nil {
		http.Error(w, "Character not found", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(character)
}

func (h *APIHandler) SearchCharactersHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	characters, err := h.searchService.Search(r.Context(), query, limit)
	if err != nil {
		log.Printf("Error searching characters for %q: %v", query, err)
		http.Error(w, "Failed to search characters", http.StatusInternalServerError)
		return
	}
	if characters == nil {
		characters = []store.Character{}
	}
	json.NewEncoder(w).Encode(characters)
}

// Chat handlers

type CreateChatRequest struct {
	CharacterID string `json:"character_id"`
}

type ChatResponse struct {
	Chat         *store.ChatDetail `json:"chat"`
	ChatMessages []store.Message   `json:"chat_messages"`
}

func (h *APIHandler) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)

	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.CharacterID == "" {
		http.Error(w, "character_id is required", http.StatusBadRequest)
		return
	}

	chat, messages, err := h.chatService.CreateChat(user.ID, req.CharacterID)
	if err != nil {
		if err.Error() == "character not found" {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		log.Printf("Error creating chat for user %d: %v", user.ID, err)
		http.Error(w, "Failed to create chat", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(struct {
		*store.Chat
		Messages []store.Message `json:"messages,omitempty"`
	}{Chat: chat, Messages: messages})
}

func (h *APIHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)

	chats, err := h.chatService.GetChats(user.ID)
	if err != nil {
		log.Printf("Error listing chats for user %d: %v", user.ID, err)
		http.Error(w, "Failed to list chats", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(chats)
}

func chatIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "chatID"), 10, 64)
	return id, err == nil
}

func (h *APIHandler) GetChatDetailsHandler(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	chatID, ok := chatIDParam(r)
	if !ok {
		http.Error(w, "Invalid chat id", http.StatusBadRequest)
		return
	}

	detail, messages, err := h.chatService.GetChatDetails(chatID, user.ID)
	if err != nil {
		log.Printf("Error getting chat details for user %d, chat %d: %v", user.ID, chatID, err)
		http.Error(w, "Failed to get chat details", http.StatusInternalServerError)
		return
	}
	if detail == nil {
		http.Error(w, "Chat not found", http.StatusNotFound)
		return
	}

	json.NewEncoder(w).Encode(ChatResponse{Chat: detail, ChatMessages: messages})
}

func (h *APIHandler) UpdateChatHandler(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	chatID, ok := chatIDParam(r)
	if !ok {
		http.Error(w, "Invalid chat id", http.StatusBadRequest)
		return
	}

	var patch store.ChatPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.chatService.UpdateChat(chatID, user.ID, patch); err != nil {
		http.Error(w, "Chat not found", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

func (h *APIHandler) DeleteChatHandler(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	chatID, ok := chatIDParam(r)
	if !ok {
		http.Error(w, "Invalid chat id", http.StatusBadRequest)
		return
	}

	if err := h.chatService.DeleteChat(chatID, user.ID); err != nil {
		http.Error(w, "Chat not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Message handlers

type CreateMessageRequest struct {
	Message string `json:"message"`
	IsBot   bool   `json:"is_bot"`
	IsMain  bool   `json:"is_main"`
}

func (h *APIHandler) CreateMessageHandler(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	chatID, ok := chatIDParam(r)
	if !ok {
		http.Error(w, "Invalid chat id", http.StatusBadRequest)
		return
	}

	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "Message content cannot be empty", http.StatusBadRequest)
		return
	}

	msg, err := h.chatService.CreateMessage(chatID, user.ID, req.Message, req.IsBot, req.IsMain)
	if err != nil {
		if err.Error() == "chat not found" {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		log.Printf("Error posting message for user %d, chat %d: %v", user.ID, chatID, err)
		http.Error(w, "Failed to post message", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(msg)
}

func (h *APIHandler) UpdateMessageHandler(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	chatID, ok := chatIDParam(r)
	if !ok {
		http.Error(w, "Invalid chat id", http.StatusBadRequest)
		return
	}
	messageID, err := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid message id", http.StatusBadRequest)
		return
	}

	var patch store.MessagePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.chatService.UpdateMessage(chatID, user.ID, messageID, patch); err != nil {
		http.Error(w, "Message not found", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

type DeleteMessagesRequest struct {
	MessageIDs []int64 `json:"message_ids"`
}

func (h *APIHandler) DeleteMessagesHandler(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	chatID, ok := chatIDParam(r)
	if !ok {
		http.Error(w, "Invalid chat id", http.StatusBadRequest)
		return
	}

	var req DeleteMessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.chatService.DeleteMessages(chatID, user.ID, req.MessageIDs); err != nil {
		if err.Error() == "chat not found" {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		log.Printf("Error deleting messages for user %d, chat %d: %v", user.ID, chatID, err)
		http.Error(w, "Failed to delete messages", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// Managed generation

type GenerateRequest struct {
	Messages []prompt.Message  `json:"messages"`
	Config   settings.Settings `json:"config"`
	UserID   int64             `json:"user_id"`
}

// GenerateHandler serves the managed provider: full prompt in, plain reply
// text out. An empty body means the caller's quota is exhausted.
func (h *APIHandler) GenerateHandler(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Messages) == 0 {
		http.Error(w, "messages are required", http.StatusBadRequest)
		return
	}

	reply, err := h.chatService.GenerateManaged(r.Context(), user.ID, req.Messages, req.Config)
	if err != nil {
		log.Printf("Error generating managed reply for user %d: %v", user.ID, err)
		http.Error(w, "Failed to generate reply", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(reply))
}
