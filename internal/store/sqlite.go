package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        handle TEXT UNIQUE NOT NULL,
        name TEXT NOT NULL DEFAULT '',
        about TEXT NOT NULL DEFAULT '',
        password_hash TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS characters (
        id TEXT PRIMARY KEY, -- UUID
        user_id INTEGER NOT NULL,
        name TEXT NOT NULL,
        description TEXT NOT NULL DEFAULT '',
        personality TEXT NOT NULL DEFAULT '',
        scenario TEXT NOT NULL DEFAULT '',
        example_dialogs TEXT NOT NULL DEFAULT '',
        greeting TEXT NOT NULL DEFAULT '',
        avatar_url TEXT NOT NULL DEFAULT '',
        is_nsfw BOOLEAN DEFAULT FALSE,
        is_public BOOLEAN DEFAULT TRUE,
        embedding_json TEXT, -- JSON string of []float32, nullable
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS chats (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id INTEGER NOT NULL,
        character_id TEXT NOT NULL,
        is_public BOOLEAN DEFAULT FALSE,
        summary TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (user_id) REFERENCES users (id),
        FOREIGN KEY (character_id) REFERENCES characters (id)
    );

    CREATE TABLE IF NOT EXISTS messages (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        chat_id INTEGER NOT NULL,
        is_bot BOOLEAN NOT NULL,
        is_main BOOLEAN NOT NULL DEFAULT TRUE,
        message TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (chat_id) REFERENCES chats (id)
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods

func (s *SQLiteStore) GetUserByHandle(handle string) (*User, error) {
	var user User
	err := s.db.QueryRow("SELECT id, handle, name, about, password_hash, created_at FROM users WHERE handle = ?", handle).
		Scan(&user.ID, &user.Handle, &user.Name, &user.About, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) CreateUser(handle, name, passwordHash string) (*User, error) {
	res, err := s.db.Exec("INSERT INTO users (handle, name, password_hash) VALUES (?, ?, ?)", handle, name, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.getUserByID(id)
}

func (s *SQLiteStore) getUserByID(id int64) (*User, error) {
	var user User
	err := s.db.QueryRow("SELECT id, handle, name, about, password_hash, created_at FROM users WHERE id = ?", id).
		Scan(&user.ID, &user.Handle, &user.Name, &user.About, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) UpdateUserProfile(userID int64, name, about string) error {
	_, err := s.db.Exec("UPDATE users SET name = ?, about = ? WHERE id = ?", name, about, userID)
	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", err)
	}
	return nil
}

// CountUserMessages counts the user-authored messages across all of the
// user's chats. The managed generator uses this for quota checks.
func (s *SQLiteStore) CountUserMessages(userID int64) (int, error) {
	var n int
	err := s.db.QueryRow(`
        SELECT COUNT(*) FROM messages m
        JOIN chats c ON c.id = m.chat_id
        WHERE c.user_id = ? AND m.is_bot = FALSE`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count user messages: %w", err)
	}
	return n, nil
}

// Character methods

func (s *SQLiteStore) CreateCharacter(c *Character) error {
	c.ID = uuid.NewString()
	c.CreatedAt = time.Now()

	_, err := s.db.Exec(`
        INSERT INTO characters (id, user_id, name, description, personality, scenario, example_dialogs, greeting, avatar_url, is_nsfw, is_public, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, c.Description, c.Personality, c.Scenario, c.ExampleDialogs, c.Greeting, c.AvatarURL, c.IsNSFW, c.IsPublic, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert character: %w", err)
	}
	return nil
}

const characterColumns = "id, user_id, name, description, personality, scenario, example_dialogs, greeting, avatar_url, is_nsfw, is_public, embedding_json, created_at"

func scanCharacter(row interface{ Scan(...any) error }) (*Character, error) {
	var c Character
	var embeddingJSON sql.NullString
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Description, &c.Personality, &c.Scenario,
		&c.ExampleDialogs, &c.Greeting, &c.AvatarURL, &c.IsNSFW, &c.IsPublic, &embeddingJSON, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if embeddingJSON.Valid && embeddingJSON.String != "" {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &c.Embedding); err != nil {
			log.Printf("Warning: failed to unmarshal embedding for character %s: %v. Embedding will be empty.", c.ID, err)
			c.Embedding = nil
		}
	}
	return &c, nil
}

func (s *SQLiteStore) GetCharacterByID(id string) (*Character, error) {
	row := s.db.QueryRow("SELECT "+characterColumns+" FROM characters WHERE id = ?", id)
	c, err := scanCharacter(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get character: %w", err)
	}
	return c, nil
}

// ListCharacters returns public characters, newest first.
func (s *SQLiteStore) ListCharacters(limit int) ([]Character, error) {
	rows, err := s.db.Query("SELECT "+characterColumns+" FROM characters WHERE is_public = TRUE ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query characters: %w", err)
	}
	defer rows.Close()
	return collectCharacters(rows)
}

// SearchCharactersLike is the substring fallback when no embeddings exist.
func (s *SQLiteStore) SearchCharactersLike(query string, limit int) ([]Character, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	rows, err := s.db.Query(`
        SELECT `+characterColumns+` FROM characters
        WHERE is_public = TRUE AND (LOWER(name) LIKE ? OR LOWER(description) LIKE ?)
        ORDER BY created_at DESC LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search characters: %w", err)
	}
	defer rows.Close()
	return collectCharacters(rows)
}

func collectCharacters(rows *sql.Rows) ([]Character, error) {
	var characters []Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan character row: %w", err)
		}
		characters = append(characters, *c)
	}
	return characters, rows.Err()
}

func (s *SQLiteStore) UpdateCharacterEmbedding(id string, embedding []float32) error {
	embeddingBytes, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	_, err = s.db.Exec("UPDATE characters SET embedding_json = ? WHERE id = ?", string(embeddingBytes), id)
	if err != nil {
		return fmt.Errorf("failed to update character embedding: %w", err)
	}
	return nil
}

// Chat methods

func (s *SQLiteStore) CreateChat(userID int64, characterID string) (*Chat, error) {
	now := time.Now()
	res, err := s.db.Exec("INSERT INTO chats (user_id, character_id, created_at) VALUES (?, ?, ?)", userID, characterID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert chat: %w", err)
	}
	id, _ := res.LastInsertId()
	return &Chat{ID: id, UserID: userID, CharacterID: characterID, CreatedAt: now}, nil
}

func (s *SQLiteStore) GetChatByID(chatID int64) (*Chat, error) {
	var chat Chat
	var summary sql.NullString
	err := s.db.QueryRow("SELECT id, user_id, character_id, is_public, summary, created_at FROM chats WHERE id = ?", chatID).
		Scan(&chat.ID, &chat.UserID, &chat.CharacterID, &chat.IsPublic, &summary, &chat.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	if summary.Valid {
		chat.Summary = &summary.String
	}
	return &chat, nil
}

// GetChatDetail returns the chat joined with its character.
func (s *SQLiteStore) GetChatDetail(chatID int64) (*ChatDetail, error) {
	chat, err := s.GetChatByID(chatID)
	if err != nil || chat == nil {
		return nil, err
	}
	character, err := s.GetCharacterByID(chat.CharacterID)
	if err != nil {
		return nil, err
	}
	if character == nil {
		return nil, fmt.Errorf("chat %d references missing character %s", chatID, chat.CharacterID)
	}
	return &ChatDetail{Chat: *chat, Character: *character}, nil
}

func (s *SQLiteStore) GetChatsByUserID(userID int64) ([]Chat, error) {
	rows, err := s.db.Query("SELECT id, user_id, character_id, is_public, summary, created_at FROM chats WHERE user_id = ? ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var chat Chat
		var summary sql.NullString
		if err := rows.Scan(&chat.ID, &chat.UserID, &chat.CharacterID, &chat.IsPublic, &summary, &chat.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		if summary.Valid {
			chat.Summary = &summary.String
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

func (s *SQLiteStore) UpdateChat(chatID, userID int64, patch ChatPatch) error {
	sets := make([]string, 0, 2)
	args := make([]any, 0, 4)
	if patch.IsPublic != nil {
		sets = append(sets, "is_public = ?")
		args = append(args, *patch.IsPublic)
	}
	if patch.Summary != nil {
		sets = append(sets, "summary = ?")
		args = append(args, *patch.Summary)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, chatID, userID)

	res, err := s.db.Exec("UPDATE chats SET "+strings.Join(sets, ", ")+" WHERE id = ? AND user_id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update chat: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("chat not found or not owned by user")
	}
	return nil
}

func (s *SQLiteStore) DeleteChat(chatID, userID int64) error {
	if _, err := s.db.Exec("DELETE FROM messages WHERE chat_id = ?", chatID); err != nil {
		return fmt.Errorf("failed to delete chat messages: %w", err)
	}
	res, err := s.db.Exec("DELETE FROM chats WHERE id = ? AND user_id = ?", chatID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("chat not found or not owned by user")
	}
	return nil
}

// Message methods

func (s *SQLiteStore) CreateMessage(msg *Message) error {
	msg.CreatedAt = time.Now()

	res, err := s.db.Exec("INSERT INTO messages (chat_id, is_bot, is_main, message, created_at) VALUES (?, ?, ?, ?, ?)",
		msg.ChatID, msg.IsBot, msg.IsMain, msg.Text, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	msg.ID, _ = res.LastInsertId()
	return nil
}

// GetMessagesByChatID returns all messages of a chat ordered by id, which is
// also creation order.
func (s *SQLiteStore) GetMessagesByChatID(chatID int64) ([]Message, error) {
	rows, err := s.db.Query("SELECT id, chat_id, is_bot, is_main, message, created_at FROM messages WHERE chat_id = ? ORDER BY id ASC", chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.IsBot, &msg.IsMain, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) UpdateMessage(chatID, messageID int64, patch MessagePatch) error {
	sets := make([]string, 0, 2)
	args := make([]any, 0, 4)
	if patch.Text != nil {
		sets = append(sets, "message = ?")
		args = append(args, *patch.Text)
	}
	if patch.IsMain != nil {
		sets = append(sets, "is_main = ?")
		args = append(args, *patch.IsMain)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, messageID, chatID)

	res, err := s.db.Exec("UPDATE messages SET "+strings.Join(sets, ", ")+" WHERE id = ? AND chat_id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("message not found")
	}
	return nil
}

func (s *SQLiteStore) DeleteMessages(chatID int64, messageIDs []int64) error {
	if len(messageIDs) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(messageIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(messageIDs)+1)
	args = append(args, chatID)
	for _, id := range messageIDs {
		args = append(args, id)
	}

	_, err := s.db.Exec("DELETE FROM messages WHERE chat_id = ? AND id IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}
