package api

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/softwind-labs/companion/internal/config"
	"github.com/softwind-labs/companion/internal/core"
	"github.com/softwind-labs/companion/internal/engine"
	"github.com/softwind-labs/companion/internal/store"
)

var _ engine.ChatStore = (*Client)(nil)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	config.AppConfig.JWTSecret = "test-secret"

	dbStore, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { dbStore.Close() })

	chatService := core.NewChatService(dbStore, nil, 0, 0)
	searchService, err := core.NewSearchService(dbStore, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(NewAPIHandler(chatService, searchService)))
	t.Cleanup(srv.Close)
	return srv
}

func signupAndLogin(t *testing.T, client *Client, handle string) *store.User {
	t.Helper()
	ctx := context.Background()
	_, err := client.Signup(ctx, handle, handle, "hunter2")
	require.NoError(t, err)
	user, err := client.Login(ctx, handle, "hunter2")
	require.NoError(t, err)
	require.NotEmpty(t, client.Token)
	return user
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(srv.URL)
	ctx := context.Background()

	_, err := client.Signup(ctx, "sam", "Sam", "hunter2")
	require.NoError(t, err)

	_, err = client.Login(ctx, "sam", "wrong")
	assert.Error(t, err)
	assert.Empty(t, client.Token)
}

func TestChatRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(srv.URL)
	ctx := context.Background()
	user := signupAndLogin(t, client, "sam")

	character := &store.Character{Name: "Aria", Greeting: "Hello, traveler!", IsPublic: true}
	require.NoError(t, client.CreateCharacter(ctx, character))
	require.NotEmpty(t, character.ID)

	chat, err := client.CreateChat(ctx, character.ID)
	require.NoError(t, err)
	require.NotZero(t, chat.ID)

	// The greeting is seeded as the first canonical bot message.
	detail, messages, err := client.GetChat(ctx, chat.ID, user.ID)
	require.NoError(t, err)
	require.NotNil(t, detail)
	assert.Equal(t, "Aria", detail.Character.Name)
	require.Len(t, messages, 1)
	assert.True(t, messages[0].IsBot)
	assert.True(t, messages[0].IsMain)
	assert.Equal(t, "Hello, traveler!", messages[0].Text)

	// Message lifecycle through the engine.ChatStore surface.
	userMsg, err := client.CreateMessage(ctx, chat.ID, "hi", false, true)
	require.NoError(t, err)
	require.NotZero(t, userMsg.ID)

	botMsg, err := client.CreateMessage(ctx, chat.ID, "a reply", true, false)
	require.NoError(t, err)
	assert.False(t, botMsg.IsMain)

	isMain := true
	require.NoError(t, client.UpdateMessage(ctx, chat.ID, botMsg.ID, store.MessagePatch{IsMain: &isMain}))

	_, messages, err = client.GetChat(ctx, chat.ID, user.ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.True(t, messages[2].IsMain)

	require.NoError(t, client.DeleteMessages(ctx, chat.ID, []int64{userMsg.ID, botMsg.ID}))
	_, messages, err = client.GetChat(ctx, chat.ID, user.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	chats, err := client.ListChats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, chat.ID, chats[0].ID)
}

func TestChatVisibility(t *testing.T) {
	srv := newTestServer(t)
	owner := NewClient(srv.URL)
	ctx := context.Background()
	signupAndLogin(t, owner, "sam")

	character := &store.Character{Name: "Aria", IsPublic: true}
	require.NoError(t, owner.CreateCharacter(ctx, character))
	chat, err := owner.CreateChat(ctx, character.ID)
	require.NoError(t, err)

	visitor := NewClient(srv.URL)
	other := signupAndLogin(t, visitor, "alex")

	// Private chats look like they don't exist to other users.
	_, _, err = visitor.GetChat(ctx, chat.ID, other.ID)
	assert.Error(t, err)

	// Going public opens read access.
	isPublic := true
	require.NoError(t, owner.UpdateChat(ctx, chat.ID, store.ChatPatch{IsPublic: &isPublic}))

	detail, _, err := visitor.GetChat(ctx, chat.ID, other.ID)
	require.NoError(t, err)
	require.NotNil(t, detail)
	assert.Equal(t, "Aria", detail.Character.Name)

	// But write access stays with the owner.
	_, err = visitor.CreateMessage(ctx, chat.ID, "intruder", false, true)
	assert.Error(t, err)
}

func TestCharacterSearchFallback(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(srv.URL)
	ctx := context.Background()
	signupAndLogin(t, client, "sam")

	require.NoError(t, client.CreateCharacter(ctx, &store.Character{Name: "Aria the Librarian", IsPublic: true}))
	require.NoError(t, client.CreateCharacter(ctx, &store.Character{Name: "Brock", IsPublic: true}))

	// Without embeddings the search degrades to substring matching.
	results, err := client.SearchCharacters(ctx, "librarian", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Aria the Librarian", results[0].Name)

	// An empty query lists public characters.
	results, err = client.SearchCharacters(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(srv.URL) // no token

	_, err := client.ListChats(context.Background())
	assert.Error(t, err)
}
