package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/softwind-labs/companion/internal/store"
)

func TestCosineSimilarity(t *testing.T) {
	got, err := cosineSimilarity([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got, 1e-6)

	got, err = cosineSimilarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, got, 1e-6)

	got, err = cosineSimilarity([]float32{1, 0}, []float32{-1, 0})
	require.NoError(t, err)
	assert.InDelta(t, -1.0, got, 1e-6)

	// Zero vectors score zero rather than dividing by zero.
	got, err = cosineSimilarity([]float32{0, 0}, []float32{1, 1})
	require.NoError(t, err)
	assert.Zero(t, got)

	_, err = cosineSimilarity([]float32{1}, []float32{1, 2})
	assert.Error(t, err)

	_, err = cosineSimilarity(nil, []float32{1})
	assert.Error(t, err)
}

func TestEmbeddingText(t *testing.T) {
	c := store.Character{Name: "Aria", Personality: "curious", Scenario: ""}
	assert.Equal(t, "Aria. curious", embeddingText(c))
}

func TestSearchFallsBackWithoutGemini(t *testing.T) {
	dbStore, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { dbStore.Close() })

	require.NoError(t, dbStore.CreateCharacter(&store.Character{UserID: 1, Name: "Aria the Librarian", IsPublic: true}))
	require.NoError(t, dbStore.CreateCharacter(&store.Character{UserID: 1, Name: "Brock", IsPublic: true}))

	s, err := NewSearchService(dbStore, nil)
	require.NoError(t, err)

	results, err := s.Search(context.Background(), "librarian", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Aria the Librarian", results[0].Name)

	// Empty query lists everything public.
	results, err = s.Search(context.Background(), "  ", 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	// Re-embedding needs an API key.
	_, err = s.ReembedAll(context.Background())
	assert.Error(t, err)
}
