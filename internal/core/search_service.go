package core

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/softwind-labs/companion/internal/store"
)

const (
	// SimilarityThreshold is the minimum cosine similarity for a character
	// to count as a semantic match.
	SimilarityThreshold = 0.7

	searchCacheLimit = 1000
)

// SearchService ranks public characters against a free-text query. With a
// Gemini client it uses embedding similarity over an in-memory cache;
// without one, or when nothing clears the threshold, it falls back to a
// substring search.
type SearchService struct {
	dbStore *store.SQLiteStore
	gemini  *GeminiService // nil disables semantic ranking
	cache   []store.Character
}

func NewSearchService(db *store.SQLiteStore, gemini *GeminiService) (*SearchService, error) {
	s := &SearchService{dbStore: db, gemini: gemini}
	if err := s.RefreshCache(); err != nil {
		return nil, fmt.Errorf("failed to load characters for search service: %w", err)
	}
	return s, nil
}

// RefreshCache reloads the in-memory character list. Called at startup and
// after re-embedding.
func (s *SearchService) RefreshCache() error {
	characters, err := s.dbStore.ListCharacters(searchCacheLimit)
	if err != nil {
		return err
	}
	s.cache = characters

	embedded := 0
	for _, c := range characters {
		if len(c.Embedding) > 0 {
			embedded++
		}
	}
	if len(characters) > 0 && embedded == 0 {
		log.Println("Warning: no character embeddings present; semantic search will fall back to substring matching. Run the server with -reembed.")
	} else {
		log.Printf("Search service caching %d characters (%d embedded).", len(characters), embedded)
	}
	return nil
}

type scoredCharacter struct {
	character  store.Character
	similarity float32
}

// Search returns up to limit public characters ranked by relevance.
func (s *SearchService) Search(ctx context.Context, query string, limit int) ([]store.Character, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.dbStore.ListCharacters(limit)
	}

	if s.gemini != nil {
		results, err := s.semanticSearch(ctx, query, limit)
		if err != nil {
			// Degrade to substring matching rather than failing the request.
			log.Printf("Semantic search failed, falling back to substring search: %v", err)
		} else if len(results) > 0 {
			return results, nil
		}
	}

	return s.dbStore.SearchCharactersLike(query, limit)
}

func (s *SearchService) semanticSearch(ctx context.Context, query string, limit int) ([]store.Character, error) {
	queryEmbedding, err := s.gemini.GetEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get query embedding: %w", err)
	}

	scored := make([]scoredCharacter, 0, len(s.cache))
	for _, c := range s.cache {
		if len(c.Embedding) == 0 {
			continue
		}
		similarity, err := cosineSimilarity(queryEmbedding, c.Embedding)
		if err != nil {
			log.Printf("Error calculating similarity for character %s: %v. Skipping.", c.ID, err)
			continue
		}
		if similarity >= SimilarityThreshold {
			scored = append(scored, scoredCharacter{character: c, similarity: similarity})
		}
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].similarity > scored[j].similarity
	})

	results := make([]store.Character, 0, limit)
	for i := 0; i < len(scored) && i < limit; i++ {
		results = append(results, scored[i].character)
	}
	return results, nil
}

// ReembedAll rebuilds the search embedding of every public character, then
// reloads the cache. Paced to stay under the embedding API rate limit.
func (s *SearchService) ReembedAll(ctx context.Context) (int, error) {
	if s.gemini == nil {
		return 0, fmt.Errorf("embedding requires a configured Gemini API key")
	}

	characters, err := s.dbStore.ListCharacters(searchCacheLimit)
	if err != nil {
		return 0, err
	}

	ticker := time.NewTicker(40 * time.Millisecond) // stay under the rate limit (1500/min)
	defer ticker.Stop()

	count := 0
	for _, c := range characters {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return count, ctx.Err()
		}

		embedding, err := s.gemini.GetEmbedding(ctx, embeddingText(c))
		if err != nil {
			log.Printf("Failed to embed character %s (%s): %v. Skipping.", c.ID, c.Name, err)
			continue
		}
		if err := s.dbStore.UpdateCharacterEmbedding(c.ID, embedding); err != nil {
			log.Printf("Failed to save embedding for character %s: %v. Skipping.", c.ID, err)
			continue
		}
		count++
	}

	return count, s.RefreshCache()
}

func embeddingText(c store.Character) string {
	parts := []string{c.Name, c.Description, c.Personality, c.Scenario}
	nonEmpty := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ". ")
}

func dotProduct(vec1, vec2 []float32) (float32, error) {
	if len(vec1) != len(vec2) {
		return 0, fmt.Errorf("vectors must have the same dimension")
	}
	var product float32
	for i := range vec1 {
		product += vec1[i] * vec2[i]
	}
	return product, nil
}

func magnitude(vec []float32) float32 {
	var sumOfSquares float32
	for _, val := range vec {
		sumOfSquares += val * val
	}
	return float32(math.Sqrt(float64(sumOfSquares)))
}

func cosineSimilarity(vec1, vec2 []float32) (float32, error) {
	if len(vec1) == 0 || len(vec2) == 0 {
		return 0, fmt.Errorf("vectors cannot be empty")
	}
	dot, err := dotProduct(vec1, vec2)
	if err != nil {
		return 0, err
	}

	mag1 := magnitude(vec1)
	mag2 := magnitude(vec2)
	if mag1 == 0 || mag2 == 0 {
		return 0, nil
	}
	return dot / (mag1 * mag2), nil
}
