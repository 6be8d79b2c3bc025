package token

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristicEstimate(t *testing.T) {
	// "abcd" serializes to 6 bytes including the quotes.
	got := Heuristic{}.Estimate("abcd")
	assert.InDelta(t, 6.0/DefaultDivisor, got, 1e-9)
}

func TestHeuristicCustomDivisor(t *testing.T) {
	got := Heuristic{Divisor: 2}.Estimate("abcd")
	assert.InDelta(t, 3.0, got, 1e-9)
}

func TestHeuristicGrowsWithPayload(t *testing.T) {
	small := Heuristic{}.Estimate("hi")
	large := Heuristic{}.Estimate(strings.Repeat("hi there ", 100))
	assert.Greater(t, large, small)
}

func TestTiktokenEstimate(t *testing.T) {
	got := Tiktoken{}.Estimate("The quick brown fox jumps over the lazy dog.")
	require.Greater(t, got, 0.0)
	// Token counts land well below byte counts for English text.
	assert.Less(t, got, 50.0)
}

func TestSelect(t *testing.T) {
	assert.IsType(t, Tiktoken{}, Select("tiktoken"))
	assert.IsType(t, Heuristic{}, Select("heuristic"))
	assert.IsType(t, Heuristic{}, Select(""))
	assert.IsType(t, Heuristic{}, Select("something-else"))
}
