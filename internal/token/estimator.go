// Package token estimates the token length of prompt payloads.
package token

import (
	"encoding/json"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// DefaultDivisor converts serialized bytes to approximate tokens. True
// English text runs around 4.4 bytes per token; the smaller divisor leaves
// deliberate slack so a prompt that passes the budget check also fits the
// real window. Tunable, not a contract.
const DefaultDivisor = 3.8

// Estimator approximates the token count of the JSON serialization of v.
type Estimator interface {
	Estimate(v any) float64
}

// Heuristic estimates tokens as serialized-size divided by a constant.
// Intentionally approximate and very cheap.
type Heuristic struct {
	Divisor float64 // 0 means DefaultDivisor
}

func (h Heuristic) Estimate(v any) float64 {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	d := h.Divisor
	if d <= 0 {
		d = DefaultDivisor
	}
	return float64(len(b)) / d
}

var (
	codec     tokenizer.Codec
	codecOnce sync.Once
	codecErr  error
)

// getCodec returns the cl100k_base tokenizer, a reasonable approximation for
// most chat models.
func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// Tiktoken counts tokens of the serialized payload with cl100k_base. Falls
// back to the heuristic when the codec is unavailable.
type Tiktoken struct{}

func (Tiktoken) Estimate(v any) float64 {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	c, err := getCodec()
	if err != nil {
		return Heuristic{}.Estimate(v)
	}
	ids, _, err := c.Encode(string(b))
	if err != nil {
		return Heuristic{}.Estimate(v)
	}
	return float64(len(ids))
}

// Select returns the estimator named by a settings value. Unknown names get
// the heuristic.
func Select(name string) Estimator {
	if name == "tiktoken" {
		return Tiktoken{}
	}
	return Heuristic{}
}
