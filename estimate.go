package pitchiq

import (
	"github.com/tiktoken-go/tokenizer"
)

// EstimateTokens estimates the prompt size in tokens for the given model.
// Models unknown to the tokenizer are counted with o200k_base; if no codec
// can be loaded it falls back to ~4 chars per token.
func EstimateTokens(model, prompt string) int64 {
	codec, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		codec, err = tokenizer.Get(tokenizer.O200kBase)
	}
	if err == nil {
		if ids, _, err := codec.Encode(prompt); err == nil {
			return int64(len(ids))
		}
	}
	// ~4 chars per token plus request overhead
	return int64(len(prompt))/4 + 3
}
