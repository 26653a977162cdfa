package pitchiq

import "encoding/json"

// PredictionRequest asks for a forecast of a single match.
type PredictionRequest struct {
	UserID   string `json:"user_id"`
	HomeTeam string `json:"homeTeam"`
	AwayTeam string `json:"awayTeam"`
}

// PredictionResult is the model's parsed JSON reply.
//
// Raw holds the cleaned reply exactly as the model produced it; it is
// guaranteed to be valid JSON and is returned to callers unmodified.
type PredictionResult struct {
	Raw   json.RawMessage
	Model string
	Usage Usage
	// VIP reports whether the prediction was served outside the free quota.
	VIP bool
}

// Forecast decodes the reply into the expected schema without validating it.
func (r PredictionResult) Forecast() (MatchForecast, error) {
	var f MatchForecast
	err := json.Unmarshal(r.Raw, &f)
	return f, err
}

// Usage represents token usage information reported by the provider.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}
