package pitchiq

import "fmt"

// ForecastFields lists the keys the model is asked to return, in prompt order.
var ForecastFields = []string{
	"score_home", "score_away",
	"home_win_prob", "draw_prob", "away_win_prob",
	"shots_home", "shots_away",
	"shots_on_target_home", "shots_on_target_away",
	"corners_home", "corners_away",
	"cards_home", "cards_away",
	"explanation",
}

const promptTemplate = `
Return ONLY valid JSON with keys:
score_home, score_away,
home_win_prob, draw_prob, away_win_prob,
shots_home, shots_away,
shots_on_target_home, shots_on_target_away,
corners_home, corners_away,
cards_home, cards_away,
explanation.

Match:
Home: %s
Away: %s

Rules:
- probabilities sum to 1
- scores are integers 0–5
- explanation under 60 words
`

// BuildPrompt returns the prompt for a match. The output depends only on
// the two team names.
func BuildPrompt(homeTeam, awayTeam string) string {
	return fmt.Sprintf(promptTemplate, homeTeam, awayTeam)
}
