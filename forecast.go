package pitchiq

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

const (
	maxScore        = 5
	probabilitySlop = 0.02
)

// MatchForecast is the reply schema requested by the prompt.
type MatchForecast struct {
	ScoreHome         int     `json:"score_home"`
	ScoreAway         int     `json:"score_away"`
	HomeWinProb       float64 `json:"home_win_prob"`
	DrawProb          float64 `json:"draw_prob"`
	AwayWinProb       float64 `json:"away_win_prob"`
	ShotsHome         int     `json:"shots_home"`
	ShotsAway         int     `json:"shots_away"`
	ShotsOnTargetHome int     `json:"shots_on_target_home"`
	ShotsOnTargetAway int     `json:"shots_on_target_away"`
	CornersHome       int     `json:"corners_home"`
	CornersAway       int     `json:"corners_away"`
	CardsHome         int     `json:"cards_home"`
	CardsAway         int     `json:"cards_away"`
	Explanation       string  `json:"explanation"`
}

// ValidateForecast checks raw JSON against the MatchForecast schema: every
// field present, scores integers in 0..5, counts non-negative and the three
// outcome probabilities summing to 1.
func ValidateForecast(raw []byte) (MatchForecast, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return MatchForecast{}, fmt.Errorf("not an object: %w", err)
	}
	for _, k := range ForecastFields {
		v, ok := fields[k]
		if !ok || bytes.Equal(v, []byte("null")) {
			return MatchForecast{}, fmt.Errorf("missing field %q", k)
		}
	}

	var f MatchForecast
	if err := json.Unmarshal(raw, &f); err != nil {
		return MatchForecast{}, err
	}

	if f.ScoreHome < 0 || f.ScoreHome > maxScore || f.ScoreAway < 0 || f.ScoreAway > maxScore {
		return f, fmt.Errorf("score out of range: %d-%d", f.ScoreHome, f.ScoreAway)
	}
	counts := map[string]int{
		"shots_home":           f.ShotsHome,
		"shots_away":           f.ShotsAway,
		"shots_on_target_home": f.ShotsOnTargetHome,
		"shots_on_target_away": f.ShotsOnTargetAway,
		"corners_home":         f.CornersHome,
		"corners_away":         f.CornersAway,
		"cards_home":           f.CardsHome,
		"cards_away":           f.CardsAway,
	}
	for k, v := range counts {
		if v < 0 {
			return f, fmt.Errorf("negative %s: %d", k, v)
		}
	}
	for _, p := range []float64{f.HomeWinProb, f.DrawProb, f.AwayWinProb} {
		if p < 0 || p > 1 {
			return f, fmt.Errorf("probability out of range: %v", p)
		}
	}
	if sum := f.HomeWinProb + f.DrawProb + f.AwayWinProb; math.Abs(sum-1) > probabilitySlop {
		return f, fmt.Errorf("probabilities sum to %.3f", sum)
	}
	return f, nil
}
