package core

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"evalgrid/pkg/domain"
)

// DefaultMaxScore is used for display when no template is loaded.
const DefaultMaxScore = 5

// ParseScore normalizes raw cell input without an upper bound. Strings are
// trimmed and only the portion before the first "/" is parsed, so "3/5"
// re-entered from the display form yields 3. Empty or non-finite input is unset.
func ParseScore(raw any) domain.Score {
	v, ok := toFloat(raw)
	if !ok {
		return domain.Score{}
	}
	return domain.ScoreOf(v)
}

// ParseBoundedScore is ParseScore followed by clamping into [0, max].
func ParseBoundedScore(raw any, max float64) domain.Score {
	s := ParseScore(raw)
	if !s.Valid {
		return s
	}
	return domain.ScoreOf(Clamp(s.Value, max))
}

// Clamp limits v to [0, max].
func Clamp(v, max float64) float64 {
	return math.Max(0, math.Min(max, v))
}

// FormatScore renders a score cell as "value/max". Unset and zero both render
// as "/max".
func FormatScore(value any, max float64) string {
	suffix := "/" + formatNumber(max)
	v, ok := toFloat(value)
	if !ok || v == 0 {
		return suffix
	}
	return formatNumber(v) + suffix
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func toFloat(raw any) (float64, bool) {
	var v float64
	switch x := raw.(type) {
	case nil:
		return 0, false
	case domain.Score:
		if !x.Valid {
			return 0, false
		}
		v = x.Value
	case *domain.Score:
		if x == nil || !x.Valid {
			return 0, false
		}
		v = x.Value
	case string:
		return parseScoreText(x)
	case json.Number:
		return parseScoreText(x.String())
	case float64:
		v = x
	case float32:
		v = float64(x)
	case int:
		v = float64(x)
	case int8:
		v = float64(x)
	case int16:
		v = float64(x)
	case int32:
		v = float64(x)
	case int64:
		v = float64(x)
	case uint:
		v = float64(x)
	case uint8:
		v = float64(x)
	case uint16:
		v = float64(x)
	case uint32:
		v = float64(x)
	case uint64:
		v = float64(x)
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func parseScoreText(text string) (float64, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}
	portion, _, _ := strings.Cut(text, "/")
	portion = strings.TrimSpace(portion)
	if portion == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(portion, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
