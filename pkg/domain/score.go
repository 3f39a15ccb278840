package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Score is an optional numeric score. The zero value is unset.
type Score struct {
	Value float64
	Valid bool
}

// ScoreOf returns a set score holding v.
func ScoreOf(v float64) Score {
	return Score{Value: v, Valid: true}
}

// Unset returns the unset score.
func Unset() Score { return Score{} }

// IsSet reports whether the score carries a value.
func (s Score) IsSet() bool { return s.Valid }

// Float returns the value, treating unset as zero.
func (s Score) Float() float64 {
	if !s.Valid {
		return 0
	}
	return s.Value
}

func (s Score) String() string {
	if !s.Valid {
		return ""
	}
	return strconv.FormatFloat(s.Value, 'f', -1, 64)
}

// MarshalJSON encodes unset scores as null.
func (s Score) MarshalJSON() ([]byte, error) {
	if !s.Valid {
		return []byte("null"), nil
	}
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return nil, fmt.Errorf("score %v is not finite", s.Value)
	}
	return json.Marshal(s.Value)
}

// UnmarshalJSON accepts a number or null.
func (s *Score) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = Score{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decode score: %w", err)
	}
	*s = ScoreOf(v)
	return nil
}
