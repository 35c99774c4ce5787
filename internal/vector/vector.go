package vector

import (
	"encoding/json"
	"errors"
	"fmt"
)

// #region sizes
const (
	SurveyLen  = 50
	FeatureLen = 4
	WeightLen  = SurveyLen + FeatureLen

	MinResponse = 1
	MaxResponse = 5
)

// #endregion sizes

// #region errors
// ShapeError reports an input vector whose length differs from its fixed size.
type ShapeError struct {
	Field string
	Want  int
	Got   int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("shape: %s has length %d, want %d", e.Field, e.Got, e.Want)
}

// ErrOutOfScale is returned for a survey response outside [MinResponse, MaxResponse].
var ErrOutOfScale = errors.New("response out of scale")

// #endregion errors

// #region types
// Survey holds exactly SurveyLen responses.
type Survey [SurveyLen]int64

// Features holds exactly FeatureLen behavioural features.
type Features [FeatureLen]Fixed

// Weights holds SurveyLen survey weights followed by FeatureLen feature weights.
type Weights [WeightLen]Fixed

// #endregion types

// #region constructors
// NewSurvey validates length and scale.
func NewSurvey(vals []int64) (Survey, error) {
	var s Survey
	if len(vals) != SurveyLen {
		return s, &ShapeError{Field: "responses", Want: SurveyLen, Got: len(vals)}
	}
	for i, v := range vals {
		if v < MinResponse || v > MaxResponse {
			return s, fmt.Errorf("%w: responses[%d]=%d not in [%d,%d]", ErrOutOfScale, i, v, MinResponse, MaxResponse)
		}
		s[i] = v
	}
	return s, nil
}

// NewFeatures validates length.
func NewFeatures(vals []Fixed) (Features, error) {
	var f Features
	if len(vals) != FeatureLen {
		return f, &ShapeError{Field: "features", Want: FeatureLen, Got: len(vals)}
	}
	copy(f[:], vals)
	return f, nil
}

// NewWeights validates length.
func NewWeights(vals []Fixed) (Weights, error) {
	var w Weights
	if len(vals) != WeightLen {
		return w, &ShapeError{Field: "weights", Want: WeightLen, Got: len(vals)}
	}
	copy(w[:], vals)
	return w, nil
}

// Fill returns a slice of n copies of v, handy for uniform weights.
func Fill[T any](n int, v T) []T {
	out := make([]T, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// #endregion constructors

// #region json
// Arrays decode through slices so a wrong-length payload is rejected
// instead of being truncated or zero-filled.

func (s *Survey) UnmarshalJSON(b []byte) error {
	var vals []int64
	if err := json.Unmarshal(b, &vals); err != nil {
		return fmt.Errorf("decode responses: %w", err)
	}
	v, err := NewSurvey(vals)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (f *Features) UnmarshalJSON(b []byte) error {
	var vals []Fixed
	if err := json.Unmarshal(b, &vals); err != nil {
		return fmt.Errorf("decode features: %w", err)
	}
	v, err := NewFeatures(vals)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

func (w *Weights) UnmarshalJSON(b []byte) error {
	var vals []Fixed
	if err := json.Unmarshal(b, &vals); err != nil {
		return fmt.Errorf("decode weights: %w", err)
	}
	v, err := NewWeights(vals)
	if err != nil {
		return err
	}
	*w = v
	return nil
}

// #endregion json
