package taxonomy

import (
	"encoding/json"
	"math"
)

// Scores holds one probability per category, in canonical order.
// Constructors always normalize so the values sum to 1.
type Scores [NumCategories]float32

func clean(v float32) float32 {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return v
}

// NewScores normalizes values given in canonical order. Missing trailing
// values count as 0. A non-positive sum leaves values unscaled.
func NewScores(values []float32) Scores {
	var s Scores
	var sum float64
	for i := 0; i < NumCategories && i < len(values); i++ {
		s[i] = clean(values[i])
		sum += float64(s[i])
	}
	if sum <= 0 {
		sum = 1
	}
	for i := range s {
		s[i] = float32(float64(s[i]) / sum)
	}
	return s
}

// ScoresFromMap builds normalized scores from a key->value map. Unknown
// keys are ignored.
func ScoresFromMap(m map[string]float64) Scores {
	values := make([]float32, NumCategories)
	for k, v := range m {
		if i := CategoryKey(k).Index(); i >= 0 {
			values[i] = float32(v)
		}
	}
	return NewScores(values)
}

// OneHot returns scores with all mass on k.
func OneHot(k CategoryKey) Scores {
	var s Scores
	if i := k.Index(); i >= 0 {
		s[i] = 1
	} else {
		s[Other.Index()] = 1
	}
	return s
}

// Get returns the score for k.
func (s Scores) Get(k CategoryKey) float32 {
	if i := k.Index(); i >= 0 {
		return s[i]
	}
	return 0
}

// Top returns the highest scoring category. Ties go to the first in
// canonical order.
func (s Scores) Top() (CategoryKey, float32) {
	best := 0
	for i := 1; i < NumCategories; i++ {
		if s[i] > s[best] {
			best = i
		}
	}
	return ordered[best], s[best]
}

// Sum returns the total mass.
func (s Scores) Sum() float32 {
	var total float32
	for _, v := range s {
		total += v
	}
	return total
}

// Map returns the key->value storage form.
func (s Scores) Map() map[string]float64 {
	m := make(map[string]float64, NumCategories)
	for i, k := range ordered {
		m[string(k)] = float64(s[i])
	}
	return m
}

// MarshalJSON encodes scores as a key->value object.
func (s Scores) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Map())
}

// UnmarshalJSON decodes a key->value object and normalizes it.
func (s *Scores) UnmarshalJSON(data []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*s = ScoresFromMap(m)
	return nil
}
