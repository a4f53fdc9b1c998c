package taxonomy

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoriesCanonicalOrder(t *testing.T) {
	want := []CategoryKey{
		ScreenshotDocument, People, FoodCafe, NatureLandscape,
		CityStreetTravel, PetsAnimals, ProductsObjects, Other,
	}
	assert.Equal(t, want, Categories())
	assert.Equal(t, []string{"스크린샷_문서", "사람", "음식_카페", "자연_풍경", "도시_여행", "동물", "사물", "기타"}, Labels())
}

func TestParseCategory(t *testing.T) {
	assert.Equal(t, People, ParseCategory("people"))
	assert.Equal(t, FoodCafe, ParseCategory(" Food_Cafe "))
	assert.Equal(t, Other, ParseCategory("spaceships"))
	assert.Equal(t, Other, ParseCategory(""))

	k, ok := FromLabel("동물")
	assert.True(t, ok)
	assert.Equal(t, PetsAnimals, k)
	_, ok = FromLabel("없음")
	assert.False(t, ok)
}

func TestNewScoresNormalizes(t *testing.T) {
	tests := []struct {
		name   string
		values []float32
	}{
		{"already normalized", []float32{0.5, 0.5, 0, 0, 0, 0, 0, 0}},
		{"scaled", []float32{2, 4, 6, 8, 0, 0, 0, 0}},
		{"negative and nan ignored", []float32{1, -3, float32(math.NaN()), 1, 0, 0, 0, 0}},
		{"short input", []float32{3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScores(tt.values)
			assert.InDelta(t, 1.0, float64(s.Sum()), 1e-5)
			for _, v := range s {
				assert.GreaterOrEqual(t, v, float32(0))
			}
		})
	}
}

func TestNewScoresZeroSum(t *testing.T) {
	s := NewScores(make([]float32, NumCategories))
	assert.Equal(t, float32(0), s.Sum())
}

func TestTopTiesGoFirst(t *testing.T) {
	s := NewScores([]float32{0, 1, 1, 0, 0, 0, 0, 0})
	k, v := s.Top()
	assert.Equal(t, People, k)
	assert.InDelta(t, 0.5, float64(v), 1e-6)

	uniform := NewScores([]float32{1, 1, 1, 1, 1, 1, 1, 1})
	k, _ = uniform.Top()
	assert.Equal(t, ScreenshotDocument, k)
}

func TestScoresFromMap(t *testing.T) {
	s := ScoresFromMap(map[string]float64{"pets_animals": 3, "other": 1, "bogus": 100})
	assert.InDelta(t, 0.75, float64(s.Get(PetsAnimals)), 1e-6)
	assert.InDelta(t, 0.25, float64(s.Get(Other)), 1e-6)
	k, _ := s.Top()
	assert.Equal(t, PetsAnimals, k)
}

func TestOneHot(t *testing.T) {
	s := OneHot(NatureLandscape)
	assert.Equal(t, float32(1), s.Get(NatureLandscape))
	assert.Equal(t, float32(1), s.Sum())
}

func TestScoresJSONRoundTrip(t *testing.T) {
	orig := NewScores([]float32{0.1, 0.2, 0.05, 0.05, 0.3, 0.1, 0.1, 0.1})

	data, err := json.Marshal(orig)
	require.NoError(t, err)

	var m map[string]float64
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Len(t, m, NumCategories)

	var back Scores
	require.NoError(t, json.Unmarshal(data, &back))
	for i := range orig {
		assert.InDelta(t, float64(orig[i]), float64(back[i]), 1e-6)
	}
}

func TestPromptBank(t *testing.T) {
	prompts, counts := CategoryPromptBatch()
	assert.Len(t, prompts, 24)
	assert.Equal(t, []int{3, 3, 3, 3, 3, 3, 3, 3}, counts)
	assert.Equal(t, "a screenshot of a document", prompts[0])
	assert.Equal(t, "something else", prompts[23])

	keep, drop := KeepPrompts(), DropPrompts()
	assert.Len(t, keep, 4)
	assert.Len(t, drop, 4)
	for _, k := range keep {
		assert.NotContains(t, drop, k)
	}

	p := PromptsFor(People)
	p[0] = "mutated"
	assert.Equal(t, "a photo of people", PromptsFor(People)[0])
}
