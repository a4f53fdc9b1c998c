package vecmath

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestL2Normalize(t *testing.T) {
	v := []float32{3, 4}
	L2Normalize(v)
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	zero := []float32{0, 0, 0}
	L2Normalize(zero)
	assert.Equal(t, []float32{0, 0, 0}, zero)
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{-2, 0.5, 4}

	assert.InDelta(t, 1.0, float64(CosineSimilarity(a, a)), 1e-6)
	assert.Equal(t, CosineSimilarity(a, b), CosineSimilarity(b, a))
	assert.InDelta(t, 0.0, float64(CosineSimilarity([]float32{1, 0}, []float32{0, 1})), 1e-6)
	assert.InDelta(t, -1.0, float64(CosineSimilarity([]float32{1, 1}, []float32{-1, -1})), 1e-6)

	assert.Equal(t, float32(0), CosineSimilarity(a, []float32{1, 2}))
	assert.Equal(t, float32(0), CosineSimilarity(nil, nil))
	assert.Equal(t, float32(0), CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}

func TestSoftmax(t *testing.T) {
	equal := Softmax([]float32{2, 2, 2, 2, 2, 2, 2, 2})
	for _, p := range equal {
		assert.InDelta(t, 0.125, float64(p), 1e-6)
	}

	logits := []float32{0.1, 0.7, -0.3}
	shifted := []float32{100.1, 100.7, 99.7}
	p, q := Softmax(logits), Softmax(shifted)
	var sum float32
	for i := range p {
		assert.InDelta(t, float64(p[i]), float64(q[i]), 1e-5)
		sum += p[i]
	}
	assert.InDelta(t, 1.0, float64(sum), 1e-6)

	big := Softmax([]float32{1000, 0})
	assert.False(t, math.IsNaN(float64(big[0])))
	assert.InDelta(t, 1.0, float64(big[0]), 1e-6)

	assert.Nil(t, Softmax(nil))
}

func TestMean(t *testing.T) {
	rows := []float32{
		1, 2,
		3, 4,
		5, 6,
	}
	assert.Equal(t, []float32{3, 4}, Mean(rows, 2))
	assert.Equal(t, []float32{0, 0}, Mean(nil, 2))
}

func TestTopK(t *testing.T) {
	query := []float32{1, 0}
	corpus := [][]float32{
		{0, 1},
		{1, 0.1},
		{1, 2, 3},
		{-1, 0},
		{1, 0},
	}
	got := TopK(query, corpus, 2)
	assert.Len(t, got, 2)
	assert.Equal(t, 4, got[0].Index)
	assert.Equal(t, 1, got[1].Index)

	all := TopK(query, corpus, 0)
	assert.Len(t, all, 4)
	assert.Equal(t, 3, all[3].Index)
}
