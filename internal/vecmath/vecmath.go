// Package vecmath holds the small float32 vector routines used for
// embedding comparison and score normalization.
package vecmath

import (
	"math"
	"sort"
)

// L2Normalize scales v to unit length in place. A zero vector is left as is.
func L2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}

// CosineSimilarity returns the cosine of the angle between a and b.
// Mismatched lengths, empty input or a zero-magnitude vector yield 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, aMag, bMag float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		aMag += float64(a[i]) * float64(a[i])
		bMag += float64(b[i]) * float64(b[i])
	}
	if aMag == 0 || bMag == 0 {
		return 0
	}

	c := dot / (math.Sqrt(aMag) * math.Sqrt(bMag))
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	return float32(c)
}

// Softmax returns exp(x_i - max) / sum. Empty input yields nil.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	maxv := logits[0]
	for _, x := range logits[1:] {
		if x > maxv {
			maxv = x
		}
	}

	out := make([]float32, len(logits))
	var sum float64
	exps := make([]float64, len(logits))
	for i, x := range logits {
		exps[i] = math.Exp(float64(x - maxv))
		sum += exps[i]
	}
	for i := range exps {
		out[i] = float32(exps[i] / sum)
	}
	return out
}

// Mean averages the rows of a flattened [n, dim] matrix.
func Mean(rows []float32, dim int) []float32 {
	if dim <= 0 || len(rows) < dim {
		return make([]float32, max(dim, 0))
	}
	n := len(rows) / dim
	acc := make([]float64, dim)
	for r := 0; r < n; r++ {
		row := rows[r*dim : (r+1)*dim]
		for i, x := range row {
			acc[i] += float64(x)
		}
	}
	out := make([]float32, dim)
	for i := range acc {
		out[i] = float32(acc[i] / float64(n))
	}
	return out
}

// Match is one ranked corpus entry.
type Match struct {
	Index      int
	Similarity float32
}

// TopK ranks corpus by cosine similarity to query, highest first.
// Entries of the wrong dimension are skipped. k <= 0 returns every match.
func TopK(query []float32, corpus [][]float32, k int) []Match {
	results := make([]Match, 0, len(corpus))
	for i, vec := range corpus {
		if len(vec) != len(query) || len(vec) == 0 {
			continue
		}
		results = append(results, Match{Index: i, Similarity: CosineSimilarity(query, vec)})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results
}
