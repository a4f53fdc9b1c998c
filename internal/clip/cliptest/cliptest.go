// Package cliptest provides an in-memory CLIP runtime for tests of packages
// that build engines.
package cliptest

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"photosort/internal/clip"
	"photosort/internal/taxonomy"
)

// Dim is the embedding width of the fake model.
const Dim = 16

const (
	keepIndex = taxonomy.NumCategories
	dropIndex = taxonomy.NumCategories + 1
)

// Runtime embeds text prompts of category k to the unit vector e_k, keep
// prompts to e_8 and drop prompts to e_9. Every image embeds to
// e_Category + Keep*e_8 + Drop*e_9.
type Runtime struct {
	Category int
	Keep     float32
	Drop     float32
	// RunErr fails every image inference when set.
	RunErr error

	mu     sync.Mutex
	opened int
	closed int
}

// NewRuntime returns a runtime whose images land in category k.
func NewRuntime(k taxonomy.CategoryKey) *Runtime {
	return &Runtime{Category: k.Index()}
}

func (r *Runtime) Supported(clip.Backend) bool { return true }

func (r *Runtime) Available(clip.Backend) bool { return true }

func (r *Runtime) Inspect(string) (clip.ModelInfo, error) {
	return clip.ModelInfo{
		Inputs:  []string{"input_ids", "attention_mask", "pixel_values"},
		Outputs: []string{"text_embeds", "image_embeds"},
	}, nil
}

func (r *Runtime) Open(_ string, opts clip.SessionOptions) (clip.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened++
	return &session{rt: r}, nil
}

// Sessions returns how many sessions were opened and closed.
func (r *Runtime) Sessions() (opened, closed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opened, r.closed
}

type session struct {
	rt *Runtime
}

func (s *session) Run(inputs []clip.Input, output string) ([]float32, error) {
	var ids clip.Input
	for _, in := range inputs {
		if in.Name == "input_ids" {
			ids = in
		}
	}
	if len(ids.Shape) != 2 {
		return nil, errors.New("missing input_ids")
	}

	if output == "text_embeds" {
		rows := int(ids.Shape[0])
		out := make([]float32, rows*Dim)
		for row := 0; row < rows; row++ {
			out[row*Dim+promptIndex(ids.Int64[row*clip.ContextLength])] = 1
		}
		return out, nil
	}

	if s.rt.RunErr != nil {
		return nil, s.rt.RunErr
	}
	out := make([]float32, Dim)
	out[s.rt.Category] = 1
	out[keepIndex] = s.rt.Keep
	out[dropIndex] = s.rt.Drop
	return out, nil
}

func (s *session) Close() error {
	s.rt.mu.Lock()
	s.rt.closed++
	s.rt.mu.Unlock()
	return nil
}

func promptIndex(first int64) int {
	switch {
	case first >= 1000 && first < 1000+taxonomy.NumCategories:
		return int(first - 1000)
	case first == 2000:
		return keepIndex
	case first == 2001:
		return dropIndex
	}
	return Dim - 1
}

// Tokenizer encodes each prompt of the bank to a recognizable first id.
type Tokenizer struct{}

func (Tokenizer) Encode(text string) ([]int64, []int64, error) {
	if text == "" {
		return []int64{49406, 49407}, []int64{1, 1}, nil
	}
	for i, k := range taxonomy.Categories() {
		for _, p := range taxonomy.PromptsFor(k) {
			if p == text {
				return []int64{int64(1000 + i)}, []int64{1}, nil
			}
		}
	}
	for _, p := range taxonomy.KeepPrompts() {
		if p == text {
			return []int64{2000}, []int64{1}, nil
		}
	}
	for _, p := range taxonomy.DropPrompts() {
		if p == text {
			return []int64{2001}, []int64{1}, nil
		}
	}
	return []int64{3000}, []int64{1}, nil
}

func (Tokenizer) TokenID(token string) (int64, bool) {
	return 49407, token == clip.PadToken
}

// ModelDir lays out a model directory holding tokenizer.json and an empty
// onnx/model_q4f16.onnx.
func ModelDir(t testing.TB) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "models", clip.ModelID)
	if err := os.MkdirAll(filepath.Join(dir, "onnx"), 0755); err != nil {
		t.Fatal(err)
	}
	for _, f := range []string{"tokenizer.json", "onnx/model_q4f16.onnx"} {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// Deps wires rt and the fake tokenizer into engine dependencies.
func Deps(rt *Runtime) clip.Deps {
	return clip.Deps{
		Runtime: rt,
		LoadTokenizer: func(string) (clip.Tokenizer, error) {
			return Tokenizer{}, nil
		},
		WorkDir: os.TempDir(),
	}
}
