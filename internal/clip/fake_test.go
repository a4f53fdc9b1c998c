package clip

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"photosort/internal/taxonomy"
)

const fakeDim = 16

// fakeRuntime produces embeddings that make the expected answer easy to
// construct: text prompts of category k embed to e_k, keep prompts to e_8,
// drop prompts to e_9. An image embeds to e_{pixels[0]} + pixels[1]*e_8 +
// pixels[2]*e_9.
type fakeRuntime struct {
	mu          sync.Mutex
	unsupported map[Backend]bool
	unavailable map[Backend]bool
	info        ModelInfo
	openFail    func(opts SessionOptions) error
	runFail     func(backends []Backend, output string) error
	runDelay    time.Duration
	opens       []SessionOptions
	sessions    []*fakeSession

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		info: ModelInfo{
			Inputs:  []string{"input_ids", "attention_mask", "pixel_values"},
			Outputs: []string{"logits_per_image", "text_embeds", "image_embeds"},
		},
	}
}

func (r *fakeRuntime) Supported(b Backend) bool { return !r.unsupported[b] }
func (r *fakeRuntime) Available(b Backend) bool { return !r.unavailable[b] }

func (r *fakeRuntime) Inspect(string) (ModelInfo, error) { return r.info, nil }

func (r *fakeRuntime) Open(_ string, opts SessionOptions) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opens = append(r.opens, opts)
	if r.openFail != nil {
		if err := r.openFail(opts); err != nil {
			return nil, err
		}
	}
	s := &fakeSession{rt: r, opts: opts}
	r.sessions = append(r.sessions, s)
	return s, nil
}

func (r *fakeRuntime) openCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.opens)
}

func (r *fakeRuntime) closedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.closed.Load() {
			n++
		}
	}
	return n
}

type fakeSession struct {
	rt       *fakeRuntime
	opts     SessionOptions
	closed   atomic.Bool
	inflight atomic.Int32
	overlap  atomic.Bool
}

func contains(backends []Backend, b Backend) bool {
	for _, x := range backends {
		if x == b {
			return true
		}
	}
	return false
}

func (s *fakeSession) Run(inputs []Input, output string) ([]float32, error) {
	if s.closed.Load() {
		return nil, errors.New("session closed")
	}
	if s.inflight.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.inflight.Add(-1)

	n := s.rt.inflight.Add(1)
	defer s.rt.inflight.Add(-1)
	for {
		m := s.rt.maxInflight.Load()
		if n <= m || s.rt.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	if s.rt.runDelay > 0 {
		time.Sleep(s.rt.runDelay)
	}

	allowed := false
	for _, o := range s.opts.Outputs {
		allowed = allowed || o == output
	}
	if !allowed {
		return nil, fmt.Errorf("output %q not opened", output)
	}
	if s.rt.runFail != nil {
		if err := s.rt.runFail(s.opts.Backends, output); err != nil {
			return nil, err
		}
	}

	byName := map[string]Input{}
	for _, in := range inputs {
		byName[in.Name] = in
	}
	ids := byName[s.opts.Inputs[0]]
	pixels := byName[s.opts.Inputs[2]]
	if len(ids.Shape) != 2 || ids.Shape[1] != ContextLength || len(ids.Int64) != int(ids.Shape[0])*ContextLength {
		return nil, fmt.Errorf("bad ids shape %v", ids.Shape)
	}
	if pixels.Shape[0] != ids.Shape[0] || len(pixels.Float32) != int(pixels.Shape[0])*pixelLength {
		return nil, fmt.Errorf("pixel batch %v does not match ids %v", pixels.Shape, ids.Shape)
	}

	if output == "text_embeds" {
		rows := int(ids.Shape[0])
		out := make([]float32, rows*fakeDim)
		for r := 0; r < rows; r++ {
			first := ids.Int64[r*ContextLength]
			idx := 15
			switch {
			case first >= 1000 && first < 1000+taxonomy.NumCategories:
				idx = int(first - 1000)
			case first == 2000:
				idx = 8
			case first == 2001:
				idx = 9
			}
			out[r*fakeDim+idx] = 1
		}
		return out, nil
	}

	out := make([]float32, fakeDim)
	k := int(pixels.Float32[0])
	if k < 0 || k >= taxonomy.NumCategories {
		k = 0
	}
	out[k] = 1
	out[8] = pixels.Float32[1]
	out[9] = pixels.Float32[2]
	return out, nil
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeTokenizer struct {
	noPad bool
}

func (t *fakeTokenizer) promptID(text string) int64 {
	for i, k := range taxonomy.Categories() {
		for _, p := range taxonomy.PromptsFor(k) {
			if p == text {
				return int64(1000 + i)
			}
		}
	}
	for _, p := range taxonomy.KeepPrompts() {
		if p == text {
			return 2000
		}
	}
	for _, p := range taxonomy.DropPrompts() {
		if p == text {
			return 2001
		}
	}
	return 3000
}

func (t *fakeTokenizer) Encode(text string) ([]int64, []int64, error) {
	if text == "" {
		return []int64{49406, 49407}, []int64{1, 1}, nil
	}
	return []int64{t.promptID(text), 5, 6}, []int64{1, 1, 1}, nil
}

func (t *fakeTokenizer) TokenID(token string) (int64, bool) {
	if token == PadToken && !t.noPad {
		return 49407, true
	}
	return 0, false
}

// modelDir lays out a model directory with an empty model file.
func modelDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "models", ModelID)
	if err := os.MkdirAll(filepath.Join(dir, "onnx"), 0755); err != nil {
		t.Fatal(err)
	}
	for _, f := range []string{"tokenizer.json", "onnx/model_q4f16.onnx", "onnx/model.onnx"} {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func testDeps(rt *fakeRuntime) Deps {
	return Deps{
		Runtime: rt,
		LoadTokenizer: func(string) (Tokenizer, error) {
			return &fakeTokenizer{}, nil
		},
		WorkDir: os.TempDir(),
	}
}

func testOptions(dir string) Options {
	return Options{
		ModelDir:      dir,
		ModelFile:     "onnx/model_q4f16.onnx",
		PoolSize:      1,
		IntraThreads:  1,
		AllowFallback: true,
	}
}

// pixelsFor builds an image tensor that embeds to category k plus the
// given keep/drop components.
func pixelsFor(k int, keep, drop float32) []float32 {
	p := make([]float32, pixelLength)
	p[0] = float32(k)
	p[1] = keep
	p[2] = drop
	return p
}
