package classifier

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photosort/internal/clip"
	"photosort/internal/clip/cliptest"
	"photosort/internal/config"
	"photosort/internal/imaging"
	"photosort/internal/ollama"
	"photosort/internal/taxonomy"
)

func writePNG(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 6), uint8(y * 8), 90, 255})
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func TestDeriveThreads(t *testing.T) {
	tests := []struct {
		concurrency, cores int
		pool, intra        int
	}{
		{4, 8, 4, 2},
		{3, 8, 3, 3},
		{16, 8, 8, 1},
		{0, 8, 1, 8},
		{2, 0, 1, 1},
	}
	for _, tt := range tests {
		pool, intra := DeriveThreads(tt.concurrency, tt.cores)
		assert.Equal(t, tt.pool, pool, "pool for %d/%d", tt.concurrency, tt.cores)
		assert.Equal(t, tt.intra, intra, "intra for %d/%d", tt.concurrency, tt.cores)
	}
}

func TestLocalClassify(t *testing.T) {
	rt := cliptest.NewRuntime(taxonomy.PetsAnimals)
	rt.Keep = 1
	reg := clip.NewRegistry(cliptest.Deps(rt))
	defer reg.Close()

	local := NewLocal(reg, clip.Options{
		ModelDir:    cliptest.ModelDir(t),
		ModelFile:   "onnx/model_q4f16.onnx",
		PoolSize:    1,
		EnableValue: true,
	})
	assert.Equal(t, TransportFile, local.Transport())
	assert.False(t, local.Streaming())

	path := writePNG(t, t.TempDir(), "cat.png")
	out, err := local.Classify(context.Background(), Request{Path: path, FileName: "cat.png"})
	require.NoError(t, err)

	assert.Equal(t, clip.ModelID, out.Model)
	assert.Equal(t, taxonomy.PetsAnimals, out.Category)
	assert.Equal(t, []string{taxonomy.PetsAnimals.Label()}, out.Tags)
	assert.Empty(t, out.Caption)
	require.NotNil(t, out.Valuable)
	assert.True(t, *out.Valuable)
	require.NotNil(t, out.ValueScore)
	assert.Greater(t, *out.ValueScore, float32(0.5))
	assert.Len(t, out.Embedding, cliptest.Dim)
	assert.Len(t, out.Fingerprint, 16)
	assert.Contains(t, out.Log, "vision_infer_ms: ")
}

func TestLocalClassifyWithoutValue(t *testing.T) {
	rt := cliptest.NewRuntime(taxonomy.People)
	reg := clip.NewRegistry(cliptest.Deps(rt))
	defer reg.Close()

	local := NewLocal(reg, clip.Options{ModelDir: cliptest.ModelDir(t), ModelFile: "onnx/model_q4f16.onnx"})
	out, err := local.Classify(context.Background(), Request{Path: writePNG(t, t.TempDir(), "a.png")})
	require.NoError(t, err)
	assert.Nil(t, out.Valuable)
	assert.Nil(t, out.ValueScore)
	assert.Contains(t, out.Log, "value_keep_prob: disabled")
}

func TestLocalClassifyMissingFile(t *testing.T) {
	reg := clip.NewRegistry(cliptest.Deps(cliptest.NewRuntime(taxonomy.Other)))
	defer reg.Close()

	local := NewLocal(reg, clip.Options{ModelDir: cliptest.ModelDir(t), ModelFile: "onnx/model_q4f16.onnx"})
	_, err := local.Classify(context.Background(), Request{Path: filepath.Join(t.TempDir(), "gone.jpg")})
	require.Error(t, err)
}

type fakeChat struct {
	analysis *ollama.Analysis
	err      error
	deltas   []string
	streamed bool
}

func (f *fakeChat) Model() string { return "llava:test" }

func (f *fakeChat) Classify(context.Context, string) (*ollama.Analysis, error) {
	return f.analysis, f.err
}

func (f *fakeChat) ClassifyStream(_ context.Context, _ string, onDelta func(string)) (*ollama.Analysis, error) {
	f.streamed = true
	for _, d := range f.deltas {
		onDelta(d)
	}
	return f.analysis, f.err
}

func testAnalysis() *ollama.Analysis {
	return &ollama.Analysis{
		Category: taxonomy.FoodCafe,
		Scores:   taxonomy.OneHot(taxonomy.FoodCafe),
		Tags:     []string{"커피"},
		Caption:  "커피 한 잔",
		Log:      "message.content:\n{}",
	}
}

func TestRemoteRequiresPayload(t *testing.T) {
	r := NewRemote(&fakeChat{analysis: testAnalysis()}, false)
	_, err := r.Classify(context.Background(), Request{Path: "x.jpg"})
	require.ErrorIs(t, err, ErrMissingPayload)
	assert.EqualError(t, err, "missing encoded payload")
}

func TestRemoteClassify(t *testing.T) {
	chat := &fakeChat{analysis: testAnalysis()}
	r := NewRemote(chat, false)
	assert.Equal(t, TransportEncoded, r.Transport())

	var chunks []StreamChunk
	out, err := r.Classify(context.Background(), Request{
		FileName: "x.jpg",
		Payload:  &imaging.Encoded{Base64: "eA==", Fingerprint: "00ff00ff00ff00ff"},
		Sink:     func(c StreamChunk) { chunks = append(chunks, c) },
	})
	require.NoError(t, err)
	assert.False(t, chat.streamed)
	assert.Empty(t, chunks)
	assert.Equal(t, "llava:test", out.Model)
	assert.Equal(t, taxonomy.FoodCafe, out.Category)
	assert.Equal(t, "커피 한 잔", out.Caption)
	assert.Equal(t, "00ff00ff00ff00ff", out.Fingerprint)
	assert.Nil(t, out.Valuable)
}

func TestRemoteStreamPublishesChunks(t *testing.T) {
	chat := &fakeChat{analysis: testAnalysis(), deltas: []string{`{"category":`, `"food_cafe"}`}}
	r := NewRemote(chat, true)
	assert.True(t, r.Streaming())

	var chunks []StreamChunk
	_, err := r.Classify(context.Background(), Request{
		JobID:    "job-1",
		FileName: "x.jpg",
		Payload:  &imaging.Encoded{Base64: "eA=="},
		Sink:     func(c StreamChunk) { chunks = append(chunks, c) },
	})
	require.NoError(t, err)

	require.Len(t, chunks, 4)
	assert.True(t, chunks[0].Reset)
	assert.Equal(t, `{"category":`, chunks[1].Delta)
	assert.Equal(t, `"food_cafe"}`, chunks[2].Delta)
	assert.True(t, chunks[3].Done)
	for _, c := range chunks {
		assert.Equal(t, "job-1", c.JobID)
		assert.Equal(t, "x.jpg", c.FileName)
	}
}

func TestRemoteStreamFailureHasNoDone(t *testing.T) {
	chat := &fakeChat{err: errors.New("boom")}
	r := NewRemote(chat, true)

	var chunks []StreamChunk
	_, err := r.Classify(context.Background(), Request{
		Payload: &imaging.Encoded{Base64: "eA=="},
		Sink:    func(c StreamChunk) { chunks = append(chunks, c) },
	})
	require.Error(t, err)
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].Reset)
}

func TestBuild(t *testing.T) {
	reg := clip.NewRegistry(cliptest.Deps(cliptest.NewRuntime(taxonomy.Other)))
	defer reg.Close()

	cfg := config.DefaultConfig()
	cfg.Analysis.Concurrency = 2
	cfg.Analysis.ValueEnabled = true

	set, err := Build(cfg, Deps{Registry: reg, Cores: 8})
	require.NoError(t, err)
	local, ok := set.Primary.(*Local)
	require.True(t, ok)
	assert.Nil(t, set.Fallback)
	assert.Equal(t, 2, local.Options().PoolSize)
	assert.Equal(t, 4, local.Options().IntraThreads)
	assert.True(t, local.Options().EnableValue)

	cfg.Clip.FallbackToOllama = true
	cfg.Ollama.Stream = true
	set, err = Build(cfg, Deps{Registry: reg, Cores: 8})
	require.NoError(t, err)
	require.NotNil(t, set.Fallback)
	assert.Equal(t, "ollama", set.Fallback.Name())
	assert.False(t, set.Fallback.Streaming())

	cfg.Analysis.Engine = config.EngineOllama
	set, err = Build(cfg, Deps{})
	require.NoError(t, err)
	assert.Equal(t, "ollama", set.Primary.Name())
	assert.True(t, set.Primary.Streaming())
	assert.Nil(t, set.Fallback)

	cfg.Analysis.Engine = "tpu"
	_, err = Build(cfg, Deps{})
	require.Error(t, err)
}

func TestBuildClipNeedsRegistry(t *testing.T) {
	_, err := Build(config.DefaultConfig(), Deps{})
	require.Error(t, err)
}
