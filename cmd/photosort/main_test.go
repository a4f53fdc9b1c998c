package main

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photosort/internal/clip"
	"photosort/internal/clip/cliptest"
	"photosort/internal/config"
	"photosort/internal/taxonomy"
)

// env is a scratch config, database and fake engine for one test.
type env struct {
	dir        string
	configPath string
}

func newEnv(t *testing.T, rt *cliptest.Runtime) *env {
	t.Helper()
	dir := t.TempDir()
	e := &env{dir: dir, configPath: filepath.Join(dir, "config.yaml")}

	c := config.DefaultConfig()
	c.Analysis.Concurrency = 2
	c.Clip.ModelDir = cliptest.ModelDir(t)
	c.Storage.Driver = config.DriverModernc
	c.Storage.Path = filepath.Join(dir, "images.db")
	c.Logging.Level = "error"
	require.NoError(t, c.Save(e.configPath))

	orig := clipDeps
	clipDeps = func(*config.Config) clip.Deps { return cliptest.Deps(rt) }
	t.Cleanup(func() { clipDeps = orig })
	for _, k := range []string{"OLLAMA_HOST", "PHOTOSORT_OLLAMA_URL", "PHOTOSORT_ENGINE", "PHOTOSORT_DB", "PHOTOSORT_CLIP_MODEL_DIR"} {
		t.Setenv(k, "")
	}
	return e
}

// run executes the root command with fresh flag state.
func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, verbose, cfg = "", false, nil
	flagEngine, flagConcurrency, flagValue, flagStream = "", 0, false, false
	flagLimit, flagMode, flagExportRoot, flagK, flagDistance, flagYes = 50, "avg_score", "", 10, 4, false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func writePNG(t *testing.T, path string, c color.Color) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestSettingsSetShowPath(t *testing.T) {
	e := newEnv(t, cliptest.NewRuntime(taxonomy.Other))

	out, err := e.run(t, "settings", "path")
	require.NoError(t, err)
	assert.Equal(t, e.configPath, strings.TrimSpace(out))

	_, err = e.run(t, "settings", "set", "analysis.engine=ollama", "ollama.model=llava:13b", "analysis.concurrency=1", "ollama.stream=true")
	require.NoError(t, err)

	out, err = e.run(t, "settings", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "engine: ollama")
	assert.Contains(t, out, "model: llava:13b")
	assert.Contains(t, out, "stream: true")

	loaded, err := config.Load(e.configPath)
	require.NoError(t, err)
	assert.Equal(t, config.EngineOllama, loaded.Analysis.Engine)
}

func TestSettingsSetRejectsBadInput(t *testing.T) {
	e := newEnv(t, cliptest.NewRuntime(taxonomy.Other))

	_, err := e.run(t, "settings", "set", "analysis.nope=1")
	assert.Error(t, err)
	_, err = e.run(t, "settings", "set", "analysis.engine")
	assert.Error(t, err)
	_, err = e.run(t, "settings", "set", "analysis.engine=gpt")
	assert.Error(t, err)
}

func TestClassifyAndResults(t *testing.T) {
	e := newEnv(t, cliptest.NewRuntime(taxonomy.PetsAnimals))
	source := filepath.Join(e.dir, "src")
	export := filepath.Join(e.dir, "out")
	writePNG(t, filepath.Join(source, "cat.png"), color.RGBA{200, 100, 50, 255})
	writePNG(t, filepath.Join(source, "nested", "dog.png"), color.RGBA{200, 100, 50, 255})
	require.NoError(t, os.WriteFile(filepath.Join(source, "notes.txt"), []byte("x"), 0644))

	out, err := e.run(t, "classify", source, export)
	require.NoError(t, err, out)
	assert.Contains(t, out, "completed processed=2/2 errors=0")

	label := taxonomy.PetsAnimals.Label()
	for _, name := range []string{"cat.png", "dog.png"} {
		_, err := os.Stat(filepath.Join(export, label, name))
		assert.NoError(t, err, name)
	}

	out, err = e.run(t, "results", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "2 results")
	assert.Contains(t, out, "cat.png")
	assert.Contains(t, out, label)

	out, err = e.run(t, "results", "distribution", "--mode", "count_ratio")
	require.NoError(t, err)
	assert.Contains(t, out, label)
	assert.Contains(t, out, "1.0000")

	out, err = e.run(t, "results", "distribution", "--export-root", export)
	require.NoError(t, err)
	assert.Contains(t, out, "folders: "+export)
	assert.Contains(t, out, "1.0000")

	out, err = e.run(t, "results", "duplicates")
	require.NoError(t, err)
	assert.Contains(t, out, "group 1", "identical images share a fingerprint")

	_, err = e.run(t, "results", "clear")
	assert.Error(t, err, "clear needs --yes")

	out, err = e.run(t, "results", "clear", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "2 results")

	out, err = e.run(t, "results", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No results.")
}

func TestClassifyMissingSourceFails(t *testing.T) {
	e := newEnv(t, cliptest.NewRuntime(taxonomy.Other))
	out, err := e.run(t, "classify", filepath.Join(e.dir, "missing"), filepath.Join(e.dir, "out"))
	require.Error(t, err)
	assert.Contains(t, out, "error processed=0/0 errors=1")
}

func TestResultsShowAndSimilar(t *testing.T) {
	e := newEnv(t, cliptest.NewRuntime(taxonomy.FoodCafe))
	source := filepath.Join(e.dir, "src")
	writePNG(t, filepath.Join(source, "a.png"), color.RGBA{10, 20, 30, 255})
	writePNG(t, filepath.Join(source, "b.png"), color.RGBA{30, 20, 10, 255})

	_, err := e.run(t, "classify", source, filepath.Join(e.dir, "out"))
	require.NoError(t, err)

	s, err := openStore(cfg)
	require.NoError(t, err)
	photos, err := s.List(t.Context())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.Len(t, photos, 2)

	out, err := e.run(t, "results", "show", photos[0].ID[:8])
	require.NoError(t, err)
	assert.Contains(t, out, photos[0].FileName)
	assert.Contains(t, out, clip.ModelID)
	assert.Contains(t, out, "analysis log")

	out, err = e.run(t, "results", "similar", photos[0].ID, "-k", "5")
	require.NoError(t, err)
	assert.Contains(t, out, photos[1].FileName)

	_, err = e.run(t, "results", "show", "ffffffff-none")
	assert.Error(t, err)
}

func TestEngineWarmupAndAccel(t *testing.T) {
	e := newEnv(t, cliptest.NewRuntime(taxonomy.Other))

	out, err := e.run(t, "engine", "warmup")
	require.NoError(t, err)
	assert.Contains(t, out, "engine ready")
	assert.Contains(t, out, "model_q4f16.onnx")

	out, err = e.run(t, "engine", "accel")
	require.NoError(t, err)
	assert.Contains(t, out, "CPU")

	out, err = e.run(t, "engine", "models")
	require.NoError(t, err)
	assert.Contains(t, out, "onnx/model_q4f16.onnx")
}

func TestOllamaCommands(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"models":[{"name":"qwen2.5vl:7b"},{"name":"llava:13b"}]}`)
	}))
	defer srv.Close()

	e := newEnv(t, cliptest.NewRuntime(taxonomy.Other))
	_, err := e.run(t, "settings", "set", "ollama.base_url="+srv.URL)
	require.NoError(t, err)

	out, err := e.run(t, "ollama", "test")
	require.NoError(t, err)
	assert.Contains(t, out, "연결 성공")

	out, err = e.run(t, "ollama", "models")
	require.NoError(t, err)
	assert.Contains(t, out, "llava:13b")
	assert.Contains(t, out, "qwen2.5vl:7b")
}

func TestSeenFilter(t *testing.T) {
	f := newSeenFilter()
	calls := [][]string{{"a", "b"}, {"a", "b", "c"}, {"c"}}
	i := 0
	f.scan = func(string, ...string) ([]string, error) {
		out := calls[i]
		i++
		return out, nil
	}

	got, err := f.Scan("root")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
	got, err = f.Scan("root")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, got)
	got, err = f.Scan("root")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTableView(t *testing.T) {
	plain := Styles{}
	tbl := NewTable("", "a", "long header")
	assert.Empty(t, tbl.View(plain))

	tbl.AddRow("1", "x")
	tbl.AddRow("22", "y")
	lines := strings.Split(strings.TrimRight(tbl.View(plain), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "long header")
	assert.True(t, strings.HasPrefix(lines[1], "---"))
}
