package clip

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"photosort/internal/logging"
	"photosort/internal/taxonomy"
	"photosort/internal/vecmath"
)

// ValueThreshold is the keep probability at or above which a photo is
// judged worth keeping.
const ValueThreshold = 0.5

const (
	imageSize   = 224
	pixelLength = 3 * imageSize * imageSize
)

var (
	imageOutputPriority = []string{"image_embeds", "image_embeddings", "image_features", "vision_embeds"}
	textOutputPriority  = []string{"text_embeds", "text_embeddings", "text_features"}
)

// Options configures one engine. Two engines with equal Fingerprint are
// interchangeable.
type Options struct {
	ModelDir      string
	ResourceDir   string
	ModelFile     string
	PoolSize      int
	IntraThreads  int
	EnableValue   bool
	AllowFallback bool
	Backends      BackendFlags
}

// Fingerprint identifies the options that affect engine construction.
func (o Options) Fingerprint() string {
	b := o.Backends
	return fmt.Sprintf("dir=%s|res=%s|file=%s|pool=%d|intra=%d|value=%t|fallback=%t|auto=%t|coreml=%t|cuda=%t|rocm=%t|directml=%t|openvino=%t",
		o.ModelDir, o.ResourceDir, o.ModelFile, o.PoolSize, o.IntraThreads, o.EnableValue, o.AllowFallback,
		b.Auto, b.CoreML, b.CUDA, b.ROCm, b.DirectML, b.OpenVINO)
}

// Deps are the engine's collaborators.
type Deps struct {
	Runtime       Runtime
	LoadTokenizer func(path string) (Tokenizer, error)
	WorkDir       string // base for relative model dir candidates; empty = cwd
}

// ioNames are the resolved model tensor names.
type ioNames struct {
	inputIDs, attentionMask, pixelValues string
	imageOutput, textOutput              string
}

func (n ioNames) inputs() []string {
	return []string{n.inputIDs, n.attentionMask, n.pixelValues}
}

// Engine classifies images against cached text prototypes.
type Engine struct {
	modelPath     string
	tokenizerPath string
	names         ioNames
	pool          *sessionPool
	backends      []Backend
	intraThreads  int
	enableValue   bool

	dummyIDs  []int64
	dummyMask []int64

	categoryProtos [][]float32
	keepProto      []float32
	dropProto      []float32

	modelLoad time.Duration
	textCache time.Duration
}

// Result is one classification.
type Result struct {
	Scores    taxonomy.Scores
	Category  taxonomy.CategoryKey
	Valuable  *bool
	KeepProb  *float32
	Embedding []float32
	Log       string
	InferTime time.Duration
}

// New builds an engine: it resolves the model, negotiates backends,
// caches the text prototypes, smoke-tests the vision path and opens the
// session pool.
func New(ctx context.Context, deps Deps, opts Options) (*Engine, error) {
	if deps.Runtime == nil {
		return nil, errors.New("clip runtime is required")
	}
	if deps.LoadTokenizer == nil {
		deps.LoadTokenizer = LoadTokenizer
	}
	if opts.PoolSize < 1 {
		opts.PoolSize = 1
	}
	if opts.IntraThreads < 1 {
		opts.IntraThreads = 1
	}

	dir, err := ResolveModelDir(opts.ModelDir, opts.ResourceDir, deps.WorkDir)
	if err != nil {
		return nil, err
	}
	modelPath := filepath.Join(dir, filepath.FromSlash(opts.ModelFile))
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("CLIP ONNX model file not found: %s", modelPath)
	}
	tokenizerPath := filepath.Join(dir, "tokenizer.json")

	tok, err := deps.LoadTokenizer(tokenizerPath)
	if err != nil {
		return nil, err
	}
	padID, ok := tok.TokenID(PadToken)
	if !ok {
		return nil, fmt.Errorf("tokenizer missing %s", PadToken)
	}
	dummyIDs, dummyMask, err := encodeFixed(tok, "", padID)
	if err != nil {
		return nil, err
	}

	info, err := deps.Runtime.Inspect(modelPath)
	if err != nil {
		return nil, err
	}
	names, err := resolveNames(info)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		modelPath:     modelPath,
		tokenizerPath: tokenizerPath,
		names:         names,
		intraThreads:  opts.IntraThreads,
		enableValue:   opts.EnableValue,
		dummyIDs:      dummyIDs,
		dummyMask:     dummyMask,
	}

	backends := Candidates(deps.Runtime, opts.Backends)
	canEliminate := func() bool {
		return opts.AllowFallback && opts.Backends.Auto && hasAccelerator(backends)
	}
	dropOne := func(stage string, cause error) {
		var dropped Backend
		backends, dropped = eliminate(backends)
		logging.EngineWarn("%s failed with %s enabled, retrying without it: %v", stage, dropped, cause)
	}

	var primary Session
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		started := time.Now()
		sess, err := deps.Runtime.Open(modelPath, SessionOptions{
			Backends:       backends,
			IntraOpThreads: opts.IntraThreads,
			Inputs:         names.inputs(),
			Outputs:        []string{names.imageOutput, names.textOutput},
		})
		if err != nil {
			if canEliminate() {
				dropOne("session build", err)
				continue
			}
			return nil, fmt.Errorf("failed to open CLIP session (%s): %w", ProvidersLabel(backends), err)
		}
		e.modelLoad = time.Since(started)

		cacheStarted := time.Now()
		err = e.cachePrototypes(sess, tok, padID)
		if err == nil {
			err = e.smokeTest(sess)
		}
		if err != nil {
			sess.Close()
			if canEliminate() {
				dropOne("warmup", err)
				continue
			}
			return nil, fmt.Errorf("CLIP warmup failed (%s): %w", ProvidersLabel(backends), err)
		}
		e.textCache = time.Since(cacheStarted)
		primary = sess
		break
	}
	e.backends = backends

	sessions := []Session{primary}
	for len(sessions) < opts.PoolSize {
		started := time.Now()
		sess, err := deps.Runtime.Open(modelPath, SessionOptions{
			Backends:       backends,
			IntraOpThreads: opts.IntraThreads,
			Inputs:         names.inputs(),
			Outputs:        []string{names.imageOutput},
		})
		if err != nil {
			for _, s := range sessions {
				s.Close()
			}
			return nil, fmt.Errorf("failed to open pooled CLIP session %d of %d: %w", len(sessions)+1, opts.PoolSize, err)
		}
		sessions = append(sessions, sess)
		logging.EngineDebug("session pooled (%d of %d) loaded in %v", len(sessions), opts.PoolSize, time.Since(started))
	}
	e.pool = newSessionPool(sessions)

	logging.Engine("loaded model in %dms, cached text embeds in %dms (model=%s) eps=%s pool=%d intra_threads=%d",
		e.modelLoad.Milliseconds(), e.textCache.Milliseconds(), modelPath, ProvidersLabel(backends), opts.PoolSize, opts.IntraThreads)
	return e, nil
}

// resolveNames maps model tensor names to their roles. Matching is a
// case-insensitive substring match.
func resolveNames(info ModelInfo) (ioNames, error) {
	var n ioNames
	for _, name := range info.Inputs {
		lower := strings.ToLower(name)
		switch {
		case n.inputIDs == "" && (strings.Contains(lower, "input_ids") || lower == "input"):
			n.inputIDs = name
		case n.attentionMask == "" && strings.Contains(lower, "attention_mask"):
			n.attentionMask = name
		case n.pixelValues == "" && strings.Contains(lower, "pixel"):
			n.pixelValues = name
		}
	}
	switch {
	case n.inputIDs == "":
		return n, fmt.Errorf("model input_ids not found. available inputs: %s", strings.Join(info.Inputs, ", "))
	case n.attentionMask == "":
		return n, fmt.Errorf("model attention_mask not found. available inputs: %s", strings.Join(info.Inputs, ", "))
	case n.pixelValues == "":
		return n, fmt.Errorf("model pixel_values not found. available inputs: %s", strings.Join(info.Inputs, ", "))
	}

	var err error
	if n.imageOutput, err = pickOutput(info.Outputs, imageOutputPriority); err != nil {
		return n, err
	}
	if n.textOutput, err = pickOutput(info.Outputs, textOutputPriority); err != nil {
		return n, err
	}
	return n, nil
}

func pickOutput(outputs, priorities []string) (string, error) {
	for _, p := range priorities {
		for _, name := range outputs {
			if strings.Contains(strings.ToLower(name), p) {
				return name, nil
			}
		}
	}
	return "", fmt.Errorf("required output not found. available outputs: %s", strings.Join(outputs, ", "))
}

// textInputs builds the three inputs for a text batch of n prompts with a
// zero image batch of the same size.
func (e *Engine) textInputs(ids, mask []int64, n int) []Input {
	return []Input{
		{Name: e.names.inputIDs, Shape: []int64{int64(n), ContextLength}, Int64: ids},
		{Name: e.names.attentionMask, Shape: []int64{int64(n), ContextLength}, Int64: mask},
		{Name: e.names.pixelValues, Shape: []int64{int64(n), 3, imageSize, imageSize}, Float32: make([]float32, n*pixelLength)},
	}
}

func (e *Engine) imageInputs(pixels []float32) []Input {
	return []Input{
		{Name: e.names.inputIDs, Shape: []int64{1, ContextLength}, Int64: e.dummyIDs},
		{Name: e.names.attentionMask, Shape: []int64{1, ContextLength}, Int64: e.dummyMask},
		{Name: e.names.pixelValues, Shape: []int64{1, 3, imageSize, imageSize}, Float32: pixels},
	}
}

// embedPrompts runs one batched text inference and returns the flattened
// [n, dim] output and dim.
func (e *Engine) embedPrompts(sess Session, tok Tokenizer, padID int64, prompts []string) ([]float32, int, error) {
	if len(prompts) == 0 {
		return nil, 0, errors.New("no prompts for embed cache")
	}
	ids, mask, err := encodeBatch(tok, prompts, padID)
	if err != nil {
		return nil, 0, err
	}
	out, err := sess.Run(e.textInputs(ids, mask, len(prompts)), e.names.textOutput)
	if err != nil {
		return nil, 0, err
	}
	if len(out) == 0 {
		return nil, 0, errors.New("empty text embeddings")
	}
	dim := len(out) / len(prompts)
	if dim == 0 || dim*len(prompts) != len(out) {
		return nil, 0, fmt.Errorf("invalid text embeddings shape: %d values for %d prompts", len(out), len(prompts))
	}
	return out, dim, nil
}

func (e *Engine) cachePrototypes(sess Session, tok Tokenizer, padID int64) error {
	prompts, counts := taxonomy.CategoryPromptBatch()
	out, dim, err := e.embedPrompts(sess, tok, padID, prompts)
	if err != nil {
		return fmt.Errorf("category prompts: %w", err)
	}

	protos := make([][]float32, 0, len(counts))
	offset := 0
	for _, c := range counts {
		proto := vecmath.Mean(out[offset*dim:(offset+c)*dim], dim)
		vecmath.L2Normalize(proto)
		protos = append(protos, proto)
		offset += c
	}

	keep, err := e.prototype(sess, tok, padID, taxonomy.KeepPrompts())
	if err != nil {
		return fmt.Errorf("keep prompts: %w", err)
	}
	drop, err := e.prototype(sess, tok, padID, taxonomy.DropPrompts())
	if err != nil {
		return fmt.Errorf("drop prompts: %w", err)
	}

	e.categoryProtos, e.keepProto, e.dropProto = protos, keep, drop
	return nil
}

func (e *Engine) prototype(sess Session, tok Tokenizer, padID int64, prompts []string) ([]float32, error) {
	out, dim, err := e.embedPrompts(sess, tok, padID, prompts)
	if err != nil {
		return nil, err
	}
	proto := vecmath.Mean(out, dim)
	vecmath.L2Normalize(proto)
	return proto, nil
}

// smokeTest runs a zero image through the vision path. Some backends load
// but fail at run time.
func (e *Engine) smokeTest(sess Session) error {
	out, err := sess.Run(e.imageInputs(make([]float32, pixelLength)), e.names.imageOutput)
	if err != nil {
		return fmt.Errorf("vision smoke test: %w", err)
	}
	if len(out) == 0 {
		return errors.New("empty image embeddings (smoke test)")
	}
	return nil
}

// Classify scores one preprocessed 1x3x224x224 image.
func (e *Engine) Classify(ctx context.Context, pixels []float32) (*Result, error) {
	if len(pixels) != pixelLength {
		return nil, fmt.Errorf("pixel tensor has %d values, want %d", len(pixels), pixelLength)
	}
	started := time.Now()

	s, err := e.pool.acquire(ctx)
	if err != nil {
		return nil, err
	}
	embed, err := s.sess.Run(e.imageInputs(pixels), e.names.imageOutput)
	s.release()
	if err != nil {
		return nil, fmt.Errorf("vision inference failed: %w", err)
	}
	if len(embed) == 0 {
		return nil, errors.New("empty image embeddings")
	}
	vecmath.L2Normalize(embed)

	res := &Result{Embedding: embed}

	keepProb := float32(-1)
	if e.enableValue {
		probs := vecmath.Softmax([]float32{
			vecmath.CosineSimilarity(embed, e.keepProto),
			vecmath.CosineSimilarity(embed, e.dropProto),
		})
		keepProb = probs[0]
		valuable := keepProb >= ValueThreshold
		res.Valuable = &valuable
		res.KeepProb = &keepProb
	}

	logits := make([]float32, len(e.categoryProtos))
	for i, proto := range e.categoryProtos {
		logits[i] = vecmath.CosineSimilarity(embed, proto)
	}
	res.Scores = taxonomy.NewScores(vecmath.Softmax(logits))
	res.Category, _ = res.Scores.Top()
	res.InferTime = time.Since(started)
	res.Log = e.diagnostics(res.InferTime, keepProb)
	return res, nil
}

func (e *Engine) diagnostics(infer time.Duration, keepProb float32) string {
	var b strings.Builder
	line := func(k string, v interface{}) { fmt.Fprintf(&b, "%s: %v\n", k, v) }
	line("engine", "clip")
	line("model_path", e.modelPath)
	line("tokenizer_path", e.tokenizerPath)
	line("prompt_bank", taxonomy.PromptBankVersion)
	line("model_load_ms", e.modelLoad.Milliseconds())
	line("text_cache_ms", e.textCache.Milliseconds())
	line("execution_providers", ProvidersLabel(e.backends))
	line("pool_size", e.pool.size())
	line("intra_threads", e.intraThreads)
	line("output_image_embeds", e.names.imageOutput)
	line("output_text_embeds", e.names.textOutput)
	line("vision_infer_ms", infer.Milliseconds())
	if keepProb >= 0 {
		line("value_keep_prob", fmt.Sprintf("%.4f", keepProb))
	} else {
		line("value_keep_prob", "disabled")
	}
	return b.String()
}

// Backends returns the finalized backend list.
func (e *Engine) Backends() []Backend { return append([]Backend(nil), e.backends...) }

// PoolSize returns the number of sessions.
func (e *Engine) PoolSize() int { return e.pool.size() }

// ModelPath returns the resolved model file.
func (e *Engine) ModelPath() string { return e.modelPath }

// ValueEnabled reports whether Classify judges keep/drop.
func (e *Engine) ValueEnabled() bool { return e.enableValue }

// Close waits for in-flight runs and releases every session.
func (e *Engine) Close() error {
	if e.pool == nil {
		return nil
	}
	return e.pool.close()
}
