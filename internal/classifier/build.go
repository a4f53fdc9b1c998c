package classifier

import (
	"errors"
	"fmt"
	"runtime"

	"photosort/internal/clip"
	"photosort/internal/config"
	"photosort/internal/logging"
	"photosort/internal/ollama"
)

// =============================================================================
// FACTORY
// =============================================================================

// Set is the classifier chain for one job. Fallback is nil unless the
// primary is local and fallback to the remote model is enabled.
type Set struct {
	Primary  Classifier
	Fallback Classifier
}

// Deps are shared collaborators the factory cannot build per job.
type Deps struct {
	Registry *clip.Registry
	Cores    int // 0 = runtime.NumCPU()
}

// DeriveThreads splits cores between the session pool and ONNX intra-op
// threads: pool = clamp(concurrency, 1, cores), intra = ceil(cores/pool).
func DeriveThreads(concurrency, cores int) (pool, intra int) {
	if cores < 1 {
		cores = 1
	}
	pool = concurrency
	if pool > cores {
		pool = cores
	}
	if pool < 1 {
		pool = 1
	}
	intra = (cores + pool - 1) / pool
	if intra < 1 {
		intra = 1
	}
	return pool, intra
}

// ClipOptions maps the configuration to engine options.
func ClipOptions(cfg *config.Config, cores int) clip.Options {
	if cores < 1 {
		cores = runtime.NumCPU()
	}
	pool, intra := DeriveThreads(cfg.Analysis.Concurrency, cores)
	b := cfg.Clip.Backends
	return clip.Options{
		ModelDir:      cfg.Clip.ModelDir,
		ResourceDir:   cfg.Clip.ResourceDir,
		ModelFile:     cfg.Clip.ModelFile,
		PoolSize:      pool,
		IntraThreads:  intra,
		EnableValue:   cfg.Analysis.ValueEnabled,
		AllowFallback: true,
		Backends: clip.BackendFlags{
			Auto:     b.Auto,
			CoreML:   b.CoreML,
			CUDA:     b.CUDA,
			ROCm:     b.ROCm,
			DirectML: b.DirectML,
			OpenVINO: b.OpenVINO,
		},
	}
}

// NewOllamaClient builds the remote client from the configuration.
func NewOllamaClient(cfg *config.Config) *ollama.Client {
	return ollama.NewClient(ollama.Config{
		BaseURL: cfg.Ollama.BaseURL,
		Model:   cfg.Ollama.Model,
		Think:   cfg.Ollama.Think,
		Timeout: cfg.GetOllamaTimeout(),
	})
}

// Build returns the classifiers selected by cfg.
func Build(cfg *config.Config, deps Deps) (Set, error) {
	switch cfg.Analysis.Engine {
	case config.EngineOllama:
		return Set{Primary: NewRemote(NewOllamaClient(cfg), cfg.Ollama.Stream)}, nil

	case config.EngineClip:
		if deps.Registry == nil {
			return Set{}, errors.New("clip registry is required")
		}
		set := Set{Primary: NewLocal(deps.Registry, ClipOptions(cfg, deps.Cores))}
		if cfg.Clip.FallbackToOllama {
			// The fallback never streams; it only runs after a local failure.
			set.Fallback = NewRemote(NewOllamaClient(cfg), false)
			logging.PipelineDebug("ollama fallback enabled (%s)", cfg.Ollama.Model)
		}
		return set, nil

	default:
		return Set{}, fmt.Errorf("unknown analysis engine %q", cfg.Analysis.Engine)
	}
}
