// Package clip runs a CLIP vision/text model to classify photos by
// similarity to cached text prototypes.
//
// Inference sits behind the Runtime and Session interfaces. ORTRuntime
// implements them on ONNX Runtime; tests substitute a fake.
package clip

import "errors"

var (
	// ErrModelNotFound means no candidate directory holds tokenizer.json.
	ErrModelNotFound = errors.New("CLIP model dir not found (expected models/clip-vit-b32-onnx)")
	// ErrNoSession means the session pool is empty or closed.
	ErrNoSession = errors.New("clip session pool is empty")
)

// Input is one named tensor. Exactly one of Int64 or Float32 is set.
type Input struct {
	Name    string
	Shape   []int64
	Int64   []int64
	Float32 []float32
}

// ModelInfo lists the declared input and output names of a model.
type ModelInfo struct {
	Inputs  []string
	Outputs []string
}

// SessionOptions configures one inference session.
type SessionOptions struct {
	Backends       []Backend // priority order, cpu last
	IntraOpThreads int
	Inputs         []string
	Outputs        []string // outputs that Run may request
}

// Runtime opens inference sessions.
type Runtime interface {
	Supported(b Backend) bool
	Available(b Backend) bool
	Inspect(modelPath string) (ModelInfo, error)
	Open(modelPath string, opts SessionOptions) (Session, error)
}

// Session runs a model. A session is not safe for concurrent use.
type Session interface {
	// Run computes only the named output and returns its flattened data.
	Run(inputs []Input, output string) ([]float32, error)
	Close() error
}
