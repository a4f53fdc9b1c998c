// Package classifier hides the local CLIP engine and the remote Ollama model
// behind one interface so the job orchestrator can treat them alike.
package classifier

import (
	"context"
	"time"

	"photosort/internal/imaging"
	"photosort/internal/taxonomy"
)

// =============================================================================
// CLASSIFIER INTERFACE
// =============================================================================

// Transport says what input a classifier needs.
type Transport int

const (
	// TransportFile reads the original file from Request.Path.
	TransportFile Transport = iota
	// TransportEncoded needs Request.Payload, a downscaled base64 JPEG.
	TransportEncoded
)

func (t Transport) String() string {
	if t == TransportEncoded {
		return "encoded"
	}
	return "file"
}

// Classifier labels one photo.
type Classifier interface {
	// Name identifies the strategy (clip, ollama).
	Name() string

	// Transport reports the input the classifier reads.
	Transport() Transport

	// Streaming reports whether Classify publishes partial output.
	Streaming() bool

	// Classify labels the photo described by req.
	Classify(ctx context.Context, req Request) (*Output, error)
}

// StreamChunk is one piece of incremental model output. A chunk with Reset
// starts a new photo, Done ends it.
type StreamChunk struct {
	JobID    string `json:"job_id"`
	FileName string `json:"file_name"`
	Delta    string `json:"delta"`
	Done     bool   `json:"done"`
	Reset    bool   `json:"reset"`
}

// StreamSink receives stream chunks. It must not block.
type StreamSink func(StreamChunk)

// Request is the input for one classification.
type Request struct {
	JobID    string
	Path     string
	FileName string
	Payload  *imaging.Encoded
	Sink     StreamSink
}

func (r Request) publish(c StreamChunk) {
	if r.Sink == nil {
		return
	}
	c.JobID = r.JobID
	c.FileName = r.FileName
	r.Sink(c)
}

// Output is a classification result.
type Output struct {
	Model       string
	Scores      taxonomy.Scores
	Category    taxonomy.CategoryKey
	Tags        []string
	Caption     string
	TextInImage string
	Log         string
	Valuable    *bool
	ValueScore  *float32
	Embedding   []float32
	Fingerprint string
	InferTime   time.Duration
}
