package classifier

import (
	"context"
	"fmt"

	"photosort/internal/clip"
	"photosort/internal/imaging"
	"photosort/internal/logging"
)

// Local classifies with the shared CLIP engine.
type Local struct {
	registry *clip.Registry
	opts     clip.Options
}

// NewLocal returns a classifier that acquires its engine from registry.
func NewLocal(registry *clip.Registry, opts clip.Options) *Local {
	return &Local{registry: registry, opts: opts}
}

func (l *Local) Name() string { return "clip" }

func (l *Local) Transport() Transport { return TransportFile }

func (l *Local) Streaming() bool { return false }

// Options returns the engine options this classifier requests.
func (l *Local) Options() clip.Options { return l.opts }

// Classify decodes req.Path, builds the CLIP tensor and scores it.
func (l *Local) Classify(ctx context.Context, req Request) (*Output, error) {
	img, err := imaging.Decode(ctx, req.Path)
	if err != nil {
		return nil, err
	}
	pixels := imaging.ClipTensor(img)
	fp, err := imaging.Fingerprint(img)
	if err != nil {
		logging.ImagingDebug("fingerprint failed for %s: %v", req.FileName, err)
	}

	handle, err := l.registry.Acquire(ctx, l.opts)
	if err != nil {
		return nil, fmt.Errorf("clip engine unavailable: %w", err)
	}
	defer handle.Release()

	res, err := handle.Engine().Classify(ctx, pixels)
	if err != nil {
		return nil, err
	}

	out := &Output{
		Model:       clip.ModelID,
		Scores:      res.Scores,
		Category:    res.Category,
		Tags:        []string{res.Category.Label()},
		Log:         res.Log,
		Embedding:   res.Embedding,
		Fingerprint: fp,
		InferTime:   res.InferTime,
	}
	if l.opts.EnableValue {
		out.Valuable = res.Valuable
		out.ValueScore = res.KeepProb
	}
	return out, nil
}

var _ Classifier = (*Local)(nil)
