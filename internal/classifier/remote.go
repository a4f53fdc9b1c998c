package classifier

import (
	"context"
	"errors"
	"time"

	"photosort/internal/ollama"
)

// ErrMissingPayload is returned when Remote gets no encoded image.
var ErrMissingPayload = errors.New("missing encoded payload")

// ChatClient is the part of ollama.Client that Remote uses.
type ChatClient interface {
	Model() string
	Classify(ctx context.Context, b64 string) (*ollama.Analysis, error)
	ClassifyStream(ctx context.Context, b64 string, onDelta func(string)) (*ollama.Analysis, error)
}

// Remote classifies with an Ollama vision model.
type Remote struct {
	client ChatClient
	stream bool
}

// NewRemote wraps client. With stream set, partial output is published to
// the request's sink.
func NewRemote(client ChatClient, stream bool) *Remote {
	return &Remote{client: client, stream: stream}
}

func (r *Remote) Name() string { return "ollama" }

func (r *Remote) Transport() Transport { return TransportEncoded }

func (r *Remote) Streaming() bool { return r.stream }

// Classify sends req.Payload to the model.
func (r *Remote) Classify(ctx context.Context, req Request) (*Output, error) {
	if req.Payload == nil || req.Payload.Base64 == "" {
		return nil, ErrMissingPayload
	}
	started := time.Now()

	var (
		analysis *ollama.Analysis
		err      error
	)
	if r.stream {
		req.publish(StreamChunk{Reset: true})
		analysis, err = r.client.ClassifyStream(ctx, req.Payload.Base64, func(delta string) {
			req.publish(StreamChunk{Delta: delta})
		})
		if err == nil {
			req.publish(StreamChunk{Done: true})
		}
	} else {
		analysis, err = r.client.Classify(ctx, req.Payload.Base64)
	}
	if err != nil {
		return nil, err
	}

	return &Output{
		Model:       r.client.Model(),
		Scores:      analysis.Scores,
		Category:    analysis.Category,
		Tags:        analysis.Tags,
		Caption:     analysis.Caption,
		TextInImage: analysis.TextInImage,
		Log:         analysis.Log,
		Fingerprint: req.Payload.Fingerprint,
		InferTime:   time.Since(started),
	}, nil
}

var _ Classifier = (*Remote)(nil)
