package clip

import (
	"context"
	"errors"
	"sync"

	"photosort/internal/logging"
)

// ErrRegistryClosed is returned by Acquire after Close.
var ErrRegistryClosed = errors.New("clip registry closed")

// Registry shares one engine per option fingerprint across jobs. When the
// options change a new engine is built and the old one is closed once its
// last handle is released.
type Registry struct {
	deps Deps

	mu      sync.Mutex
	current *entry
	closed  bool
}

type entry struct {
	key     string
	engine  *Engine
	refs    int
	retired bool
}

// Handle is a counted reference to a shared engine.
type Handle struct {
	r    *Registry
	e    *entry
	once sync.Once
}

// NewRegistry returns an empty registry.
func NewRegistry(deps Deps) *Registry {
	return &Registry{deps: deps}
}

// Acquire returns the engine for opts, building it if the cached engine
// was built with different options. Construction happens under the
// registry lock so concurrent callers never build twice.
func (r *Registry) Acquire(ctx context.Context, opts Options) (*Handle, error) {
	key := opts.Fingerprint()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	if r.current != nil && r.current.key == key {
		r.current.refs++
		return &Handle{r: r, e: r.current}, nil
	}

	engine, err := New(ctx, r.deps, opts)
	if err != nil {
		return nil, err
	}

	if old := r.current; old != nil {
		old.retired = true
		if old.refs == 0 {
			logging.EngineDebug("closing replaced engine")
			old.engine.Close()
		}
	}
	r.current = &entry{key: key, engine: engine, refs: 1}
	return &Handle{r: r, e: r.current}, nil
}

// Engine returns the shared engine.
func (h *Handle) Engine() *Engine { return h.e.engine }

// Release drops the reference. Calling it more than once is a no-op.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.r.mu.Lock()
		defer h.r.mu.Unlock()
		h.e.refs--
		if h.e.refs == 0 && h.e.retired {
			h.e.engine.Close()
		}
	})
}

// Close retires the current engine; it is closed now or when its last
// handle is released.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.current == nil {
		return
	}
	r.current.retired = true
	if r.current.refs == 0 {
		r.current.engine.Close()
	}
	r.current = nil
}
