package clip

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"photosort/internal/logging"
)

// ORTRuntime runs models with ONNX Runtime through its shared library.
type ORTRuntime struct {
	libraryPath string

	once    sync.Once
	initErr error

	mu        sync.Mutex
	available map[Backend]bool
}

// NewORTRuntime returns a runtime that loads the shared library from
// libraryPath, or the platform default when empty. The environment is
// initialized lazily on first use.
func NewORTRuntime(libraryPath string) *ORTRuntime {
	return &ORTRuntime{libraryPath: libraryPath, available: make(map[Backend]bool)}
}

func (r *ORTRuntime) init() error {
	r.once.Do(func() {
		if ort.IsInitialized() {
			return
		}
		if r.libraryPath != "" {
			ort.SetSharedLibraryPath(r.libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			r.initErr = fmt.Errorf("failed to initialize onnxruntime (set clip.runtime_library or ONNXRUNTIME_LIB): %w", err)
			return
		}
		logging.Engine("onnxruntime initialized: library=%q", r.libraryPath)
	})
	return r.initErr
}

// Shutdown releases the ONNX Runtime environment.
func (r *ORTRuntime) Shutdown() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// Supported reports whether the backend exists on this platform.
func (r *ORTRuntime) Supported(b Backend) bool {
	return platformSupports(b)
}

// Available probes the backend by appending it to throwaway session
// options. Results are cached.
func (r *ORTRuntime) Available(b Backend) bool {
	if !r.Supported(b) {
		return false
	}
	if err := r.init(); err != nil {
		return false
	}
	if b == BackendCPU {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ok, seen := r.available[b]; seen {
		return ok
	}

	ok := false
	if opts, err := ort.NewSessionOptions(); err == nil {
		ok = appendProvider(opts, b) == nil
		opts.Destroy()
	}
	r.available[b] = ok
	logging.EngineDebug("backend %s available=%v", b, ok)
	return ok
}

func appendProvider(opts *ort.SessionOptions, b Backend) error {
	switch b {
	case BackendCPU:
		return nil
	case BackendCUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return err
		}
		defer cuda.Destroy()
		return opts.AppendExecutionProviderCUDA(cuda)
	case BackendCoreML:
		return opts.AppendExecutionProviderCoreML(0)
	case BackendDirectML:
		return opts.AppendExecutionProviderDirectML(0)
	case BackendOpenVINO:
		return opts.AppendExecutionProviderOpenVINO(map[string]string{})
	case BackendROCm:
		return errors.New("rocm execution provider is not exposed by onnxruntime_go")
	}
	return fmt.Errorf("unknown backend %q", b)
}

// Inspect reads the declared input and output names.
func (r *ORTRuntime) Inspect(modelPath string) (ModelInfo, error) {
	if err := r.init(); err != nil {
		return ModelInfo{}, err
	}
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("failed to inspect model %s: %w", modelPath, err)
	}
	info := ModelInfo{}
	for _, in := range inputs {
		info.Inputs = append(info.Inputs, in.Name)
	}
	for _, out := range outputs {
		info.Outputs = append(info.Outputs, out.Name)
	}
	return info, nil
}

// Open builds one dynamic session per requested output so every Run
// computes only the output it asks for.
func (r *ORTRuntime) Open(modelPath string, opts SessionOptions) (Session, error) {
	if err := r.init(); err != nil {
		return nil, err
	}

	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer so.Destroy()

	if opts.IntraOpThreads > 0 {
		if err := so.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}
	for _, b := range opts.Backends {
		if err := appendProvider(so, b); err != nil {
			return nil, fmt.Errorf("failed to enable %s: %w", b, err)
		}
	}

	s := &ortSession{inputs: opts.Inputs, byOutput: make(map[string]*ort.DynamicAdvancedSession)}
	for _, out := range opts.Outputs {
		das, err := ort.NewDynamicAdvancedSession(modelPath, opts.Inputs, []string{out}, so)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create session for %s: %w", out, err)
		}
		s.byOutput[out] = das
	}
	return s, nil
}

type ortSession struct {
	inputs   []string
	byOutput map[string]*ort.DynamicAdvancedSession
}

func (s *ortSession) Run(inputs []Input, output string) ([]float32, error) {
	das, ok := s.byOutput[output]
	if !ok {
		return nil, fmt.Errorf("output %q was not opened on this session", output)
	}

	byName := make(map[string]Input, len(inputs))
	for _, in := range inputs {
		byName[in.Name] = in
	}

	values := make([]ort.Value, 0, len(s.inputs))
	defer func() {
		for _, v := range values {
			v.Destroy()
		}
	}()
	for _, name := range s.inputs {
		in, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("missing input %q", name)
		}
		shape := ort.NewShape(in.Shape...)
		var (
			v   ort.Value
			err error
		)
		if in.Float32 != nil {
			v, err = ort.NewTensor(shape, in.Float32)
		} else {
			v, err = ort.NewTensor(shape, in.Int64)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to build tensor %q: %w", name, err)
		}
		values = append(values, v)
	}

	outputs := []ort.Value{nil}
	if err := das.Run(values, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			outputs[0].Destroy()
		}
	}()

	t, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("output %q is not a float32 tensor", output)
	}
	return append([]float32(nil), t.GetData()...), nil
}

func (s *ortSession) Close() error {
	var errs []error
	for name, das := range s.byOutput {
		if err := das.Destroy(); err != nil {
			errs = append(errs, err)
		}
		delete(s.byOutput, name)
	}
	return errors.Join(errs...)
}
