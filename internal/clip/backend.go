package clip

import (
	"runtime"
	"strings"
)

// Backend names an execution provider.
type Backend string

const (
	BackendCPU      Backend = "cpu"
	BackendCoreML   Backend = "coreml"
	BackendCUDA     Backend = "cuda"
	BackendROCm     Backend = "rocm"
	BackendDirectML Backend = "directml"
	BackendOpenVINO Backend = "openvino"
)

// accelerators in priority order.
var accelerators = []Backend{BackendCoreML, BackendCUDA, BackendROCm, BackendDirectML, BackendOpenVINO}

var displayNames = map[Backend]string{
	BackendCPU:      "CPU",
	BackendCoreML:   "CoreML (Apple)",
	BackendCUDA:     "CUDA (NVIDIA)",
	BackendROCm:     "ROCm (AMD)",
	BackendDirectML: "DirectML (Windows)",
	BackendOpenVINO: "OpenVINO (Intel)",
}

// DisplayName is a human readable backend name.
func (b Backend) DisplayName() string {
	if n, ok := displayNames[b]; ok {
		return n
	}
	return string(b)
}

// BackendFlags selects which accelerators may be tried. Accelerators are
// ignored unless Auto is set.
type BackendFlags struct {
	Auto     bool
	CoreML   bool
	CUDA     bool
	ROCm     bool
	DirectML bool
	OpenVINO bool
}

func (f BackendFlags) enabled(b Backend) bool {
	switch b {
	case BackendCoreML:
		return f.CoreML
	case BackendCUDA:
		return f.CUDA
	case BackendROCm:
		return f.ROCm
	case BackendDirectML:
		return f.DirectML
	case BackendOpenVINO:
		return f.OpenVINO
	case BackendCPU:
		return true
	}
	return false
}

// Candidates returns the enabled, supported and available accelerators in
// priority order, followed by cpu.
func Candidates(rt Runtime, flags BackendFlags) []Backend {
	var out []Backend
	if flags.Auto {
		for _, b := range accelerators {
			if flags.enabled(b) && rt.Supported(b) && rt.Available(b) {
				out = append(out, b)
			}
		}
	}
	return append(out, BackendCPU)
}

// ProvidersLabel joins backends with "+", e.g. "cuda+cpu".
func ProvidersLabel(backends []Backend) string {
	parts := make([]string, len(backends))
	for i, b := range backends {
		parts[i] = string(b)
	}
	return strings.Join(parts, "+")
}

func hasAccelerator(backends []Backend) bool {
	for _, b := range backends {
		if b != BackendCPU {
			return true
		}
	}
	return false
}

// eliminate drops the highest-priority accelerator.
func eliminate(backends []Backend) ([]Backend, Backend) {
	for i, b := range backends {
		if b != BackendCPU {
			out := append(append([]Backend(nil), backends[:i]...), backends[i+1:]...)
			return out, b
		}
	}
	return backends, ""
}

// platformSupports reports whether a backend can exist on this OS at all.
func platformSupports(b Backend) bool {
	switch b {
	case BackendCPU:
		return true
	case BackendCoreML:
		return runtime.GOOS == "darwin"
	case BackendCUDA, BackendOpenVINO:
		return runtime.GOOS == "linux" || runtime.GOOS == "windows"
	case BackendROCm:
		return runtime.GOOS == "linux"
	case BackendDirectML:
		return runtime.GOOS == "windows"
	}
	return false
}

// Capability describes one backend on this machine.
type Capability struct {
	Backend     Backend `json:"backend"`
	DisplayName string  `json:"display_name"`
	Supported   bool    `json:"supported"`
	Available   bool    `json:"available"`
}

// Capabilities reports every backend, cpu first.
func Capabilities(rt Runtime) []Capability {
	all := append([]Backend{BackendCPU}, accelerators...)
	out := make([]Capability, 0, len(all))
	for _, b := range all {
		supported := rt.Supported(b)
		out = append(out, Capability{
			Backend:     b,
			DisplayName: b.DisplayName(),
			Supported:   supported,
			Available:   supported && rt.Available(b),
		})
	}
	return out
}
