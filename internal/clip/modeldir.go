package clip

import (
	"os"
	"path/filepath"
	"sort"
)

// ModelID names the bundled model.
const ModelID = "clip-vit-b32-onnx"

// ModelDirCandidates lists where the model is looked for, in order.
// workDir defaults to the current directory.
func ModelDirCandidates(override, resourceDir, workDir string) []string {
	var out []string
	if override != "" {
		out = append(out, override)
	}
	if resourceDir != "" {
		out = append(out,
			filepath.Join(resourceDir, "models", ModelID),
			filepath.Join(resourceDir, ModelID),
		)
	}
	if workDir == "" {
		if wd, err := os.Getwd(); err == nil {
			workDir = wd
		}
	}
	if workDir != "" {
		out = append(out,
			filepath.Join(workDir, "models", ModelID),
			filepath.Join(workDir, "..", "models", ModelID),
			filepath.Join(workDir, "..", "..", "models", ModelID),
		)
	}
	return out
}

// ResolveModelDir returns the first candidate that holds tokenizer.json.
func ResolveModelDir(override, resourceDir, workDir string) (string, error) {
	for _, dir := range ModelDirCandidates(override, resourceDir, workDir) {
		if _, err := os.Stat(filepath.Join(dir, "tokenizer.json")); err == nil {
			return filepath.Clean(dir), nil
		}
	}
	return "", ErrModelNotFound
}

// ModelFiles lists onnx/*.onnx under dir as sorted relative paths.
func ModelFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "onnx", "*.onnx"))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		rel, err := filepath.Rel(dir, m)
		if err != nil {
			continue
		}
		out = append(out, filepath.ToSlash(rel))
	}
	sort.Strings(out)
	return out, nil
}
