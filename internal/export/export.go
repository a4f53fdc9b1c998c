// Package export copies classified photos into category folders.
package export

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"photosort/internal/logging"
	"photosort/internal/taxonomy"
)

// DefaultMaxSuffix bounds the stem_N collision search.
const DefaultMaxSuffix = 9999

// Value folder names used when value scoring is enabled.
const (
	DirValuable    = "가치있음"
	DirNotValuable = "가치없음"
	DirValueUnsure = "가치미정"
)

// ErrTooManyDuplicates is returned when every suffixed name is taken.
var ErrTooManyDuplicates = errors.New("too many duplicate file names")

// Writer copies files under Root.
type Writer struct {
	Root      string
	MaxSuffix int
}

// NewWriter returns a writer rooted at root with the default ceiling.
func NewWriter(root string) *Writer {
	return &Writer{Root: root, MaxSuffix: DefaultMaxSuffix}
}

// Dirs returns the folder path segments for one classified photo.
func Dirs(category taxonomy.CategoryKey, valuable *bool, valueEnabled bool) []string {
	if !valueEnabled {
		return []string{category.Label()}
	}
	switch {
	case valuable == nil:
		return []string{DirValueUnsure, category.Label()}
	case *valuable:
		return []string{DirValuable, category.Label()}
	default:
		return []string{DirNotValuable, category.Label()}
	}
}

// Copy copies src to Root/dirs.../fileName and returns the final path.
// An existing name is never overwritten: stem_1.ext, stem_2.ext... are tried
// up to MaxSuffix.
func (w *Writer) Copy(src, fileName string, dirs ...string) (string, error) {
	dir := filepath.Join(append([]string{w.Root}, dirs...)...)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	out, target, err := w.reserve(dir, fileName)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(target)
		return "", fmt.Errorf("failed to copy %s: %w", fileName, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(target)
		return "", fmt.Errorf("failed to sync %s: %w", fileName, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(target)
		return "", fmt.Errorf("failed to close %s: %w", fileName, err)
	}

	logging.ExportDebug("copied %s -> %s", src, target)
	return target, nil
}

// reserve creates the first free name exclusively so concurrent writers
// never pick the same target.
func (w *Writer) reserve(dir, fileName string) (*os.File, string, error) {
	limit := w.MaxSuffix
	if limit <= 0 {
		limit = DefaultMaxSuffix
	}

	ext := filepath.Ext(fileName)
	stem := strings.TrimSuffix(fileName, ext)

	for n := 0; n <= limit; n++ {
		name := fileName
		if n > 0 {
			name = fmt.Sprintf("%s_%d%s", stem, n, ext)
		}
		target := filepath.Join(dir, name)
		f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return f, target, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("failed to create %s: %w", target, err)
		}
	}
	return nil, "", fmt.Errorf("%w: %s", ErrTooManyDuplicates, fileName)
}

// FolderDistribution counts exported files per category across the flat
// (root/label) and value-nested (root/value/label) layouts and returns
// ratios rounded to four digits. Every category is present.
func FolderDistribution(root string) (map[taxonomy.CategoryKey]float64, error) {
	counts := make(map[taxonomy.CategoryKey]int)
	total := 0

	count := func(dir string, key taxonomy.CategoryKey) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, e := range entries {
			if e.Type().IsRegular() {
				counts[key]++
				total++
			}
		}
	}

	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("export root not accessible: %w", err)
	}

	for _, k := range taxonomy.Categories() {
		count(filepath.Join(root, k.Label()), k)
		for _, v := range []string{DirValuable, DirNotValuable, DirValueUnsure} {
			count(filepath.Join(root, v, k.Label()), k)
		}
	}

	out := make(map[taxonomy.CategoryKey]float64, taxonomy.NumCategories)
	for _, k := range taxonomy.Categories() {
		if total == 0 {
			out[k] = 0
			continue
		}
		out[k] = Round4(float64(counts[k]) / float64(total))
	}
	return out, nil
}

// Round4 rounds to four decimal places.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
