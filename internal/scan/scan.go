// Package scan lists the photos under a source tree.
package scan

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var allowed = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".heic": true,
	".dng":  true,
	".webp": true,
}

// IsImage reports whether path has an allow-listed photo extension.
func IsImage(path string) bool {
	return allowed[strings.ToLower(filepath.Ext(path))]
}

// Images walks root recursively in lexical order and returns every photo.
// Unreadable entries are skipped. Directories listed in exclude (such as an
// export root nested inside the source) are not descended into.
func Images(root string, exclude ...string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("source not accessible: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source is not a directory: %s", root)
	}

	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		if abs, err := filepath.Abs(e); err == nil {
			skip[abs] = true
		}
	}

	var files []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && len(skip) > 0 {
				if abs, err := filepath.Abs(path); err == nil && skip[abs] {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if IsImage(path) {
			files = append(files, path)
		}
		return nil
	})
	return files, nil
}
