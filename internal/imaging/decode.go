// Package imaging decodes photos from disk and prepares them for the two
// classifier transports: a normalized CLIP tensor and a base64 JPEG.
package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"photosort/internal/logging"
)

// ErrConverterUnsupported is returned for formats that need the external
// converter on platforms that lack it.
var ErrConverterUnsupported = errors.New("HEIC decoding not supported on this platform")

// converter turns src into a JPEG at dst. Replaced in tests.
var converter = sipsConvert

// Decode reads path, decodes it and applies its EXIF orientation.
// HEIC always goes through the external converter; DNG tries a direct TIFF
// decode first.
func Decode(ctx context.Context, path string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	var img image.Image
	switch strings.ToLower(filepath.Ext(path)) {
	case ".heic":
		img, err = decodeConverted(ctx, path)
	case ".dng":
		img, err = tiff.Decode(bytes.NewReader(data))
		if err != nil {
			logging.ImagingDebug("direct DNG decode failed for %s, using converter: %v", path, err)
			img, err = decodeConverted(ctx, path)
		}
	default:
		img, _, err = image.Decode(bytes.NewReader(data))
		if err != nil {
			err = fmt.Errorf("failed to decode image %s: %w", filepath.Base(path), err)
		}
	}
	if err != nil {
		return nil, err
	}

	img = Opaque(img)
	if o := ReadOrientation(path, data); o > 1 {
		logging.ImagingDebug("applying EXIF orientation %d to %s", o, filepath.Base(path))
		img = ApplyOrientation(img, o)
	}
	return img, nil
}

func decodeConverted(ctx context.Context, path string) (image.Image, error) {
	tmp, err := os.MkdirTemp("", "photosort-convert-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	out := filepath.Join(tmp, "converted.jpg")
	if err := converter(ctx, path, out); err != nil {
		return nil, err
	}

	f, err := os.Open(out)
	if err != nil {
		return nil, fmt.Errorf("converter produced no output: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode converted image: %w", err)
	}
	return img, nil
}

func sipsConvert(ctx context.Context, src, dst string) error {
	if runtime.GOOS != "darwin" {
		return ErrConverterUnsupported
	}
	cmd := exec.CommandContext(ctx, "sips", "-s", "format", "jpeg", src, "--out", dst)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("sips conversion failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
