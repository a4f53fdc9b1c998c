package imaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// TransportOptions controls how a photo is re-encoded for the remote model.
type TransportOptions struct {
	ResizeEnabled bool
	MaxEdge       int
	JPEGQuality   int
}

// Encoded is a photo ready to ship as a base64 JPEG.
type Encoded struct {
	Base64      string
	Fingerprint string
}

// EncodeForTransport decodes path, downscales it so the long edge fits
// MaxEdge when resizing is enabled, and re-encodes it as base64 JPEG.
func EncodeForTransport(ctx context.Context, path string, opts TransportOptions) (*Encoded, error) {
	img, err := Decode(ctx, path)
	if err != nil {
		return nil, err
	}

	if opts.ResizeEnabled && opts.MaxEdge > 0 {
		img = Downscale(img, opts.MaxEdge)
	}

	quality := opts.JPEGQuality
	if quality < 1 {
		quality = 1
	} else if quality > 100 {
		quality = 100
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}

	fp, _ := Fingerprint(img)
	return &Encoded{
		Base64:      base64.StdEncoding.EncodeToString(buf.Bytes()),
		Fingerprint: fp,
	}, nil
}

// Downscale shrinks img so its longer edge is at most maxEdge, keeping the
// aspect ratio. Smaller images are returned unchanged.
func Downscale(img image.Image, maxEdge int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	long := w
	if h > long {
		long = h
	}
	if maxEdge <= 0 || long <= maxEdge {
		return img
	}

	nw := w * maxEdge / long
	nh := h * maxEdge / long
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
