package imaging

import (
	"fmt"
	"image"
	"strconv"

	"github.com/corona10/goimagehash"
)

// Fingerprint returns the 64-bit difference hash of img as 16 hex digits.
func Fingerprint(img image.Image) (string, error) {
	hash, err := goimagehash.DifferenceHash(img)
	if err != nil {
		return "", fmt.Errorf("failed to hash image: %w", err)
	}
	return fmt.Sprintf("%016x", hash.GetHash()), nil
}

// HashDistance is the Hamming distance between two fingerprints.
func HashDistance(a, b string) (int, error) {
	ha, err := parseHash(a)
	if err != nil {
		return 0, err
	}
	hb, err := parseHash(b)
	if err != nil {
		return 0, err
	}
	return ha.Distance(hb)
}

func parseHash(s string) (*goimagehash.ImageHash, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid fingerprint %q: %w", s, err)
	}
	return goimagehash.NewImageHash(v, goimagehash.DHash), nil
}
