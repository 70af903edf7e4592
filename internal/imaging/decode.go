// Package imaging decodes the base64 JPEG/PNG payloads the wire protocol
// carries into pixel arrays. This is boundary plumbing, not a pipeline
// stage, so it leans on the standard library rather than a
// third-party imaging package.
package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"
)

// DecodeBase64 accepts either a bare base64 payload or a data URL
// ("data:image/jpeg;base64,...") and decodes it into an image.Image.
func DecodeBase64(s string) (image.Image, error) {
	raw, err := DecodeBase64Bytes(s)
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// DecodeBase64Bytes strips an optional data-URL prefix and returns the
// raw (still-encoded, e.g. JPEG/PNG container) bytes, for callers that
// need to persist the original payload rather than decode pixels (e.g.
// archiving an enrollment photo to object storage).
func DecodeBase64Bytes(s string) ([]byte, error) {
	if idx := strings.Index(s, ","); idx != -1 && strings.HasPrefix(s, "data:") {
		s = s[idx+1:]
	}

	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return raw, nil
}
