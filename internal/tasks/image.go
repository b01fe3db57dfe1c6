package tasks

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
)

var (
	ErrImageTooLarge    = errors.New("image exceeds max size")
	ErrImageUndecodable = errors.New("unsupported image format or corrupt image")
)

const normalizedImageMIME = "image/jpeg"

var jpegEncodingOptions = &jpeg.Options{Quality: 85}

// NormalizeImage shrinks images whose width or height exceed maxDim so that
// they fit, keeping the aspect ratio, and re-encodes them as JPEG. changed is
// false when the image already fits. Images larger than maxBytes are rejected
// before and after resizing.
func NormalizeImage(data []byte, maxDim int, maxBytes int64) (out []byte, contentType string, changed bool, err error) {
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, "", false, fmt.Errorf("%w (%d > %d bytes)", ErrImageTooLarge, len(data), maxBytes)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", false, fmt.Errorf("%w: %v", ErrImageUndecodable, err)
	}

	bounds := img.Bounds()
	if maxDim <= 0 || (bounds.Dx() <= maxDim && bounds.Dy() <= maxDim) {
		return data, "", false, nil
	}

	resized := resize.Thumbnail(uint(maxDim), uint(maxDim), img, resize.Lanczos3)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, jpegEncodingOptions); err != nil {
		return nil, "", false, fmt.Errorf("failed to re-encode resized image: %w", err)
	}
	if maxBytes > 0 && int64(buf.Len()) > maxBytes {
		return nil, "", false, fmt.Errorf("%w after resizing (%d > %d bytes)", ErrImageTooLarge, buf.Len(), maxBytes)
	}
	return buf.Bytes(), normalizedImageMIME, true, nil
}
