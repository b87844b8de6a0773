package recognition

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"strings"

	"face-attendance/internal/core/models"

	"github.com/disintegration/imaging"
)

// DecodeBase64Image decodes a base64 payload. A data URL prefix such as "data:image/jpeg;base64," is stripped.
func DecodeBase64Image(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if i := strings.Index(payload, ","); i >= 0 && strings.HasPrefix(payload, "data:") {
		payload = payload[i+1:]
	}
	if payload == "" {
		return nil, fmt.Errorf("%w: empty payload", models.ErrInvalidImage)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// some clients drop the padding
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrInvalidImage, err)
		}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", models.ErrInvalidImage)
	}
	return data, nil
}

// DecodeImage decodes an encoded raster, applying EXIF orientation.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", models.ErrInvalidImage)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidImage, err)
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty raster", models.ErrInvalidImage)
	}
	return img, nil
}

// EncodeJPEG encodes img for the capability.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Enhancer normalizes classroom photos before detection: it bounds the long edge and
// lifts contrast and brightness. The zero value only copies.
type Enhancer struct {
	Enabled    bool
	Contrast   float64 // percent, -100..100
	Brightness float64 // percent, -100..100
	MaxSize    int     // long edge in pixels, 0 disables resizing
}

// Apply returns the transformed image. The input is never modified.
func (e Enhancer) Apply(img image.Image) image.Image {
	out := img
	b := img.Bounds()
	if e.MaxSize > 0 && (b.Dx() > e.MaxSize || b.Dy() > e.MaxSize) {
		out = imaging.Fit(out, e.MaxSize, e.MaxSize, imaging.Lanczos)
	}
	if !e.Enabled {
		return out
	}
	if e.Contrast != 0 {
		out = imaging.AdjustContrast(out, e.Contrast)
	}
	if e.Brightness != 0 {
		out = imaging.AdjustBrightness(out, e.Brightness)
	}
	return out
}
