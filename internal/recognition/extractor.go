package recognition

import (
	"fmt"
	"image"
	"math"

	"face-attendance/internal/core/models"
	"face-attendance/internal/integrations/facerecognition"

	"github.com/disintegration/imaging"
)

// Extractor cuts face regions out of a decoded image.
type Extractor struct {
	// MinFaceSize is a percentage of the image; boxes whose smaller fractional side is below it are rejected.
	MinFaceSize float64
}

// PixelRect converts a fractional box to pixel coordinates within bounds.
// It returns ErrInvalidBoundingBox unless 0 <= left < right <= width and 0 <= top < bottom <= height.
func PixelRect(box facerecognition.BoundingBox, bounds image.Rectangle) (image.Rectangle, error) {
	for _, v := range []float64{box.Left, box.Top, box.Width, box.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return image.Rectangle{}, fmt.Errorf("%w: non-finite coordinate", models.ErrInvalidBoundingBox)
		}
	}

	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	left := int(math.Round(box.Left * w))
	top := int(math.Round(box.Top * h))
	right := int(math.Round((box.Left + box.Width) * w))
	bottom := int(math.Round((box.Top + box.Height) * h))

	if left < 0 || top < 0 || left >= right || top >= bottom || right > bounds.Dx() || bottom > bounds.Dy() {
		return image.Rectangle{}, fmt.Errorf("%w: [%d,%d,%d,%d] outside %dx%d",
			models.ErrInvalidBoundingBox, left, top, right, bottom, bounds.Dx(), bounds.Dy())
	}
	return image.Rect(left, top, right, bottom).Add(bounds.Min), nil
}

// Extract returns a copy of the region of img covered by box.
func (e Extractor) Extract(img image.Image, box facerecognition.BoundingBox) (image.Image, error) {
	if e.MinFaceSize > 0 && math.Min(box.Width, box.Height)*100 < e.MinFaceSize {
		return nil, fmt.Errorf("%w: face smaller than %.1f%%", models.ErrInvalidBoundingBox, e.MinFaceSize)
	}

	rect, err := PixelRect(box, img.Bounds())
	if err != nil {
		return nil, err
	}
	// imaging.Crop allocates a new NRGBA, so crops never alias img
	return imaging.Crop(img, rect), nil
}
