package recognition

import (
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"face-attendance/internal/core/models"
	"face-attendance/internal/integrations/facerecognition"

	. "github.com/smartystreets/goconvey/convey"
)

func TestDecodeBase64Image(t *testing.T) {
	Convey("Base64 payloads", t, func() {
		raw := []byte{0x89, 'P', 'N', 'G'}
		enc := base64.StdEncoding.EncodeToString(raw)

		Convey("Plain and data URL forms decode to the same bytes", func() {
			a, err := DecodeBase64Image(enc)
			So(err, ShouldBeNil)
			b, err := DecodeBase64Image("data:image/png;base64," + enc)
			So(err, ShouldBeNil)
			So(a, ShouldResemble, raw)
			So(b, ShouldResemble, raw)
		})

		Convey("Empty or malformed payloads are invalid images", func() {
			_, err := DecodeBase64Image("")
			So(errors.Is(err, models.ErrInvalidImage), ShouldBeTrue)
			_, err = DecodeBase64Image("data:image/png;base64,")
			So(errors.Is(err, models.ErrInvalidImage), ShouldBeTrue)
			_, err = DecodeBase64Image("***")
			So(errors.Is(err, models.ErrInvalidImage), ShouldBeTrue)
		})
	})
}

func TestEnhancer(t *testing.T) {
	Convey("The enhancer bounds the long edge and keeps the aspect ratio", t, func() {
		img := image.NewRGBA(image.Rect(0, 0, 400, 200))
		out := Enhancer{MaxSize: 100}.Apply(img)
		So(out.Bounds().Dx(), ShouldEqual, 100)
		So(out.Bounds().Dy(), ShouldEqual, 50)
	})

	Convey("Brightness lifts dark pixels without touching the input", t, func() {
		img := image.NewRGBA(image.Rect(0, 0, 4, 4))
		img.Set(0, 0, color.RGBA{10, 10, 10, 255})
		out := Enhancer{Enabled: true, Brightness: 30}.Apply(img)
		r, _, _, _ := out.At(0, 0).RGBA()
		So(r>>8, ShouldBeGreaterThan, 10)
		r, _, _, _ = img.At(0, 0).RGBA()
		So(r>>8, ShouldEqual, 10)
	})
}

func TestExtractor(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))

	Convey("Valid boxes produce crops of the box's pixel extent", t, func() {
		crop, err := Extractor{}.Extract(img, facerecognition.BoundingBox{Left: 0.25, Top: 0.2, Width: 0.5, Height: 0.6})
		So(err, ShouldBeNil)
		So(crop.Bounds().Dx(), ShouldEqual, 100)
		So(crop.Bounds().Dy(), ShouldEqual, 60)
	})

	Convey("Crops are copies", t, func() {
		crop, err := Extractor{}.Extract(img, facerecognition.BoundingBox{Left: 0, Top: 0, Width: 0.5, Height: 0.5})
		So(err, ShouldBeNil)
		img.Set(0, 0, color.RGBA{255, 0, 0, 255})
		r, _, _, _ := crop.At(crop.Bounds().Min.X, crop.Bounds().Min.Y).RGBA()
		So(r, ShouldEqual, 0)
	})

	Convey("Boxes outside the image are rejected", t, func() {
		bad := []facerecognition.BoundingBox{
			{Left: -0.1, Top: 0, Width: 0.5, Height: 0.5},
			{Left: 0.8, Top: 0, Width: 0.3, Height: 0.5},
			{Left: 0.1, Top: 0.9, Width: 0.1, Height: 0.2},
			{Left: 0.1, Top: 0.1, Width: 0, Height: 0.2},
			{Left: math.NaN(), Top: 0.1, Width: 0.1, Height: 0.2},
		}
		for _, box := range bad {
			_, err := Extractor{}.Extract(img, box)
			So(errors.Is(err, models.ErrInvalidBoundingBox), ShouldBeTrue)
		}
	})

	Convey("Faces below the minimum size are rejected", t, func() {
		_, err := Extractor{MinFaceSize: 10}.Extract(img, facerecognition.BoundingBox{Left: 0.1, Top: 0.1, Width: 0.05, Height: 0.5})
		So(errors.Is(err, models.ErrInvalidBoundingBox), ShouldBeTrue)
	})

	Convey("PixelRect honours a non-zero origin", t, func() {
		sub := image.NewRGBA(image.Rect(10, 10, 110, 60))
		rect, err := PixelRect(facerecognition.BoundingBox{Left: 0.5, Top: 0.5, Width: 0.5, Height: 0.5}, sub.Bounds())
		So(err, ShouldBeNil)
		So(rect, ShouldResemble, image.Rect(60, 35, 110, 60))
	})
}
