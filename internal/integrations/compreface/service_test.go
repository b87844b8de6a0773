package compreface

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"face-attendance/config"
	"face-attendance/internal/core/models"
	"face-attendance/internal/integrations/facerecognition"

	. "github.com/smartystreets/goconvey/convey"
)

func testImage(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestService(handler http.HandlerFunc) (*Service, func()) {
	srv := httptest.NewServer(handler)
	svc := NewService(config.CompreFaceConfig{
		Enabled:           true,
		URL:               srv.URL,
		RecognitionAPIKey: "rec-key",
		DetectionAPIKey:   "det-key",
		DetProbThreshold:  0.8,
	})
	return svc, srv.Close
}

func TestDetectFaces(t *testing.T) {
	ctx := context.Background()

	Convey("Given a CompreFace detection endpoint", t, func() {
		img := testImage(t, 200, 100)

		Convey("Pixel boxes are converted to fractions", func() {
			svc, done := newTestService(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/v1/detection/detect" || r.Header.Get("x-api-key") != "det-key" {
					w.WriteHeader(http.StatusTeapot)
					return
				}
				w.Write([]byte(`{"result":[{"box":{"probability":0.99,"x_min":20,"y_min":10,"x_max":60,"y_max":60}}]}`))
			})
			defer done()

			boxes, err := svc.DetectFaces(ctx, img)
			So(err, ShouldBeNil)
			So(boxes, ShouldHaveLength, 1)
			So(boxes[0].Left, ShouldAlmostEqual, 0.1)
			So(boxes[0].Top, ShouldAlmostEqual, 0.1)
			So(boxes[0].Width, ShouldAlmostEqual, 0.2)
			So(boxes[0].Height, ShouldAlmostEqual, 0.5)
			So(boxes[0].Confidence, ShouldAlmostEqual, 99.0)
		})

		Convey("The no-face error code means zero faces", func() {
			svc, done := newTestService(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"message":"No face is found in the given image","code":28}`))
			})
			defer done()

			boxes, err := svc.DetectFaces(ctx, img)
			So(err, ShouldBeNil)
			So(boxes, ShouldBeEmpty)
		})

		Convey("Auth failures are capability unavailable", func() {
			svc, done := newTestService(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			})
			defer done()

			_, err := svc.DetectFaces(ctx, img)
			So(errors.Is(err, facerecognition.ErrCapabilityUnavailable), ShouldBeTrue)
		})

		Convey("Undecodable bytes are an invalid image", func() {
			svc, done := newTestService(func(w http.ResponseWriter, r *http.Request) {})
			defer done()

			_, err := svc.DetectFaces(ctx, []byte("not an image"))
			So(errors.Is(err, models.ErrInvalidImage), ShouldBeTrue)
		})
	})
}

func TestSearchIdentity(t *testing.T) {
	ctx := context.Background()
	crop := testImage(t, 40, 40)

	Convey("Given a CompreFace recognition endpoint", t, func() {
		svc, done := newTestService(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("prediction_count") != "1" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Write([]byte(`{"result":[{"box":{},"subjects":[{"subject":"Ana_S1","similarity":0.93},{"subject":"Bob_S2","similarity":0.5}]}]}`))
		})
		defer done()

		Convey("A match above the threshold is returned on the 0-100 scale", func() {
			c, err := svc.SearchIdentity(ctx, crop, "ignored", 80)
			So(err, ShouldBeNil)
			So(c.IdentityKey, ShouldEqual, "Ana_S1")
			So(c.Confidence, ShouldAlmostEqual, 93.0)
		})

		Convey("A match below the threshold is no match", func() {
			c, err := svc.SearchIdentity(ctx, crop, "ignored", 95)
			So(err, ShouldBeNil)
			So(c, ShouldBeNil)
		})
	})

	Convey("Transport failures are capability unavailable", t, func() {
		svc := NewService(config.CompreFaceConfig{Enabled: true, URL: "http://127.0.0.1:1"})
		_, err := svc.SearchIdentity(ctx, crop, "", 80)
		So(errors.Is(err, facerecognition.ErrCapabilityUnavailable), ShouldBeTrue)
	})
}

func TestEnrollment(t *testing.T) {
	ctx := context.Background()
	img := testImage(t, 40, 40)

	Convey("IndexFace adds an example under the identity key", t, func() {
		var subject string
		svc, done := newTestService(func(w http.ResponseWriter, r *http.Request) {
			subject = r.URL.Query().Get("subject")
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"image_id":"img-1","subject":"Ana_S1"}`))
		})
		defer done()

		id, err := svc.IndexFace(ctx, img, "students", "Ana_S1")
		So(err, ShouldBeNil)
		So(id, ShouldEqual, "img-1")
		So(subject, ShouldEqual, "Ana_S1")
	})

	Convey("DeleteIdentity treats an unknown subject as done", t, func() {
		svc, done := newTestService(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		defer done()

		So(svc.DeleteIdentity(ctx, "students", "Ana_S1"), ShouldBeNil)
	})
}
