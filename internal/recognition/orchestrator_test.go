package recognition

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"face-attendance/internal/attendance"
	"face-attendance/internal/core/models"
	"face-attendance/internal/core/processor"
	"face-attendance/internal/db"
	"face-attendance/internal/db/repository"
	"face-attendance/internal/events"
	"face-attendance/internal/integrations/facerecognition"

	. "github.com/smartystreets/goconvey/convey"
)

// fakeCapability answers searches by the pixel width of the crop, so each test box maps to one identity.
type fakeCapability struct {
	boxes     []facerecognition.BoundingBox
	detectErr error
	byWidth   map[int]*facerecognition.Candidate
	delay     map[int]time.Duration
	block     map[int]bool
	searchErr map[int]error

	mu       sync.Mutex
	searched []int
}

func (f *fakeCapability) DetectFaces(ctx context.Context, img []byte) ([]facerecognition.BoundingBox, error) {
	return f.boxes, f.detectErr
}

func (f *fakeCapability) SearchIdentity(ctx context.Context, crop []byte, collectionID string, threshold float64) (*facerecognition.Candidate, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(crop))
	if err != nil {
		return nil, err
	}
	w := cfg.Width

	f.mu.Lock()
	f.searched = append(f.searched, w)
	f.mu.Unlock()

	if f.block[w] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d := f.delay[w]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.searchErr[w]; err != nil {
		return nil, err
	}
	return f.byWidth[w], nil
}

type recorder struct {
	calls []attendance.Batch
}

func (r *recorder) Reconcile(ctx context.Context, batch attendance.Batch) ([]attendance.Outcome, error) {
	r.calls = append(r.calls, batch)
	return nil, nil
}

func classroomPhoto(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 200; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y * 2), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// Three boxes on a 200x100 image, 20, 40 and 60 pixels wide.
func threeFaces() []facerecognition.BoundingBox {
	return []facerecognition.BoundingBox{
		{Left: 0.0, Top: 0.1, Width: 0.1, Height: 0.5},
		{Left: 0.2, Top: 0.1, Width: 0.2, Height: 0.5},
		{Left: 0.5, Top: 0.1, Width: 0.3, Height: 0.5},
	}
}

func newOrchestrator(cap *fakeCapability, rec AttendanceRecorder, pool *processor.WorkerPool) *Orchestrator {
	resolver := NewResolver(cap, nil, "students", 80)
	return NewOrchestrator(cap, resolver, pool, Options{
		CallTimeout: 200 * time.Millisecond,
		Attendance:  rec,
	})
}

func TestRecognize(t *testing.T) {
	ctx := context.Background()
	photo := classroomPhoto(t)

	Convey("Given an orchestrator with a fake capability", t, func() {
		pool := processor.NewWorkerPool(3, 6)
		Reset(pool.Shutdown)

		fake := &fakeCapability{
			boxes: threeFaces(),
			byWidth: map[int]*facerecognition.Candidate{
				20: {IdentityKey: "Ana_S1", Confidence: 95},
				40: {IdentityKey: "Bob_S2", Confidence: 90},
				60: {IdentityKey: "Cara_S3", Confidence: 50},
			},
		}
		rec := &recorder{}
		o := newOrchestrator(fake, rec, pool)

		Convey("Three faces with two matches above threshold", func() {
			res, err := o.Recognize(ctx, Request{Image: photo, SubjectID: "MATH"})
			So(err, ShouldBeNil)
			So(res.TotalFaces, ShouldEqual, 3)
			So(res.Recognized, ShouldEqual, 2)
			So(res.Faces[0].Identity, ShouldResemble, &Identity{Name: "Ana", StudentID: "S1"})
			So(*res.Faces[1].Confidence, ShouldEqual, 90)
			So(res.Faces[2].Status, ShouldEqual, FaceNotRecognized)
			So(res.Faces[2].Identity, ShouldBeNil)
			So(res.Faces[2].Confidence, ShouldBeNil)
			So(res.Message, ShouldEqual, "3 faces detected, 2 recognized")
			So(res.RequestID, ShouldNotBeEmpty)

			So(rec.calls, ShouldHaveLength, 1)
			So(rec.calls[0].SubjectID, ShouldEqual, "MATH")
			So(rec.calls[0].Matches, ShouldHaveLength, 2)
		})

		Convey("Result order follows detection order when searches finish out of order", func() {
			fake.delay = map[int]time.Duration{20: 60 * time.Millisecond, 40: 30 * time.Millisecond}
			res, err := o.Recognize(ctx, Request{Image: photo})
			So(err, ShouldBeNil)
			for i, f := range res.Faces {
				So(f.FaceIndex, ShouldEqual, i)
			}
			So(res.Faces[0].Identity.StudentID, ShouldEqual, "S1")
			So(res.Faces[1].Identity.StudentID, ShouldEqual, "S2")
			So(rec.calls, ShouldBeEmpty)
		})

		Convey("Zero faces is a success with an explicit count", func() {
			fake.boxes = nil
			res, err := o.Recognize(ctx, Request{Image: photo, SubjectID: "MATH"})
			So(err, ShouldBeNil)
			So(res.TotalFaces, ShouldEqual, 0)
			So(res.Faces, ShouldBeEmpty)
			So(res.Message, ShouldContainSubstring, "0 faces")
			So(rec.calls, ShouldBeEmpty)
		})

		Convey("A box outside the image is rejected but still counted", func() {
			fake.boxes = append(threeFaces()[:1], facerecognition.BoundingBox{Left: 0.95, Top: 0.1, Width: 0.2, Height: 0.5})
			res, err := o.Recognize(ctx, Request{Image: photo})
			So(err, ShouldBeNil)
			So(res.TotalFaces, ShouldEqual, 2)
			So(res.Faces[1].Status, ShouldEqual, FaceRejected)
			So(fake.searched, ShouldResemble, []int{20})
		})

		Convey("A timeout on face 2 fails the request and writes nothing", func() {
			fake.block = map[int]bool{40: true}
			_, err := o.Recognize(ctx, Request{Image: photo, SubjectID: "MATH"})
			So(errors.Is(err, facerecognition.ErrCapabilityUnavailable), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "face 2")
			So(rec.calls, ShouldBeEmpty)
		})

		Convey("A detection outage is capability unavailable", func() {
			fake.detectErr = facerecognition.Unavailable(facerecognition.ProviderCompreFace, "detect", errors.New("502"))
			_, err := o.Recognize(ctx, Request{Image: photo})
			So(errors.Is(err, facerecognition.ErrCapabilityUnavailable), ShouldBeTrue)
		})

		Convey("A raw search error is reported as capability unavailable", func() {
			fake.searchErr = map[int]error{60: errors.New("connection reset")}
			_, err := o.Recognize(ctx, Request{Image: photo, SubjectID: "MATH"})
			So(errors.Is(err, facerecognition.ErrCapabilityUnavailable), ShouldBeTrue)
			So(rec.calls, ShouldBeEmpty)
		})

		Convey("Undecodable payloads are invalid images", func() {
			_, err := o.Recognize(ctx, Request{Image: []byte("garbage")})
			So(errors.Is(err, models.ErrInvalidImage), ShouldBeTrue)

			_, err = o.Recognize(ctx, Request{})
			So(errors.Is(err, models.ErrInvalidImage), ShouldBeTrue)
		})

		Convey("A cancelled caller aborts without writing", func() {
			cctx, cancel := context.WithCancel(ctx)
			fake.delay = map[int]time.Duration{20: time.Second}
			go func() {
				time.Sleep(30 * time.Millisecond)
				cancel()
			}()
			_, err := o.Recognize(cctx, Request{Image: photo, SubjectID: "MATH"})
			So(errors.Is(err, ErrAborted), ShouldBeTrue)
			So(rec.calls, ShouldBeEmpty)
		})
	})
}

func TestRecognizeRecordsAttendance(t *testing.T) {
	ctx := context.Background()

	Convey("Given a real ledger with two enrolled students", t, func() {
		conn, err := db.Open(db.MemoryDSN)
		So(err, ShouldBeNil)
		repo := repository.NewSQLiteRepository(conn)
		So(repo.UpsertStudent(ctx, &models.Student{StudentID: "S1", Name: "Ana", IdentityKey: "Ana_S1"}), ShouldBeNil)
		So(repo.UpsertStudent(ctx, &models.Student{StudentID: "S2", Name: "Bob", IdentityKey: "Bob_S2"}), ShouldBeNil)

		pool := processor.NewWorkerPool(2, 4)
		Reset(pool.Shutdown)

		fake := &fakeCapability{
			boxes: threeFaces(),
			byWidth: map[int]*facerecognition.Candidate{
				20: {IdentityKey: "Ana_S1", Confidence: 95},
				40: {IdentityKey: "Bob_S2", Confidence: 90},
				60: {IdentityKey: "Cara_S3", Confidence: 50},
			},
		}
		var completed int
		sink := events.SinkFunc(func(ev events.Event) {
			if ev.Type == events.RecognitionCompleted {
				completed++
			}
		})
		reconciler := attendance.NewReconciler(repo, nil, nil)
		o := NewOrchestrator(fake, NewResolver(fake, repo, "students", 80), pool, Options{
			Attendance: reconciler,
			Sink:       sink,
		})

		Convey("Exactly two records are created and a repeat is idempotent", func() {
			res, err := o.Recognize(ctx, Request{Image: classroomPhoto(t), SubjectID: "MATH"})
			So(err, ShouldBeNil)
			So(res.Attendance, ShouldHaveLength, 2)
			So(res.Attendance[0].Status, ShouldEqual, attendance.StatusRecorded)
			So(res.Attendance[1].Status, ShouldEqual, attendance.StatusRecorded)

			res, err = o.Recognize(ctx, Request{Image: classroomPhoto(t), SubjectID: "MATH"})
			So(err, ShouldBeNil)
			So(res.Attendance[0].Status, ShouldEqual, attendance.StatusAlreadyRecorded)

			_, total, err := repo.ListAttendance(ctx, models.AttendanceFilter{SubjectID: "MATH"})
			So(err, ShouldBeNil)
			So(total, ShouldEqual, 2)
			So(completed, ShouldEqual, 2)
		})
	})
}
