package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"face-attendance/internal/api/handlers"
	"face-attendance/internal/api/middleware"
	"face-attendance/internal/attendance"
	"face-attendance/internal/core/models"
	"face-attendance/internal/db"
	"face-attendance/internal/db/repository"
	"face-attendance/internal/enrollment"
	"face-attendance/internal/integrations/facerecognition"
	"face-attendance/internal/recognition"

	"github.com/gin-gonic/gin"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeRecognizer struct {
	result *recognition.Result
	err    error
	got    recognition.Request
}

func (f *fakeRecognizer) Recognize(_ context.Context, req recognition.Request) (*recognition.Result, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	res := *f.result
	res.RequestID = req.RequestID
	return &res, nil
}

type fakeStudents struct {
	enrollErr error
	removeErr error
}

func (f *fakeStudents) Enroll(_ context.Context, req enrollment.Request) (*models.Student, error) {
	if f.enrollErr != nil {
		return nil, f.enrollErr
	}
	return &models.Student{StudentID: req.StudentID, Name: req.Name, IdentityKey: req.Name + "_" + req.StudentID}, nil
}

func (f *fakeStudents) Remove(context.Context, string) error { return f.removeErr }

type fixture struct {
	router     *gin.Engine
	recognizer *fakeRecognizer
	students   *fakeStudents
	repo       *repository.SQLiteRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := db.Open(db.MemoryDSN)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			sqlDB.Close()
		}
	})
	repo := repository.NewSQLiteRepository(conn)

	tr, err := middleware.NewTranslator("en")
	if err != nil {
		t.Fatalf("translator: %v", err)
	}

	f := &fixture{
		recognizer: &fakeRecognizer{},
		students:   &fakeStudents{},
		repo:       repo,
	}
	h := handlers.NewAPIHandler(handlers.Deps{
		Recognizer: f.recognizer,
		Students:   f.students,
		Roster:     repo,
		Attendance: attendance.NewService(repo),
		Pending:    repo,
	})
	f.router = NewRouter(h, RouterConfig{SessionSecret: "test", Translator: tr})
	return f
}

func (f *fixture) do(method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var out map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func conf(v float64) *float64 { return &v }

func TestRecognizeRoute(t *testing.T) {
	image := base64.StdEncoding.EncodeToString([]byte("raw image bytes"))

	Convey("Given the router", t, func() {
		f := newFixture(t)

		Convey("A result is rendered with 1-based face numbers and nulls for unresolved faces", func() {
			f.recognizer.result = &recognition.Result{
				TotalFaces: 2,
				Recognized: 1,
				Faces: []recognition.FaceMatch{
					{FaceIndex: 0, Status: recognition.FaceRecognized, Identity: &recognition.Identity{Name: "Ana", StudentID: "S1"}, Confidence: conf(93.5)},
					{FaceIndex: 1, Status: recognition.FaceNotRecognized},
				},
			}
			w, body := f.do(http.MethodPost, "/api/recognize", map[string]string{"image": "data:image/png;base64," + image, "subjectId": "MATH"})
			So(w.Code, ShouldEqual, http.StatusOK)
			So(string(f.recognizer.got.Image), ShouldEqual, "raw image bytes")
			So(f.recognizer.got.SubjectID, ShouldEqual, "MATH")
			So(body["total_faces"], ShouldEqual, 2)
			So(body["message"], ShouldEqual, "2 faces detected, 1 recognized")
			So(body["request_id"], ShouldEqual, w.Header().Get(middleware.RequestIDHeader))

			people := body["identified_people"].([]interface{})
			So(people, ShouldHaveLength, 2)
			first, second := people[0].(map[string]interface{}), people[1].(map[string]interface{})
			So(first["face_number"], ShouldEqual, 1)
			So(first["student_id"], ShouldEqual, "S1")
			So(first["confidence"], ShouldEqual, 93.5)
			So(second["face_number"], ShouldEqual, 2)
			So(second["name"], ShouldBeNil)
			So(second["confidence"], ShouldBeNil)
		})

		Convey("Zero faces is a normal response", func() {
			f.recognizer.result = &recognition.Result{Faces: []recognition.FaceMatch{}}
			w, body := f.do(http.MethodPost, "/api/recognize", map[string]string{"image": image})
			So(w.Code, ShouldEqual, http.StatusOK)
			So(body["total_faces"], ShouldEqual, 0)
			So(body["identified_people"], ShouldBeEmpty)
			So(body["message"], ShouldEqual, "No face detected (0 faces)")
		})

		Convey("Bad base64 is a 400", func() {
			w, _ := f.do(http.MethodPost, "/api/recognize", map[string]string{"image": "***"})
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("An unavailable capability is a 503", func() {
			f.recognizer.err = facerecognition.Unavailable(facerecognition.ProviderRekognition, "search", errors.New("throttled"))
			w, body := f.do(http.MethodPost, "/api/recognize", map[string]string{"image": image})
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			So(body["error"], ShouldEqual, "Face recognition service is unavailable")
			So(body["detail"], ShouldBeNil)
		})

		Convey("Messages follow the requested language", func() {
			f.recognizer.result = &recognition.Result{TotalFaces: 1, Faces: []recognition.FaceMatch{{Status: recognition.FaceNotRecognized}}}
			_, body := f.do(http.MethodPost, "/api/recognize?lang=de", map[string]string{"image": image})
			So(body["message"], ShouldEqual, "1 Gesicht erkannt, 0 zugeordnet")
		})
	})
}

func TestStudentRoutes(t *testing.T) {
	image := base64.StdEncoding.EncodeToString([]byte("portrait"))

	Convey("Given the router", t, func() {
		f := newFixture(t)

		Convey("Enrollment returns 201", func() {
			w, body := f.do(http.MethodPost, "/api/enroll", map[string]string{"name": "Ana", "studentId": "S1", "image": image})
			So(w.Code, ShouldEqual, http.StatusCreated)
			So(body["message"], ShouldEqual, "Student Ana enrolled")
		})

		Convey("A photo without a face is a 400 with its own message", func() {
			f.students.enrollErr = models.ErrNoFaceDetected
			w, body := f.do(http.MethodPost, "/api/enroll", map[string]string{"name": "Ana", "studentId": "S1", "image": image})
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(body["error"], ShouldEqual, "No face detected in the image")
		})

		Convey("Removing an unknown student is a 404", func() {
			f.students.removeErr = models.ErrStudentNotFound
			w, _ := f.do(http.MethodDelete, "/api/students/S9", nil)
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("The roster is listed", func() {
			So(f.repo.UpsertStudent(context.Background(), &models.Student{StudentID: "S1", Name: "Ana", IdentityKey: "Ana_S1"}), ShouldBeNil)
			w, body := f.do(http.MethodGet, "/api/students", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(body["total"], ShouldEqual, 1)
		})
	})
}

func TestAttendanceRoutes(t *testing.T) {
	ctx := context.Background()

	Convey("Given a ledger with two records", t, func() {
		f := newFixture(t)
		var ids []uint
		for _, s := range []string{"S1", "S2"} {
			rec, _, err := f.repo.RecordIfAbsent(ctx, &models.AttendanceRecord{
				StudentID: s, SubjectID: "MATH", Day: "2024-03-04", Status: models.StatusPresent,
				Confidence: 90, VerificationMethod: models.VerificationFace, RecordedAt: time.Now(),
			})
			So(err, ShouldBeNil)
			ids = append(ids, rec.ID)
		}

		Convey("They can be listed by subject and date", func() {
			w, body := f.do(http.MethodGet, "/api/attendance?subject_id=MATH&from=2024-03-01&to=2024-03-31", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(body["total"], ShouldEqual, 2)
		})

		Convey("A malformed date is a 400", func() {
			w, _ := f.do(http.MethodGet, "/api/attendance?from=04.03.2024", nil)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("A record can be marked late and stats follow", func() {
			w, body := f.do(http.MethodPut, fmt.Sprintf("/api/attendance/%d", ids[0]), map[string]string{"status": "late", "marked_by": "admin"})
			So(w.Code, ShouldEqual, http.StatusOK)
			So(body["status"], ShouldEqual, "late")

			w, body = f.do(http.MethodGet, "/api/attendance/stats?subject_id=MATH", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(body["late"], ShouldEqual, 1)
			So(body["present"], ShouldEqual, 1)
		})

		Convey("Unknown statuses are rejected", func() {
			w, _ := f.do(http.MethodPut, fmt.Sprintf("/api/attendance/%d", ids[0]), map[string]string{"status": "asleep"})
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Deleting twice gives 404 the second time", func() {
			w, _ := f.do(http.MethodDelete, fmt.Sprintf("/api/attendance/%d", ids[1]), nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			w, _ = f.do(http.MethodDelete, fmt.Sprintf("/api/attendance/%d", ids[1]), nil)
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestStatusRoute(t *testing.T) {
	Convey("The status endpoint reports pending operations and system stats", t, func() {
		f := newFixture(t)
		w, body := f.do(http.MethodGet, "/api/status", nil)
		So(w.Code, ShouldEqual, http.StatusOK)
		So(body["pending_operations"], ShouldEqual, 0)
		So(body["system"], ShouldNotBeNil)
	})
}
