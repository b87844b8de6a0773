package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func scrape(m *Manager) string {
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}

func TestManager(t *testing.T) {
	Convey("Given a metrics manager", t, func() {
		m := NewManager(WithNamespace("test"))

		Convey("Counters are recorded per label", func() {
			m.RecordRequest("success")
			m.RecordRequest("success")
			m.RecordFace("recognized")
			m.RecordAttendance("recorded")

			body := scrape(m)
			So(body, ShouldContainSubstring, `test_recognition_requests_total{outcome="success"} 2`)
			So(body, ShouldContainSubstring, `test_faces_total{status="recognized"} 1`)
			So(body, ShouldContainSubstring, `test_attendance_outcomes_total{outcome="recorded"} 1`)
		})

		Convey("Capability latency is split by result", func() {
			m.ObserveCapability("search", time.Now(), errors.New("down"))
			So(scrape(m), ShouldContainSubstring, `test_capability_call_duration_seconds_count{operation="search",result="error"} 1`)
		})

		Convey("Gauges reflect the last value", func() {
			m.SetPendingOperations(3)
			m.SetWorkerActive(2)
			body := scrape(m)
			So(body, ShouldContainSubstring, "test_pending_operations 3")
			So(body, ShouldContainSubstring, "test_worker_active_jobs 2")
		})
	})

	Convey("A nil or disabled manager is a no-op", t, func() {
		var m *Manager
		So(func() { m.RecordRequest("x") }, ShouldNotPanic)

		off := NewManager(WithNamespace("off"), WithMetricsEnabled(false))
		off.RecordFace("recognized")
		So(scrape(off), ShouldNotContainSubstring, `off_faces_total{status="recognized"}`)
	})
}
