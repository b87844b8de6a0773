package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	"face-attendance/config"
	"face-attendance/internal/events"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	. "github.com/smartystreets/goconvey/convey"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic   string
	payload []byte
}

// fakeBroker implements only what Client uses.
type fakeBroker struct {
	mqtt.Client
	connected bool
	out       chan published
}

func (f *fakeBroker) IsConnected() bool { return f.connected }

func (f *fakeBroker) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.out <- published{topic: topic, payload: payload.([]byte)}
	return doneToken{}
}

func TestPublish(t *testing.T) {
	Convey("Given a client connected to a fake broker", t, func() {
		broker := &fakeBroker{connected: true, out: make(chan published, 1)}
		c := NewClient(config.MQTTConfig{TopicPrefix: "school/"})
		c.client = broker

		Convey("Event types map to nested topics", func() {
			So(c.Topic(events.AttendanceRecorded), ShouldEqual, "school/attendance/recorded")
		})

		Convey("Publish sends the event as JSON", func() {
			c.Publish(events.New(events.StudentEnrolled, "req-9", map[string]string{"student_id": "S1"}))

			select {
			case msg := <-broker.out:
				So(msg.topic, ShouldEqual, "school/student/enrolled")
				var ev map[string]interface{}
				So(json.Unmarshal(msg.payload, &ev), ShouldBeNil)
				So(ev["type"], ShouldEqual, "student.enrolled")
				So(ev["request_id"], ShouldEqual, "req-9")
			case <-time.After(time.Second):
				So("timeout", ShouldBeEmpty)
			}
		})

		Convey("A disconnected client drops events", func() {
			broker.connected = false
			c.Publish(events.New(events.StudentRemoved, "", nil))
			So(c.PublishMessage("x", nil, false), ShouldNotBeNil)
			So(broker.out, ShouldBeEmpty)
		})
	})
}
