// Package events carries pipeline notifications to optional observers.
// Publishing never blocks or fails the request that emits the event.
package events

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// Type names an event.
type Type string

const (
	RecognitionCompleted Type = "recognition.completed"
	AttendanceRecorded   Type = "attendance.recorded"
	StudentEnrolled      Type = "student.enrolled"
	StudentRemoved       Type = "student.removed"
)

// Event is one notification. Payload must be JSON-serializable.
type Event struct {
	Type      Type        `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// New stamps an event with the current time.
func New(t Type, requestID string, payload interface{}) Event {
	return Event{Type: t, RequestID: requestID, Timestamp: time.Now().UTC(), Payload: payload}
}

// Sink receives events. Implementations must not block the caller for long and must swallow their own errors.
type Sink interface {
	Publish(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event)

// Publish calls f.
func (f SinkFunc) Publish(ev Event) { f(ev) }

// Multi fans an event out to several sinks. Nil entries are skipped.
type Multi []Sink

// Publish forwards ev to every sink.
func (m Multi) Publish(ev Event) {
	for _, s := range m {
		if s == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("Event sink panicked on %s: %v", ev.Type, r)
				}
			}()
			s.Publish(ev)
		}()
	}
}

// LogSink writes events to the log at debug level.
type LogSink struct{}

// Publish logs ev.
func (LogSink) Publish(ev Event) {
	log.WithFields(log.Fields{
		"event":      ev.Type,
		"request_id": ev.RequestID,
	}).Debug("Event published")
}

// Nop discards events.
var Nop Sink = SinkFunc(func(Event) {})
