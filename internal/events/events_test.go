package events

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestMulti(t *testing.T) {
	Convey("Multi delivers to every sink", t, func() {
		var got []Type
		collect := SinkFunc(func(ev Event) { got = append(got, ev.Type) })
		boom := SinkFunc(func(ev Event) { panic("sink broke") })

		m := Multi{collect, nil, boom, collect, LogSink{}}
		So(func() { m.Publish(New(AttendanceRecorded, "req-1", nil)) }, ShouldNotPanic)
		So(got, ShouldResemble, []Type{AttendanceRecorded, AttendanceRecorded})
	})
}
