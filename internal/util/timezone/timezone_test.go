package timezone

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestDay(t *testing.T) {
	Convey("Given a configured zone", t, func() {
		Initialize("America/New_York")
		Reset(func() { Initialize("UTC") })

		Convey("Day uses the local calendar date", func() {
			ts := time.Date(2024, 3, 5, 2, 30, 0, 0, time.UTC)
			So(Day(ts), ShouldEqual, "2024-03-04")
		})

		Convey("ParseDay round-trips", func() {
			d, err := ParseDay("2024-03-04")
			So(err, ShouldBeNil)
			So(Day(d), ShouldEqual, "2024-03-04")
		})
	})

	Convey("An unknown zone falls back to UTC", t, func() {
		Initialize("Not/AZone")
		So(Location(), ShouldEqual, time.UTC)
	})
}
