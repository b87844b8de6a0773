package timezone

import (
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DayLayout is the calendar-day format stored on attendance records.
const DayLayout = "2006-01-02"

var (
	mu              sync.RWMutex
	currentLocation *time.Location
)

// Initialize sets the zone used for attendance days. An empty name falls back to TZ, then UTC.
func Initialize(name string) {
	tzName := name
	if tzName == "" {
		tzName = os.Getenv("TZ")
	}
	if tzName == "" {
		tzName = "UTC"
	}

	loc, err := time.LoadLocation(tzName)
	if err != nil {
		log.Warnf("Failed to load timezone %s: %v. Falling back to UTC.", tzName, err)
		loc = time.UTC
	} else {
		log.Infof("Successfully initialized timezone to %s", tzName)
	}

	mu.Lock()
	currentLocation = loc
	mu.Unlock()
}

// Location returns the configured zone.
func Location() *time.Location {
	mu.RLock()
	loc := currentLocation
	mu.RUnlock()
	if loc == nil {
		// noch nicht initialisiert
		return time.UTC
	}
	return loc
}

// Now returns the current time in the configured zone.
func Now() time.Time {
	return time.Now().In(Location())
}

// Day returns the calendar day of t in the configured zone.
func Day(t time.Time) string {
	return t.In(Location()).Format(DayLayout)
}

// ParseDay parses a YYYY-MM-DD string in the configured zone.
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(DayLayout, s, Location())
}

// ISO8601 formats t in RFC 3339 in the configured zone.
func ISO8601(t time.Time) string {
	return t.In(Location()).Format(time.RFC3339)
}
