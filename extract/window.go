package extract

import (
	"time"

	"github.com/aluiziolira/go-rescue-extract/models"
)

// WindowSize is the longest range one report request covers.
const WindowSize = 7 * 24 * time.Hour

// Clock abstracts time to keep extraction deterministic in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// NextWindow returns [start, min(start+WindowSize, now)). It reports false
// once start has reached now.
func NextWindow(start, now time.Time) (models.Window, bool) {
	if !start.Before(now) {
		return models.Window{}, false
	}
	end := start.Add(WindowSize)
	if end.After(now) {
		end = now
	}
	return models.Window{Start: start, End: end}, true
}

// GenerateWindows returns every window from start up to a fixed horizon.
// The extractor itself calls NextWindow with a fresh "now" per window.
func GenerateWindows(start, horizon time.Time) []models.Window {
	var windows []models.Window
	for {
		w, ok := NextWindow(start, horizon)
		if !ok {
			return windows
		}
		windows = append(windows, w)
		start = w.End
	}
}
