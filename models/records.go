// Package models defines data structures shared by the extractor packages.
package models

import "time"

// Record is one parsed row keyed by normalized field name. Values are never
// coerced; the upstream API only speaks strings.
type Record map[string]string

// Technician is a hierarchy node of type "Technician".
type Technician struct {
	NodeID int
	Name   string
	Type   string
	Fields Record
}

// Window is the half-open interval [Start, End) one report fetch covers.
type Window struct {
	Start time.Time
	End   time.Time
}

// Duration returns End - Start.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// StreamResult summarises one stream's extraction.
type StreamResult struct {
	Stream      string
	Records     int
	Windows     int
	Technicians int
	Duration    time.Duration
}

// SyncResult holds the overall result of a sync run.
type SyncResult struct {
	StartTime time.Time
	EndTime   time.Time
	Streams   []StreamResult
	Requests  int
	Backoffs  int
}

// TotalRecords sums emitted records across streams.
func (r *SyncResult) TotalRecords() int {
	total := 0
	for _, s := range r.Streams {
		total += s.Records
	}
	return total
}
