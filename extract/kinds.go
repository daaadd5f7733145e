// Package extract walks the reporting API: the technician roster first, then
// every selected report in 7-day windows fanned out per technician.
package extract

import "fmt"

// TechniciansStream is the roster stream every report depends on.
const TechniciansStream = "technicians"

// ReportKind enumerates the report streams.
type ReportKind int

const (
	SessionReport ReportKind = iota
	TechnicianSurveyReport
	TransferredSessionsExtendedReport
)

// KindSpec is the per-report configuration.
type KindSpec struct {
	Stream        string
	Area          int
	KeyProperties []string
	Requires      string
}

var reportKinds = [...]KindSpec{
	SessionReport: {
		Stream:        "session_report",
		Area:          0,
		KeyProperties: []string{"session_id"},
		Requires:      TechniciansStream,
	},
	TechnicianSurveyReport: {
		Stream:        "technician_survey_report",
		Area:          8,
		KeyProperties: []string{"session_id"},
		Requires:      TechniciansStream,
	},
	TransferredSessionsExtendedReport: {
		Stream:        "transferred_sessions_extended_report",
		Area:          16,
		KeyProperties: []string{"session_id"},
		Requires:      TechniciansStream,
	},
}

// Spec returns the kind's configuration.
func (k ReportKind) Spec() KindSpec {
	if k < 0 || int(k) >= len(reportKinds) {
		panic(fmt.Sprintf("extract: unknown report kind %d", int(k)))
	}
	return reportKinds[k]
}

func (k ReportKind) String() string {
	if k < 0 || int(k) >= len(reportKinds) {
		return fmt.Sprintf("ReportKind(%d)", int(k))
	}
	return reportKinds[k].Stream
}

// ReportKinds lists every kind in table order.
func ReportKinds() []ReportKind {
	kinds := make([]ReportKind, len(reportKinds))
	for i := range reportKinds {
		kinds[i] = ReportKind(i)
	}
	return kinds
}

// KindForStream looks a report kind up by stream name.
func KindForStream(stream string) (ReportKind, bool) {
	for i, spec := range reportKinds {
		if spec.Stream == stream {
			return ReportKind(i), true
		}
	}
	return 0, false
}

// StreamInfo describes one catalog entry. Area is -1 for the roster.
type StreamInfo struct {
	Stream        string
	KeyProperties []string
	Requires      string
	Area          int
}

// Catalog lists the roster followed by every report stream.
func Catalog() []StreamInfo {
	out := []StreamInfo{{
		Stream:        TechniciansStream,
		KeyProperties: []string{"nodeid"},
		Area:          -1,
	}}
	for _, spec := range reportKinds {
		out = append(out, StreamInfo{
			Stream:        spec.Stream,
			KeyProperties: spec.KeyProperties,
			Requires:      spec.Requires,
			Area:          spec.Area,
		})
	}
	return out
}
