package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/aluiziolira/go-rescue-extract/client"
	"github.com/aluiziolira/go-rescue-extract/parser"
)

// ErrReportConfiguration indicates a report configuration or fetch step that
// did not answer OK.
type ErrReportConfiguration struct {
	Stream string
	Step   string
	Status string
}

func (e ErrReportConfiguration) Error() string {
	return fmt.Sprintf("%s: %s request returned status %q", e.Stream, e.Step, e.Status)
}

// ErrRequirementsUnmet indicates a selected stream whose prerequisite stream
// was not selected.
type ErrRequirementsUnmet struct {
	Stream   string
	Requires string
}

func (e ErrRequirementsUnmet) Error() string {
	return fmt.Sprintf("unable to extract %s: requires %s to be selected", e.Stream, e.Requires)
}

// ErrorLabel classifies err for metrics and logs.
func ErrorLabel(err error) string {
	if err == nil {
		return ""
	}
	if label := client.ErrorLabel(err); label != "" {
		return label
	}

	var configErr ErrReportConfiguration
	var reqErr ErrRequirementsUnmet
	switch {
	case parser.IsParseError(err):
		return "parse"
	case errors.As(err, &configErr):
		return "report_configuration"
	case errors.As(err, &reqErr):
		return "requirements_unmet"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "unknown"
	}
}
