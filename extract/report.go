package extract

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aluiziolira/go-rescue-extract/models"
	"github.com/aluiziolira/go-rescue-extract/parser"
	"github.com/aluiziolira/go-rescue-extract/state"
	"github.com/aluiziolira/go-rescue-extract/telemetry"
)

// API endpoints driven by the report extractor.
const (
	ReportAreaPath   = "/API/setReportArea_v8.aspx"
	ReportDatePath   = "/API/setReportDate_v2.aspx"
	ReportOutputPath = "/API/setOutput.aspx"
	ReportPath       = "/API/getReport_v2.aspx"

	// reportDateLayout is the month/day/year form setReportDate expects.
	reportDateLayout = "1/2/2006 15:04:05"
)

// Report output modes understood by setOutput.
const (
	OutputXML  = "XML"
	OutputText = "TEXT"
)

// Requester issues an authenticated API request and returns the body.
type Requester interface {
	Request(ctx context.Context, method, path string, params url.Values) (string, error)
}

// Checkpoints is the slice of the checkpoint store the extractor needs.
type Checkpoints interface {
	Put(stream, field string, value any, force bool) bool
	Persist(ctx context.Context) error
	StartDate(stream string) (time.Time, bool, error)
	TechnicianID(stream string) (int, bool, error)
}

// Emitter receives parsed records.
type Emitter interface {
	Emit(ctx context.Context, stream string, records []models.Record) error
}

// Deps are the collaborators shared by every extractor.
type Deps struct {
	Client    Requester
	Store     Checkpoints
	Emitter   Emitter
	Clock     Clock
	Observer  *telemetry.Observer
	StartDate time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = SystemClock{}
	}
	if d.Observer == nil {
		d.Observer = telemetry.Nop()
	}
	return d
}

// ReportExtractor pulls one report kind window by window and technician by
// technician, checkpointing after every technician.
type ReportExtractor struct {
	spec   KindSpec
	deps   Deps
	parse  parser.Strategy
	output string
	obs    *telemetry.Observer
}

// NewReportExtractor builds an extractor for kind. parse must understand the
// bodies produced by output (OutputXML or OutputText).
func NewReportExtractor(kind ReportKind, deps Deps, parse parser.Strategy, output string) *ReportExtractor {
	deps = deps.withDefaults()
	spec := kind.Spec()
	return &ReportExtractor{
		spec:   spec,
		deps:   deps,
		parse:  parse,
		output: output,
		obs:    deps.Observer.With(slog.String("stream", spec.Stream)),
	}
}

// Stream returns the stream name this extractor writes.
func (e *ReportExtractor) Stream() string {
	return e.spec.Stream
}

// Run extracts every window from the checkpointed start up to now for the
// given ascending technician ids. After each technician the checkpoint holds
// technician_id=id with start_date=window start; a completed window moves
// start_date to its end and resets technician_id to 0. A resumed run skips
// ids below the checkpointed technician and re-runs that technician.
func (e *ReportExtractor) Run(ctx context.Context, technicianIDs []int) (models.StreamResult, error) {
	stream := e.spec.Stream
	began := time.Now()
	result := models.StreamResult{Stream: stream, Technicians: len(technicianIDs)}

	ctx, span := e.obs.Tracer.Start(ctx, "extract.Report")
	defer span.End()
	span.SetAttributes(attribute.String("stream", stream))

	fail := func(err error) (models.StreamResult, error) {
		result.Duration = time.Since(began)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.obs.Metrics.IncError(ErrorLabel(err))
		return result, err
	}

	windowStart, ok, err := e.deps.Store.StartDate(stream)
	if err != nil {
		return fail(err)
	}
	if !ok {
		windowStart = e.deps.StartDate
	}
	resumeID, _, err := e.deps.Store.TechnicianID(stream)
	if err != nil {
		return fail(err)
	}

	e.obs.Logger.InfoContext(ctx, "starting report sync",
		slog.Time("start_date", windowStart),
		slog.Int("technician_id", resumeID),
		slog.Int("technicians", len(technicianIDs)),
	)

	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		window, ok := NextWindow(windowStart, e.deps.Clock.Now())
		if !ok {
			break
		}

		for i, id := range technicianIDs {
			if id < resumeID {
				continue
			}
			if err := ctx.Err(); err != nil {
				return fail(err)
			}

			e.obs.Logger.InfoContext(ctx, "fetching report",
				slog.Int("technician_id", id),
				slog.String("progress", fmt.Sprintf("%d/%d", i+1, len(technicianIDs))),
				slog.Time("window_start", window.Start),
				slog.Time("window_end", window.End),
			)
			n, err := e.step(ctx, window, id)
			if err != nil {
				return fail(fmt.Errorf("%s technician %d window %s: %w",
					stream, id, window.Start.Format(time.RFC3339), err))
			}
			result.Records += n

			e.deps.Store.Put(stream, state.FieldTechnicianID, id, false)
			e.deps.Store.Put(stream, state.FieldStartDate, window.Start, false)
			if err := e.persist(ctx); err != nil {
				return fail(err)
			}
		}

		e.deps.Store.Put(stream, state.FieldStartDate, window.End, false)
		e.deps.Store.Put(stream, state.FieldTechnicianID, 0, true)
		if err := e.persist(ctx); err != nil {
			return fail(err)
		}
		resumeID = 0
		windowStart = window.End
		result.Windows++
	}

	result.Duration = time.Since(began)
	e.obs.Logger.InfoContext(ctx, "report sync complete",
		slog.Int("records", result.Records),
		slog.Int("windows", result.Windows),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

// step configures, fetches, parses and emits one (window, technician) unit.
func (e *ReportExtractor) step(ctx context.Context, window models.Window, technicianID int) (int, error) {
	ctx, span := e.obs.Tracer.Start(ctx, "extract.ReportStep")
	defer span.End()
	span.SetAttributes(attribute.Int("technician_id", technicianID))

	if err := e.configure(ctx, window); err != nil {
		return 0, err
	}

	body, err := e.deps.Client.Request(ctx, http.MethodGet, ReportPath, url.Values{
		"node":     {strconv.Itoa(technicianID)},
		"nodetype": {"NODE"},
	})
	if err != nil {
		return 0, err
	}
	status, _, err := parser.SplitStatus(body)
	if err != nil {
		return 0, err
	}
	if status != parser.StatusOK {
		return 0, ErrReportConfiguration{Stream: e.spec.Stream, Step: "getReport", Status: status}
	}

	table, err := e.parse(body)
	if err != nil {
		return 0, err
	}
	if err := e.deps.Emitter.Emit(ctx, e.spec.Stream, table.Rows); err != nil {
		return 0, err
	}
	e.obs.Logger.DebugContext(ctx, "report rows emitted",
		slog.Int("technician_id", technicianID),
		slog.Int("rows", len(table.Rows)),
	)
	return len(table.Rows), nil
}

// configure runs the three stateful server-side setup calls. They are repeated
// before every fetch.
func (e *ReportExtractor) configure(ctx context.Context, window models.Window) error {
	steps := []struct {
		name   string
		path   string
		params url.Values
	}{
		{"setReportArea", ReportAreaPath, url.Values{"area": {strconv.Itoa(e.spec.Area)}}},
		{"setReportDate", ReportDatePath, url.Values{
			"bdate": {window.Start.UTC().Format(reportDateLayout)},
			"edate": {window.End.UTC().Format(reportDateLayout)},
		}},
		{"setOutput", ReportOutputPath, url.Values{"output": {e.output}}},
	}

	for _, s := range steps {
		body, err := e.deps.Client.Request(ctx, http.MethodPost, s.path, s.params)
		if err != nil {
			return err
		}
		if status := parser.Status(body); status != parser.StatusOK {
			return ErrReportConfiguration{Stream: e.spec.Stream, Step: s.name, Status: status}
		}
	}
	return nil
}

func (e *ReportExtractor) persist(ctx context.Context) error {
	if err := e.deps.Store.Persist(ctx); err != nil {
		return err
	}
	e.obs.Metrics.IncCheckpoint(e.spec.Stream)
	return nil
}
