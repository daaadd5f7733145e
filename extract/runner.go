package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aluiziolira/go-rescue-extract/models"
	"github.com/aluiziolira/go-rescue-extract/parser"
)

// Selection is the resolved set of streams for a run.
type Selection struct {
	Roster bool
	Kinds  []ReportKind
}

// SelectStreams resolves stream names; an empty list selects everything.
// A report stream selected without its prerequisite is ErrRequirementsUnmet.
func SelectStreams(streams []string) (Selection, error) {
	if len(streams) == 0 {
		return Selection{Roster: true, Kinds: ReportKinds()}, nil
	}

	wanted := make(map[string]bool, len(streams))
	for _, s := range streams {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := KindForStream(s); !ok && s != TechniciansStream {
			return Selection{}, fmt.Errorf("unknown stream %q", s)
		}
		wanted[s] = true
	}

	sel := Selection{Roster: wanted[TechniciansStream]}
	// table order, whatever order they were named in
	for _, kind := range ReportKinds() {
		spec := kind.Spec()
		if !wanted[spec.Stream] {
			continue
		}
		if spec.Requires != "" && !wanted[spec.Requires] {
			return Selection{}, ErrRequirementsUnmet{Stream: spec.Stream, Requires: spec.Requires}
		}
		sel.Kinds = append(sel.Kinds, kind)
	}
	return sel, nil
}

// Strategy maps the configured report output ("xml" or "text") to the
// setOutput mode and the parser that reads it.
func Strategy(p *parser.Parser, reportOutput string) (string, parser.Strategy, error) {
	switch strings.ToLower(reportOutput) {
	case "", "xml":
		return OutputXML, p.XML, nil
	case "text":
		return OutputText, p.Pipe, nil
	default:
		return "", nil, fmt.Errorf("unknown report output %q", reportOutput)
	}
}

// Runner drives a full sync: the roster, then each selected report kind in
// turn. Nothing runs concurrently.
type Runner struct {
	deps         Deps
	parser       *parser.Parser
	streams      []string
	reportOutput string
}

// NewRunner builds a runner for the named streams.
func NewRunner(deps Deps, p *parser.Parser, streams []string, reportOutput string) *Runner {
	return &Runner{
		deps:         deps.withDefaults(),
		parser:       p,
		streams:      streams,
		reportOutput: reportOutput,
	}
}

// Run executes the sync. The partial result is returned alongside any error.
func (r *Runner) Run(ctx context.Context) (*models.SyncResult, error) {
	obs := r.deps.Observer
	result := &models.SyncResult{StartTime: r.deps.Clock.Now()}
	finish := func(err error) (*models.SyncResult, error) {
		result.EndTime = r.deps.Clock.Now()
		return result, err
	}

	sel, err := SelectStreams(r.streams)
	if err != nil {
		obs.Metrics.IncError(ErrorLabel(err))
		return finish(err)
	}
	output, strategy, err := Strategy(r.parser, r.reportOutput)
	if err != nil {
		return finish(err)
	}

	ctx, span := obs.Tracer.Start(ctx, "extract.Sync")
	defer span.End()

	if !sel.Roster {
		obs.Logger.InfoContext(ctx, "no streams selected")
		return finish(nil)
	}

	ids, rosterResult, err := NewRosterExtractor(r.deps, r.parser).Run(ctx)
	result.Streams = append(result.Streams, rosterResult)
	if err != nil {
		return finish(err)
	}

	for _, kind := range sel.Kinds {
		obs.Logger.InfoContext(ctx, "syncing stream", slog.String("stream", kind.String()))
		streamResult, err := NewReportExtractor(kind, r.deps, strategy, output).Run(ctx, ids)
		result.Streams = append(result.Streams, streamResult)
		if err != nil {
			return finish(err)
		}
	}
	return finish(nil)
}
