package extract

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/aluiziolira/go-rescue-extract/models"
	"github.com/aluiziolira/go-rescue-extract/parser"
	"github.com/aluiziolira/go-rescue-extract/telemetry"
)

// HierarchyPath returns the full technician hierarchy.
const HierarchyPath = "/API/getHierarchy_v2.aspx"

// RosterExtractor fetches the hierarchy once per run. It is not checkpointed.
type RosterExtractor struct {
	deps   Deps
	parser *parser.Parser
	obs    *telemetry.Observer
}

// NewRosterExtractor builds the roster extractor.
func NewRosterExtractor(deps Deps, p *parser.Parser) *RosterExtractor {
	deps = deps.withDefaults()
	return &RosterExtractor{
		deps:   deps,
		parser: p,
		obs:    deps.Observer.With(slog.String("stream", TechniciansStream)),
	}
}

// Run emits every technician node and returns their ids in ascending order.
func (r *RosterExtractor) Run(ctx context.Context) ([]int, models.StreamResult, error) {
	began := time.Now()
	result := models.StreamResult{Stream: TechniciansStream}

	ctx, span := r.obs.Tracer.Start(ctx, "extract.Roster")
	defer span.End()

	fail := func(err error) ([]int, models.StreamResult, error) {
		result.Duration = time.Since(began)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.obs.Metrics.IncError(ErrorLabel(err))
		return nil, result, fmt.Errorf("%s: %w", TechniciansStream, err)
	}

	body, err := r.deps.Client.Request(ctx, http.MethodGet, HierarchyPath, nil)
	if err != nil {
		return fail(err)
	}
	technicians, records, err := r.parser.Hierarchy(body)
	if err != nil {
		return fail(err)
	}
	if err := r.deps.Emitter.Emit(ctx, TechniciansStream, records); err != nil {
		return fail(err)
	}

	ids := make([]int, 0, len(technicians))
	for _, t := range technicians {
		ids = append(ids, t.NodeID)
	}
	sort.Ints(ids)

	result.Records = len(records)
	result.Technicians = len(ids)
	result.Duration = time.Since(began)
	r.obs.Logger.InfoContext(ctx, "roster sync complete", slog.Int("technicians", len(ids)))
	return ids, result, nil
}
