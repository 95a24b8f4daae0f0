package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"agentindex/internal/domain"
	"agentindex/internal/infra/tracer"
)

// protocolVersion tags every discovery response.
const protocolVersion = "agentindex/v1"

const (
	defaultMaxResults = 10

	// vectorOverfetch widens the nearest-neighbor retrieval so post-filtering
	// still fills the page.
	vectorOverfetch = 5

	blendSimilarity = 0.7
	blendQuality    = 0.3
)

// Discovery answers "I need an agent that can X". The vector index is the
// primary path; FTS and capability matching are fallbacks, so an absent or
// empty index degrades quality, never availability.
type Discovery struct {
	store      domain.RecordStore
	queryLog   domain.QueryLog
	vector     domain.VectorSearcher
	maxResults int
	logger     *slog.Logger
}

// NewDiscovery creates a Discovery. vector may be nil.
func NewDiscovery(store domain.RecordStore, queryLog domain.QueryLog, vector domain.VectorSearcher, maxResults int, logger *slog.Logger) *Discovery {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	return &Discovery{
		store:      store,
		queryLog:   queryLog,
		vector:     vector,
		maxResults: maxResults,
		logger:     logger,
	}
}

// Discover runs one discovery query and logs it.
func (d *Discovery) Discover(ctx context.Context, req domain.DiscoverRequest) (*domain.DiscoverResponse, error) {
	if strings.TrimSpace(req.Need) == "" {
		return nil, fmt.Errorf("%w: need is required", domain.ErrInvalidInput)
	}

	ctx, span := tracer.StartSpan(ctx, "discovery.discover")
	defer span.End()

	start := time.Now()

	limit := req.MaxResults
	if limit <= 0 {
		limit = defaultMaxResults
	}
	if limit > d.maxResults {
		limit = d.maxResults
	}

	filter := domain.RecordFilter{
		Category:   req.Category,
		Protocols:  req.Protocols,
		MinQuality: req.MinQuality,
	}

	recs, method := d.vectorSearch(ctx, req.Need, filter, limit)
	if len(recs) == 0 {
		var err error
		method = "lexical"
		recs, err = d.store.SearchLexical(ctx, req.Need, filter, limit)
		if err != nil {
			tracer.RecordError(span, err)
			return nil, err
		}
	}
	if len(recs) == 0 {
		method = "capability"
		var err error
		recs, err = d.store.SearchCapability(ctx, firstToken(req.Need), filter, limit)
		if err != nil {
			tracer.RecordError(span, err)
			return nil, err
		}
	}

	indexSize, err := d.store.CountActive(ctx)
	if err != nil {
		d.logger.Warn("counting active records failed", "error", err)
	}

	results := make([]domain.AgentSummary, 0, len(recs))
	for _, rec := range recs {
		results = append(results, rec.Summary())
	}

	entry := domain.QueryLogEntry{
		Need:         req.Need,
		Category:     req.Category,
		Protocols:    req.Protocols,
		SearchMethod: method,
		ResultCount:  len(results),
		LatencyMS:    int(time.Since(start).Milliseconds()),
	}
	if len(recs) > 0 {
		entry.TopResultID = recs[0].ID
	}
	if err := d.queryLog.Append(ctx, entry); err != nil {
		d.logger.Warn("appending discovery log failed", "error", err)
	}

	span.SetAttributes(
		tracer.StringAttr("search.method", method),
		tracer.IntAttr("search.results", len(results)),
	)
	tracer.SetOK(span)

	return &domain.DiscoverResponse{
		Results:       results,
		TotalMatching: len(results),
		IndexSize:     indexSize,
		Protocol:      protocolVersion,
	}, nil
}

// vectorSearch runs the semantic path. Any failure degrades to the lexical
// fallback with a warning, never an error to the caller.
func (d *Discovery) vectorSearch(ctx context.Context, need string, f domain.RecordFilter, limit int) ([]*domain.AgentRecord, string) {
	if d.vector == nil || d.vector.Size() == 0 {
		return nil, ""
	}

	hits, err := d.vector.Search(ctx, need, limit*vectorOverfetch)
	if err != nil {
		d.logger.Warn("vector search failed, falling back to lexical", "error", err)
		return nil, ""
	}
	if len(hits) == 0 {
		return nil, ""
	}

	ids := make([]string, len(hits))
	similarity := make(map[string]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.AgentID
		similarity[h.AgentID] = h.Score
	}

	recs, err := d.store.ListByIDs(ctx, ids, f)
	if err != nil {
		d.logger.Warn("fetching vector candidates failed, falling back", "error", err)
		return nil, ""
	}
	if len(recs) == 0 {
		return nil, ""
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return blended(recs[i], similarity) > blended(recs[j], similarity)
	})
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, "vector"
}

func blended(rec *domain.AgentRecord, similarity map[string]float64) float64 {
	return blendSimilarity*similarity[rec.ID] + blendQuality*rec.QualityScore
}

// GetAgent returns the full public projection of one active record.
func (d *Discovery) GetAgent(ctx context.Context, id string) (*domain.AgentDetail, error) {
	rec, err := d.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.IsActive {
		return nil, fmt.Errorf("%w: id %s", domain.ErrRecordNotFound, id)
	}
	detail := rec.Detail()
	return &detail, nil
}

func firstToken(s string) string {
	if fields := strings.Fields(s); len(fields) > 0 {
		return fields[0]
	}
	return s
}
