package usecase

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"agentindex/internal/domain"
)

// TrendingAgent pairs a record with its top-result appearance count over
// the trending window.
type TrendingAgent struct {
	Agent       domain.AgentSummary `json:"agent"`
	Appearances int                 `json:"appearances"`
}

// CategoryLeader is the best-ranked active record in a category.
type CategoryLeader struct {
	Category string              `json:"category"`
	Agent    domain.AgentSummary `json:"agent"`
}

// StatsService serves the read-side aggregates: index counts, trending
// agents, and per-category leaders.
type StatsService struct {
	store    domain.RecordStore
	queryLog domain.QueryLog
	vector   domain.VectorSearcher
	logger   *slog.Logger
}

// NewStatsService creates a StatsService. vector may be nil.
func NewStatsService(store domain.RecordStore, queryLog domain.QueryLog, vector domain.VectorSearcher, logger *slog.Logger) *StatsService {
	return &StatsService{store: store, queryLog: queryLog, vector: vector, logger: logger}
}

// Stats returns the public index statistics.
func (s *StatsService) Stats(ctx context.Context) (*domain.IndexStats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	if s.vector != nil {
		stats.VectorIndexSize = s.vector.Size()
	}
	return stats, nil
}

// Trending returns the records most often chosen as top discovery result
// inside the window, most-demanded first.
func (s *StatsService) Trending(ctx context.Context, window time.Duration, limit int) ([]TrendingAgent, error) {
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	if limit <= 0 {
		limit = 10
	}

	tops, err := s.queryLog.TopAppearances(ctx, time.Now().Add(-window))
	if err != nil {
		return nil, err
	}

	var out []TrendingAgent
	for _, t := range tops {
		if len(out) >= limit {
			break
		}
		rec, err := s.store.GetByID(ctx, t.AgentID)
		if err != nil || !rec.IsActive {
			continue
		}
		out = append(out, TrendingAgent{Agent: rec.Summary(), Appearances: t.Appearances})
	}
	return out, nil
}

// CategoryLeaders returns the highest-quality active record per category,
// sorted by category name.
func (s *StatsService) CategoryLeaders(ctx context.Context) ([]CategoryLeader, error) {
	recs, err := s.store.ListActive(ctx, domain.SearchableStates, rankPageLimit)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []CategoryLeader
	for _, rec := range recs { // best quality first
		cat := rec.Category
		if cat == "" || seen[cat] {
			continue
		}
		seen[cat] = true
		out = append(out, CategoryLeader{Category: cat, Agent: rec.Summary()})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}
