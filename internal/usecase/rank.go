package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"time"

	"agentindex/internal/domain"
	"agentindex/internal/infra/tracer"
)

// Ranking weights. They sum to 1.0 so an all-perfect record scores exactly
// 1 before decay and boost.
const (
	weightCodeQuality     = 0.20
	weightDocumentation   = 0.15
	weightMaintenance     = 0.20
	weightPopularity      = 0.15
	weightCapabilityDepth = 0.15
	weightSecurity        = 0.15
)

const (
	// decayAfterDays is how stale a record may get before its quality
	// starts eroding.
	decayAfterDays = 180
	// boostWindow is the trailing window of discovery-log appearances that
	// feed the demand boost.
	boostWindow = 7 * 24 * time.Hour

	rankPageLimit = 10000
)

// Ranker recomputes quality for every classified and ranked record from
// current signals, then applies staleness decay and demand boost. Ranking
// is idempotent: a second run over unchanged data yields the same scores.
type Ranker struct {
	store    domain.RecordStore
	queryLog domain.QueryLog
	logger   *slog.Logger
}

// NewRanker creates a Ranker. queryLog may be nil; the boost term is then
// skipped.
func NewRanker(store domain.RecordStore, queryLog domain.QueryLog, logger *slog.Logger) *Ranker {
	return &Ranker{store: store, queryLog: queryLog, logger: logger}
}

// Run rescores the rankable records. Per-record failures are logged and
// skipped; the run continues.
func (r *Ranker) Run(ctx context.Context) (*domain.RankStats, error) {
	ctx, span := tracer.StartSpan(ctx, "jobs.rank")
	defer span.End()

	maxima, err := r.store.PopularityMaxima(ctx)
	if err != nil {
		return nil, err
	}

	boosts := make(map[string]int)
	if r.queryLog != nil {
		tops, err := r.queryLog.TopAppearances(ctx, time.Now().Add(-boostWindow))
		if err != nil {
			r.logger.Warn("reading discovery log failed, skipping boost", "error", err)
		}
		for _, t := range tops {
			boosts[t.AgentID] = t.Appearances
		}
	}

	recs, err := r.store.ListActive(ctx, domain.RankableStates, rankPageLimit)
	if err != nil {
		return nil, err
	}

	stats := &domain.RankStats{}
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		r.score(rec, maxima)
		if decay(rec) {
			stats.Decayed++
		}
		if n := boosts[rec.ID]; n > 0 {
			boost(rec, n)
			stats.Boosted++
		}
		rec.LifecycleState = domain.StateRanked

		if err := r.store.Update(ctx, rec); err != nil {
			r.logger.Warn("persisting rank failed", "id", rec.ID, "error", err)
			continue
		}
		stats.Ranked++
	}

	r.logger.Info("ranking run complete",
		"ranked", stats.Ranked, "decayed", stats.Decayed, "boosted", stats.Boosted)
	return stats, nil
}

// score computes the weighted quality and stores the sub-scores back onto
// the record.
func (r *Ranker) score(rec *domain.AgentRecord, maxima domain.PopularityMaxima) {
	code := codeQualityScore(storedTrustSignals(rec))
	maint := maintenanceScore(rec.LastSourceUpdatedAt)
	pop := popularityScore(rec, maxima)
	depth := depthScore(len(rec.Capabilities))
	sec := rec.SecurityScore
	if sec == 0 {
		sec = 0.5
	}

	quality := weightCodeQuality*code +
		weightDocumentation*rec.DocumentationScore +
		weightMaintenance*maint +
		weightPopularity*pop +
		weightCapabilityDepth*depth +
		weightSecurity*sec

	rec.QualityScore = clampScore(quality)
	rec.ActivityScore = maint
	rec.PopularityScore = pop
	rec.CapabilityDepthScore = depth
	rec.SecurityScore = sec
}

// storedTrustSignals reads the classifier's trust signals back out of the
// record's provenance. Records that skipped classification score zero.
func storedTrustSignals(rec *domain.AgentRecord) domain.TrustSignals {
	raw, ok := rec.RawMetadata[metaClassify]
	if !ok {
		return domain.TrustSignals{}
	}
	var c classificationRecord
	if err := json.Unmarshal(raw, &c); err != nil || c.Result == nil {
		return domain.TrustSignals{}
	}
	return c.Result.TrustSignals
}

func codeQualityScore(t domain.TrustSignals) float64 {
	score := 0.0
	if t.HasTests {
		score += 0.3
	}
	if t.HasCI {
		score += 0.2
	}
	if t.HasLicense {
		score += 0.2
	}
	if t.HasExamples {
		score += 0.3
	}
	return score
}

// maintenanceScore steps down with source staleness. Unknown update time
// gets a low-but-nonzero 0.2: absence of evidence is not abandonment.
func maintenanceScore(last *time.Time) float64 {
	if last == nil {
		return 0.2
	}
	days := time.Since(*last).Hours() / 24
	switch {
	case days <= 7:
		return 1.0
	case days <= 30:
		return 0.85
	case days <= 90:
		return 0.65
	case days <= 180:
		return 0.45
	case days <= 365:
		return 0.25
	default:
		return 0.1
	}
}

// popularityScore log-normalizes stars, downloads, and forks against the
// per-run maxima so one viral record does not flatten the field.
func popularityScore(rec *domain.AgentRecord, m domain.PopularityMaxima) float64 {
	return 0.5*logRatio(rec.Stars, m.Stars) +
		0.35*logRatio(rec.Downloads, m.Downloads) +
		0.15*logRatio(rec.Forks, m.Forks)
}

func logRatio(v, max int) float64 {
	if v <= 0 || max <= 0 {
		return 0
	}
	denom := math.Log1p(float64(max))
	if denom == 0 {
		return 0
	}
	r := math.Log1p(float64(v)) / denom
	if r > 1 {
		r = 1
	}
	return r
}

func depthScore(n int) float64 {
	switch {
	case n == 0:
		return 0
	case n == 1:
		return 0.3
	case n <= 3:
		return 0.5
	case n <= 6:
		return 0.7
	case n <= 10:
		return 0.85
	default:
		return 0.9
	}
}

// decay erodes quality for records whose source has gone quiet: 0.05 per
// stale month, capped at 0.30, floored at 0.05 quality.
func decay(rec *domain.AgentRecord) bool {
	if rec.LastSourceUpdatedAt == nil {
		return false
	}
	days := time.Since(*rec.LastSourceUpdatedAt).Hours() / 24
	if days <= decayAfterDays {
		return false
	}
	penalty := math.Min(0.05*(days/30), 0.3)
	rec.QualityScore = math.Max(rec.QualityScore-penalty, 0.05)
	return true
}

// boost rewards records agents actually pick: 0.02 per top-result
// appearance in the window, capped at 0.10, quality capped at 1.
func boost(rec *domain.AgentRecord, appearances int) {
	b := math.Min(0.02*float64(appearances), 0.1)
	rec.QualityScore = math.Min(rec.QualityScore+b, 1.0)
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
