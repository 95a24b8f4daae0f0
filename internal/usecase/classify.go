package usecase

import (
	"context"
	"log/slog"
	"math"
	"time"

	"agentindex/internal/domain"
	"agentindex/internal/infra/tracer"
)

// ClassifyStats reports one classification pass.
type ClassifyStats struct {
	Classified    int `json:"classified"`
	Removed       int `json:"removed"`
	Deprioritized int `json:"deprioritized"`
	Failed        int `json:"failed"`
}

// Classifier runs the deep oracle pass over parsed records: trust signals,
// security assessment, refined category and capabilities, and a
// recommendation that can retire the record outright. Highest-quality
// records go first.
type Classifier struct {
	store  domain.RecordStore
	oracle domain.Oracle
	logger *slog.Logger
}

// NewClassifier creates a Classifier.
func NewClassifier(store domain.RecordStore, oracle domain.Oracle, logger *slog.Logger) *Classifier {
	return &Classifier{store: store, oracle: oracle, logger: logger}
}

// Run classifies up to batch parsed records. An oracle failure leaves the
// record parsed; the next pass retries it.
func (c *Classifier) Run(ctx context.Context, batch int) (*ClassifyStats, error) {
	if batch <= 0 {
		batch = 20
	}

	ctx, span := tracer.StartSpan(ctx, "jobs.classify")
	defer span.End()

	recs, err := c.store.ListActive(ctx, []domain.LifecycleState{domain.StateParsed}, batch)
	if err != nil {
		return nil, err
	}

	stats := &ClassifyStats{}
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		c.classifyOne(ctx, rec, stats)
	}

	c.logger.Info("classification batch complete",
		"classified", stats.Classified, "removed", stats.Removed,
		"deprioritized", stats.Deprioritized, "failed", stats.Failed)
	return stats, nil
}

func (c *Classifier) classifyOne(ctx context.Context, rec *domain.AgentRecord, stats *ClassifyStats) {
	result, err := c.oracle.Classify(ctx, rec, metaString(rec, metaReadme))
	if err != nil {
		c.logger.Warn("oracle classify failed", "id", rec.ID, "name", rec.Name, "error", err)
		stats.Failed++
		return
	}

	setMeta(rec, metaClassify, classificationRecord{
		Model:  c.oracle.Name(),
		At:     time.Now().UTC(),
		Result: result,
	})

	if result.Recommendation == domain.RecommendRemove {
		rec.LifecycleState = domain.StateRemoved
		rec.IsActive = false
		if err := c.store.Update(ctx, rec); err != nil {
			c.logger.Warn("removing record failed", "id", rec.ID, "error", err)
			stats.Failed++
			return
		}
		stats.Removed++
		return
	}

	if result.CategoryRefined != "" {
		rec.Category = result.CategoryRefined
	}
	if len(result.CapabilitiesRefined) > 0 {
		rec.Capabilities = result.CapabilitiesRefined
	}
	if len(result.TagsRefined) > 0 {
		rec.Tags = uniqueStrings(append(rec.Tags, result.TagsRefined...))
	}
	rec.SecurityScore = result.Security.Score

	switch {
	case result.QualityOverride != nil:
		rec.QualityScore = *result.QualityOverride
	case result.Recommendation == domain.RecommendDeprioritize:
		rec.QualityScore = math.Max(rec.QualityScore*0.5, 0.05)
		stats.Deprioritized++
	default:
		rec.QualityScore = 0.6*rec.QualityScore + 0.4*trustScore(result.TrustSignals)
	}

	rec.LifecycleState = domain.StateClassified
	if err := c.store.Update(ctx, rec); err != nil {
		c.logger.Warn("persisting classification failed", "id", rec.ID, "error", err)
		stats.Failed++
		return
	}
	stats.Classified++
}

// classificationRecord is the provenance stored alongside a classified
// record; the ranker reads the trust signals back out of it.
type classificationRecord struct {
	Model  string                 `json:"model"`
	At     time.Time              `json:"at"`
	Result *domain.ClassifyResult `json:"result"`
}

// trustScore collapses the classifier's boolean trust signals into one
// weighted value in [0,1].
func trustScore(t domain.TrustSignals) float64 {
	score := 0.0
	if t.HasTests {
		score += 0.15
	}
	if t.HasCI {
		score += 0.10
	}
	if t.HasLicense {
		score += 0.10
	}
	if t.HasExamples {
		score += 0.15
	}
	if t.ActiveMaintenance {
		score += 0.20
	}
	if t.ClearDocumentation {
		score += 0.15
	}
	if t.KnownAuthor {
		score += 0.15
	}
	return score
}
