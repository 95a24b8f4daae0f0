package usecase

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"agentindex/internal/domain"
	"agentindex/internal/infra/tracer"
)

// ParseStats reports one parse pass.
type ParseStats struct {
	Parsed   int `json:"parsed"`
	Rejected int `json:"rejected"`
	Failed   int `json:"failed"`
}

// Parser runs the first oracle pass over freshly indexed records: is this
// an agent at all, and what are its first structured fields. Most-starred
// records go first; parse_failed records get another try once the retry
// window has passed.
type Parser struct {
	store      domain.RecordStore
	oracle     domain.Oracle
	retryAfter time.Duration
	logger     *slog.Logger
}

// NewParser creates a Parser. retryAfter bounds how soon a parse_failed
// record is retried; zero means 24h.
func NewParser(store domain.RecordStore, oracle domain.Oracle, retryAfter time.Duration, logger *slog.Logger) *Parser {
	if retryAfter <= 0 {
		retryAfter = 24 * time.Hour
	}
	return &Parser{store: store, oracle: oracle, retryAfter: retryAfter, logger: logger}
}

// Run parses up to batch records. Oracle failures park the record in
// parse_failed and the batch continues.
func (p *Parser) Run(ctx context.Context, batch int) (*ParseStats, error) {
	if batch <= 0 {
		batch = 50
	}

	ctx, span := tracer.StartSpan(ctx, "jobs.parse")
	defer span.End()

	recs, err := p.store.ListByState(ctx, domain.StateIndexed, batch)
	if err != nil {
		return nil, err
	}
	recs = append(recs, p.retryable(ctx, batch-len(recs))...)

	stats := &ParseStats{}
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		p.parseOne(ctx, rec, stats)
	}

	p.logger.Info("parse batch complete",
		"parsed", stats.Parsed, "rejected", stats.Rejected, "failed", stats.Failed)
	return stats, nil
}

// retryable returns parse_failed records whose last attempt is older than
// the retry window.
func (p *Parser) retryable(ctx context.Context, limit int) []*domain.AgentRecord {
	if limit <= 0 {
		return nil
	}
	failed, err := p.store.ListByState(ctx, domain.StateParseFailed, limit)
	if err != nil {
		p.logger.Warn("listing parse_failed records failed", "error", err)
		return nil
	}
	cutoff := time.Now().UTC().Add(-p.retryAfter)
	var out []*domain.AgentRecord
	for _, rec := range failed {
		if t := metaTime(rec, metaParseFailedAt); t.IsZero() || t.Before(cutoff) {
			out = append(out, rec)
		}
	}
	return out
}

func (p *Parser) parseOne(ctx context.Context, rec *domain.AgentRecord, stats *ParseStats) {
	result, err := p.oracle.Parse(ctx, domain.RecordEvidence{
		Name:        rec.Name,
		Description: rec.Description,
		Readme:      metaString(rec, metaReadme),
		Tags:        rec.Tags,
		Language:    rec.Language,
		Author:      rec.Author,
		SourceKind:  rec.SourceKind,
	})
	if err != nil {
		rec.LifecycleState = domain.StateParseFailed
		setMeta(rec, metaParseError, err.Error())
		setMeta(rec, metaParseFailedAt, time.Now().UTC())
		if uerr := p.store.Update(ctx, rec); uerr != nil {
			p.logger.Warn("marking parse_failed failed", "id", rec.ID, "error", uerr)
		}
		p.logger.Warn("oracle parse failed", "id", rec.ID, "name", rec.Name, "error", err)
		stats.Failed++
		return
	}

	if !result.IsAgent {
		rec.LifecycleState = domain.StateNotAgent
		rec.IsActive = false
		if err := p.store.Update(ctx, rec); err != nil {
			p.logger.Warn("marking not_agent failed", "id", rec.ID, "error", err)
		}
		stats.Rejected++
		return
	}

	if result.Category != "" {
		rec.Category = result.Category
	}
	if len(result.Capabilities) > 0 {
		rec.Capabilities = result.Capabilities
	}
	if rec.Description == "" && result.DescriptionShort != "" {
		rec.Description = result.DescriptionShort
	}

	readme := metaString(rec, metaReadme)
	rec.DocumentationScore = documentationScore(readme)
	rec.ActivityScore = activityStep(rec.LastSourceUpdatedAt)
	rec.PopularityScore = popularityStep(rec.Stars)
	rec.CapabilityDepthScore = capabilityStep(len(rec.Capabilities))
	rec.QualityScore = provisionalQuality(rec)

	rec.LifecycleState = domain.StateParsed
	setMeta(rec, metaParse, oracleProvenance{
		Model: p.oracle.Name(),
		At:    time.Now().UTC(),
	})
	delete(rec.RawMetadata, metaParseError)

	if err := p.store.Update(ctx, rec); err != nil {
		p.logger.Warn("persisting parse result failed", "id", rec.ID, "error", err)
		stats.Failed++
		return
	}
	stats.Parsed++
}

// oracleProvenance records which model produced a pipeline decision.
type oracleProvenance struct {
	Model string    `json:"model"`
	At    time.Time `json:"at"`
}

// documentationScore is a cheap readme heuristic; the oracle's deeper read
// refines quality at classification time.
func documentationScore(readme string) float64 {
	if readme == "" {
		return 0
	}
	score := 0.0
	if len(readme) > 500 {
		score += 0.3
	}
	if len(readme) > 2000 {
		score += 0.2
	}
	if strings.HasPrefix(readme, "#") || strings.Contains(readme, "\n#") {
		score += 0.1
	}
	lower := strings.ToLower(readme)
	if strings.Contains(lower, "install") {
		score += 0.1
	}
	if strings.Contains(lower, "example") || strings.Contains(lower, "usage") {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

// activityStep maps source recency onto a coarse activity score. Unknown
// update time scores zero until classification fills in better signals.
func activityStep(last *time.Time) float64 {
	if last == nil {
		return 0
	}
	days := time.Since(*last).Hours() / 24
	switch {
	case days < 7:
		return 1.0
	case days < 30:
		return 0.8
	case days < 90:
		return 0.6
	case days < 180:
		return 0.4
	case days < 365:
		return 0.2
	default:
		return 0.1
	}
}

func popularityStep(stars int) float64 {
	switch {
	case stars >= 1000:
		return 1.0
	case stars >= 500:
		return 0.9
	case stars >= 100:
		return 0.7
	case stars >= 50:
		return 0.5
	case stars >= 10:
		return 0.3
	case stars >= 1:
		return 0.1
	default:
		return 0
	}
}

func capabilityStep(n int) float64 {
	switch {
	case n >= 5:
		return 0.8
	case n >= 3:
		return 0.6
	case n >= 1:
		return 0.4
	default:
		return 0.1
	}
}

// provisionalQuality blends the parse-time heuristics into an initial
// quality score. The 0.5 term is a neutral placeholder for the security
// sub-score the classifier has not produced yet.
func provisionalQuality(rec *domain.AgentRecord) float64 {
	return rec.DocumentationScore*0.2 +
		rec.ActivityScore*0.25 +
		rec.PopularityScore*0.2 +
		rec.CapabilityDepthScore*0.2 +
		0.5*0.15
}
