package usecase

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"agentindex/internal/domain"
	"agentindex/internal/infra/tracer"
)

// duplicateConfidence is the minimum oracle confidence before a pair is
// acted on. Below it both records stay live; a wrong merge is worse than a
// visible duplicate.
const duplicateConfidence = 0.7

// descriptionGate is the token-overlap threshold that sends a pair with
// different names to the oracle anyway.
const descriptionGate = 0.7

// DedupeStats reports one dedup pass.
type DedupeStats struct {
	Groups     int `json:"groups"`
	Compared   int `json:"compared"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

// Deduper resolves records that describe the same agent. Candidates group
// by normalized name; obvious cross-source republishing short-circuits,
// ambiguous pairs go to the oracle. The losing record is deactivated, never
// merged.
type Deduper struct {
	store  domain.RecordStore
	oracle domain.Oracle
	logger *slog.Logger
}

// NewDeduper creates a Deduper.
func NewDeduper(store domain.RecordStore, oracle domain.Oracle, logger *slog.Logger) *Deduper {
	return &Deduper{store: store, oracle: oracle, logger: logger}
}

// dedupeDecision is the provenance written onto the losing record.
type dedupeDecision struct {
	WinnerID     string    `json:"winner_id"`
	Method       string    `json:"method"` // same_author | oracle
	Confidence   float64   `json:"confidence"`
	Relationship string    `json:"relationship,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	DecidedAt    time.Time `json:"decided_at"`
}

// Run examines up to limit active records, best quality first.
func (d *Deduper) Run(ctx context.Context, limit int) (*DedupeStats, error) {
	if limit <= 0 {
		limit = 500
	}

	ctx, span := tracer.StartSpan(ctx, "jobs.dedupe")
	defer span.End()

	recs, err := d.store.ListActive(ctx, nil, limit)
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]*domain.AgentRecord)
	var order []string
	for _, rec := range recs {
		key := rec.NormalizedName()
		if key == "" {
			continue
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rec)
	}

	stats := &DedupeStats{}
	retired := make(map[string]bool)

	for _, key := range order {
		group := groups[key]
		if len(group) < 2 {
			continue
		}
		stats.Groups++

		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				if err := ctx.Err(); err != nil {
					return stats, err
				}
				a, b := group[i], group[j]
				if retired[a.ID] || retired[b.ID] {
					continue
				}
				d.resolvePair(ctx, a, b, stats, retired)
			}
		}
	}

	d.logger.Info("dedup pass complete",
		"groups", stats.Groups, "compared", stats.Compared,
		"duplicates", stats.Duplicates, "failed", stats.Failed)
	return stats, nil
}

func (d *Deduper) resolvePair(ctx context.Context, a, b *domain.AgentRecord, stats *DedupeStats, retired map[string]bool) {
	// Same author republishing on another source needs no oracle.
	if a.Author != "" && strings.EqualFold(a.Author, b.Author) && a.SourceKind != b.SourceKind {
		d.retire(ctx, a, b, dedupeDecision{
			Method:     "same_author",
			Confidence: 1.0,
			Reason:     "same author across sources",
		}, stats, retired)
		return
	}

	if !d.needsOracle(a, b) {
		return
	}

	stats.Compared++
	verdict, err := d.oracle.CompareDuplicates(ctx, a, b)
	if err != nil {
		d.logger.Warn("duplicate comparison failed", "a", a.ID, "b", b.ID, "error", err)
		stats.Failed++
		return
	}
	if !verdict.IsDuplicate || verdict.Confidence <= duplicateConfidence {
		return
	}

	d.retire(ctx, a, b, dedupeDecision{
		Method:       "oracle",
		Confidence:   verdict.Confidence,
		Relationship: verdict.Relationship,
		Reason:       verdict.Reason,
	}, stats, retired)
}

// needsOracle gates the expensive pairwise check: an exact lowercase name
// collision across sources, or near-identical descriptions.
func (d *Deduper) needsOracle(a, b *domain.AgentRecord) bool {
	if strings.EqualFold(a.Name, b.Name) && a.SourceKind != b.SourceKind {
		return true
	}
	return descriptionSimilarity(a.Description, b.Description) > descriptionGate
}

// retire deactivates the losing record of a resolved pair. Lower quality
// loses; on a tie the earlier-indexed record wins.
func (d *Deduper) retire(ctx context.Context, a, b *domain.AgentRecord, decision dedupeDecision, stats *DedupeStats, retired map[string]bool) {
	winner, loser := a, b
	switch {
	case a.QualityScore > b.QualityScore:
	case b.QualityScore > a.QualityScore:
		winner, loser = b, a
	case b.FirstIndexedAt.Before(a.FirstIndexedAt):
		winner, loser = b, a
	}

	decision.WinnerID = winner.ID
	decision.DecidedAt = time.Now().UTC()

	loser.IsActive = false
	loser.LifecycleState = domain.StateDuplicate
	setMeta(loser, metaDedupe, decision)

	if err := d.store.Update(ctx, loser); err != nil {
		d.logger.Warn("retiring duplicate failed", "id", loser.ID, "error", err)
		stats.Failed++
		return
	}
	retired[loser.ID] = true
	stats.Duplicates++
	d.logger.Info("duplicate resolved",
		"winner", winner.ID, "loser", loser.ID,
		"method", decision.Method, "confidence", decision.Confidence)
}

// descriptionSimilarity is the Jaccard index of lowercase description
// token sets.
func descriptionSimilarity(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if tb[t] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(s)) {
		set[f] = true
	}
	return set
}
