package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"agentindex/internal/domain"
)

// Ingester applies crawled source records to the store. The source URL is
// the record identity: one row per URL, re-ingestion updates in place and
// never duplicates.
type Ingester struct {
	store  domain.RecordStore
	logger *slog.Logger
}

// NewIngester creates an Ingester.
func NewIngester(store domain.RecordStore, logger *slog.Logger) *Ingester {
	return &Ingester{store: store, logger: logger}
}

// Upsert processes one ingestion batch. New URLs are inserted in the
// indexed state; known URLs get their freshness fields merged, and drop
// back to indexed for re-parsing only when the content itself changed.
// A bad record skips, the batch continues.
func (g *Ingester) Upsert(ctx context.Context, recs []*domain.AgentRecord) (*domain.UpsertResult, error) {
	result := &domain.UpsertResult{}

	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if rec.SourceURL == "" || rec.Name == "" {
			g.logger.Warn("skipping record without identity",
				"source_url", rec.SourceURL, "name", rec.Name)
			continue
		}

		existing, err := g.store.GetBySourceURL(ctx, rec.SourceURL)
		switch {
		case errors.Is(err, domain.ErrRecordNotFound):
			rec.LifecycleState = domain.StateIndexed
			rec.IsActive = true
			if err := g.store.Insert(ctx, rec); err != nil {
				g.logger.Warn("insert failed", "source_url", rec.SourceURL, "error", err)
				continue
			}
			result.New++
		case err != nil:
			return result, err
		default:
			result.Found++
			if g.merge(existing, rec) {
				if err := g.store.Update(ctx, existing); err != nil {
					g.logger.Warn("update failed", "id", existing.ID, "error", err)
					continue
				}
				result.Updated++
			}
		}
	}

	g.logger.Info("ingestion batch complete",
		"found", result.Found, "new", result.New, "updated", result.Updated)
	return result, nil
}

// merge folds incoming crawl data into an existing record and reports
// whether anything changed. Freshness fields always merge; a change to the
// description or readme is material and resets the lifecycle so the oracle
// sees the record again. Retired records never come back this way.
func (g *Ingester) merge(dst, src *domain.AgentRecord) bool {
	changed := false
	material := false

	if src.Description != "" && src.Description != dst.Description {
		dst.Description = src.Description
		material = true
	}
	if readme := metaString(src, metaReadme); readme != "" && readme != metaString(dst, metaReadme) {
		setMeta(dst, metaReadme, readme)
		material = true
	}

	if src.Name != "" && src.Name != dst.Name {
		dst.Name = src.Name
		changed = true
	}
	if src.Stars != dst.Stars {
		dst.Stars = src.Stars
		changed = true
	}
	if src.Forks != dst.Forks {
		dst.Forks = src.Forks
		changed = true
	}
	if src.Downloads != dst.Downloads {
		dst.Downloads = src.Downloads
		changed = true
	}
	if src.Language != "" && src.Language != dst.Language {
		dst.Language = src.Language
		changed = true
	}
	if src.License != "" && src.License != dst.License {
		dst.License = src.License
		changed = true
	}
	if src.Author != "" && src.Author != dst.Author {
		dst.Author = src.Author
		changed = true
	}
	if src.LastSourceUpdatedAt != nil {
		if dst.LastSourceUpdatedAt == nil || !src.LastSourceUpdatedAt.Equal(*dst.LastSourceUpdatedAt) {
			t := *src.LastSourceUpdatedAt
			dst.LastSourceUpdatedAt = &t
			changed = true
		}
	}
	if len(src.Tags) > 0 {
		merged := uniqueStrings(append(dst.Tags, src.Tags...))
		if len(merged) != len(dst.Tags) {
			dst.Tags = merged
			changed = true
		}
	}

	if material && dst.IsActive {
		dst.LifecycleState = domain.StateIndexed
	}
	if changed || material {
		dst.LastCrawledAt = time.Now().UTC()
		return true
	}
	return false
}
