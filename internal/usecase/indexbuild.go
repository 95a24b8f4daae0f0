package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"agentindex/internal/adapter/vectorindex"
	"agentindex/internal/domain"
	"agentindex/internal/infra/tracer"
)

const indexBuildLimit = 50000

// IndexBuilder rebuilds the vector snapshot from the searchable records
// and swaps it into the serving index. A failed build leaves the previous
// snapshot serving; an empty result still swaps so retired records stop
// matching.
type IndexBuilder struct {
	store     domain.RecordStore
	embedder  domain.EmbeddingProvider
	index     *vectorindex.Index
	dir       string
	batchSize int
	logger    *slog.Logger
}

// NewIndexBuilder creates an IndexBuilder. dir may be empty to skip
// persistence; embedder may be nil to disable vector search entirely.
func NewIndexBuilder(store domain.RecordStore, embedder domain.EmbeddingProvider, index *vectorindex.Index, dir string, batchSize int, logger *slog.Logger) *IndexBuilder {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &IndexBuilder{
		store:     store,
		embedder:  embedder,
		index:     index,
		dir:       dir,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run rebuilds the snapshot. Returns the number of vectors indexed.
func (b *IndexBuilder) Run(ctx context.Context) (int, error) {
	if b.embedder == nil {
		b.logger.Info("no embedding provider configured, skipping index build")
		return 0, nil
	}

	ctx, span := tracer.StartSpan(ctx, "jobs.index_build")
	defer span.End()

	recs, err := b.store.ListActive(ctx, domain.SearchableStates, indexBuildLimit)
	if err != nil {
		return 0, err
	}

	ids := make([]string, len(recs))
	texts := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID
		texts[i] = projectionText(rec)
	}

	vectors := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += b.batchSize {
		end := i + b.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := b.embedder.Embed(ctx, texts[i:end])
		if err != nil {
			return 0, fmt.Errorf("%w: embed batch at %d: %v", domain.ErrIndexBuild, i, err)
		}
		vectors = append(vectors, vecs...)
	}

	snap, err := vectorindex.NewSnapshot(ids, vectors, b.embedder.Dimensions(), b.embedder.Name())
	if err != nil {
		return 0, err
	}

	if b.dir != "" {
		if err := snap.Write(b.dir); err != nil {
			return 0, err
		}
	}
	b.index.Swap(snap)

	b.logger.Info("vector index rebuilt", "vectors", len(ids))
	return len(ids), nil
}

// projectionText is the embedded representation of a record: the fields an
// agent would describe when asking for it.
func projectionText(rec *domain.AgentRecord) string {
	parts := []string{rec.Name}
	if rec.Description != "" {
		desc := rec.Description
		if len(desc) > 500 {
			desc = desc[:500]
		}
		parts = append(parts, desc)
	}
	if rec.Category != "" {
		parts = append(parts, "category: "+rec.Category)
	}
	if len(rec.Capabilities) > 0 {
		parts = append(parts, "capabilities: "+strings.Join(firstN(rec.Capabilities, 10), ", "))
	}
	if len(rec.Tags) > 0 {
		parts = append(parts, "tags: "+strings.Join(firstN(rec.Tags, 10), ", "))
	}
	return strings.Join(parts, " | ")
}
