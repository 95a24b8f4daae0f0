package vectorindex

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"agentindex/internal/domain"
)

// Index serves nearest-neighbor queries from the current snapshot. Rebuilds
// swap the snapshot pointer atomically; in-flight searches finish on the
// snapshot they started with.
type Index struct {
	embedder domain.EmbeddingProvider
	logger   *slog.Logger
	current  atomic.Pointer[Snapshot]
}

// New creates an index with no snapshot loaded. Searches return no hits
// until Swap or LoadFrom installs one.
func New(embedder domain.EmbeddingProvider, logger *slog.Logger) *Index {
	return &Index{embedder: embedder, logger: logger}
}

// Swap installs snap as the serving snapshot.
func (x *Index) Swap(snap *Snapshot) {
	x.current.Store(snap)
	if snap != nil {
		x.logger.Info("vector index swapped",
			"vectors", snap.Manifest.Count, "dim", snap.Manifest.Dim)
	}
}

// LoadFrom reads the persisted snapshot in dir and installs it. A missing
// or corrupt snapshot leaves the current one serving.
func (x *Index) LoadFrom(dir string) error {
	snap, err := LoadSnapshot(dir)
	if err != nil {
		return err
	}
	x.Swap(snap)
	return nil
}

// Search implements domain.VectorSearcher.
func (x *Index) Search(ctx context.Context, need string, k int) ([]domain.VectorHit, error) {
	snap := x.current.Load()
	if snap == nil || snap.Manifest.Count == 0 || x.embedder == nil {
		return nil, nil
	}

	vecs, err := x.embedder.Embed(ctx, []string{need})
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", domain.ErrEmbeddingFailed, err)
	}
	if len(vecs) == 0 {
		return nil, nil
	}

	return snap.Search(vecs[0], k), nil
}

// Size implements domain.VectorSearcher.
func (x *Index) Size() int {
	if snap := x.current.Load(); snap != nil {
		return snap.Manifest.Count
	}
	return 0
}

// Compile-time interface check.
var _ domain.VectorSearcher = (*Index)(nil)
