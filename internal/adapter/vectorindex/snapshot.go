package vectorindex

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"agentindex/internal/domain"
)

const (
	manifestFile = "index_manifest.json"
	vectorFile   = "vectors.f32"
	idsFile      = "ids.txt"
)

// Manifest describes one persisted index snapshot.
type Manifest struct {
	Dim       int    `json:"dim"`
	Count     int    `json:"count"`
	Provider  string `json:"provider"`
	CreatedAt string `json:"created_at"`
}

// Snapshot is an immutable vector index: a flat row-major float32 matrix
// plus the agent id per row. Rows are L2-normalized at build time, so
// cosine similarity reduces to a dot product at query time.
type Snapshot struct {
	Manifest Manifest
	IDs      []string
	Vectors  []float32 // len == Count*Dim
}

// NewSnapshot builds a snapshot from per-agent vectors, normalizing each
// row. Vector lengths must all equal dim.
func NewSnapshot(ids []string, vectors [][]float32, dim int, provider string) (*Snapshot, error) {
	if len(ids) != len(vectors) {
		return nil, fmt.Errorf("%w: %d ids for %d vectors", domain.ErrIndexBuild, len(ids), len(vectors))
	}
	if dim <= 0 {
		return nil, fmt.Errorf("%w: invalid dim %d", domain.ErrIndexBuild, dim)
	}

	flat := make([]float32, 0, len(ids)*dim)
	for i, vec := range vectors {
		if len(vec) != dim {
			return nil, fmt.Errorf("%w: vector %d has dim %d, want %d", domain.ErrIndexBuild, i, len(vec), dim)
		}
		flat = append(flat, normalize(vec)...)
	}

	return &Snapshot{
		Manifest: Manifest{
			Dim:       dim,
			Count:     len(ids),
			Provider:  provider,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		},
		IDs:     append([]string(nil), ids...),
		Vectors: flat,
	}, nil
}

// Search returns the top-k rows by cosine similarity to query, best first.
// Non-positive similarities are dropped.
func (s *Snapshot) Search(query []float32, k int) []domain.VectorHit {
	if s == nil || s.Manifest.Count == 0 || len(query) != s.Manifest.Dim || k <= 0 {
		return nil
	}
	q := normalize(query)

	hits := make([]domain.VectorHit, 0, s.Manifest.Count)
	dim := s.Manifest.Dim
	for row := 0; row < s.Manifest.Count; row++ {
		var dot float32
		base := row * dim
		for i := 0; i < dim; i++ {
			dot += q[i] * s.Vectors[base+i]
		}
		if dot <= 0 {
			continue
		}
		hits = append(hits, domain.VectorHit{AgentID: s.IDs[row], Score: float64(dot)})
	}

	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// sortHits orders by score descending; insertion sort keeps it dependency
// free and the hit lists are small.
func sortHits(hits []domain.VectorHit) {
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].Score > hits[j-1].Score; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
}

// normalize returns the L2-normalized copy of v. A zero vector comes back
// unchanged.
func normalize(v []float32) []float32 {
	var norm float32
	for _, f := range v {
		norm += f * f
	}
	if norm == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(float64(norm)))
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = f * inv
	}
	return out
}

// Write persists the snapshot atomically: the artifacts land in a temp
// directory next to dir, which then replaces dir in a rename. Readers
// holding the previous in-memory snapshot are unaffected.
func (s *Snapshot) Write(dir string) error {
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("%w: create parent dir: %v", domain.ErrIndexBuild, err)
	}

	tmp, err := os.MkdirTemp(parent, ".index-*")
	if err != nil {
		return fmt.Errorf("%w: create temp dir: %v", domain.ErrIndexBuild, err)
	}
	defer os.RemoveAll(tmp)

	if err := s.writeArtifacts(tmp); err != nil {
		return err
	}

	old := dir + ".old"
	os.RemoveAll(old)
	if err := os.Rename(dir, old); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: stash previous index: %v", domain.ErrIndexBuild, err)
	}
	if err := os.Rename(tmp, dir); err != nil {
		// Try to restore the previous snapshot.
		os.Rename(old, dir)
		return fmt.Errorf("%w: swap index dir: %v", domain.ErrIndexBuild, err)
	}
	os.RemoveAll(old)
	return nil
}

func (s *Snapshot) writeArtifacts(dir string) error {
	mb, err := json.MarshalIndent(s.Manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal manifest: %v", domain.ErrIndexBuild, err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), mb, 0o644); err != nil {
		return fmt.Errorf("%w: write manifest: %v", domain.ErrIndexBuild, err)
	}

	idf, err := os.Create(filepath.Join(dir, idsFile))
	if err != nil {
		return fmt.Errorf("%w: create ids file: %v", domain.ErrIndexBuild, err)
	}
	bw := bufio.NewWriter(idf)
	for _, id := range s.IDs {
		bw.WriteString(id)
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		idf.Close()
		return fmt.Errorf("%w: write ids: %v", domain.ErrIndexBuild, err)
	}
	if err := idf.Close(); err != nil {
		return fmt.Errorf("%w: close ids file: %v", domain.ErrIndexBuild, err)
	}

	vf, err := os.Create(filepath.Join(dir, vectorFile))
	if err != nil {
		return fmt.Errorf("%w: create vectors file: %v", domain.ErrIndexBuild, err)
	}
	if err := binary.Write(vf, binary.LittleEndian, s.Vectors); err != nil {
		vf.Close()
		return fmt.Errorf("%w: write vectors: %v", domain.ErrIndexBuild, err)
	}
	if err := vf.Close(); err != nil {
		return fmt.Errorf("%w: close vectors file: %v", domain.ErrIndexBuild, err)
	}
	return nil
}

// LoadSnapshot reads a persisted snapshot. All three artifacts must agree
// on the vector count.
func LoadSnapshot(dir string) (*Snapshot, error) {
	mb, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest: %v", domain.ErrIndexLoad, err)
	}
	var m Manifest
	if err := json.Unmarshal(mb, &m); err != nil {
		return nil, fmt.Errorf("%w: parse manifest: %v", domain.ErrIndexLoad, err)
	}
	if m.Dim <= 0 {
		return nil, fmt.Errorf("%w: invalid dim %d", domain.ErrIndexLoad, m.Dim)
	}

	ids, err := loadIDs(filepath.Join(dir, idsFile))
	if err != nil {
		return nil, err
	}
	if len(ids) != m.Count {
		return nil, fmt.Errorf("%w: manifest count %d, ids file has %d", domain.ErrIndexLoad, m.Count, len(ids))
	}

	vectors, err := loadVectors(filepath.Join(dir, vectorFile), m.Count, m.Dim)
	if err != nil {
		return nil, err
	}

	return &Snapshot{Manifest: m, IDs: ids, Vectors: vectors}, nil
}

func loadIDs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open ids file: %v", domain.ErrIndexLoad, err)
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			out = append(out, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read ids file: %v", domain.ErrIndexLoad, err)
	}
	return out, nil
}

func loadVectors(path string, count, dim int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open vector file: %v", domain.ErrIndexLoad, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat vector file: %v", domain.ErrIndexLoad, err)
	}
	expected := int64(count * dim * 4)
	if st.Size() != expected {
		return nil, fmt.Errorf("%w: vector file size %d, want %d (count=%d dim=%d)",
			domain.ErrIndexLoad, st.Size(), expected, count, dim)
	}

	out := make([]float32, count*dim)
	if err := binary.Read(io.LimitReader(f, expected), binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("%w: read vectors: %v", domain.ErrIndexLoad, err)
	}
	return out, nil
}
