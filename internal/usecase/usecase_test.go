package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"agentindex/internal/domain"
)

// fakeStore is an in-memory domain.RecordStore with the same ordering
// semantics as the SQLite adapter.
type fakeStore struct {
	mu    sync.Mutex
	order []string
	byID  map[string]*domain.AgentRecord
	byURL map[string]string // source_url -> id
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byID:  make(map[string]*domain.AgentRecord),
		byURL: make(map[string]string),
	}
}

func cloneRec(r *domain.AgentRecord) *domain.AgentRecord {
	c := *r
	c.Tags = append([]string(nil), r.Tags...)
	c.Capabilities = append([]string(nil), r.Capabilities...)
	c.Protocols = append([]string(nil), r.Protocols...)
	c.Frameworks = append([]string(nil), r.Frameworks...)
	if r.RawMetadata != nil {
		c.RawMetadata = make(map[string]json.RawMessage, len(r.RawMetadata))
		for k, v := range r.RawMetadata {
			c.RawMetadata[k] = v
		}
	}
	if r.LastSourceUpdatedAt != nil {
		t := *r.LastSourceUpdatedAt
		c.LastSourceUpdatedAt = &t
	}
	return &c
}

func (s *fakeStore) Insert(_ context.Context, rec *domain.AgentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byURL[rec.SourceURL]; exists {
		return fmt.Errorf("%w: source_url %s", domain.ErrRecordExists, rec.SourceURL)
	}
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("rec-%04d", len(s.order)+1)
	}
	now := time.Now().UTC()
	if rec.FirstIndexedAt.IsZero() {
		rec.FirstIndexedAt = now
	}
	if rec.LastCrawledAt.IsZero() {
		rec.LastCrawledAt = now
	}
	if rec.LifecycleState == "" {
		rec.LifecycleState = domain.StateIndexed
	}
	s.byID[rec.ID] = cloneRec(rec)
	s.byURL[rec.SourceURL] = rec.ID
	s.order = append(s.order, rec.ID)
	return nil
}

func (s *fakeStore) Update(_ context.Context, rec *domain.AgentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[rec.ID]; !ok {
		return fmt.Errorf("%w: id %s", domain.ErrRecordNotFound, rec.ID)
	}
	s.byID[rec.ID] = cloneRec(rec)
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*domain.AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %s", domain.ErrRecordNotFound, id)
	}
	return cloneRec(rec), nil
}

func (s *fakeStore) GetBySourceURL(_ context.Context, url string) (*domain.AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byURL[url]
	if !ok {
		return nil, fmt.Errorf("%w: source_url %s", domain.ErrRecordNotFound, url)
	}
	return cloneRec(s.byID[id]), nil
}

func (s *fakeStore) all() []*domain.AgentRecord {
	out := make([]*domain.AgentRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneRec(s.byID[id]))
	}
	return out
}

func (s *fakeStore) ListByState(_ context.Context, state domain.LifecycleState, limit int) ([]*domain.AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.AgentRecord
	for _, rec := range s.all() {
		if rec.LifecycleState == state {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Stars > out[j].Stars })
	return truncate(out, limit), nil
}

func (s *fakeStore) ListActive(_ context.Context, states []domain.LifecycleState, limit int) ([]*domain.AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.AgentRecord
	for _, rec := range s.all() {
		if !rec.IsActive {
			continue
		}
		if len(states) > 0 && !stateIn(rec.LifecycleState, states) {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].QualityScore > out[j].QualityScore })
	return truncate(out, limit), nil
}

func (s *fakeStore) ListByIDs(_ context.Context, ids []string, f domain.RecordFilter) ([]*domain.AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.AgentRecord
	for _, id := range ids {
		rec, ok := s.byID[id]
		if ok && matchesFilter(rec, f) {
			out = append(out, cloneRec(rec))
		}
	}
	return out, nil
}

func (s *fakeStore) SearchLexical(_ context.Context, need string, f domain.RecordFilter, limit int) ([]*domain.AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tokens := strings.Fields(strings.ToLower(need))
	var out []*domain.AgentRecord
	for _, rec := range s.all() {
		if !matchesFilter(rec, f) {
			continue
		}
		text := strings.ToLower(rec.Name + " " + rec.Description + " " + rec.Category)
		hit := true
		for _, tok := range tokens {
			if !strings.Contains(text, tok) {
				hit = false
				break
			}
		}
		if hit {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].QualityScore > out[j].QualityScore })
	return truncate(out, limit), nil
}

func (s *fakeStore) SearchCapability(_ context.Context, token string, f domain.RecordFilter, limit int) ([]*domain.AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token = strings.ToLower(token)
	var out []*domain.AgentRecord
	for _, rec := range s.all() {
		if !matchesFilter(rec, f) {
			continue
		}
		for _, cap := range rec.Capabilities {
			if strings.Contains(strings.ToLower(cap), token) {
				out = append(out, rec)
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].QualityScore > out[j].QualityScore })
	return truncate(out, limit), nil
}

func (s *fakeStore) PopularityMaxima(_ context.Context) (domain.PopularityMaxima, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := domain.PopularityMaxima{Stars: 1, Downloads: 1, Forks: 1}
	for _, rec := range s.byID {
		if !rec.IsActive {
			continue
		}
		if rec.Stars > m.Stars {
			m.Stars = rec.Stars
		}
		if rec.Downloads > m.Downloads {
			m.Downloads = rec.Downloads
		}
		if rec.Forks > m.Forks {
			m.Forks = rec.Forks
		}
	}
	return m, nil
}

func (s *fakeStore) CountActive(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.byID {
		if rec.IsActive {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) Stats(_ context.Context) (*domain.IndexStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &domain.IndexStats{
		ByState:    make(map[domain.LifecycleState]int),
		ByCategory: make(map[string]int),
		BySource:   make(map[domain.SourceKind]int),
		ByProtocol: make(map[string]int),
	}
	for _, rec := range s.byID {
		stats.TotalAgents++
		stats.ByState[rec.LifecycleState]++
		stats.BySource[rec.SourceKind]++
		if rec.IsActive {
			stats.ActiveAgents++
			cat := rec.Category
			if cat == "" {
				cat = "unknown"
			}
			stats.ByCategory[cat]++
			for _, p := range rec.Protocols {
				stats.ByProtocol[p]++
			}
		}
	}
	return stats, nil
}

func matchesFilter(r *domain.AgentRecord, f domain.RecordFilter) bool {
	if !r.IsActive {
		return false
	}
	states := f.States
	if len(states) == 0 {
		states = domain.SearchableStates
	}
	if !stateIn(r.LifecycleState, states) {
		return false
	}
	if r.QualityScore < f.MinQuality {
		return false
	}
	if f.Category != "" && r.Category != f.Category {
		return false
	}
	if len(f.Protocols) > 0 {
		hit := false
		for _, want := range f.Protocols {
			for _, have := range r.Protocols {
				if want == have {
					hit = true
				}
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func stateIn(st domain.LifecycleState, states []domain.LifecycleState) bool {
	for _, s := range states {
		if s == st {
			return true
		}
	}
	return false
}

func truncate(recs []*domain.AgentRecord, limit int) []*domain.AgentRecord {
	if limit > 0 && len(recs) > limit {
		return recs[:limit]
	}
	return recs
}

// fakeQueryLog records appends and serves canned top appearances.
type fakeQueryLog struct {
	mu      sync.Mutex
	entries []domain.QueryLogEntry
	tops    []domain.TopAppearance
}

func (l *fakeQueryLog) Append(_ context.Context, entry domain.QueryLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	l.entries = append(l.entries, entry)
	return nil
}

func (l *fakeQueryLog) TopAppearances(_ context.Context, _ time.Time) ([]domain.TopAppearance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.TopAppearance(nil), l.tops...), nil
}

func (l *fakeQueryLog) last() domain.QueryLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return domain.QueryLogEntry{}
	}
	return l.entries[len(l.entries)-1]
}

// fakeOracle dispatches to overridable funcs and counts calls.
type fakeOracle struct {
	parseFn    func(ev domain.RecordEvidence) (*domain.ParseResult, error)
	classifyFn func(rec *domain.AgentRecord) (*domain.ClassifyResult, error)
	compareFn  func(a, b *domain.AgentRecord) (*domain.DuplicateVerdict, error)

	mu       sync.Mutex
	compares int
}

func (o *fakeOracle) Parse(_ context.Context, ev domain.RecordEvidence) (*domain.ParseResult, error) {
	if o.parseFn == nil {
		return &domain.ParseResult{IsAgent: true, Category: "coding"}, nil
	}
	return o.parseFn(ev)
}

func (o *fakeOracle) Classify(_ context.Context, rec *domain.AgentRecord, _ string) (*domain.ClassifyResult, error) {
	if o.classifyFn == nil {
		return &domain.ClassifyResult{Recommendation: domain.RecommendIndex}, nil
	}
	return o.classifyFn(rec)
}

func (o *fakeOracle) CompareDuplicates(_ context.Context, a, b *domain.AgentRecord) (*domain.DuplicateVerdict, error) {
	o.mu.Lock()
	o.compares++
	o.mu.Unlock()
	if o.compareFn == nil {
		return &domain.DuplicateVerdict{}, nil
	}
	return o.compareFn(a, b)
}

func (o *fakeOracle) Name() string { return "fake" }

func (o *fakeOracle) compareCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.compares
}

// fakeVector serves canned nearest-neighbor hits.
type fakeVector struct {
	hits []domain.VectorHit
	err  error
}

func (v *fakeVector) Search(_ context.Context, _ string, k int) ([]domain.VectorHit, error) {
	if v.err != nil {
		return nil, v.err
	}
	hits := append([]domain.VectorHit(nil), v.hits...)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (v *fakeVector) Size() int { return len(v.hits) }

// fakeEmbedder produces deterministic unit vectors keyed by text length.
type fakeEmbedder struct{ dim int }

func (e *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, e.dim)
		vec[len(text)%e.dim] = 1
		out[i] = vec
	}
	return out, nil
}

func (e *fakeEmbedder) Dimensions() int { return e.dim }
func (e *fakeEmbedder) Name() string    { return "fake" }

// testRecord builds a minimal record in the given state.
func testRecord(n int, state domain.LifecycleState) *domain.AgentRecord {
	return &domain.AgentRecord{
		ID:             fmt.Sprintf("agent-%04d", n),
		SourceKind:     domain.SourceGitHub,
		SourceURL:      fmt.Sprintf("https://github.com/example/agent-%d", n),
		Name:           fmt.Sprintf("agent-%d", n),
		Description:    "reviews pull requests and suggests fixes",
		LifecycleState: state,
		IsActive:       true,
		FirstIndexedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(n) * time.Hour),
		LastCrawledAt:  time.Now().UTC(),
	}
}

func mustInsert(s *fakeStore, recs ...*domain.AgentRecord) {
	for _, rec := range recs {
		if err := s.Insert(context.Background(), rec); err != nil {
			panic(err)
		}
	}
}
