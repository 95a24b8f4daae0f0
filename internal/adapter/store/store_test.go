package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"agentindex/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath, slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(n int) *domain.AgentRecord {
	return &domain.AgentRecord{
		SourceKind:   domain.SourceGitHub,
		SourceURL:    fmt.Sprintf("https://github.com/acme/agent-%d", n),
		Name:         fmt.Sprintf("agent-%d", n),
		Description:  "summarizes pull requests",
		Author:       "acme",
		Category:     "coding",
		Capabilities: []string{"code-review", "summarization"},
		Protocols:    []string{"mcp"},
		Stars:        n * 10,
		IsActive:     true,
	}
}

func TestInsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := testRecord(1)
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("expected auto-generated ID")
	}
	if rec.LifecycleState != domain.StateIndexed {
		t.Errorf("state = %q, want indexed", rec.LifecycleState)
	}

	got, err := s.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Name != "agent-1" {
		t.Errorf("Name = %q", got.Name)
	}
	if len(got.Capabilities) != 2 || got.Capabilities[0] != "code-review" {
		t.Errorf("Capabilities = %v", got.Capabilities)
	}
	if got.FirstIndexedAt.IsZero() {
		t.Error("expected first_indexed to be set")
	}

	byURL, err := s.GetBySourceURL(ctx, rec.SourceURL)
	if err != nil {
		t.Fatalf("GetBySourceURL: %v", err)
	}
	if byURL.ID != rec.ID {
		t.Errorf("ID = %q, want %q", byURL.ID, rec.ID)
	}
}

func TestInsertDuplicateURL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Insert(ctx, testRecord(1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	err := s.Insert(ctx, testRecord(1))
	if !errors.Is(err, domain.ErrRecordExists) {
		t.Errorf("err = %v, want ErrRecordExists", err)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetByID(context.Background(), "missing")
	if !errors.Is(err, domain.ErrRecordNotFound) {
		t.Errorf("err = %v, want ErrRecordNotFound", err)
	}
}

func TestUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := testRecord(1)
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	rec.LifecycleState = domain.StateParsed
	rec.QualityScore = 0.73
	rec.Category = "devtools"
	if err := s.Update(ctx, rec); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := s.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.LifecycleState != domain.StateParsed {
		t.Errorf("state = %q, want parsed", got.LifecycleState)
	}
	if got.QualityScore != 0.73 {
		t.Errorf("quality = %v", got.QualityScore)
	}
	if got.Category != "devtools" {
		t.Errorf("category = %q", got.Category)
	}
}

func TestUpdateNotFound(t *testing.T) {
	s := newTestStore(t)
	rec := testRecord(1)
	rec.ID = "missing"
	err := s.Update(context.Background(), rec)
	if !errors.Is(err, domain.ErrRecordNotFound) {
		t.Errorf("err = %v, want ErrRecordNotFound", err)
	}
}

func TestListByStateOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := s.Insert(ctx, testRecord(i)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	recs, err := s.ListByState(ctx, domain.StateIndexed, 10)
	if err != nil {
		t.Fatalf("ListByState: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("len = %d, want 3", len(recs))
	}
	// Most-starred first.
	if recs[0].Stars != 30 || recs[2].Stars != 10 {
		t.Errorf("order = %d,%d,%d", recs[0].Stars, recs[1].Stars, recs[2].Stars)
	}
}

func searchable(t *testing.T, s *Store, rec *domain.AgentRecord, quality float64) *domain.AgentRecord {
	t.Helper()
	ctx := context.Background()
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	rec.LifecycleState = domain.StateRanked
	rec.QualityScore = quality
	if err := s.Update(ctx, rec); err != nil {
		t.Fatalf("Update: %v", err)
	}
	return rec
}

func TestSearchLexical(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testRecord(1)
	a.Description = "translates natural language to SQL queries"
	searchable(t, s, a, 0.8)

	b := testRecord(2)
	b.Description = "renders markdown documents"
	searchable(t, s, b, 0.9)

	recs, err := s.SearchLexical(ctx, "SQL queries", domain.RecordFilter{}, 10)
	if err != nil {
		t.Fatalf("SearchLexical: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("len = %d, want 1", len(recs))
	}
	if recs[0].ID != a.ID {
		t.Errorf("got %q, want %q", recs[0].ID, a.ID)
	}
}

func TestSearchLexicalSkipsNonSearchable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := testRecord(1)
	rec.Description = "quarantined duplicate entry"
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	rec.LifecycleState = domain.StateDuplicate
	rec.IsActive = false
	if err := s.Update(ctx, rec); err != nil {
		t.Fatalf("Update: %v", err)
	}

	recs, err := s.SearchLexical(ctx, "quarantined", domain.RecordFilter{}, 10)
	if err != nil {
		t.Fatalf("SearchLexical: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("len = %d, want 0", len(recs))
	}
}

func TestSearchLexicalOperatorQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testRecord(1)
	a.Description = "manages c++ build targets"
	searchable(t, s, a, 0.5)

	// FTS5 operator characters must not error out the search.
	recs, err := s.SearchLexical(ctx, `build -targets "c++`, domain.RecordFilter{}, 10)
	if err != nil {
		t.Fatalf("SearchLexical: %v", err)
	}
	if len(recs) == 0 {
		t.Error("expected a match despite operator characters")
	}
}

func TestFilterProtocolsAndQuality(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testRecord(1)
	a.Description = "search helper"
	a.Protocols = []string{"mcp"}
	searchable(t, s, a, 0.9)

	b := testRecord(2)
	b.Description = "search helper"
	b.Protocols = []string{"a2a"}
	searchable(t, s, b, 0.9)

	c := testRecord(3)
	c.Description = "search helper"
	c.Protocols = []string{"mcp"}
	searchable(t, s, c, 0.2)

	recs, err := s.SearchLexical(ctx, "search helper",
		domain.RecordFilter{Protocols: []string{"mcp"}, MinQuality: 0.5}, 10)
	if err != nil {
		t.Fatalf("SearchLexical: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("len = %d, want 1", len(recs))
	}
	if recs[0].ID != a.ID {
		t.Errorf("got %q, want %q", recs[0].ID, a.ID)
	}
}

func TestSearchCapability(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testRecord(1)
	a.Capabilities = []string{"web-scraping", "html-parsing"}
	searchable(t, s, a, 0.6)

	recs, err := s.SearchCapability(ctx, "scraping", domain.RecordFilter{}, 10)
	if err != nil {
		t.Fatalf("SearchCapability: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("len = %d, want 1", len(recs))
	}
}

func TestListByIDsFiltered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := searchable(t, s, testRecord(1), 0.9)
	b := searchable(t, s, testRecord(2), 0.1)

	recs, err := s.ListByIDs(ctx, []string{a.ID, b.ID, "missing"},
		domain.RecordFilter{MinQuality: 0.5})
	if err != nil {
		t.Fatalf("ListByIDs: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != a.ID {
		t.Errorf("recs = %v", recs)
	}
}

func TestPopularityMaximaFloor(t *testing.T) {
	s := newTestStore(t)
	m, err := s.PopularityMaxima(context.Background())
	if err != nil {
		t.Fatalf("PopularityMaxima: %v", err)
	}
	if m.Stars != 1 || m.Downloads != 1 || m.Forks != 1 {
		t.Errorf("maxima = %+v, want all 1 on empty index", m)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	searchable(t, s, testRecord(1), 0.5)
	if err := s.Insert(ctx, testRecord(2)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalAgents != 2 {
		t.Errorf("TotalAgents = %d", stats.TotalAgents)
	}
	if stats.ByState[domain.StateRanked] != 1 || stats.ByState[domain.StateIndexed] != 1 {
		t.Errorf("ByState = %v", stats.ByState)
	}
	if stats.ByProtocol["mcp"] != 2 {
		t.Errorf("ByProtocol = %v", stats.ByProtocol)
	}
}

func TestQueryLogTopAppearances(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := s.Append(ctx, domain.QueryLogEntry{
			Need:         "summarize code",
			SearchMethod: "vector",
			ResultCount:  5,
			TopResultID:  "agent-a",
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := s.Append(ctx, domain.QueryLogEntry{
		Need:         "old query",
		SearchMethod: "lexical",
		TopResultID:  "agent-b",
		Timestamp:    time.Now().Add(-14 * 24 * time.Hour),
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	top, err := s.TopAppearances(ctx, time.Now().Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("TopAppearances: %v", err)
	}
	if len(top) != 1 {
		t.Fatalf("len = %d, want 1", len(top))
	}
	if top[0].AgentID != "agent-a" || top[0].Appearances != 3 {
		t.Errorf("top = %+v", top[0])
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := &domain.APIKey{
		KeyHash:          "abc123hash",
		KeyPrefix:        "aidx_1234",
		AgentName:        "consumer",
		Tier:             "free",
		RateLimitPerHour: 100,
		MaxResults:       10,
		IsActive:         true,
	}
	if err := s.Create(ctx, key); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.GetByHash(ctx, "abc123hash")
	if err != nil {
		t.Fatalf("GetByHash: %v", err)
	}
	if got.TotalRequests != 1 {
		t.Errorf("TotalRequests = %d, want 1 after lookup", got.TotalRequests)
	}
	if got.LastRequestAt == nil {
		t.Error("expected LastRequestAt to be set")
	}

	if err := s.Flag(ctx, "abc123hash", "scraping"); err != nil {
		t.Fatalf("Flag: %v", err)
	}

	if err := s.Revoke(ctx, "abc123hash"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	_, err = s.GetByHash(ctx, "abc123hash")
	if !errors.Is(err, domain.ErrKeyNotFound) {
		t.Errorf("err = %v, want ErrKeyNotFound after revoke", err)
	}
}

func TestAPIKeyUnknownHash(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetByHash(context.Background(), "nope")
	if !errors.Is(err, domain.ErrKeyNotFound) {
		t.Errorf("err = %v, want ErrKeyNotFound", err)
	}
}
