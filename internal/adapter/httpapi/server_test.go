package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"agentindex/internal/adapter/store"
	"agentindex/internal/domain"
	"agentindex/internal/infra/config"
	"agentindex/internal/usecase"
)

func newTestServer(t *testing.T, cfg config.APIConfig) (*Server, *store.Store) {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "api_test.db"), slog.Default())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.Default()
	discovery := usecase.NewDiscovery(st, st, nil, cfg.MaxResults, logger)
	stats := usecase.NewStatsService(st, st, nil, logger)
	ranker := usecase.NewRanker(st, st, logger)
	return NewServer(discovery, stats, ranker, st, cfg, logger), st
}

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		Addr:             ":0",
		MaxResults:       10,
		RateLimitPerHour: 100000,
		RateBurst:        1000,
	}
}

func testHandler(t *testing.T, srv *Server) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return srv.Handler(ctx)
}

func seedRanked(t *testing.T, st *store.Store, n int, quality float64, description string) *domain.AgentRecord {
	t.Helper()
	now := time.Now().UTC()
	rec := &domain.AgentRecord{
		Name:           fmt.Sprintf("agent-%04d", n),
		SourceURL:      fmt.Sprintf("https://github.com/acme/agent-%04d", n),
		SourceKind:     domain.SourceGitHub,
		Description:    description,
		LifecycleState: domain.StateRanked,
		IsActive:       true,
		QualityScore:   quality,
		FirstIndexedAt: now,
		LastCrawledAt:  now,
	}
	if err := st.Insert(context.Background(), rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, testAPIConfig())
	h := testHandler(t, srv)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, security headers missing", got)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestDiscoverEndpoint(t *testing.T) {
	srv, st := newTestServer(t, testAPIConfig())
	h := testHandler(t, srv)
	rec := seedRanked(t, st, 1, 0.8, "translates documents between languages")

	req := httptest.NewRequest(http.MethodPost, "/v1/discover",
		strings.NewReader(`{"need":"translates documents"}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp domain.DiscoverResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != rec.ID {
		t.Fatalf("results = %+v", resp.Results)
	}
	if resp.Protocol != "agentindex/v1" {
		t.Errorf("protocol = %q", resp.Protocol)
	}
}

func TestDiscoverRejectsEmptyNeed(t *testing.T) {
	srv, _ := newTestServer(t, testAPIConfig())
	h := testHandler(t, srv)

	req := httptest.NewRequest(http.MethodPost, "/v1/discover", strings.NewReader(`{"need":"  "}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Error != string(domain.CodeInvalidInput) {
		t.Errorf("error = %q, want %s", body.Error, domain.CodeInvalidInput)
	}
}

func TestDiscoverRejectsBadJSON(t *testing.T) {
	srv, _ := newTestServer(t, testAPIConfig())
	h := testHandler(t, srv)

	req := httptest.NewRequest(http.MethodPost, "/v1/discover", strings.NewReader(`{not json`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestGetAgentEndpoint(t *testing.T) {
	srv, st := newTestServer(t, testAPIConfig())
	h := testHandler(t, srv)
	rec := seedRanked(t, st, 1, 0.8, "reviews pull requests")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/agents/"+rec.ID, nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var detail domain.AgentDetail
	if err := json.Unmarshal(rr.Body.Bytes(), &detail); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if detail.ID != rec.ID || detail.Name != rec.Name {
		t.Errorf("detail = %+v", detail)
	}
}

func TestGetAgentNotFound(t *testing.T) {
	srv, _ := newTestServer(t, testAPIConfig())
	h := testHandler(t, srv)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/agents/no-such-id", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Error != string(domain.CodeRecordNotFound) {
		t.Errorf("error = %q", body.Error)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, st := newTestServer(t, testAPIConfig())
	h := testHandler(t, srv)
	seedRanked(t, st, 1, 0.8, "summarizes papers")
	seedRanked(t, st, 2, 0.6, "plans trips")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var stats domain.IndexStats
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if stats.TotalAgents != 2 || stats.ActiveAgents != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestTrendingRejectsBadWindow(t *testing.T) {
	srv, _ := newTestServer(t, testAPIConfig())
	h := testHandler(t, srv)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/stats/trending?window=yesterday", nil))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestRegisterIssuesKey(t *testing.T) {
	srv, st := newTestServer(t, testAPIConfig())
	h := testHandler(t, srv)

	req := httptest.NewRequest(http.MethodPost, "/v1/register",
		strings.NewReader(`{"agent_name":"orchestrator","contact":"ops@example.com"}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp registerResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.HasPrefix(resp.APIKey, "agx_") {
		t.Errorf("api_key = %q, want agx_ prefix", resp.APIKey)
	}
	if resp.Tier != "free" {
		t.Errorf("tier = %q", resp.Tier)
	}

	// The stored hash resolves back to the issued key.
	key, err := st.GetByHash(context.Background(), hashKey(resp.APIKey))
	if err != nil {
		t.Fatalf("GetByHash: %v", err)
	}
	if key.AgentName != "orchestrator" || !key.IsActive {
		t.Errorf("stored key = %+v", key)
	}
	if key.KeyPrefix != resp.APIKey[:12] {
		t.Errorf("prefix = %q", key.KeyPrefix)
	}
}

func TestRegisterRequiresName(t *testing.T) {
	srv, _ := newTestServer(t, testAPIConfig())
	h := testHandler(t, srv)

	req := httptest.NewRequest(http.MethodPost, "/v1/register", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestRankRunEndpoint(t *testing.T) {
	srv, st := newTestServer(t, testAPIConfig())
	h := testHandler(t, srv)
	rec := seedRanked(t, st, 1, 0.4, "reviews code")
	rec.LifecycleState = domain.StateClassified
	if err := st.Update(context.Background(), rec); err != nil {
		t.Fatalf("Update: %v", err)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/rank/run", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var stats domain.RankStats
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if stats.Ranked != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRateLimitExceeded(t *testing.T) {
	cfg := testAPIConfig()
	cfg.RateLimitPerHour = 1
	cfg.RateBurst = 1
	srv, _ := newTestServer(t, cfg)
	h := testHandler(t, srv)

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first request status = %d", first.Code)
	}

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", second.Code)
	}
	if second.Header().Get("Retry-After") != "3600" {
		t.Errorf("Retry-After = %q", second.Header().Get("Retry-After"))
	}
}

func TestKeyIdentityBuckets(t *testing.T) {
	srv, st := newTestServer(t, testAPIConfig())

	raw, err := newRawKey()
	if err != nil {
		t.Fatalf("newRawKey: %v", err)
	}
	key := &domain.APIKey{
		ID:               store.NewID(),
		KeyHash:          hashKey(raw),
		KeyPrefix:        keyPrefix(raw),
		AgentName:        "orchestrator",
		Tier:             "verified",
		RateLimitPerHour: 5000,
		CreatedAt:        time.Now().UTC(),
		IsActive:         true,
	}
	if err := st.Create(context.Background(), key); err != nil {
		t.Fatalf("Create: %v", err)
	}

	identify := srv.identity()

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("X-API-Key", raw)
	id := identify(req)
	if id.Key != "key:"+key.ID {
		t.Errorf("identity key = %q", id.Key)
	}
	if id.RequestsPerHour != 5000 {
		t.Errorf("allowance = %d, want the key's own limit", id.RequestsPerHour)
	}

	// Unknown keys fall back to per-IP buckets.
	anon := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	anon.Header.Set("X-API-Key", "agx_bogus")
	if got := identify(anon); strings.HasPrefix(got.Key, "key:") {
		t.Errorf("bogus key got a key bucket: %+v", got)
	}
}
