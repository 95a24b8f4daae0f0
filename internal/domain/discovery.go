package domain

import (
	"context"
	"time"
)

// DiscoverRequest is what a caller sends to find agents.
type DiscoverRequest struct {
	Need       string   `json:"need"`
	Category   string   `json:"category,omitempty"`
	Protocols  []string `json:"protocols,omitempty"`
	MinQuality float64  `json:"min_quality,omitempty"`
	MaxResults int      `json:"max_results,omitempty"`
}

// DiscoverResponse is the ranked result set for a discovery query.
type DiscoverResponse struct {
	Results       []AgentSummary `json:"results"`
	TotalMatching int            `json:"total_matching"`
	IndexSize     int            `json:"index_size"`
	Protocol      string         `json:"protocol"`
}

// QueryLogEntry is one append-only discovery log row. It feeds the ranking
// boost and observability; the query path itself never reads it back.
type QueryLogEntry struct {
	ID           string    `json:"id"`
	Need         string    `json:"need"`
	Category     string    `json:"category,omitempty"`
	Protocols    []string  `json:"protocols,omitempty"`
	SearchMethod string    `json:"search_method"` // vector|lexical|capability
	ResultCount  int       `json:"result_count"`
	TopResultID  string    `json:"top_result_id,omitempty"`
	LatencyMS    int       `json:"latency_ms"`
	Timestamp    time.Time `json:"timestamp"`
}

// RecordFilter narrows store queries to the discovery-eligible subset.
type RecordFilter struct {
	Category   string
	Protocols  []string
	MinQuality float64
	States     []LifecycleState
}

// UpsertResult reports what one ingestion batch did.
type UpsertResult struct {
	Found   int `json:"found"`
	New     int `json:"new"`
	Updated int `json:"updated"`
}

// RankStats reports one ranking run.
type RankStats struct {
	Ranked  int `json:"ranked"`
	Decayed int `json:"decayed"`
	Boosted int `json:"boosted"`
}

// IndexStats are the public aggregate counts of the index.
type IndexStats struct {
	TotalAgents     int                    `json:"total_agents"`
	ActiveAgents    int                    `json:"active_agents"`
	VectorIndexSize int                    `json:"vector_index_size"`
	ByState         map[LifecycleState]int `json:"by_state"`
	ByCategory      map[string]int         `json:"by_category"`
	BySource        map[SourceKind]int     `json:"by_source"`
	ByProtocol      map[string]int         `json:"by_protocol"`
}

// TopAppearance counts how often a record was the top discovery result
// inside a trailing window.
type TopAppearance struct {
	AgentID     string
	Appearances int
}

// PopularityMaxima are the per-run normalization ceilings for the
// popularity sub-score, computed once over all active records.
type PopularityMaxima struct {
	Stars     int
	Downloads int
	Forks     int
}

// RecordStore is the durable source of truth for agent records.
// Implementations must keep every per-record update atomic.
type RecordStore interface {
	// Insert creates a new record; fails on a source URL collision.
	Insert(ctx context.Context, rec *AgentRecord) error
	// Update persists the full mutable state of an existing record.
	Update(ctx context.Context, rec *AgentRecord) error
	// GetByID fetches a record by opaque id; ErrRecordNotFound if absent.
	GetByID(ctx context.Context, id string) (*AgentRecord, error)
	// GetBySourceURL fetches by canonical URL; ErrRecordNotFound if absent.
	GetBySourceURL(ctx context.Context, url string) (*AgentRecord, error)
	// ListByState pages records in a lifecycle state, most-starred first.
	ListByState(ctx context.Context, state LifecycleState, limit int) ([]*AgentRecord, error)
	// ListActive pages active records ordered by quality, best first.
	ListActive(ctx context.Context, states []LifecycleState, limit int) ([]*AgentRecord, error)
	// ListByIDs fetches the records for ids that pass the filter, active only.
	ListByIDs(ctx context.Context, ids []string, f RecordFilter) ([]*AgentRecord, error)
	// SearchLexical matches need against name/description/category with
	// filters applied in the query, ordered by quality descending.
	SearchLexical(ctx context.Context, need string, f RecordFilter, limit int) ([]*AgentRecord, error)
	// SearchCapability substring-matches a single token against the
	// capability list, same filters and ordering as SearchLexical.
	SearchCapability(ctx context.Context, token string, f RecordFilter, limit int) ([]*AgentRecord, error)
	// PopularityMaxima returns per-run maxima over active records, floor 1.
	PopularityMaxima(ctx context.Context) (PopularityMaxima, error)
	// CountActive reports the number of active records.
	CountActive(ctx context.Context) (int, error)
	// Stats aggregates the public index statistics.
	Stats(ctx context.Context) (*IndexStats, error)
}

// QueryLog is the append-only discovery log.
type QueryLog interface {
	Append(ctx context.Context, entry QueryLogEntry) error
	// TopAppearances counts, per agent, how often it was the top result
	// since the cutoff.
	TopAppearances(ctx context.Context, since time.Time) ([]TopAppearance, error)
}

// VectorSearcher retrieves nearest-neighbor record ids for a query text.
// A nil or empty index yields no hits and no error; discovery then
// degrades to lexical search.
type VectorSearcher interface {
	// Search returns up to k (id, cosine similarity) pairs, best first.
	Search(ctx context.Context, need string, k int) ([]VectorHit, error)
	// Size reports how many vectors are currently served.
	Size() int
}

// VectorHit is one nearest-neighbor match.
type VectorHit struct {
	AgentID string
	Score   float64
}
