package domain

import (
	"encoding/json"
	"time"
)

// LifecycleState is the pipeline stage a record has reached.
type LifecycleState string

const (
	StateIndexed    LifecycleState = "indexed"    // raw, just ingested
	StateParsed     LifecycleState = "parsed"     // oracle classified it
	StateClassified LifecycleState = "classified" // deep signals applied
	StateRanked     LifecycleState = "ranked"     // scored

	StateNotAgent    LifecycleState = "not_agent"    // oracle rejected it
	StateParseFailed LifecycleState = "parse_failed" // oracle output unusable, retryable
	StateRemoved     LifecycleState = "removed"      // classifier recommended removal
	StateDuplicate   LifecycleState = "duplicate"    // resolved as inferior copy
)

// SearchableStates are the lifecycle states eligible for discovery results.
var SearchableStates = []LifecycleState{StateParsed, StateClassified, StateRanked}

// RankableStates are the lifecycle states the ranking engine recomputes.
var RankableStates = []LifecycleState{StateClassified, StateRanked}

// SourceKind identifies which upstream a record came from.
type SourceKind string

const (
	SourceGitHub      SourceKind = "github"
	SourceNPM         SourceKind = "npm"
	SourcePyPI        SourceKind = "pypi"
	SourceHuggingFace SourceKind = "huggingface"
	SourceMCP         SourceKind = "mcp"
	SourceA2A         SourceKind = "a2a"
)

// AgentRecord is one indexed agent. The source URL is the canonical
// identity: re-ingesting the same URL updates, never duplicates.
type AgentRecord struct {
	ID            string     `json:"id"`
	SourceKind    SourceKind `json:"source"`
	SourceURL     string     `json:"source_url"`
	SourceLocalID string     `json:"source_id,omitempty"`

	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Author      string   `json:"author,omitempty"`
	License     string   `json:"license,omitempty"`
	Language    string   `json:"language,omitempty"`
	Frameworks  []string `json:"frameworks,omitempty"`
	Tags        []string `json:"tags,omitempty"`

	Capabilities []string `json:"capabilities,omitempty"`
	Category     string   `json:"category,omitempty"`

	Invocation json.RawMessage `json:"invocation,omitempty"`
	Protocols  []string        `json:"protocols,omitempty"`
	Pricing    json.RawMessage `json:"pricing,omitempty"`

	QualityScore         float64 `json:"quality_score"`
	DocumentationScore   float64 `json:"documentation_score"`
	ActivityScore        float64 `json:"activity_score"`
	PopularityScore      float64 `json:"popularity_score"`
	CapabilityDepthScore float64 `json:"capability_depth_score"`
	SecurityScore        float64 `json:"security_score"`

	Stars     int `json:"stars"`
	Forks     int `json:"forks"`
	Downloads int `json:"downloads"`

	LifecycleState LifecycleState `json:"lifecycle_state"`
	IsActive       bool           `json:"is_active"`
	IsVerified     bool           `json:"is_verified"`

	FirstIndexedAt      time.Time  `json:"first_indexed"`
	LastCrawledAt       time.Time  `json:"last_crawled"`
	LastSourceUpdatedAt *time.Time `json:"last_source_update,omitempty"`

	// RawMetadata is the provenance bag: original text, oracle output,
	// dedup decisions. Never exposed through query projections.
	RawMetadata map[string]json.RawMessage `json:"-"`
}

// NormalizedName is the dedup grouping key: lowercase, alphanumerics only.
func (r *AgentRecord) NormalizedName() string {
	return NormalizeName(r.Name)
}

// AgentSummary is the public projection returned by discovery queries.
type AgentSummary struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Capabilities []string        `json:"capabilities,omitempty"`
	Category     string          `json:"category,omitempty"`
	QualityScore float64         `json:"quality_score"`
	Invocation   json.RawMessage `json:"invocation,omitempty"`
	Protocols    []string        `json:"protocols,omitempty"`
	Pricing      json.RawMessage `json:"pricing,omitempty"`
	IsVerified   bool            `json:"is_verified"`
	SourceURL    string          `json:"source_url"`
	SourceKind   SourceKind      `json:"source"`
	Stars        int             `json:"stars"`
	Author       string          `json:"author,omitempty"`
}

// AgentDetail extends the summary for single-record lookups.
type AgentDetail struct {
	AgentSummary

	Tags                []string   `json:"tags,omitempty"`
	Frameworks          []string   `json:"frameworks,omitempty"`
	Language            string     `json:"language,omitempty"`
	License             string     `json:"license,omitempty"`
	DocumentationScore  float64    `json:"documentation_score"`
	ActivityScore       float64    `json:"activity_score"`
	PopularityScore     float64    `json:"popularity_score"`
	SecurityScore       float64    `json:"security_score"`
	Forks               int        `json:"forks"`
	Downloads           int        `json:"downloads"`
	FirstIndexedAt      time.Time  `json:"first_indexed"`
	LastSourceUpdatedAt *time.Time `json:"last_source_update,omitempty"`
}

// Summary builds the public discovery projection. RawMetadata never leaves
// the record store through this path.
func (r *AgentRecord) Summary() AgentSummary {
	return AgentSummary{
		ID:           r.ID,
		Name:         r.Name,
		Description:  r.Description,
		Capabilities: r.Capabilities,
		Category:     r.Category,
		QualityScore: r.QualityScore,
		Invocation:   r.Invocation,
		Protocols:    r.Protocols,
		Pricing:      r.Pricing,
		IsVerified:   r.IsVerified,
		SourceURL:    r.SourceURL,
		SourceKind:   r.SourceKind,
		Stars:        r.Stars,
		Author:       r.Author,
	}
}

// Detail builds the full public projection for record lookups.
func (r *AgentRecord) Detail() AgentDetail {
	return AgentDetail{
		AgentSummary:        r.Summary(),
		Tags:                r.Tags,
		Frameworks:          r.Frameworks,
		Language:            r.Language,
		License:             r.License,
		DocumentationScore:  r.DocumentationScore,
		ActivityScore:       r.ActivityScore,
		PopularityScore:     r.PopularityScore,
		SecurityScore:       r.SecurityScore,
		Forks:               r.Forks,
		Downloads:           r.Downloads,
		FirstIndexedAt:      r.FirstIndexedAt,
		LastSourceUpdatedAt: r.LastSourceUpdatedAt,
	}
}

// NormalizeName lowercases a name and strips every non-alphanumeric rune.
// Exact collisions on the normalized form are the dedup grouping key.
func NormalizeName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		}
	}
	return string(out)
}
