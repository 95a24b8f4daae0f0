package domain

import "context"

// RecordEvidence is the bounded textual evidence handed to the oracle.
// The builder truncates free text to a token budget before it gets here.
type RecordEvidence struct {
	Name        string
	Description string
	Readme      string
	Tags        []string
	Language    string
	Author      string
	SourceKind  SourceKind
}

// ParseResult is the oracle's first-pass classification of a record.
type ParseResult struct {
	IsAgent          bool     `json:"is_agent"`
	Category         string   `json:"category"`
	Capabilities     []string `json:"capabilities"`
	DescriptionShort string   `json:"description_short"`
}

// TrustSignals are boolean quality indicators the oracle reads out of the
// record's evidence during deep classification.
type TrustSignals struct {
	HasTests           bool `json:"has_tests"`
	HasCI              bool `json:"has_ci"`
	HasLicense         bool `json:"has_license"`
	HasExamples        bool `json:"has_examples"`
	ActiveMaintenance  bool `json:"active_maintenance"`
	ClearDocumentation bool `json:"clear_documentation"`
	KnownAuthor        bool `json:"known_author"`
}

// SecurityAssessment is the oracle's security read of a record.
type SecurityAssessment struct {
	Score           float64  `json:"score"`
	Concerns        []string `json:"concerns,omitempty"`
	RequiresAPIKeys bool     `json:"requires_api_keys"`
	DataAccessLevel string   `json:"data_access_level"` // none|read|write|admin
}

// DuplicateRisk is the oracle's hint that a record may be a copy.
type DuplicateRisk struct {
	IsForkOrClone bool   `json:"is_fork_or_clone"`
	SimilarTo     string `json:"similar_to,omitempty"`
}

// Classifier recommendation values.
const (
	RecommendIndex        = "index"
	RecommendDeprioritize = "deprioritize"
	RecommendRemove       = "remove"
)

// ClassifyResult is the oracle's deep classification of a record.
type ClassifyResult struct {
	CategoryRefined     string             `json:"category_refined,omitempty"`
	CapabilitiesRefined []string           `json:"capabilities_refined,omitempty"`
	TagsRefined         []string           `json:"tags_refined,omitempty"`
	TrustSignals        TrustSignals       `json:"trust_signals"`
	Security            SecurityAssessment `json:"security_assessment"`
	DuplicateRisk       DuplicateRisk      `json:"duplicate_risk"`
	QualityOverride     *float64           `json:"quality_override,omitempty"`
	Recommendation      string             `json:"recommendation"`
}

// DuplicateVerdict is the oracle's answer for an ambiguous record pair.
type DuplicateVerdict struct {
	IsDuplicate  bool    `json:"is_duplicate"`
	Confidence   float64 `json:"confidence"`
	Relationship string  `json:"relationship"` // identical|fork|wrapper|related|different
	Keep         string  `json:"keep"`         // "a", "b", or "both"
	Reason       string  `json:"reason,omitempty"`
}

// Oracle is the external text-classification collaborator. Implementations
// must return ErrOracleParse (typically via OracleParseError) when the
// response cannot be turned into a schema-valid result; callers mark the
// record parse_failed and move on.
type Oracle interface {
	// Parse decides whether the evidence describes an agent at all and
	// extracts the first structured fields.
	Parse(ctx context.Context, ev RecordEvidence) (*ParseResult, error)

	// Classify performs deep analysis of an already-parsed record.
	Classify(ctx context.Context, rec *AgentRecord, readme string) (*ClassifyResult, error)

	// CompareDuplicates judges whether two records describe the same agent.
	CompareDuplicates(ctx context.Context, a, b *AgentRecord) (*DuplicateVerdict, error)

	// Name identifies the backing model for provenance metadata.
	Name() string
}
