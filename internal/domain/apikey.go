package domain

import (
	"context"
	"time"
)

// APIKey is a consumer credential for the discovery API. Only the SHA-256
// hash of the key is stored; the full key is shown once at registration.
type APIKey struct {
	ID        string `json:"id"`
	KeyHash   string `json:"-"`
	KeyPrefix string `json:"prefix"`

	AgentName string `json:"agent_name,omitempty"`
	AgentURL  string `json:"agent_url,omitempty"`
	Contact   string `json:"contact,omitempty"`

	Tier             string `json:"tier"` // free, verified, premium
	RateLimitPerHour int    `json:"rate_limit_per_hour"`
	MaxResults       int    `json:"max_results_per_request"`

	TotalRequests int        `json:"total_requests"`
	LastRequestAt *time.Time `json:"last_request_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`

	IsActive   bool   `json:"is_active"`
	IsFlagged  bool   `json:"is_flagged"`
	FlagReason string `json:"flag_reason,omitempty"`
}

// KeyStore persists API keys and their usage counters.
type KeyStore interface {
	// Create stores a new key row (hash only).
	Create(ctx context.Context, key *APIKey) error
	// GetByHash looks a key up by its SHA-256 hash and bumps usage.
	// Returns ErrKeyNotFound for unknown or revoked keys.
	GetByHash(ctx context.Context, hash string) (*APIKey, error)
	// Revoke deactivates a key.
	Revoke(ctx context.Context, hash string) error
	// Flag marks a key as suspected abuse.
	Flag(ctx context.Context, hash, reason string) error
}
