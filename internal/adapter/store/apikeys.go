package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"agentindex/internal/domain"
)

// Create implements domain.KeyStore.
func (s *Store) Create(ctx context.Context, key *domain.APIKey) error {
	if key.ID == "" {
		key.ID = NewID()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys
			(id, key_hash, key_prefix, agent_name, agent_url, contact, tier,
			 rate_limit_per_hour, max_results, total_requests, last_request_at,
			 created_at, is_active, is_flagged, flag_reason)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		key.ID, key.KeyHash, key.KeyPrefix, key.AgentName, key.AgentURL,
		key.Contact, key.Tier, key.RateLimitPerHour, key.MaxResults,
		key.TotalRequests, nil, key.CreatedAt.UTC().Format(time.RFC3339),
		boolToInt(key.IsActive), boolToInt(key.IsFlagged), key.FlagReason)
	if err != nil {
		return fmt.Errorf("%w: create key: %v", domain.ErrRecordStore, err)
	}
	return nil
}

// GetByHash implements domain.KeyStore. The usage counters are bumped on
// every successful lookup, so callers get accurate totals for free.
func (s *Store) GetByHash(ctx context.Context, hash string) (*domain.APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, key_hash, key_prefix, agent_name, agent_url, contact, tier,
		       rate_limit_per_hour, max_results, total_requests,
		       last_request_at, created_at, is_active, is_flagged, flag_reason
		FROM api_keys WHERE key_hash = ? AND is_active = 1`, hash)

	var (
		key         domain.APIKey
		lastRequest sql.NullString
		createdAt   string
		isActive    int
		isFlagged   int
	)
	err := row.Scan(
		&key.ID, &key.KeyHash, &key.KeyPrefix, &key.AgentName, &key.AgentURL,
		&key.Contact, &key.Tier, &key.RateLimitPerHour, &key.MaxResults,
		&key.TotalRequests, &lastRequest, &createdAt, &isActive, &isFlagged,
		&key.FlagReason,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get key: %v", domain.ErrRecordStore, err)
	}

	key.IsActive = isActive != 0
	key.IsFlagged = isFlagged != 0
	key.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if lastRequest.Valid && lastRequest.String != "" {
		if t, err := time.Parse(time.RFC3339, lastRequest.String); err == nil {
			key.LastRequestAt = &t
		}
	}

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET total_requests = total_requests + 1,
			last_request_at = ? WHERE id = ?`,
		now.Format(time.RFC3339), key.ID); err != nil {
		s.logger.Warn("api key usage update failed", "error", err)
	} else {
		key.TotalRequests++
		key.LastRequestAt = &now
	}

	return &key, nil
}

// Revoke implements domain.KeyStore.
func (s *Store) Revoke(ctx context.Context, hash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET is_active = 0 WHERE key_hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("%w: revoke key: %v", domain.ErrRecordStore, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrKeyNotFound
	}
	return nil
}

// Flag implements domain.KeyStore.
func (s *Store) Flag(ctx context.Context, hash, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET is_flagged = 1, flag_reason = ? WHERE key_hash = ?`,
		reason, hash)
	if err != nil {
		return fmt.Errorf("%w: flag key: %v", domain.ErrRecordStore, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrKeyNotFound
	}
	return nil
}
