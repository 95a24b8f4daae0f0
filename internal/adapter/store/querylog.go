package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agentindex/internal/domain"
)

// Append implements domain.QueryLog.
func (s *Store) Append(ctx context.Context, entry domain.QueryLogEntry) error {
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	protocols, err := json.Marshal(emptyIfNil(entry.Protocols))
	if err != nil {
		return fmt.Errorf("%w: marshal protocols: %v", domain.ErrRecordStore, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO discovery_log
			(id, need, category, protocols, search_method, result_count,
			 top_result_id, latency_ms, timestamp)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		entry.ID, entry.Need, entry.Category, string(protocols),
		entry.SearchMethod, entry.ResultCount, entry.TopResultID,
		entry.LatencyMS, entry.Timestamp.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("%w: append query log: %v", domain.ErrRecordStore, err)
	}
	return nil
}

// TopAppearances implements domain.QueryLog.
func (s *Store) TopAppearances(ctx context.Context, since time.Time) ([]domain.TopAppearance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT top_result_id, COUNT(*) AS n
		FROM discovery_log
		WHERE top_result_id != '' AND timestamp >= ?
		GROUP BY top_result_id
		ORDER BY n DESC`,
		since.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("%w: top appearances: %v", domain.ErrRecordStore, err)
	}
	defer rows.Close()

	var out []domain.TopAppearance
	for rows.Next() {
		var t domain.TopAppearance
		if err := rows.Scan(&t.AgentID, &t.Appearances); err != nil {
			return nil, fmt.Errorf("%w: top appearances scan: %v", domain.ErrRecordStore, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
