package usecase

import (
	"encoding/json"
	"time"

	"agentindex/internal/domain"
)

// Raw metadata keys. The metadata bag carries crawl text and pipeline
// provenance; it never leaves the store through query projections.
const (
	metaReadme        = "readme"
	metaParse         = "parse"
	metaParseError    = "parse_error"
	metaParseFailedAt = "parse_failed_at"
	metaClassify      = "classification"
	metaDedupe        = "dedup"
)

func metaString(rec *domain.AgentRecord, key string) string {
	raw, ok := rec.RawMetadata[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func metaTime(rec *domain.AgentRecord, key string) time.Time {
	var t time.Time
	raw, ok := rec.RawMetadata[key]
	if !ok {
		return t
	}
	_ = json.Unmarshal(raw, &t)
	return t
}

func setMeta(rec *domain.AgentRecord, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if rec.RawMetadata == nil {
		rec.RawMetadata = make(map[string]json.RawMessage)
	}
	rec.RawMetadata[key] = raw
}

// uniqueStrings deduplicates a string slice, preserving order.
func uniqueStrings(ss []string) []string {
	seen := make(map[string]struct{}, len(ss))
	var result []string
	for _, s := range ss {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			result = append(result, s)
		}
	}
	return result
}

func firstN(ss []string, n int) []string {
	if len(ss) > n {
		return ss[:n]
	}
	return ss
}
