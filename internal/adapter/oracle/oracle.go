package oracle

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"agentindex/internal/domain"
	"agentindex/internal/infra/config"
)

// LLMOracle implements domain.Oracle against a local Ollama model.
// Parse sees a short readme excerpt; Classify gets the full token budget.
type LLMOracle struct {
	client      *chatClient
	model       string
	tokenBudget int
	logger      *slog.Logger
}

// New creates an oracle from config.
func New(cfg config.OracleConfig, logger *slog.Logger) *LLMOracle {
	budget := cfg.TokenBudget
	if budget <= 0 {
		budget = 1500
	}
	return &LLMOracle{
		client:      newChatClient(cfg, logger),
		model:       cfg.Model,
		tokenBudget: budget,
		logger:      logger,
	}
}

// Name implements domain.Oracle.
func (o *LLMOracle) Name() string { return "ollama:" + o.model }

// Parse implements domain.Oracle.
func (o *LLMOracle) Parse(ctx context.Context, ev domain.RecordEvidence) (*domain.ParseResult, error) {
	// The first pass is a cheap yes/no gate; a short excerpt is enough.
	prompt := buildParsePrompt(ev, o.tokenBudget/3)

	raw, err := o.client.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	obj, err := extractJSON("parse", raw)
	if err != nil {
		return nil, err
	}
	if err := validate("parse", parseSchema, obj); err != nil {
		return nil, err
	}

	var result domain.ParseResult
	if err := json.Unmarshal(obj, &result); err != nil {
		return nil, &domain.OracleParseError{Stage: "parse", Raw: clip(raw, 2000), Reason: err.Error()}
	}

	result.Category = normalizeCategory(result.Category)
	return &result, nil
}

// Classify implements domain.Oracle.
func (o *LLMOracle) Classify(ctx context.Context, rec *domain.AgentRecord, readme string) (*domain.ClassifyResult, error) {
	prompt := buildClassifyPrompt(rec, readme, o.tokenBudget)

	raw, err := o.client.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	obj, err := extractJSON("classify", raw)
	if err != nil {
		return nil, err
	}
	if err := validate("classify", classifySchema, obj); err != nil {
		return nil, err
	}

	var result domain.ClassifyResult
	if err := json.Unmarshal(obj, &result); err != nil {
		return nil, &domain.OracleParseError{Stage: "classify", Raw: clip(raw, 2000), Reason: err.Error()}
	}

	if result.Recommendation == "" {
		result.Recommendation = domain.RecommendIndex
	}
	result.CategoryRefined = normalizeCategory(result.CategoryRefined)
	result.Security.Score = clamp01(result.Security.Score)
	if result.QualityOverride != nil {
		v := clamp01(*result.QualityOverride)
		result.QualityOverride = &v
	}
	return &result, nil
}

// CompareDuplicates implements domain.Oracle.
func (o *LLMOracle) CompareDuplicates(ctx context.Context, a, b *domain.AgentRecord) (*domain.DuplicateVerdict, error) {
	prompt := buildComparePrompt(a, b)

	raw, err := o.client.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	obj, err := extractJSON("dedupe", raw)
	if err != nil {
		return nil, err
	}
	if err := validate("dedupe", compareSchema, obj); err != nil {
		return nil, err
	}

	var verdict domain.DuplicateVerdict
	if err := json.Unmarshal(obj, &verdict); err != nil {
		return nil, &domain.OracleParseError{Stage: "dedupe", Raw: clip(raw, 2000), Reason: err.Error()}
	}

	verdict.Confidence = clamp01(verdict.Confidence)
	return &verdict, nil
}

// normalizeCategory lowercases and restricts to the known set; anything
// off-list becomes "other". An empty category stays empty so callers can
// tell "not provided" from "other".
func normalizeCategory(cat string) string {
	if cat == "" {
		return ""
	}
	cat = strings.ToLower(strings.TrimSpace(cat))
	for _, known := range strings.Split(categories, "|") {
		if cat == known {
			return cat
		}
	}
	return "other"
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Compile-time interface check.
var _ domain.Oracle = (*LLMOracle)(nil)
