package oracle

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"agentindex/internal/domain"
)

const categories = "coding|research|content|legal|data|finance|marketing|design|devops|security|education|health|communication|productivity|infrastructure|other"

const parsePromptTemplate = `Classify this software. Is it an AI agent, AI tool, MCP server, agent framework, or agent platform? Respond ONLY with JSON.

An "agent" includes: autonomous agents, AI assistants, MCP servers, agent frameworks, agent platforms, AI tools that can be invoked programmatically, and LLM-based automation tools.

Name: %s
Description: %s
Topics: %s
Language: %s
README: %s

JSON:
{
  "is_agent": true/false,
  "category": "%s",
  "capabilities": ["cap1", "cap2", "cap3"],
  "description_short": "one sentence"
}`

const classifyPromptTemplate = `You are an expert AI agent evaluator. Analyze this agent deeply.

Agent name: %s
Source: %s
Category: %s
Capabilities: %s
Description: %s
Author: %s
Stars: %d
Frameworks: %s
Protocols: %s
Language: %s
Last updated: %s

README excerpt:
%s

Respond with ONLY valid JSON:
{
  "category_refined": "best category from: %s",
  "capabilities_refined": ["list", "of", "validated", "specific", "capabilities"],
  "tags_refined": ["specific", "searchable", "tags"],
  "trust_signals": {
    "has_tests": true/false,
    "has_ci": true/false,
    "has_license": true/false,
    "has_examples": true/false,
    "active_maintenance": true/false,
    "clear_documentation": true/false,
    "known_author": true/false
  },
  "security_assessment": {
    "score": 0.0 to 1.0,
    "concerns": ["list any security concerns"],
    "requires_api_keys": true/false,
    "data_access_level": "none|read|write|admin"
  },
  "duplicate_risk": {
    "is_fork_or_clone": true/false,
    "similar_to": "name of similar agent if any, or null"
  },
  "quality_override": null or 0.0-1.0,
  "recommendation": "index|deprioritize|remove"
}

Be strict. Only validate capabilities that the README actually supports.
Remove vague capabilities. Be specific.`

const comparePromptTemplate = `Compare these two agents and determine if they are duplicates.

Agent A:
- Name: %s
- Source: %s
- Description: %s
- Capabilities: %s
- Author: %s

Agent B:
- Name: %s
- Source: %s
- Description: %s
- Capabilities: %s
- Author: %s

Respond with ONLY valid JSON:
{
  "is_duplicate": true/false,
  "confidence": 0.0 to 1.0,
  "relationship": "identical|fork|wrapper|related|different",
  "keep": "a" or "b" or "both",
  "reason": "brief explanation"
}`

func buildParsePrompt(ev domain.RecordEvidence, readmeTokens int) string {
	return fmt.Sprintf(parsePromptTemplate,
		ev.Name,
		orNA(ev.Description),
		orNA(strings.Join(ev.Tags, ", ")),
		orNA(ev.Language),
		orNA(truncateTokens(ev.Readme, readmeTokens)),
		categories,
	)
}

func buildClassifyPrompt(rec *domain.AgentRecord, readme string, readmeTokens int) string {
	lastUpdated := "unknown"
	if rec.LastSourceUpdatedAt != nil {
		lastUpdated = rec.LastSourceUpdatedAt.Format("2006-01-02")
	}
	return fmt.Sprintf(classifyPromptTemplate,
		rec.Name,
		string(rec.SourceKind),
		orDefault(rec.Category, "unknown"),
		quoteList(rec.Capabilities),
		orNA(rec.Description),
		orDefault(rec.Author, "unknown"),
		rec.Stars,
		orNA(strings.Join(rec.Frameworks, ", ")),
		orNA(strings.Join(rec.Protocols, ", ")),
		orDefault(rec.Language, "unknown"),
		lastUpdated,
		orNA(truncateTokens(readme, readmeTokens)),
		strings.ReplaceAll(categories, "|", ", "),
	)
}

func buildComparePrompt(a, b *domain.AgentRecord) string {
	return fmt.Sprintf(comparePromptTemplate,
		a.Name, string(a.SourceKind), orNA(a.Description), quoteList(a.Capabilities), orDefault(a.Author, "unknown"),
		b.Name, string(b.SourceKind), orNA(b.Description), quoteList(b.Capabilities), orDefault(b.Author, "unknown"),
	)
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// truncateTokens bounds text to maxTokens. When the tokenizer is
// unavailable (no cached BPE files, offline host) it falls back to a
// 4-bytes-per-token estimate.
func truncateTokens(text string, maxTokens int) string {
	if text == "" || maxTokens <= 0 {
		return text
	}

	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})

	if encoding == nil {
		return clip(text, maxTokens*4)
	}

	tokens := encoding.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return encoding.Decode(tokens[:maxTokens])
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func quoteList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = fmt.Sprintf("%q", it)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
