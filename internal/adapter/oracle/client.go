package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"agentindex/internal/domain"
	"agentindex/internal/infra/config"
)

// Circuit breaker defaults. A wedged local model would otherwise stall
// every batch job for its full timeout, one record at a time.
const (
	cbMaxFailures uint32 = 5
	cbTimeout            = 30 * time.Second
	cbInterval           = 60 * time.Second
)

// chatClient is a minimal Ollama chat client with a circuit breaker.
type chatClient struct {
	baseURL string
	model   string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[string]
	logger  *slog.Logger
}

func newChatClient(cfg config.OracleConfig, logger *slog.Logger) *chatClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "oracle:" + cfg.Model,
		MaxRequests: 1, // one probe in half-open
		Interval:    cbInterval,
		Timeout:     cbTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cbMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("oracle circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &chatClient{
		baseURL: baseURL,
		model:   cfg.Model,
		client:  &http.Client{Timeout: timeout},
		breaker: cb,
		logger:  logger,
	}
}

// --- Ollama chat wire types ---

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
}

// complete sends one user prompt and returns the model's text response.
// Low temperature: the callers want structured output, not creativity.
func (c *chatClient) complete(ctx context.Context, prompt string) (string, error) {
	out, err := c.breaker.Execute(func() (string, error) {
		return c.doComplete(ctx, prompt)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("%w: circuit open: %v", domain.ErrOracleCall, err)
		}
		return "", err
	}
	return out, nil
}

func (c *chatClient) doComplete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
		Stream:   false,
		Options:  chatOptions{Temperature: 0.1},
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", domain.ErrOracleCall, err)
	}

	url := c.baseURL + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: create request: %v", domain.ErrOracleCall, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: oracle chat: %v", domain.ErrTimeout, err)
		}
		return "", fmt.Errorf("%w: http request: %v", domain.ErrOracleCall, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 10*1024*1024))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", domain.ErrOracleCall, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: API error %d: %s",
			domain.ErrOracleCall, httpResp.StatusCode, string(respBody))
	}

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("%w: unmarshal response: %v", domain.ErrOracleCall, err)
	}
	return strings.TrimSpace(resp.Message.Content), nil
}
