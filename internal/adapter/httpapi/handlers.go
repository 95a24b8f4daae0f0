package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"agentindex/internal/adapter/store"
	"agentindex/internal/domain"
)

const maxBodyBytes = 1 << 20 // 1MB

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req domain.DiscoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidInput, "invalid JSON: "+err.Error())
		return
	}

	resp, err := s.discovery.Discover(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidInput, "missing agent id")
		return
	}

	detail, err := s.discovery.GetAgent(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.Stats(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	window := 7 * 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, domain.CodeInvalidInput, "window must be a positive duration")
			return
		}
		window = d
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, domain.CodeInvalidInput, "limit must be a positive integer")
			return
		}
		limit = n
	}

	trending, err := s.stats.Trending(r.Context(), window, limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trending": trending})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	leaders, err := s.stats.CategoryLeaders(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": leaders})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerRequest struct {
	AgentName string `json:"agent_name"`
	AgentURL  string `json:"agent_url,omitempty"`
	Contact   string `json:"contact,omitempty"`
}

type registerResponse struct {
	APIKey           string `json:"api_key"`
	KeyPrefix        string `json:"key_prefix"`
	Tier             string `json:"tier"`
	RateLimitPerHour int    `json:"rate_limit_per_hour"`
}

// handleRegister issues a new API key. The full key appears in this
// response only; the store keeps the hash.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		writeError(w, http.StatusNotFound, domain.CodeUnknown, "registration disabled")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidInput, "invalid JSON: "+err.Error())
		return
	}
	if req.AgentName == "" {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidInput, "agent_name is required")
		return
	}

	raw, err := newRawKey()
	if err != nil {
		writeError(w, http.StatusInternalServerError, domain.CodeUnknown, "key generation failed")
		return
	}

	key := &domain.APIKey{
		ID:               store.NewID(),
		KeyHash:          hashKey(raw),
		KeyPrefix:        keyPrefix(raw),
		AgentName:        req.AgentName,
		AgentURL:         req.AgentURL,
		Contact:          req.Contact,
		Tier:             "free",
		RateLimitPerHour: s.cfg.RateLimitPerHour,
		MaxResults:       s.cfg.MaxResults,
		CreatedAt:        time.Now().UTC(),
		IsActive:         true,
	}
	if err := s.keys.Create(r.Context(), key); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.logger.Info("api key registered", "prefix", key.KeyPrefix, "agent", key.AgentName)
	writeJSON(w, http.StatusCreated, registerResponse{
		APIKey:           raw,
		KeyPrefix:        key.KeyPrefix,
		Tier:             key.Tier,
		RateLimitPerHour: key.RateLimitPerHour,
	})
}

func (s *Server) handleRankRun(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ranker.Run(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code domain.ErrorCode, msg string) {
	writeJSON(w, status, errorBody{Error: string(code), Message: msg})
}

// writeDomainError maps domain sentinels to HTTP statuses. Anything
// unrecognized is a 500 with the detail kept server-side.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCodeOf(err)
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, code, err.Error())
	case errors.Is(err, domain.ErrRecordNotFound), errors.Is(err, domain.ErrKeyNotFound):
		writeError(w, http.StatusNotFound, code, err.Error())
	case errors.Is(err, domain.ErrJobRunning):
		writeError(w, http.StatusConflict, code, err.Error())
	case errors.Is(err, domain.ErrRateLimit):
		w.Header().Set("Retry-After", "3600")
		writeError(w, http.StatusTooManyRequests, code, err.Error())
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, code, "internal error")
	}
}
