package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/randalmurphal/flowgen/pkg/flowgen"
	"github.com/randalmurphal/flowgen/pkg/flowgen/auth"
	fgerrors "github.com/randalmurphal/flowgen/pkg/flowgen/errors"
	"github.com/randalmurphal/flowgen/pkg/flowgen/observability"
	"github.com/randalmurphal/flowgen/pkg/flowgen/quota"
)

// Response messages.
const (
	msgNotLoggedIn       = "You are not logged in."
	msgQuotaExceeded     = "Quota exceeded. Please wait for reset."
	msgQuotaUnavailable  = "Quota service unavailable."
	msgQueryRequired     = "Query parameter q is required"
	msgSearchUnavailable = "Search failed"
)

var errQuotaExhausted = errors.New("quota exhausted")

type messageBody struct {
	Message string `json:"message"`
}

type quotaBody struct {
	Message   string `json:"message,omitempty"`
	Remaining int64  `json:"remaining"`
	ResetAt   int64  `json:"resetAt"`
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req flowgen.GenerationRequest
	body := http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.reject(w, r, http.StatusBadRequest, messageBody{Message: flowgen.MessagePromptRequired}, err)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		s.reject(w, r, http.StatusBadRequest, messageBody{Message: flowgen.MessagePromptRequired}, flowgen.ErrPromptRequired)
		return
	}

	decision, err := s.limiter.CheckAndConsume(r.Context(), id.UserID)
	if err != nil {
		s.logger.Error("quota check failed",
			slog.String("identity", id.UserID),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusServiceUnavailable, messageBody{Message: msgQuotaUnavailable})
		return
	}
	s.setRateLimitHeaders(w, decision)
	if !decision.Allowed {
		s.reject(w, r, http.StatusTooManyRequests, quotaBody{
			Message:   msgQuotaExceeded,
			Remaining: 0,
			ResetAt:   decision.ResetAt.UnixMilli(),
		}, errQuotaExhausted)
		return
	}

	s.logger.Info("generation accepted",
		slog.String("identity", id.UserID),
		slog.Int64("remaining", decision.Remaining),
		slog.Bool("has_endpoint", req.Endpoint != ""),
		slog.Bool("has_token", req.Token != ""),
	)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stream := newSSEStream(w)
	for ev := range s.pipeline.Stream(ctx, req) {
		if err := stream.send(ev); err != nil {
			s.logger.Debug("stream write failed", slog.String("error", err.Error()))
			cancel()
		}
	}
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	decision, err := s.limiter.Status(r.Context(), id.UserID)
	if err != nil {
		s.logger.Error("quota status failed",
			slog.String("identity", id.UserID),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusServiceUnavailable, messageBody{Message: msgQuotaUnavailable})
		return
	}
	writeJSON(w, http.StatusOK, quotaBody{
		Remaining: decision.Remaining,
		ResetAt:   decision.ResetAt.UnixMilli(),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !s.enableSearch {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if _, err := s.auth.Authenticate(r); err != nil {
		s.reject(w, r, http.StatusForbidden, messageBody{Message: msgNotLoggedIn}, err)
		return
	}

	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.reject(w, r, http.StatusBadRequest, errorBody{Error: msgQueryRequired}, flowgen.ErrQueryRequired)
		return
	}

	res, err := s.pipeline.Lookup(r.Context(), q)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, flowgen.ErrQueryRequired) {
			status = http.StatusBadRequest
		}
		s.logger.Error("search failed", slog.String("error", err.Error()))
		writeJSON(w, status, errorBody{Error: msgSearchUnavailable, Details: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) setRateLimitHeaders(w http.ResponseWriter, d quota.Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.FormatInt(s.limiter.Limit(), 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(max(d.Remaining, 0), 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if !d.Allowed {
		retry := max(int64(d.ResetAt.Sub(s.now()).Seconds()), 0)
		h.Set("Retry-After", strconv.FormatInt(retry, 10))
	}
}

// reject answers a request refused before any pipeline work.
func (s *Server) reject(w http.ResponseWriter, r *http.Request, status int, body any, cause error) {
	observability.LogRejection(s.logger, r.URL.Path, status, fgerrors.Rejection(cause, r.Method+" "+r.URL.Path))
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
