// Package api provides HTTP handlers for the Lumi API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/lumi/internal/agent"
	"github.com/ashureev/lumi/internal/domain"
	"github.com/ashureev/lumi/internal/identity"
	"github.com/ashureev/lumi/internal/interview"
	"github.com/ashureev/lumi/internal/session"
	"github.com/ashureev/lumi/internal/store"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

// ServerInfo is reported by GET /api/config.
type ServerInfo struct {
	Model        string `json:"model"`
	StoreDriver  string `json:"store_driver"`
	VoiceEnabled bool   `json:"voice_enabled"`
}

// Handler serves the story and session endpoints.
type Handler struct {
	repo     store.Repository
	sessions *session.Registry
	builder  *interview.Builder
	limiter  *RateLimiter
	model    agent.LanguageModel
	info     ServerInfo
}

// NewHandler creates a Handler. A nil limiter disables rate limiting.
func NewHandler(repo store.Repository, sessions *session.Registry, limiter *RateLimiter, model agent.LanguageModel, info ServerInfo) *Handler {
	return &Handler{
		repo:     repo,
		sessions: sessions,
		builder:  interview.NewBuilder(repo),
		limiter:  limiter,
		model:    model,
		info:     info,
	}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/config", h.GetConfig)
		r.Get("/user-context", h.GetUserContext)
		r.Put("/user-context", h.PutUserContext)

		r.Get("/stories", h.ListStories)
		r.Post("/stories", h.CreateStory)
		r.Get("/stories/{storyID}", h.GetStory)
		r.Delete("/stories/{storyID}", h.DeleteStory)
		r.Post("/stories/{storyID}/outline", h.limited(h.GenerateOutline))
		r.Post("/stories/{storyID}/outline/import", h.ImportOutline)
		r.Get("/stories/{storyID}/chapters", h.ListChapters)
		r.Post("/stories/{storyID}/chapters", h.CreateChapter)

		r.Get("/chapters/{chapterID}/scenes", h.ListScenes)
		r.Post("/chapters/{chapterID}/scenes", h.CreateScene)

		r.Get("/scenes/{sceneID}/context", h.GetSceneContext)
		r.Post("/scenes/{sceneID}/draft", h.limited(h.DraftScene))
		r.Put("/qa/{pairID}", h.UpdateQAPair)

		r.Get("/session", h.GetSession)
		r.Post("/session/start", h.StartSession)
		r.Post("/session/interview", h.limited(h.StartInterview))
		r.Post("/session/input", h.limited(h.HandleInput))
		r.Post("/session/pause", h.PauseSession)
		r.Put("/session/mode", h.SetInputMode)
	})
}

// GetConfig returns the server configuration for the frontend.
func (h *Handler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.info)
}

// Health reports whether storage and the language model are reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]string{"store": "ok", "model": "ok"}
	if err := h.repo.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		body["store"] = err.Error()
	}
	if err := agent.CheckHealth(ctx, h.model); err != nil {
		status = http.StatusServiceUnavailable
		body["model"] = err.Error()
	}
	JSON(w, status, body)
}

// limited rejects model-backed requests over the per-user budget.
func (h *Handler) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := identity.UserIDFromContext(r.Context())
		if h.limiter != nil && !h.limiter.Allow(userID) {
			slog.Warn("Rate limit exceeded", "user_id", userID, "path", r.URL.Path)
			Error(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func (h *Handler) manager(r *http.Request) *session.Manager {
	return h.sessions.Get(identity.UserIDFromContext(r.Context()))
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrSceneNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidReference):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionBusy), errors.Is(err, domain.ErrSessionNotActive):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrModelExecution):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed",
			"error", err,
			"path", r.URL.Path,
			"user_id", identity.UserIDFromContext(r.Context()),
			"device_id", identity.DeviceIDFromContext(r.Context()))
	}
	Error(w, status, err.Error())
}
