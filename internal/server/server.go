// Package server exposes the HTTP API: analysis control, camera state,
// detection history, configuration overrides, and health/metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lauritssn/yolo-llm-vision/internal/auth"
	"github.com/lauritssn/yolo-llm-vision/internal/config"
	"github.com/lauritssn/yolo-llm-vision/internal/middleware"
	"github.com/lauritssn/yolo-llm-vision/internal/sidecar"
	"github.com/lauritssn/yolo-llm-vision/internal/store"
	"github.com/lauritssn/yolo-llm-vision/internal/vision"
	"github.com/lauritssn/yolo-llm-vision/internal/ws"
)

// SidecarProbe is the slice of the sidecar client used by the health and
// classes endpoints.
type SidecarProbe interface {
	Health(ctx context.Context) (*sidecar.HealthInfo, error)
	Classes(ctx context.Context) ([]string, error)
}

// Deps are the server's collaborators. History and Hub may be nil.
type Deps struct {
	Orchestrator  *vision.Orchestrator
	Config        *config.Store
	Authenticator *auth.Authenticator
	History       *store.Store
	Hub           *ws.Hub
	Sidecar       SidecarProbe
	Log           zerolog.Logger
}

// Server is the HTTP API server.
type Server struct {
	deps   Deps
	router chi.Router
	log    zerolog.Logger
}

func New(deps Deps) *Server {
	s := &Server{
		deps: deps,
		log:  deps.Log.With().Str("component", "server").Logger(),
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(s.log))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/login", s.handleLogin)

	if s.deps.Hub != nil {
		r.Handle("/ws", ws.NewHandler(s.deps.Hub))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(s.deps.Authenticator))

		r.Post("/analyze", s.handleAnalyze)
		r.Get("/state", s.handleStates)
		r.Get("/state/{entity}", s.handleState)
		r.Get("/state/{entity}/image", s.handleStateImage)
		r.Get("/detections", s.handleDetections)
		r.Get("/classes", s.handleClasses)
		r.Get("/config", s.handleGetConfig)
		r.Put("/config", s.handlePutConfig)
	})

	return r
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(wrapped, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports readiness including the sidecar's own health. A
// degraded sidecar yields 503 so orchestration platforms hold traffic.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sidecar == nil {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "sidecar": "unconfigured"})
		return
	}

	info, err := s.deps.Sidecar.Health(r.Context())
	if err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "degraded",
			"sidecar": err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"sidecar": info.Status,
		"model":   info.Model,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, expiresAt, err := s.deps.Authenticator.Authenticate(req.Username, req.Password)
	if err != nil {
		switch err {
		case auth.ErrAuthDisabled:
			s.writeError(w, http.StatusNotFound, "authentication is disabled")
		case auth.ErrInvalidCredentials:
			s.writeError(w, http.StatusUnauthorized, "invalid credentials")
		default:
			s.writeError(w, http.StatusInternalServerError, "login failed")
		}
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt,
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.deps.Orchestrator == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no active orchestrator")
		return
	}

	var req struct {
		EntityID string `json:"entity_id"`
		ForceLLM bool   `json:"force_llm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.EntityID == "" {
		s.writeError(w, http.StatusUnprocessableEntity, "entity_id is required")
		return
	}

	result := s.deps.Orchestrator.Analyze(r.Context(), req.EntityID, req.ForceLLM)
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStates(w http.ResponseWriter, r *http.Request) {
	views := s.deps.Orchestrator.Views()
	if views == nil {
		views = []vision.View{}
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	s.writeJSON(w, http.StatusOK, s.deps.Orchestrator.View(entity))
}

func (s *Server) handleStateImage(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	image := s.deps.Orchestrator.LastImage(entity)
	if image == nil {
		s.writeError(w, http.StatusNotFound, "no image available")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(image)
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.writeError(w, http.StatusServiceUnavailable, "history is not configured")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	records, err := s.deps.History.Recent(r.URL.Query().Get("entity_id"), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("history query failed")
		s.writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	if records == nil {
		records = []store.DetectionRecord{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

// handleClasses proxies the sidecar's class vocabulary.
func (s *Server) handleClasses(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sidecar == nil {
		s.writeError(w, http.StatusServiceUnavailable, "sidecar is not configured")
		return
	}

	classes, err := s.deps.Sidecar.Classes(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("classes request failed")
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"classes": classes})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Config.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"sidecar_url":          snap.SidecarURL,
		"cameras":              snap.Cameras,
		"confidence_threshold": snap.ConfidenceThreshold,
		"detection_classes":    snap.DetectionClasses,
		"draw_boxes":           snap.DrawBoxes,
		"save_annotated_image": snap.SaveAnnotated,
		"llm_provider":         snap.LLMProvider,
		"llm_prompt":           snap.LLMPrompt,
		"notify_service":       snap.NotifyService,
	})
}

// handlePutConfig replaces the live override layer. The base settings loaded
// at startup are never touched.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var ov config.Overrides
	if err := json.NewDecoder(r.Body).Decode(&ov); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.deps.Config.SetOverrides(&ov)
	s.log.Info().Msg("configuration overrides updated")
	s.handleGetConfig(w, r)
}
