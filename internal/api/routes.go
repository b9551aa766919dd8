package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pms-sync-service/internal/logger"
	"pms-sync-service/internal/store"
	"pms-sync-service/internal/sync"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// SyncService is the part of the sync manager exposed over HTTP.
type SyncService interface {
	Trigger(ctx context.Context) (*sync.Result, error)
	Status(ctx context.Context) (*sync.Status, error)
	History(ctx context.Context, limit, offset int) ([]*store.SyncRun, error)
	UnknownSources() []string
}

type Handler struct {
	syncService SyncService
	authToken   string
}

func NewHandler(service SyncService, authToken string) *Handler {
	return &Handler{
		syncService: service,
		authToken:   authToken,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(h.authToken))

		r.Post("/sync/trigger", h.TriggerSync)
		r.Get("/sync/status", h.GetSyncStatus)
		r.Get("/sync/history", h.GetSyncHistory)
		r.Get("/sync/unknown-sources", h.GetUnknownSources)
	})

	return r
}

type runResponse struct {
	ID            string     `json:"id"`
	EntityType    string     `json:"entity_type"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at"`
	RecordsSynced int64      `json:"records_synced"`
	ErrorMessage  *string    `json:"error_message"`
	// Stale is only reported by the status endpoint.
	Stale *bool `json:"stale,omitempty"`
}

func toRunResponse(run *store.SyncRun) *runResponse {
	if run == nil {
		return nil
	}
	resp := &runResponse{
		ID:            run.ID,
		EntityType:    run.EntityType,
		Status:        string(run.Status),
		StartedAt:     run.StartedAt,
		RecordsSynced: run.RecordsSynced,
	}
	if run.CompletedAt.Valid {
		t := run.CompletedAt.Time
		resp.CompletedAt = &t
	}
	if run.ErrorMessage.Valid {
		msg := run.ErrorMessage.String
		resp.ErrorMessage = &msg
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warn("Failed to write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	res, err := h.syncService.Trigger(r.Context())
	if err != nil {
		logger.Log.Error("Failed to trigger sync", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if res.AlreadyRunning {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "already_running",
			"message": "A sync is already in progress",
			"run_id":  res.Run.ID,
			"run":     toRunResponse(res.Run),
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "started",
		"message": "Sync started in background",
		"run_id":  res.Run.ID,
		"run":     toRunResponse(res.Run),
	})
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.syncService.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if st.State == sync.StateNeverRun {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  st.State,
			"message": "No sync has been run yet",
		})
		return
	}
	resp := toRunResponse(st.Run)
	resp.Stale = &st.Stale
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetSyncHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultHistoryLimit)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	runs, err := h.syncService.History(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]*runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunResponse(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":   out,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *Handler) GetUnknownSources(w http.ResponseWriter, r *http.Request) {
	sources := h.syncService.UnknownSources()
	if sources == nil {
		sources = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// AuthMiddleware requires "Authorization: Bearer <token>". An empty token
// disables the check.
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
