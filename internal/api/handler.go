package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/feature"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	store         *artifact.Store
	scorer        *scoring.Scorer
	repo          domain.Repository
	cache         domain.Cache
	bus           domain.EventBus
	version       string
	predictionTTL time.Duration
}

// NewHandler creates a new API handler.
func NewHandler(store *artifact.Store, scorer *scoring.Scorer, repo domain.Repository, c domain.Cache, bus domain.EventBus, version string, predictionTTL time.Duration) *Handler {
	return &Handler{
		store:         store,
		scorer:        scorer,
		repo:          repo,
		cache:         c,
		bus:           bus,
		version:       version,
		predictionTTL: predictionTTL,
	}
}

// PredictResponse is the response for POST /predict.
type PredictResponse struct {
	Success          bool                     `json:"success"`
	Prediction       *domain.PredictionResult `json:"prediction,omitempty"`
	ProcessingTimeMs float64                  `json:"processing_time_ms"`
	Timestamp        string                   `json:"timestamp"`
	Error            string                   `json:"error,omitempty"`
}

// Predict handles POST /predict requests.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	// A JSON null decodes into a nil map without error, so check both.
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil || raw == nil {
		writeJSON(w, http.StatusBadRequest, PredictResponse{
			Success:          false,
			Error:            "request body must be a JSON object",
			ProcessingTimeMs: elapsedMs(start),
			Timestamp:        time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	record, err := buildRecord(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, PredictResponse{
			Success:          false,
			Error:            err.Error(),
			ProcessingTimeMs: elapsedMs(start),
			Timestamp:        time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	snap := h.scorer.Snapshot()

	// Cache lookup keyed by the payload and the loaded artifact set.
	var cacheKey string
	if h.cache != nil {
		cacheKey = cache.PredictionKey(record, snap.Signature())
		if cached, cerr := h.cache.GetPrediction(ctx, cacheKey); cerr == nil && cached != nil {
			writeJSON(w, http.StatusOK, PredictResponse{
				Success:          true,
				Prediction:       cached,
				ProcessingTimeMs: elapsedMs(start),
				Timestamp:        time.Now().UTC().Format(time.RFC3339),
			})
			return
		}
	}

	result, err := h.scorer.ScoreWithSnapshot(ctx, snap, record)
	if err != nil {
		slog.Error("scoring failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, PredictResponse{
			Success:          false,
			Error:            "prediction failed",
			ProcessingTimeMs: elapsedMs(start),
			Timestamp:        time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	if h.cache != nil && result.Error == "" {
		if cerr := h.cache.SetPrediction(ctx, cacheKey, result, h.predictionTTL); cerr != nil {
			slog.Warn("failed to cache prediction", "error", cerr)
		}
	}

	predictionID := uuid.New().String()
	if h.repo != nil {
		rec := &domain.PredictionRecord{
			ID:        predictionID,
			TraceID:   traceID,
			Features:  record,
			Result:    *result,
			CreatedAt: time.Now().UTC(),
		}
		if err := h.repo.SavePrediction(ctx, rec); err != nil {
			slog.Error("failed to save prediction", "prediction_id", predictionID, "error", err)
		}
	}

	if h.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"id":       predictionID,
			"trace_id": traceID,
			"result":   result,
		})
		if err := h.bus.Publish(ctx, domain.TopicPredictionScored, payload); err != nil {
			slog.Error("failed to publish scored prediction", "error", err)
		}
		if result.Action == domain.ActionBlock {
			if err := h.bus.Publish(ctx, domain.TopicPredictionAlert, payload); err != nil {
				slog.Error("failed to publish alert", "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, PredictResponse{
		Success:          true,
		Prediction:       result,
		ProcessingTimeMs: elapsedMs(start),
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
	})
}

// buildRecord converts a decoded JSON object into a transaction record.
// Known feature names must carry numeric values; unknown keys with
// non-numeric values are dropped silently.
func buildRecord(raw map[string]any) (domain.TransactionRecord, error) {
	record := make(domain.TransactionRecord, len(raw))
	for name, value := range raw {
		switch v := value.(type) {
		case float64:
			record[name] = v
		case bool:
			if v {
				record[name] = 1
			} else {
				record[name] = 0
			}
		default:
			if _, known := feature.Defaults[name]; known {
				return nil, fmt.Errorf("%w: feature %q must be numeric", domain.ErrInvalidRequest, name)
			}
		}
	}
	return record, nil
}

// Reload handles POST /reload by re-reading model artifacts from disk.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	count, err := h.store.Reload()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"models_loaded": count,
	})
}

// Models handles GET /models and returns artifact metadata. Metadata fields
// are omitted when no metadata document is loaded, the endpoint still answers
// 200 with the current (possibly empty) state.
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Snapshot()

	resp := map[string]any{
		"success":          true,
		"available_models": snap.ModelNames(),
		"feature_count":    snap.Schema.Len(),
		"feature_names":    []string(snap.Schema),
		"loaded_at":        snap.LoadedAt.UTC().Format(time.RFC3339),
	}
	if meta := snap.Meta; meta != nil {
		resp["training_date"] = meta.TrainingDate
		resp["model_versions"] = meta.ModelVersions
		resp["schema_fingerprint"] = meta.SchemaFingerprint
		resp["optimal_thresholds"] = meta.OptimalThresholds
	}
	writeJSON(w, http.StatusOK, resp)
}

// FeatureImportance handles GET /feature-importance?model=<name>. Models that
// are not loaded, or that expose no native importance measure (the anomaly
// detector), answer 200 with an empty ranking.
func (h *Handler) FeatureImportance(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("model")
	if name == "" {
		name = string(domain.ModelRandomForest)
	}

	snap := h.store.Snapshot()
	ranked := make([]map[string]any, 0)

	if model, ok := snap.Models[domain.ModelName(name)]; ok {
		if provider, ok := model.(domain.ImportanceProvider); ok {
			for i, imp := range provider.FeatureImportances() {
				featureName := ""
				if i < snap.Schema.Len() {
					featureName = snap.Schema[i]
				}
				ranked = append(ranked, map[string]any{
					"feature":    featureName,
					"importance": imp,
				})
			}
			sort.Slice(ranked, func(i, j int) bool {
				return ranked[i]["importance"].(float64) > ranked[j]["importance"].(float64)
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"model":       name,
		"importances": ranked,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	snap := h.store.Snapshot()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":           status,
		"version":          h.version,
		"models_loaded":    len(snap.Models),
		"available_models": snap.ModelNames(),
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetPrediction retrieves a stored prediction by ID.
func (h *Handler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "prediction id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	rec, err := h.repo.GetPrediction(ctx, id)
	if err != nil {
		slog.Error("failed to get prediction", "id", id, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "prediction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// ListPredictions returns recent predictions, newest first.
func (h *Handler) ListPredictions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be an integer",
			})
			return
		}
		limit = n
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	recs, err := h.repo.ListPredictions(ctx, limit)
	if err != nil {
		slog.Error("failed to list predictions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list predictions",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"predictions": recs,
		"count":       len(recs),
	})
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
