package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/drive-side-service/internal/circuitbreaker"
	"github.com/kjstillabower/drive-side-service/internal/lifecycle"
	"github.com/kjstillabower/drive-side-service/internal/models"
	"github.com/kjstillabower/drive-side-service/internal/observability"
	"github.com/kjstillabower/drive-side-service/internal/store"
	"github.com/kjstillabower/drive-side-service/internal/validation"
)

// maxUpsertBodyBytes caps POST /countries request bodies.
const maxUpsertBodyBytes = 1 << 20

// storePingTimeout bounds the store check made by /health.
const storePingTimeout = time.Second

// CountryService is the repository surface the handlers need.
type CountryService interface {
	GetAll(ctx context.Context) ([]models.Country, error)
	CountriesBySide(ctx context.Context, side string) ([]models.Country, error)
	Upsert(ctx context.Context, countries []models.Country) (int, error)
}

// BreakerState reports the remote circuit breaker state for health.
type BreakerState interface {
	State() circuitbreaker.State
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	countries        CountryService
	storePinger      store.Pinger
	breaker          BreakerState
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. storePinger and breaker may be nil.
func NewHandler(countries CountryService, storePinger store.Pinger, breaker BreakerState, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		countries:   countries,
		storePinger: storePinger,
		breaker:     breaker,
		logger:      logger,
	}
}

// GetCountries handles GET /countries.
func (h *Handler) GetCountries(w http.ResponseWriter, r *http.Request) {
	result, err := h.countries.GetAll(r.Context())
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetCountriesBySide handles GET /countries/side/{side}. Unknown sides yield [].
func (h *Handler) GetCountriesBySide(w http.ResponseWriter, r *http.Request) {
	side := mux.Vars(r)["side"]
	result, err := h.countries.CountriesBySide(r.Context(), side)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PostCountries handles POST /countries with a JSON array of countries.
func (h *Handler) PostCountries(w http.ResponseWriter, r *http.Request) {
	var body []models.Country
	dec := json.NewDecoder(io.LimitReader(r.Body, maxUpsertBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_JSON", "request body must be a JSON array of countries")
		return
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, "INVALID_JSON", "request body must contain a single JSON array")
		return
	}

	n, err := h.countries.Upsert(r.Context(), body)
	if err != nil {
		if validation.IsValidationError(err) {
			writeError(w, r, http.StatusBadRequest, "INVALID_COUNTRY", err.Error())
			return
		}
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"upserted": n})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
	checks     map[string]string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   observability.ServiceName,
		"version":   "dev",
		"checks":    result.checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates shutting-down first, then store reachability and remote
// circuit state. A healthy result during warm-up reports starting.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal", map[string]string{}}
	}

	checks := map[string]string{"store": "healthy", "remote": "healthy"}
	status, code, reason := "healthy", http.StatusOK, ""

	if h.breaker != nil {
		state := h.breaker.State()
		if state == circuitbreaker.StateOpen {
			checks["remote"] = "unhealthy"
			status, code, reason = "degraded", http.StatusServiceUnavailable, "circuit_open"
		} else if state == circuitbreaker.StateHalfOpen {
			checks["remote"] = "recovering"
		}
	}

	if h.storePinger != nil {
		pingCtx, cancel := context.WithTimeout(ctx, storePingTimeout)
		err := h.storePinger.Ping(pingCtx)
		cancel()
		if err != nil {
			checks["store"] = "unhealthy"
			status, code, reason = "degraded", http.StatusServiceUnavailable, "store_unreachable"
		}
	}

	if status == "healthy" && lifecycle.CurrentPhase() == lifecycle.PhaseStarting {
		return healthResult{"starting", http.StatusServiceUnavailable, "warming", checks}
	}
	return healthResult{status, code, reason, checks}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationIDFromContext(r.Context()),
		},
	})
}

// writeStoreError writes 503 for store failures and 504 when the request deadline passed.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if logger := observability.LoggerFromContext(r.Context()); logger != nil {
		logger.Warn("store error", zap.Error(err))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, r, http.StatusGatewayTimeout, "TIMEOUT", "Request timed out")
		return
	}
	writeError(w, r, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Unable to read or write countries")
}
