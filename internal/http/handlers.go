// Package http is the optional local status server: health, session and the
// watched location list, plus the metrics endpoint.
package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/zappai-client/internal/lifecycle"
	"github.com/kjstillabower/zappai-client/internal/locations"
	"github.com/kjstillabower/zappai-client/internal/models"
	"github.com/kjstillabower/zappai-client/internal/observability"
	"github.com/kjstillabower/zappai-client/internal/session"
	"github.com/kjstillabower/zappai-client/internal/traffic"
)

// SessionSource is the read side of session.State.
type SessionSource interface {
	Snapshot() session.Snapshot
}

// LocationSource is the read side of a locations.Collection.
type LocationSource interface {
	Snapshot() locations.Snapshot
	Filter(query string) []models.Location
}

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	ErrorWindow time.Duration
	ErrorPct    int
	// TokenStorePing, when set, checks token store reachability (memcached, redis).
	TokenStorePing func() error
}

// Handler holds dependencies for the status handlers.
type Handler struct {
	session      SessionSource
	locations    LocationSource // nil when no view is mounted
	tracker      *traffic.Tracker
	shutdown     *lifecycle.Shutdown
	healthConfig *HealthConfig
	logger       *zap.Logger
	now          func() time.Time

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// Deps groups the Handler inputs. Only Session is required.
type Deps struct {
	Session   SessionSource
	Locations LocationSource
	Tracker   *traffic.Tracker
	Shutdown  *lifecycle.Shutdown
	Health    *HealthConfig
	Logger    *zap.Logger
}

// NewHandler returns a new Handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		session:      d.Session,
		locations:    d.Locations,
		tracker:      d.Tracker,
		shutdown:     d.Shutdown,
		healthConfig: d.Health,
		logger:       observability.OrNop(d.Logger),
		now:          time.Now,
	}
}

type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

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

	checks := map[string]string{"backend": "healthy"}
	if result.reason == "error_rate_breach" {
		checks["backend"] = "unhealthy"
	}
	if h.healthConfig != nil && h.healthConfig.TokenStorePing != nil {
		if h.healthConfig.TokenStorePing() == nil {
			checks["tokenStore"] = "healthy"
		} else {
			checks["tokenStore"] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "zappai-client",
		"checks":    checks,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	}
	if h.tracker != nil {
		if last := h.tracker.LastSuccess(); !last.IsZero() {
			resp["lastSuccessfulPoll"] = last.UTC().Format(time.RFC3339)
		}
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates, in order: shutting-down > resolving >
// unauthenticated > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if h.shutdown != nil && h.shutdown.Active() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, h.shutdown.Reason()}
	}
	snap := h.session.Snapshot()
	if snap.Phase != session.PhaseResolved {
		return healthResult{"resolving", http.StatusServiceUnavailable, "session_unresolved"}
	}
	if !snap.Authenticated() {
		return healthResult{"unauthenticated", http.StatusServiceUnavailable, "no_session"}
	}
	if h.tracker != nil && h.healthConfig != nil && h.healthConfig.ErrorWindow > 0 && h.healthConfig.ErrorPct > 0 {
		errors, total := h.tracker.ErrorRate(h.healthConfig.ErrorWindow)
		if total > 0 {
			pct := float64(errors) * 100 / float64(total)
			if pct >= float64(h.healthConfig.ErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// GetSession handles GET /session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	snap := h.session.Snapshot()
	resp := map[string]interface{}{
		"phase":         snap.Phase.String(),
		"authenticated": snap.Authenticated(),
	}
	if snap.Session != nil {
		resp["user"] = snap.Session
	}
	writeJSON(w, http.StatusOK, resp)
}

type locationsResponse struct {
	Items   []models.Location `json:"items"`
	Error   string            `json:"error,omitempty"`
	Loading bool              `json:"loading"`
}

// GetLocations handles GET /locations. ?search= filters by country, name or coordinates.
func (h *Handler) GetLocations(w http.ResponseWriter, r *http.Request) {
	if h.locations == nil {
		writeError(w, r, http.StatusNotFound, "NOT_WATCHING", "no location view is mounted")
		return
	}
	snap := h.locations.Snapshot()
	resp := locationsResponse{Items: snap.Items, Error: snap.Err, Loading: snap.Loading}
	if q := r.URL.Query().Get("search"); q != "" {
		resp.Items = h.locations.Filter(q)
	}
	if resp.Items == nil {
		resp.Items = []models.Location{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error body with the request's correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": CorrelationID(r.Context()),
		},
	})
}
