package manager

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"vpnfleet/core/domain"
	"vpnfleet/manager/internal/fleet"
	"vpnfleet/manager/internal/keylink"
	"vpnfleet/manager/internal/keysync"
	"vpnfleet/manager/internal/store"
	"vpnfleet/manager/internal/topology"
)

// Handler serves the manager HTTP API.
type Handler struct {
	store    store.Store
	fleet    *fleet.Service
	topology *topology.Manager
	keyLinks *keylink.Service
	sync     *keysync.Gateway

	// maxSyncBody bounds how much of a sync body is read. Anything longer
	// cannot produce an acceptable signing string.
	maxSyncBody int64
}

func NewHandler(s store.Store, fleetSvc *fleet.Service, topo *topology.Manager, keyLinks *keylink.Service, gateway *keysync.Gateway, maxSyncBody int) *Handler {
	return &Handler{
		store:       s,
		fleet:       fleetSvc,
		topology:    topo,
		keyLinks:    keyLinks,
		sync:        gateway,
		maxSyncBody: int64(maxSyncBody),
	}
}

// noCache marks a response as private and never cacheable.
func noCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	noCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrLinkNotFound), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrLink), errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrDuplicate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err to an authenticated caller. Internal failures
// are logged and replaced by a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request failed")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

// HealthCheck reports whether the store answers.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		log.Warn().Err(err).Msg("Health check failed")
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
