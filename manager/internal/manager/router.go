package manager

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	coremetrics "vpnfleet/core/metrics"
	"vpnfleet/manager/internal/metrics"
	"vpnfleet/manager/pkg/auth"
)

// NewRouter wires every route. Order matters: the /key routes overlap and
// gorilla/mux takes the first match.
func NewRouter(h *Handler, jwtManager *auth.JWTManager) *mux.Router {
	r := mux.NewRouter()
	r.Use(coremetrics.HTTPMetricsMiddleware(metrics.HTTPRequestsTotal, metrics.HTTPRequestDuration))

	admin := func(f http.HandlerFunc) http.Handler {
		return jwtManager.RequireAdmin(f)
	}

	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/key/{orgId}/{userId}/{serverId}/{keyHash}", h.SyncKey).Methods(http.MethodGet, http.MethodPut, http.MethodPost)
	r.Handle("/key/{orgId}/{userId}.tar", admin(h.UserArchive)).Methods(http.MethodGet)
	r.HandleFunc("/key/{keyId}/{serverId}.key", h.ServerKey).Methods(http.MethodGet)
	r.Handle("/key/{orgId}/{userId}", admin(h.CreateKeyLink)).Methods(http.MethodGet)
	r.HandleFunc("/key/{keyId}.tar", h.KeyArchive).Methods(http.MethodGet)
	r.HandleFunc("/k/{shortId}", h.KeyPage).Methods(http.MethodGet)
	r.HandleFunc("/k/{shortId}", h.RevokeKeyLink).Methods(http.MethodDelete)
	r.HandleFunc("/ku/{shortId}", h.KeyConfigs).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(jwtManager.RequireAdmin)
	api.HandleFunc("/servers", h.ListServers).Methods(http.MethodGet)
	api.HandleFunc("/servers", h.CreateServer).Methods(http.MethodPost)
	api.HandleFunc("/servers/{id}", h.GetServer).Methods(http.MethodGet)
	api.HandleFunc("/servers/{id}", h.UpdateServer).Methods(http.MethodPut)
	api.HandleFunc("/servers/{id}", h.DeleteServer).Methods(http.MethodDelete)
	api.HandleFunc("/servers/{id}/start", h.StartServer).Methods(http.MethodPost)
	api.HandleFunc("/servers/{id}/stop", h.StopServer).Methods(http.MethodPost)
	api.HandleFunc("/servers/{id}/resources", h.ServerResources).Methods(http.MethodGet)
	api.HandleFunc("/servers/{id}/links/{peerId}", h.LinkServers).Methods(http.MethodPut)
	api.HandleFunc("/servers/{id}/links/{peerId}", h.UnlinkServers).Methods(http.MethodDelete)
	api.HandleFunc("/organizations", h.ListOrganizations).Methods(http.MethodGet)
	api.HandleFunc("/organizations", h.CreateOrganization).Methods(http.MethodPost)
	api.HandleFunc("/organizations/{orgId}/users", h.CreateUser).Methods(http.MethodPost)
	api.HandleFunc("/organizations/{orgId}/users/{userId}/keylinks", h.RevokeUserKeyLinks).Methods(http.MethodDelete)

	return r
}
