package manager

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"vpnfleet/core/domain"
	"vpnfleet/manager/pkg/auth"
)

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w: %w", domain.ErrInvalidArgument, err)
	}
	return nil
}

func adminSubject(r *http.Request) string {
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		return claims.Subject
	}
	return ""
}

// ListServers handles GET /api/servers
func (h *Handler) ListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := h.fleet.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, servers)
}

// CreateServer handles POST /api/servers
func (h *Handler) CreateServer(w http.ResponseWriter, r *http.Request) {
	var srv domain.Server
	if err := decodeJSON(r, &srv); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.fleet.Create(r.Context(), &srv); err != nil {
		writeError(w, r, err)
		return
	}
	log.Info().Str("admin", adminSubject(r)).Str("server_id", srv.ID).Msg("CreateServer called")
	writeJSON(w, http.StatusCreated, &srv)
}

// GetServer handles GET /api/servers/{id}
func (h *Handler) GetServer(w http.ResponseWriter, r *http.Request) {
	srv, err := h.fleet.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

// UpdateServer handles PUT /api/servers/{id}
func (h *Handler) UpdateServer(w http.ResponseWriter, r *http.Request) {
	var srv domain.Server
	if err := decodeJSON(r, &srv); err != nil {
		writeError(w, r, err)
		return
	}
	srv.ID = mux.Vars(r)["id"]

	updated, err := h.fleet.Update(r.Context(), &srv)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteServer handles DELETE /api/servers/{id}
func (h *Handler) DeleteServer(w http.ResponseWriter, r *http.Request) {
	if err := h.fleet.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StartServer handles POST /api/servers/{id}/start
func (h *Handler) StartServer(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, true)
}

// StopServer handles POST /api/servers/{id}/stop
func (h *Handler) StopServer(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, false)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request, online bool) {
	id := mux.Vars(r)["id"]
	var err error
	if online {
		err = h.fleet.Start(r.Context(), id)
	} else {
		err = h.fleet.Stop(r.Context(), id)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.GetServer(w, r)
}

// ServerResources handles GET /api/servers/{id}/resources
func (h *Handler) ServerResources(w http.ResponseWriter, r *http.Request) {
	used, err := h.fleet.UsedResources(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, used)
}

type linkRequest struct {
	UseLocalAddress bool `json:"use_local_address"`
}

// LinkServers handles PUT /api/servers/{id}/links/{peerId}. The body is optional.
func (h *Handler) LinkServers(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, fmt.Errorf("decode request body: %w: %w", domain.ErrInvalidArgument, err))
		return
	}

	if err := h.topology.Link(r.Context(), vars["id"], vars["peerId"], req.UseLocalAddress); err != nil {
		writeError(w, r, err)
		return
	}
	h.GetServer(w, r)
}

// UnlinkServers handles DELETE /api/servers/{id}/links/{peerId}
func (h *Handler) UnlinkServers(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.topology.Unlink(r.Context(), vars["id"], vars["peerId"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListOrganizations handles GET /api/organizations
func (h *Handler) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.store.Directory().ListOrganizations(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orgs)
}

type createOrganizationRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OTPAuth bool   `json:"otp_auth"`
}

// CreateOrganization handles POST /api/organizations
func (h *Handler) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req createOrganizationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Name == "" {
		writeError(w, r, fmt.Errorf("organization name is required: %w", domain.ErrInvalidArgument))
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	org := &domain.Organization{ID: req.ID, Name: req.Name, OTPAuth: req.OTPAuth}
	if err := h.store.Directory().CreateOrganization(r.Context(), org); err != nil {
		writeError(w, r, err)
		return
	}
	log.Info().Str("admin", adminSubject(r)).Str("org_id", org.ID).Msg("Organization created")
	writeJSON(w, http.StatusCreated, org)
}

type createUserRequest struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	SyncSecret string `json:"sync_secret"`
}

// CreateUser handles POST /api/organizations/{orgId}/users. Secrets not
// supplied are generated; the response is the only place they are shown.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	orgID := mux.Vars(r)["orgId"]

	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Name == "" {
		writeError(w, r, fmt.Errorf("user name is required: %w", domain.ErrInvalidArgument))
		return
	}
	if _, err := h.store.Directory().GetOrganization(r.Context(), orgID); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.SyncSecret == "" {
		req.SyncSecret = rand.Text()
	}

	user := &domain.User{
		ID:         req.ID,
		OrgID:      orgID,
		Name:       req.Name,
		OTPSecret:  rand.Text()[:16],
		SyncSecret: req.SyncSecret,
	}
	if err := h.store.Directory().CreateUser(r.Context(), user); err != nil {
		writeError(w, r, err)
		return
	}
	log.Info().Str("admin", adminSubject(r)).Str("org_id", orgID).Str("user_id", user.ID).Msg("User created")
	writeJSON(w, http.StatusCreated, user)
}
