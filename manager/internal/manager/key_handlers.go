package manager

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"vpnfleet/core/domain"
	"vpnfleet/manager/internal/keylink"
	"vpnfleet/manager/internal/keysync"
)

// SyncKey handles GET /key/{orgId}/{userId}/{serverId}/{keyHash}. Every
// authentication failure is a 401 with an empty body.
func (h *Handler) SyncKey(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	noCache(w)

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxSyncBody+1))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	conf, err := h.sync.SyncKey(r.Context(), keysync.Request{
		OrgID:    vars["orgId"],
		UserID:   vars["userId"],
		ServerID: vars["serverId"],
		KeyHash:  vars["keyHash"],
		Header:   r.Header,
		Method:   r.Method,
		Path:     r.URL.Path,
		Body:     body,
	})
	if errors.Is(err, domain.ErrUnauthorized) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Key sync failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if conf != nil {
		io.WriteString(w, conf.Conf)
	}
}

// keyMiss answers an unauthenticated lookup that failed. The not-found
// delay has already been applied by the key link service.
func keyMiss(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	log.Error().Err(err).Str("path", r.URL.Path).Msg("Key link request failed")
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

func writeDownload(w http.ResponseWriter, dl *keylink.Download) {
	noCache(w)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", dl.Name))
	w.WriteHeader(http.StatusOK)
	w.Write(dl.Data)
}

// KeyArchive handles GET /key/{keyId}.tar
func (h *Handler) KeyArchive(w http.ResponseWriter, r *http.Request) {
	dl, err := h.keyLinks.KeyArchive(r.Context(), mux.Vars(r)["keyId"])
	if err != nil {
		keyMiss(w, r, err)
		return
	}
	writeDownload(w, dl)
}

// ServerKey handles GET /key/{keyId}/{serverId}.key
func (h *Handler) ServerKey(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	dl, err := h.keyLinks.ServerKey(r.Context(), vars["keyId"], vars["serverId"])
	if err != nil {
		keyMiss(w, r, err)
		return
	}
	writeDownload(w, dl)
}

// KeyPage handles GET /k/{shortId}
func (h *Handler) KeyPage(w http.ResponseWriter, r *http.Request) {
	page, err := h.keyLinks.Page(r.Context(), mux.Vars(r)["shortId"])
	if err != nil {
		keyMiss(w, r, err)
		return
	}
	noCache(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, page)
}

// RevokeKeyLink handles DELETE /k/{shortId}. The answer is the same
// whether or not the link existed.
func (h *Handler) RevokeKeyLink(w http.ResponseWriter, r *http.Request) {
	if err := h.keyLinks.Revoke(r.Context(), mux.Vars(r)["shortId"]); err != nil {
		log.Error().Err(err).Msg("Failed to revoke key link")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// KeyConfigs handles GET /ku/{shortId}
func (h *Handler) KeyConfigs(w http.ResponseWriter, r *http.Request) {
	confs, err := h.keyLinks.ConfigMap(r.Context(), mux.Vars(r)["shortId"])
	if err != nil {
		keyMiss(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, confs)
}

// KeyLinkResponse is the result of issuing a key link.
type KeyLinkResponse struct {
	KeyID   string `json:"key_id"`
	ShortID string `json:"short_id"`
	KeyURL  string `json:"key_url"`
	ViewURL string `json:"view_url"`
	URIURL  string `json:"uri_url"`
}

// CreateKeyLink handles GET /key/{orgId}/{userId} for admins.
func (h *Handler) CreateKeyLink(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	link, err := h.keyLinks.CreateLink(r.Context(), vars["orgId"], vars["userId"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, KeyLinkResponse{
		KeyID:   link.KeyID,
		ShortID: link.ShortID,
		KeyURL:  "/key/" + link.KeyID + ".tar",
		ViewURL: "/k/" + link.ShortID,
		URIURL:  "/ku/" + link.ShortID,
	})
}

// UserArchive handles GET /key/{orgId}/{userId}.tar for admins.
func (h *Handler) UserArchive(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	dl, err := h.keyLinks.UserArchive(r.Context(), vars["orgId"], vars["userId"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeDownload(w, dl)
}

// RevokeUserKeyLinks handles DELETE /api/organizations/{orgId}/users/{userId}/keylinks
func (h *Handler) RevokeUserKeyLinks(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	n, err := h.keyLinks.RevokeUser(r.Context(), vars["orgId"], vars["userId"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}
