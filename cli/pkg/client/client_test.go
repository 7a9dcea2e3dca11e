package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreauth "vpnfleet/core/auth"
	"vpnfleet/core/domain"

	"vpnfleet/cli/pkg/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(&config.Config{
		Manager: config.ManagerConfig{Endpoint: srv.URL},
		Auth:    config.AuthConfig{Token: "admin-jwt"},
		Sync:    config.SyncConfig{Token: "laptop", Secret: "s3cret"},
	})
	c.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	c.newNonce = func() string { return "nonce-1" }
	return c
}

func TestSyncKeySignsRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/key/o1/u1/s1/abc", r.URL.Path)
		assert.Equal(t, "laptop", r.Header.Get(coreauth.HeaderToken))
		assert.Equal(t, "1700000000", r.Header.Get(coreauth.HeaderTimestamp))
		assert.Equal(t, "nonce-1", r.Header.Get(coreauth.HeaderNonce))

		signing := coreauth.SigningString("laptop", "1700000000", "nonce-1", r.Method, r.URL.Path, nil)
		assert.True(t, coreauth.VerifySignature("s3cret", signing, r.Header.Get(coreauth.HeaderSignature)))

		io.WriteString(w, "client\nremote vpn.example.com 1194\n")
	})

	conf, err := c.SyncKey(context.Background(), SyncRequest{OrgID: "o1", UserID: "u1", ServerID: "s1", KeyHash: "abc"})
	require.NoError(t, err)
	assert.Contains(t, conf, "remote vpn.example.com")
}

func TestSyncKeyUpToDate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	conf, err := c.SyncKey(context.Background(), SyncRequest{OrgID: "o1", UserID: "u1", ServerID: "s1"})
	require.NoError(t, err)
	assert.Empty(t, conf)
}

func TestSyncKeyUnauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.SyncKey(context.Background(), SyncRequest{OrgID: "o1", UserID: "u1", ServerID: "s1"})
	assert.ErrorIs(t, err, ErrUnauthorized)

	c.config.Sync.Secret = ""
	_, err = c.SyncKey(context.Background(), SyncRequest{OrgID: "o1", UserID: "u1", ServerID: "s1"})
	assert.Error(t, err)
}

func TestAdminCallsCarryBearer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer admin-jwt", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/api/servers/s1/start":
			assert.Equal(t, http.MethodPost, r.Method)
			json.NewEncoder(w).Encode(domain.Server{ID: "s1", Status: domain.ServerStatusOnline})
		case "/api/servers/s1/links/s2":
			if r.Method == http.MethodDelete {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			var body map[string]bool
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.True(t, body["use_local_address"])
			json.NewEncoder(w).Encode(domain.Server{ID: "s1", Links: []domain.LinkEdge{{ServerID: "s2"}}})
		case "/key/o1/u1":
			json.NewEncoder(w).Encode(KeyLink{KeyID: "k", ShortID: "s", ViewURL: "/k/s"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	ctx := context.Background()

	srv, err := c.StartServer(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, srv.IsOnline())

	srv, err = c.Link(ctx, "s1", "s2", true)
	require.NoError(t, err)
	assert.True(t, srv.HasLink("s2"))

	require.NoError(t, c.Unlink(ctx, "s1", "s2"))

	link, err := c.CreateKeyLink(ctx, "o1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "/k/s", link.ViewURL)
}

func TestAPIErrorMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"error":"server must be offline to change links"}`)
	})

	_, err := c.Link(context.Background(), "s1", "s2", false)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "server must be offline to change links", apiErr.Message)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestAdminRequiresToken(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { calls++ })
	c.config.Auth.Token = ""

	_, err := c.ListServers(context.Background())
	assert.Error(t, err)
	assert.Zero(t, calls)
}

func TestRevokeKeyLinkIsPublic(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/k/abc123", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		io.WriteString(w, "{}")
	})
	c.config.Auth.Token = ""

	require.NoError(t, c.RevokeKeyLink(context.Background(), "abc123"))
}

func TestAPIErrorStatusText(t *testing.T) {
	err := &APIError{StatusCode: http.StatusNotFound}
	assert.Contains(t, err.Error(), strconv.Itoa(http.StatusNotFound))
	assert.Contains(t, err.Error(), "Not Found")
}
