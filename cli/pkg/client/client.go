// Package client talks to the fleet manager: signed key sync requests for
// VPN clients and bearer-authenticated admin calls for operators.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	coreauth "vpnfleet/core/auth"
	"vpnfleet/core/domain"

	"vpnfleet/cli/pkg/config"
)

// ErrUnauthorized is returned when the manager answers 401.
var ErrUnauthorized = errors.New("unauthorized")

// APIError carries a non-2xx answer from the manager.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("manager returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("manager returned %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// KeyLink is an issued key link as returned by the manager.
type KeyLink struct {
	KeyID   string `json:"key_id"`
	ShortID string `json:"short_id"`
	KeyURL  string `json:"key_url"`
	ViewURL string `json:"view_url"`
	URIURL  string `json:"uri_url"`
}

// SyncRequest identifies the key configuration a client wants refreshed.
type SyncRequest struct {
	OrgID    string
	UserID   string
	ServerID string
	// KeyHash is the hash of the configuration the client already holds.
	// The manager answers with an empty body when it is still current.
	KeyHash string
}

type Client struct {
	config     *config.Config
	httpClient *http.Client
	now        func() time.Time
	newNonce   func() string
}

func New(cfg *config.Config) *Client {
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
		newNonce:   func() string { return uuid.New().String() },
	}
}

// SyncKey sends a signed key sync request. It returns the configuration
// text, or an empty string when the client is already up to date.
func (c *Client) SyncKey(ctx context.Context, req SyncRequest) (string, error) {
	if c.config.Sync.Secret == "" {
		return "", fmt.Errorf("no sync secret configured")
	}
	keyHash := req.KeyHash
	if keyHash == "" {
		keyHash = "none"
	}

	path := "/key/" + url.PathEscape(req.OrgID) + "/" + url.PathEscape(req.UserID) + "/" +
		url.PathEscape(req.ServerID) + "/" + url.PathEscape(keyHash)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.Manager.Endpoint+path, nil)
	if err != nil {
		return "", err
	}
	headers := coreauth.SyncHeaders(c.config.Sync.Token, c.config.Sync.Secret, c.now().Unix(),
		c.newNonce(), http.MethodGet, httpReq.URL.Path, nil)
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("key sync request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", readError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read key sync response: %w", err)
	}
	return string(body), nil
}

// ListServers returns every server in the fleet.
func (c *Client) ListServers(ctx context.Context) ([]*domain.Server, error) {
	var servers []*domain.Server
	err := c.admin(ctx, http.MethodGet, "/api/servers", nil, &servers)
	return servers, err
}

// StartServer marks a server online.
func (c *Client) StartServer(ctx context.Context, id string) (*domain.Server, error) {
	var srv domain.Server
	if err := c.admin(ctx, http.MethodPost, "/api/servers/"+url.PathEscape(id)+"/start", nil, &srv); err != nil {
		return nil, err
	}
	return &srv, nil
}

// StopServer marks a server offline.
func (c *Client) StopServer(ctx context.Context, id string) (*domain.Server, error) {
	var srv domain.Server
	if err := c.admin(ctx, http.MethodPost, "/api/servers/"+url.PathEscape(id)+"/stop", nil, &srv); err != nil {
		return nil, err
	}
	return &srv, nil
}

// Link connects two servers and returns the first one.
func (c *Client) Link(ctx context.Context, serverID, peerID string, useLocalAddress bool) (*domain.Server, error) {
	body := map[string]bool{"use_local_address": useLocalAddress}
	var srv domain.Server
	if err := c.admin(ctx, http.MethodPut, linkPath(serverID, peerID), body, &srv); err != nil {
		return nil, err
	}
	return &srv, nil
}

// Unlink removes the link between two servers.
func (c *Client) Unlink(ctx context.Context, serverID, peerID string) error {
	return c.admin(ctx, http.MethodDelete, linkPath(serverID, peerID), nil, nil)
}

func linkPath(serverID, peerID string) string {
	return "/api/servers/" + url.PathEscape(serverID) + "/links/" + url.PathEscape(peerID)
}

// CreateKeyLink issues a new key link for a user.
func (c *Client) CreateKeyLink(ctx context.Context, orgID, userID string) (*KeyLink, error) {
	var link KeyLink
	path := "/key/" + url.PathEscape(orgID) + "/" + url.PathEscape(userID)
	if err := c.admin(ctx, http.MethodGet, path, nil, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// RevokeKeyLink deletes a key link. Revoking an unknown link succeeds.
func (c *Client) RevokeKeyLink(ctx context.Context, shortID string) error {
	return c.do(ctx, http.MethodDelete, "/k/"+url.PathEscape(shortID), nil, nil, false)
}

func (c *Client) admin(ctx context.Context, method, path string, in, out any) error {
	if c.config.Auth.Token == "" {
		return fmt.Errorf("no admin token configured; run 'fleetctl token --save'")
	}
	return c.do(ctx, method, path, in, out, true)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, bearer bool) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.Manager.Endpoint+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer {
		req.Header.Set("Authorization", "Bearer "+c.config.Auth.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var payload struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		apiErr.Message = payload.Error
	} else {
		apiErr.Message = string(bytes.TrimSpace(data))
	}
	return apiErr
}
