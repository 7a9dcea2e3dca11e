// Package keysync authenticates signed key sync requests and returns the
// caller's current profile for one server.
//
// A request carries Auth-Token, Auth-Timestamp, Auth-Nonce and
// Auth-Signature. The signature is the base64 HMAC-SHA256, keyed with the
// user's sync secret, of
//
//	token&timestamp&nonce&method&path[&body]
//
// where the nonce is cut to the configured maximum length and the body
// part is present only for a non-empty body. Every authentication failure
// is reported as domain.ErrUnauthorized; the precise cause is only logged.
package keysync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	coreauth "vpnfleet/core/auth"
	"vpnfleet/core/domain"
	"vpnfleet/manager/internal/delay"
	"vpnfleet/manager/internal/keyconf"
	"vpnfleet/manager/internal/metrics"
	"vpnfleet/manager/internal/nonce"
	"vpnfleet/manager/internal/store"
	"vpnfleet/manager/pkg/config"
)

// Request is one sync call as received over HTTP.
type Request struct {
	OrgID    string
	UserID   string
	ServerID string
	KeyHash  string

	Header http.Header
	Method string
	Path   string
	Body   []byte
}

// Gateway verifies sync requests.
type Gateway struct {
	directory store.DirectoryStore
	ledger    *nonce.Ledger
	confs     *keyconf.Builder
	cfg       config.SyncConfig
	delay     delay.Policy
	now       func() time.Time
}

func NewGateway(directory store.DirectoryStore, ledger *nonce.Ledger, confs *keyconf.Builder, cfg config.SyncConfig, policy delay.Policy) *Gateway {
	return &Gateway{
		directory: directory,
		ledger:    ledger,
		confs:     confs,
		cfg:       cfg,
		delay:     policy,
		now:       time.Now,
	}
}

// SyncKey authenticates req and returns the profile of the user for
// req.ServerID. A nil profile with a nil error means there is nothing to
// send: the client's hash is current or the server is not available.
func (g *Gateway) SyncKey(ctx context.Context, req Request) (*domain.KeyConf, error) {
	start := time.Now()
	g.delay.Jitter(ctx)

	conf, result, err := g.syncKey(ctx, req)

	metrics.SyncRequestsTotal.WithLabelValues(result).Inc()
	metrics.SyncDuration.Observe(time.Since(start).Seconds())

	if errors.Is(err, domain.ErrUnauthorized) {
		log.Debug().
			Str("org_id", req.OrgID).
			Str("user_id", req.UserID).
			Str("server_id", req.ServerID).
			Str("reason", result).
			Msg("Key sync rejected")
	}
	return conf, err
}

func (g *Gateway) syncKey(ctx context.Context, req Request) (*domain.KeyConf, string, error) {
	token := req.Header.Get(coreauth.HeaderToken)
	timestamp := req.Header.Get(coreauth.HeaderTimestamp)
	nonceValue := req.Header.Get(coreauth.HeaderNonce)
	signature := req.Header.Get(coreauth.HeaderSignature)
	if token == "" || timestamp == "" || nonceValue == "" || signature == "" {
		return nil, "missing_headers", domain.ErrUnauthorized
	}
	nonceValue = coreauth.TruncateNonce(nonceValue, g.cfg.NonceMaxLength)

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return nil, "bad_timestamp", domain.ErrUnauthorized
	}
	if !withinWindow(ts, g.now().Unix(), int64(g.cfg.AuthTimeWindow/time.Second)) {
		return nil, "expired", domain.ErrUnauthorized
	}

	org, err := g.directory.GetOrganization(ctx, req.OrgID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, "unknown_org", domain.ErrUnauthorized
	}
	if err != nil {
		return nil, "error", fmt.Errorf("key sync: %w", err)
	}
	user, err := g.directory.GetUser(ctx, req.OrgID, req.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, "unknown_user", domain.ErrUnauthorized
	}
	if err != nil {
		return nil, "error", fmt.Errorf("key sync: %w", err)
	}
	if user.SyncSecret == "" {
		return nil, "no_secret", domain.ErrUnauthorized
	}

	signing := coreauth.SigningString(token, timestamp, nonceValue, req.Method, req.Path, req.Body)
	if len(signing) > g.cfg.SignatureMaxLength {
		return nil, "oversized", domain.ErrUnauthorized
	}
	if !coreauth.VerifySignature(user.SyncSecret, signing, signature) {
		return nil, "bad_signature", domain.ErrUnauthorized
	}

	fresh, err := g.ledger.RecordIfNew(ctx, token, nonceValue, g.now())
	if err != nil {
		return nil, "error", fmt.Errorf("key sync: %w", err)
	}
	if !fresh {
		return nil, "replay", domain.ErrUnauthorized
	}

	conf, err := g.confs.SyncConf(ctx, org, user, req.ServerID, req.KeyHash)
	if err != nil {
		return nil, "error", fmt.Errorf("key sync: %w", err)
	}
	if conf == nil {
		return nil, "unchanged", nil
	}
	return conf, "ok", nil
}

// withinWindow reports whether ts lies in [now-window, now+window]. It
// compares bounds instead of subtracting so extreme timestamps cannot wrap.
func withinWindow(ts, now, window int64) bool {
	return ts >= now-window && ts <= now+window
}
