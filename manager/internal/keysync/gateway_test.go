package keysync

import (
	"context"
	"errors"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreauth "vpnfleet/core/auth"
	"vpnfleet/core/domain"
	"vpnfleet/manager/internal/database"
	"vpnfleet/manager/internal/delay"
	"vpnfleet/manager/internal/keyconf"
	"vpnfleet/manager/internal/nonce"
	"vpnfleet/manager/pkg/config"
)

const (
	testSecret = "sync-secret"
	testPath   = "/key/o1/u1/s1/stale"
)

var testNow = time.Unix(1_700_000_000, 0)

func setupGateway(t *testing.T) *Gateway {
	t.Helper()
	return setupGatewayOn(t, ":memory:")
}

func setupGatewayOn(t *testing.T, dsn string, opts ...database.Option) *Gateway {
	t.Helper()
	db, err := database.New(dsn, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	dir := db.Directory()
	require.NoError(t, dir.CreateOrganization(ctx, &domain.Organization{ID: "o1", Name: "acme"}))
	require.NoError(t, dir.CreateUser(ctx, &domain.User{ID: "u1", OrgID: "o1", Name: "alice", SyncSecret: testSecret}))
	require.NoError(t, dir.CreateUser(ctx, &domain.User{ID: "u2", OrgID: "o1", Name: "bob"}))
	require.NoError(t, db.Servers().Create(ctx, &domain.Server{
		ID: "s1", Name: "east", Organizations: []string{"o1"}, Network: "10.0.0.0/24",
		Interface: "tun0", Port: 1194, Protocol: domain.ProtocolUDP, ReplicaCount: 1,
	}))

	cfg := config.SyncConfig{
		AuthTimeWindow:     60 * time.Second,
		SignatureMaxLength: 10240,
		NonceMaxLength:     32,
	}
	g := NewGateway(dir, nonce.NewLedger(db.Nonces(), cfg.NonceMaxLength),
		keyconf.New(db.Servers(), "vpn.example.com"), cfg, delay.Disabled())
	g.now = func() time.Time { return testNow }
	return g
}

type signed struct {
	orgID, userID, keyHash string
	secret                 string
	ts                     time.Time
	nonce                  string
	method, path           string
	body                   []byte
}

func newSigned() signed {
	return signed{
		orgID: "o1", userID: "u1", keyHash: "stale",
		secret: testSecret,
		ts:     testNow,
		nonce:  uuid.NewString(),
		method: http.MethodGet,
		path:   testPath,
	}
}

func (s signed) request() Request {
	h := http.Header{}
	for k, v := range coreauth.SyncHeaders("client-token", s.secret, s.ts.Unix(), s.nonce, s.method, s.path, s.body) {
		h.Set(k, v)
	}
	return Request{
		OrgID: s.orgID, UserID: s.userID, ServerID: "s1", KeyHash: s.keyHash,
		Header: h, Method: s.method, Path: s.path, Body: s.body,
	}
}

func TestSyncKey_SucceedsOnceThenReplayFails(t *testing.T) {
	g := setupGateway(t)
	ctx := context.Background()
	req := newSigned().request()

	conf, err := g.SyncKey(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, conf)
	assert.Equal(t, "acme_alice_east.ovpn", conf.Name)

	_, err = g.SyncKey(ctx, req)
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "identical request is a replay")
}

func TestSyncKey_TimeWindowIsInclusive(t *testing.T) {
	tests := []struct {
		offset time.Duration
		ok     bool
	}{
		{0, true},
		{-60 * time.Second, true},
		{60 * time.Second, true},
		{-61 * time.Second, false},
		{61 * time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.offset.String(), func(t *testing.T) {
			g := setupGateway(t)
			s := newSigned()
			s.ts = testNow.Add(tt.offset)

			_, err := g.SyncKey(context.Background(), s.request())
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, domain.ErrUnauthorized)
			}
		})
	}
}

func TestSyncKey_RejectsExtremeTimestamps(t *testing.T) {
	for _, ts := range []int64{
		math.MinInt64 + testNow.Unix(),
		math.MinInt64,
		math.MaxInt64,
		math.MaxInt64 - 30,
	} {
		t.Run(strconv.FormatInt(ts, 10), func(t *testing.T) {
			g := setupGateway(t)
			s := newSigned()
			h := http.Header{}
			for k, v := range coreauth.SyncHeaders("client-token", s.secret, ts, s.nonce, s.method, s.path, nil) {
				h.Set(k, v)
			}
			req := s.request()
			req.Header = h

			_, err := g.SyncKey(context.Background(), req)
			assert.ErrorIs(t, err, domain.ErrUnauthorized)
		})
	}
}

func TestWithinWindow(t *testing.T) {
	now := testNow.Unix()
	assert.True(t, withinWindow(now-60, now, 60))
	assert.True(t, withinWindow(now+60, now, 60))
	assert.False(t, withinWindow(now-61, now, 60))
	assert.False(t, withinWindow(math.MinInt64+now, now, 60))
	assert.False(t, withinWindow(math.MaxInt64, now, 60))
}

func TestSyncKey_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(req *Request)
	}{
		{"missing token", func(r *Request) { r.Header.Del(coreauth.HeaderToken) }},
		{"missing timestamp", func(r *Request) { r.Header.Del(coreauth.HeaderTimestamp) }},
		{"missing nonce", func(r *Request) { r.Header.Del(coreauth.HeaderNonce) }},
		{"missing signature", func(r *Request) { r.Header.Del(coreauth.HeaderSignature) }},
		{"unparsable timestamp", func(r *Request) { r.Header.Set(coreauth.HeaderTimestamp, "yesterday") }},
		{"unknown organization", func(r *Request) { r.OrgID = "o9" }},
		{"unknown user", func(r *Request) { r.UserID = "u9" }},
		{"user without secret", func(r *Request) { r.UserID = "u2" }},
		{"wrong method", func(r *Request) { r.Method = http.MethodPost }},
		{"wrong path", func(r *Request) { r.Path = "/key/o1/u1/s2/stale" }},
		{"body added", func(r *Request) { r.Body = []byte("x") }},
		{"bad signature", func(r *Request) { r.Header.Set(coreauth.HeaderSignature, "AAAA") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := setupGateway(t)
			req := newSigned().request()
			tt.mutate(&req)

			conf, err := g.SyncKey(context.Background(), req)
			assert.ErrorIs(t, err, domain.ErrUnauthorized)
			assert.Nil(t, conf)
		})
	}
}

func TestSyncKey_BodyTamper(t *testing.T) {
	g := setupGateway(t)
	s := newSigned()
	s.method = http.MethodPut
	s.body = []byte(`{"client":"1.2.3"}`)

	req := s.request()
	for i := range req.Body {
		tampered := req
		tampered.Body = append([]byte(nil), req.Body...)
		tampered.Body[i] ^= 0x01

		_, err := g.SyncKey(context.Background(), tampered)
		require.ErrorIs(t, err, domain.ErrUnauthorized, "byte %d", i)
	}

	_, err := g.SyncKey(context.Background(), req)
	assert.NoError(t, err, "untampered body still accepted")
}

func TestSyncKey_OversizedSigningString(t *testing.T) {
	g := setupGateway(t)
	s := newSigned()
	s.method = http.MethodPut
	s.body = []byte(strings.Repeat("a", 10240))

	_, err := g.SyncKey(context.Background(), s.request())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestSyncKey_NonceTruncation(t *testing.T) {
	g := setupGateway(t)
	ctx := context.Background()
	base := strings.Repeat("n", 32)

	s := newSigned()
	s.nonce = base + "-first"
	_, err := g.SyncKey(ctx, s.request())
	require.NoError(t, err)

	s.nonce = base + "-second"
	_, err = g.SyncKey(ctx, s.request())
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "nonces equal after truncation replay")
}

func TestSyncKey_UpToDateReturnsEmpty(t *testing.T) {
	g := setupGateway(t)
	ctx := context.Background()

	conf, err := g.SyncKey(ctx, newSigned().request())
	require.NoError(t, err)
	require.NotNil(t, conf)

	s := newSigned()
	s.keyHash = conf.Hash
	s.path = "/key/o1/u1/s1/" + conf.Hash
	again, err := g.SyncKey(ctx, s.request())
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestSyncKey_ConcurrentReplay(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		testConcurrentReplay(t, setupGateway(t))
	})
	t.Run("pooled", func(t *testing.T) {
		dsn := "file:" + filepath.Join(t.TempDir(), "fleet.db")
		testConcurrentReplay(t, setupGatewayOn(t, dsn, database.WithMaxOpenConns(8)))
	})
}

func testConcurrentReplay(t *testing.T, g *Gateway) {
	req := newSigned().request()

	var wg sync.WaitGroup
	var accepted, rejected atomic.Int32
	start := make(chan struct{})
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := g.SyncKey(context.Background(), req)
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, domain.ErrUnauthorized):
				rejected.Add(1)
			default:
				t.Errorf("sync: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(31), rejected.Load())
}
