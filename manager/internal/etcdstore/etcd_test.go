package etcdstore

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vpnfleet/core/domain"
	"vpnfleet/manager/internal/store/storetest"
)

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "/vpnfleet/v1/servers/abc", key(kindServers, "abc"))
	assert.Equal(t, "/vpnfleet/v1/servers/", prefix(kindServers))
	assert.Equal(t, "/vpnfleet/v1/nonces/tok%2Fen/n%20once", key(kindNonces, "tok/en", "n once"))
	assert.Equal(t, "/vpnfleet/v1/users/o1/u1", key(kindUsers, "o1", "u1"))
}

// TestEtcdStore is an integration test. It requires a running etcd cluster:
//
//	FLEET_TEST_ETCD_ENDPOINTS=localhost:2379 go test ./manager/internal/etcdstore/...
func TestEtcdStore(t *testing.T) {
	addr := os.Getenv("FLEET_TEST_ETCD_ENDPOINTS")
	if addr == "" {
		t.Skip("set FLEET_TEST_ETCD_ENDPOINTS=localhost:2379 to run etcd integration tests")
	}

	s, err := New(strings.Split(addr, ","), 5*time.Second)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Ping(context.Background()))
	storetest.Run(t, s)

	t.Run("PruneBefore", func(t *testing.T) {
		ctx := context.Background()
		token := "prune-" + time.Now().Format("150405.000000")
		require.NoError(t, s.Nonces().Insert(ctx, &domain.Nonce{Token: token, Nonce: "old", Timestamp: time.Now().Add(-time.Hour)}))

		removed, err := s.Nonces().PruneBefore(ctx, time.Now().Add(-time.Minute))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, removed, int64(1))

		require.NoError(t, s.Nonces().Insert(ctx, &domain.Nonce{Token: token, Nonce: "old", Timestamp: time.Now()}))
	})
}
