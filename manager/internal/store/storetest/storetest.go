// Package storetest holds behavior checks every store.Store backend must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vpnfleet/core/domain"
	"vpnfleet/manager/internal/store"
)

// Run exercises s. Ids are randomized so the suite can run against a
// shared backend.
func Run(t *testing.T, s store.Store) {
	t.Run("ServerMutate", func(t *testing.T) { testServerMutate(t, s.Servers()) })
	t.Run("KeyLinks", func(t *testing.T) { testKeyLinks(t, s.KeyLinks()) })
	t.Run("NonceUniqueness", func(t *testing.T) { testNonceUniqueness(t, s.Nonces()) })
	t.Run("Directory", func(t *testing.T) { testDirectory(t, s.Directory()) })
}

func uid(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

func testServerMutate(t *testing.T, servers store.ServerStore) {
	ctx := context.Background()
	a, b := uid("a"), uid("b")

	for _, id := range []string{a, b} {
		require.NoError(t, servers.Create(ctx, &domain.Server{
			ID: id, Name: id, Network: "10.0.0.0/24", Interface: "tun0", Port: 1194,
			Protocol: domain.ProtocolUDP, Status: domain.ServerStatusOffline, ReplicaCount: 1,
		}))
	}
	t.Cleanup(func() {
		servers.Delete(context.Background(), a)
		servers.Delete(context.Background(), b)
	})

	err := servers.Mutate(ctx, []string{a, b}, func(m map[string]*domain.Server) error {
		m[a].AddLink(b, false)
		m[b].AddLink(a, false)
		return nil
	})
	require.NoError(t, err)

	boom := errors.New("abort")
	err = servers.Mutate(ctx, []string{a, b}, func(m map[string]*domain.Server) error {
		m[a].RemoveLink(b)
		return boom
	})
	require.ErrorIs(t, err, boom)

	gotA, err := servers.Get(ctx, a)
	require.NoError(t, err)
	gotB, err := servers.Get(ctx, b)
	require.NoError(t, err)
	assert.True(t, gotA.HasLink(b))
	assert.True(t, gotB.HasLink(a))

	require.NoError(t, servers.SetStatus(ctx, a, domain.ServerStatusOnline))
	gotA, err = servers.Get(ctx, a)
	require.NoError(t, err)
	assert.True(t, gotA.IsOnline())
	assert.ErrorIs(t, servers.SetStatus(ctx, uid("ghost"), domain.ServerStatusOnline), domain.ErrNotFound)
}

func testKeyLinks(t *testing.T, links store.KeyLinkStore) {
	ctx := context.Background()
	link := &domain.KeyLink{KeyID: uid("key"), ShortID: uid("short"), OrgID: "o", UserID: "u"}

	require.NoError(t, links.Create(ctx, link))
	assert.ErrorIs(t, links.Create(ctx, link), domain.ErrDuplicate)

	got, err := links.GetByShortID(ctx, link.ShortID)
	require.NoError(t, err)
	assert.Equal(t, link.KeyID, got.KeyID)

	require.NoError(t, links.DeleteByShortID(ctx, link.ShortID))
	require.NoError(t, links.DeleteByShortID(ctx, link.ShortID))

	_, err = links.GetByKeyID(ctx, link.KeyID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	org, user := uid("org"), uid("user")
	for i := 0; i < 3; i++ {
		require.NoError(t, links.Create(ctx, &domain.KeyLink{KeyID: uid("key"), ShortID: uid("short"), OrgID: org, UserID: user}))
	}
	other := &domain.KeyLink{KeyID: uid("key"), ShortID: uid("short"), OrgID: org, UserID: uid("user")}
	require.NoError(t, links.Create(ctx, other))

	removed, err := links.DeleteByUser(ctx, org, user)
	require.NoError(t, err)
	assert.Len(t, removed, 3)
	for _, l := range removed {
		_, err := links.GetByShortID(ctx, l.ShortID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}
	_, err = links.GetByKeyID(ctx, other.KeyID)
	assert.NoError(t, err, "other users keep their links")
}

func testNonceUniqueness(t *testing.T, nonces store.NonceStore) {
	ctx := context.Background()
	token := uid("token")

	const workers = 8
	var wg sync.WaitGroup
	var accepted atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := nonces.Insert(ctx, &domain.Nonce{Token: token, Nonce: "n", Timestamp: time.Now()}); err == nil {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), accepted.Load())
}

func testDirectory(t *testing.T, dir store.DirectoryStore) {
	ctx := context.Background()
	org := &domain.Organization{ID: uid("org"), Name: "acme"}
	require.NoError(t, dir.CreateOrganization(ctx, org))

	user := &domain.User{ID: uid("user"), OrgID: org.ID, Name: "alice"}
	require.NoError(t, dir.CreateUser(ctx, user))

	user.SyncSecret = "secret"
	require.NoError(t, dir.UpdateUser(ctx, user))

	got, err := dir.GetUser(ctx, org.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "secret", got.SyncSecret)

	_, err = dir.GetUser(ctx, uid("org"), user.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
