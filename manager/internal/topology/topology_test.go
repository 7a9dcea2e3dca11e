package topology

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vpnfleet/core/domain"
	"vpnfleet/manager/internal/database"
	"vpnfleet/manager/internal/store"
)

func setup(t *testing.T) (*Manager, store.ServerStore) {
	t.Helper()
	db, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewManager(db.Servers()), db.Servers()
}

func create(t *testing.T, servers store.ServerStore, id, network string, hosts ...string) {
	t.Helper()
	require.NoError(t, servers.Create(context.Background(), &domain.Server{
		ID: id, Name: id, Network: network, Interface: "tun-" + id, Port: 1194,
		Protocol: domain.ProtocolUDP, Status: domain.ServerStatusOffline,
		Hosts: hosts, ReplicaCount: 1,
	}))
}

func get(t *testing.T, servers store.ServerStore, id string) *domain.Server {
	t.Helper()
	s, err := servers.Get(context.Background(), id)
	require.NoError(t, err)
	return s
}

func edgesTo(s *domain.Server, id string) int {
	n := 0
	for _, e := range s.Links {
		if e.ServerID == id {
			n++
		}
	}
	return n
}

func TestLinkUnlinkScenario(t *testing.T) {
	m, servers := setup(t)
	ctx := context.Background()
	create(t, servers, "a", "10.0.0.0/24", "h1")
	create(t, servers, "b", "10.0.1.0/24", "h2")

	require.NoError(t, m.Link(ctx, "a", "b", false))
	assert.True(t, get(t, servers, "a").HasLink("b"))
	assert.True(t, get(t, servers, "b").HasLink("a"))

	require.NoError(t, servers.SetStatus(ctx, "a", domain.ServerStatusOnline))
	err := m.Unlink(ctx, "a", "b")
	assert.ErrorIs(t, err, domain.ErrLinkOnline)
	assert.True(t, get(t, servers, "b").HasLink("a"), "failed unlink changes nothing")

	require.NoError(t, servers.SetStatus(ctx, "a", domain.ServerStatusOffline))
	require.NoError(t, m.Unlink(ctx, "a", "b"))
	assert.Empty(t, get(t, servers, "a").Links)
	assert.Empty(t, get(t, servers, "b").Links)
}

func TestLinkIsIdempotent(t *testing.T) {
	m, servers := setup(t)
	ctx := context.Background()
	create(t, servers, "a", "10.0.0.0/24", "h1")
	create(t, servers, "b", "10.0.1.0/24", "h2")

	require.NoError(t, m.Link(ctx, "a", "b", true))
	require.NoError(t, m.Link(ctx, "a", "b", true))
	require.NoError(t, m.Link(ctx, "b", "a", false))

	a, b := get(t, servers, "a"), get(t, servers, "b")
	assert.Equal(t, 1, edgesTo(a, "b"))
	assert.Equal(t, 1, edgesTo(b, "a"))
	assert.Nil(t, a.Links[0].UserID)
	assert.True(t, a.Links[0].UseLocalAddress)
}

func TestLinkPreconditions(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		prepare func(t *testing.T, servers store.ServerStore)
		a, b    string
		wantErr error
	}{
		{
			name:    "same server",
			a:       "a",
			b:       "a",
			wantErr: domain.ErrInvalidArgument,
		},
		{
			name:    "missing peer",
			a:       "a",
			b:       "ghost",
			wantErr: domain.ErrLinkNotFound,
		},
		{
			name: "first online",
			prepare: func(t *testing.T, s store.ServerStore) {
				require.NoError(t, s.SetStatus(ctx, "a", domain.ServerStatusOnline))
			},
			a: "a", b: "b",
			wantErr: domain.ErrLinkOnline,
		},
		{
			name: "second online",
			prepare: func(t *testing.T, s store.ServerStore) {
				require.NoError(t, s.SetStatus(ctx, "b", domain.ServerStatusOnline))
			},
			a: "a", b: "b",
			wantErr: domain.ErrLinkOnline,
		},
		{
			name: "online wins over replica",
			prepare: func(t *testing.T, s store.ServerStore) {
				require.NoError(t, s.SetStatus(ctx, "a", domain.ServerStatusOnline))
				require.NoError(t, s.Mutate(ctx, []string{"b"}, func(m map[string]*domain.Server) error {
					m["b"].ReplicaCount = 2
					return nil
				}))
			},
			a: "a", b: "b",
			wantErr: domain.ErrLinkOnline,
		},
		{
			name: "replicated",
			prepare: func(t *testing.T, s store.ServerStore) {
				require.NoError(t, s.Mutate(ctx, []string{"b"}, func(m map[string]*domain.Server) error {
					m["b"].ReplicaCount = 3
					return nil
				}))
			},
			a: "a", b: "b",
			wantErr: domain.ErrLinkReplica,
		},
		{
			name: "one shared host among many",
			prepare: func(t *testing.T, s store.ServerStore) {
				require.NoError(t, s.Mutate(ctx, []string{"a", "b"}, func(m map[string]*domain.Server) error {
					m["a"].Hosts = []string{"h1", "h3", "h4", "h5"}
					m["b"].Hosts = []string{"h2", "h6", "h5"}
					return nil
				}))
			},
			a: "a", b: "b",
			wantErr: domain.ErrLinkCommonHost,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, servers := setup(t)
			create(t, servers, "a", "10.0.0.0/24", "h1")
			create(t, servers, "b", "10.0.1.0/24", "h2")
			if tt.prepare != nil {
				tt.prepare(t, servers)
			}

			err := m.Link(ctx, tt.a, tt.b, false)
			require.ErrorIs(t, err, tt.wantErr)
			if tt.wantErr != domain.ErrInvalidArgument {
				assert.ErrorIs(t, err, domain.ErrLink)
			}

			assert.Empty(t, get(t, servers, "a").Links)
			assert.Empty(t, get(t, servers, "b").Links)
		})
	}
}

func TestUnlinkLeavesUnrelatedEdges(t *testing.T) {
	m, servers := setup(t)
	ctx := context.Background()
	create(t, servers, "a", "10.0.0.0/24", "h1")
	create(t, servers, "b", "10.0.1.0/24", "h2")
	create(t, servers, "c", "10.0.2.0/24", "h3")

	require.NoError(t, m.Link(ctx, "a", "b", false))
	require.NoError(t, m.Link(ctx, "a", "c", false))
	require.NoError(t, m.Link(ctx, "b", "c", false))

	require.NoError(t, m.Unlink(ctx, "a", "b"))

	a, b, c := get(t, servers, "a"), get(t, servers, "b"), get(t, servers, "c")
	assert.False(t, a.HasLink("b"))
	assert.False(t, b.HasLink("a"))
	assert.True(t, a.HasLink("c"))
	assert.True(t, b.HasLink("c"))
	assert.True(t, c.HasLink("a"))
	assert.True(t, c.HasLink("b"))
}

func TestUnlinkMissingRecords(t *testing.T) {
	m, servers := setup(t)
	ctx := context.Background()
	create(t, servers, "a", "10.0.0.0/24", "h1")
	create(t, servers, "b", "10.0.1.0/24", "h2")
	require.NoError(t, m.Link(ctx, "a", "b", false))
	require.NoError(t, servers.Delete(ctx, "b"))

	require.NoError(t, m.Unlink(ctx, "a", "b"), "dangling edge can be cleared")
	assert.Empty(t, get(t, servers, "a").Links)

	assert.ErrorIs(t, m.Unlink(ctx, "x", "y"), domain.ErrLinkNotFound)
	assert.ErrorIs(t, m.Unlink(ctx, "a", "a"), domain.ErrInvalidArgument)
}

func TestDetach(t *testing.T) {
	m, servers := setup(t)
	ctx := context.Background()
	create(t, servers, "a", "10.0.0.0/24", "h1")
	create(t, servers, "b", "10.0.1.0/24", "h2")
	create(t, servers, "c", "10.0.2.0/24", "h3")
	require.NoError(t, m.Link(ctx, "a", "b", false))
	require.NoError(t, m.Link(ctx, "a", "c", false))
	require.NoError(t, m.Link(ctx, "b", "c", false))

	require.NoError(t, m.Detach(ctx, "a"))

	assert.Empty(t, get(t, servers, "a").Links)
	assert.Equal(t, []string{"c"}, peerIDs(get(t, servers, "b")))
	assert.Equal(t, []string{"b"}, peerIDs(get(t, servers, "c")))

	require.NoError(t, servers.SetStatus(ctx, "b", domain.ServerStatusOnline))
	assert.ErrorIs(t, m.Detach(ctx, "b"), domain.ErrLinkOnline)
}

func peerIDs(s *domain.Server) []string {
	var ids []string
	for _, e := range s.Links {
		ids = append(ids, e.ServerID)
	}
	return ids
}
