// Package topology maintains the bidirectional link graph between servers.
//
// A link is one relationship stored as two edges, one on each server. Both
// edges are written through store.ServerStore.Mutate so they appear or
// disappear together.
package topology

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"vpnfleet/core/domain"
	"vpnfleet/manager/internal/metrics"
	"vpnfleet/manager/internal/store"
)

// Manager validates and applies link changes.
type Manager struct {
	servers store.ServerStore
}

func NewManager(servers store.ServerStore) *Manager {
	return &Manager{servers: servers}
}

// Link connects serverID and linkServerID. Preconditions are checked in
// order: distinct ids, both exist, both offline, neither replicated, no
// shared host. Re-linking an existing pair leaves exactly one edge per side.
func (m *Manager) Link(ctx context.Context, serverID, linkServerID string, useLocalAddress bool) error {
	if serverID == linkServerID {
		return fmt.Errorf("link %s to itself: %w", serverID, domain.ErrInvalidArgument)
	}

	ids := []string{serverID, linkServerID}
	err := m.servers.Mutate(ctx, ids, func(servers map[string]*domain.Server) error {
		if len(servers) < 2 {
			return domain.ErrLinkNotFound
		}
		a, b := servers[serverID], servers[linkServerID]

		for _, s := range []*domain.Server{a, b} {
			if s.IsOnline() {
				return domain.ErrLinkOnline
			}
		}
		for _, s := range []*domain.Server{a, b} {
			if s.ReplicaCount > 1 {
				return domain.ErrLinkReplica
			}
		}
		if a.SharesHostWith(b) {
			return domain.ErrLinkCommonHost
		}

		a.AddLink(b.ID, useLocalAddress)
		b.AddLink(a.ID, useLocalAddress)
		return nil
	})
	metrics.LinkOperationsTotal.WithLabelValues("link", metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("link %s to %s: %w", serverID, linkServerID, err)
	}

	log.Info().
		Str("server_id", serverID).
		Str("link_server_id", linkServerID).
		Bool("use_local_address", useLocalAddress).
		Msg("Servers linked")
	return nil
}

// Unlink removes the edges between serverID and linkServerID. Every
// existing record among the two must be offline. A missing record is
// tolerated so that edges left pointing at a deleted server can be cleared.
func (m *Manager) Unlink(ctx context.Context, serverID, linkServerID string) error {
	if serverID == linkServerID {
		return fmt.Errorf("unlink %s from itself: %w", serverID, domain.ErrInvalidArgument)
	}

	err := m.servers.Mutate(ctx, []string{serverID, linkServerID}, func(servers map[string]*domain.Server) error {
		if len(servers) == 0 {
			return domain.ErrLinkNotFound
		}
		for _, s := range servers {
			if s.IsOnline() {
				return domain.ErrLinkOnline
			}
		}
		if a, ok := servers[serverID]; ok {
			a.RemoveLink(linkServerID)
		}
		if b, ok := servers[linkServerID]; ok {
			b.RemoveLink(serverID)
		}
		return nil
	})
	metrics.LinkOperationsTotal.WithLabelValues("unlink", metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("unlink %s from %s: %w", serverID, linkServerID, err)
	}

	log.Info().Str("server_id", serverID).Str("link_server_id", linkServerID).Msg("Servers unlinked")
	return nil
}

// Detach removes every edge pointing at serverID from its peers and clears
// its own edge list. The server itself must be offline.
func (m *Manager) Detach(ctx context.Context, serverID string) error {
	srv, err := m.servers.Get(ctx, serverID)
	if err != nil {
		return err
	}

	ids := []string{serverID}
	for _, e := range srv.Links {
		ids = append(ids, e.ServerID)
	}

	return m.servers.Mutate(ctx, ids, func(servers map[string]*domain.Server) error {
		self, ok := servers[serverID]
		if !ok {
			return fmt.Errorf("server %s: %w", serverID, domain.ErrNotFound)
		}
		if self.IsOnline() {
			return domain.ErrLinkOnline
		}
		for id, s := range servers {
			if id != serverID {
				s.RemoveLink(serverID)
			}
		}
		self.Links = nil
		return nil
	})
}
