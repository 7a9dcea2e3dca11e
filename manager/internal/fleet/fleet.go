// Package fleet implements server administration: validated create and
// edit, start and stop, and removal.
//
// Resource collisions are checked against an allocator snapshot, so two
// concurrent creates can still claim the same network. The check catches
// operator mistakes; it does not serialize allocations.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"regexp"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"vpnfleet/core/domain"
	"vpnfleet/manager/internal/allocator"
	"vpnfleet/manager/internal/metrics"
	"vpnfleet/manager/internal/store"
	"vpnfleet/manager/internal/topology"
)

var interfacePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,14}$`)

// Service administers server records.
type Service struct {
	servers   store.ServerStore
	allocator *allocator.Allocator
	topology  *topology.Manager
}

func NewService(servers store.ServerStore, alloc *allocator.Allocator, topo *topology.Manager) *Service {
	return &Service{servers: servers, allocator: alloc, topology: topo}
}

// Validate checks the fields of a server that an operator controls.
func Validate(s *domain.Server) error {
	if s.Name == "" {
		return fmt.Errorf("server name is required: %w", domain.ErrInvalidArgument)
	}
	prefix, err := netip.ParsePrefix(s.Network)
	if err != nil {
		return fmt.Errorf("network %q: %w", s.Network, domain.ErrInvalidArgument)
	}
	if prefix != prefix.Masked() {
		return fmt.Errorf("network %q has host bits set: %w", s.Network, domain.ErrInvalidArgument)
	}
	if !interfacePattern.MatchString(s.Interface) {
		return fmt.Errorf("interface %q: %w", s.Interface, domain.ErrInvalidArgument)
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port %d out of range: %w", s.Port, domain.ErrInvalidArgument)
	}
	if !s.Protocol.Valid() {
		return fmt.Errorf("protocol %q: %w", s.Protocol, domain.ErrInvalidArgument)
	}
	if s.ReplicaCount < 1 {
		return fmt.Errorf("replica count %d: %w", s.ReplicaCount, domain.ErrInvalidArgument)
	}
	return nil
}

func (s *Service) checkResources(ctx context.Context, srv *domain.Server) error {
	used, err := s.allocator.ComputeUsedResources(ctx, srv.ID)
	if err != nil {
		return err
	}

	network := netip.MustParsePrefix(srv.Network)
	if other, ok := used.OverlappingNetwork(network); ok {
		return fmt.Errorf("network %s overlaps %s: %w", network, other, domain.ErrConflict)
	}
	if used.HasInterface(srv.Interface) {
		return fmt.Errorf("interface %s is in use: %w", srv.Interface, domain.ErrConflict)
	}
	if used.HasPort(srv.Port, srv.Protocol) {
		return fmt.Errorf("port %d/%s is in use: %w", srv.Port, srv.Protocol, domain.ErrConflict)
	}
	return nil
}

// Create validates srv and stores it offline without links.
func (s *Service) Create(ctx context.Context, srv *domain.Server) (err error) {
	defer func() { metrics.ServerOperationsTotal.WithLabelValues("create", metrics.Result(err)).Inc() }()

	if srv.ID == "" {
		srv.ID = uuid.NewString()
	}
	if srv.ReplicaCount == 0 {
		srv.ReplicaCount = 1
	}
	if srv.Protocol == "" {
		srv.Protocol = domain.ProtocolUDP
	}
	if err := Validate(srv); err != nil {
		return err
	}
	if err := s.checkResources(ctx, srv); err != nil {
		return err
	}

	srv.Status = domain.ServerStatusOffline
	srv.Links = nil
	if err := s.servers.Create(ctx, srv); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return fmt.Errorf("server %s already exists: %w", srv.ID, domain.ErrConflict)
		}
		return err
	}

	log.Info().Str("server_id", srv.ID).Str("name", srv.Name).Str("network", srv.Network).Msg("Server created")
	return nil
}

// Update replaces the operator fields of an existing server. Status and
// links are kept. A server with links cannot become replicated.
func (s *Service) Update(ctx context.Context, srv *domain.Server) (updated *domain.Server, err error) {
	defer func() { metrics.ServerOperationsTotal.WithLabelValues("update", metrics.Result(err)).Inc() }()

	if srv.Protocol == "" {
		srv.Protocol = domain.ProtocolUDP
	}
	if err := Validate(srv); err != nil {
		return nil, err
	}
	if err := s.checkResources(ctx, srv); err != nil {
		return nil, err
	}

	err = s.servers.Mutate(ctx, []string{srv.ID}, func(m map[string]*domain.Server) error {
		cur, ok := m[srv.ID]
		if !ok {
			return fmt.Errorf("server %s: %w", srv.ID, domain.ErrNotFound)
		}
		if srv.ReplicaCount > 1 && len(cur.Links) > 0 {
			return domain.ErrLinkReplica
		}
		cur.Name = srv.Name
		cur.Organizations = srv.Organizations
		cur.Network = srv.Network
		cur.Interface = srv.Interface
		cur.Port = srv.Port
		cur.Protocol = srv.Protocol
		cur.Hosts = srv.Hosts
		cur.ReplicaCount = srv.ReplicaCount
		updated = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("server_id", srv.ID).Msg("Server updated")
	return updated, nil
}

// Start marks the server online. Links cannot change while it runs.
func (s *Service) Start(ctx context.Context, id string) (err error) {
	defer func() { metrics.ServerOperationsTotal.WithLabelValues("start", metrics.Result(err)).Inc() }()
	if err := s.servers.SetStatus(ctx, id, domain.ServerStatusOnline); err != nil {
		return err
	}
	log.Info().Str("server_id", id).Msg("Server started")
	return nil
}

// Stop marks the server offline.
func (s *Service) Stop(ctx context.Context, id string) (err error) {
	defer func() { metrics.ServerOperationsTotal.WithLabelValues("stop", metrics.Result(err)).Inc() }()
	if err := s.servers.SetStatus(ctx, id, domain.ServerStatusOffline); err != nil {
		return err
	}
	log.Info().Str("server_id", id).Msg("Server stopped")
	return nil
}

// Delete removes an offline server after detaching it from its peers.
func (s *Service) Delete(ctx context.Context, id string) (err error) {
	defer func() { metrics.ServerOperationsTotal.WithLabelValues("delete", metrics.Result(err)).Inc() }()

	if err := s.topology.Detach(ctx, id); err != nil {
		return fmt.Errorf("delete server %s: %w", id, err)
	}
	if err := s.servers.Delete(ctx, id); err != nil {
		return err
	}
	log.Info().Str("server_id", id).Msg("Server deleted")
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Server, error) {
	return s.servers.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*domain.Server, error) {
	return s.servers.List(ctx)
}

// UsedResources reports the resources claimed by every server but excludeID.
func (s *Service) UsedResources(ctx context.Context, excludeID string) (*allocator.UsedResources, error) {
	return s.allocator.ComputeUsedResources(ctx, excludeID)
}
