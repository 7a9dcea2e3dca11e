// Package keylink issues and resolves bearer links to a user's key
// material.
//
// Every resolving call starts with the jitter of the delay policy and a
// miss additionally waits the not-found delay before returning, so the
// latency of an unknown id is never shorter than that of a known one.
package keylink

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"vpnfleet/core/domain"
	"vpnfleet/manager/internal/delay"
	"vpnfleet/manager/internal/keyconf"
	"vpnfleet/manager/internal/metrics"
	"vpnfleet/manager/internal/store"
	"vpnfleet/manager/internal/webui"
)

const shortIDLength = 12

// Download is a named file served to the client.
type Download struct {
	Name string
	Data []byte
}

// Service implements key link issuing and the unauthenticated key endpoints.
type Service struct {
	links     store.KeyLinkStore
	directory store.DirectoryStore
	confs     *keyconf.Builder
	delay     delay.Policy
}

func NewService(links store.KeyLinkStore, directory store.DirectoryStore, confs *keyconf.Builder, policy delay.Policy) *Service {
	return &Service{links: links, directory: directory, confs: confs, delay: policy}
}

func newKeyID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func newShortID() string {
	return strings.ToLower(rand.Text()[:shortIDLength])
}

// CreateLink issues a new link for an existing user. Every call yields an
// independent credential.
func (s *Service) CreateLink(ctx context.Context, orgID, userID string) (*domain.KeyLink, error) {
	if _, err := s.directory.GetUser(ctx, orgID, userID); err != nil {
		return nil, err
	}

	link := &domain.KeyLink{
		KeyID:   newKeyID(),
		ShortID: newShortID(),
		OrgID:   orgID,
		UserID:  userID,
	}
	err := s.links.Create(ctx, link)
	metrics.KeyLinkOperationsTotal.WithLabelValues("create", metrics.Result(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("create key link: %w", err)
	}

	log.Info().Str("org_id", orgID).Str("user_id", userID).Str("short_id", link.ShortID).Msg("Key link created")
	return link, nil
}

// ResolveByKeyID looks up a link by its long id.
func (s *Service) ResolveByKeyID(ctx context.Context, keyID string) (*domain.KeyLink, error) {
	s.delay.Jitter(ctx)
	link, err := s.links.GetByKeyID(ctx, keyID)
	metrics.KeyLinkOperationsTotal.WithLabelValues("resolve", resolveResult(err)).Inc()
	s.onMiss(ctx, err)
	return link, err
}

// ResolveByShortID looks up a link by its short id.
func (s *Service) ResolveByShortID(ctx context.Context, shortID string) (*domain.KeyLink, error) {
	s.delay.Jitter(ctx)
	link, err := s.links.GetByShortID(ctx, shortID)
	metrics.KeyLinkOperationsTotal.WithLabelValues("resolve", resolveResult(err)).Inc()
	s.onMiss(ctx, err)
	return link, err
}

func (s *Service) onMiss(ctx context.Context, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		s.delay.Miss(ctx)
	}
}

func resolveResult(err error) string {
	switch {
	case err == nil:
		return "hit"
	case errors.Is(err, domain.ErrNotFound):
		return "miss"
	default:
		return "error"
	}
}

// Revoke deletes the link. Unknown ids are not an error.
func (s *Service) Revoke(ctx context.Context, shortID string) error {
	s.delay.Jitter(ctx)
	err := s.links.DeleteByShortID(ctx, shortID)
	metrics.KeyLinkOperationsTotal.WithLabelValues("revoke", metrics.Result(err)).Inc()
	if err != nil {
		return err
	}
	log.Info().Str("short_id", shortID).Msg("Key link revoked")
	return nil
}

// RevokeUser deletes every link issued for the user.
func (s *Service) RevokeUser(ctx context.Context, orgID, userID string) (int, error) {
	removed, err := s.links.DeleteByUser(ctx, orgID, userID)
	if err != nil {
		return 0, err
	}
	log.Info().Str("org_id", orgID).Str("user_id", userID).Int("count", len(removed)).Msg("User key links revoked")
	return len(removed), nil
}

// owner loads the organization and user a link was issued for. A link
// whose owner is gone resolves like an unknown link.
func (s *Service) owner(ctx context.Context, link *domain.KeyLink) (*domain.Organization, *domain.User, error) {
	org, err := s.directory.GetOrganization(ctx, link.OrgID)
	if err != nil {
		return nil, nil, err
	}
	user, err := s.directory.GetUser(ctx, link.OrgID, link.UserID)
	if err != nil {
		return nil, nil, err
	}
	return org, user, nil
}

func (s *Service) resolveOwner(ctx context.Context, link *domain.KeyLink, err error) (*domain.Organization, *domain.User, error) {
	if err != nil {
		return nil, nil, err
	}
	org, user, err := s.owner(ctx, link)
	s.onMiss(ctx, err)
	return org, user, err
}

func (s *Service) archive(ctx context.Context, org *domain.Organization, user *domain.User, name string) (*Download, error) {
	var buf bytes.Buffer
	if err := s.confs.WriteArchive(ctx, &buf, org, user); err != nil {
		return nil, err
	}
	return &Download{Name: name, Data: buf.Bytes()}, nil
}

// KeyArchive returns the tar of every profile of the link owner.
func (s *Service) KeyArchive(ctx context.Context, keyID string) (*Download, error) {
	link, err := s.ResolveByKeyID(ctx, keyID)
	org, user, err := s.resolveOwner(ctx, link, err)
	if err != nil {
		return nil, err
	}
	return s.archive(ctx, org, user, keyID+".tar")
}

// ServerKey returns the profile of the link owner for one server.
func (s *Service) ServerKey(ctx context.Context, keyID, serverID string) (*Download, error) {
	link, err := s.ResolveByKeyID(ctx, keyID)
	org, user, err := s.resolveOwner(ctx, link, err)
	if err != nil {
		return nil, err
	}
	conf, err := s.confs.BuildForServer(ctx, org, user, serverID)
	s.onMiss(ctx, err)
	if err != nil {
		return nil, err
	}
	return &Download{Name: conf.Name, Data: []byte(conf.Conf)}, nil
}

// Page renders the key page of a short link.
func (s *Service) Page(ctx context.Context, shortID string) (string, error) {
	link, err := s.ResolveByShortID(ctx, shortID)
	org, user, err := s.resolveOwner(ctx, link, err)
	if err != nil {
		return "", err
	}
	servers, err := s.confs.Servers(ctx, org)
	if err != nil {
		return "", err
	}

	page := webui.KeyPage{
		OrgName:  org.Name,
		UserName: user.Name,
		KeyID:    link.KeyID,
		ShortID:  link.ShortID,
	}
	if org.OTPAuth {
		page.OTPSecret = user.OTPSecret
	}
	for _, srv := range servers {
		page.Links = append(page.Links, webui.ConfLink{KeyID: link.KeyID, ServerID: srv.ID, ServerName: srv.Name})
	}
	return page.Render(), nil
}

// ConfigMap maps profile names to profile text for every server of the
// link owner's organization.
func (s *Service) ConfigMap(ctx context.Context, shortID string) (map[string]string, error) {
	link, err := s.ResolveByShortID(ctx, shortID)
	org, user, err := s.resolveOwner(ctx, link, err)
	if err != nil {
		return nil, err
	}
	confs, err := s.confs.BuildAll(ctx, org, user)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(confs))
	for _, c := range confs {
		out[c.Name] = c.Conf
	}
	return out, nil
}

// UserArchive returns the archive of a user for an authenticated admin.
func (s *Service) UserArchive(ctx context.Context, orgID, userID string) (*Download, error) {
	org, err := s.directory.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	user, err := s.directory.GetUser(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	return s.archive(ctx, org, user, keyconf.SafeName(user.Name)+".tar")
}
