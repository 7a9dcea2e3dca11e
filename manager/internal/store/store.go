// Package store defines the persistence contracts shared by the sqlite and
// etcd backends.
package store

import (
	"context"
	"time"

	"vpnfleet/core/domain"
)

// MutateFunc edits the loaded servers in place. Ids with no record are
// absent from the map. Returning an error aborts the whole commit.
type MutateFunc func(servers map[string]*domain.Server) error

// ServerStore persists server records.
type ServerStore interface {
	List(ctx context.Context) ([]*domain.Server, error)
	ListByOrganization(ctx context.Context, orgID string) ([]*domain.Server, error)
	Get(ctx context.Context, id string) (*domain.Server, error)
	Create(ctx context.Context, server *domain.Server) error
	Delete(ctx context.Context, id string) error
	SetStatus(ctx context.Context, id string, status domain.ServerStatus) error
	// Mutate loads the given servers, applies fn and writes every loaded
	// record back in one atomic commit. Either all writes land or none do.
	Mutate(ctx context.Context, ids []string, fn MutateFunc) error
}

// KeyLinkStore persists key link capabilities.
type KeyLinkStore interface {
	Create(ctx context.Context, link *domain.KeyLink) error
	GetByKeyID(ctx context.Context, keyID string) (*domain.KeyLink, error)
	GetByShortID(ctx context.Context, shortID string) (*domain.KeyLink, error)
	// DeleteByShortID removes the link if present. Deleting an unknown
	// short id is not an error.
	DeleteByShortID(ctx context.Context, shortID string) error
	// DeleteByUser removes every link issued for the user and returns the
	// removed records.
	DeleteByUser(ctx context.Context, orgID, userID string) ([]*domain.KeyLink, error)
}

// NonceStore is the append-only replay ledger.
type NonceStore interface {
	// Insert atomically records (token, nonce). It returns
	// domain.ErrDuplicate when the pair already exists.
	Insert(ctx context.Context, nonce *domain.Nonce) error
	// PruneBefore deletes entries older than cutoff and returns how many were removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DirectoryStore persists organizations and users.
type DirectoryStore interface {
	CreateOrganization(ctx context.Context, org *domain.Organization) error
	GetOrganization(ctx context.Context, id string) (*domain.Organization, error)
	ListOrganizations(ctx context.Context) ([]*domain.Organization, error)
	CreateUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, orgID, userID string) (*domain.User, error)
	UpdateUser(ctx context.Context, user *domain.User) error
}

// Store aggregates every repository of a backend.
type Store interface {
	Servers() ServerStore
	KeyLinks() KeyLinkStore
	Nonces() NonceStore
	Directory() DirectoryStore
	Ping(ctx context.Context) error
	Close() error
}
