package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"vpnfleet/core/domain"
	"vpnfleet/manager/internal/store"
)

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorage, err)
}

// insertIgnore inserts model unless a row with the same key exists, in
// which case it reports domain.ErrDuplicate.
func insertIgnore(ctx context.Context, db bun.IDB, op string, model interface{}) error {
	res, err := db.NewInsert().
		Model(model).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return storageErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrDuplicate)
	}
	return nil
}

type serverRepository struct {
	db *bun.DB
}

var _ store.ServerStore = (*serverRepository)(nil)

func (r *serverRepository) Get(ctx context.Context, id string) (*domain.Server, error) {
	server := new(Server)
	err := r.db.NewSelect().
		Model(server).
		Where("id = ?", id).
		Scan(ctx)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("server %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get server", err)
	}

	return server.ToModel(), nil
}

func (r *serverRepository) List(ctx context.Context) ([]*domain.Server, error) {
	var servers []*Server
	err := r.db.NewSelect().
		Model(&servers).
		Order("name ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, storageErr("list servers", err)
	}

	result := make([]*domain.Server, len(servers))
	for i, s := range servers {
		result[i] = s.ToModel()
	}
	return result, nil
}

func (r *serverRepository) ListByOrganization(ctx context.Context, orgID string) ([]*domain.Server, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]*domain.Server, 0, len(all))
	for _, s := range all {
		if s.InOrganization(orgID) {
			result = append(result, s)
		}
	}
	return result, nil
}

func (r *serverRepository) Create(ctx context.Context, server *domain.Server) error {
	now := time.Now().UTC()
	if server.CreatedAt.IsZero() {
		server.CreatedAt = now
	}
	server.UpdatedAt = now
	return insertIgnore(ctx, r.db, "create server "+server.ID, ServerFromModel(server))
}

func (r *serverRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.NewDelete().
		Model((*Server)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return storageErr("delete server", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("server %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *serverRepository) SetStatus(ctx context.Context, id string, status domain.ServerStatus) error {
	res, err := r.db.NewUpdate().
		Model((*Server)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return storageErr("set server status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("server %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Mutate runs fn inside a transaction. A failure at any step rolls back
// every write made by the call.
func (r *serverRepository) Mutate(ctx context.Context, ids []string, fn store.MutateFunc) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var rows []*Server
		if len(ids) > 0 {
			if err := tx.NewSelect().
				Model(&rows).
				Where("id IN (?)", bun.In(ids)).
				Scan(ctx); err != nil {
				return storageErr("load servers", err)
			}
		}

		servers := make(map[string]*domain.Server, len(rows))
		for _, row := range rows {
			servers[row.ID] = row.ToModel()
		}

		if err := fn(servers); err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, s := range servers {
			s.UpdatedAt = now
			if _, err := tx.NewUpdate().
				Model(ServerFromModel(s)).
				WherePK().
				Exec(ctx); err != nil {
				return storageErr("update server "+s.ID, err)
			}
		}
		return nil
	})
}

type keyLinkRepository struct {
	db *bun.DB
}

var _ store.KeyLinkStore = (*keyLinkRepository)(nil)

func (r *keyLinkRepository) Create(ctx context.Context, link *domain.KeyLink) error {
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	return insertIgnore(ctx, r.db, "create key link", KeyLinkFromModel(link))
}

func (r *keyLinkRepository) get(ctx context.Context, column, value string) (*domain.KeyLink, error) {
	link := new(KeyLink)
	err := r.db.NewSelect().
		Model(link).
		Where("? = ?", bun.Ident(column), value).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("key link: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get key link", err)
	}
	return link.ToModel(), nil
}

func (r *keyLinkRepository) GetByKeyID(ctx context.Context, keyID string) (*domain.KeyLink, error) {
	return r.get(ctx, "key_id", keyID)
}

func (r *keyLinkRepository) GetByShortID(ctx context.Context, shortID string) (*domain.KeyLink, error) {
	return r.get(ctx, "short_id", shortID)
}

func (r *keyLinkRepository) DeleteByShortID(ctx context.Context, shortID string) error {
	_, err := r.db.NewDelete().
		Model((*KeyLink)(nil)).
		Where("short_id = ?", shortID).
		Exec(ctx)
	if err != nil {
		return storageErr("delete key link", err)
	}
	return nil
}

func (r *keyLinkRepository) DeleteByUser(ctx context.Context, orgID, userID string) ([]*domain.KeyLink, error) {
	var rows []*KeyLink
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := tx.NewSelect().
			Model(&rows).
			Where("org_id = ?", orgID).
			Where("user_id = ?", userID).
			Scan(ctx); err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		_, err := tx.NewDelete().
			Model((*KeyLink)(nil)).
			Where("org_id = ?", orgID).
			Where("user_id = ?", userID).
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, storageErr("delete user key links", err)
	}

	links := make([]*domain.KeyLink, len(rows))
	for i, row := range rows {
		links[i] = row.ToModel()
	}
	return links, nil
}

type nonceRepository struct {
	db *bun.DB
}

var _ store.NonceStore = (*nonceRepository)(nil)

func (r *nonceRepository) Insert(ctx context.Context, n *domain.Nonce) error {
	return insertIgnore(ctx, r.db, "record nonce", &AuthNonce{
		Token:     n.Token,
		Nonce:     n.Nonce,
		Timestamp: n.Timestamp.UnixMilli(),
	})
}

func (r *nonceRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*AuthNonce)(nil)).
		Where("? < ?", bun.Ident("timestamp"), cutoff.UnixMilli()).
		Exec(ctx)
	if err != nil {
		return 0, storageErr("prune nonces", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("prune nonces", err)
	}
	return n, nil
}

type directoryRepository struct {
	db *bun.DB
}

var _ store.DirectoryStore = (*directoryRepository)(nil)

func (r *directoryRepository) CreateOrganization(ctx context.Context, org *domain.Organization) error {
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	return insertIgnore(ctx, r.db, "create organization", &Organization{
		ID:        org.ID,
		Name:      org.Name,
		OTPAuth:   org.OTPAuth,
		CreatedAt: org.CreatedAt,
	})
}

func (r *directoryRepository) GetOrganization(ctx context.Context, id string) (*domain.Organization, error) {
	org := new(Organization)
	err := r.db.NewSelect().Model(org).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("organization %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get organization", err)
	}
	return org.ToModel(), nil
}

func (r *directoryRepository) ListOrganizations(ctx context.Context) ([]*domain.Organization, error) {
	var orgs []*Organization
	if err := r.db.NewSelect().Model(&orgs).Order("name ASC").Scan(ctx); err != nil {
		return nil, storageErr("list organizations", err)
	}
	result := make([]*domain.Organization, len(orgs))
	for i, o := range orgs {
		result[i] = o.ToModel()
	}
	return result, nil
}

func (r *directoryRepository) CreateUser(ctx context.Context, user *domain.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	return insertIgnore(ctx, r.db, "create user", UserFromModel(user))
}

func (r *directoryRepository) GetUser(ctx context.Context, orgID, userID string) (*domain.User, error) {
	user := new(User)
	err := r.db.NewSelect().
		Model(user).
		Where("id = ?", userID).
		Where("org_id = ?", orgID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get user", err)
	}
	return user.ToModel(), nil
}

func (r *directoryRepository) UpdateUser(ctx context.Context, user *domain.User) error {
	res, err := r.db.NewUpdate().
		Model(UserFromModel(user)).
		Column("name", "otp_secret", "sync_secret").
		WherePK().
		Exec(ctx)
	if err != nil {
		return storageErr("update user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", user.ID, domain.ErrNotFound)
	}
	return nil
}
