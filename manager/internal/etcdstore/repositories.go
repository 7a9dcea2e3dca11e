package etcdstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"vpnfleet/core/domain"
	"vpnfleet/manager/internal/store"
)

type serverStore struct {
	client *clientv3.Client
}

func (s *serverStore) Get(ctx context.Context, id string) (*domain.Server, error) {
	var srv domain.Server
	rev, err := etcdGet(ctx, s.client, key(kindServers, id), &srv)
	if err != nil {
		return nil, err
	}
	if rev == 0 {
		return nil, fmt.Errorf("server %s: %w", id, domain.ErrNotFound)
	}
	return &srv, nil
}

func (s *serverStore) List(ctx context.Context) ([]*domain.Server, error) {
	return etcdList[domain.Server](ctx, s.client, prefix(kindServers))
}

func (s *serverStore) ListByOrganization(ctx context.Context, orgID string) ([]*domain.Server, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Server, 0, len(all))
	for _, srv := range all {
		if srv.InOrganization(orgID) {
			out = append(out, srv)
		}
	}
	return out, nil
}

func (s *serverStore) Create(ctx context.Context, srv *domain.Server) error {
	now := time.Now().UTC()
	if srv.CreatedAt.IsZero() {
		srv.CreatedAt = now
	}
	srv.UpdatedAt = now
	if err := etcdCreate(ctx, s.client, map[string]any{key(kindServers, srv.ID): srv}); err != nil {
		return fmt.Errorf("create server %s: %w", srv.ID, err)
	}
	return nil
}

func (s *serverStore) Delete(ctx context.Context, id string) error {
	resp, err := s.client.Delete(ctx, key(kindServers, id))
	if err != nil {
		return storageErr("delete server", err)
	}
	if resp.Deleted == 0 {
		return fmt.Errorf("server %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *serverStore) SetStatus(ctx context.Context, id string, status domain.ServerStatus) error {
	found := false
	err := s.Mutate(ctx, []string{id}, func(m map[string]*domain.Server) error {
		srv, ok := m[id]
		if !ok {
			return nil
		}
		found = true
		srv.Status = status
		return nil
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("server %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Mutate reads the servers with their mod revisions, applies fn to fresh
// copies and commits only if none of the keys changed in between. Absent
// keys must still be absent at commit. Lost races are retried.
func (s *serverStore) Mutate(ctx context.Context, ids []string, fn store.MutateFunc) error {
	for attempt := 0; attempt < maxTxnAttempts; attempt++ {
		servers := make(map[string]*domain.Server, len(ids))
		cmps := make([]clientv3.Cmp, 0, len(ids))

		for _, id := range ids {
			k := key(kindServers, id)
			resp, err := s.client.Get(ctx, k)
			if err != nil {
				return storageErr("etcd get "+k, err)
			}
			if len(resp.Kvs) == 0 {
				cmps = append(cmps, clientv3.Compare(clientv3.Version(k), "=", 0))
				continue
			}
			var srv domain.Server
			if err := json.Unmarshal(resp.Kvs[0].Value, &srv); err != nil {
				return fmt.Errorf("unmarshal %q: %w", k, err)
			}
			servers[id] = &srv
			cmps = append(cmps, clientv3.Compare(clientv3.ModRevision(k), "=", resp.Kvs[0].ModRevision))
		}

		if err := fn(servers); err != nil {
			return err
		}

		now := time.Now().UTC()
		ops := make([]clientv3.Op, 0, len(servers))
		for id, srv := range servers {
			srv.UpdatedAt = now
			data, err := json.Marshal(srv)
			if err != nil {
				return fmt.Errorf("marshal: %w", err)
			}
			ops = append(ops, clientv3.OpPut(key(kindServers, id), string(data)))
		}

		resp, err := s.client.Txn(ctx).If(cmps...).Then(ops...).Commit()
		if err != nil {
			return storageErr("etcd txn", err)
		}
		if resp.Succeeded {
			return nil
		}
	}
	return fmt.Errorf("mutate servers: %w: too much contention", domain.ErrStorage)
}

type keyLinkStore struct {
	client *clientv3.Client
}

// Links are stored by key id with a short id index entry pointing at the key id.
func (s *keyLinkStore) Create(ctx context.Context, link *domain.KeyLink) error {
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	err := etcdCreate(ctx, s.client, map[string]any{
		key(kindKeyLinks, link.KeyID):        link,
		key(kindKeyLinksShort, link.ShortID): link.KeyID,
	})
	if err != nil {
		return fmt.Errorf("create key link: %w", err)
	}
	return nil
}

func (s *keyLinkStore) GetByKeyID(ctx context.Context, keyID string) (*domain.KeyLink, error) {
	var link domain.KeyLink
	rev, err := etcdGet(ctx, s.client, key(kindKeyLinks, keyID), &link)
	if err != nil {
		return nil, err
	}
	if rev == 0 {
		return nil, fmt.Errorf("key link: %w", domain.ErrNotFound)
	}
	return &link, nil
}

func (s *keyLinkStore) GetByShortID(ctx context.Context, shortID string) (*domain.KeyLink, error) {
	var keyID string
	rev, err := etcdGet(ctx, s.client, key(kindKeyLinksShort, shortID), &keyID)
	if err != nil {
		return nil, err
	}
	if rev == 0 {
		return nil, fmt.Errorf("key link: %w", domain.ErrNotFound)
	}
	return s.GetByKeyID(ctx, keyID)
}

func (s *keyLinkStore) DeleteByShortID(ctx context.Context, shortID string) error {
	var keyID string
	rev, err := etcdGet(ctx, s.client, key(kindKeyLinksShort, shortID), &keyID)
	if err != nil {
		return err
	}
	if rev == 0 {
		return nil
	}
	_, err = s.client.Txn(ctx).
		Then(
			clientv3.OpDelete(key(kindKeyLinksShort, shortID)),
			clientv3.OpDelete(key(kindKeyLinks, keyID)),
		).
		Commit()
	if err != nil {
		return storageErr("delete key link", err)
	}
	return nil
}

func (s *keyLinkStore) DeleteByUser(ctx context.Context, orgID, userID string) ([]*domain.KeyLink, error) {
	all, err := etcdList[domain.KeyLink](ctx, s.client, prefix(kindKeyLinks))
	if err != nil {
		return nil, err
	}

	var removed []*domain.KeyLink
	for _, link := range all {
		if link.OrgID != orgID || link.UserID != userID {
			continue
		}
		_, err := s.client.Txn(ctx).
			Then(
				clientv3.OpDelete(key(kindKeyLinksShort, link.ShortID)),
				clientv3.OpDelete(key(kindKeyLinks, link.KeyID)),
			).
			Commit()
		if err != nil {
			return removed, storageErr("delete key link", err)
		}
		removed = append(removed, link)
	}
	return removed, nil
}

type nonceStore struct {
	client *clientv3.Client
}

func (s *nonceStore) Insert(ctx context.Context, n *domain.Nonce) error {
	err := etcdCreate(ctx, s.client, map[string]any{key(kindNonces, n.Token, n.Nonce): n})
	if err != nil {
		return fmt.Errorf("record nonce: %w", err)
	}
	return nil
}

func (s *nonceStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	resp, err := s.client.Get(ctx, prefix(kindNonces), clientv3.WithPrefix())
	if err != nil {
		return 0, storageErr("list nonces", err)
	}

	var removed int64
	for _, kv := range resp.Kvs {
		var n domain.Nonce
		if err := json.Unmarshal(kv.Value, &n); err != nil || !n.Timestamp.Before(cutoff) {
			continue
		}
		// Only delete the entry we inspected.
		del, err := s.client.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(string(kv.Key)), "=", kv.ModRevision)).
			Then(clientv3.OpDelete(string(kv.Key))).
			Commit()
		if err != nil {
			return removed, storageErr("prune nonce", err)
		}
		if del.Succeeded {
			removed++
		}
	}
	return removed, nil
}

type directoryStore struct {
	client *clientv3.Client
}

func (s *directoryStore) CreateOrganization(ctx context.Context, org *domain.Organization) error {
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	if err := etcdCreate(ctx, s.client, map[string]any{key(kindOrganizations, org.ID): org}); err != nil {
		return fmt.Errorf("create organization: %w", err)
	}
	return nil
}

func (s *directoryStore) GetOrganization(ctx context.Context, id string) (*domain.Organization, error) {
	var org domain.Organization
	rev, err := etcdGet(ctx, s.client, key(kindOrganizations, id), &org)
	if err != nil {
		return nil, err
	}
	if rev == 0 {
		return nil, fmt.Errorf("organization %s: %w", id, domain.ErrNotFound)
	}
	return &org, nil
}

func (s *directoryStore) ListOrganizations(ctx context.Context) ([]*domain.Organization, error) {
	return etcdList[domain.Organization](ctx, s.client, prefix(kindOrganizations))
}

func (s *directoryStore) CreateUser(ctx context.Context, user *domain.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if err := etcdCreate(ctx, s.client, map[string]any{key(kindUsers, user.OrgID, user.ID): user}); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *directoryStore) GetUser(ctx context.Context, orgID, userID string) (*domain.User, error) {
	var user domain.User
	rev, err := etcdGet(ctx, s.client, key(kindUsers, orgID, userID), &user)
	if err != nil {
		return nil, err
	}
	if rev == 0 {
		return nil, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	return &user, nil
}

func (s *directoryStore) UpdateUser(ctx context.Context, user *domain.User) error {
	k := key(kindUsers, user.OrgID, user.ID)
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.Version(k), ">", 0)).
		Then(clientv3.OpPut(k, string(data))).
		Commit()
	if err != nil {
		return storageErr("update user", err)
	}
	if !resp.Succeeded {
		return fmt.Errorf("user %s: %w", user.ID, domain.ErrNotFound)
	}
	return nil
}
