// Package etcdstore is the etcd backed implementation of store.Store for
// deployments where several manager replicas share one record store.
package etcdstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	clientv3 "go.etcd.io/etcd/client/v3"

	"vpnfleet/core/domain"
	"vpnfleet/manager/internal/store"
)

// All keys live under /vpnfleet/v1/ to avoid collisions with other etcd tenants.
const (
	keyPrefix = "/vpnfleet/v1"

	kindServers       = "servers"
	kindKeyLinks      = "keylinks"
	kindKeyLinksShort = "keylinks-short"
	kindNonces        = "nonces"
	kindOrganizations = "organizations"
	kindUsers         = "users"

	// maxTxnAttempts bounds optimistic retries of a multi-key commit.
	maxTxnAttempts = 8
)

// key builds a fully-qualified etcd key. Each id segment is path escaped.
func key(kind string, ids ...string) string {
	k := keyPrefix + "/" + kind
	for _, id := range ids {
		k += "/" + url.PathEscape(id)
	}
	return k
}

// prefix builds the key prefix for listing every item of a kind.
func prefix(kind string, ids ...string) string {
	return key(kind, ids...) + "/"
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorage, err)
}

// EtcdStore implements store.Store. Single-key writes rely on etcd's
// linearizable puts and multi-key writes use guarded transactions.
type EtcdStore struct {
	client    *clientv3.Client
	servers   *serverStore
	keyLinks  *keyLinkStore
	nonces    *nonceStore
	directory *directoryStore
}

var _ store.Store = (*EtcdStore)(nil)

// New dials the etcd cluster at endpoints. The caller must call Close when finished.
func New(endpoints []string, dialTimeout time.Duration) (*EtcdStore, error) {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd dial: %w", err)
	}
	log.Info().Strs("endpoints", endpoints).Msg("etcd store initialized")
	return NewFromClient(client), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *clientv3.Client) *EtcdStore {
	return &EtcdStore{
		client:    client,
		servers:   &serverStore{client: client},
		keyLinks:  &keyLinkStore{client: client},
		nonces:    &nonceStore{client: client},
		directory: &directoryStore{client: client},
	}
}

func (s *EtcdStore) Servers() store.ServerStore       { return s.servers }
func (s *EtcdStore) KeyLinks() store.KeyLinkStore     { return s.keyLinks }
func (s *EtcdStore) Nonces() store.NonceStore         { return s.nonces }
func (s *EtcdStore) Directory() store.DirectoryStore { return s.directory }

// Ping reads a single key to confirm the cluster is reachable.
func (s *EtcdStore) Ping(ctx context.Context) error {
	if _, err := s.client.Get(ctx, keyPrefix, clientv3.WithCountOnly()); err != nil {
		return storageErr("etcd ping", err)
	}
	return nil
}

// Close releases the underlying etcd client connection.
func (s *EtcdStore) Close() error {
	return s.client.Close()
}

// etcdGet retrieves the value at key k and decodes it into v. It returns
// the mod revision, or 0 when the key does not exist.
func etcdGet(ctx context.Context, client *clientv3.Client, k string, v any) (int64, error) {
	resp, err := client.Get(ctx, k)
	if err != nil {
		return 0, storageErr("etcd get "+k, err)
	}
	if len(resp.Kvs) == 0 {
		return 0, nil
	}
	if err := json.Unmarshal(resp.Kvs[0].Value, v); err != nil {
		return 0, fmt.Errorf("unmarshal %q: %w", k, err)
	}
	return resp.Kvs[0].ModRevision, nil
}

// etcdList decodes every value under pfx.
func etcdList[T any](ctx context.Context, client *clientv3.Client, pfx string) ([]*T, error) {
	resp, err := client.Get(ctx, pfx, clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, storageErr("etcd list "+pfx, err)
	}
	out := make([]*T, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		item := new(T)
		if err := json.Unmarshal(kv.Value, item); err != nil {
			return nil, fmt.Errorf("unmarshal %q: %w", string(kv.Key), err)
		}
		out = append(out, item)
	}
	return out, nil
}

// etcdCreate writes every (key, value) pair only if none of the keys exist.
// It returns domain.ErrDuplicate when any key is already present.
func etcdCreate(ctx context.Context, client *clientv3.Client, kvs map[string]any) error {
	cmps := make([]clientv3.Cmp, 0, len(kvs))
	ops := make([]clientv3.Op, 0, len(kvs))
	for k, v := range kvs {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		cmps = append(cmps, clientv3.Compare(clientv3.Version(k), "=", 0))
		ops = append(ops, clientv3.OpPut(k, string(data)))
	}

	resp, err := client.Txn(ctx).If(cmps...).Then(ops...).Commit()
	if err != nil {
		return storageErr("etcd create", err)
	}
	if !resp.Succeeded {
		return domain.ErrDuplicate
	}
	return nil
}
