// Package keyconf renders client connection profiles for a user's servers.
package keyconf

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"vpnfleet/core/domain"
	"vpnfleet/manager/internal/store"
)

var confTemplate = template.Must(template.New("conf").Parse(`# {{.Org.Name}}/{{.User.Name}}/{{.Server.Name}}
setenv UV_ID {{.User.ID}}
setenv UV_NAME {{.User.Name}}
client
dev tun
dev-type tun
proto {{.Server.Protocol}}
remote {{.Host}} {{.Server.Port}}
nobind
persist-tun
persist-key
remote-cert-tls server
cipher AES-256-GCM
verb 2
{{- if .Org.OTPAuth}}
auth-user-pass
{{- end}}
# server {{.Server.ID}} network {{.Server.Network}}
`))

// ConfName is the file name of a profile.
func ConfName(org *domain.Organization, user *domain.User, server *domain.Server) string {
	return fmt.Sprintf("%s_%s_%s.ovpn", SafeName(org.Name), SafeName(user.Name), SafeName(server.Name))
}

// SafeName maps a display name onto a single path element usable in tar
// entries and download file names. Anything outside [A-Za-z0-9._-] becomes
// '_' and leading dots are dropped.
func SafeName(name string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
	safe = strings.TrimLeft(safe, ".")
	if safe == "" {
		return "_"
	}
	return safe
}

// Builder renders profiles against the current server records.
type Builder struct {
	servers    store.ServerStore
	publicHost string
}

func New(servers store.ServerStore, publicHost string) *Builder {
	return &Builder{servers: servers, publicHost: publicHost}
}

// Render builds the profile of user for server. The hash is the hex
// SHA-256 of the rendered text.
func (b *Builder) Render(org *domain.Organization, user *domain.User, server *domain.Server) (*domain.KeyConf, error) {
	var buf bytes.Buffer
	err := confTemplate.Execute(&buf, struct {
		Org    *domain.Organization
		User   *domain.User
		Server *domain.Server
		Host   string
	}{org, user, server, b.publicHost})
	if err != nil {
		return nil, fmt.Errorf("render conf: %w", err)
	}

	sum := sha256.Sum256(buf.Bytes())
	return &domain.KeyConf{
		Name: ConfName(org, user, server),
		Conf: buf.String(),
		Hash: hex.EncodeToString(sum[:]),
	}, nil
}

// BuildForServer renders the profile for one server of the organization.
func (b *Builder) BuildForServer(ctx context.Context, org *domain.Organization, user *domain.User, serverID string) (*domain.KeyConf, error) {
	server, err := b.servers.Get(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if !server.InOrganization(org.ID) {
		return nil, fmt.Errorf("server %s in organization %s: %w", serverID, org.ID, domain.ErrNotFound)
	}
	return b.Render(org, user, server)
}

// SyncConf returns the current profile when its hash differs from
// keyHash. It returns nil when the client is up to date or the server is
// not available to the organization.
func (b *Builder) SyncConf(ctx context.Context, org *domain.Organization, user *domain.User, serverID, keyHash string) (*domain.KeyConf, error) {
	conf, err := b.BuildForServer(ctx, org, user, serverID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if conf.Hash == keyHash {
		return nil, nil
	}
	return conf, nil
}

// Servers lists the servers a profile can be built for.
func (b *Builder) Servers(ctx context.Context, org *domain.Organization) ([]*domain.Server, error) {
	return b.servers.ListByOrganization(ctx, org.ID)
}

// BuildAll renders a profile for every server of the organization.
func (b *Builder) BuildAll(ctx context.Context, org *domain.Organization, user *domain.User) ([]*domain.KeyConf, error) {
	servers, err := b.Servers(ctx, org)
	if err != nil {
		return nil, err
	}
	confs := make([]*domain.KeyConf, 0, len(servers))
	for _, s := range servers {
		conf, err := b.Render(org, user, s)
		if err != nil {
			return nil, err
		}
		confs = append(confs, conf)
	}
	return confs, nil
}

// WriteArchive writes a tar with one file per organization server.
func (b *Builder) WriteArchive(ctx context.Context, w io.Writer, org *domain.Organization, user *domain.User) error {
	confs, err := b.BuildAll(ctx, org, user)
	if err != nil {
		return err
	}

	tw := tar.NewWriter(w)
	now := time.Now()
	for _, conf := range confs {
		hdr := &tar.Header{
			Name:    conf.Name,
			Mode:    0o600,
			Size:    int64(len(conf.Conf)),
			ModTime: now,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write archive header %s: %w", conf.Name, err)
		}
		if _, err := io.WriteString(tw, conf.Conf); err != nil {
			return fmt.Errorf("write archive entry %s: %w", conf.Name, err)
		}
	}
	return tw.Close()
}
