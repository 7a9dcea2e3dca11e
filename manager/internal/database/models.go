package database

import (
	"slices"
	"time"

	"github.com/uptrace/bun"

	"vpnfleet/core/domain"
)

// Server represents a VPN server row. Set-valued and list-valued
// attributes are stored as JSON columns.
type Server struct {
	bun.BaseModel `bun:"table:servers"`

	ID            string            `bun:"id,pk"`
	Name          string            `bun:"name,notnull"`
	Organizations []string          `bun:"organizations,type:json"`
	Network       string            `bun:"network,notnull"`
	Interface     string            `bun:"interface,notnull"`
	Port          int               `bun:"port,notnull"`
	Protocol      string            `bun:"protocol,notnull"`
	Status        string            `bun:"status,notnull,default:'offline'"`
	Hosts         []string          `bun:"hosts,type:json"`
	ReplicaCount  int               `bun:"replica_count,notnull,default:1"`
	Links         []domain.LinkEdge `bun:"links,type:json"`
	CreatedAt     time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time         `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// ToModel converts database Server to domain model
func (s *Server) ToModel() *domain.Server {
	return &domain.Server{
		ID:            s.ID,
		Name:          s.Name,
		Organizations: slices.Clone(s.Organizations),
		Network:       s.Network,
		Interface:     s.Interface,
		Port:          s.Port,
		Protocol:      domain.Protocol(s.Protocol),
		Status:        domain.ServerStatus(s.Status),
		Hosts:         slices.Clone(s.Hosts),
		ReplicaCount:  s.ReplicaCount,
		Links:         slices.Clone(s.Links),
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

// ServerFromModel converts domain model to database Server
func ServerFromModel(m *domain.Server) *Server {
	return &Server{
		ID:            m.ID,
		Name:          m.Name,
		Organizations: m.Organizations,
		Network:       m.Network,
		Interface:     m.Interface,
		Port:          m.Port,
		Protocol:      string(m.Protocol),
		Status:        string(m.Status),
		Hosts:         m.Hosts,
		ReplicaCount:  m.ReplicaCount,
		Links:         m.Links,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// KeyLink represents an issued key link capability
type KeyLink struct {
	bun.BaseModel `bun:"table:key_links"`

	KeyID     string    `bun:"key_id,pk"`
	ShortID   string    `bun:"short_id,unique,notnull"`
	OrgID     string    `bun:"org_id,notnull"`
	UserID    string    `bun:"user_id,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (k *KeyLink) ToModel() *domain.KeyLink {
	return &domain.KeyLink{
		KeyID:     k.KeyID,
		ShortID:   k.ShortID,
		OrgID:     k.OrgID,
		UserID:    k.UserID,
		CreatedAt: k.CreatedAt,
	}
}

func KeyLinkFromModel(m *domain.KeyLink) *KeyLink {
	return &KeyLink{
		KeyID:     m.KeyID,
		ShortID:   m.ShortID,
		OrgID:     m.OrgID,
		UserID:    m.UserID,
		CreatedAt: m.CreatedAt,
	}
}

// AuthNonce is a replay ledger entry. The composite primary key provides
// the uniqueness the ledger relies on. Timestamp holds unix milliseconds.
type AuthNonce struct {
	bun.BaseModel `bun:"table:auth_nonces"`

	Token     string `bun:"token,pk"`
	Nonce     string `bun:"nonce,pk"`
	Timestamp int64  `bun:"timestamp,notnull"`
}

// Organization represents an organization row
type Organization struct {
	bun.BaseModel `bun:"table:organizations"`

	ID        string    `bun:"id,pk"`
	Name      string    `bun:"name,notnull"`
	OTPAuth   bool      `bun:"otp_auth,notnull,default:false"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (o *Organization) ToModel() *domain.Organization {
	return &domain.Organization{ID: o.ID, Name: o.Name, OTPAuth: o.OTPAuth, CreatedAt: o.CreatedAt}
}

// User represents a user row
type User struct {
	bun.BaseModel `bun:"table:users"`

	ID         string    `bun:"id,pk"`
	OrgID      string    `bun:"org_id,notnull"`
	Name       string    `bun:"name,notnull"`
	OTPSecret  string    `bun:"otp_secret"`
	SyncSecret string    `bun:"sync_secret"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (u *User) ToModel() *domain.User {
	return &domain.User{
		ID:         u.ID,
		OrgID:      u.OrgID,
		Name:       u.Name,
		OTPSecret:  u.OTPSecret,
		SyncSecret: u.SyncSecret,
		CreatedAt:  u.CreatedAt,
	}
}

func UserFromModel(m *domain.User) *User {
	return &User{
		ID:         m.ID,
		OrgID:      m.OrgID,
		Name:       m.Name,
		OTPSecret:  m.OTPSecret,
		SyncSecret: m.SyncSecret,
		CreatedAt:  m.CreatedAt,
	}
}
