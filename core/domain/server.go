package domain

import (
	"slices"
	"time"
)

// Protocol is the transport a VPN server listens on.
type Protocol string

const (
	ProtocolUDP Protocol = "udp"
	ProtocolTCP Protocol = "tcp"
)

// Valid reports whether p is a supported protocol.
func (p Protocol) Valid() bool {
	return p == ProtocolUDP || p == ProtocolTCP
}

// ServerStatus is the runtime state of a VPN server.
type ServerStatus string

const (
	ServerStatusOnline  ServerStatus = "online"
	ServerStatusOffline ServerStatus = "offline"
)

// Server is one VPN server instance and its link edges.
type Server struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Organizations []string     `json:"organizations"`
	Network       string       `json:"network"`
	Interface     string       `json:"interface"`
	Port          int          `json:"port"`
	Protocol      Protocol     `json:"protocol"`
	Status        ServerStatus `json:"status"`
	Hosts         []string     `json:"hosts"`
	ReplicaCount  int          `json:"replica_count"`
	Links         []LinkEdge   `json:"links"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// LinkEdge is one side of a link between two servers. The companion edge
// lives on the target server.
type LinkEdge struct {
	ServerID string `json:"server_id"`
	// UserID is reserved and always nil for edges created by linking.
	UserID          *string `json:"user_id"`
	UseLocalAddress bool    `json:"use_local_address"`
}

// IsOnline reports whether the server is running.
func (s *Server) IsOnline() bool {
	return s.Status == ServerStatusOnline
}

// HasLink reports whether s carries an edge to serverID.
func (s *Server) HasLink(serverID string) bool {
	return slices.ContainsFunc(s.Links, func(e LinkEdge) bool { return e.ServerID == serverID })
}

// AddLink appends an edge to serverID unless one already exists. It
// returns true when the edge list changed.
func (s *Server) AddLink(serverID string, useLocalAddress bool) bool {
	if s.HasLink(serverID) {
		return false
	}
	s.Links = append(s.Links, LinkEdge{ServerID: serverID, UseLocalAddress: useLocalAddress})
	return true
}

// RemoveLink drops every edge to serverID and reports whether any was removed.
func (s *Server) RemoveLink(serverID string) bool {
	n := len(s.Links)
	s.Links = slices.DeleteFunc(s.Links, func(e LinkEdge) bool { return e.ServerID == serverID })
	return len(s.Links) != n
}

// SharesHostWith reports whether s and other have at least one host in common.
func (s *Server) SharesHostWith(other *Server) bool {
	for _, h := range s.Hosts {
		if slices.Contains(other.Hosts, h) {
			return true
		}
	}
	return false
}

// InOrganization reports whether orgID is attached to s.
func (s *Server) InOrganization(orgID string) bool {
	return slices.Contains(s.Organizations, orgID)
}
