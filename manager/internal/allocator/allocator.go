// Package allocator reports which networks, interfaces and port/protocol
// pairs are claimed by servers.
//
// The result is a point-in-time snapshot and reserves nothing. Two callers
// may both see a resource as free and both commit it; the check exists to
// catch operator mistakes, not to arbitrate concurrent creates.
package allocator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"slices"

	"github.com/rs/zerolog/log"

	"vpnfleet/core/domain"
	"vpnfleet/manager/internal/store"
)

// PortProtocolKey zero-pads port to five digits and appends the protocol,
// so 80/udp and 8000/udp never share a prefix.
func PortProtocolKey(port int, protocol domain.Protocol) string {
	return fmt.Sprintf("%05d%s", port, protocol)
}

// UsedResources is the set of resources claimed by a group of servers.
type UsedResources struct {
	Networks      map[netip.Prefix]struct{}
	Interfaces    map[string]struct{}
	PortProtocols map[string]struct{}
}

func newUsedResources() *UsedResources {
	return &UsedResources{
		Networks:      make(map[netip.Prefix]struct{}),
		Interfaces:    make(map[string]struct{}),
		PortProtocols: make(map[string]struct{}),
	}
}

// HasInterface reports whether iface is in use.
func (u *UsedResources) HasInterface(iface string) bool {
	_, ok := u.Interfaces[iface]
	return ok
}

// HasPort reports whether the port/protocol pair is in use.
func (u *UsedResources) HasPort(port int, protocol domain.Protocol) bool {
	_, ok := u.PortProtocols[PortProtocolKey(port, protocol)]
	return ok
}

// OverlappingNetwork returns a used network that overlaps network, if any.
func (u *UsedResources) OverlappingNetwork(network netip.Prefix) (netip.Prefix, bool) {
	for used := range u.Networks {
		if used.Overlaps(network) {
			return used, true
		}
	}
	return netip.Prefix{}, false
}

// MarshalJSON renders each set as a sorted list.
func (u *UsedResources) MarshalJSON() ([]byte, error) {
	networks := make([]string, 0, len(u.Networks))
	for n := range u.Networks {
		networks = append(networks, n.String())
	}
	slices.Sort(networks)

	interfaces := make([]string, 0, len(u.Interfaces))
	for i := range u.Interfaces {
		interfaces = append(interfaces, i)
	}
	slices.Sort(interfaces)

	ports := make([]string, 0, len(u.PortProtocols))
	for p := range u.PortProtocols {
		ports = append(ports, p)
	}
	slices.Sort(ports)

	return json.Marshal(struct {
		Networks      []string `json:"networks"`
		Interfaces    []string `json:"interfaces"`
		PortProtocols []string `json:"port_protocols"`
	}{networks, interfaces, ports})
}

// Allocator computes used resources from the server store.
type Allocator struct {
	servers store.ServerStore
}

func New(servers store.ServerStore) *Allocator {
	return &Allocator{servers: servers}
}

// ComputeUsedResources aggregates the resources of every server except
// excludeID. With no other servers the sets are empty.
func (a *Allocator) ComputeUsedResources(ctx context.Context, excludeID string) (*UsedResources, error) {
	servers, err := a.servers.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("compute used resources: %w", err)
	}

	used := newUsedResources()
	for _, s := range servers {
		if s.ID == excludeID {
			continue
		}
		if network, err := netip.ParsePrefix(s.Network); err == nil {
			used.Networks[network.Masked()] = struct{}{}
		} else {
			log.Warn().Str("server_id", s.ID).Str("network", s.Network).Msg("Skipping unparsable server network")
		}
		if s.Interface != "" {
			used.Interfaces[s.Interface] = struct{}{}
		}
		used.PortProtocols[PortProtocolKey(s.Port, s.Protocol)] = struct{}{}
	}
	return used, nil
}
