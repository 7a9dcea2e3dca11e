package allocator

import (
	"context"
	"encoding/json"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vpnfleet/core/domain"
	"vpnfleet/manager/internal/database"
)

func setup(t *testing.T, servers ...*domain.Server) *Allocator {
	t.Helper()
	db, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for _, s := range servers {
		require.NoError(t, db.Servers().Create(context.Background(), s))
	}
	return New(db.Servers())
}

func srv(id, network, iface string, port int, proto domain.Protocol) *domain.Server {
	return &domain.Server{
		ID: id, Name: id, Network: network, Interface: iface, Port: port,
		Protocol: proto, Status: domain.ServerStatusOffline, ReplicaCount: 1,
	}
}

func TestPortProtocolKey(t *testing.T) {
	assert.Equal(t, "00080udp", PortProtocolKey(80, domain.ProtocolUDP))
	assert.Equal(t, "08000udp", PortProtocolKey(8000, domain.ProtocolUDP))
	assert.Equal(t, "65535tcp", PortProtocolKey(65535, domain.ProtocolTCP))
}

func TestComputeUsedResources_Empty(t *testing.T) {
	a := setup(t)
	used, err := a.ComputeUsedResources(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, used.Networks)
	assert.Empty(t, used.Interfaces)
	assert.Empty(t, used.PortProtocols)
}

func TestComputeUsedResources_ExcludesOneRecord(t *testing.T) {
	a := setup(t,
		srv("a", "10.0.0.0/24", "tun0", 80, domain.ProtocolUDP),
		srv("b", "10.0.1.0/24", "tun1", 8000, domain.ProtocolUDP),
		srv("c", "10.0.2.0/24", "tun1", 80, domain.ProtocolUDP),
	)

	used, err := a.ComputeUsedResources(context.Background(), "a")
	require.NoError(t, err)

	assert.Len(t, used.Networks, 2)
	assert.NotContains(t, used.Networks, netip.MustParsePrefix("10.0.0.0/24"))
	assert.Contains(t, used.Networks, netip.MustParsePrefix("10.0.1.0/24"))
	assert.Contains(t, used.Networks, netip.MustParsePrefix("10.0.2.0/24"))

	// tun1 is shared by b and c but appears once
	assert.Equal(t, map[string]struct{}{"tun1": {}}, used.Interfaces)

	// c still claims 80/udp even though a is excluded
	assert.True(t, used.HasPort(80, domain.ProtocolUDP))
	assert.True(t, used.HasPort(8000, domain.ProtocolUDP))
	assert.False(t, used.HasPort(80, domain.ProtocolTCP))
	assert.Len(t, used.PortProtocols, 2)

	all, err := a.ComputeUsedResources(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all.Networks, 3)
	assert.True(t, all.HasInterface("tun0"))
}

func TestUsedResources_OverlappingNetwork(t *testing.T) {
	a := setup(t, srv("a", "10.0.0.0/16", "tun0", 1194, domain.ProtocolUDP))
	used, err := a.ComputeUsedResources(context.Background(), "")
	require.NoError(t, err)

	hit, ok := used.OverlappingNetwork(netip.MustParsePrefix("10.0.5.0/24"))
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.0/16", hit.String())

	_, ok = used.OverlappingNetwork(netip.MustParsePrefix("10.1.0.0/24"))
	assert.False(t, ok)
}

func TestUsedResources_MarshalJSON(t *testing.T) {
	a := setup(t,
		srv("a", "10.0.1.0/24", "tun1", 1195, domain.ProtocolTCP),
		srv("b", "10.0.0.0/24", "tun0", 1194, domain.ProtocolUDP),
	)
	used, err := a.ComputeUsedResources(context.Background(), "")
	require.NoError(t, err)

	data, err := json.Marshal(used)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"networks": ["10.0.0.0/24", "10.0.1.0/24"],
		"interfaces": ["tun0", "tun1"],
		"port_protocols": ["01194udp", "01195tcp"]
	}`, string(data))
}
