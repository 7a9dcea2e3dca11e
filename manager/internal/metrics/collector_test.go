package metrics

import (
	"context"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vpnfleet/core/domain"
	"vpnfleet/manager/internal/database"
)

func gaugeValue(t *testing.T, g interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestCollector_Collect(t *testing.T) {
	db, err := database.New(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	servers := []*domain.Server{
		{ID: "a", Name: "a", Status: domain.ServerStatusOnline, Links: []domain.LinkEdge{{ServerID: "b"}}},
		{ID: "b", Name: "b", Status: domain.ServerStatusOffline, Links: []domain.LinkEdge{{ServerID: "a"}}},
		{ID: "c", Name: "c", Status: domain.ServerStatusOffline},
	}
	for _, s := range servers {
		require.NoError(t, db.Servers().Create(ctx, s))
	}
	require.NoError(t, db.Directory().CreateOrganization(ctx, &domain.Organization{ID: "o1", Name: "acme"}))

	NewCollector(db, 0).Collect(ctx)

	assert.Equal(t, 1.0, gaugeValue(t, ServersTotal.WithLabelValues("online")))
	assert.Equal(t, 2.0, gaugeValue(t, ServersTotal.WithLabelValues("offline")))
	assert.Equal(t, 2.0, gaugeValue(t, LinkEdgesTotal))
	assert.Equal(t, 1.0, gaugeValue(t, OrganizationsTotal))
	assert.Equal(t, 1.0, gaugeValue(t, DBConnections))
}
