package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"vpnfleet/manager/internal/store"
)

// Collector periodically updates gauge metrics from store state
type Collector struct {
	store    store.Store
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(s store.Store, interval time.Duration) *Collector {
	if interval == 0 {
		interval = 30 * time.Second
	}

	return &Collector{
		store:    s,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic metrics collection
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Collect(ctx)
		}
	}
}

// Stop stops the metrics collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect updates all gauge metrics once.
func (c *Collector) Collect(ctx context.Context) {
	if err := c.collectServerMetrics(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to collect server metrics")
	}

	if err := c.collectOrganizationMetrics(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to collect organization metrics")
	}

	c.collectDatabaseMetrics()
}

func (c *Collector) collectServerMetrics(ctx context.Context) error {
	servers, err := c.store.Servers().List(ctx)
	if err != nil {
		return err
	}

	// Reset to drop statuses no server has anymore
	ServersTotal.Reset()

	counts := make(map[string]int)
	edges := 0
	for _, s := range servers {
		counts[string(s.Status)]++
		edges += len(s.Links)
	}

	for status, count := range counts {
		ServersTotal.WithLabelValues(status).Set(float64(count))
	}
	LinkEdgesTotal.Set(float64(edges))

	return nil
}

func (c *Collector) collectOrganizationMetrics(ctx context.Context) error {
	orgs, err := c.store.Directory().ListOrganizations(ctx)
	if err != nil {
		return err
	}
	OrganizationsTotal.Set(float64(len(orgs)))
	return nil
}

// collectDatabaseMetrics reports pool stats for SQL backends.
func (c *Collector) collectDatabaseMetrics() {
	sqlStore, ok := c.store.(interface{ DB() *bun.DB })
	if !ok {
		return
	}
	DBConnections.Set(float64(sqlStore.DB().Stats().OpenConnections))
}
