// Package nonce records (token, nonce) pairs so a signed request can be
// accepted at most once.
package nonce

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	coreauth "vpnfleet/core/auth"
	"vpnfleet/core/domain"
	"vpnfleet/manager/internal/metrics"
	"vpnfleet/manager/internal/store"
)

// Ledger wraps a NonceStore. Uniqueness is enforced by the store's insert,
// never by a read followed by a write.
type Ledger struct {
	store     store.NonceStore
	maxLength int
}

func NewLedger(s store.NonceStore, maxLength int) *Ledger {
	if maxLength <= 0 {
		maxLength = coreauth.DefaultNonceLength
	}
	return &Ledger{store: s, maxLength: maxLength}
}

// RecordIfNew stores the pair and reports whether it was seen for the
// first time. A replay returns false with a nil error.
func (l *Ledger) RecordIfNew(ctx context.Context, token, nonce string, ts time.Time) (bool, error) {
	err := l.store.Insert(ctx, &domain.Nonce{
		Token:     token,
		Nonce:     coreauth.TruncateNonce(nonce, l.maxLength),
		Timestamp: ts.UTC(),
	})
	if errors.Is(err, domain.ErrDuplicate) {
		metrics.NonceInsertsTotal.WithLabelValues("replay").Inc()
		return false, nil
	}
	if err != nil {
		metrics.NonceInsertsTotal.WithLabelValues("error").Inc()
		return false, err
	}
	metrics.NonceInsertsTotal.WithLabelValues("accepted").Inc()
	return true, nil
}

// Pruner periodically deletes nonces older than the retention. The
// retention must cover the sync time window, otherwise a pruned nonce
// could be replayed while its timestamp is still fresh.
type Pruner struct {
	store     store.NonceStore
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

func NewPruner(s store.NonceStore, retention, interval time.Duration) *Pruner {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Pruner{store: s, retention: retention, interval: interval, now: time.Now}
}

// PruneOnce deletes expired entries and returns how many were removed.
func (p *Pruner) PruneOnce(ctx context.Context) (int64, error) {
	return p.store.PruneBefore(ctx, p.now().Add(-p.retention))
}

// Run prunes on every tick until ctx is cancelled.
func (p *Pruner) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log.Info().Dur("retention", p.retention).Dur("interval", p.interval).Msg("Nonce pruner started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Nonce pruner stopped")
			return
		case <-ticker.C:
			n, err := p.PruneOnce(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Failed to prune nonces")
				continue
			}
			metrics.NoncesPrunedTotal.Add(float64(n))
			if n > 0 {
				log.Debug().Int64("removed", n).Msg("Pruned expired nonces")
			}
		}
	}
}
