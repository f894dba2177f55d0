package l3routing

import (
	"context"
	"time"
)

// ReconcilerOpts configures the reconciliation loop.
type ReconcilerOpts struct {
	Interval time.Duration // how often to reconcile (default 30s)
}

// RunReconciler starts a periodic loop that recomputes every path and
// re-issues every host rule, repairing rules lost to failed gateway calls
// or switch restarts. Installs replace identical rules, so a pass over a
// healthy fabric changes nothing.
//
// Runs until ctx is cancelled.
func (m *Manager) RunReconciler(ctx context.Context, opts ReconcilerOpts) {
	interval := opts.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}

	m.log.Infow("l3 reconciler started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info("l3 reconciler stopped")
			return
		case <-ticker.C:
			m.Reconcile(ctx)
		}
	}
}

// Reconcile runs a single reconciliation pass.
func (m *Manager) Reconcile(ctx context.Context) {
	log := m.log.Named("reconciler")

	m.mu.Lock()
	defer m.mu.Unlock()

	before := m.Paths()
	after := m.Recompute()
	if before.Len() != after.Len() {
		log.Warnw("drift: path table changed outside event handling",
			"before", before.Len(),
			"after", after.Len(),
		)
	}

	if err := m.SyncAll(ctx); err != nil {
		log.Warnw("reconciliation incomplete", "error", err)
		return
	}
	log.Debugw("reconciliation complete", "hosts", len(m.hosts.Attached()))
}
