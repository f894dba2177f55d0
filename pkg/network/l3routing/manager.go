// Package l3routing keeps per-switch IPv4 forwarding rules in step with the
// topology and the set of known hosts.
package l3routing

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/glennswest/sdnctl/pkg/metrics"
	"github.com/glennswest/sdnctl/pkg/network"
	"github.com/glennswest/sdnctl/pkg/network/hosts"
	"github.com/glennswest/sdnctl/pkg/network/routing"
	"github.com/glennswest/sdnctl/pkg/network/topology"
)

// Options configures a Manager.
type Options struct {
	// Table is the flow table host routing rules are installed in.
	Table uint8
	// SinglePass selects the single-pass relaxation variant.
	SinglePass bool
}

// pathState pairs a path table with the graph it was computed from so that
// next hops and port lookups always agree.
type pathState struct {
	graph      *topology.Graph
	paths      *routing.PathTable
	computedAt time.Time
}

// Manager is the flow synchronizer. Events are expected to arrive one at a
// time through HandleEvent; the query methods are safe to call concurrently.
type Manager struct {
	opts  Options
	topo  *topology.Topology
	hosts *hosts.Registry
	gw    network.RuleGateway
	log   *zap.SugaredLogger

	// mu serializes event handling with the reconciler.
	mu    sync.Mutex
	state atomic.Pointer[pathState]
}

// NewManager returns a Manager with an empty path table. Call Recompute once
// the topology is populated.
func NewManager(opts Options, topo *topology.Topology, reg *hosts.Registry, gw network.RuleGateway, log *zap.SugaredLogger) *Manager {
	m := &Manager{
		opts:  opts,
		topo:  topo,
		hosts: reg,
		gw:    gw,
		log:   log.Named("l3routing"),
	}
	m.state.Store(&pathState{
		graph: topology.NewGraph(nil, nil),
		paths: routing.ComputePaths(topology.NewGraph(nil, nil)),
	})
	return m
}

// Table returns the flow table this manager owns.
func (m *Manager) Table() uint8 { return m.opts.Table }

// Topology returns the underlying switch/link store.
func (m *Manager) Topology() *topology.Topology { return m.topo }

// Hosts returns the host registry.
func (m *Manager) Hosts() *hosts.Registry { return m.hosts }

// Paths returns the current path table.
func (m *Manager) Paths() *routing.PathTable { return m.state.Load().paths }

// Graph returns the topology snapshot the current path table was built from.
func (m *Manager) Graph() *topology.Graph { return m.state.Load().graph }

// ComputedAt returns when the current path table was built.
func (m *Manager) ComputedAt() time.Time { return m.state.Load().computedAt }

// Recompute rebuilds the path table from the current topology and swaps it
// in. Readers see either the old table or the new one, never a mix.
func (m *Manager) Recompute() *routing.PathTable {
	start := time.Now()
	g := m.topo.Snapshot()
	pt := routing.ComputePathsWithOptions(g, routing.Options{SinglePass: m.opts.SinglePass})
	elapsed := time.Since(start)

	m.state.Store(&pathState{graph: g, paths: pt, computedAt: start})

	metrics.PathRecomputations.Inc()
	metrics.PathEntries.Set(float64(pt.Len()))
	metrics.PathComputeSeconds.Observe(elapsed.Seconds())
	m.log.Infow("path table recomputed",
		"switches", g.Len(),
		"links", len(g.Links()),
		"entries", pt.Len(),
		"duration", elapsed,
	)
	return pt
}

// ─── Rule Synchronization ───────────────────────────────────────────────────

func hostMatch(ip net.IP) network.Match {
	return network.Match{EtherType: network.EtherTypeIPv4, IPv4Dst: ip}
}

// SyncHost installs a rule for h on every known switch. Switches with no
// path to h's switch get the rule removed instead. Gateway failures are
// logged and returned joined; the remaining switches are still processed.
func (m *Manager) SyncHost(ctx context.Context, h network.Host) error {
	if !h.Attached || h.IP == nil {
		return nil
	}

	st := m.state.Load()
	match := hostMatch(h.IP)
	var errs []error

	for _, sw := range st.graph.Switches() {
		var port uint32
		if sw == h.Switch {
			port = h.Port
		} else {
			next, ok := st.paths.NextHop(h.Switch, sw)
			if !ok {
				if err := m.gw.RemoveRules(ctx, sw, m.opts.Table, match); err != nil {
					m.log.Warnw("failed to clear unreachable host rule", "switch", sw, "host", h.Name, "error", err)
					errs = append(errs, fmt.Errorf("clearing %s on %s: %w", h.IP, sw, err))
				}
				continue
			}
			port, ok = st.graph.PortToward(sw, next)
			if !ok {
				metrics.AdjacencyErrors.Inc()
				m.log.Errorw("path table names a next hop with no link",
					"switch", sw, "next", next, "host", h.Name, "error", network.ErrNoAdjacency)
				errs = append(errs, fmt.Errorf("%s -> %s: %w", sw, next, network.ErrNoAdjacency))
				continue
			}
		}

		rule := network.Rule{
			Table:    m.opts.Table,
			Priority: network.PriorityDefault,
			Match:    match,
			Actions:  []network.Action{network.Output(port)},
		}
		if err := m.gw.InstallRule(ctx, sw, rule); err != nil {
			m.log.Warnw("failed to install host rule", "switch", sw, "host", h.Name, "error", err)
			errs = append(errs, fmt.Errorf("installing %s on %s: %w", h.IP, sw, err))
		}
	}

	m.log.Debugw("host synced", "host", h.Name, "ip", h.IP, "switch", h.Switch, "port", h.Port)
	return errors.Join(errs...)
}

// RemoveHost deletes h's forwarding rule from every known switch.
func (m *Manager) RemoveHost(ctx context.Context, h network.Host) error {
	if h.IP == nil {
		return nil
	}
	return m.removeIP(ctx, h.IP)
}

func (m *Manager) removeIP(ctx context.Context, ip net.IP) error {
	match := hostMatch(ip)
	var errs []error
	for _, sw := range m.state.Load().graph.Switches() {
		if err := m.gw.RemoveRules(ctx, sw, m.opts.Table, match); err != nil {
			m.log.Warnw("failed to remove host rule", "switch", sw, "ip", ip, "error", err)
			errs = append(errs, fmt.Errorf("removing %s on %s: %w", ip, sw, err))
		}
	}
	m.log.Debugw("host rules removed", "ip", ip)
	return errors.Join(errs...)
}

// SyncAll re-issues rules for every attached host.
func (m *Manager) SyncAll(ctx context.Context) error {
	attached := m.hosts.Attached()
	var errs []error
	for _, h := range attached {
		if err := m.SyncHost(ctx, h); err != nil {
			errs = append(errs, err)
		}
	}
	m.log.Infow("all host rules synced", "hosts", len(attached), "failures", len(errs))
	return errors.Join(errs...)
}
