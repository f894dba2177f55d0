// Package metrics holds the controller's Prometheus collectors.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/glennswest/sdnctl/pkg/network"
)

const namespace = "sdnctl"

var (
	PathRecomputations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "path_recomputations_total",
		Help:      "Number of full path table recomputations.",
	})
	PathEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "path_entries",
		Help:      "Entries in the current path table.",
	})
	PathComputeSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "path_compute_seconds",
		Help:      "Time spent computing the path table.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
	})
	AdjacencyErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "adjacency_errors_total",
		Help:      "Next hops with no connecting link. Non-zero means a path table bug.",
	})
	Hosts = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "hosts",
		Help:      "Hosts currently tracked.",
	})
	Events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Topology and host events handled, by consumer and kind.",
	}, []string{"consumer", "kind"})
	EventPanics = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_panics_total",
		Help:      "Event handlers that panicked and were recovered.",
	}, []string{"consumer"})
	GatewayOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gateway_ops_total",
		Help:      "Rule gateway calls by operation and result.",
	}, []string{"op", "result"})
	LBConnections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lb_connections_total",
		Help:      "Connections spliced to a backend, by virtual IP.",
	}, []string{"vip"})
	LBUnresolved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lb_unresolved_backends_total",
		Help:      "Connections dropped because the backend MAC was unknown.",
	}, []string{"vip"})
	ARPReplies = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "arp_replies_total",
		Help:      "ARP replies sent by the controller, by responder.",
	}, []string{"responder"})
)

// Registry holds every collector above plus the Go runtime collectors.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		prometheus.NewGoCollector(),
		PathRecomputations,
		PathEntries,
		PathComputeSeconds,
		AdjacencyErrors,
		Hosts,
		Events,
		EventPanics,
		GatewayOps,
		LBConnections,
		LBUnresolved,
		ARPReplies,
	)
}

// Handler serves Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ─── Gateway instrumentation ────────────────────────────────────────────────

// Instrument counts every call made through g.
func Instrument(g network.RuleGateway) network.RuleGateway {
	return &instrumented{next: g}
}

type instrumented struct {
	next network.RuleGateway
}

func observe(op string, err error) error {
	result := "ok"
	if err != nil {
		result = "error"
	}
	GatewayOps.WithLabelValues(op, result).Inc()
	return err
}

func (i *instrumented) InstallRule(ctx context.Context, sw network.SwitchID, rule network.Rule) error {
	return observe("install", i.next.InstallRule(ctx, sw, rule))
}

func (i *instrumented) RemoveRules(ctx context.Context, sw network.SwitchID, table uint8, m network.Match) error {
	return observe("remove", i.next.RemoveRules(ctx, sw, table, m))
}

func (i *instrumented) SendPacket(ctx context.Context, sw network.SwitchID, port uint32, data []byte) error {
	return observe("packet_out", i.next.SendPacket(ctx, sw, port, data))
}

func (i *instrumented) Capabilities() network.GatewayCapabilities {
	return i.next.Capabilities()
}
