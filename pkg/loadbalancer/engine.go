package loadbalancer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/glennswest/sdnctl/pkg/metrics"
	"github.com/glennswest/sdnctl/pkg/network"
	"github.com/glennswest/sdnctl/pkg/packet"
)

// DefaultIdleTimeout expires connection rules after this much inactivity.
const DefaultIdleTimeout = 20 * time.Second

const defaultMaxConnections = 256

// MACResolver maps a backend IP to the MAC of the host that owns it.
type MACResolver interface {
	MACForIP(ip net.IP) (net.HardwareAddr, bool)
}

// Options configures an Engine.
type Options struct {
	// Table is the flow table the load balancer owns.
	Table uint8
	// L3Table is the table unmatched and rewritten traffic continues in.
	L3Table uint8
	// IdleTimeout for connection rules. Zero selects DefaultIdleTimeout.
	IdleTimeout time.Duration
	// MaxConnections bounds the recent-connections log.
	MaxConnections int
}

// Connection records one spliced client connection.
type Connection struct {
	ID          string           `json:"id"`
	Switch      network.SwitchID `json:"switch"`
	VirtualIP   net.IP           `json:"virtualIp"`
	Client      net.IP           `json:"client"`
	ClientPort  uint16           `json:"clientPort"`
	ServicePort uint16           `json:"servicePort"`
	Backend     net.IP           `json:"backend"`
	BackendMAC  string           `json:"backendMac"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// Engine handles switch bootstrap and packet-in for the load balancer.
type Engine struct {
	opts     Options
	reg      *Registry
	resolver MACResolver
	gw       network.RuleGateway
	log      *zap.SugaredLogger

	mu    sync.Mutex
	conns []Connection
}

// NewEngine returns an Engine serving the instances in reg.
func NewEngine(opts Options, reg *Registry, resolver MACResolver, gw network.RuleGateway, log *zap.SugaredLogger) *Engine {
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = defaultMaxConnections
	}
	return &Engine{
		opts:     opts,
		reg:      reg,
		resolver: resolver,
		gw:       gw,
		log:      log.Named("loadbalancer"),
	}
}

// Registry returns the instance registry.
func (e *Engine) Registry() *Registry { return e.reg }

// idleSeconds converts the idle timeout to the wire representation.
func (e *Engine) idleSeconds() uint16 {
	s := e.opts.IdleTimeout / time.Second
	if s <= 0 {
		return 1
	}
	if s > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(s)
}

// ─── Switch Bootstrap ───────────────────────────────────────────────────────

// InstallSwitchRules sends IPv4 and ARP traffic for every virtual IP to the
// controller and everything else on to the L3 table.
func (e *Engine) InstallSwitchRules(ctx context.Context, sw network.SwitchID) error {
	var errs []error
	install := func(r network.Rule) {
		if err := e.gw.InstallRule(ctx, sw, r); err != nil {
			e.log.Warnw("failed to install bootstrap rule", "switch", sw, "rule", r.String(), "error", err)
			errs = append(errs, err)
		}
	}

	for _, inst := range e.reg.List() {
		install(network.Rule{
			Table:    e.opts.Table,
			Priority: network.PriorityDefault,
			Match:    network.Match{EtherType: network.EtherTypeIPv4, IPv4Dst: inst.VirtualIP},
			Actions:  []network.Action{network.OutputController()},
		})
		install(network.Rule{
			Table:    e.opts.Table,
			Priority: network.PriorityDefault,
			Match:    network.Match{EtherType: network.EtherTypeARP, ARPTargetIP: inst.VirtualIP},
			Actions:  []network.Action{network.OutputController()},
		})
	}
	install(network.Rule{
		Table:    e.opts.Table,
		Priority: network.PriorityCatchAll,
		Goto:     network.GotoTable(e.opts.L3Table),
	})

	e.log.Infow("switch bootstrapped", "switch", sw, "instances", e.reg.Len(), "failures", len(errs))
	return errors.Join(errs...)
}

// Sink returns an event sink that bootstraps switches as they connect.
func (e *Engine) Sink(ctx context.Context) network.HandlerFunc {
	return func(ev network.Event) {
		defer func() {
			if r := recover(); r != nil {
				metrics.EventPanics.WithLabelValues("loadbalancer").Inc()
				e.log.Errorw("event handler panicked", "event", ev.String(), "panic", r)
			}
		}()
		if ev.Kind != network.SwitchAdded {
			return
		}
		metrics.Events.WithLabelValues("loadbalancer", ev.Kind.String()).Inc()
		e.InstallSwitchRules(ctx, ev.Switch)
	}
}

// ─── Packet-In ──────────────────────────────────────────────────────────────

// HandlePacket answers ARP for virtual IPs and splices new TCP connections
// to a backend. All other packets are left to later handlers.
func (e *Engine) HandlePacket(ctx context.Context, sw network.SwitchID, inPort uint32, frame *packet.Frame) network.Verdict {
	switch {
	case frame.IsARPRequest():
		inst, ok := e.reg.Lookup(frame.ARP.TargetIP)
		if !ok {
			return network.Continue
		}
		e.replyARP(ctx, sw, inPort, frame, inst)
		return network.Consumed

	case frame.IsTCPSYN():
		inst, ok := e.reg.Lookup(frame.IPv4.Dst)
		if !ok {
			return network.Continue
		}
		if _, err := e.splice(ctx, sw, frame, inst); err != nil {
			e.log.Warnw("connection not spliced",
				"switch", sw,
				"vip", inst.VirtualIP,
				"client", frame.IPv4.Src,
				"error", err,
			)
		}
		return network.Consumed
	}
	return network.Continue
}

func (e *Engine) replyARP(ctx context.Context, sw network.SwitchID, inPort uint32, frame *packet.Frame, inst *Instance) {
	reply, err := packet.ARPReply(frame, inst.VirtualMAC, inst.VirtualIP)
	if err != nil {
		e.log.Warnw("failed to build ARP reply", "vip", inst.VirtualIP, "error", err)
		return
	}
	if err := e.gw.SendPacket(ctx, sw, inPort, reply); err != nil {
		e.log.Warnw("failed to send ARP reply", "switch", sw, "port", inPort, "vip", inst.VirtualIP, "error", err)
		return
	}
	metrics.ARPReplies.WithLabelValues("loadbalancer").Inc()
	e.log.Debugw("answered ARP for virtual IP",
		"switch", sw,
		"port", inPort,
		"vip", inst.VirtualIP,
		"requester", frame.ARP.SenderIP,
	)
}

// splice picks a backend for a new connection and installs the forward and
// reverse rewrite rules on the ingress switch.
func (e *Engine) splice(ctx context.Context, sw network.SwitchID, frame *packet.Frame, inst *Instance) (Connection, error) {
	client := frame.IPv4.Src
	clientPort := frame.TCP.SrcPort
	servicePort := frame.TCP.DstPort

	backend := inst.NextBackend()
	mac, ok := e.resolver.MACForIP(backend)
	if !ok {
		metrics.LBUnresolved.WithLabelValues(inst.VirtualIP.String()).Inc()
		return Connection{}, fmt.Errorf("%s: %w", backend, ErrBackendUnresolved)
	}

	l3 := network.GotoTable(e.opts.L3Table)
	idle := e.idleSeconds()

	toBackend := network.Rule{
		Table:    e.opts.Table,
		Priority: network.PriorityConnection,
		Match: network.Match{
			EtherType: network.EtherTypeIPv4,
			IPv4Src:   client,
			IPv4Dst:   inst.VirtualIP,
			IPProto:   network.IPProtoTCP,
			TCPSrc:    clientPort,
			TCPDst:    servicePort,
		},
		Actions:     []network.Action{network.SetEthDst(mac), network.SetIPv4Dst(backend)},
		Goto:        l3,
		IdleTimeout: idle,
	}
	toClient := network.Rule{
		Table:    e.opts.Table,
		Priority: network.PriorityConnection,
		Match: network.Match{
			EtherType: network.EtherTypeIPv4,
			IPv4Src:   backend,
			IPv4Dst:   client,
			IPProto:   network.IPProtoTCP,
			TCPSrc:    servicePort,
			TCPDst:    clientPort,
		},
		Actions:     []network.Action{network.SetEthSrc(inst.VirtualMAC), network.SetIPv4Src(inst.VirtualIP)},
		Goto:        l3,
		IdleTimeout: idle,
	}

	if err := e.gw.InstallRule(ctx, sw, toBackend); err != nil {
		return Connection{}, fmt.Errorf("installing client rule: %w", err)
	}
	if err := e.gw.InstallRule(ctx, sw, toClient); err != nil {
		return Connection{}, fmt.Errorf("installing backend rule: %w", err)
	}

	conn := Connection{
		ID:          uuid.New().String(),
		Switch:      sw,
		VirtualIP:   inst.VirtualIP,
		Client:      client,
		ClientPort:  clientPort,
		ServicePort: servicePort,
		Backend:     backend,
		BackendMAC:  mac.String(),
		CreatedAt:   time.Now(),
	}
	e.record(conn)
	metrics.LBConnections.WithLabelValues(inst.VirtualIP.String()).Inc()
	e.log.Infow("connection spliced",
		"id", conn.ID,
		"switch", sw,
		"vip", inst.VirtualIP,
		"client", fmt.Sprintf("%s:%d", client, clientPort),
		"backend", backend,
	)
	return conn, nil
}

func (e *Engine) record(c Connection) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.conns = append(e.conns, c)
	if over := len(e.conns) - e.opts.MaxConnections; over > 0 {
		e.conns = append(e.conns[:0:0], e.conns[over:]...)
	}
}

// Connections returns the most recent spliced connections, oldest first.
func (e *Engine) Connections() []Connection {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Connection, len(e.conns))
	copy(out, e.conns)
	return out
}
