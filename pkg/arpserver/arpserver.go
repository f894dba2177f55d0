// Package arpserver answers ARP requests for addresses owned by known hosts,
// so hosts never have to flood the fabric to find each other.
package arpserver

import (
	"context"
	"net"

	"go.uber.org/zap"

	"github.com/glennswest/sdnctl/pkg/metrics"
	"github.com/glennswest/sdnctl/pkg/network"
	"github.com/glennswest/sdnctl/pkg/packet"
)

// Resolver maps an IPv4 address to the MAC of the host that owns it.
type Resolver interface {
	MACForIP(ip net.IP) (net.HardwareAddr, bool)
}

// Server is a packet handler that replies to ARP requests on behalf of
// hosts in the registry.
type Server struct {
	hosts Resolver
	gw    network.RuleGateway
	log   *zap.SugaredLogger
}

// New returns a Server that resolves addresses through hosts and sends
// replies through gw.
func New(hosts Resolver, gw network.RuleGateway, log *zap.SugaredLogger) *Server {
	return &Server{hosts: hosts, gw: gw, log: log.Named("arp")}
}

// HandlePacket consumes ARP requests for known addresses. Requests for
// unknown addresses and all other traffic are left to later handlers.
func (s *Server) HandlePacket(ctx context.Context, sw network.SwitchID, inPort uint32, frame *packet.Frame) network.Verdict {
	if !frame.IsARPRequest() {
		return network.Continue
	}
	target := frame.ARP.TargetIP
	s.log.Debugw("ARP request", "target", target, "from", frame.ARP.SenderMAC, "switch", sw)

	mac, ok := s.hosts.MACForIP(target)
	if !ok {
		return network.Continue
	}

	reply, err := packet.ARPReply(frame, mac, target)
	if err != nil {
		s.log.Warnw("failed to build ARP reply", "target", target, "error", err)
		return network.Consumed
	}
	if err := s.gw.SendPacket(ctx, sw, inPort, reply); err != nil {
		s.log.Warnw("failed to send ARP reply", "switch", sw, "port", inPort, "target", target, "error", err)
		return network.Consumed
	}

	metrics.ARPReplies.WithLabelValues("host").Inc()
	s.log.Infow("sent ARP reply", "ip", target, "mac", mac, "switch", sw, "port", inPort)
	return network.Consumed
}
