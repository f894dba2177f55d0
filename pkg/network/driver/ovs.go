package driver

import (
	"context"
	"fmt"
	"sort"

	"github.com/digitalocean/go-openvswitch/ovs"
	"go.uber.org/zap"

	"github.com/glennswest/sdnctl/pkg/network"
)

// flowService is the part of the ovs-ofctl client the driver uses.
type flowService interface {
	AddFlow(bridge string, flow *ovs.Flow) error
	DelFlows(bridge string, flow *ovs.MatchFlow) error
}

// OVS programs local Open vSwitch bridges through ovs-ofctl. Each switch id
// maps to one bridge name. There is no OpenFlow session, so the driver can
// neither send packets nor receive packet-ins.
type OVS struct {
	bridges map[network.SwitchID]string
	flows   flowService
	log     *zap.SugaredLogger
}

// NewOVS returns a driver for the given switch-to-bridge map. sudo runs
// ovs-ofctl through sudo.
func NewOVS(bridges map[network.SwitchID]string, sudo bool, log *zap.SugaredLogger) *OVS {
	opts := []ovs.OptionFunc{ovs.Protocols([]string{ovs.ProtocolOpenFlow13})}
	if sudo {
		opts = append(opts, ovs.Sudo())
	}
	return newOVS(bridges, ovs.New(opts...).OpenFlow, log)
}

func newOVS(bridges map[network.SwitchID]string, flows flowService, log *zap.SugaredLogger) *OVS {
	m := make(map[network.SwitchID]string, len(bridges))
	for id, br := range bridges {
		m[id] = br
	}
	return &OVS{bridges: m, flows: flows, log: log.Named("ovs")}
}

// Switches returns the configured switch ids in ascending order.
func (o *OVS) Switches() []network.SwitchID {
	out := make([]network.SwitchID, 0, len(o.bridges))
	for id := range o.bridges {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (o *OVS) bridge(sw network.SwitchID) (string, error) {
	br, ok := o.bridges[sw]
	if !ok {
		return "", fmt.Errorf("%s: %w", sw, network.ErrUnknownSwitch)
	}
	return br, nil
}

func (o *OVS) InstallRule(_ context.Context, sw network.SwitchID, rule network.Rule) error {
	br, err := o.bridge(sw)
	if err != nil {
		return err
	}
	flow, err := ovsFlow(rule)
	if err != nil {
		return err
	}
	if err := o.flows.AddFlow(br, flow); err != nil {
		return fmt.Errorf("adding flow to %s: %w", br, err)
	}
	o.log.Debugw("flow installed", "switch", sw, "bridge", br, "rule", rule.String())
	return nil
}

func (o *OVS) RemoveRules(_ context.Context, sw network.SwitchID, table uint8, m network.Match) error {
	br, err := o.bridge(sw)
	if err != nil {
		return err
	}
	proto, matches := ovsMatches(m)
	mf := &ovs.MatchFlow{
		Protocol: proto,
		InPort:   int(m.InPort),
		Matches:  matches,
		Table:    int(table),
	}
	if err := o.flows.DelFlows(br, mf); err != nil {
		return fmt.Errorf("deleting flows on %s: %w", br, err)
	}
	o.log.Debugw("flows removed", "switch", sw, "bridge", br, "table", table, "match", m.String())
	return nil
}

func (o *OVS) SendPacket(context.Context, network.SwitchID, uint32, []byte) error {
	return fmt.Errorf("packet-out via ovs-ofctl: %w", network.ErrNotSupported)
}

func (o *OVS) Capabilities() network.GatewayCapabilities {
	return network.GatewayCapabilities{}
}

func ovsFlow(rule network.Rule) (*ovs.Flow, error) {
	proto, matches := ovsMatches(rule.Match)
	flow := &ovs.Flow{
		Priority:    int(rule.Priority),
		Protocol:    proto,
		InPort:      int(rule.Match.InPort),
		Matches:     matches,
		Table:       int(rule.Table),
		IdleTimeout: int(rule.IdleTimeout),
	}
	if rule.HardTimeout != network.NoTimeout {
		return nil, fmt.Errorf("hard timeout: %w", network.ErrNotSupported)
	}

	for _, a := range rule.Actions {
		act, err := ovsAction(a)
		if err != nil {
			return nil, err
		}
		flow.Actions = append(flow.Actions, act)
	}
	if rule.Goto != nil {
		flow.Actions = append(flow.Actions, ovs.Resubmit(0, int(*rule.Goto)))
	}
	if len(flow.Actions) == 0 {
		flow.Actions = []ovs.Action{ovs.Drop()}
	}
	return flow, nil
}

// ovsMatches folds EtherType and IPProto into the ovs-ofctl protocol
// keyword where one exists.
func ovsMatches(m network.Match) (ovs.Protocol, []ovs.Match) {
	var (
		proto   ovs.Protocol
		matches []ovs.Match
	)
	switch {
	case m.EtherType == network.EtherTypeIPv4 && m.IPProto == network.IPProtoTCP:
		proto = ovs.ProtocolTCPv4
	case m.EtherType == network.EtherTypeIPv4:
		proto = ovs.ProtocolIPv4
		if m.IPProto != 0 {
			matches = append(matches, ovs.NetworkProtocol(m.IPProto))
		}
	case m.EtherType == network.EtherTypeARP:
		proto = ovs.ProtocolARP
	case m.EtherType != 0:
		matches = append(matches, ovs.DataLinkType(m.EtherType))
	}

	if m.IPv4Src != nil {
		matches = append(matches, ovs.NetworkSource(m.IPv4Src.String()))
	}
	if m.IPv4Dst != nil {
		matches = append(matches, ovs.NetworkDestination(m.IPv4Dst.String()))
	}
	if m.TCPSrc != 0 {
		matches = append(matches, ovs.TransportSourcePort(m.TCPSrc))
	}
	if m.TCPDst != 0 {
		matches = append(matches, ovs.TransportDestinationPort(m.TCPDst))
	}
	if m.ARPTargetIP != nil {
		matches = append(matches, ovs.ARPTargetProtocolAddress(m.ARPTargetIP.String()))
	}
	return proto, matches
}

func ovsAction(a network.Action) (ovs.Action, error) {
	switch a.Type {
	case network.ActionOutput:
		return ovs.Output(int(a.Port)), nil
	case network.ActionSetEthSrc:
		return ovs.ModDataLinkSource(a.MAC), nil
	case network.ActionSetEthDst:
		return ovs.ModDataLinkDestination(a.MAC), nil
	case network.ActionSetIPv4Src:
		return ovs.ModNetworkSource(a.IP), nil
	case network.ActionSetIPv4Dst:
		return ovs.ModNetworkDestination(a.IP), nil
	}
	return nil, fmt.Errorf("action %s via ovs-ofctl: %w", a, network.ErrNotSupported)
}
