package driver

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/contiv/libOpenflow/common"
	"github.com/contiv/libOpenflow/openflow13"
	"github.com/contiv/libOpenflow/protocol"
	"github.com/contiv/libOpenflow/util"
	"go.uber.org/zap"

	"github.com/glennswest/sdnctl/pkg/network"
	"github.com/glennswest/sdnctl/pkg/packet"
)

const (
	ofHeaderLen      = 8
	handshakeTimeout = 3 * time.Second
)

// FrameHandler receives decoded packet-in frames.
type FrameHandler interface {
	HandleFrame(ctx context.Context, sw network.SwitchID, inPort uint32, frame *packet.Frame) network.Verdict
}

// OpenFlowOptions configures the controller listener.
type OpenFlowOptions struct {
	ListenAddr string
	// MissTables get a lowest-priority send-to-controller rule when a
	// switch connects, so unmatched traffic reaches the packet pipeline.
	MissTables []uint8
}

// OpenFlow is an OpenFlow 1.3 controller. Switches connect to ListenAddr;
// once the features handshake completes the switch is announced on the
// event bus and becomes addressable by datapath id.
type OpenFlow struct {
	opts OpenFlowOptions
	pub  network.Publisher
	log  *zap.SugaredLogger

	mu       sync.RWMutex
	switches map[network.SwitchID]*ofSwitch
	handler  FrameHandler
}

type ofSwitch struct {
	id   network.SwitchID
	conn net.Conn

	wmu sync.Mutex
}

func (s *ofSwitch) send(msg util.Message) error {
	data, err := msg.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err = s.conn.Write(data)
	return err
}

// NewOpenFlow returns a controller that announces switches through pub.
func NewOpenFlow(opts OpenFlowOptions, pub network.Publisher, log *zap.SugaredLogger) *OpenFlow {
	if opts.ListenAddr == "" {
		opts.ListenAddr = ":6653"
	}
	return &OpenFlow{
		opts:     opts,
		pub:      pub,
		log:      log.Named("openflow"),
		switches: make(map[network.SwitchID]*ofSwitch),
	}
}

// SetFrameHandler installs the packet-in consumer.
func (o *OpenFlow) SetFrameHandler(h FrameHandler) {
	o.mu.Lock()
	o.handler = h
	o.mu.Unlock()
}

// Run accepts switch connections until ctx is cancelled.
func (o *OpenFlow) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", o.opts.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", o.opts.ListenAddr, err)
	}
	o.log.Infow("listening for switches", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		ln.Close()
		o.mu.RLock()
		for _, sw := range o.switches {
			sw.conn.Close()
		}
		o.mu.RUnlock()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accepting switch connection: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.serve(ctx, conn)
		}()
	}
}

// serve runs the handshake and then the receive loop for one switch.
func (o *OpenFlow) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()

	sw, err := o.handshake(conn)
	if err != nil {
		o.log.Warnw("switch handshake failed", "remote", remote, "error", err)
		return
	}

	o.mu.Lock()
	if old, ok := o.switches[sw.id]; ok {
		old.conn.Close()
	}
	o.switches[sw.id] = sw
	o.mu.Unlock()
	o.log.Infow("switch connected", "switch", sw.id, "remote", remote)

	for _, table := range o.opts.MissTables {
		miss := network.Rule{
			Table:    table,
			Priority: network.PriorityCatchAll,
			Actions:  []network.Action{network.OutputController()},
		}
		if err := o.InstallRule(ctx, sw.id, miss); err != nil {
			o.log.Warnw("failed to install table-miss rule", "switch", sw.id, "table", table, "error", err)
		}
	}
	o.publish(network.Event{Kind: network.SwitchAdded, Switch: sw.id})

	err = o.receive(ctx, sw)

	o.mu.Lock()
	current := o.switches[sw.id] == sw
	if current {
		delete(o.switches, sw.id)
	}
	o.mu.Unlock()

	if !errors.Is(err, io.EOF) && ctx.Err() == nil {
		o.log.Warnw("switch connection lost", "switch", sw.id, "error", err)
	}
	if current {
		o.log.Infow("switch disconnected", "switch", sw.id)
		o.publish(network.Event{Kind: network.SwitchRemoved, Switch: sw.id})
	}
}

func (o *OpenFlow) publish(ev network.Event) {
	if o.pub == nil {
		return
	}
	if err := o.pub.Publish(ev); err != nil {
		o.log.Warnw("failed to publish event", "event", ev.String(), "error", err)
	}
}

// handshake exchanges hellos and waits for the features reply that
// carries the datapath id.
func (o *OpenFlow) handshake(conn net.Conn) (*ofSwitch, error) {
	sw := &ofSwitch{conn: conn}

	hello, err := common.NewHello(4)
	if err != nil {
		return nil, err
	}
	if err := sw.send(hello); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	for {
		msg, err := readMessage(conn)
		if err != nil {
			return nil, err
		}
		switch m := msg.(type) {
		case *common.Hello:
			if m.Version < openflow13.VERSION {
				return nil, fmt.Errorf("switch speaks OpenFlow version %d, need %d", m.Version, openflow13.VERSION)
			}
			if err := sw.send(openflow13.NewFeaturesRequest()); err != nil {
				return nil, fmt.Errorf("sending features request: %w", err)
			}
		case *openflow13.SwitchFeatures:
			sw.id = dpidToSwitchID(m.DPID)
			if sw.id == 0 {
				return nil, fmt.Errorf("switch reported datapath id 0")
			}
			return sw, nil
		case *openflow13.ErrorMsg:
			return nil, fmt.Errorf("switch error type=%d code=%d", m.Type, m.Code)
		case *common.Header:
			if m.Type == openflow13.Type_EchoRequest {
				reply := openflow13.NewEchoReply()
				reply.Xid = m.Xid
				if err := sw.send(reply); err != nil {
					return nil, err
				}
			}
		}
	}
}

// receive dispatches messages from an established switch until the
// connection fails.
func (o *OpenFlow) receive(ctx context.Context, sw *ofSwitch) error {
	for {
		msg, err := readMessage(sw.conn)
		if errors.Is(err, errMalformedMessage) {
			o.log.Warnw("skipping malformed message", "switch", sw.id, "error", err)
			continue
		}
		if err != nil {
			return err
		}

		switch m := msg.(type) {
		case *common.Header:
			if m.Type == openflow13.Type_EchoRequest {
				reply := openflow13.NewEchoReply()
				reply.Xid = m.Xid
				if err := sw.send(reply); err != nil {
					return err
				}
			}
		case *openflow13.PacketIn:
			o.packetIn(ctx, sw.id, m)
		case *openflow13.ErrorMsg:
			o.log.Warnw("switch reported error", "switch", sw.id, "type", m.Type, "code", m.Code)
		}
	}
}

func (o *OpenFlow) packetIn(ctx context.Context, sw network.SwitchID, m *openflow13.PacketIn) {
	o.mu.RLock()
	h := o.handler
	o.mu.RUnlock()
	if h == nil {
		return
	}

	inPort, ok := packetInPort(m)
	if !ok {
		o.log.Debugw("packet-in without in_port", "switch", sw)
		return
	}
	frame, err := packet.FromEthernet(&m.Data)
	if err != nil {
		o.log.Debugw("dropping undecodable packet-in", "switch", sw, "port", inPort, "error", err)
		return
	}
	h.HandleFrame(ctx, sw, inPort, frame)
}

// errMalformedMessage marks a message that was framed correctly but could
// not be decoded. The stream is still in sync after one.
var errMalformedMessage = errors.New("malformed OpenFlow message")

// readMessage reads one length-prefixed OpenFlow message.
func readMessage(r io.Reader) (util.Message, error) {
	hdr := make([]byte, ofHeaderLen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	length := int(binary.BigEndian.Uint16(hdr[2:4]))
	if length < ofHeaderLen {
		return nil, fmt.Errorf("invalid message length %d", length)
	}
	buf := make([]byte, length)
	copy(buf, hdr)
	if _, err := io.ReadFull(r, buf[ofHeaderLen:]); err != nil {
		return nil, err
	}
	return parseMessage(buf)
}

// parseMessage decodes one complete message. The decoder indexes into the
// buffer using lengths taken from the packet, so a panic is turned into
// errMalformedMessage.
func parseMessage(buf []byte) (msg util.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			msg, err = nil, fmt.Errorf("%w: type %d: %v", errMalformedMessage, buf[1], r)
		}
	}()

	// Hellos are accepted at any version so negotiation can fail cleanly.
	if buf[1] == openflow13.Type_Hello {
		hello := new(common.Hello)
		if err := hello.UnmarshalBinary(buf); err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformedMessage, err)
		}
		return hello, nil
	}
	if buf[0] != openflow13.VERSION {
		return nil, fmt.Errorf("%w: unexpected OpenFlow version %d", errMalformedMessage, buf[0])
	}
	msg, err = openflow13.Parse(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedMessage, err)
	}
	return msg, nil
}

func (o *OpenFlow) lookup(sw network.SwitchID) (*ofSwitch, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.switches[sw]
	if !ok {
		return nil, fmt.Errorf("%s: %w", sw, network.ErrUnknownSwitch)
	}
	return s, nil
}

// Connected returns the ids of every switch with an open session.
func (o *OpenFlow) Connected() []network.SwitchID {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]network.SwitchID, 0, len(o.switches))
	for id := range o.switches {
		out = append(out, id)
	}
	return out
}

// ─── RuleGateway ────────────────────────────────────────────────────────────

func (o *OpenFlow) InstallRule(_ context.Context, sw network.SwitchID, rule network.Rule) error {
	s, err := o.lookup(sw)
	if err != nil {
		return err
	}
	fm, err := addFlowMod(rule)
	if err != nil {
		return err
	}
	if err := s.send(fm); err != nil {
		return fmt.Errorf("sending flow-mod to %s: %w", sw, err)
	}
	o.log.Debugw("flow installed", "switch", sw, "rule", rule.String())
	return nil
}

func (o *OpenFlow) RemoveRules(_ context.Context, sw network.SwitchID, table uint8, m network.Match) error {
	s, err := o.lookup(sw)
	if err != nil {
		return err
	}
	if err := s.send(deleteFlowMod(table, m)); err != nil {
		return fmt.Errorf("sending flow delete to %s: %w", sw, err)
	}
	o.log.Debugw("flows removed", "switch", sw, "table", table, "match", m.String())
	return nil
}

func (o *OpenFlow) SendPacket(_ context.Context, sw network.SwitchID, port uint32, data []byte) error {
	s, err := o.lookup(sw)
	if err != nil {
		return err
	}
	out, err := packetOut(port, data)
	if err != nil {
		return err
	}
	if err := s.send(out); err != nil {
		return fmt.Errorf("sending packet-out to %s: %w", sw, err)
	}
	return nil
}

func (o *OpenFlow) Capabilities() network.GatewayCapabilities {
	return network.GatewayCapabilities{PacketOut: true, PacketIn: true}
}

// ─── Translation ────────────────────────────────────────────────────────────

func addFlowMod(rule network.Rule) (*openflow13.FlowMod, error) {
	fm := openflow13.NewFlowMod()
	fm.Command = openflow13.FC_ADD
	fm.TableId = rule.Table
	fm.Priority = rule.Priority
	fm.IdleTimeout = rule.IdleTimeout
	fm.HardTimeout = rule.HardTimeout
	fm.Match = ofMatch(rule.Match)

	if len(rule.Actions) > 0 {
		apply := openflow13.NewInstrApplyActions()
		for _, a := range rule.Actions {
			act, err := ofAction(a)
			if err != nil {
				return nil, err
			}
			if err := apply.AddAction(act, false); err != nil {
				return nil, err
			}
		}
		fm.AddInstruction(apply)
	}
	if rule.Goto != nil {
		fm.AddInstruction(openflow13.NewInstrGotoTable(*rule.Goto))
	}
	return fm, nil
}

// deleteFlowMod removes every flow in table whose match is at least as
// specific as m.
func deleteFlowMod(table uint8, m network.Match) *openflow13.FlowMod {
	fm := openflow13.NewFlowMod()
	fm.Command = openflow13.FC_DELETE
	fm.TableId = table
	fm.Match = ofMatch(m)
	return fm
}

// ofMatch emits OXM fields with prerequisites ahead of dependent fields.
func ofMatch(m network.Match) openflow13.Match {
	match := openflow13.NewMatch()
	if m.InPort != 0 {
		match.AddField(*openflow13.NewInPortField(m.InPort))
	}
	if m.EtherType != 0 {
		match.AddField(*openflow13.NewEthTypeField(m.EtherType))
	}
	if m.IPProto != 0 {
		match.AddField(*openflow13.NewIpProtoField(m.IPProto))
	}
	if m.IPv4Src != nil {
		match.AddField(*openflow13.NewIpv4SrcField(m.IPv4Src.To4(), nil))
	}
	if m.IPv4Dst != nil {
		match.AddField(*openflow13.NewIpv4DstField(m.IPv4Dst.To4(), nil))
	}
	if m.TCPSrc != 0 {
		match.AddField(*openflow13.NewTcpSrcField(m.TCPSrc))
	}
	if m.TCPDst != 0 {
		match.AddField(*openflow13.NewTcpDstField(m.TCPDst))
	}
	if m.ARPTargetIP != nil {
		match.AddField(*openflow13.NewArpTpaField(m.ARPTargetIP.To4()))
	}
	return *match
}

func ofAction(a network.Action) (openflow13.Action, error) {
	switch a.Type {
	case network.ActionOutput:
		return openflow13.NewActionOutput(a.Port), nil
	case network.ActionOutputController:
		out := openflow13.NewActionOutput(openflow13.P_CONTROLLER)
		out.MaxLen = openflow13.OFPCML_NO_BUFFER
		return out, nil
	case network.ActionSetEthSrc:
		return openflow13.NewActionSetField(*openflow13.NewEthSrcField(a.MAC, nil)), nil
	case network.ActionSetEthDst:
		return openflow13.NewActionSetField(*openflow13.NewEthDstField(a.MAC, nil)), nil
	case network.ActionSetIPv4Src:
		return openflow13.NewActionSetField(*openflow13.NewIpv4SrcField(a.IP.To4(), nil)), nil
	case network.ActionSetIPv4Dst:
		return openflow13.NewActionSetField(*openflow13.NewIpv4DstField(a.IP.To4(), nil)), nil
	}
	return nil, fmt.Errorf("action %d: %w", a.Type, network.ErrNotSupported)
}

func packetOut(port uint32, data []byte) (*openflow13.PacketOut, error) {
	eth := protocol.NewEthernet()
	if err := eth.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("decoding outbound frame: %w", err)
	}
	out := openflow13.NewPacketOut()
	out.Data = eth
	out.AddAction(openflow13.NewActionOutput(port))
	return out, nil
}

func packetInPort(m *openflow13.PacketIn) (uint32, bool) {
	for _, f := range m.Match.Fields {
		if f.Class != openflow13.OXM_CLASS_OPENFLOW_BASIC || f.Field != openflow13.OXM_FIELD_IN_PORT {
			continue
		}
		if p, ok := f.Value.(*openflow13.InPortField); ok {
			return p.InPort, true
		}
	}
	return 0, false
}

// dpidToSwitchID reads a datapath id as a big-endian integer.
func dpidToSwitchID(dpid net.HardwareAddr) network.SwitchID {
	var id uint64
	for _, b := range dpid {
		id = id<<8 | uint64(b)
	}
	return network.SwitchID(id)
}
