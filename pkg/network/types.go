package network

import (
	"fmt"
	"net"
	"strconv"
)

// SwitchID is the 64-bit datapath identifier of an OpenFlow switch.
type SwitchID uint64

func (id SwitchID) String() string {
	return "s" + strconv.FormatUint(uint64(id), 10)
}

// ParseSwitchID accepts either "s<n>" or a bare decimal/hex datapath id.
func ParseSwitchID(s string) (SwitchID, error) {
	if len(s) > 1 && s[0] == 's' {
		s = s[1:]
	}
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid switch id %q: %w", s, err)
	}
	return SwitchID(n), nil
}

// Link is a directed adjacency between two switch ports as reported by link
// discovery. Dst == 0 marks a switch-to-host link.
type Link struct {
	Src     SwitchID `json:"src" yaml:"src"`
	SrcPort uint32   `json:"srcPort" yaml:"srcPort"`
	Dst     SwitchID `json:"dst" yaml:"dst"`
	DstPort uint32   `json:"dstPort" yaml:"dstPort"`
}

// ToHost reports whether only the switch side of the link is known.
func (l Link) ToHost() bool { return l.Dst == 0 }

// Reverse returns the paired record for the opposite direction.
func (l Link) Reverse() Link {
	return Link{Src: l.Dst, SrcPort: l.DstPort, Dst: l.Src, DstPort: l.SrcPort}
}

func (l Link) String() string {
	if l.ToHost() {
		return fmt.Sprintf("%s:%d -> host", l.Src, l.SrcPort)
	}
	return fmt.Sprintf("%s:%d -> %s:%d", l.Src, l.SrcPort, l.Dst, l.DstPort)
}

// LinkUpdate is one entry of a batched link-discovery notification.
type LinkUpdate struct {
	Link    Link `json:"link" yaml:"link"`
	Removed bool `json:"removed" yaml:"removed"`
}

// AttachmentPoint is a switch port a device was last seen on.
type AttachmentPoint struct {
	Switch SwitchID `json:"switch" yaml:"switch"`
	Port   uint32   `json:"port" yaml:"port"`
}

// Device is the device tracker's view of an end host.
type Device struct {
	ID               string            `json:"id" yaml:"id"`
	MAC              net.HardwareAddr  `json:"mac" yaml:"-"`
	IPv4             []net.IP          `json:"ipv4" yaml:"-"`
	AttachmentPoints []AttachmentPoint `json:"attachmentPoints" yaml:"attachmentPoints"`
}

// Host is a tracked end device with a known IPv4 address.
type Host struct {
	DeviceID string           `json:"deviceId"`
	Name     string           `json:"name"`
	MAC      net.HardwareAddr `json:"mac"`
	IP       net.IP           `json:"ip"`
	Switch   SwitchID         `json:"switch"`
	Port     uint32           `json:"port"`
	Attached bool             `json:"attached"`
}

// HostFromDevice builds a Host from the first IPv4 address and first
// attachment point of dev. It returns false when dev has no IPv4 address.
func HostFromDevice(dev Device) (Host, bool) {
	var ip net.IP
	for _, candidate := range dev.IPv4 {
		if v4 := candidate.To4(); v4 != nil {
			ip = v4
			break
		}
	}
	if ip == nil {
		return Host{}, false
	}

	h := Host{
		DeviceID: dev.ID,
		Name:     hostName(dev.MAC),
		MAC:      dev.MAC,
		IP:       ip,
	}
	if len(dev.AttachmentPoints) > 0 && dev.AttachmentPoints[0].Switch != 0 {
		h.Switch = dev.AttachmentPoints[0].Switch
		h.Port = dev.AttachmentPoints[0].Port
		h.Attached = true
	}
	return h, true
}

// hostName renders the MAC as a decimal number, e.g. "h1" for 00:00:00:00:00:01.
func hostName(mac net.HardwareAddr) string {
	var n uint64
	for _, b := range mac {
		n = n<<8 | uint64(b)
	}
	return "h" + strconv.FormatUint(n, 10)
}

// ─── Flow Rules ─────────────────────────────────────────────────────────────

// Rule priorities. Connection rules sit above the virtual-IP interception
// rules; the catch-all delegation rule sits below everything.
const (
	PriorityDefault    uint16 = 1
	PriorityCatchAll          = PriorityDefault - 1
	PriorityConnection        = PriorityDefault + 1
)

// NoTimeout disables idle or hard expiry on a rule.
const NoTimeout uint16 = 0

// EtherType values used in matches.
const (
	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeARP  uint16 = 0x0806
)

// IPProtoTCP is the IPv4 protocol number of TCP.
const IPProtoTCP uint8 = 6

// Match selects packets. Zero-valued fields are wildcards.
type Match struct {
	InPort      uint32 `json:"inPort,omitempty"`
	EtherType   uint16 `json:"etherType,omitempty"`
	IPv4Src     net.IP `json:"ipv4Src,omitempty"`
	IPv4Dst     net.IP `json:"ipv4Dst,omitempty"`
	IPProto     uint8  `json:"ipProto,omitempty"`
	TCPSrc      uint16 `json:"tcpSrc,omitempty"`
	TCPDst      uint16 `json:"tcpDst,omitempty"`
	ARPTargetIP net.IP `json:"arpTpa,omitempty"`
}

// Equal reports whether both matches select exactly the same packets.
func (m Match) Equal(o Match) bool {
	return m.InPort == o.InPort &&
		m.EtherType == o.EtherType &&
		ipEqual(m.IPv4Src, o.IPv4Src) &&
		ipEqual(m.IPv4Dst, o.IPv4Dst) &&
		m.IPProto == o.IPProto &&
		m.TCPSrc == o.TCPSrc &&
		m.TCPDst == o.TCPDst &&
		ipEqual(m.ARPTargetIP, o.ARPTargetIP)
}

// Covers reports whether every field constrained by m is constrained to the
// same value in o. This is the OpenFlow non-strict delete relation.
func (m Match) Covers(o Match) bool {
	if m.InPort != 0 && m.InPort != o.InPort {
		return false
	}
	if m.EtherType != 0 && m.EtherType != o.EtherType {
		return false
	}
	if m.IPv4Src != nil && !ipEqual(m.IPv4Src, o.IPv4Src) {
		return false
	}
	if m.IPv4Dst != nil && !ipEqual(m.IPv4Dst, o.IPv4Dst) {
		return false
	}
	if m.IPProto != 0 && m.IPProto != o.IPProto {
		return false
	}
	if m.TCPSrc != 0 && m.TCPSrc != o.TCPSrc {
		return false
	}
	if m.TCPDst != 0 && m.TCPDst != o.TCPDst {
		return false
	}
	if m.ARPTargetIP != nil && !ipEqual(m.ARPTargetIP, o.ARPTargetIP) {
		return false
	}
	return true
}

func (m Match) String() string {
	s := ""
	add := func(k, v string) {
		if s != "" {
			s += ","
		}
		s += k + "=" + v
	}
	if m.InPort != 0 {
		add("in_port", strconv.FormatUint(uint64(m.InPort), 10))
	}
	if m.EtherType != 0 {
		add("eth_type", fmt.Sprintf("0x%04x", m.EtherType))
	}
	if m.IPv4Src != nil {
		add("ip_src", m.IPv4Src.String())
	}
	if m.IPv4Dst != nil {
		add("ip_dst", m.IPv4Dst.String())
	}
	if m.IPProto != 0 {
		add("ip_proto", strconv.Itoa(int(m.IPProto)))
	}
	if m.TCPSrc != 0 {
		add("tcp_src", strconv.Itoa(int(m.TCPSrc)))
	}
	if m.TCPDst != 0 {
		add("tcp_dst", strconv.Itoa(int(m.TCPDst)))
	}
	if m.ARPTargetIP != nil {
		add("arp_tpa", m.ARPTargetIP.String())
	}
	if s == "" {
		return "*"
	}
	return s
}

func ipEqual(a, b net.IP) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(b)
}

// ActionType enumerates the rule actions the controller emits.
type ActionType int

const (
	ActionOutput ActionType = iota
	ActionOutputController
	ActionSetEthSrc
	ActionSetEthDst
	ActionSetIPv4Src
	ActionSetIPv4Dst
)

// Action is a single apply-actions entry.
type Action struct {
	Type ActionType       `json:"type"`
	Port uint32           `json:"port,omitempty"`
	MAC  net.HardwareAddr `json:"mac,omitempty"`
	IP   net.IP           `json:"ip,omitempty"`
}

// Output forwards the packet out of port.
func Output(port uint32) Action { return Action{Type: ActionOutput, Port: port} }

// OutputController punts the packet to the controller.
func OutputController() Action { return Action{Type: ActionOutputController} }

// SetEthSrc rewrites the Ethernet source address.
func SetEthSrc(mac net.HardwareAddr) Action { return Action{Type: ActionSetEthSrc, MAC: mac} }

// SetEthDst rewrites the Ethernet destination address.
func SetEthDst(mac net.HardwareAddr) Action { return Action{Type: ActionSetEthDst, MAC: mac} }

// SetIPv4Src rewrites the IPv4 source address.
func SetIPv4Src(ip net.IP) Action { return Action{Type: ActionSetIPv4Src, IP: ip} }

// SetIPv4Dst rewrites the IPv4 destination address.
func SetIPv4Dst(ip net.IP) Action { return Action{Type: ActionSetIPv4Dst, IP: ip} }

func (a Action) String() string {
	switch a.Type {
	case ActionOutput:
		return "output:" + strconv.FormatUint(uint64(a.Port), 10)
	case ActionOutputController:
		return "CONTROLLER"
	case ActionSetEthSrc:
		return "set_field:" + a.MAC.String() + "->eth_src"
	case ActionSetEthDst:
		return "set_field:" + a.MAC.String() + "->eth_dst"
	case ActionSetIPv4Src:
		return "set_field:" + a.IP.String() + "->ip_src"
	case ActionSetIPv4Dst:
		return "set_field:" + a.IP.String() + "->ip_dst"
	}
	return "unknown"
}

// Rule is a flow entry to install on one switch table. Goto, when set,
// continues lookup in that table after the actions are applied.
type Rule struct {
	Table       uint8    `json:"table"`
	Priority    uint16   `json:"priority"`
	Match       Match    `json:"match"`
	Actions     []Action `json:"actions,omitempty"`
	Goto        *uint8   `json:"goto,omitempty"`
	IdleTimeout uint16   `json:"idleTimeout,omitempty"`
	HardTimeout uint16   `json:"hardTimeout,omitempty"`
}

// GotoTable returns a pointer suitable for Rule.Goto.
func GotoTable(table uint8) *uint8 { return &table }

func (r Rule) String() string {
	s := fmt.Sprintf("table=%d,priority=%d,%s,actions=", r.Table, r.Priority, r.Match)
	for i, a := range r.Actions {
		if i > 0 {
			s += ","
		}
		s += a.String()
	}
	if r.Goto != nil {
		if len(r.Actions) > 0 {
			s += ","
		}
		s += fmt.Sprintf("goto_table:%d", *r.Goto)
	}
	if r.IdleTimeout != 0 {
		s += fmt.Sprintf(",idle_timeout=%d", r.IdleTimeout)
	}
	if r.HardTimeout != 0 {
		s += fmt.Sprintf(",hard_timeout=%d", r.HardTimeout)
	}
	return s
}
