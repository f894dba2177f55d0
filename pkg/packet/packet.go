// Package packet decodes the frames switches punt to the controller and
// builds the few frames the controller originates.
package packet

import (
	"errors"
	"fmt"
	"net"

	"github.com/contiv/libOpenflow/protocol"
)

// TCP header flag bits.
const (
	TCPFlagFIN uint8 = 0x01
	TCPFlagSYN uint8 = 0x02
	TCPFlagRST uint8 = 0x04
	TCPFlagACK uint8 = 0x10
)

// ARP operations.
const (
	ARPOpRequest uint16 = protocol.Type_Request
	ARPOpReply   uint16 = protocol.Type_Reply
)

const (
	etherTypeARP = 0x0806
	ipProtoTCP   = 0x06
)

// ErrMalformed is returned for frames whose headers contradict their own
// lengths.
var ErrMalformed = errors.New("malformed frame")

// Frame is the controller's view of a packet: just the headers it acts on.
type Frame struct {
	SrcMAC    net.HardwareAddr
	DstMAC    net.HardwareAddr
	EtherType uint16

	ARP  *ARP
	IPv4 *IPv4
	TCP  *TCP
}

// ARP holds the fields of an Ethernet/IPv4 ARP message.
type ARP struct {
	Operation uint16
	SenderMAC net.HardwareAddr
	SenderIP  net.IP
	TargetMAC net.HardwareAddr
	TargetIP  net.IP
}

// IPv4 holds the addressing fields of an IPv4 header.
type IPv4 struct {
	Src      net.IP
	Dst      net.IP
	Protocol uint8
}

// TCP holds the port and flag fields of a TCP header.
type TCP struct {
	SrcPort uint16
	DstPort uint16
	Flags   uint8
}

// SYN reports whether the SYN flag is set.
func (t *TCP) SYN() bool { return t.Flags&TCPFlagSYN != 0 }

// IsARPRequest reports whether f is an ARP request.
func (f *Frame) IsARPRequest() bool {
	return f.ARP != nil && f.ARP.Operation == ARPOpRequest
}

// IsTCPSYN reports whether f is an IPv4 TCP segment with SYN set.
func (f *Frame) IsTCPSYN() bool {
	return f.IPv4 != nil && f.TCP != nil && f.TCP.SYN()
}

// recoverMalformed converts a decoder panic into ErrMalformed.
func recoverMalformed(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %v", ErrMalformed, r)
	}
}

// Decode parses a raw Ethernet frame.
func Decode(data []byte) (f *Frame, err error) {
	defer recoverMalformed(&err)

	eth := protocol.NewEthernet()
	if err := eth.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("decoding ethernet frame: %w", err)
	}
	return FromEthernet(eth)
}

// FromEthernet converts a frame already parsed by the OpenFlow library.
func FromEthernet(eth *protocol.Ethernet) (f *Frame, err error) {
	defer recoverMalformed(&err)

	f = &Frame{
		SrcMAC:    eth.HWSrc,
		DstMAC:    eth.HWDst,
		EtherType: eth.Ethertype,
	}

	switch payload := eth.Data.(type) {
	case *protocol.ARP:
		f.ARP = &ARP{
			Operation: payload.Operation,
			SenderMAC: payload.HWSrc,
			SenderIP:  payload.IPSrc.To4(),
			TargetMAC: payload.HWDst,
			TargetIP:  payload.IPDst.To4(),
		}
	case *protocol.IPv4:
		f.IPv4 = &IPv4{
			Src:      payload.NWSrc.To4(),
			Dst:      payload.NWDst.To4(),
			Protocol: payload.Protocol,
		}
		if payload.Protocol == ipProtoTCP && payload.Data != nil {
			raw, err := payload.Data.MarshalBinary()
			if err != nil {
				return nil, fmt.Errorf("reading TCP payload: %w", err)
			}
			tcp := protocol.NewTCP()
			if err := tcp.UnmarshalBinary(raw); err != nil {
				return nil, fmt.Errorf("decoding TCP header: %w", err)
			}
			f.TCP = &TCP{SrcPort: tcp.PortSrc, DstPort: tcp.PortDst, Flags: tcp.Code}
		}
	}
	return f, nil
}

// ARPReply builds the Ethernet-encoded answer to request claiming that mac
// owns ip. The reply is addressed to the requester's source MAC.
func ARPReply(request *Frame, mac net.HardwareAddr, ip net.IP) ([]byte, error) {
	if request == nil || request.ARP == nil {
		return nil, errors.New("not an ARP frame")
	}

	arp, err := protocol.NewARP(protocol.Type_Reply)
	if err != nil {
		return nil, err
	}
	arp.HWSrc = mac
	arp.IPSrc = ip.To4()
	arp.HWDst = request.ARP.SenderMAC
	arp.IPDst = request.ARP.SenderIP.To4()

	eth := protocol.NewEthernet()
	eth.HWDst = request.SrcMAC
	eth.HWSrc = mac
	eth.Ethertype = etherTypeARP
	eth.Data = arp

	return eth.MarshalBinary()
}
