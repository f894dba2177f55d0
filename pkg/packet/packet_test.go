package packet

import (
	"encoding/binary"
	"errors"
	"net"
	"testing"
)

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	if err != nil {
		t.Fatalf("ParseMAC(%s): %v", s, err)
	}
	return mac
}

// tcpFrame hand-assembles an Ethernet/IPv4/TCP frame.
func tcpFrame(src, dst net.HardwareAddr, sip, dip net.IP, sport, dport uint16, flags uint8) []byte {
	b := make([]byte, 14+20+20)
	copy(b[0:6], dst)
	copy(b[6:12], src)
	binary.BigEndian.PutUint16(b[12:14], 0x0800)

	ip := b[14:34]
	ip[0] = 0x45
	binary.BigEndian.PutUint16(ip[2:4], 40)
	ip[8] = 64
	ip[9] = 6
	copy(ip[12:16], sip.To4())
	copy(ip[16:20], dip.To4())

	tcp := b[34:54]
	binary.BigEndian.PutUint16(tcp[0:2], sport)
	binary.BigEndian.PutUint16(tcp[2:4], dport)
	tcp[12] = 5 << 4
	tcp[13] = flags
	binary.BigEndian.PutUint16(tcp[14:16], 1024)
	return b
}

func TestDecodeTCPSyn(t *testing.T) {
	client := mustMAC(t, "00:00:00:00:00:01")
	vmac := mustMAC(t, "02:00:00:00:00:aa")
	raw := tcpFrame(client, vmac, net.ParseIP("10.0.0.1"), net.ParseIP("10.0.100.1"), 40000, 80, TCPFlagSYN)

	f, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.EtherType != 0x0800 {
		t.Fatalf("expected IPv4 ethertype, got 0x%04x", f.EtherType)
	}
	if f.IPv4 == nil || f.TCP == nil {
		t.Fatalf("expected IPv4 and TCP headers, got %+v", f)
	}
	if !f.IPv4.Src.Equal(net.ParseIP("10.0.0.1")) || !f.IPv4.Dst.Equal(net.ParseIP("10.0.100.1")) {
		t.Errorf("unexpected addresses %s -> %s", f.IPv4.Src, f.IPv4.Dst)
	}
	if f.TCP.SrcPort != 40000 || f.TCP.DstPort != 80 {
		t.Errorf("unexpected ports %d -> %d", f.TCP.SrcPort, f.TCP.DstPort)
	}
	if !f.IsTCPSYN() {
		t.Error("expected SYN to be detected")
	}
	if f.IsARPRequest() {
		t.Error("TCP frame reported as ARP request")
	}
}

func TestDecodeTCPAckIsNotSyn(t *testing.T) {
	raw := tcpFrame(mustMAC(t, "00:00:00:00:00:01"), mustMAC(t, "00:00:00:00:00:02"),
		net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2"), 40000, 80, TCPFlagACK)

	f, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.IsTCPSYN() {
		t.Error("ACK-only segment reported as SYN")
	}
}

func TestARPReplyRoundTrip(t *testing.T) {
	requester := mustMAC(t, "00:00:00:00:00:01")
	vmac := mustMAC(t, "02:00:00:00:00:aa")
	vip := net.ParseIP("10.0.100.1")

	request := &Frame{
		SrcMAC:    requester,
		DstMAC:    mustMAC(t, "ff:ff:ff:ff:ff:ff"),
		EtherType: 0x0806,
		ARP: &ARP{
			Operation: ARPOpRequest,
			SenderMAC: requester,
			SenderIP:  net.ParseIP("10.0.0.1").To4(),
			TargetMAC: mustMAC(t, "00:00:00:00:00:00"),
			TargetIP:  vip.To4(),
		},
	}

	raw, err := ARPReply(request, vmac, vip)
	if err != nil {
		t.Fatalf("ARPReply: %v", err)
	}

	reply, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if reply.ARP == nil {
		t.Fatalf("expected ARP payload, got %+v", reply)
	}
	if reply.ARP.Operation != ARPOpReply {
		t.Errorf("expected reply opcode, got %d", reply.ARP.Operation)
	}
	if reply.ARP.SenderMAC.String() != vmac.String() {
		t.Errorf("sender MAC = %s, want %s", reply.ARP.SenderMAC, vmac)
	}
	if !reply.ARP.SenderIP.Equal(vip) {
		t.Errorf("sender IP = %s, want %s", reply.ARP.SenderIP, vip)
	}
	if reply.ARP.TargetMAC.String() != requester.String() {
		t.Errorf("target MAC = %s, want %s", reply.ARP.TargetMAC, requester)
	}
	if !reply.ARP.TargetIP.Equal(net.ParseIP("10.0.0.1")) {
		t.Errorf("target IP = %s, want 10.0.0.1", reply.ARP.TargetIP)
	}
	if reply.DstMAC.String() != requester.String() || reply.SrcMAC.String() != vmac.String() {
		t.Errorf("ethernet addressing %s -> %s", reply.SrcMAC, reply.DstMAC)
	}
}

func TestARPReplyRejectsNonARP(t *testing.T) {
	if _, err := ARPReply(&Frame{}, nil, nil); err == nil {
		t.Error("expected error for non-ARP request")
	}
}

func TestDecodeTruncatedTCP(t *testing.T) {
	raw := tcpFrame(mustMAC(t, "00:00:00:00:00:01"), mustMAC(t, "00:00:00:00:00:02"),
		net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2"), 1, 2, TCPFlagSYN)
	if _, err := Decode(raw[:14+20+8]); err == nil {
		t.Error("expected error for truncated TCP header")
	}
}

func TestDecodeBadIPv4HeaderLength(t *testing.T) {
	raw := tcpFrame(mustMAC(t, "00:00:00:00:00:01"), mustMAC(t, "00:00:00:00:00:02"),
		net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2"), 1, 2, TCPFlagSYN)
	for _, ihl := range []byte{0, 3, 15} {
		raw[14] = 0x40 | ihl
		f, err := Decode(raw)
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("IHL %d: got %v, want ErrMalformed", ihl, err)
		}
		if f != nil {
			t.Errorf("IHL %d: frame returned alongside error", ihl)
		}
	}
}
