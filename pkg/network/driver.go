package network

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNotSupported is returned when a gateway does not support an operation.
	ErrNotSupported = errors.New("operation not supported by this gateway")

	// ErrUnknownSwitch is returned for operations on a switch the gateway
	// has no connection or bridge for.
	ErrUnknownSwitch = errors.New("unknown switch")

	// ErrNoAdjacency marks an internal inconsistency: the path table named a
	// next hop that no link connects to.
	ErrNoAdjacency = errors.New("no link between adjacent switches")
)

// RuleGateway abstracts the switch-facing side of the controller. Calls are
// fire-and-forget from the core's perspective: a nil error means the command
// was written to the switch, not that the switch applied it.
type RuleGateway interface {
	// InstallRule adds (or replaces, for an identical table/priority/match)
	// a flow entry on sw.
	InstallRule(ctx context.Context, sw SwitchID, rule Rule) error

	// RemoveRules deletes every flow in table whose match is covered by m.
	RemoveRules(ctx context.Context, sw SwitchID, table uint8, m Match) error

	// SendPacket emits a raw Ethernet frame out of port on sw.
	SendPacket(ctx context.Context, sw SwitchID, port uint32, data []byte) error

	Capabilities() GatewayCapabilities
}

// GatewayCapabilities advertises which optional features a gateway supports.
type GatewayCapabilities struct {
	PacketOut bool
	PacketIn  bool
}

// Serialized wraps g so that calls targeting the same switch never
// interleave. Ordering between switches is not constrained.
func Serialized(g RuleGateway) RuleGateway {
	return &serialGateway{next: g, locks: make(map[SwitchID]*sync.Mutex)}
}

type serialGateway struct {
	next RuleGateway

	mu    sync.Mutex
	locks map[SwitchID]*sync.Mutex
}

func (s *serialGateway) lock(sw SwitchID) func() {
	s.mu.Lock()
	l, ok := s.locks[sw]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sw] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (s *serialGateway) InstallRule(ctx context.Context, sw SwitchID, rule Rule) error {
	defer s.lock(sw)()
	return s.next.InstallRule(ctx, sw, rule)
}

func (s *serialGateway) RemoveRules(ctx context.Context, sw SwitchID, table uint8, m Match) error {
	defer s.lock(sw)()
	return s.next.RemoveRules(ctx, sw, table, m)
}

func (s *serialGateway) SendPacket(ctx context.Context, sw SwitchID, port uint32, data []byte) error {
	defer s.lock(sw)()
	return s.next.SendPacket(ctx, sw, port, data)
}

func (s *serialGateway) Capabilities() GatewayCapabilities {
	return s.next.Capabilities()
}
