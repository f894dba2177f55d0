package driver

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/glennswest/sdnctl/pkg/network"
)

// Memory implements network.RuleGateway with in-process flow tables. It
// follows OpenFlow semantics closely enough to stand in for a switch: an
// install with the same table, priority and match replaces the existing
// entry, and deletes are non-strict.
type Memory struct {
	log *zap.SugaredLogger

	mu      sync.Mutex
	flows   map[network.SwitchID][]network.Rule
	packets []SentPacket
	ops     []Op
	fail    map[network.SwitchID]error
}

// SentPacket is a frame handed to SendPacket.
type SentPacket struct {
	Switch network.SwitchID
	Port   uint32
	Data   []byte
}

// OpKind distinguishes recorded gateway calls.
type OpKind int

const (
	OpInstall OpKind = iota
	OpRemove
	OpSend
)

// Op is one recorded gateway call, kept in call order.
type Op struct {
	Kind   OpKind
	Switch network.SwitchID
	Table  uint8
	Match  network.Match
}

// NewMemory returns an empty in-memory gateway.
func NewMemory(log *zap.SugaredLogger) *Memory {
	return &Memory{
		log:   log.Named("memory-driver"),
		flows: make(map[network.SwitchID][]network.Rule),
		fail:  make(map[network.SwitchID]error),
	}
}

// ─── RuleGateway ────────────────────────────────────────────────────────────

func (d *Memory) InstallRule(_ context.Context, sw network.SwitchID, rule network.Rule) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.fail[sw]; err != nil {
		return err
	}
	d.ops = append(d.ops, Op{Kind: OpInstall, Switch: sw, Table: rule.Table, Match: rule.Match})

	table := d.flows[sw]
	for i, existing := range table {
		if existing.Table == rule.Table && existing.Priority == rule.Priority && existing.Match.Equal(rule.Match) {
			table[i] = rule
			d.log.Debugw("flow replaced", "switch", sw, "rule", rule)
			return nil
		}
	}
	d.flows[sw] = append(table, rule)
	d.log.Debugw("flow added", "switch", sw, "rule", rule)
	return nil
}

func (d *Memory) RemoveRules(_ context.Context, sw network.SwitchID, table uint8, m network.Match) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.fail[sw]; err != nil {
		return err
	}
	d.ops = append(d.ops, Op{Kind: OpRemove, Switch: sw, Table: table, Match: m})

	kept := d.flows[sw][:0]
	removed := 0
	for _, r := range d.flows[sw] {
		if r.Table == table && m.Covers(r.Match) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	d.flows[sw] = kept
	if removed > 0 {
		d.log.Debugw("flows removed", "switch", sw, "table", table, "match", m, "count", removed)
	}
	return nil
}

func (d *Memory) SendPacket(_ context.Context, sw network.SwitchID, port uint32, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.fail[sw]; err != nil {
		return err
	}
	d.ops = append(d.ops, Op{Kind: OpSend, Switch: sw})

	buf := make([]byte, len(data))
	copy(buf, data)
	d.packets = append(d.packets, SentPacket{Switch: sw, Port: port, Data: buf})
	return nil
}

func (d *Memory) Capabilities() network.GatewayCapabilities {
	return network.GatewayCapabilities{PacketOut: true}
}

// ─── Inspection ─────────────────────────────────────────────────────────────

// Rules returns the flows installed on sw, ordered by table then
// descending priority.
func (d *Memory) Rules(sw network.SwitchID) []network.Rule {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]network.Rule, len(d.flows[sw]))
	copy(out, d.flows[sw])
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Table != out[j].Table {
			return out[i].Table < out[j].Table
		}
		return out[i].Priority > out[j].Priority
	})
	return out
}

// Lookup returns the flow on sw with exactly this table, priority and match.
func (d *Memory) Lookup(sw network.SwitchID, table uint8, priority uint16, m network.Match) (network.Rule, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, r := range d.flows[sw] {
		if r.Table == table && r.Priority == priority && r.Match.Equal(m) {
			return r, true
		}
	}
	return network.Rule{}, false
}

// Switches returns every switch that has at least one flow.
func (d *Memory) Switches() []network.SwitchID {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []network.SwitchID
	for sw, rules := range d.flows {
		if len(rules) > 0 {
			out = append(out, sw)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Packets returns every frame sent so far.
func (d *Memory) Packets() []SentPacket {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]SentPacket, len(d.packets))
	copy(out, d.packets)
	return out
}

// Ops returns the recorded call log.
func (d *Memory) Ops() []Op {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Op, len(d.ops))
	copy(out, d.ops)
	return out
}

// FailSwitch makes every call targeting sw return err. A nil err clears it.
func (d *Memory) FailSwitch(sw network.SwitchID, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err == nil {
		delete(d.fail, sw)
		return
	}
	d.fail[sw] = err
}

// Reset drops all flows, packets and recorded calls.
func (d *Memory) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.flows = make(map[network.SwitchID][]network.Rule)
	d.packets = nil
	d.ops = nil
}
