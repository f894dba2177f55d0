package topology

import (
	"github.com/glennswest/sdnctl/pkg/network"
)

// Graph is an immutable view of the switch/link set. Links referencing
// switches outside the switch set are dropped.
type Graph struct {
	switches []network.SwitchID
	index    map[network.SwitchID]int
	links    []network.Link
}

// NewGraph builds a Graph. The inputs are copied; links are put in
// canonical order so every consumer enumerates them identically.
func NewGraph(switches []network.SwitchID, links []network.Link) *Graph {
	g := &Graph{index: make(map[network.SwitchID]int, len(switches))}
	for _, sw := range switches {
		if _, dup := g.index[sw]; dup {
			continue
		}
		g.index[sw] = len(g.switches)
		g.switches = append(g.switches, sw)
	}
	for _, l := range links {
		if l.ToHost() {
			continue
		}
		_, srcOK := g.index[l.Src]
		_, dstOK := g.index[l.Dst]
		if srcOK && dstOK && l.Src != l.Dst {
			g.links = append(g.links, l)
		}
	}
	SortLinks(g.links)
	return g
}

// Switches returns the switches in the graph.
func (g *Graph) Switches() []network.SwitchID {
	out := make([]network.SwitchID, len(g.switches))
	copy(out, g.switches)
	return out
}

// Links returns the links in canonical order.
func (g *Graph) Links() []network.Link {
	out := make([]network.Link, len(g.links))
	copy(out, g.links)
	return out
}

// Len returns the number of switches.
func (g *Graph) Len() int { return len(g.switches) }

// Has reports whether sw is part of the graph.
func (g *Graph) Has(sw network.SwitchID) bool {
	_, ok := g.index[sw]
	return ok
}

// Index returns the dense position of sw, used by array-backed algorithms.
func (g *Graph) Index(sw network.SwitchID) (int, bool) {
	i, ok := g.index[sw]
	return i, ok
}

// PortToward returns the port on from's side of a link between from and
// to, checking both link directions. The first matching link wins.
func (g *Graph) PortToward(from, to network.SwitchID) (uint32, bool) {
	for _, l := range g.links {
		if l.Src == from && l.Dst == to {
			return l.SrcPort, true
		}
		if l.Src == to && l.Dst == from {
			return l.DstPort, true
		}
	}
	return 0, false
}

// Neighbors returns the switches adjacent to sw in either direction.
func (g *Graph) Neighbors(sw network.SwitchID) []network.SwitchID {
	seen := make(map[network.SwitchID]bool)
	var out []network.SwitchID
	for _, l := range g.links {
		var n network.SwitchID
		switch sw {
		case l.Src:
			n = l.Dst
		case l.Dst:
			n = l.Src
		default:
			continue
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
