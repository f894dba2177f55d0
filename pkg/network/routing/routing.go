// Package routing computes shortest-path next hops between every pair of
// switches in a topology snapshot.
package routing

import (
	"math"
	"sort"

	"github.com/glennswest/sdnctl/pkg/network"
	"github.com/glennswest/sdnctl/pkg/network/topology"
)

// infinity marks an unreached switch. One below MaxInt32 so that
// infinity+1 cannot overflow.
const infinity = math.MaxInt32 - 1

// Options tune ComputePaths.
type Options struct {
	// SinglePass stops relaxation after one pass over the links. Paths
	// that need later passes to settle are left incomplete or longer than
	// necessary; only useful for comparison.
	SinglePass bool
}

type key struct {
	dst network.SwitchID
	src network.SwitchID
}

// PathTable maps (dst, src) to the neighbour src forwards through on a
// shortest path toward dst. It is never modified after ComputePaths returns.
type PathTable struct {
	next     map[key]network.SwitchID
	dist     map[key]int
	switches []network.SwitchID
	known    map[network.SwitchID]struct{}
}

// Entry is one row of a PathTable, as exposed by the API and CLI.
type Entry struct {
	Dst      network.SwitchID `json:"dst" yaml:"dst"`
	Src      network.SwitchID `json:"src" yaml:"src"`
	NextHop  network.SwitchID `json:"nextHop" yaml:"nextHop"`
	Distance int              `json:"distance" yaml:"distance"`
}

// ComputePaths runs Bellman-Ford from every switch of g. Links are treated
// as undirected with unit cost and relaxed in canonical order, so equal-cost
// ties always resolve the same way for the same graph.
func ComputePaths(g *topology.Graph) *PathTable {
	return ComputePathsWithOptions(g, Options{})
}

// ComputePathsWithOptions is ComputePaths with explicit options.
func ComputePathsWithOptions(g *topology.Graph, opts Options) *PathTable {
	switches := g.Switches()
	links := g.Links()
	n := len(switches)

	pt := &PathTable{
		next:     make(map[key]network.SwitchID),
		dist:     make(map[key]int),
		switches: switches,
		known:    make(map[network.SwitchID]struct{}, n),
	}
	for _, sw := range switches {
		pt.known[sw] = struct{}{}
	}
	if n == 0 {
		return pt
	}

	// Pre-resolve link endpoints to dense indexes.
	type edge struct{ u, v int }
	edges := make([]edge, 0, len(links))
	for _, l := range links {
		u, _ := g.Index(l.Src)
		v, _ := g.Index(l.Dst)
		edges = append(edges, edge{u, v})
	}

	passes := n - 1
	if opts.SinglePass {
		passes = 1
	}

	dist := make([]int, n)
	pred := make([]int, n)
	for root := 0; root < n; root++ {
		for i := range dist {
			dist[i] = infinity
			pred[i] = -1
		}
		dist[root] = 0

		for pass := 0; pass < passes; pass++ {
			changed := false
			for _, e := range edges {
				if dist[e.u]+1 < dist[e.v] {
					dist[e.v] = dist[e.u] + 1
					pred[e.v] = e.u
					changed = true
				}
				if dist[e.v]+1 < dist[e.u] {
					dist[e.u] = dist[e.v] + 1
					pred[e.u] = e.v
					changed = true
				}
			}
			if !changed {
				break
			}
		}

		// pred[v] is v's neighbour on the way back to root.
		dst := switches[root]
		for v := 0; v < n; v++ {
			if v == root || pred[v] < 0 {
				continue
			}
			k := key{dst: dst, src: switches[v]}
			pt.next[k] = switches[pred[v]]
			pt.dist[k] = dist[v]
		}
	}
	return pt
}

// NextHop returns the neighbour a packet at src must be forwarded to on its
// way to dst. False means the pair is disconnected or not a pair at all.
func (p *PathTable) NextHop(dst, src network.SwitchID) (network.SwitchID, bool) {
	if p == nil {
		return 0, false
	}
	hop, ok := p.next[key{dst: dst, src: src}]
	return hop, ok
}

// Distance returns the hop count between from and to.
func (p *PathTable) Distance(from, to network.SwitchID) (int, bool) {
	if p == nil {
		return 0, false
	}
	if from == to {
		return 0, p.has(from)
	}
	d, ok := p.dist[key{dst: to, src: from}]
	return d, ok
}

// Path returns the switches visited travelling from one switch to another,
// both ends included. Nil means no path.
func (p *PathTable) Path(from, to network.SwitchID) []network.SwitchID {
	if p == nil || !p.has(from) || !p.has(to) {
		return nil
	}
	path := []network.SwitchID{from}
	cur := from
	for i := 0; cur != to; i++ {
		if i >= len(p.switches) {
			return nil
		}
		hop, ok := p.NextHop(to, cur)
		if !ok {
			return nil
		}
		path = append(path, hop)
		cur = hop
	}
	return path
}

// Switches returns the switches the table was computed over.
func (p *PathTable) Switches() []network.SwitchID {
	if p == nil {
		return nil
	}
	out := make([]network.SwitchID, len(p.switches))
	copy(out, p.switches)
	return out
}

// Len returns the number of (dst, src) entries.
func (p *PathTable) Len() int {
	if p == nil {
		return 0
	}
	return len(p.next)
}

// Entries returns every entry sorted by (Src, Dst).
func (p *PathTable) Entries() []Entry {
	if p == nil {
		return nil
	}
	out := make([]Entry, 0, len(p.next))
	for k, hop := range p.next {
		out = append(out, Entry{Dst: k.dst, Src: k.src, NextHop: hop, Distance: p.dist[k]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Src != out[j].Src {
			return out[i].Src < out[j].Src
		}
		return out[i].Dst < out[j].Dst
	})
	return out
}

func (p *PathTable) has(sw network.SwitchID) bool {
	_, ok := p.known[sw]
	return ok
}
