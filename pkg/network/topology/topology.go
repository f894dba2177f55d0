package topology

import (
	"sort"
	"sync"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/glennswest/sdnctl/pkg/network"
)

// Topology tracks the switches and inter-switch links currently known to
// the controller. It is fed by the discovery adapters and read by the
// routing engine through Snapshot.
type Topology struct {
	mu       sync.RWMutex
	switches sets.Set[network.SwitchID]
	links    map[network.Link]struct{}
}

// New returns an empty Topology.
func New() *Topology {
	return &Topology{
		switches: sets.New[network.SwitchID](),
		links:    make(map[network.Link]struct{}),
	}
}

// AddSwitch registers a switch. Returns false if it was already known.
func (t *Topology) AddSwitch(id network.SwitchID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.switches.Has(id) {
		return false
	}
	t.switches.Insert(id)
	return true
}

// RemoveSwitch unregisters a switch and drops every link touching it.
func (t *Topology) RemoveSwitch(id network.SwitchID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.switches.Has(id) {
		return false
	}
	t.switches.Delete(id)
	for l := range t.links {
		if l.Src == id || l.Dst == id {
			delete(t.links, l)
		}
	}
	return true
}

// ApplyLinkUpdates adds or removes links. Switch-to-host links are ignored.
// Returns the number of updates that changed the link set.
func (t *Topology) ApplyLinkUpdates(updates []network.LinkUpdate) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	changed := 0
	for _, u := range updates {
		if u.Link.ToHost() {
			continue
		}
		_, exists := t.links[u.Link]
		switch {
		case u.Removed && exists:
			delete(t.links, u.Link)
			changed++
		case !u.Removed && !exists:
			t.links[u.Link] = struct{}{}
			changed++
		}
	}
	return changed
}

// HasSwitch reports whether id is registered.
func (t *Topology) HasSwitch(id network.SwitchID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.switches.Has(id)
}

// Switches returns all registered switches in ascending order.
func (t *Topology) Switches() []network.SwitchID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sets.List(t.switches)
}

// Links returns all known links in canonical order.
func (t *Topology) Links() []network.Link {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]network.Link, 0, len(t.links))
	for l := range t.links {
		out = append(out, l)
	}
	SortLinks(out)
	return out
}

// SwitchCount returns the number of registered switches.
func (t *Topology) SwitchCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.switches.Len()
}

// Snapshot captures the current switch and link sets.
func (t *Topology) Snapshot() *Graph {
	return NewGraph(t.Switches(), t.Links())
}

// SortLinks orders links by (Src, SrcPort, Dst, DstPort).
func SortLinks(links []network.Link) {
	sort.Slice(links, func(i, j int) bool {
		a, b := links[i], links[j]
		if a.Src != b.Src {
			return a.Src < b.Src
		}
		if a.SrcPort != b.SrcPort {
			return a.SrcPort < b.SrcPort
		}
		if a.Dst != b.Dst {
			return a.Dst < b.Dst
		}
		return a.DstPort < b.DstPort
	})
}
