package topology

import (
	"testing"

	"github.com/glennswest/sdnctl/pkg/network"
)

func link(src network.SwitchID, sp uint32, dst network.SwitchID, dp uint32) network.Link {
	return network.Link{Src: src, SrcPort: sp, Dst: dst, DstPort: dp}
}

func added(links ...network.Link) []network.LinkUpdate {
	out := make([]network.LinkUpdate, len(links))
	for i, l := range links {
		out[i] = network.LinkUpdate{Link: l}
	}
	return out
}

func TestAddAndListSwitches(t *testing.T) {
	topo := New()

	for _, sw := range []network.SwitchID{3, 1, 2} {
		if !topo.AddSwitch(sw) {
			t.Fatalf("AddSwitch(%s) reported existing switch", sw)
		}
	}
	if topo.AddSwitch(2) {
		t.Error("expected duplicate AddSwitch to return false")
	}

	if topo.SwitchCount() != 3 {
		t.Errorf("expected 3 switches, got %d", topo.SwitchCount())
	}

	got := topo.Switches()
	want := []network.SwitchID{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Switches() = %v, want %v", got, want)
		}
	}
}

func TestRemoveSwitchDropsLinks(t *testing.T) {
	topo := New()
	topo.AddSwitch(1)
	topo.AddSwitch(2)
	topo.AddSwitch(3)
	topo.ApplyLinkUpdates(added(
		link(1, 1, 2, 1), link(2, 1, 1, 1),
		link(2, 2, 3, 1), link(3, 1, 2, 2),
	))

	if !topo.RemoveSwitch(3) {
		t.Fatal("RemoveSwitch(3) returned false")
	}
	if topo.RemoveSwitch(3) {
		t.Error("second RemoveSwitch should return false")
	}
	if topo.HasSwitch(3) {
		t.Error("switch 3 still registered")
	}

	links := topo.Links()
	if len(links) != 2 {
		t.Fatalf("expected 2 links after removal, got %v", links)
	}
	for _, l := range links {
		if l.Src == 3 || l.Dst == 3 {
			t.Errorf("link %s references removed switch", l)
		}
	}
}

func TestApplyLinkUpdates(t *testing.T) {
	topo := New()
	topo.AddSwitch(1)
	topo.AddSwitch(2)

	tests := []struct {
		name    string
		updates []network.LinkUpdate
		changed int
		links   int
	}{
		{"add pair", added(link(1, 1, 2, 1), link(2, 1, 1, 1)), 2, 2},
		{"re-add is no-op", added(link(1, 1, 2, 1)), 0, 2},
		{"host link ignored", added(link(1, 5, 0, 0)), 0, 2},
		{"remove one", []network.LinkUpdate{{Link: link(1, 1, 2, 1), Removed: true}}, 1, 1},
		{"remove unknown", []network.LinkUpdate{{Link: link(1, 9, 2, 9), Removed: true}}, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := topo.ApplyLinkUpdates(tt.updates); got != tt.changed {
				t.Errorf("changed = %d, want %d", got, tt.changed)
			}
			if got := len(topo.Links()); got != tt.links {
				t.Errorf("links = %d, want %d", got, tt.links)
			}
		})
	}
}

func TestLinksCanonicalOrder(t *testing.T) {
	topo := New()
	for _, sw := range []network.SwitchID{1, 2, 3} {
		topo.AddSwitch(sw)
	}
	topo.ApplyLinkUpdates(added(
		link(3, 1, 1, 2), link(1, 2, 3, 1),
		link(2, 1, 1, 1), link(1, 1, 2, 1),
	))

	links := topo.Links()
	for i := 1; i < len(links); i++ {
		a, b := links[i-1], links[i]
		if a.Src > b.Src || (a.Src == b.Src && a.SrcPort > b.SrcPort) {
			t.Fatalf("links out of order: %v", links)
		}
	}
}

func TestGraphPortToward(t *testing.T) {
	// Only one direction of the s1-s2 link is known; the port must still
	// resolve from both ends.
	g := NewGraph(
		[]network.SwitchID{1, 2, 3},
		[]network.Link{link(1, 4, 2, 7)},
	)

	tests := []struct {
		from, to network.SwitchID
		port     uint32
		ok       bool
	}{
		{1, 2, 4, true},
		{2, 1, 7, true},
		{1, 3, 0, false},
	}
	for _, tt := range tests {
		port, ok := g.PortToward(tt.from, tt.to)
		if port != tt.port || ok != tt.ok {
			t.Errorf("PortToward(%s,%s) = %d,%v want %d,%v", tt.from, tt.to, port, ok, tt.port, tt.ok)
		}
	}
}

func TestGraphDropsDanglingLinks(t *testing.T) {
	g := NewGraph(
		[]network.SwitchID{1, 2},
		[]network.Link{link(1, 1, 2, 1), link(1, 2, 9, 1), link(2, 3, 0, 0), link(1, 5, 1, 6)},
	)
	if got := len(g.Links()); got != 1 {
		t.Errorf("expected 1 link in graph, got %v", g.Links())
	}
	if g.Has(9) {
		t.Error("graph should not contain unregistered switch 9")
	}
	if n := g.Neighbors(1); len(n) != 1 || n[0] != 2 {
		t.Errorf("Neighbors(1) = %v, want [s2]", n)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	topo := New()
	topo.AddSwitch(1)
	topo.AddSwitch(2)
	topo.ApplyLinkUpdates(added(link(1, 1, 2, 1)))

	g := topo.Snapshot()
	topo.RemoveSwitch(2)

	if !g.Has(2) || len(g.Links()) != 1 {
		t.Error("snapshot changed after topology mutation")
	}
}
