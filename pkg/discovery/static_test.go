package discovery

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/glennswest/sdnctl/pkg/network"
)

type recorder struct {
	mu  sync.Mutex
	evs []network.Event
}

func (r *recorder) Publish(ev network.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
	return nil
}

func (r *recorder) kinds() []network.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]network.EventKind, len(r.evs))
	for i, ev := range r.evs {
		out[i] = ev.Kind
	}
	return out
}

func device(id, ip string, sw network.SwitchID, port uint32) network.Device {
	d := network.Device{ID: id, MAC: net.HardwareAddr{0, 0, 0, 0, 0, 1}}
	if ip != "" {
		d.IPv4 = []net.IP{net.ParseIP(ip).To4()}
	}
	if sw != 0 {
		d.AttachmentPoints = []network.AttachmentPoint{{Switch: sw, Port: port}}
	}
	return d
}

func TestDiffFromEmpty(t *testing.T) {
	l := network.Link{Src: 1, SrcPort: 2, Dst: 2, DstPort: 2}
	next := &network.Fabric{
		Switches: []network.SwitchID{1, 2},
		Links:    []network.Link{l, l.Reverse()},
		Devices:  []network.Device{device("h1", "10.0.0.1", 1, 1)},
	}
	evs := Diff(&network.Fabric{}, next)

	want := []network.EventKind{network.SwitchAdded, network.SwitchAdded, network.LinksUpdated, network.HostAdded}
	if len(evs) != len(want) {
		t.Fatalf("got %d events: %v", len(evs), evs)
	}
	for i, k := range want {
		if evs[i].Kind != k {
			t.Errorf("event %d = %s, want %s", i, evs[i].Kind, k)
		}
	}
	if len(evs[2].Links) != 2 || evs[2].Links[0].Removed {
		t.Errorf("links = %+v", evs[2].Links)
	}
}

func TestDiffChanges(t *testing.T) {
	l12 := network.Link{Src: 1, SrcPort: 2, Dst: 2, DstPort: 2}
	l23 := network.Link{Src: 2, SrcPort: 3, Dst: 3, DstPort: 2}
	old := &network.Fabric{
		Switches: []network.SwitchID{1, 2, 3},
		Links:    []network.Link{l12, l12.Reverse(), l23, l23.Reverse()},
		Devices: []network.Device{
			device("h1", "10.0.0.1", 1, 1),
			device("h2", "10.0.0.2", 2, 1),
			device("h3", "10.0.0.3", 3, 1),
		},
	}
	next := &network.Fabric{
		Switches: []network.SwitchID{1, 2},
		Links:    []network.Link{l12, l12.Reverse()},
		Devices: []network.Device{
			device("h1", "10.0.0.11", 1, 1),
			device("h2", "10.0.0.2", 1, 4),
		},
	}
	evs := Diff(old, next)

	want := []network.EventKind{network.HostIPChanged, network.HostMoved, network.HostRemoved, network.SwitchRemoved}
	if len(evs) != len(want) {
		t.Fatalf("got %d events: %v", len(evs), evs)
	}
	for i, k := range want {
		if evs[i].Kind != k {
			t.Errorf("event %d = %s, want %s", i, evs[i].Kind, k)
		}
	}
	if !evs[0].PreviousIP.Equal(net.ParseIP("10.0.0.1")) {
		t.Errorf("previous ip = %s", evs[0].PreviousIP)
	}
	if evs[3].Switch != 3 {
		t.Errorf("removed switch = %s", evs[3].Switch)
	}
}

func TestDiffRemovedLink(t *testing.T) {
	l := network.Link{Src: 1, SrcPort: 2, Dst: 2, DstPort: 2}
	old := &network.Fabric{Switches: []network.SwitchID{1, 2}, Links: []network.Link{l, l.Reverse()}}
	next := &network.Fabric{Switches: []network.SwitchID{1, 2}}

	evs := Diff(old, next)
	if len(evs) != 1 || evs[0].Kind != network.LinksUpdated {
		t.Fatalf("events = %v", evs)
	}
	for _, u := range evs[0].Links {
		if !u.Removed {
			t.Errorf("update %s not marked removed", u.Link)
		}
	}
	if evs := Diff(next, next); len(evs) != 0 {
		t.Errorf("identical fabrics produced %v", evs)
	}
}

func TestStaticSyncAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topo.yaml")
	write := func(s string) {
		if err := os.WriteFile(path, []byte(s), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write("switches: [s1, s2]\nlinks:\n  - {src: s1, srcPort: 1, dst: s2, dstPort: 1}\n")

	rec := &recorder{}
	s := NewStatic(path, rec, 0, zap.NewNop().Sugar())
	if err := s.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if got := rec.kinds(); len(got) != 3 {
		t.Fatalf("first sync published %v", got)
	}

	if err := s.Sync(); err != nil {
		t.Fatal(err)
	}
	if got := rec.kinds(); len(got) != 3 {
		t.Errorf("unchanged file published more events: %v", got)
	}

	write("switches: [s1]\n")
	if err := s.Sync(); err != nil {
		t.Fatal(err)
	}
	got := rec.kinds()
	if len(got) != 4 || got[3] != network.SwitchRemoved {
		t.Errorf("after shrink: %v", got)
	}

	write("switches: [s1, s1]\n")
	if err := s.Sync(); err == nil {
		t.Error("expected error for invalid inventory")
	}
}

func TestStaticRunOnce(t *testing.T) {
	rec := &recorder{}
	s := NewStatic(filepath.Join(t.TempDir(), "missing.yaml"), rec, time.Second, zap.NewNop().Sugar())
	if err := s.Run(context.Background()); err == nil {
		t.Error("expected error for missing inventory")
	}
}
