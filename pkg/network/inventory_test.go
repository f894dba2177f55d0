package network

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleInventory = `
switches: [s1, s2, "3"]
links:
  - {src: s1, srcPort: 2, dst: s2, dstPort: 2}
  - {src: s2, srcPort: 3, dst: s3, dstPort: 2}
hosts:
  - {id: h1, mac: "00:00:00:00:00:01", ip: 10.0.0.1, switch: s1, port: 1}
  - {id: h2, mac: "00:00:00:00:00:02", ip: 10.0.0.2, switch: s2, port: 1}
  - {id: h9, mac: "00:00:00:00:00:09"}
`

func TestLoadAndResolveInventory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topo.yaml")
	if err := os.WriteFile(path, []byte(sampleInventory), 0644); err != nil {
		t.Fatal(err)
	}

	inv, err := LoadInventory(path)
	if err != nil {
		t.Fatalf("LoadInventory: %v", err)
	}
	f, err := inv.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if len(f.Switches) != 3 || f.Switches[2] != 3 {
		t.Errorf("switches = %v", f.Switches)
	}
	if len(f.Links) != 4 {
		t.Fatalf("expected both directions of 2 links, got %d", len(f.Links))
	}
	if f.Links[1] != (Link{Src: 2, SrcPort: 2, Dst: 1, DstPort: 2}) {
		t.Errorf("reverse link = %s", f.Links[1])
	}

	if len(f.Devices) != 3 {
		t.Fatalf("devices = %d", len(f.Devices))
	}
	h1, ok := HostFromDevice(f.Devices[0])
	if !ok || !h1.Attached || h1.Switch != 1 || h1.Port != 1 || h1.IP.String() != "10.0.0.1" || h1.Name != "h1" {
		t.Errorf("h1 = %+v", h1)
	}
	if _, ok := HostFromDevice(f.Devices[2]); ok {
		t.Error("device without an address should not become a host")
	}
}

func TestResolveReportsAllErrors(t *testing.T) {
	inv := &Inventory{
		Switches: []string{"s1", "s1", "bogus", "s0"},
		Links: []InventoryLink{
			{Src: "s1", SrcPort: 1, Dst: "s7", DstPort: 1},
			{Src: "s1", SrcPort: 0, Dst: "s1", DstPort: 1},
		},
		Hosts: []InventoryHost{
			{ID: "h1", MAC: "nope"},
			{ID: "h2", MAC: "00:00:00:00:00:02", IP: "fd00::2"},
			{ID: "h3", MAC: "00:00:00:00:00:03", Switch: "s9"},
			{MAC: "00:00:00:00:00:04"},
		},
	}
	_, err := inv.Resolve()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{
		"listed twice", "invalid switch id", "reserved",
		"s7 is not listed", "ports must be non-zero",
		"invalid mac", "invalid IPv4", "s9 is not listed", "missing id",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %q:\n%v", want, err)
		}
	}
}

func TestInventorySaveRoundTrip(t *testing.T) {
	inv := &Inventory{
		Switches: []string{"s1", "s2"},
		Links:    []InventoryLink{{Src: "s1", SrcPort: 2, Dst: "s2", DstPort: 2}},
		Hosts:    []InventoryHost{{ID: "h1", MAC: "00:00:00:00:00:01", IP: "10.0.0.1", Switch: "s1", Port: 1}},
	}
	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := inv.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := LoadInventory(path)
	if err != nil {
		t.Fatalf("LoadInventory: %v", err)
	}
	if len(got.Switches) != 2 || got.Links[0] != inv.Links[0] || got.Hosts[0] != inv.Hosts[0] {
		t.Errorf("round trip mismatch: %+v", got)
	}
}
