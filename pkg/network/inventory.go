package network

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Inventory is a static description of a fabric: switches, the cables
// between them, and the hosts plugged into them. It stands in for link
// discovery and device tracking in labs and dry runs.
type Inventory struct {
	Switches []string        `yaml:"switches"`
	Links    []InventoryLink `yaml:"links"`
	Hosts    []InventoryHost `yaml:"hosts,omitempty"`
}

// InventoryLink is an undirected cable between two switch ports.
type InventoryLink struct {
	Src     string `yaml:"src"`
	SrcPort uint32 `yaml:"srcPort"`
	Dst     string `yaml:"dst"`
	DstPort uint32 `yaml:"dstPort"`
}

// InventoryHost is an end host and the switch port it is attached to.
type InventoryHost struct {
	ID     string `yaml:"id"`
	MAC    string `yaml:"mac"`
	IP     string `yaml:"ip,omitempty"`
	Switch string `yaml:"switch,omitempty"`
	Port   uint32 `yaml:"port,omitempty"`
}

// Fabric is a resolved inventory. Links are reported in both directions,
// the way link discovery sees them.
type Fabric struct {
	Switches []SwitchID
	Links    []Link
	Devices  []Device
}

// LoadInventory reads an inventory file.
func LoadInventory(path string) (*Inventory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory: %w", err)
	}
	var inv Inventory
	if err := yaml.Unmarshal(raw, &inv); err != nil {
		return nil, fmt.Errorf("parsing inventory %s: %w", path, err)
	}
	return &inv, nil
}

// Save writes inv to path as YAML.
func (inv *Inventory) Save(path string) error {
	raw, err := yaml.Marshal(inv)
	if err != nil {
		return fmt.Errorf("marshaling inventory: %w", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("writing inventory to %s: %w", path, err)
	}
	return nil
}

// Resolve parses every id and address in inv. All problems are reported
// together.
func (inv *Inventory) Resolve() (*Fabric, error) {
	var (
		errs  []error
		f     = &Fabric{}
		known = make(map[SwitchID]bool)
	)

	for _, s := range inv.Switches {
		id, err := ParseSwitchID(s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if id == 0 {
			errs = append(errs, fmt.Errorf("switch %q: datapath id 0 is reserved", s))
			continue
		}
		if known[id] {
			errs = append(errs, fmt.Errorf("switch %s listed twice", id))
			continue
		}
		known[id] = true
		f.Switches = append(f.Switches, id)
	}
	sort.Slice(f.Switches, func(i, j int) bool { return f.Switches[i] < f.Switches[j] })

	endpoint := func(s string) (SwitchID, error) {
		id, err := ParseSwitchID(s)
		if err != nil {
			return 0, err
		}
		if !known[id] {
			return 0, fmt.Errorf("switch %s is not listed", id)
		}
		return id, nil
	}

	for i, l := range inv.Links {
		src, err1 := endpoint(l.Src)
		dst, err2 := endpoint(l.Dst)
		if err := errors.Join(err1, err2); err != nil {
			errs = append(errs, fmt.Errorf("link %d: %w", i, err))
			continue
		}
		if l.SrcPort == 0 || l.DstPort == 0 {
			errs = append(errs, fmt.Errorf("link %d: ports must be non-zero", i))
			continue
		}
		link := Link{Src: src, SrcPort: l.SrcPort, Dst: dst, DstPort: l.DstPort}
		f.Links = append(f.Links, link, link.Reverse())
	}

	seen := make(map[string]bool)
	for _, h := range inv.Hosts {
		dev, err := h.device(endpoint)
		if err != nil {
			errs = append(errs, fmt.Errorf("host %q: %w", h.ID, err))
			continue
		}
		if seen[dev.ID] {
			errs = append(errs, fmt.Errorf("host %q listed twice", h.ID))
			continue
		}
		seen[dev.ID] = true
		f.Devices = append(f.Devices, dev)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return f, nil
}

func (h InventoryHost) device(endpoint func(string) (SwitchID, error)) (Device, error) {
	if h.ID == "" {
		return Device{}, errors.New("missing id")
	}
	mac, err := net.ParseMAC(h.MAC)
	if err != nil {
		return Device{}, fmt.Errorf("invalid mac: %w", err)
	}
	dev := Device{ID: h.ID, MAC: mac}

	if h.IP != "" {
		ip := net.ParseIP(h.IP).To4()
		if ip == nil {
			return Device{}, fmt.Errorf("invalid IPv4 address %q", h.IP)
		}
		dev.IPv4 = []net.IP{ip}
	}
	if h.Switch != "" {
		sw, err := endpoint(h.Switch)
		if err != nil {
			return Device{}, err
		}
		dev.AttachmentPoints = []AttachmentPoint{{Switch: sw, Port: h.Port}}
	}
	return dev, nil
}
