// Package lab builds inventories for the reference Mininet topologies used
// to exercise the controller. Port numbers follow Mininet: each node numbers
// its ports from 1 in the order links are added. Hosts get MAC and IPv4
// addresses from their creation order, as with autoSetMacs.
package lab

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/glennswest/sdnctl/pkg/network"
)

type builder struct {
	inv      network.Inventory
	next     map[string]uint32
	hostIdx  map[string]int
	switches int
	hosts    int
}

func newBuilder() *builder {
	return &builder{next: map[string]uint32{}, hostIdx: map[string]int{}}
}

func (b *builder) addSwitch() string {
	b.switches++
	name := "s" + strconv.Itoa(b.switches)
	b.inv.Switches = append(b.inv.Switches, name)
	b.next[name] = 1
	return name
}

func (b *builder) addHost() string {
	b.hosts++
	name := "h" + strconv.Itoa(b.hosts)
	mac := make(net.HardwareAddr, 6)
	for i, n := 5, b.hosts; i >= 0 && n > 0; i, n = i-1, n>>8 {
		mac[i] = byte(n)
	}
	b.hostIdx[name] = len(b.inv.Hosts)
	b.inv.Hosts = append(b.inv.Hosts, network.InventoryHost{
		ID:  name,
		MAC: mac.String(),
		IP:  fmt.Sprintf("10.0.%d.%d", b.hosts>>8, b.hosts&0xff),
	})
	return name
}

func (b *builder) port(node string) uint32 {
	p := b.next[node]
	b.next[node] = p + 1
	return p
}

func (b *builder) addLink(x, y string) {
	hx, xIsHost := b.hostIdx[x]
	hy, yIsHost := b.hostIdx[y]
	switch {
	case xIsHost && !yIsHost:
		b.inv.Hosts[hx].Switch = y
		b.inv.Hosts[hx].Port = b.port(y)
	case yIsHost && !xIsHost:
		b.inv.Hosts[hy].Switch = x
		b.inv.Hosts[hy].Port = b.port(x)
	case !xIsHost && !yIsHost:
		b.inv.Links = append(b.inv.Links, network.InventoryLink{
			Src: x, SrcPort: b.port(x),
			Dst: y, DstPort: b.port(y),
		})
	}
}

type topoFunc func(b *builder, arg int) error

var topologies = map[string]struct {
	needsArg bool
	build    topoFunc
}{
	"single":    {true, single},
	"linear":    {true, linear},
	"tree":      {true, tree},
	"mesh":      {true, mesh},
	"assign1":   {false, assignOne},
	"triangle":  {false, triangle},
	"someloops": {false, someLoops},
}

// Names lists the known topologies. Parameterized ones take ",<n>".
func Names() []string {
	var out []string
	for name, t := range topologies {
		if t.needsArg {
			name += ",<n>"
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Build returns the inventory for a topology such as "triangle" or
// "mesh,4".
func Build(desc string) (*network.Inventory, error) {
	parts := strings.Split(desc, ",")
	t, ok := topologies[parts[0]]
	if !ok {
		return nil, fmt.Errorf("unknown topology %q (known: %s)", parts[0], strings.Join(Names(), " "))
	}

	arg := 0
	switch {
	case t.needsArg && len(parts) != 2:
		return nil, fmt.Errorf("topology %s needs a size, e.g. %s,3", parts[0], parts[0])
	case !t.needsArg && len(parts) != 1:
		return nil, fmt.Errorf("topology %s takes no size", parts[0])
	case t.needsArg:
		n, err := strconv.Atoi(parts[1])
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid size %q for %s", parts[1], parts[0])
		}
		arg = n
	}

	b := newBuilder()
	if err := t.build(b, arg); err != nil {
		return nil, err
	}
	return &b.inv, nil
}

func single(b *builder, k int) error {
	s := b.addSwitch()
	for i := 0; i < k; i++ {
		b.addLink(b.addHost(), s)
	}
	return nil
}

func linear(b *builder, k int) error {
	var last string
	for i := 0; i < k; i++ {
		s := b.addSwitch()
		b.addLink(b.addHost(), s)
		if last != "" {
			b.addLink(s, last)
		}
		last = s
	}
	return nil
}

// tree builds a binary tree of the given depth; hosts are the leaves.
func tree(b *builder, depth int) error {
	if depth > 8 {
		return fmt.Errorf("tree depth %d is too large", depth)
	}
	var add func(d int) string
	add = func(d int) string {
		if d == 0 {
			return b.addHost()
		}
		s := b.addSwitch()
		for i := 0; i < 2; i++ {
			child := add(d - 1)
			b.addLink(s, child)
		}
		return s
	}
	add(depth)
	return nil
}

func mesh(b *builder, n int) error {
	var switches []string
	for i := 0; i < n; i++ {
		h := b.addHost()
		s := b.addSwitch()
		b.addLink(h, s)
		switches = append(switches, s)
	}
	for i := 0; i < n-1; i++ {
		for j := i + 1; j < n; j++ {
			b.addLink(switches[i], switches[j])
		}
	}
	return nil
}

func assignOne(b *builder, _ int) error {
	h := make([]string, 11)
	for i := 1; i <= 10; i++ {
		h[i] = b.addHost()
	}
	s := make([]string, 7)
	for i := 1; i <= 6; i++ {
		s[i] = b.addSwitch()
	}
	for _, l := range [][2]string{
		{h[1], s[1]}, {h[7], s[1]}, {h[8], s[1]},
		{h[2], s[2]}, {h[3], s[3]},
		{h[4], s[4]}, {h[9], s[4]}, {h[10], s[4]},
		{h[5], s[5]}, {h[6], s[6]},
		{s[1], s[2]}, {s[2], s[3]}, {s[3], s[4]}, {s[2], s[5]}, {s[3], s[6]},
	} {
		b.addLink(l[0], l[1])
	}
	return nil
}

func triangle(b *builder, _ int) error {
	h1, h2, h3 := b.addHost(), b.addHost(), b.addHost()
	s1, s2, s3 := b.addSwitch(), b.addSwitch(), b.addSwitch()
	b.addLink(h1, s1)
	b.addLink(h2, s2)
	b.addLink(h3, s3)
	b.addLink(s1, s2)
	b.addLink(s2, s3)
	b.addLink(s3, s1)
	return nil
}

func someLoops(b *builder, _ int) error {
	h1, h2, h3, h4 := b.addHost(), b.addHost(), b.addHost(), b.addHost()
	s := make([]string, 7)
	for i := 1; i <= 6; i++ {
		s[i] = b.addSwitch()
	}
	b.addLink(h1, s[1])
	b.addLink(h2, s[5])
	b.addLink(h3, s[4])
	b.addLink(h4, s[6])
	for _, l := range [][2]int{{1, 2}, {2, 3}, {3, 4}, {3, 6}, {2, 5}, {5, 4}, {4, 6}, {6, 1}} {
		b.addLink(s[l[0]], s[l[1]])
	}
	return nil
}
