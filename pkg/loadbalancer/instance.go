// Package loadbalancer implements a transparent layer-3 TCP load balancer.
// Clients connect to a virtual IP; the first SYN of each connection is
// punted to the controller, which picks a backend round-robin and installs
// a pair of address-rewriting rules on the ingress switch.
package loadbalancer

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
)

// ErrBackendUnresolved is returned when a backend's MAC address is unknown.
var ErrBackendUnresolved = errors.New("backend MAC address unknown")

// Instance is one virtual service: a virtual IP and MAC fronting a fixed
// list of backends.
type Instance struct {
	VirtualIP  net.IP
	VirtualMAC net.HardwareAddr
	Backends   []net.IP

	mu   sync.Mutex
	last int
}

// NewInstance builds an instance. The backend list must not be empty.
func NewInstance(vip net.IP, vmac net.HardwareAddr, backends []net.IP) (*Instance, error) {
	v4 := vip.To4()
	if v4 == nil {
		return nil, fmt.Errorf("virtual IP %s is not IPv4", vip)
	}
	if len(vmac) != 6 {
		return nil, fmt.Errorf("virtual MAC %s is not an Ethernet address", vmac)
	}
	if len(backends) == 0 {
		return nil, fmt.Errorf("instance %s has no backends", vip)
	}
	bs := make([]net.IP, len(backends))
	for i, b := range backends {
		if bs[i] = b.To4(); bs[i] == nil {
			return nil, fmt.Errorf("backend %s is not IPv4", b)
		}
	}
	return &Instance{VirtualIP: v4, VirtualMAC: vmac, Backends: bs, last: -1}, nil
}

// NextBackend returns the next backend in round-robin order, starting with
// the first. Safe for concurrent use; no two callers see the same cursor.
func (i *Instance) NextBackend() net.IP {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.last++
	if i.last >= len(i.Backends) {
		i.last = 0
	}
	return i.Backends[i.last]
}

func (i *Instance) String() string {
	bs := make([]string, len(i.Backends))
	for n, b := range i.Backends {
		bs[n] = b.String()
	}
	return fmt.Sprintf("%s %s %s", i.VirtualIP, i.VirtualMAC, strings.Join(bs, ","))
}

// ParseInstances parses a ";"-separated list of "<vip> <vmac> <ip,ip,...>"
// descriptors. Malformed entries are skipped and reported in the returned
// errors; they never prevent the remaining entries from loading.
func ParseInstances(s string) ([]*Instance, []error) {
	var (
		out  []*Instance
		errs []error
	)
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		inst, err := parseInstance(entry)
		if err != nil {
			errs = append(errs, fmt.Errorf("instance %q: %w", entry, err))
			continue
		}
		out = append(out, inst)
	}
	return out, errs
}

func parseInstance(entry string) (*Instance, error) {
	fields := strings.Fields(entry)
	if len(fields) != 3 {
		return nil, fmt.Errorf("expected 3 fields, got %d", len(fields))
	}

	vip := net.ParseIP(fields[0])
	if vip == nil {
		return nil, fmt.Errorf("invalid virtual IP %q", fields[0])
	}
	vmac, err := net.ParseMAC(fields[1])
	if err != nil {
		return nil, fmt.Errorf("invalid virtual MAC: %w", err)
	}

	var backends []net.IP
	for _, b := range strings.Split(fields[2], ",") {
		if b = strings.TrimSpace(b); b == "" {
			continue
		}
		ip := net.ParseIP(b)
		if ip == nil {
			return nil, fmt.Errorf("invalid backend IP %q", b)
		}
		backends = append(backends, ip)
	}
	return NewInstance(vip, vmac, backends)
}
