package loadbalancer

import (
	"bytes"
	"fmt"
	"net"
	"sort"
)

// Registry maps virtual IPs to instances. It is built once at startup and
// read-only afterwards.
type Registry struct {
	byVIP map[string]*Instance
}

// NewRegistry indexes instances by virtual IP. Two instances sharing a
// virtual IP is an error.
func NewRegistry(instances []*Instance) (*Registry, error) {
	r := &Registry{byVIP: make(map[string]*Instance, len(instances))}
	for _, inst := range instances {
		key := inst.VirtualIP.String()
		if _, dup := r.byVIP[key]; dup {
			return nil, fmt.Errorf("duplicate virtual IP %s", key)
		}
		r.byVIP[key] = inst
	}
	return r, nil
}

// Lookup returns the instance serving vip.
func (r *Registry) Lookup(vip net.IP) (*Instance, bool) {
	if vip == nil {
		return nil, false
	}
	inst, ok := r.byVIP[vip.String()]
	return inst, ok
}

// IsVirtualIP reports whether ip is a registered virtual IP.
func (r *Registry) IsVirtualIP(ip net.IP) bool {
	_, ok := r.Lookup(ip)
	return ok
}

// List returns every instance ordered by virtual IP.
func (r *Registry) List() []*Instance {
	out := make([]*Instance, 0, len(r.byVIP))
	for _, inst := range r.byVIP {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].VirtualIP, out[j].VirtualIP) < 0
	})
	return out
}

// Len returns the number of instances.
func (r *Registry) Len() int { return len(r.byVIP) }
