// Package hosts keeps the set of end hosts known to the controller, indexed
// by device id and IPv4 address.
package hosts

import (
	"fmt"
	"net"
	"sort"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/glennswest/sdnctl/pkg/network"
)

const (
	tableHosts = "hosts"
	indexID    = "id"
	indexIP    = "ip"
)

// record is the stored form of a host. memdb indexes need string fields.
type record struct {
	ID   string
	IP   string
	Host network.Host
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableHosts: {
				Name: tableHosts,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					indexIP: {
						Name:         indexIP,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "IP"},
					},
				},
			},
		},
	}
}

// Registry is a concurrency-safe host table. Reads run against a consistent
// snapshot and never block writers.
type Registry struct {
	db *memdb.MemDB
}

// New returns an empty Registry.
func New() (*Registry, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("creating host table: %w", err)
	}
	return &Registry{db: db}, nil
}

// Upsert stores h, replacing any host with the same device id. It returns
// the previous entry when one existed.
func (r *Registry) Upsert(h network.Host) (network.Host, bool, error) {
	txn := r.db.Txn(true)
	defer txn.Abort()

	prev, existed, err := first(txn, indexID, h.DeviceID)
	if err != nil {
		return network.Host{}, false, err
	}
	if err := txn.Insert(tableHosts, &record{ID: h.DeviceID, IP: ipKey(h.IP), Host: h}); err != nil {
		return network.Host{}, false, fmt.Errorf("storing host %s: %w", h.DeviceID, err)
	}
	txn.Commit()
	return prev, existed, nil
}

// Remove forgets the host with the given device id.
func (r *Registry) Remove(id string) (network.Host, bool, error) {
	txn := r.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableHosts, indexID, id)
	if err != nil {
		return network.Host{}, false, fmt.Errorf("looking up host %s: %w", id, err)
	}
	if raw == nil {
		return network.Host{}, false, nil
	}
	if err := txn.Delete(tableHosts, raw); err != nil {
		return network.Host{}, false, fmt.Errorf("removing host %s: %w", id, err)
	}
	txn.Commit()
	return raw.(*record).Host, true, nil
}

// Get returns the host with the given device id.
func (r *Registry) Get(id string) (network.Host, bool) {
	txn := r.db.Txn(false)
	h, ok, err := first(txn, indexID, id)
	if err != nil {
		return network.Host{}, false
	}
	return h, ok
}

// List returns every host sorted by name.
func (r *Registry) List() []network.Host {
	return r.collect(indexID, func(network.Host) bool { return true })
}

// Attached returns the hosts that have a known switch port.
func (r *Registry) Attached() []network.Host {
	return r.collect(indexID, func(h network.Host) bool { return h.Attached })
}

// ByIP returns every host claiming ip.
func (r *Registry) ByIP(ip net.IP) []network.Host {
	if ip == nil {
		return nil
	}
	return r.collect(indexIP, func(network.Host) bool { return true }, ipKey(ip))
}

// MACForIP resolves ip to the MAC of a host that owns it.
func (r *Registry) MACForIP(ip net.IP) (net.HardwareAddr, bool) {
	for _, h := range r.ByIP(ip) {
		if len(h.MAC) > 0 {
			return h.MAC, true
		}
	}
	return nil, false
}

// Len returns the number of stored hosts.
func (r *Registry) Len() int {
	txn := r.db.Txn(false)
	it, err := txn.Get(tableHosts, indexID)
	if err != nil {
		return 0
	}
	n := 0
	for obj := it.Next(); obj != nil; obj = it.Next() {
		n++
	}
	return n
}

func (r *Registry) collect(index string, keep func(network.Host) bool, args ...interface{}) []network.Host {
	txn := r.db.Txn(false)
	it, err := txn.Get(tableHosts, index, args...)
	if err != nil {
		return nil
	}

	var out []network.Host
	for obj := it.Next(); obj != nil; obj = it.Next() {
		h := obj.(*record).Host
		if keep(h) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].DeviceID < out[j].DeviceID
	})
	return out
}

func first(txn *memdb.Txn, index, key string) (network.Host, bool, error) {
	raw, err := txn.First(tableHosts, index, key)
	if err != nil {
		return network.Host{}, false, fmt.Errorf("looking up host %s: %w", key, err)
	}
	if raw == nil {
		return network.Host{}, false, nil
	}
	return raw.(*record).Host, true, nil
}

func ipKey(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
