// Package discovery feeds topology and host events to the controller from
// a static inventory file, standing in for link discovery and device
// tracking where the switches cannot report them.
package discovery

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/glennswest/sdnctl/pkg/network"
)

// Static publishes the contents of an inventory file and, when polling,
// the differences each time the file changes.
type Static struct {
	path     string
	pub      network.Publisher
	interval time.Duration
	log      *zap.SugaredLogger

	current *network.Fabric
}

// NewStatic returns a Static source for the inventory at path. A zero
// interval loads the file once.
func NewStatic(path string, pub network.Publisher, interval time.Duration, log *zap.SugaredLogger) *Static {
	return &Static{
		path:     path,
		pub:      pub,
		interval: interval,
		log:      log.Named("discovery"),
		current:  &network.Fabric{},
	}
}

// Sync loads the inventory and publishes whatever changed since the last
// successful Sync.
func (s *Static) Sync() error {
	inv, err := network.LoadInventory(s.path)
	if err != nil {
		return err
	}
	next, err := inv.Resolve()
	if err != nil {
		return err
	}

	evs := Diff(s.current, next)
	for _, ev := range evs {
		if err := s.pub.Publish(ev); err != nil {
			return err
		}
	}
	s.current = next
	if len(evs) > 0 {
		s.log.Infow("inventory applied",
			"path", s.path,
			"switches", len(next.Switches),
			"links", len(next.Links)/2,
			"devices", len(next.Devices),
			"events", len(evs),
		)
	}
	return nil
}

// Run syncs once, then re-reads the file every interval until ctx is
// cancelled. A broken file is logged and the last good state kept.
func (s *Static) Run(ctx context.Context) error {
	if err := s.Sync(); err != nil {
		return err
	}
	if s.interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Sync(); err != nil {
				s.log.Warnw("inventory reload failed", "path", s.path, "error", err)
			}
		}
	}
}

// Diff returns the events that turn old into next. New switches come
// first so links and hosts never reference an unknown switch; removed
// switches come last.
func Diff(old, next *network.Fabric) []network.Event {
	var evs []network.Event

	oldSw := make(map[network.SwitchID]bool, len(old.Switches))
	for _, id := range old.Switches {
		oldSw[id] = true
	}
	nextSw := make(map[network.SwitchID]bool, len(next.Switches))
	for _, id := range next.Switches {
		nextSw[id] = true
		if !oldSw[id] {
			evs = append(evs, network.Event{Kind: network.SwitchAdded, Switch: id})
		}
	}

	oldLinks := make(map[network.Link]bool, len(old.Links))
	for _, l := range old.Links {
		oldLinks[l] = true
	}
	nextLinks := make(map[network.Link]bool, len(next.Links))
	var updates []network.LinkUpdate
	for _, l := range next.Links {
		nextLinks[l] = true
		if !oldLinks[l] {
			updates = append(updates, network.LinkUpdate{Link: l})
		}
	}
	for _, l := range old.Links {
		// Links on removed switches go away with the switch.
		if !nextLinks[l] && nextSw[l.Src] && nextSw[l.Dst] {
			updates = append(updates, network.LinkUpdate{Link: l, Removed: true})
		}
	}
	if len(updates) > 0 {
		evs = append(evs, network.Event{Kind: network.LinksUpdated, Links: updates})
	}

	oldDev := make(map[string]network.Device, len(old.Devices))
	for _, d := range old.Devices {
		oldDev[d.ID] = d
	}
	nextDev := make(map[string]bool, len(next.Devices))
	for _, d := range next.Devices {
		d := d
		nextDev[d.ID] = true
		prev, existed := oldDev[d.ID]
		switch {
		case !existed:
			evs = append(evs, network.Event{Kind: network.HostAdded, Device: &d})
		case !sameIP(firstIP(prev), firstIP(d)):
			evs = append(evs, network.Event{Kind: network.HostIPChanged, Device: &d, PreviousIP: firstIP(prev)})
		case attachment(prev) != attachment(d):
			evs = append(evs, network.Event{Kind: network.HostMoved, Device: &d})
		}
	}
	for _, d := range old.Devices {
		d := d
		if !nextDev[d.ID] {
			evs = append(evs, network.Event{Kind: network.HostRemoved, Device: &d})
		}
	}

	for _, id := range old.Switches {
		if !nextSw[id] {
			evs = append(evs, network.Event{Kind: network.SwitchRemoved, Switch: id})
		}
	}
	return evs
}

func firstIP(d network.Device) net.IP {
	if len(d.IPv4) == 0 {
		return nil
	}
	return d.IPv4[0]
}

func sameIP(a, b net.IP) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(b)
}

func attachment(d network.Device) network.AttachmentPoint {
	if len(d.AttachmentPoints) == 0 {
		return network.AttachmentPoint{}
	}
	return d.AttachmentPoints[0]
}
