package l3routing

import (
	"context"
	"fmt"

	"github.com/glennswest/sdnctl/pkg/metrics"
	"github.com/glennswest/sdnctl/pkg/network"
)

// Sink returns an event sink that feeds HandleEvent. Subscribe it to a
// network.Bus so events are handled one at a time in publish order.
func (m *Manager) Sink(ctx context.Context) network.HandlerFunc {
	return func(ev network.Event) { m.HandleEvent(ctx, ev) }
}

// HandleEvent applies one topology or host event. Panics and errors are
// logged and swallowed so the event stream keeps flowing.
func (m *Manager) HandleEvent(ctx context.Context, ev network.Event) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			metrics.EventPanics.WithLabelValues("l3routing").Inc()
			err = fmt.Errorf("panic handling %s: %v", ev, r)
			m.log.Errorw("event handler panicked", "event", ev.String(), "panic", r)
		}
	}()

	metrics.Events.WithLabelValues("l3routing", ev.Kind.String()).Inc()
	m.log.Debugw("handling event", "event", ev.String())

	switch ev.Kind {
	case network.SwitchAdded:
		if m.topo.AddSwitch(ev.Switch) {
			m.log.Infow("switch added", "switch", ev.Switch)
		}
		err = m.resync(ctx)
	case network.SwitchRemoved:
		if m.topo.RemoveSwitch(ev.Switch) {
			m.log.Infow("switch removed", "switch", ev.Switch)
		}
		err = m.resync(ctx)
	case network.LinksUpdated:
		m.applyLinks(ev.Links)
		err = m.resync(ctx)
	case network.HostAdded:
		err = m.hostAdded(ctx, ev.Device)
	case network.HostRemoved:
		err = m.hostRemoved(ctx, ev.Device)
	case network.HostMoved:
		err = m.hostMoved(ctx, ev.Device)
	case network.HostIPChanged:
		err = m.hostIPChanged(ctx, ev.Device, ev)
	default:
		m.log.Debugw("ignoring event", "event", ev.String())
	}

	if err != nil {
		m.log.Warnw("event handled with errors", "event", ev.String(), "error", err)
	}
	return err
}

func (m *Manager) applyLinks(updates []network.LinkUpdate) {
	for _, u := range updates {
		if u.Link.ToHost() {
			m.log.Debugw("ignoring switch-to-host link", "link", u.Link.String(), "removed", u.Removed)
			continue
		}
		if u.Removed {
			m.log.Infow("link removed", "link", u.Link.String())
		} else {
			m.log.Infow("link added", "link", u.Link.String())
		}
	}
	m.topo.ApplyLinkUpdates(updates)
}

// resync recomputes every path and re-issues every host rule.
func (m *Manager) resync(ctx context.Context) error {
	m.Recompute()
	return m.SyncAll(ctx)
}

func (m *Manager) hostAdded(ctx context.Context, dev *network.Device) error {
	if dev == nil {
		return nil
	}
	h, ok := network.HostFromDevice(*dev)
	if !ok {
		m.log.Debugw("ignoring device without IPv4 address", "device", dev.ID)
		return nil
	}
	prev, existed, err := m.hosts.Upsert(h)
	if err != nil {
		return err
	}
	metrics.Hosts.Set(float64(m.hosts.Len()))
	m.log.Infow("host added", "host", h.Name, "ip", h.IP, "switch", h.Switch, "port", h.Port)

	if existed && !prev.IP.Equal(h.IP) {
		if err := m.RemoveHost(ctx, prev); err != nil {
			return err
		}
	}
	return m.SyncHost(ctx, h)
}

func (m *Manager) hostRemoved(ctx context.Context, dev *network.Device) error {
	if dev == nil {
		return nil
	}
	h, existed, err := m.hosts.Remove(dev.ID)
	if err != nil {
		return err
	}
	if !existed {
		if h, existed = network.HostFromDevice(*dev); !existed {
			return nil
		}
	}
	metrics.Hosts.Set(float64(m.hosts.Len()))
	m.log.Infow("host removed", "host", h.Name, "ip", h.IP)
	return m.RemoveHost(ctx, h)
}

func (m *Manager) hostMoved(ctx context.Context, dev *network.Device) error {
	if dev == nil {
		return nil
	}
	h, ok := network.HostFromDevice(*dev)
	if !ok {
		return m.hostRemoved(ctx, dev)
	}
	if !h.Attached {
		m.log.Infow("host detached", "host", h.Name)
		return m.hostRemoved(ctx, dev)
	}

	prev, existed, err := m.hosts.Upsert(h)
	if err != nil {
		return err
	}
	metrics.Hosts.Set(float64(m.hosts.Len()))
	m.log.Infow("host moved", "host", h.Name, "switch", h.Switch, "port", h.Port)

	if existed && !prev.IP.Equal(h.IP) {
		if err := m.RemoveHost(ctx, prev); err != nil {
			return err
		}
	}
	if err := m.RemoveHost(ctx, h); err != nil {
		return err
	}
	return m.SyncHost(ctx, h)
}

func (m *Manager) hostIPChanged(ctx context.Context, dev *network.Device, ev network.Event) error {
	if dev == nil {
		return nil
	}
	old := ev.PreviousIP
	if old == nil {
		if prev, ok := m.hosts.Get(dev.ID); ok {
			old = prev.IP
		}
	}
	if old != nil {
		if h, ok := network.HostFromDevice(*dev); !ok || !h.IP.Equal(old) {
			m.log.Infow("host address changed", "device", dev.ID, "old", old)
			if err := m.removeIP(ctx, old); err != nil {
				return err
			}
		}
	}
	if _, ok := network.HostFromDevice(*dev); !ok {
		_, _, err := m.hosts.Remove(dev.ID)
		return err
	}
	return m.hostAdded(ctx, dev)
}
