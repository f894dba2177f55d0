package network

import (
	"fmt"
	"net"

	events "github.com/docker/go-events"
)

// EventKind enumerates the topology and host lifecycle notifications the
// controller reacts to.
type EventKind int

const (
	SwitchAdded EventKind = iota
	SwitchRemoved
	LinksUpdated
	HostAdded
	HostRemoved
	HostMoved
	HostIPChanged
)

var eventKindNames = map[EventKind]string{
	SwitchAdded:   "switch-added",
	SwitchRemoved: "switch-removed",
	LinksUpdated:  "links-updated",
	HostAdded:     "host-added",
	HostRemoved:   "host-removed",
	HostMoved:     "host-moved",
	HostIPChanged: "host-ip-changed",
}

func (k EventKind) String() string {
	if s, ok := eventKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Topology reports whether the event changes the switch/link graph.
func (k EventKind) Topology() bool {
	return k == SwitchAdded || k == SwitchRemoved || k == LinksUpdated
}

// Event is a single notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind       EventKind
	Switch     SwitchID
	Links      []LinkUpdate
	Device     *Device
	PreviousIP net.IP
}

func (e Event) String() string {
	switch {
	case e.Kind == SwitchAdded || e.Kind == SwitchRemoved:
		return fmt.Sprintf("%s %s", e.Kind, e.Switch)
	case e.Kind == LinksUpdated:
		return fmt.Sprintf("%s (%d updates)", e.Kind, len(e.Links))
	case e.Device != nil:
		return fmt.Sprintf("%s %s", e.Kind, e.Device.ID)
	}
	return e.Kind.String()
}

// Publisher accepts events for delivery. *Bus implements it.
type Publisher interface {
	Publish(ev Event) error
}

// Bus fans events out to every subscribed consumer. Each consumer gets its
// own ordered queue so a slow consumer never reorders another's stream.
type Bus struct {
	broadcaster *events.Broadcaster
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{broadcaster: events.NewBroadcaster()}
}

// Subscribe attaches sink behind an unbounded ordered queue.
func (b *Bus) Subscribe(sink events.Sink) error {
	return b.broadcaster.Add(events.NewQueue(sink))
}

// Publish delivers ev to every subscriber.
func (b *Bus) Publish(ev Event) error {
	return b.broadcaster.Write(ev)
}

// Close stops delivery and closes every subscriber.
func (b *Bus) Close() error {
	return b.broadcaster.Close()
}

// HandlerFunc adapts a function to an events.Sink. Events that are not of
// type Event are dropped.
type HandlerFunc func(Event)

func (f HandlerFunc) Write(ev events.Event) error {
	if e, ok := ev.(Event); ok {
		f(e)
	}
	return nil
}

func (f HandlerFunc) Close() error { return nil }
