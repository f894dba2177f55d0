package network

import (
	"context"
	"sync"
	"testing"
	"time"
)

// slowGateway blocks RemoveRules until released and records the order in
// which calls reach it.
type slowGateway struct {
	entered chan struct{}
	release chan struct{}

	mu       sync.Mutex
	ops      []string
	inFlight map[SwitchID]int
	maxPerSw int
}

func newSlowGateway() *slowGateway {
	return &slowGateway{
		entered:  make(chan struct{}, 16),
		release:  make(chan struct{}),
		inFlight: make(map[SwitchID]int),
	}
}

func (g *slowGateway) enter(sw SwitchID, op string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ops = append(g.ops, op)
	g.inFlight[sw]++
	if g.inFlight[sw] > g.maxPerSw {
		g.maxPerSw = g.inFlight[sw]
	}
}

func (g *slowGateway) leave(sw SwitchID) {
	g.mu.Lock()
	g.inFlight[sw]--
	g.mu.Unlock()
}

func (g *slowGateway) InstallRule(_ context.Context, sw SwitchID, _ Rule) error {
	g.enter(sw, "install")
	defer g.leave(sw)
	return nil
}

func (g *slowGateway) RemoveRules(_ context.Context, sw SwitchID, _ uint8, _ Match) error {
	g.enter(sw, "remove")
	defer g.leave(sw)
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return nil
}

func (g *slowGateway) SendPacket(context.Context, SwitchID, uint32, []byte) error { return nil }

func (g *slowGateway) Capabilities() GatewayCapabilities { return GatewayCapabilities{} }

func (g *slowGateway) opList() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.ops...)
}

func TestSerializedOrdersSameSwitch(t *testing.T) {
	ctx := context.Background()
	slow := newSlowGateway()
	g := Serialized(slow)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		g.RemoveRules(ctx, 1, 1, Match{})
	}()
	<-slow.entered

	go func() {
		defer wg.Done()
		g.InstallRule(ctx, 1, Rule{Table: 1})
	}()

	// A different switch is not held up by the pending remove.
	if err := g.InstallRule(ctx, 2, Rule{Table: 1}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if ops := slow.opList(); len(ops) != 2 || ops[1] != "install" {
		t.Fatalf("ops before release = %v, want [remove install(s2)]", ops)
	}

	close(slow.release)
	wg.Wait()

	ops := slow.opList()
	want := []string{"remove", "install", "install"}
	if len(ops) != len(want) {
		t.Fatalf("ops = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Fatalf("ops = %v, want %v", ops, want)
		}
	}
	if slow.maxPerSw != 1 {
		t.Errorf("%d calls overlapped on one switch", slow.maxPerSw)
	}
}

func TestSerializedConcurrentCallsNeverOverlap(t *testing.T) {
	ctx := context.Background()
	slow := newSlowGateway()
	close(slow.release)
	g := Serialized(slow)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(sw SwitchID) {
			defer wg.Done()
			g.RemoveRules(ctx, sw, 1, Match{})
			g.InstallRule(ctx, sw, Rule{Table: 1})
		}(SwitchID(i%2 + 1))
	}
	wg.Wait()

	if slow.maxPerSw != 1 {
		t.Errorf("%d calls overlapped on one switch", slow.maxPerSw)
	}
	if n := len(slow.opList()); n != 40 {
		t.Errorf("%d ops reached the gateway, want 40", n)
	}
}
