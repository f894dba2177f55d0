package loadbalancer

import (
	"net"
	"sync"
	"testing"
)

func TestParseInstances(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		instances int
		errors    int
	}{
		{"single", "10.0.100.1 02:00:00:00:00:01 10.0.0.2,10.0.0.3", 1, 0},
		{"two", "10.0.100.1 02:00:00:00:00:01 10.0.0.2;10.0.100.2 02:00:00:00:00:02 10.0.0.4,10.0.0.5", 2, 0},
		{"empty entries ignored", ";;10.0.100.1 02:00:00:00:00:01 10.0.0.2;", 1, 0},
		{"empty string", "", 0, 0},
		{"too few fields", "10.0.100.1 02:00:00:00:00:01", 0, 1},
		{"bad vip", "10.0.100 02:00:00:00:00:01 10.0.0.2", 0, 1},
		{"bad mac", "10.0.100.1 02:00:00 10.0.0.2", 0, 1},
		{"bad backend", "10.0.100.1 02:00:00:00:00:01 10.0.0.2,nope", 0, 1},
		{"ipv6 vip", "fd00::1 02:00:00:00:00:01 10.0.0.2", 0, 1},
		{"no backends", "10.0.100.1 02:00:00:00:00:01 ,", 0, 1},
		{"bad entry skipped", "garbage;10.0.100.2 02:00:00:00:00:02 10.0.0.4", 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, errs := ParseInstances(tt.in)
			if len(got) != tt.instances {
				t.Errorf("instances = %d, want %d", len(got), tt.instances)
			}
			if len(errs) != tt.errors {
				t.Errorf("errors = %v, want %d", errs, tt.errors)
			}
		})
	}
}

func TestParseInstanceFields(t *testing.T) {
	got, errs := ParseInstances("10.0.100.1 02:00:00:00:00:01 10.0.0.2,10.0.0.3")
	if len(errs) != 0 || len(got) != 1 {
		t.Fatalf("ParseInstances: %v", errs)
	}
	inst := got[0]
	if !inst.VirtualIP.Equal(net.ParseIP("10.0.100.1")) {
		t.Errorf("VirtualIP = %s", inst.VirtualIP)
	}
	if inst.VirtualMAC.String() != "02:00:00:00:00:01" {
		t.Errorf("VirtualMAC = %s", inst.VirtualMAC)
	}
	if len(inst.Backends) != 2 || !inst.Backends[1].Equal(net.ParseIP("10.0.0.3")) {
		t.Errorf("Backends = %v", inst.Backends)
	}
	if s := inst.String(); s != "10.0.100.1 02:00:00:00:00:01 10.0.0.2,10.0.0.3" {
		t.Errorf("String() = %q", s)
	}
}

func threeBackends(t *testing.T) *Instance {
	t.Helper()
	inst, err := NewInstance(
		net.ParseIP("10.0.100.1"),
		net.HardwareAddr{2, 0, 0, 0, 0, 1},
		[]net.IP{net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2"), net.ParseIP("10.0.0.3")},
	)
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}
	return inst
}

func TestNextBackendRoundRobin(t *testing.T) {
	inst := threeBackends(t)

	want := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.1"}
	for i, w := range want {
		if got := inst.NextBackend().String(); got != w {
			t.Errorf("call %d: got %s, want %s", i, got, w)
		}
	}
}

func TestNextBackendConcurrent(t *testing.T) {
	inst := threeBackends(t)

	const callers = 30
	const perCaller = 100

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		counts = map[string]int{}
	)
	for c := 0; c < callers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := map[string]int{}
			for i := 0; i < perCaller; i++ {
				local[inst.NextBackend().String()]++
			}
			mu.Lock()
			for k, v := range local {
				counts[k] += v
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	// 3000 calls over 3 backends: an exact cyclic split.
	for _, b := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		if counts[b] != callers*perCaller/3 {
			t.Errorf("%s selected %d times, want %d", b, counts[b], callers*perCaller/3)
		}
	}
}

func TestRegistry(t *testing.T) {
	a := threeBackends(t)
	b, _ := NewInstance(net.ParseIP("10.0.50.1"), net.HardwareAddr{2, 0, 0, 0, 0, 2}, []net.IP{net.ParseIP("10.0.0.9")})

	reg, err := NewRegistry([]*Instance{a, b})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if !reg.IsVirtualIP(net.ParseIP("10.0.100.1")) || reg.IsVirtualIP(net.ParseIP("10.0.0.1")) {
		t.Error("IsVirtualIP gave wrong answer")
	}
	if got, ok := reg.Lookup(net.IPv4(10, 0, 50, 1)); !ok || got != b {
		t.Error("Lookup by 16-byte IP failed")
	}
	if l := reg.List(); len(l) != 2 || l[0] != b {
		t.Errorf("List not ordered by VIP: %v", l)
	}

	if _, err := NewRegistry([]*Instance{a, threeBackends(t)}); err == nil {
		t.Error("expected duplicate VIP error")
	}
}
