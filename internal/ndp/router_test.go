package ndp

import (
	"testing"
	"time"

	"gvisor.dev/gvisor/pkg/tcpip"
)

func TestRouterListUpsertFind(t *testing.T) {
	rl := newRouterList()
	r := rl.upsert(testIface, addr("r1"), time.Minute, nil)
	got, idx := rl.find(testIface, addr("r1"))
	if got != r || idx != 0 {
		t.Fatalf("find = %v, %d, want the upserted entry at index 0", got, idx)
	}
	// Upsert again should refresh in place, not duplicate.
	rl.upsert(testIface, addr("r1"), 2*time.Minute, nil)
	if len(rl.all(testIface)) != 1 {
		t.Fatalf("all() = %d entries, want 1 after re-upsert", len(rl.all(testIface)))
	}
}

func TestRouterListRemove(t *testing.T) {
	rl := newRouterList()
	rl.upsert(testIface, addr("r1"), time.Minute, nil)
	rl.upsert(testIface, addr("r2"), time.Minute, nil)
	removed := rl.remove(testIface, addr("r1"))
	if removed == nil || removed.addr != addr("r1") {
		t.Fatalf("remove = %v, want the r1 entry", removed)
	}
	if len(rl.all(testIface)) != 1 {
		t.Errorf("all() = %d entries, want 1 after remove", len(rl.all(testIface)))
	}
}

func noNeighborKnown(tcpip.NICID, tcpip.Address) (NeighborState, bool) { return 0, false }

func TestRouterSelectDefaultPrefersReachableNeighbor(t *testing.T) {
	rl := newRouterList()
	rl.upsert(testIface, addr("r1"), time.Minute, nil)
	rl.upsert(testIface, addr("r2"), time.Minute, nil)

	lookup := func(iface tcpip.NICID, a tcpip.Address) (NeighborState, bool) {
		if a == addr("r2") {
			return Reachable, true
		}
		return 0, false
	}
	r, ok := rl.selectDefault(testIface, lookup)
	if !ok || r.addr != addr("r2") {
		t.Fatalf("selectDefault = %v, want r2 (the only REACHABLE-backed router)", r)
	}
}

func TestRouterSelectDefaultRoundRobinsNonIncomplete(t *testing.T) {
	rl := newRouterList()
	rl.upsert(testIface, addr("r1"), time.Minute, nil)
	rl.upsert(testIface, addr("r2"), time.Minute, nil)

	first, ok := rl.selectDefault(testIface, noNeighborKnown)
	if !ok {
		t.Fatalf("selectDefault: no router chosen")
	}
	second, ok := rl.selectDefault(testIface, noNeighborKnown)
	if !ok {
		t.Fatalf("selectDefault: no router chosen on second call")
	}
	if first.addr == second.addr {
		t.Errorf("round-robin selected %s twice in a row across two routers", first.addr)
	}
}

func TestRouterSelectDefaultEmpty(t *testing.T) {
	rl := newRouterList()
	if _, ok := rl.selectDefault(testIface, noNeighborKnown); ok {
		t.Fatalf("selectDefault on empty list should report false")
	}
}
