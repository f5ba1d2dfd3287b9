package ndp

import (
	"time"

	"gvisor.dev/gvisor/pkg/tcpip"
)

// RouterEntry is a single entry in the per-interface default-router set
// (spec §3, §4.3).
type RouterEntry struct {
	iface    tcpip.NICID
	addr     tcpip.Address
	deadline time.Duration // most recently advertised lifetime; timer tracks expiry
	timer    TimerHandle

	// roundRobin marks the entry whose turn it is next in the
	// round-robin selection scope of its interface (spec §4.3, §9: "confine
	// rotation to a single interface scope").
	roundRobin bool

	// neighbor mirrors the back-pointer to this router's NeighborEntry,
	// when one exists (spec §3). It is recomputed on demand rather than
	// stored, since the neighbor cache is the source of truth and storing
	// a second pointer risks it going stale.
}

// Interface returns the router's interface.
func (r *RouterEntry) Interface() tcpip.NICID { return r.iface }

// Address returns the router's address.
func (r *RouterEntry) Address() tcpip.Address { return r.addr }

// routerList is C3: the per-interface default-router set.
type routerList struct {
	// byIface groups entries per interface so round-robin rotation stays
	// confined to a single interface's scope (spec §9 open question).
	byIface map[tcpip.NICID][]*RouterEntry
}

func newRouterList() *routerList {
	return &routerList{byIface: make(map[tcpip.NICID][]*RouterEntry)}
}

func (rl *routerList) find(iface tcpip.NICID, addr tcpip.Address) (*RouterEntry, int) {
	for i, r := range rl.byIface[iface] {
		if r.addr == addr {
			return r, i
		}
	}
	return nil, -1
}

// upsert inserts or refreshes a router entry with the given lifetime
// deadline. It stores whatever deadline it is given; keeping zero-lifetime
// routers out of the set is the caller's job (Engine.onRouterAdv calls
// remove for a zero lifetime and never reaches upsert).
func (rl *routerList) upsert(iface tcpip.NICID, addr tcpip.Address, deadline time.Duration, timer TimerHandle) *RouterEntry {
	if r, _ := rl.find(iface, addr); r != nil {
		r.deadline = deadline
		r.timer = timer
		return r
	}
	r := &RouterEntry{iface: iface, addr: addr, deadline: deadline, timer: timer}
	entries := rl.byIface[iface]
	if len(entries) == 0 {
		r.roundRobin = true
	}
	rl.byIface[iface] = append(entries, r)
	return r
}

// remove deletes the router entry for (iface, addr), if any, returning it.
// If the removed entry held the round-robin bit, the bit moves to whichever
// entry remains first in the set so the per-interface "at most one" bit
// invariant (spec §8) keeps holding.
func (rl *routerList) remove(iface tcpip.NICID, addr tcpip.Address) *RouterEntry {
	entries := rl.byIface[iface]
	for i, r := range entries {
		if r.addr != addr {
			continue
		}
		rl.byIface[iface] = append(entries[:i], entries[i+1:]...)
		if r.roundRobin && len(rl.byIface[iface]) > 0 {
			rl.byIface[iface][0].roundRobin = true
		}
		if len(rl.byIface[iface]) == 0 {
			delete(rl.byIface, iface)
		}
		return r
	}
	return nil
}

// all returns every router entry for iface, for diagnostics (spec §6
// router_list accessor).
func (rl *routerList) all(iface tcpip.NICID) []*RouterEntry {
	out := make([]*RouterEntry, len(rl.byIface[iface]))
	copy(out, rl.byIface[iface])
	return out
}

// advanceRoundRobin moves the round-robin bit to the next entry in
// insertion order after r, wrapping around. It is called after r is
// selected as the default router (RFC 4861 §6.3.6).
func (rl *routerList) advanceRoundRobin(iface tcpip.NICID, r *RouterEntry) {
	entries := rl.byIface[iface]
	if len(entries) == 0 {
		return
	}
	idx := -1
	for i, e := range entries {
		if e == r {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}
	for _, e := range entries {
		e.roundRobin = false
	}
	entries[(idx+1)%len(entries)].roundRobin = true
}

// neighborStateLookup is the minimal view routerList.selectDefault needs of
// the neighbor cache, kept as a narrow function type instead of a direct
// dependency so router.go has no import cycle with neighbor.go's Engine
// wiring.
type neighborStateLookup func(iface tcpip.NICID, addr tcpip.Address) (NeighborState, bool)

// selectDefault implements the default-router selection algorithm of spec
// §4.3: prefer any router whose neighbor is REACHABLE; else round-robin
// over routers whose neighbor is anything but INCOMPLETE; else round-robin
// over all routers. The round-robin bit advances on a successful selection
// from either of the latter two tiers, matching RFC 4861 §6.3.6.
func (rl *routerList) selectDefault(iface tcpip.NICID, neighborState neighborStateLookup) (*RouterEntry, bool) {
	entries := rl.byIface[iface]
	if len(entries) == 0 {
		return nil, false
	}

	for _, r := range entries {
		if st, ok := neighborState(iface, r.addr); ok && st == Reachable {
			return r, true
		}
	}

	pick := func(eligible func(*RouterEntry) bool) (*RouterEntry, bool) {
		// Start scanning from the round-robin entry so rotation actually
		// advances around the set rather than always returning the first
		// eligible entry.
		start := 0
		for i, r := range entries {
			if r.roundRobin {
				start = i
				break
			}
		}
		for i := 0; i < len(entries); i++ {
			r := entries[(start+i)%len(entries)]
			if eligible(r) {
				rl.advanceRoundRobin(iface, r)
				return r, true
			}
		}
		return nil, false
	}

	if r, ok := pick(func(r *RouterEntry) bool {
		st, ok := neighborState(iface, r.addr)
		return !ok || st != Incomplete
	}); ok {
		return r, true
	}

	return pick(func(*RouterEntry) bool { return true })
}
