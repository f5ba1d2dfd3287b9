package ndp

import (
	"gvisor.dev/gvisor/pkg/tcpip"
)

// DestinationEntry caches the next-hop decision for a destination address
// (spec §3, §4.5). A negative entry (valid == false) records that no route
// could be found, so repeated sends to an unreachable destination don't
// re-run router selection on every packet.
type DestinationEntry struct {
	dest    tcpip.Address
	nextHop tcpip.Address
	iface   tcpip.NICID
	valid   bool
}

// Destination returns the cached entry's destination address.
func (d *DestinationEntry) Destination() tcpip.Address { return d.dest }

// NextHop returns the next-hop address to use for Destination, which may
// equal Destination itself when the destination is on-link.
func (d *DestinationEntry) NextHop() tcpip.Address { return d.nextHop }

// Valid reports whether a route was actually found (spec §4.5: a negative
// cache entry still occupies a slot but resolves to "no route").
func (d *DestinationEntry) Valid() bool { return d.valid }

type destinationKey struct {
	iface tcpip.NICID
	dest  tcpip.Address
}

// destinationCache is C5.
type destinationCache struct {
	entries map[destinationKey]*DestinationEntry
}

func newDestinationCache() *destinationCache {
	return &destinationCache{entries: make(map[destinationKey]*DestinationEntry)}
}

func (dc *destinationCache) lookup(iface tcpip.NICID, dest tcpip.Address) (*DestinationEntry, bool) {
	e, ok := dc.entries[destinationKey{iface, dest}]
	return e, ok
}

func (dc *destinationCache) store(iface tcpip.NICID, dest, nextHop tcpip.Address, valid bool) *DestinationEntry {
	e := &DestinationEntry{dest: dest, nextHop: nextHop, iface: iface, valid: valid}
	dc.entries[destinationKey{iface, dest}] = e
	return e
}

// invalidateInterface drops every cached decision for iface, e.g. when its
// prefix or router set changes in a way that could change next-hop
// decisions (spec §4.5: "a destination-cache entry must be dropped when the
// router or prefix state it was derived from disappears").
func (dc *destinationCache) invalidateInterface(iface tcpip.NICID) {
	for k := range dc.entries {
		if k.iface == iface {
			delete(dc.entries, k)
		}
	}
}

// invalidateNextHop drops every cached decision whose next hop is nextHop,
// used when that router is removed from the default-router list.
func (dc *destinationCache) invalidateNextHop(iface tcpip.NICID, nextHop tcpip.Address) {
	for k, e := range dc.entries {
		if k.iface == iface && e.nextHop == nextHop {
			delete(dc.entries, k)
		}
	}
}

// clear drops every cached decision, for cache_clear_all (spec §6).
func (dc *destinationCache) clear() {
	dc.entries = make(map[destinationKey]*DestinationEntry)
}

// defaultRouterPicker is the narrow view nextHop needs of the router list,
// mirroring neighborStateLookup's pattern in router.go.
type defaultRouterPicker func(iface tcpip.NICID) (tcpip.Address, bool)

// nextHop implements the C5 next_hop operation (spec §4.5): on-link
// destinations (including link-local) route directly to themselves;
// off-link destinations route via the selected default router, or fail
// with ErrNoRoute if none is available. The result is cached, including
// negative results, so repeated lookups for an unreachable destination are
// O(1) until the interface's routing state changes.
func (dc *destinationCache) nextHop(iface tcpip.NICID, dest tcpip.Address, prefixes *prefixList, pickRouter defaultRouterPicker) (*DestinationEntry, *Error) {
	if e, ok := dc.lookup(iface, dest); ok {
		if !e.valid {
			return nil, errf(ErrNoRoute, "no route to %s on interface %d (cached)", dest, iface)
		}
		return e, nil
	}

	if isLinkLocal(dest) || prefixes.isOnLink(iface, dest) {
		return dc.store(iface, dest, dest, true), nil
	}

	if router, ok := pickRouter(iface); ok {
		return dc.store(iface, dest, router, true), nil
	}

	dc.store(iface, dest, tcpip.Address(""), false)
	return nil, errf(ErrNoRoute, "no route to %s on interface %d", dest, iface)
}

// isLinkLocal reports whether addr falls in fe80::/10, the well-known IPv6
// link-local prefix (RFC 4291 §2.5.6). Link-local destinations are always
// on-link regardless of the interface's learned prefix set (spec §4.5).
func isLinkLocal(addr tcpip.Address) bool {
	if len(addr) != 16 {
		return false
	}
	return addr[0] == 0xfe && addr[1]&0xc0 == 0x80
}

// applyRedirect implements the C5 redirect-rewrite operation (spec §4.6):
// a validated Redirect message overrides the cached next hop for dest with
// the redirect's target, provided the redirect's source is the current
// next hop for dest (RFC 4861 §8.1's "came from the current first-hop
// router for that destination" check is the caller's job before reaching
// here — this just performs the rewrite once that's confirmed).
func (dc *destinationCache) applyRedirect(iface tcpip.NICID, dest, newNextHop tcpip.Address) *DestinationEntry {
	return dc.store(iface, dest, newNextHop, true)
}
