package ndp

import (
	"testing"

	"gvisor.dev/gvisor/pkg/tcpip"
)

func TestDestinationCacheOnLinkRoutesToItself(t *testing.T) {
	dc := newDestinationCache()
	pl := newPrefixList()
	subnet := mustPrefixSubnet(t, addr("0123456789012345"), 64)
	pl.upsert(testIface, subnet, 0, nil)

	onLink := maskPrefix(addr("01234567zzzzzzzz"), 64)
	noRouter := func(tcpip.NICID) (tcpip.Address, bool) { return "", false }
	e, err := dc.nextHop(testIface, onLink, pl, noRouter)
	if err != nil {
		t.Fatalf("nextHop: %v", err)
	}
	if e.NextHop() != onLink {
		t.Errorf("NextHop() = %x, want the destination itself (on-link)", []byte(e.NextHop()))
	}
}

func TestDestinationCacheLinkLocalAlwaysOnLink(t *testing.T) {
	dc := newDestinationCache()
	pl := newPrefixList()
	linkLocal := tcpip.Address([]byte{0xfe, 0x80, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1})
	noRouter := func(tcpip.NICID) (tcpip.Address, bool) { return "", false }
	e, err := dc.nextHop(testIface, linkLocal, pl, noRouter)
	if err != nil {
		t.Fatalf("nextHop: %v", err)
	}
	if e.NextHop() != linkLocal {
		t.Errorf("NextHop() = %x, want link-local destination routed to itself", []byte(e.NextHop()))
	}
}

func TestDestinationCacheOffLinkUsesDefaultRouter(t *testing.T) {
	dc := newDestinationCache()
	pl := newPrefixList()
	router := addr("routerrouterrout")
	pick := func(tcpip.NICID) (tcpip.Address, bool) { return router, true }
	dest := addr("offlinkofflinkof")
	e, err := dc.nextHop(testIface, dest, pl, pick)
	if err != nil {
		t.Fatalf("nextHop: %v", err)
	}
	if e.NextHop() != router {
		t.Errorf("NextHop() = %x, want the default router %x", []byte(e.NextHop()), []byte(router))
	}
}

func TestDestinationCacheNoRouteIsCachedNegative(t *testing.T) {
	dc := newDestinationCache()
	pl := newPrefixList()
	noRouter := func(tcpip.NICID) (tcpip.Address, bool) { return "", false }
	dest := addr("nowhereknownnowh")

	if _, err := dc.nextHop(testIface, dest, pl, noRouter); err == nil || err.Kind != ErrNoRoute {
		t.Fatalf("first nextHop = %v, want ErrNoRoute", err)
	}
	// Repeat lookup must still report ErrNoRoute, not silently succeed with
	// an empty next hop from the cached negative entry.
	if _, err := dc.nextHop(testIface, dest, pl, noRouter); err == nil || err.Kind != ErrNoRoute {
		t.Fatalf("second (cached) nextHop = %v, want ErrNoRoute again", err)
	}
}

func TestDestinationCacheInvalidateNextHop(t *testing.T) {
	dc := newDestinationCache()
	dc.store(testIface, addr("dest1"), addr("router1"), true)
	dc.store(testIface, addr("dest2"), addr("router2"), true)
	dc.invalidateNextHop(testIface, addr("router1"))
	if _, ok := dc.lookup(testIface, addr("dest1")); ok {
		t.Errorf("entry routed via router1 should have been invalidated")
	}
	if _, ok := dc.lookup(testIface, addr("dest2")); !ok {
		t.Errorf("entry routed via router2 should be untouched")
	}
}

func TestDestinationCacheApplyRedirect(t *testing.T) {
	dc := newDestinationCache()
	dc.store(testIface, addr("dest1"), addr("router1"), true)
	dc.applyRedirect(testIface, addr("dest1"), addr("router2"))
	e, ok := dc.lookup(testIface, addr("dest1"))
	if !ok {
		t.Fatalf("lookup after redirect: not found")
	}
	if e.NextHop() != addr("router2") {
		t.Errorf("NextHop() after redirect = %x, want router2", []byte(e.NextHop()))
	}
}
