package ndp

import (
	"testing"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/buffer"
)

func TestIsMulticast(t *testing.T) {
	if !isMulticast(tcpip.Address([]byte{0xff, 2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1})) {
		t.Errorf("ff02::1 should be multicast")
	}
	if isMulticast(tcpip.Address([]byte{0xfe, 0x80, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1})) {
		t.Errorf("fe80::1 should not be multicast")
	}
}

func TestSolicitedNodeMulticastDerivation(t *testing.T) {
	target := tcpip.Address([]byte{0x20, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x12, 0x34, 0x56, 0x78})
	sn := solicitedNodeMulticast(target)
	want := tcpip.Address([]byte{0xff, 2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0xff, 0x34, 0x56, 0x78})
	if sn != want {
		t.Errorf("solicitedNodeMulticast = %x, want %x", []byte(sn), []byte(want))
	}
}

func TestResolveMulticastShortCircuits(t *testing.T) {
	c := newNeighborCache(4, 4)
	target := tcpip.Address([]byte{0xff, 2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1})
	linkAddrOf := func(tcpip.Address) (tcpip.LinkAddress, bool) { return tcpip.LinkAddress("ll"), true }
	res, err := c.resolve(testIface, target, buffer.VectorisedView{}, false, nil, linkAddrOf, func(tcpip.Address) {}, false, func(*NeighborEntry) {}, func(*NeighborEntry) {})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Status != Resolved {
		t.Errorf("Status = %v, want Resolved for a multicast target", res.Status)
	}
	if _, ok := c.lookup(testIface, target); ok {
		t.Errorf("multicast resolution must never create a neighbor cache entry")
	}
}

func TestResolveFreshDestinationArmsRetransmitOnce(t *testing.T) {
	c := newNeighborCache(4, 4)
	target := addr("freshfreshfreshf")
	var armed, sent int
	linkAddrOf := func(tcpip.Address) (tcpip.LinkAddress, bool) { return "", false }
	res, err := c.resolve(testIface, target, buffer.VectorisedView{}, false, nil, linkAddrOf,
		func(tcpip.Address) { sent++ }, false, func(*NeighborEntry) {},
		func(*NeighborEntry) { armed++ })
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Status != Pending {
		t.Errorf("Status = %v, want Pending for a fresh destination", res.Status)
	}
	if armed != 1 || sent != 1 {
		t.Errorf("armed=%d sent=%d, want exactly one of each on first resolve", armed, sent)
	}

	// A second resolve call against the same still-INCOMPLETE destination
	// must not re-arm a second retransmit timer.
	res, err = c.resolve(testIface, target, buffer.VectorisedView{}, false, nil, linkAddrOf,
		func(tcpip.Address) { sent++ }, false, func(*NeighborEntry) {},
		func(*NeighborEntry) { armed++ })
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if res.Status != Pending {
		t.Errorf("second Status = %v, want Pending", res.Status)
	}
	if armed != 1 {
		t.Errorf("armed = %d after second resolve, want still 1 (no duplicate timer)", armed)
	}
}

func TestResolveReachableEntryResolvesImmediately(t *testing.T) {
	c := newNeighborCache(4, 4)
	target := addr("reachablereachab")
	c.insert(testIface, target, tcpip.LinkAddress("ll"), true, "", Reachable, false)
	linkAddrOf := func(tcpip.Address) (tcpip.LinkAddress, bool) { return "", false }
	res, err := c.resolve(testIface, target, buffer.VectorisedView{}, false, nil, linkAddrOf,
		func(tcpip.Address) {}, false, func(*NeighborEntry) {}, func(*NeighborEntry) {})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Status != Resolved || res.LinkAddr != "ll" {
		t.Errorf("resolve(REACHABLE) = %+v, want Resolved/ll", res)
	}
}

func TestResolveStaleEntryArmsDelay(t *testing.T) {
	c := newNeighborCache(4, 4)
	target := addr("stalestalestalez")
	c.insert(testIface, target, tcpip.LinkAddress("ll"), true, "", Stale, false)
	linkAddrOf := func(tcpip.Address) (tcpip.LinkAddress, bool) { return "", false }
	var delayed int
	res, err := c.resolve(testIface, target, buffer.VectorisedView{}, false, nil, linkAddrOf,
		func(tcpip.Address) {}, false, func(*NeighborEntry) { delayed++ }, func(*NeighborEntry) {})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Status != StaleResolved {
		t.Errorf("Status = %v, want StaleResolved", res.Status)
	}
	if delayed != 1 {
		t.Errorf("armDelay called %d times, want 1", delayed)
	}
}
