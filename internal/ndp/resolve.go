package ndp

import (
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/buffer"
)

// ResolveStatus is the outcome of a resolve call (spec §4.7).
type ResolveStatus int

const (
	// Resolved means the link address is known and buf (if any) should be
	// sent immediately by the caller.
	Resolved ResolveStatus = iota
	// Pending means buf was queued; the caller must wait for the neighbor
	// to become reachable.
	Pending
	// StaleResolved means a link address is known but its freshness is
	// unconfirmed (STALE/DELAY/PROBE); the caller may send immediately, the
	// engine handles reachability confirmation in the background.
	StaleResolved
	// Unresolved means no route exists or the per-entry queue is full; the
	// caller must drop buf.
	Unresolved
)

// ResolveResult is returned by resolve.
type ResolveResult struct {
	Status   ResolveStatus
	LinkAddr tcpip.LinkAddress
}

// isMulticast reports whether addr is an IPv6 multicast address (RFC 4291
// §2.7: the high byte is 0xff).
func isMulticast(addr tcpip.Address) bool {
	return len(addr) == 16 && addr[0] == 0xff
}

// solicitedNodeMulticast derives the solicited-node multicast address for
// addr (RFC 4861 §2.1): ff02::1:ffXX:XXXX built from the low 24 bits of
// addr.
func solicitedNodeMulticast(addr tcpip.Address) tcpip.Address {
	b := make([]byte, 16)
	b[0], b[1] = 0xff, 0x02
	b[11] = 0x01
	b[12] = 0xff
	copy(b[13:16], addr[13:16])
	return tcpip.Address(b)
}

// resolve implements C7's resolve operation. linkAddrOf looks up a
// multicast protocol address's link-layer mapping directly (step 1 of spec
// §4.7, delegated to the link-layer collaborator); sendNS sends a multicast
// Neighbor Solicitation for addr; isNeighborAdvert reports whether buf is
// itself an outgoing Neighbor Advertisement (so the DELAY timer is not
// armed redundantly per spec §4.7 step 5); armRetransmit arms the real,
// lock-wrapped retransmission timer for a newly-created INCOMPLETE entry —
// it is only ever called once per entry, when resolve itself creates it, so
// an already-pending entry's in-flight timer is never overwritten or leaked
// by a second concurrent resolve call for the same destination.
func (c *neighborCache) resolve(
	iface tcpip.NICID,
	protoAddr tcpip.Address,
	buf buffer.VectorisedView,
	hasBuf bool,
	pool BufferPool,
	linkAddrOf func(tcpip.Address) (tcpip.LinkAddress, bool),
	sendNS func(target tcpip.Address),
	isNeighborAdvert bool,
	armDelay func(e *NeighborEntry),
	armRetransmit func(e *NeighborEntry),
) (ResolveResult, *Error) {
	if isMulticast(protoAddr) {
		if la, ok := linkAddrOf(protoAddr); ok {
			return ResolveResult{Status: Resolved, LinkAddr: la}, nil
		}
		return ResolveResult{Status: Unresolved}, errf(ErrNoRoute, "no link mapping for multicast %s", protoAddr)
	}

	e, found := c.lookup(iface, protoAddr)
	if !found {
		var nerr *Error
		e, nerr = c.insert(iface, protoAddr, "", false, "", Incomplete, false)
		if nerr != nil {
			return ResolveResult{Status: Unresolved}, nerr
		}
		if hasBuf {
			if err := c.enqueue(e, buf, pool); err != nil {
				return ResolveResult{Status: Unresolved}, err
			}
		}
		armRetransmit(e)
		sendNS(protoAddr)
		return ResolveResult{Status: Pending}, nil
	}

	switch e.state {
	case Incomplete:
		if hasBuf {
			if err := c.enqueue(e, buf, pool); err != nil {
				return ResolveResult{Status: Unresolved}, err
			}
		}
		return ResolveResult{Status: Pending}, nil

	case Reachable:
		return ResolveResult{Status: Resolved, LinkAddr: e.linkAddr}, nil

	case Stale:
		if !isNeighborAdvert {
			armDelay(e)
		}
		return ResolveResult{Status: StaleResolved, LinkAddr: e.linkAddr}, nil

	case Delay, Probe:
		return ResolveResult{Status: StaleResolved, LinkAddr: e.linkAddr}, nil
	}

	return ResolveResult{Status: Unresolved}, errf(ErrInvalidArgument, "neighbor entry %s in unknown state", protoAddr)
}
