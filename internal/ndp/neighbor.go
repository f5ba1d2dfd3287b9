package ndp

import (
	"gvisor.dev/gvisor/pkg/ilist"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/buffer"
)

// NeighborState is the reachability state of a NeighborEntry (RFC 4861
// §7.3.2, spec §4.2).
type NeighborState int

const (
	Incomplete NeighborState = iota
	Reachable
	Stale
	Delay
	Probe
)

func (s NeighborState) String() string {
	switch s {
	case Incomplete:
		return "INCOMPLETE"
	case Reachable:
		return "REACHABLE"
	case Stale:
		return "STALE"
	case Delay:
		return "DELAY"
	case Probe:
		return "PROBE"
	default:
		return "UNKNOWN"
	}
}

// neighborKey identifies a NeighborEntry by the (interface, protocol
// address) pair spec §3 says must be unique.
type neighborKey struct {
	iface tcpip.NICID
	addr  tcpip.Address
}

// NeighborEntry is a single tracked neighbor (spec §3). It embeds
// ilist.Entry so the cache's most-recently-used list (used for eviction,
// spec §4.1) can be intrusive rather than a separately allocated node, the
// same technique the teacher's gvisor fork uses for its primary-endpoint
// list in nic.go.
type NeighborEntry struct {
	ilist.Entry

	iface tcpip.NICID
	addr  tcpip.Address

	linkAddr      tcpip.LinkAddress
	linkAddrValid bool

	// solicitedFrom is the source address to use when retransmitting a
	// solicitation for this entry (spec §3).
	solicitedFrom tcpip.Address

	state    NeighborState
	isRouter bool

	retries int
	timer   TimerHandle

	queue []buffer.VectorisedView

	// dad is non-nil while this entry exists to back a DadTask (spec §3:
	// "a DadTask is always paired with a NeighborEntry in INCOMPLETE state
	// for its target").
	dad *dadTask
}

// Interface returns the interface the entry belongs to.
func (n *NeighborEntry) Interface() tcpip.NICID { return n.iface }

// Address returns the entry's protocol address.
func (n *NeighborEntry) Address() tcpip.Address { return n.addr }

// LinkAddress returns the entry's resolved link address and whether one has
// been recorded yet.
func (n *NeighborEntry) LinkAddress() (tcpip.LinkAddress, bool) {
	return n.linkAddr, n.linkAddrValid
}

// CurrentState returns the entry's FSM state.
func (n *NeighborEntry) CurrentState() NeighborState { return n.state }

// IsRouter reports the entry's router flag.
func (n *NeighborEntry) IsRouter() bool { return n.isRouter }

// neighborCache is C1: the address cache plus its per-entry deferred
// transmit queues.
type neighborCache struct {
	entries map[neighborKey]*NeighborEntry
	mru     ilist.List // most-recently-used at Front(), eviction scans from Back()
	cap     int
	queueCap int
}

func newNeighborCache(capacity, perEntryQueueCap int) *neighborCache {
	return &neighborCache{
		entries:  make(map[neighborKey]*NeighborEntry),
		cap:      capacity,
		queueCap: perEntryQueueCap,
	}
}

// lookup implements the C1 lookup operation: exact match on (iface,
// protoAddr).
func (c *neighborCache) lookup(iface tcpip.NICID, protoAddr tcpip.Address) (*NeighborEntry, bool) {
	e, ok := c.entries[neighborKey{iface, protoAddr}]
	return e, ok
}

// insert implements the C1 insert operation. It fails with ErrPoolFull only
// when the cache is at capacity and no reclaimable (non-INCOMPLETE) entry
// exists.
func (c *neighborCache) insert(iface tcpip.NICID, protoAddr tcpip.Address, linkAddr tcpip.LinkAddress, linkAddrValid bool, solicitedFrom tcpip.Address, state NeighborState, isRouter bool) (*NeighborEntry, *Error) {
	key := neighborKey{iface, protoAddr}
	if existing, ok := c.entries[key]; ok {
		c.mru.Remove(existing)
		delete(c.entries, key)
	} else if len(c.entries) >= c.cap {
		if !c.evictOne() {
			return nil, errf(ErrPoolFull, "neighbor cache full at %d entries", c.cap)
		}
	}

	e := &NeighborEntry{
		iface:         iface,
		addr:          protoAddr,
		linkAddr:      linkAddr,
		linkAddrValid: linkAddrValid,
		solicitedFrom: solicitedFrom,
		state:         state,
		isRouter:      isRouter,
	}
	c.entries[key] = e
	c.mru.PushFront(e)
	return e, nil
}

// evictOne removes the least-recently-inserted entry that is not
// INCOMPLETE, per spec §4.1's reclamation policy. insert pushes every new
// or re-inserted entry to the front of the MRU list, so scanning starts at
// the back (the oldest insertion) and walks forward until a reclaimable
// entry is found or the list is exhausted.
func (c *neighborCache) evictOne() bool {
	for el := c.mru.Back(); el != nil; el = el.Prev() {
		e := el.(*NeighborEntry)
		if e.state == Incomplete {
			continue
		}
		c.removeLocked(e, nil)
		return true
	}
	return false
}

// touch moves e to the front of the MRU list, recording a fresh use.
func (c *neighborCache) touch(e *NeighborEntry) {
	c.mru.Remove(e)
	c.mru.PushFront(e)
}

// enqueue implements the C1 enqueue operation: append buf to e's deferred
// transmit queue, dropping it with ErrUnresolved if the per-entry cap is
// reached. pool.OnFree is wired so that if the buffer pool reclaims buf for
// an unrelated reason, the engine's queue is kept consistent (spec §5).
func (c *neighborCache) enqueue(e *NeighborEntry, buf buffer.VectorisedView, pool BufferPool) *Error {
	if len(e.queue) >= c.queueCap {
		return errf(ErrUnresolved, "per-entry queue cap (%d) reached for %s", c.queueCap, e.addr)
	}
	e.queue = append(e.queue, buf)
	if pool != nil {
		pool.OnFree(buf, func() { c.unlink(e, buf) })
	}
	return nil
}

// unlink removes buf from e's queue if still present, without otherwise
// disturbing e. It implements the "unlink on free" hook of spec §4.1/§5.
func (c *neighborCache) unlink(e *NeighborEntry, buf buffer.VectorisedView) {
	for i, b := range e.queue {
		if sameBuffer(b, buf) {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			return
		}
	}
}

func sameBuffer(a, b buffer.VectorisedView) bool {
	// VectorisedView has no identity field of its own; buffers enqueued by
	// this engine are always distinct backing arrays, so comparing the
	// first view's base address via slice header equality is sufficient
	// to recognize "the same buffer" without requiring BufferPool to carry
	// a dedicated id type.
	av, bv := a.ToView(), b.ToView()
	if len(av) == 0 || len(bv) == 0 {
		return len(av) == len(bv)
	}
	return &av[0] == &bv[0]
}

// drain implements the C1 drain operation: remove and return every queued
// buffer, clearing the queue.
func (c *neighborCache) drain(e *NeighborEntry) []buffer.VectorisedView {
	q := e.queue
	e.queue = nil
	return q
}

// remove implements the C1 remove operation: release the entry's timer,
// drain its queue back to the transmitter-dealloc path, and return the slot.
func (c *neighborCache) remove(e *NeighborEntry, timers TimerService, pool BufferPool) {
	c.removeLocked(e, func(drained []buffer.VectorisedView) {
		if pool == nil {
			return
		}
		for _, b := range drained {
			pool.TxDealloc(b)
		}
	})
	if timers != nil && e.timer != nil {
		timers.Free(e.timer)
		e.timer = nil
	}
}

func (c *neighborCache) removeLocked(e *NeighborEntry, onDrain func([]buffer.VectorisedView)) {
	key := neighborKey{e.iface, e.addr}
	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.mru.Remove(e)
	}
	drained := c.drain(e)
	if onDrain != nil {
		onDrain(drained)
	}
}

// clear removes every entry from the cache, freeing timers and draining
// queues. Used by cache_clear_all (spec §6); interface shutdown uses
// clearInterface.
func (c *neighborCache) clear(timers TimerService, pool BufferPool) {
	for _, e := range c.entries {
		c.remove(e, timers, pool)
	}
}

// clearInterface removes every entry belonging to iface, per spec §5's
// "Unplanned interface shutdown invokes a full flush".
func (c *neighborCache) clearInterface(iface tcpip.NICID, timers TimerService, pool BufferPool) {
	var victims []*NeighborEntry
	for k, e := range c.entries {
		if k.iface == iface {
			victims = append(victims, e)
		}
	}
	for _, e := range victims {
		c.remove(e, timers, pool)
	}
}

// all returns a snapshot of every entry, for diagnostics (spec §6's
// neighbor_state enumeration accessor).
func (c *neighborCache) all() []*NeighborEntry {
	out := make([]*NeighborEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	return out
}
