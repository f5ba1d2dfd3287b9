// Package ndp implements the IPv6 Neighbor Discovery Protocol engine (RFC
// 4861) and the Duplicate Address Detection subset of RFC 4862 (RFC 4862
// §5.4): neighbor reachability tracking, default-router and on-link-prefix
// maintenance, next-hop memoization, and tentative-address uniqueness
// probing. The datagram layer, ICMPv6 codec, link driver, timer tick
// service and buffer pool are all external collaborators (collaborators.go)
// supplied by the embedding stack.
package ndp

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/buffer"
)

// Engine is the single value collapsing every piece of what the original
// implementation kept as process-global state (spec §9): one mutex
// serializes packet ingress, the resolver, timer callbacks and
// configuration calls, exactly as described in spec §5.
type Engine struct {
	mu sync.Mutex

	cfg Config

	link    LinkAddresser
	addrCfg AddressConfigurator
	icmp    ICMPv6Transmitter
	linkTx  LinkTransmitter
	pool    BufferPool
	timers  TimerService
	notify  ResolutionNotifier

	neighbors    *neighborCache
	routers      *routerList
	prefixes     *prefixList
	destinations *destinationCache
	dad          *dadEngine

	// counters mirrors the "receive-invalid counter" of spec §7; exposed
	// for diagnostics, never consulted by engine logic itself.
	counters Counters
}

// Counters tallies the per-spec-§7 error classes that are swallowed rather
// than returned, so an operator can still see them (spec §7: "dropped
// silently, a receive-invalid counter is incremented").
type Counters struct {
	ReceiveInvalid      uint64
	PoolFull            uint64
	QueueOverflow       uint64
	TimerAcquireFailure uint64
}

// NewEngine builds an Engine from its configuration and collaborators. cfg
// is normalized (out-of-range knobs silently clamped to defaults, per
// Config.Normalize) rather than rejected, matching the original engine's
// documented recovery behavior.
func NewEngine(cfg Config, link LinkAddresser, addrCfg AddressConfigurator, icmp ICMPv6Transmitter, linkTx LinkTransmitter, pool BufferPool, timers TimerService) *Engine {
	cfg = cfg.Normalize()
	return &Engine{
		cfg:          cfg,
		link:         link,
		addrCfg:      addrCfg,
		icmp:         icmp,
		linkTx:       linkTx,
		pool:         pool,
		timers:       timers,
		neighbors:    newNeighborCache(cfg.NeighborCacheSize, cfg.PerEntryQueueCap),
		routers:      newRouterList(),
		prefixes:     newPrefixList(),
		destinations: newDestinationCache(),
		dad:          newDadEngine(),
	}
}

// SetResolutionNotifier installs an optional collaborator to be told about
// asynchronous resolution failures (spec §7). Passing nil disables
// notification; the default Engine has none.
func (e *Engine) SetResolutionNotifier(n ResolutionNotifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notify = n
}

// SetConfig installs a new configuration, normalized the same way
// NewEngine normalizes its initial one. Per spec §5, knob writes are meant
// to be a short critical section distinct from the main lock on the
// original target (interrupts disabled because timer-thread reads aren't
// lock-guarded); here everything is already serialized by Engine.mu, so the
// same lock covers both.
func (e *Engine) SetConfig(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg.Normalize()
}

// Config returns the engine's active configuration.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// armTimer schedules callback to run under the engine's lock after d,
// passing arg back unmodified. Every timer the engine ever sets goes
// through this one helper so dispatch is uniform (spec §9: "one tick
// callback dispatch per scheduled event").
func (e *Engine) armTimer(arg interface{}, d time.Duration, callback func(arg interface{})) (TimerHandle, *Error) {
	h, err := e.timers.Get(func(a interface{}) {
		e.mu.Lock()
		defer e.mu.Unlock()
		callback(a)
	}, arg, d)
	if err != nil {
		e.counters.TimerAcquireFailure++
		return nil, errf(ErrTimerAcquisition, "timer acquisition failed: %v", err)
	}
	return h, nil
}

// reachableTimeout applies RFC 4861 §6.3.4's randomization: the actual
// REACHABLE lifetime is drawn uniformly from [0.5, 1.5] * ReachableTimeout
// so that neighbors sharing a link don't all expire in lockstep (spec §9
// supplemented feature; see SPEC_FULL.md).
func (e *Engine) reachableTimeout() time.Duration {
	base := e.cfg.ReachableTimeout
	jitter := time.Duration(pseudoRandFactor() * float64(base))
	return base/2 + jitter
}

// pseudoRandFactor returns a value in [0, 1). It exists as a single seam so
// tests can make reachable-time randomization deterministic without the
// engine importing math/rand directly into every call site.
var pseudoRandFactor = defaultRandFactor

// --- Resolver (C7) + destination cache (C5) entry point ---------------

// ResolveTx is the resolver entry point used by IPv6 transmit
// (neighbor_handle_tx in spec §6). It first consults the destination cache
// for a next hop, then resolves that next hop's link address via the
// neighbor cache, enqueuing buf when resolution is pending.
func (e *Engine) ResolveTx(iface tcpip.NICID, dest tcpip.Address, buf buffer.VectorisedView, hasBuf bool) (ResolveResult, *Error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if isMulticast(dest) {
		la, ok := e.linkAddrForMulticast(iface, dest)
		if !ok {
			return ResolveResult{Status: Unresolved}, errf(ErrNoRoute, "no link mapping for multicast %s", dest)
		}
		return ResolveResult{Status: Resolved, LinkAddr: la}, nil
	}

	dst, derr := e.destinations.nextHop(iface, dest, e.prefixes, e.pickDefaultRouter)
	if derr != nil {
		return ResolveResult{Status: Unresolved}, derr
	}

	res, rerr := e.neighbors.resolve(
		iface, dst.NextHop(), buf, hasBuf, e.pool,
		func(addr tcpip.Address) (tcpip.LinkAddress, bool) { return e.linkAddrForMulticast(iface, addr) },
		func(target tcpip.Address) { e.sendNS(iface, noSource, target, nsKindResolve) },
		false,
		func(ne *NeighborEntry) { e.armDelayTimer(ne) },
		func(ne *NeighborEntry) { ne.timer, _ = e.armTimer(ne, e.cfg.RetransmitTimeout, e.onNeighborSolicitTimer) },
	)
	if rerr != nil {
		if rerr.Kind == ErrPoolFull {
			e.counters.PoolFull++
		}
		if rerr.Kind == ErrUnresolved {
			e.counters.QueueOverflow++
		}
		return res, rerr
	}
	return res, nil
}

// linkAddrForMulticast wraps LinkAddresser.MulticastLinkAddress for iface,
// for the resolver's multicast short-circuit (spec §4.7 step 1). It reports
// false when the collaborator returns an error.
func (e *Engine) linkAddrForMulticast(iface tcpip.NICID, addr tcpip.Address) (tcpip.LinkAddress, bool) {
	la, err := e.link.MulticastLinkAddress(iface, addr)
	if err != nil {
		return "", false
	}
	return la, true
}

func (e *Engine) pickDefaultRouter(iface tcpip.NICID) (tcpip.Address, bool) {
	r, ok := e.routers.selectDefault(iface, e.neighborStateOf)
	if !ok {
		return "", false
	}
	return r.Address(), true
}

func (e *Engine) neighborStateOf(iface tcpip.NICID, addr tcpip.Address) (NeighborState, bool) {
	n, ok := e.neighbors.lookup(iface, addr)
	if !ok {
		return 0, false
	}
	return n.state, true
}

// freeTimer releases ne's current timer handle, if any, so callers can
// rearm it for the entry's next state without leaking the old one.
func (e *Engine) freeTimer(ne *NeighborEntry) {
	if ne.timer != nil {
		e.timers.Free(ne.timer)
		ne.timer = nil
	}
}

// flushQueue drains ne's deferred transmit queue and hands each buffer to
// the link driver now that ne.linkAddr is known (spec §4.2 "flush queue to
// driver"). Buffers the driver rejects are released back to the pool
// rather than leaked.
func (e *Engine) flushQueue(ne *NeighborEntry) {
	if !ne.linkAddrValid {
		return
	}
	for _, buf := range e.neighbors.drain(ne) {
		if e.linkTx == nil {
			e.pool.TxDealloc(buf)
			continue
		}
		if err := e.linkTx.SendQueued(ne.iface, ne.linkAddr, buf); err != nil {
			glog.Warningf("ndp: flush queued buffer to %s failed: %v", ne.addr, err)
			e.pool.TxDealloc(buf)
		}
	}
}

func (e *Engine) armDelayTimer(ne *NeighborEntry) {
	if ne.state != Stale {
		return
	}
	ne.state = Delay
	if ne.timer != nil {
		e.timers.Free(ne.timer)
	}
	ne.timer, _ = e.armTimer(ne, e.cfg.DelayFirstProbeTimeout, e.onDelayTimer)
}

// --- Neighbor FSM timer callbacks (C2) ---------------------------------

func (e *Engine) onNeighborSolicitTimer(arg interface{}) {
	ne, ok := arg.(*NeighborEntry)
	if !ok {
		return
	}
	if _, present := e.neighbors.lookup(ne.iface, ne.addr); !present {
		return
	}

	switch ne.state {
	case Incomplete:
		if ne.retries < e.cfg.MaxMulticastSolicitations {
			ne.retries++
			e.sendNS(ne.iface, noSource, ne.addr, nsKindResolve)
			ne.timer, _ = e.armTimer(ne, e.cfg.RetransmitTimeout, e.onNeighborSolicitTimer)
			return
		}
		e.dropNeighbor(ne)
	case Probe:
		if ne.retries < e.cfg.MaxUnicastSolicitations {
			ne.retries++
			e.sendNS(ne.iface, noSource, ne.addr, nsKindNUD)
			ne.timer, _ = e.armTimer(ne, e.cfg.RetransmitTimeout, e.onNeighborSolicitTimer)
			return
		}
		e.removeNeighborAndRoutes(ne)
	}
}

func (e *Engine) onReachableTimer(arg interface{}) {
	ne, ok := arg.(*NeighborEntry)
	if !ok {
		return
	}
	if ne.state != Reachable {
		return
	}
	ne.state = Stale
	if ne.timer != nil {
		e.timers.Free(ne.timer)
		ne.timer = nil
	}
}

func (e *Engine) onDelayTimer(arg interface{}) {
	ne, ok := arg.(*NeighborEntry)
	if !ok {
		return
	}
	if ne.state != Delay {
		return
	}
	ne.state = Probe
	ne.retries = 0
	e.sendNS(ne.iface, noSource, ne.addr, nsKindNUD)
	ne.timer, _ = e.armTimer(ne, e.cfg.RetransmitTimeout, e.onNeighborSolicitTimer)
}

// dropNeighbor implements INCOMPLETE retry exhaustion (spec §4.2): drop the
// entry and its queued buffers, no destination-cache side effects since an
// INCOMPLETE entry is never a router and was never a valid next hop.
func (e *Engine) dropNeighbor(ne *NeighborEntry) {
	iface, addr := ne.iface, ne.addr
	e.neighbors.remove(ne, e.timers, e.pool)
	if e.notify != nil {
		e.notify.DestinationUnreachable(iface, addr)
	}
}

// removeNeighborAndRoutes implements PROBE retry exhaustion (spec §4.2):
// remove the neighbor and any destination-cache entries naming it.
func (e *Engine) removeNeighborAndRoutes(ne *NeighborEntry) {
	iface, addr := ne.iface, ne.addr
	e.destinations.invalidateNextHop(iface, addr)
	e.neighbors.remove(ne, e.timers, e.pool)
	if e.notify != nil {
		e.notify.NeighborUnreachable(iface, addr)
	}
}

// --- Router list (C3) timer callback -----------------------------------

func (e *Engine) onRouterLifetimeTimer(arg interface{}) {
	r, ok := arg.(*RouterEntry)
	if !ok {
		return
	}
	if found, _ := e.routers.find(r.iface, r.addr); found != r {
		return
	}
	e.routers.remove(r.iface, r.addr)
	e.destinations.invalidateNextHop(r.iface, r.addr)
}

// --- Prefix list (C4) timer callback -----------------------------------

func (e *Engine) onPrefixLifetimeTimer(arg interface{}) {
	p, ok := arg.(*PrefixEntry)
	if !ok {
		return
	}
	if found := e.prefixes.find(p.iface, p.subnet); found != p {
		return
	}
	e.prefixes.remove(p.iface, p.subnet)
	e.destinations.invalidateInterface(p.iface)
}

// --- DAD engine (C8) ----------------------------------------------------

// DadStart implements dad_start (spec §4.8). For DadBlocking it blocks the
// calling goroutine until the outcome is known, releasing Engine.mu for the
// duration per spec §5's concurrency contract; every other mode returns
// immediately. DadCallback's outcome is delivered later via hook; DadSilent's
// is not reported.
func (e *Engine) DadStart(ctx context.Context, iface tcpip.NICID, target tcpip.Address, mode DadMode, hook func(DadOutcome)) (DadOutcome, *Error) {
	e.mu.Lock()

	if e.cfg.MaxDADSolicitations == 0 {
		e.mu.Unlock()
		if mode == DadCallback && hook != nil {
			hook(DadSucceeded)
		}
		return DadSucceeded, nil
	}

	ne, nerr := e.neighbors.insert(iface, target, "", false, "", Incomplete, false)
	if nerr != nil {
		e.mu.Unlock()
		return DadFailed, nerr
	}
	task, terr := e.dad.start(iface, target, mode, hook, ne)
	if terr != nil {
		e.neighbors.remove(ne, e.timers, e.pool)
		e.mu.Unlock()
		return DadFailed, terr
	}
	var armErr *Error
	ne.timer, armErr = e.armTimer(ne, e.cfg.RetransmitTimeout, e.onDadTimer)
	if armErr != nil {
		e.dad.stop(target)
		e.neighbors.remove(ne, e.timers, e.pool)
		e.mu.Unlock()
		return DadFailed, armErr
	}
	e.sendNS(iface, noSource, target, nsKindDAD)

	if mode != DadBlocking {
		e.mu.Unlock()
		return DadSucceeded, nil // outcome delivered asynchronously
	}

	outcome, err := task.wait(ctx, e.mu.Unlock, e.mu.Lock)
	e.mu.Unlock()
	if err != nil {
		return DadFailed, errf(ErrTimerAcquisition, "dad wait: %v", err)
	}
	return outcome, nil
}

func (e *Engine) onDadTimer(arg interface{}) {
	ne, ok := arg.(*NeighborEntry)
	if !ok || ne.dad == nil {
		return
	}
	task := ne.dad
	if task.neighbor != ne {
		return
	}
	if ne.retries < e.cfg.MaxDADSolicitations-1 {
		ne.retries++
		e.sendNS(ne.iface, noSource, ne.addr, nsKindDAD)
		ne.timer, _ = e.armTimer(ne, e.cfg.RetransmitTimeout, e.onDadTimer)
		return
	}
	e.neighbors.remove(ne, e.timers, e.pool)
	e.dad.complete(task, DadSucceeded)
}

// signalDadDuplicate delivers a Duplicate outcome for target if a DadTask
// is active for it, tearing down its NeighborEntry. Called from the
// message-handling path on conflicting NS/NA receipt (spec §4.6).
func (e *Engine) signalDadDuplicate(target tcpip.Address) {
	task, ok := e.dad.find(target)
	if !ok {
		return
	}
	ne := task.neighbor
	e.dad.complete(task, DadDuplicate)
	if ne != nil {
		e.neighbors.remove(ne, e.timers, e.pool)
	}
}

// DadStop implements dad_stop (spec §5 "Cancellation"): removes the DAD
// task and its paired NeighborEntry, releasing any in-flight timer.
func (e *Engine) DadStop(iface tcpip.NICID, target tcpip.Address) {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, ok := e.dad.stop(target)
	if !ok {
		return
	}
	if task.neighbor != nil {
		e.neighbors.remove(task.neighbor, e.timers, e.pool)
	}
}

// --- Diagnostics / testing accessors ------------------------------------

// CacheClearAll flushes every engine-owned cache: neighbors, routers,
// prefixes, destinations. Used by tests (spec §6 cache_clear_all); the
// per-interface flush on unplanned interface shutdown is ClearInterface.
func (e *Engine) CacheClearAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.neighbors.clear(e.timers, e.pool)
	for iface := range e.routers.byIface {
		for _, r := range e.routers.all(iface) {
			if r.timer != nil {
				e.timers.Free(r.timer)
			}
		}
	}
	e.routers = newRouterList()
	for iface := range e.prefixes.byIface {
		e.prefixes.clearInterface(iface, e.timers)
	}
	e.destinations.clear()
}

// ClearInterface implements the "unplanned interface shutdown" full flush
// of spec §5: every cache entry referencing iface is removed.
func (e *Engine) ClearInterface(iface tcpip.NICID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.neighbors.clearInterface(iface, e.timers, e.pool)
	for _, r := range e.routers.all(iface) {
		if r.timer != nil {
			e.timers.Free(r.timer)
		}
		e.routers.remove(iface, r.addr)
	}
	e.prefixes.clearInterface(iface, e.timers)
	e.destinations.invalidateInterface(iface)
}

// RouterList returns a snapshot of iface's default-router set, for
// diagnostics (spec §6 router_list accessor).
func (e *Engine) RouterList(iface tcpip.NICID) []*RouterEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.routers.all(iface)
}

// PrefixList returns a snapshot of iface's on-link prefix set, for
// diagnostics (spec §6 prefix_list accessor).
func (e *Engine) PrefixList(iface tcpip.NICID) []*PrefixEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prefixes.all(iface)
}

// NeighborState returns the current FSM state of (iface, addr), for
// diagnostics (spec §6 neighbor_state accessor).
func (e *Engine) NeighborState(iface tcpip.NICID, addr tcpip.Address) (NeighborState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.neighbors.lookup(iface, addr)
	if !ok {
		return 0, false
	}
	return n.state, true
}

// CountersSnapshot returns a snapshot of the engine's error-class tallies (spec
// §7).
func (e *Engine) CountersSnapshot() Counters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters
}

func init() {
	// glog writes to stderr by default like the rest of the fuchsia
	// netstack tooling; the engine itself logs only warnings (failed
	// transmit or collaborator calls, address conflicts), so nothing is
	// printed on the hot path unless something fails.
	if glog.V(5) {
		glog.Info("ndp engine package initialized")
	}
}
