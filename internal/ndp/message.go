package ndp

import (
	"time"

	"github.com/golang/glog"

	"github.com/netstackit/ndp6/internal/ndp/wire"
	"gvisor.dev/gvisor/pkg/tcpip"
)

// noSource is the sentinel passed to sendNS/sendRS meaning "the IPv6 source
// is the unspecified address and the source-link-addr option is omitted"
// (spec §4.6). A real protocol address is never the empty string, so this
// is unambiguous.
const noSource = tcpip.Address("")

// allRoutersMulticast is ff02::2, the all-routers multicast group Router
// Solicitations are addressed to (RFC 4861 §4.1).
var allRoutersMulticast = tcpip.Address("\xff\x02\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x02")

type nsKind int

const (
	nsKindDAD nsKind = iota
	nsKindResolve
	nsKindNUD
)

// sendNS builds and transmits a Neighbor Solicitation (spec §4.6
// send_ns). src == noSource selects the DAD form: unspecified IPv6 source,
// no source-link-addr option. Otherwise the option carries the interface's
// own link address and the transmitter picks the IPv6 source.
func (e *Engine) sendNS(iface tcpip.NICID, src tcpip.Address, target tcpip.Address, kind nsKind) {
	dst := solicitedNodeMulticast(target)
	if kind == nsKindNUD {
		dst = target
	}

	var linkAddr tcpip.LinkAddress
	var srcPtr *tcpip.Address
	if src != noSource {
		if la, err := e.link.LinkAddress(iface); err == nil {
			linkAddr = la
		}
		srcPtr = &src
	}

	body := wire.EncodeNeighborSolicitation(target, linkAddr)
	if err := e.icmp.TxMessage(iface, uint8(wire.NeighborSolicitType), 0, srcPtr, dst, 255, kind != nsKindNUD, body); err != nil {
		glog.Warningf("ndp: send NS(target=%s) on %d failed: %v", target, iface, err)
	}
}

// sendRS builds and transmits a Router Solicitation to the all-routers
// multicast group (spec §4.6 send_rs).
func (e *Engine) sendRS(iface tcpip.NICID, src tcpip.Address) {
	var linkAddr tcpip.LinkAddress
	var srcPtr *tcpip.Address
	if src != noSource {
		if la, err := e.link.LinkAddress(iface); err == nil {
			linkAddr = la
		}
		srcPtr = &src
	}
	body := wire.EncodeRouterSolicitation(linkAddr)
	if err := e.icmp.TxMessage(iface, uint8(wire.RouterSolicitType), 0, srcPtr, allRoutersMulticast, 255, true, body); err != nil {
		glog.Warningf("ndp: send RS on %d failed: %v", iface, err)
	}
}

// HandleICMPv6NDP is the C6 receive-path entry point (handle_icmpv6_ndp in
// spec §6). hopLimit and code are taken from the containing IPv6/ICMPv6
// headers; body is the NDP-specific message payload following the 4-byte
// ICMPv6 type/code/checksum header. Validation failures are dropped
// silently and tallied, per spec §7.
func (e *Engine) HandleICMPv6NDP(iface tcpip.NICID, src, dst tcpip.Address, hopLimit uint8, code uint8, msgType wire.MessageType, body []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if hopLimit != 255 || code != 0 {
		e.counters.ReceiveInvalid++
		return
	}

	switch msgType {
	case wire.NeighborSolicitType:
		ns, err := wire.ParseNeighborSolicitation(body)
		if err != nil {
			e.counters.ReceiveInvalid++
			return
		}
		e.handleNS(iface, src, dst, ns)

	case wire.NeighborAdvertType:
		na, err := wire.ParseNeighborAdvertisement(body)
		if err != nil {
			e.counters.ReceiveInvalid++
			return
		}
		e.handleNA(iface, src, dst, na)

	case wire.RouterAdvertType:
		ra, err := wire.ParseRouterAdvertisement(body)
		if err != nil {
			e.counters.ReceiveInvalid++
			return
		}
		e.handleRA(iface, src, ra)

	case wire.RedirectType:
		rd, err := wire.ParseRedirect(body)
		if err != nil {
			e.counters.ReceiveInvalid++
			return
		}
		e.handleRedirect(iface, src, rd)

	case wire.RouterSolicitType:
		// Router-side advertisement origination is a non-goal (spec §1);
		// the engine never answers a Router Solicitation.

	default:
		e.counters.ReceiveInvalid++
	}
}

// handleNS implements spec §4.6's Neighbor Solicitation handling.
func (e *Engine) handleNS(iface tcpip.NICID, src, dst tcpip.Address, ns wire.NeighborSolicitation) {
	if isMulticast(ns.Target) {
		e.counters.ReceiveInvalid++
		return
	}

	srcUnspecified := isUnspecified(src)
	if srcUnspecified {
		if !isSolicitedNodeMulticastFor(dst, ns.Target) {
			e.counters.ReceiveInvalid++
			return
		}
		if _, ok := wire.LastOption(ns.Options, wire.OptSourceLinkAddress); ok {
			e.counters.ReceiveInvalid++
			return
		}
	}

	addrs, err := e.addrCfg.AddressesOnInterface(iface)
	if err != nil {
		e.counters.ReceiveInvalid++
		return
	}
	for _, a := range addrs {
		if a.Address != ns.Target {
			continue
		}
		switch a.State {
		case AddressTentative:
			if srcUnspecified {
				e.signalDadDuplicate(ns.Target)
			}
			// Source specified: another host is trying to resolve our
			// still-tentative address. Drop (spec §4.6).
			return
		case AddressPreferred, AddressDeprecated:
			if !srcUnspecified {
				e.upsertStaleFromSource(iface, src, ns.Options)
			}
			e.sendNA(iface, ns.Target, !isMulticast(dst) /* override */, src, srcUnspecified)
			return
		default:
			return
		}
	}
	// Target matches none of our addresses: not ours to answer.
}

// sendNA builds and transmits a Neighbor Advertisement in response to an
// NS (spec §4.6). When the soliciting NS came from the unspecified address
// (a DAD probe), the reply goes to the all-nodes multicast group with the
// Solicited flag clear, per RFC 4861 §7.2.4.
func (e *Engine) sendNA(iface tcpip.NICID, target tcpip.Address, override bool, dst tcpip.Address, dstWasMulticast bool) {
	la, err := e.link.LinkAddress(iface)
	if err != nil {
		return
	}
	na := wire.NeighborAdvertisement{Router: false, Solicited: !dstWasMulticast, Override: override, Target: target}
	body := wire.EncodeNeighborAdvertisement(na, la)
	replyDst := dst
	if dstWasMulticast {
		replyDst = allNodesMulticast
	}
	if err := e.icmp.TxMessage(iface, uint8(wire.NeighborAdvertType), 0, &target, replyDst, 255, dstWasMulticast, body); err != nil {
		glog.Warningf("ndp: send NA(target=%s) on %d failed: %v", target, iface, err)
	}
}

// allNodesMulticast is ff02::1, used when replying to an NS that itself
// arrived via solicited-node multicast (RFC 4861 §4.4).
var allNodesMulticast = tcpip.Address("\xff\x02\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x01")

// upsertStaleFromSource creates or refreshes a STALE NeighborEntry for src
// using any source-link-addr option present, per spec §4.6's "update/create
// a neighbor entry for the source (STALE)".
func (e *Engine) upsertStaleFromSource(iface tcpip.NICID, src tcpip.Address, opts []wire.Option) {
	opt, ok := wire.LastOption(opts, wire.OptSourceLinkAddress)
	if ne, found := e.neighbors.lookup(iface, src); found {
		if ok {
			ne.linkAddr = opt.LinkAddress()
			ne.linkAddrValid = true
		}
		return
	}
	var linkAddr tcpip.LinkAddress
	if ok {
		linkAddr = opt.LinkAddress()
	}
	if _, err := e.neighbors.insert(iface, src, linkAddr, ok, "", Stale, false); err != nil {
		e.counters.PoolFull++
	}
}

// handleNA implements spec §4.6's Neighbor Advertisement handling and the
// C2 FSM transition table of spec §4.2.
func (e *Engine) handleNA(iface tcpip.NICID, src, dst tcpip.Address, na wire.NeighborAdvertisement) {
	if isMulticast(na.Target) {
		e.counters.ReceiveInvalid++
		return
	}
	if isMulticast(dst) && na.Solicited {
		e.counters.ReceiveInvalid++
		return
	}

	addrs, err := e.addrCfg.AddressesOnInterface(iface)
	if err == nil {
		for _, a := range addrs {
			if a.Address != na.Target {
				continue
			}
			switch a.State {
			case AddressTentative:
				e.signalDadDuplicate(na.Target)
			case AddressPreferred, AddressDeprecated:
				glog.Warningf("ndp: address conflict on %s: NA claims ownership of our address", na.Target)
			}
			return
		}
	}

	ne, found := e.neighbors.lookup(iface, na.Target)
	if !found {
		return
	}

	opt, hasLinkAddr := wire.LastOption(na.Options, wire.OptTargetLinkAddress)
	var linkAddr tcpip.LinkAddress
	if hasLinkAddr {
		linkAddr = opt.LinkAddress()
	}
	e.applyNeighborAdvertisement(ne, na, linkAddr, hasLinkAddr)
}

// applyNeighborAdvertisement drives the FSM transition table of spec §4.2
// for a single received NA.
func (e *Engine) applyNeighborAdvertisement(ne *NeighborEntry, na wire.NeighborAdvertisement, linkAddr tcpip.LinkAddress, hasLinkAddr bool) {
	wasRouter := ne.isRouter

	switch ne.state {
	case Incomplete:
		if !hasLinkAddr {
			return
		}
		ne.linkAddr = linkAddr
		ne.linkAddrValid = true
		ne.isRouter = na.Router
		ne.retries = 0
		e.freeTimer(ne)
		if na.Solicited {
			ne.state = Reachable
			ne.timer, _ = e.armTimer(ne, e.reachableTimeout(), e.onReachableTimer)
		} else {
			ne.state = Stale
		}
		e.flushQueue(ne)

	case Reachable, Stale, Delay, Probe:
		sameLinkAddr := hasLinkAddr && ne.linkAddrValid && ne.linkAddr == linkAddr
		noLinkAddrOpt := !hasLinkAddr

		if na.Override || sameLinkAddr || noLinkAddrOpt {
			changed := false
			if hasLinkAddr {
				changed = !ne.linkAddrValid || ne.linkAddr != linkAddr
				ne.linkAddr = linkAddr
				ne.linkAddrValid = true
			}
			if na.Solicited {
				e.freeTimer(ne)
				ne.state = Reachable
				ne.retries = 0
				ne.timer, _ = e.armTimer(ne, e.reachableTimeout(), e.onReachableTimer)
				e.flushQueue(ne)
			} else if changed {
				e.freeTimer(ne)
				ne.state = Stale
			}
		} else if ne.state == Reachable {
			e.freeTimer(ne)
			ne.state = Stale
		}

		ne.isRouter = na.Router
	}

	if wasRouter && !na.Router {
		e.routers.remove(ne.iface, ne.addr)
		e.destinations.invalidateNextHop(ne.iface, ne.addr)
	}
}

// handleRA implements spec §4.3/§4.4/§4.6's Router Advertisement handling.
func (e *Engine) handleRA(iface tcpip.NICID, src tcpip.Address, ra wire.RouterAdvertisement) {
	if !isLinkLocal(src) {
		e.counters.ReceiveInvalid++
		return
	}

	if ra.RetransTimer != 0 {
		e.cfg.RetransmitTimeout = ra.RetransTimer
	}
	if ra.ReachableTime != 0 {
		e.cfg.ReachableTimeout = ra.ReachableTime
	}

	e.onRouterAdv(iface, src, ra.RouterLifetime)

	if la, ok := wire.LastOption(ra.Options, wire.OptSourceLinkAddress); ok {
		e.upsertStaleFromSource(iface, src, []wire.Option{la})
	}

	if mtuOpt, ok := wire.LastOption(ra.Options, wire.OptMTU); ok && len(mtuOpt.Value) >= 6 {
		mtu := uint32(mtuOpt.Value[2])<<24 | uint32(mtuOpt.Value[3])<<16 | uint32(mtuOpt.Value[4])<<8 | uint32(mtuOpt.Value[5])
		if err := e.link.SetMTU(iface, mtu); err != nil {
			glog.Warningf("ndp: set MTU on %d failed: %v", iface, err)
		}
	}

	for _, opt := range ra.Options {
		if opt.Type != wire.OptPrefixInformation {
			continue
		}
		pi, err := wire.DecodePrefixInformation(opt)
		if err != nil {
			continue
		}
		e.onPrefixOption(iface, pi)
	}
}

// onRouterAdv implements the C3 on_router_adv operation (spec §4.3).
func (e *Engine) onRouterAdv(iface tcpip.NICID, src tcpip.Address, lifetime time.Duration) {
	if lifetime == 0 {
		if r := e.routers.remove(iface, src); r != nil && r.timer != nil {
			e.timers.Free(r.timer)
		}
		e.destinations.invalidateNextHop(iface, src)
		return
	}

	if r, _ := e.routers.find(iface, src); r != nil {
		e.freeRouterTimer(r)
		r.deadline = lifetime
		r.timer, _ = e.armTimer(r, lifetime, e.onRouterLifetimeTimer)
		return
	}
	r := e.routers.upsert(iface, src, lifetime, nil)
	r.timer, _ = e.armTimer(r, lifetime, e.onRouterLifetimeTimer)
}

func (e *Engine) freeRouterTimer(r *RouterEntry) {
	if r.timer != nil {
		e.timers.Free(r.timer)
		r.timer = nil
	}
}

// onPrefixOption implements the C4 on_prefix_option operation (spec §4.4).
func (e *Engine) onPrefixOption(iface tcpip.NICID, pi wire.PrefixInformation) {
	if pi.PrefixLength > 128 || isMulticast(pi.Prefix) || isLinkLocal(pi.Prefix) {
		return
	}
	if !pi.OnLink && !pi.Autonomous {
		return
	}

	plen := int(pi.PrefixLength)

	if pi.OnLink {
		subnet, err := newPrefixSubnet(pi.Prefix, plen)
		if err != nil {
			e.counters.ReceiveInvalid++
			return
		}
		if pi.ValidLifetime == 0 {
			if p := e.prefixes.remove(iface, subnet); p != nil && p.timer != nil {
				e.timers.Free(p.timer)
			}
			e.destinations.invalidateInterface(iface)
		} else if p := e.prefixes.find(iface, subnet); p != nil {
			if p.timer != nil {
				e.timers.Free(p.timer)
			}
			p.deadline = pi.ValidLifetime
			p.timer, _ = e.armTimer(p, pi.ValidLifetime, e.onPrefixLifetimeTimer)
		} else {
			np := e.prefixes.upsert(iface, subnet, pi.ValidLifetime, nil)
			np.timer, _ = e.armTimer(np, pi.ValidLifetime, e.onPrefixLifetimeTimer)
		}
	}

	if pi.Autonomous && e.addrCfg != nil {
		e.onAutonomousPrefix(iface, pi)
	}
}

// onAutonomousPrefix implements spec §4.4's SLAAC hook: refresh a matching
// host address's lifetime, or synthesize a new one and hand it to
// AddAddress with dadEnable set. DAD for the synthesized candidate is
// entirely the AddressConfigurator's responsibility from that point on
// (see its doc comment); this engine's own dadEngine (C8) is reserved for
// DadStart's caller-driven targets and never starts a second, redundant
// probe cycle for SLAAC candidates.
func (e *Engine) onAutonomousPrefix(iface tcpip.NICID, pi wire.PrefixInformation) {
	addrs, err := e.addrCfg.AddressesOnInterface(iface)
	if err != nil {
		return
	}

	for _, a := range addrs {
		if a.PrefixLen != int(pi.PrefixLength) || !sameUpperBits(a.Address, pi.Prefix, int(pi.PrefixLength)) {
			continue
		}
		clamped := slaacCandidate(&a, pi.ValidLifetime, a.ValidRemaining)
		if err := e.addrCfg.RefreshAddressLifetime(iface, a.Address, clamped); err != nil {
			glog.Warningf("ndp: refresh lifetime for %s failed: %v", a.Address, err)
		}
		return
	}

	linkAddr, err := e.link.LinkAddress(iface)
	if err != nil {
		return
	}
	candidate := euiSynthesize(pi.Prefix, int(pi.PrefixLength), linkAddr)
	if candidate == noSource {
		return
	}
	if err := e.addrCfg.AddAddress(iface, candidate, int(pi.PrefixLength), pi.ValidLifetime, pi.PreferredLifetime, true); err != nil {
		glog.Warningf("ndp: SLAAC AddAddress for %s failed: %v", candidate, err)
	}
}

// handleRedirect implements spec §4.5/§4.6's Redirect handling.
func (e *Engine) handleRedirect(iface tcpip.NICID, src tcpip.Address, rd wire.Redirect) {
	if !isLinkLocal(src) {
		e.counters.ReceiveInvalid++
		return
	}
	current, ok := e.destinations.lookup(iface, rd.Destination)
	if !ok || !current.valid || current.nextHop != src {
		e.counters.ReceiveInvalid++
		return
	}

	e.destinations.applyRedirect(iface, rd.Destination, rd.Target)

	if rd.Target == rd.Destination {
		return
	}
	if !isLinkLocal(rd.Target) {
		return
	}
	var linkAddr tcpip.LinkAddress
	var hasLinkAddr bool
	if opt, found := wire.LastOption(rd.Options, wire.OptTargetLinkAddress); found {
		linkAddr = opt.LinkAddress()
		hasLinkAddr = true
	}
	if _, found := e.neighbors.lookup(iface, rd.Target); !found {
		if _, err := e.neighbors.insert(iface, rd.Target, linkAddr, hasLinkAddr, "", Stale, true); err != nil {
			e.counters.PoolFull++
		}
	}
}

func isUnspecified(addr tcpip.Address) bool {
	if len(addr) != 16 {
		return true
	}
	for _, b := range addr {
		if b != 0 {
			return false
		}
	}
	return true
}

// isSolicitedNodeMulticastFor reports whether dst is the solicited-node
// multicast group derived from target (RFC 4861 §4.3's unspecified-source
// NS validation).
func isSolicitedNodeMulticastFor(dst, target tcpip.Address) bool {
	return dst == solicitedNodeMulticast(target)
}

// maskPrefix zeroes every bit of addr beyond bitLen, enforcing the C4
// storage invariant of spec §3 ("bits beyond prefix length... are zero").
func maskPrefix(addr tcpip.Address, bitLen int) tcpip.Address {
	b := []byte(addr)
	out := make([]byte, len(b))
	copy(out, b)
	for i := range out {
		bitStart := i * 8
		if bitStart >= bitLen {
			out[i] = 0
			continue
		}
		if bitStart+8 > bitLen {
			keep := bitLen - bitStart
			out[i] &= ^byte(0xff >> uint(keep))
		}
	}
	return tcpip.Address(out)
}

// sameUpperBits reports whether a and b share their first bitLen bits.
func sameUpperBits(a, b tcpip.Address, bitLen int) bool {
	return maskPrefix(a, bitLen) == maskPrefix(b, bitLen)
}

// euiSynthesize builds a SLAAC candidate address from prefix || EUI-64
// interface identifier (RFC 4291 appendix A's IEEE-48-to-EUI-64 expansion).
// It returns noSource if linkAddr isn't a 6-byte MAC address.
func euiSynthesize(prefix tcpip.Address, prefixLen int, linkAddr tcpip.LinkAddress) tcpip.Address {
	if len(linkAddr) != 6 {
		return noSource
	}
	var iid [8]byte
	iid[0] = linkAddr[0] ^ 0x02
	iid[1] = linkAddr[1]
	iid[2] = linkAddr[2]
	iid[3] = 0xff
	iid[4] = 0xfe
	iid[5] = linkAddr[3]
	iid[6] = linkAddr[4]
	iid[7] = linkAddr[5]

	out := []byte(maskPrefix(prefix, prefixLen))
	copy(out[8:], iid[:])
	return tcpip.Address(out)
}
