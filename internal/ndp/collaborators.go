package ndp

import (
	"time"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/buffer"
)

// AddressState is the lifecycle state of one of an interface's configured
// IPv6 addresses, as tracked by the address-configuration collaborator
// (spec §6, §4.8).
type AddressState int

const (
	AddressNone AddressState = iota
	AddressTentative
	AddressPreferred
	AddressDeprecated
	AddressDuplicated
)

// ConfiguredAddress describes one address configured on an interface, as
// returned by AddressConfigurator.AddressesOnInterface.
type ConfiguredAddress struct {
	Address    tcpip.Address
	State      AddressState
	PrefixLen  int
	Autonomous bool
	// ValidRemaining is how much of the address's current valid lifetime
	// is left, used by the RFC 4862 §5.5.3 refresh clamp in prefix.go.
	ValidRemaining time.Duration
}

// LinkAddresser exposes the per-interface facts the engine needs from the
// link layer and is never allowed to cache itself (spec §5: "Interface
// link-addrs are read from the interface collaborator per message; they are
// not cached inside the engine").
type LinkAddresser interface {
	// LinkAddress returns the interface's own link-layer address.
	LinkAddress(iface tcpip.NICID) (tcpip.LinkAddress, error)
	// SetMTU applies a link MTU learned from a Router Advertisement's MTU
	// option.
	SetMTU(iface tcpip.NICID, mtu uint32) error
	// MulticastLinkAddress maps an IPv6 multicast protocol address to its
	// link-layer multicast address (e.g. RFC 2464 §7's Ethernet mapping),
	// used by the resolver's multicast short-circuit (spec §4.7 step 1).
	MulticastLinkAddress(iface tcpip.NICID, addr tcpip.Address) (tcpip.LinkAddress, error)
}

// AddressConfigurator is the IPv6 address-configuration collaborator used
// by prefix-driven SLAAC (spec §4.4) and by DAD's target-state queries
// (spec §4.6).
type AddressConfigurator interface {
	// AddressesOnInterface enumerates the addresses currently configured
	// on iface, in any lifecycle state.
	AddressesOnInterface(iface tcpip.NICID) ([]ConfiguredAddress, error)
	// RefreshAddressLifetime updates the valid lifetime of an existing
	// host address whose prefix matches an autonomous prefix option,
	// applying the RFC 4862 §5.5.3 clamp (the caller, not the
	// collaborator, computes the clamp; this just applies the result).
	RefreshAddressLifetime(iface tcpip.NICID, addr tcpip.Address, validLifetime time.Duration) error
	// AddAddress submits a synthesized SLAAC candidate address for DAD and,
	// on success, installs it in dadEnable mode with the given lifetimes.
	AddAddress(iface tcpip.NICID, addr tcpip.Address, prefixLen int, validLifetime, preferredLifetime time.Duration, dadEnable bool) error
}

// ICMPv6Transmitter hands a fully-built NDP message body to the ICMPv6
// layer for checksumming, IPv6 header framing and transmission. The engine
// never computes a checksum or builds an IPv6 header itself: that work
// belongs to this collaborator (spec §1, §6).
type ICMPv6Transmitter interface {
	TxMessage(iface tcpip.NICID, typ uint8, code uint8, src *tcpip.Address, dst tcpip.Address, hopLimit uint8, dstIsMulticast bool, payload []byte) error
}

// LinkTransmitter hands a buffer the resolver had deferred back to the
// link driver now that its destination's link address is known (spec §3:
// "dequeue transfers back to the transmitter"; spec §4.2: "flush queue to
// driver"). It is a distinct collaborator from ICMPv6Transmitter because
// the deferred buffers are arbitrary upper-layer IPv6 packets, not NDP
// messages the engine itself composed.
type LinkTransmitter interface {
	SendQueued(iface tcpip.NICID, linkAddr tcpip.LinkAddress, buf buffer.VectorisedView) error
}

// BufferPool is the generic, engine-external buffer pool. Buffers enqueued
// by the engine (spec §4.1 enqueue/drain) must be releasable back to this
// pool, and the pool may reclaim a buffer out from under the engine — hence
// OnFree, which lets the engine register an unlink hook per spec §5's
// "Shared resource policy".
type BufferPool interface {
	// TxDealloc releases a buffer the engine decided not to deliver (e.g.
	// queued packets dropped on neighbor-reachability failure).
	TxDealloc(buf buffer.VectorisedView)
	// OnFree registers hook to be invoked if the pool reclaims buf for a
	// reason other than the engine draining it. hook is called at most
	// once; after it fires the engine must not touch buf again.
	OnFree(buf buffer.VectorisedView, hook func())
}

// ResolutionNotifier is an optional collaborator the IPv6 layer can supply
// to learn about resolution failures that happen asynchronously, off a
// timer rather than inline with a resolve call (spec §7:
// "NeighborUnreachable... Propagated to the IPv6 layer"). A nil
// ResolutionNotifier is valid; the event is then dropped without being
// reported, and no counter records it.
type ResolutionNotifier interface {
	// NeighborUnreachable reports that (iface, addr) exhausted its PROBE
	// retries and was removed from the neighbor cache.
	NeighborUnreachable(iface tcpip.NICID, addr tcpip.Address)
	// DestinationUnreachable optionally reports that buffers queued for
	// (iface, addr) were dropped after INCOMPLETE retries were exhausted
	// (spec §9 open question, NET-781: surfaced only if the notifier wants
	// it — the engine never originates an ICMPv6 error itself, since that
	// belongs to the ICMPv6 codec collaborator, not this core).
	DestinationUnreachable(iface tcpip.NICID, addr tcpip.Address)
}

// TimerHandle is an opaque handle to a scheduled timer callback.
type TimerHandle interface{}

// TimerService is the shared tick service backing every time-bounded state
// in the engine (spec §4.9, §9: "one tick callback dispatch per scheduled
// event").
type TimerService interface {
	// Get schedules callback(arg) to run after d and returns a handle.
	Get(callback func(arg interface{}), arg interface{}, d time.Duration) (TimerHandle, error)
	// Set reschedules an existing handle to fire after d, replacing its
	// callback.
	Set(h TimerHandle, callback func(arg interface{}), d time.Duration) error
	// Free cancels and releases a timer handle. Free on an already-fired
	// or already-freed handle is a no-op.
	Free(h TimerHandle)
}
