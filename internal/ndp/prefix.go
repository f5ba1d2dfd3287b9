package ndp

import (
	"time"

	"gvisor.dev/gvisor/pkg/tcpip"
)

// PrefixEntry is a single on-link prefix tracked per interface (spec §3,
// §4.4), stored as a tcpip.Subnet rather than a raw (address, length) pair
// — the same type the teacher's ndp_test.go builds via tcpip.NewSubnet and
// passes straight into OnOnLinkPrefixDiscovered/OnOnLinkPrefixInvalidated
// for this exact on-link-prefix domain.
type PrefixEntry struct {
	iface    tcpip.NICID
	subnet   tcpip.Subnet
	deadline time.Duration
	timer    TimerHandle
}

// Interface returns the prefix's interface.
func (p *PrefixEntry) Interface() tcpip.NICID { return p.iface }

// Prefix returns the on-link prefix's masked address value.
func (p *PrefixEntry) Prefix() tcpip.Address { return p.subnet.ID() }

// PrefixLen returns the prefix length in bits.
func (p *PrefixEntry) PrefixLen() int { return p.subnet.Prefix() }

// Subnet returns the prefix's underlying tcpip.Subnet.
func (p *PrefixEntry) Subnet() tcpip.Subnet { return p.subnet }

// newPrefixSubnet builds the tcpip.Subnet for a prefix-information option's
// (prefix, prefix length) pair, masking the address first so it satisfies
// tcpip.NewSubnet's precondition that addr&mask == addr.
func newPrefixSubnet(prefix tcpip.Address, bitLen int) (tcpip.Subnet, error) {
	masked := maskPrefix(prefix, bitLen)
	mask := make([]byte, len(prefix))
	for i := range mask {
		bitStart := i * 8
		switch {
		case bitStart >= bitLen:
			mask[i] = 0
		case bitStart+8 <= bitLen:
			mask[i] = 0xff
		default:
			keep := bitLen - bitStart
			mask[i] = ^byte(0xff >> uint(keep))
		}
	}
	return tcpip.NewSubnet(masked, tcpip.AddressMask(mask))
}

// prefixList is C4: the per-interface on-link prefix set.
type prefixList struct {
	byIface map[tcpip.NICID][]*PrefixEntry
}

func newPrefixList() *prefixList {
	return &prefixList{byIface: make(map[tcpip.NICID][]*PrefixEntry)}
}

func (pl *prefixList) find(iface tcpip.NICID, subnet tcpip.Subnet) *PrefixEntry {
	for _, p := range pl.byIface[iface] {
		if p.subnet == subnet {
			return p
		}
	}
	return nil
}

// upsert inserts or refreshes a prefix entry's lifetime deadline (spec
// §4.4). It stores whatever deadline it is given, including zero; a prefix
// advertised with a zero valid lifetime is removed by the caller
// (Engine.onPrefixOption) through remove instead.
func (pl *prefixList) upsert(iface tcpip.NICID, subnet tcpip.Subnet, deadline time.Duration, timer TimerHandle) *PrefixEntry {
	if p := pl.find(iface, subnet); p != nil {
		p.deadline = deadline
		p.timer = timer
		return p
	}
	p := &PrefixEntry{iface: iface, subnet: subnet, deadline: deadline, timer: timer}
	pl.byIface[iface] = append(pl.byIface[iface], p)
	return p
}

// remove deletes the prefix entry matching (iface, subnet), returning it.
func (pl *prefixList) remove(iface tcpip.NICID, subnet tcpip.Subnet) *PrefixEntry {
	entries := pl.byIface[iface]
	for i, p := range entries {
		if p.subnet != subnet {
			continue
		}
		pl.byIface[iface] = append(entries[:i], entries[i+1:]...)
		if len(pl.byIface[iface]) == 0 {
			delete(pl.byIface, iface)
		}
		return p
	}
	return nil
}

// isOnLink reports whether addr falls within any tracked on-link prefix for
// iface, used by the destination cache's next-hop determination (spec
// §4.5).
func (pl *prefixList) isOnLink(iface tcpip.NICID, addr tcpip.Address) bool {
	for _, p := range pl.byIface[iface] {
		if p.subnet.Contains(addr) {
			return true
		}
	}
	return false
}

// all returns every prefix entry for iface, for diagnostics (spec §6
// prefix_list accessor).
func (pl *prefixList) all(iface tcpip.NICID) []*PrefixEntry {
	out := make([]*PrefixEntry, len(pl.byIface[iface]))
	copy(out, pl.byIface[iface])
	return out
}

// clearInterface drops every prefix entry for iface, freeing timers, on
// unplanned interface shutdown (spec §5).
func (pl *prefixList) clearInterface(iface tcpip.NICID, timers TimerService) {
	for _, p := range pl.byIface[iface] {
		if timers != nil && p.timer != nil {
			timers.Free(p.timer)
		}
	}
	delete(pl.byIface, iface)
}

// slaacCandidate computes the clamped valid lifetime for an address matched
// by an autonomous prefix option, per RFC 4862 §5.5.3: a freshly learned
// address takes the advertised valid lifetime as-is, but extending an
// already-configured address's lifetime is clamped so that a lifetime
// shorter than 2 hours is never reduced below the remaining time, unless
// the advertised lifetime is itself longer.
func slaacCandidate(existing *ConfiguredAddress, advertisedValid time.Duration, remaining time.Duration) time.Duration {
	const twoHours = 2 * time.Hour
	if existing == nil {
		return advertisedValid
	}
	if advertisedValid > twoHours || advertisedValid > remaining {
		return advertisedValid
	}
	if remaining <= twoHours {
		return remaining
	}
	return twoHours
}
