package ndp

import (
	"testing"
	"time"

	"gvisor.dev/gvisor/pkg/tcpip"
)

func mustPrefixSubnet(t *testing.T, prefix tcpip.Address, bitLen int) tcpip.Subnet {
	t.Helper()
	subnet, err := newPrefixSubnet(prefix, bitLen)
	if err != nil {
		t.Fatalf("newPrefixSubnet: %v", err)
	}
	return subnet
}

func TestPrefixListUpsertAndIsOnLink(t *testing.T) {
	pl := newPrefixList()
	subnet := mustPrefixSubnet(t, addr("0123456789012345"), 64)
	pl.upsert(testIface, subnet, time.Hour, nil)

	// An address sharing the prefix's upper 64 bits should be on-link.
	sameUpper := addr("01234567zzzzzzzz")
	if !pl.isOnLink(testIface, sameUpper) {
		t.Errorf("isOnLink: address sharing the /64 prefix should be on-link")
	}

	offLink := addr("zzzzzzzz01234567")
	if pl.isOnLink(testIface, offLink) {
		t.Errorf("isOnLink: unrelated address should not be on-link")
	}
}

func TestPrefixListUpsertRefreshesInPlace(t *testing.T) {
	pl := newPrefixList()
	subnet := mustPrefixSubnet(t, addr("0123456789012345"), 64)
	p1 := pl.upsert(testIface, subnet, time.Hour, nil)
	p2 := pl.upsert(testIface, subnet, 2*time.Hour, nil)
	if p1 != p2 {
		t.Fatalf("upsert on an existing prefix should refresh the same entry, got distinct entries")
	}
	if p2.deadline != 2*time.Hour {
		t.Errorf("deadline = %v, want 2h after refresh", p2.deadline)
	}
}

func TestPrefixListRemove(t *testing.T) {
	pl := newPrefixList()
	subnet := mustPrefixSubnet(t, addr("0123456789012345"), 64)
	pl.upsert(testIface, subnet, time.Hour, nil)
	removed := pl.remove(testIface, subnet)
	if removed == nil {
		t.Fatalf("remove: expected the entry to be found")
	}
	if len(pl.all(testIface)) != 0 {
		t.Errorf("all() = %d entries after remove, want 0", len(pl.all(testIface)))
	}
}

func TestSlaacCandidateClampWhenRemainingExceedsTwoHours(t *testing.T) {
	existing := &ConfiguredAddress{ValidRemaining: 3 * time.Hour}
	// Advertised lifetime shorter than 2h and shorter than remaining, but
	// remaining itself exceeds 2h: clamp to 2h per RFC 4862 §5.5.3.
	got := slaacCandidate(existing, time.Hour, 3*time.Hour)
	if got != 2*time.Hour {
		t.Errorf("slaacCandidate = %v, want 2h clamp", got)
	}
}

func TestSlaacCandidateKeepsRemainingWhenAlreadyAtOrBelowTwoHours(t *testing.T) {
	existing := &ConfiguredAddress{ValidRemaining: 90 * time.Minute}
	// Advertised lifetime is shorter than both 2h and the (already short)
	// remaining lifetime: RFC 4862 §5.5.3 says the advertisement is
	// ignored here, not applied — the remaining lifetime must not shrink.
	got := slaacCandidate(existing, 10*time.Minute, 90*time.Minute)
	if got != 90*time.Minute {
		t.Errorf("slaacCandidate = %v, want the unchanged 90m remaining lifetime, not the shorter advertised value", got)
	}
}

func TestSlaacCandidateNoClampWhenAdvertisedLonger(t *testing.T) {
	existing := &ConfiguredAddress{ValidRemaining: time.Hour}
	got := slaacCandidate(existing, 4*time.Hour, time.Hour)
	if got != 4*time.Hour {
		t.Errorf("slaacCandidate = %v, want 4h (advertised exceeds remaining, no clamp)", got)
	}
}

func TestSlaacCandidateFreshAddress(t *testing.T) {
	got := slaacCandidate(nil, 30*time.Minute, 0)
	if got != 30*time.Minute {
		t.Errorf("slaacCandidate(nil existing) = %v, want the advertised lifetime unmodified", got)
	}
}
