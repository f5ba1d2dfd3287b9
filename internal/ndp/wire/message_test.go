package wire

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/gvisor/pkg/tcpip"
)

func mustLinkAddr() tcpip.LinkAddress {
	return tcpip.LinkAddress([]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01})
}

func TestParseOptionsZeroLength(t *testing.T) {
	b := []byte{byte(OptSourceLinkAddress), 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	if _, err := ParseOptions(b); err != ErrZeroLengthOption {
		t.Fatalf("ParseOptions(zero-length option) = %v, want ErrZeroLengthOption", err)
	}
}

func TestParseOptionsTruncated(t *testing.T) {
	if _, err := ParseOptions([]byte{0x01}); err != ErrTruncated {
		t.Fatalf("ParseOptions(1 byte) = %v, want ErrTruncated", err)
	}
	b := []byte{byte(OptSourceLinkAddress), 0x02, 0x00, 0x00}
	if _, err := ParseOptions(b); err != ErrTruncated {
		t.Fatalf("ParseOptions(declared-longer-than-buffer) = %v, want ErrTruncated", err)
	}
}

func TestLastOptionTieBreak(t *testing.T) {
	first := EncodeLinkAddressOption(OptSourceLinkAddress, tcpip.LinkAddress([]byte{1, 1, 1, 1, 1, 1}))
	second := EncodeLinkAddressOption(OptSourceLinkAddress, tcpip.LinkAddress([]byte{2, 2, 2, 2, 2, 2}))
	opts, err := ParseOptions(append(first, second...))
	if err != nil {
		t.Fatalf("ParseOptions: %v", err)
	}
	opt, ok := LastOption(opts, OptSourceLinkAddress)
	if !ok {
		t.Fatalf("LastOption: not found")
	}
	if got, want := opt.LinkAddress(), tcpip.LinkAddress([]byte{2, 2, 2, 2, 2, 2}); got != want {
		t.Errorf("LastOption = %x, want %x (last occurrence should win)", got, want)
	}
}

func TestNeighborSolicitationRoundTrip(t *testing.T) {
	target := tcpip.Address([]byte("0123456789012345"))
	body := EncodeNeighborSolicitation(target, mustLinkAddr())
	ns, err := ParseNeighborSolicitation(body)
	if err != nil {
		t.Fatalf("ParseNeighborSolicitation: %v", err)
	}
	if ns.Target != target {
		t.Errorf("Target = %x, want %x", []byte(ns.Target), []byte(target))
	}
	opt, ok := LastOption(ns.Options, OptSourceLinkAddress)
	if !ok {
		t.Fatalf("missing source-link-addr option")
	}
	if opt.LinkAddress() != mustLinkAddr() {
		t.Errorf("source link addr = %x, want %x", opt.LinkAddress(), mustLinkAddr())
	}
}

func TestNeighborSolicitationNoSourceOption(t *testing.T) {
	target := tcpip.Address([]byte("0123456789012345"))
	body := EncodeNeighborSolicitation(target, "")
	ns, err := ParseNeighborSolicitation(body)
	if err != nil {
		t.Fatalf("ParseNeighborSolicitation: %v", err)
	}
	if len(ns.Options) != 0 {
		t.Errorf("Options = %v, want none (DAD probe has no source-link-addr option)", ns.Options)
	}
}

func TestNeighborAdvertisementFlagsRoundTrip(t *testing.T) {
	target := tcpip.Address([]byte("0123456789012345"))
	for _, na := range []NeighborAdvertisement{
		{Router: true, Solicited: true, Override: true, Target: target},
		{Router: false, Solicited: false, Override: true, Target: target},
		{Router: true, Solicited: false, Override: false, Target: target},
	} {
		body := EncodeNeighborAdvertisement(na, mustLinkAddr())
		got, err := ParseNeighborAdvertisement(body)
		if err != nil {
			t.Fatalf("ParseNeighborAdvertisement: %v", err)
		}
		if got.Router != na.Router || got.Solicited != na.Solicited || got.Override != na.Override {
			t.Errorf("flags round-trip = %+v, want %+v", got, na)
		}
	}
}

func TestPrefixInformationRoundTrip(t *testing.T) {
	prefix := tcpip.Address([]byte("0123456789012345"))
	pi := PrefixInformation{
		PrefixLength:      64,
		OnLink:            true,
		Autonomous:        true,
		ValidLifetime:     30 * time.Minute,
		PreferredLifetime: 10 * time.Minute,
		Prefix:            prefix,
	}
	encoded := EncodePrefixInformation(pi)
	opts, err := ParseOptions(encoded)
	if err != nil {
		t.Fatalf("ParseOptions: %v", err)
	}
	if len(opts) != 1 {
		t.Fatalf("got %d options, want 1", len(opts))
	}
	got, err := DecodePrefixInformation(opts[0])
	if err != nil {
		t.Fatalf("DecodePrefixInformation: %v", err)
	}
	if diff := cmp.Diff(pi, got); diff != "" {
		t.Errorf("prefix information round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodePrefixInformationWrongLength(t *testing.T) {
	if _, err := DecodePrefixInformation(Option{Type: OptPrefixInformation, Value: []byte{1, 2, 3}}); err != ErrTruncated {
		t.Fatalf("DecodePrefixInformation(short value) = %v, want ErrTruncated", err)
	}
}

func TestRedirectRoundTrip(t *testing.T) {
	target := tcpip.Address([]byte("0123456789012345"))
	dest := tcpip.Address([]byte("abcdefghijklmnop"))
	b := make([]byte, reservedLen+2*AddressSize)
	copy(b[reservedLen:], target)
	copy(b[reservedLen+AddressSize:], dest)
	rd, err := ParseRedirect(b)
	if err != nil {
		t.Fatalf("ParseRedirect: %v", err)
	}
	if rd.Target != target || rd.Destination != dest {
		t.Errorf("Redirect = %+v, want target=%x dest=%x", rd, []byte(target), []byte(dest))
	}
}

func TestRouterAdvertisementTimescales(t *testing.T) {
	b := make([]byte, routerAdvertFixedLen)
	b[0] = 64                                 // CurHopLimit
	b[1] = 1 << 7                             // Managed
	b[2], b[3] = 0x00, 0x1e                   // RouterLifetime = 30s
	b[4], b[5], b[6], b[7] = 0, 0, 0x75, 0x30  // ReachableTime = 30000ms
	b[8], b[9], b[10], b[11] = 0, 0, 0x03, 0xe8 // RetransTimer = 1000ms
	ra, err := ParseRouterAdvertisement(b)
	if err != nil {
		t.Fatalf("ParseRouterAdvertisement: %v", err)
	}
	if ra.RouterLifetime != 30*time.Second {
		t.Errorf("RouterLifetime = %v, want 30s", ra.RouterLifetime)
	}
	if ra.ReachableTime != 30*time.Second {
		t.Errorf("ReachableTime = %v, want 30s", ra.ReachableTime)
	}
	if ra.RetransTimer != time.Second {
		t.Errorf("RetransTimer = %v, want 1s", ra.RetransTimer)
	}
	if !ra.Managed {
		t.Errorf("Managed = false, want true")
	}
}
