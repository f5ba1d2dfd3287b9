// Command ndpdiag starts an NDP engine against a loopback-style fake link
// and prints its cache state, for manual inspection of timer-driven
// behavior outside a real network stack.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/golang/glog"
	flag "github.com/spf13/pflag"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/buffer"

	"github.com/netstackit/ndp6/internal/ndp"
)

var (
	ifaceFlag  = flag.IntP("iface", "i", 1, "interface id to report on")
	targetFlag = flag.StringP("target", "t", "", "run DAD against this target address before reporting (hex-escaped, e.g. \\xfe\\x80...)")
	advanceMs  = flag.IntP("advance", "a", 0, "milliseconds to advance the manual clock before reporting")
)

// fakeLink is a minimal LinkAddresser/AddressConfigurator/ICMPv6Transmitter/
// LinkTransmitter/BufferPool standing in for a real netstack, enough to
// exercise the engine end to end from the command line.
type fakeLink struct {
	self tcpip.LinkAddress
}

func (f *fakeLink) LinkAddress(tcpip.NICID) (tcpip.LinkAddress, error) { return f.self, nil }
func (f *fakeLink) SetMTU(tcpip.NICID, uint32) error                   { return nil }
func (f *fakeLink) MulticastLinkAddress(_ tcpip.NICID, addr tcpip.Address) (tcpip.LinkAddress, error) {
	if len(addr) != 16 {
		return "", fmt.Errorf("not an ipv6 address")
	}
	return tcpip.LinkAddress([]byte{0x33, 0x33, addr[12], addr[13], addr[14], addr[15]}), nil
}

func (f *fakeLink) AddressesOnInterface(tcpip.NICID) ([]ndp.ConfiguredAddress, error) { return nil, nil }
func (f *fakeLink) RefreshAddressLifetime(tcpip.NICID, tcpip.Address, time.Duration) error {
	return nil
}
func (f *fakeLink) AddAddress(tcpip.NICID, tcpip.Address, int, time.Duration, time.Duration, bool) error {
	return nil
}

func (f *fakeLink) TxMessage(iface tcpip.NICID, typ, code uint8, src *tcpip.Address, dst tcpip.Address, hopLimit uint8, dstMulticast bool, payload []byte) error {
	glog.V(2).Infof("ndpdiag: tx type=%d iface=%d dst=%x len=%d", typ, iface, []byte(dst), len(payload))
	return nil
}

func (f *fakeLink) SendQueued(tcpip.NICID, tcpip.LinkAddress, buffer.VectorisedView) error { return nil }

func (f *fakeLink) TxDealloc(buffer.VectorisedView)                  {}
func (f *fakeLink) OnFree(buf buffer.VectorisedView, hook func()) {}

func main() {
	flag.Parse()
	defer glog.Flush()

	clock := ndp.NewManualClock()
	link := &fakeLink{self: tcpip.LinkAddress([]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01})}
	engine := ndp.NewEngine(ndp.DefaultConfig(), link, link, link, link, link, clock)

	iface := tcpip.NICID(*ifaceFlag)

	if *targetFlag != "" {
		outcome, err := engine.DadStart(context.Background(), iface, tcpip.Address(*targetFlag), ndp.DadBlocking, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dad failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("dad outcome: %s\n", outcome)
	}

	if *advanceMs > 0 {
		clock.Advance(time.Duration(*advanceMs) * time.Millisecond)
	}

	fmt.Printf("interface %d\n", iface)
	fmt.Println("routers:")
	for _, r := range engine.RouterList(iface) {
		fmt.Printf("  %x\n", []byte(r.Address()))
	}
	fmt.Println("prefixes:")
	for _, p := range engine.PrefixList(iface) {
		fmt.Printf("  %x/%d\n", []byte(p.Prefix()), p.PrefixLen())
	}
	counters := engine.CountersSnapshot()
	fmt.Printf("counters: receive_invalid=%d pool_full=%d queue_overflow=%d timer_acquire_failure=%d\n",
		counters.ReceiveInvalid, counters.PoolFull, counters.QueueOverflow, counters.TimerAcquireFailure)
}
