// Package wire implements the on-the-wire option and message layouts for
// ICMPv6 Neighbor Discovery (RFC 4861), including the prefix-information
// payload used for address autoconfiguration (RFC 4862). It performs no checksum
// or IPv6-header work: that belongs to the ICMPv6 codec collaborator the
// engine is handed (see ndp.ICMPv6Transmitter). This package only knows how
// to turn the NDP-specific body of a message into structured Go values and
// back, using explicit byte-wise readers and writers rather than unchecked
// casts over packed memory.
package wire

import (
	"encoding/binary"
	"fmt"
	"time"

	"gvisor.dev/gvisor/pkg/tcpip"
)

// MessageType identifies one of the five ICMPv6 NDP message types this
// package understands. Values match the ICMPv6 type field (RFC 4861 §4).
type MessageType uint8

const (
	RouterSolicitType    MessageType = 133
	RouterAdvertType     MessageType = 134
	NeighborSolicitType  MessageType = 135
	NeighborAdvertType   MessageType = 136
	RedirectType         MessageType = 137
)

// OptionType identifies a recognized NDP option (RFC 4861 §4.6).
type OptionType uint8

const (
	OptSourceLinkAddress OptionType = 1
	OptTargetLinkAddress OptionType = 2
	OptPrefixInformation OptionType = 3
	OptRedirectedHeader  OptionType = 4
	OptMTU               OptionType = 5
)

// AddressSize is the length in bytes of an IPv6 address.
const AddressSize = 16

// reservedLen is the size of the 4-byte reserved/flags field common to NS,
// RS and Redirect headers.
const reservedLen = 4

// Option is a single parsed NDP option. The wire length byte (8-byte units,
// RFC 4861 §4.6) is not kept; Value holds the option-specific bytes that
// follow the 2-byte type+length header.
type Option struct {
	Type  OptionType
	Value []byte
}

// LinkAddress interprets the option's value as a link-layer address option
// (RFC 4861 §4.6.1), returning the address bytes verbatim. The caller is
// expected to have checked Type is OptSourceLinkAddress or
// OptTargetLinkAddress.
func (o Option) LinkAddress() tcpip.LinkAddress {
	return tcpip.LinkAddress(o.Value)
}

// ErrZeroLengthOption is returned when an option declares a length of zero.
// RFC 4861 §4.6 requires the entire containing message be dropped in this
// case.
var ErrZeroLengthOption = fmt.Errorf("wire: option declares zero length")

// ErrTruncated is returned when a message or option buffer is shorter than
// its fixed-size header requires.
var ErrTruncated = fmt.Errorf("wire: truncated message")

// ParseOptions walks the TLV-encoded option stream that trails every NDP
// message. If the same option type appears more than once, later occurrences
// win (RFC 4861 §4.6 tie-break is handled by the caller using the returned
// slice order: callers must scan in order and let the last match replace
// earlier ones). A declared option length of zero is a protocol violation
// serious enough that the whole message must be dropped, so ParseOptions
// reports it as an error rather than skipping the option.
func ParseOptions(b []byte) ([]Option, error) {
	var opts []Option
	for len(b) > 0 {
		if len(b) < 2 {
			return nil, ErrTruncated
		}
		typ := OptionType(b[0])
		lengthUnits := b[1]
		if lengthUnits == 0 {
			return nil, ErrZeroLengthOption
		}
		total := int(lengthUnits) * 8
		if total > len(b) {
			return nil, ErrTruncated
		}
		opts = append(opts, Option{Type: typ, Value: b[2:total]})
		b = b[total:]
	}
	return opts, nil
}

// LastOption returns the last option of the given type in opts, following
// the "last occurrence wins" tie-break of RFC 4861 §4.6.
func LastOption(opts []Option, typ OptionType) (Option, bool) {
	for i := len(opts) - 1; i >= 0; i-- {
		if opts[i].Type == typ {
			return opts[i], true
		}
	}
	return Option{}, false
}

// encodeOption appends a type/length/value-encoded option to b. value's
// length, plus the 2-byte header, must already be a multiple of 8 bytes.
func encodeOption(b []byte, typ OptionType, value []byte) []byte {
	b = append(b, byte(typ), byte((len(value)+2)/8))
	return append(b, value...)
}

// EncodeLinkAddressOption encodes a source- or target-link-layer-address
// option carrying addr.
func EncodeLinkAddressOption(typ OptionType, addr tcpip.LinkAddress) []byte {
	return encodeOption(nil, typ, []byte(addr))
}

// PrefixInformation is the decoded payload of an NDP prefix-information
// option (RFC 4861 §4.6.2).
type PrefixInformation struct {
	PrefixLength      uint8
	OnLink            bool
	Autonomous        bool
	ValidLifetime     time.Duration
	PreferredLifetime time.Duration
	Prefix            tcpip.Address
}

const prefixInfoValueLen = 1 + 1 + 4 + 4 + 4 + AddressSize

// DecodePrefixInformation decodes a prefix-information option's value. Per
// RFC 4861 §4.6.2 the option is fixed at length 4 (32 bytes total, 30 bytes
// of value); any other size is a malformed option.
func DecodePrefixInformation(o Option) (PrefixInformation, error) {
	if o.Type != OptPrefixInformation {
		return PrefixInformation{}, fmt.Errorf("wire: option type %d is not prefix-information", o.Type)
	}
	if len(o.Value) != prefixInfoValueLen {
		return PrefixInformation{}, ErrTruncated
	}
	v := o.Value
	flags := v[1]
	return PrefixInformation{
		PrefixLength:      v[0],
		OnLink:            flags&(1<<7) != 0,
		Autonomous:        flags&(1<<6) != 0,
		ValidLifetime:     time.Duration(binary.BigEndian.Uint32(v[2:6])) * time.Second,
		PreferredLifetime: time.Duration(binary.BigEndian.Uint32(v[6:10])) * time.Second,
		Prefix:            tcpip.Address(v[14:30]),
	}, nil
}

// EncodePrefixInformation encodes a prefix-information option.
func EncodePrefixInformation(p PrefixInformation) []byte {
	v := make([]byte, prefixInfoValueLen)
	v[0] = p.PrefixLength
	if p.OnLink {
		v[1] |= 1 << 7
	}
	if p.Autonomous {
		v[1] |= 1 << 6
	}
	binary.BigEndian.PutUint32(v[2:6], uint32(p.ValidLifetime/time.Second))
	binary.BigEndian.PutUint32(v[6:10], uint32(p.PreferredLifetime/time.Second))
	copy(v[14:30], p.Prefix)
	return encodeOption(nil, OptPrefixInformation, v)
}

// NeighborSolicitation is the decoded body of an ICMPv6 Neighbor
// Solicitation (RFC 4861 §4.3), i.e. everything after the common 4-byte
// type/code/checksum ICMPv6 header.
type NeighborSolicitation struct {
	Target  tcpip.Address
	Options []Option
}

// ParseNeighborSolicitation parses the NDP-specific body of a Neighbor
// Solicitation: a 4-byte reserved field, a 16-byte target address, and a
// trailing option stream.
func ParseNeighborSolicitation(b []byte) (NeighborSolicitation, error) {
	if len(b) < reservedLen+AddressSize {
		return NeighborSolicitation{}, ErrTruncated
	}
	target := tcpip.Address(b[reservedLen : reservedLen+AddressSize])
	opts, err := ParseOptions(b[reservedLen+AddressSize:])
	if err != nil {
		return NeighborSolicitation{}, err
	}
	return NeighborSolicitation{Target: target, Options: opts}, nil
}

// EncodeNeighborSolicitation serializes a Neighbor Solicitation body for
// target, adding a source-link-addr option only when sourceLinkAddr is
// non-empty.
func EncodeNeighborSolicitation(target tcpip.Address, sourceLinkAddr tcpip.LinkAddress) []byte {
	b := make([]byte, reservedLen+AddressSize)
	copy(b[reservedLen:], target)
	if len(sourceLinkAddr) != 0 {
		b = append(b, EncodeLinkAddressOption(OptSourceLinkAddress, sourceLinkAddr)...)
	}
	return b
}

// NeighborAdvertisement is the decoded body of an ICMPv6 Neighbor
// Advertisement (RFC 4861 §4.4).
type NeighborAdvertisement struct {
	Router    bool
	Solicited bool
	Override  bool
	Target    tcpip.Address
	Options   []Option
}

const (
	naRouterFlag    = 1 << 31
	naSolicitedFlag = 1 << 30
	naOverrideFlag  = 1 << 29
)

// ParseNeighborAdvertisement parses the NDP-specific body of a Neighbor
// Advertisement: a 4-byte flags field, a 16-byte target address, and a
// trailing option stream.
func ParseNeighborAdvertisement(b []byte) (NeighborAdvertisement, error) {
	if len(b) < reservedLen+AddressSize {
		return NeighborAdvertisement{}, ErrTruncated
	}
	flags := binary.BigEndian.Uint32(b[:4])
	target := tcpip.Address(b[reservedLen : reservedLen+AddressSize])
	opts, err := ParseOptions(b[reservedLen+AddressSize:])
	if err != nil {
		return NeighborAdvertisement{}, err
	}
	return NeighborAdvertisement{
		Router:    flags&naRouterFlag != 0,
		Solicited: flags&naSolicitedFlag != 0,
		Override:  flags&naOverrideFlag != 0,
		Target:    target,
		Options:   opts,
	}, nil
}

// EncodeNeighborAdvertisement serializes a Neighbor Advertisement body.
func EncodeNeighborAdvertisement(na NeighborAdvertisement, targetLinkAddr tcpip.LinkAddress) []byte {
	var flags uint32
	if na.Router {
		flags |= naRouterFlag
	}
	if na.Solicited {
		flags |= naSolicitedFlag
	}
	if na.Override {
		flags |= naOverrideFlag
	}
	b := make([]byte, reservedLen+AddressSize)
	binary.BigEndian.PutUint32(b[:4], flags)
	copy(b[reservedLen:], na.Target)
	if len(targetLinkAddr) != 0 {
		b = append(b, EncodeLinkAddressOption(OptTargetLinkAddress, targetLinkAddr)...)
	}
	return b
}

// RouterSolicitation is the decoded body of an ICMPv6 Router Solicitation
// (RFC 4861 §4.1).
type RouterSolicitation struct {
	Options []Option
}

// ParseRouterSolicitation parses a Router Solicitation body: a 4-byte
// reserved field followed by an option stream.
func ParseRouterSolicitation(b []byte) (RouterSolicitation, error) {
	if len(b) < reservedLen {
		return RouterSolicitation{}, ErrTruncated
	}
	opts, err := ParseOptions(b[reservedLen:])
	if err != nil {
		return RouterSolicitation{}, err
	}
	return RouterSolicitation{Options: opts}, nil
}

// EncodeRouterSolicitation serializes a Router Solicitation body.
func EncodeRouterSolicitation(sourceLinkAddr tcpip.LinkAddress) []byte {
	b := make([]byte, reservedLen)
	if len(sourceLinkAddr) != 0 {
		b = append(b, EncodeLinkAddressOption(OptSourceLinkAddress, sourceLinkAddr)...)
	}
	return b
}

// RouterAdvertisement is the decoded body of an ICMPv6 Router Advertisement
// (RFC 4861 §4.2).
type RouterAdvertisement struct {
	CurHopLimit    uint8
	Managed        bool
	Other          bool
	RouterLifetime time.Duration
	ReachableTime  time.Duration
	RetransTimer   time.Duration
	Options        []Option
}

const routerAdvertFixedLen = 1 + 1 + 2 + 4 + 4

// ParseRouterAdvertisement parses a Router Advertisement body.
func ParseRouterAdvertisement(b []byte) (RouterAdvertisement, error) {
	if len(b) < routerAdvertFixedLen {
		return RouterAdvertisement{}, ErrTruncated
	}
	flags := b[1]
	opts, err := ParseOptions(b[routerAdvertFixedLen:])
	if err != nil {
		return RouterAdvertisement{}, err
	}
	return RouterAdvertisement{
		CurHopLimit:    b[0],
		Managed:        flags&(1<<7) != 0,
		Other:          flags&(1<<6) != 0,
		RouterLifetime: time.Duration(binary.BigEndian.Uint16(b[2:4])) * time.Second,
		ReachableTime:  time.Duration(binary.BigEndian.Uint32(b[4:8])) * time.Millisecond,
		RetransTimer:   time.Duration(binary.BigEndian.Uint32(b[8:12])) * time.Millisecond,
		Options:        opts,
	}, nil
}

// Redirect is the decoded body of an ICMPv6 Redirect message (RFC 4861
// §4.5).
type Redirect struct {
	Target      tcpip.Address
	Destination tcpip.Address
	Options     []Option
}

// ParseRedirect parses a Redirect body: a 4-byte reserved field, the target
// address, the destination address, then options.
func ParseRedirect(b []byte) (Redirect, error) {
	if len(b) < reservedLen+2*AddressSize {
		return Redirect{}, ErrTruncated
	}
	target := tcpip.Address(b[reservedLen : reservedLen+AddressSize])
	dest := tcpip.Address(b[reservedLen+AddressSize : reservedLen+2*AddressSize])
	opts, err := ParseOptions(b[reservedLen+2*AddressSize:])
	if err != nil {
		return Redirect{}, err
	}
	return Redirect{Target: target, Destination: dest, Options: opts}, nil
}
