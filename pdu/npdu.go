// Package pdu implements the wire encoders/decoders for every PDU class
// named in spec §6.1: NPDU, TPDU/SPDU, AuthPDU, the REMINDER/REM_MSG body,
// the proxy envelope, and the bare APDU. All multi-byte fields are
// big-endian; every bitfield is encoded with explicit shifts and masks so
// the layout never depends on host bit-field ordering (spec §9 Design
// Notes). Logical, in-memory representations are kept separate from their
// wire encodings: this package only ever sees and produces []byte.
package pdu

import "fmt"

// Class is the 2-bit PDU class carried in the NPDU's first byte.
type Class uint8

// PDU classes, spec §6.1.
const (
	ClassTPDU    Class = 0
	ClassSPDU    Class = 1
	ClassAuthPDU Class = 2
	ClassAPDU    Class = 3
)

// AddrFormat is the 4-bit destination address format carried in the NPDU's
// first byte.
type AddrFormat uint8

// Address formats, spec §6.1.
const (
	AddrBroadcast    AddrFormat = 0
	AddrMulticast    AddrFormat = 1
	AddrSubnetNode   AddrFormat = 2
	AddrUniqueID     AddrFormat = 3
	AddrMulticastAck AddrFormat = 4
	AddrTurnaround   AddrFormat = 5
)

// NPDUHeader is the decoded form of the NPDU first byte plus the fixed
// source-address fields that follow it. The variable-length destination
// address (shape depends on AddrFmt) is decoded separately by DecodeDestAddr.
type NPDUHeader struct {
	Version      uint8 // 2 bits
	Class        Class
	AddrFmt      AddrFormat
	Priority     bool
	AltPath      bool
	DeltaBacklog uint8
	SourceSubnet uint8
	SourceNode   uint8
}

// EncodeNPDUFirstByte packs version:2|pdu_class:2|addr_fmt:4 into one byte.
func EncodeNPDUFirstByte(version uint8, class Class, fmt_ AddrFormat) byte {
	return (version&0x3)<<6 | (byte(class)&0x3)<<4 | byte(fmt_)&0xF
}

// DecodeNPDUFirstByte unpacks the first NPDU byte.
func DecodeNPDUFirstByte(b byte) (version uint8, class Class, fmt_ AddrFormat) {
	version = (b >> 6) & 0x3
	class = Class((b >> 4) & 0x3)
	fmt_ = AddrFormat(b & 0xF)
	return
}

// EncodeSourceSubnetNode packs the 2-byte source subnet/node field that
// follows the NPDU first byte. For flex-domain sends, callers must pass
// subnet=0, node=0 per spec §4.5.
func EncodeSourceSubnetNode(subnet, node uint8) [2]byte {
	return [2]byte{subnet, node & 0x7F}
}

// DecodeSourceSubnetNode unpacks the source subnet/node field.
func DecodeSourceSubnetNode(b [2]byte) (subnet, node uint8) {
	return b[0], b[1] & 0x7F
}

// DestAddr is the decoded destination-address field that follows the
// source subnet/node in an NPDU. Its active fields depend on Format.
type DestAddr struct {
	Format   AddrFormat
	Subnet   uint8   // broadcast, subnet/node
	Node     uint8   // subnet/node
	Group    uint8   // multicast, multicast-ack
	Member   uint8   // multicast-ack: acknowledging member number
	UniqueID [6]byte // unique-id
}

// ErrShortBuffer is returned by decoders when the input is too short for
// the indicated format.
var ErrShortBuffer = fmt.Errorf("pdu: buffer too short for address format")

// EncodeDestAddr renders d onto the wire according to d.Format.
func EncodeDestAddr(d DestAddr) []byte {
	switch d.Format {
	case AddrBroadcast:
		return []byte{d.Subnet}
	case AddrMulticast:
		return []byte{d.Group}
	case AddrSubnetNode:
		return []byte{d.Subnet, d.Node & 0x7F}
	case AddrUniqueID:
		return []byte{d.Subnet, d.UniqueID[0], d.UniqueID[1], d.UniqueID[2], d.UniqueID[3], d.UniqueID[4], d.UniqueID[5]}
	case AddrMulticastAck:
		return []byte{d.Subnet, d.Node & 0x7F, d.Group, d.Member & 0x3F}
	case AddrTurnaround:
		return nil
	default:
		return nil
	}
}

// DecodeDestAddr parses b according to format, returning the number of
// bytes consumed.
func DecodeDestAddr(format AddrFormat, b []byte) (DestAddr, int, error) {
	d := DestAddr{Format: format}
	switch format {
	case AddrBroadcast:
		if len(b) < 1 {
			return d, 0, ErrShortBuffer
		}
		d.Subnet = b[0]
		return d, 1, nil
	case AddrMulticast:
		if len(b) < 1 {
			return d, 0, ErrShortBuffer
		}
		d.Group = b[0]
		return d, 1, nil
	case AddrSubnetNode:
		if len(b) < 2 {
			return d, 0, ErrShortBuffer
		}
		d.Subnet, d.Node = b[0], b[1]&0x7F
		return d, 2, nil
	case AddrUniqueID:
		if len(b) < 7 {
			return d, 0, ErrShortBuffer
		}
		d.Subnet = b[0]
		copy(d.UniqueID[:], b[1:7])
		return d, 7, nil
	case AddrMulticastAck:
		if len(b) < 4 {
			return d, 0, ErrShortBuffer
		}
		d.Subnet, d.Node, d.Group, d.Member = b[0], b[1]&0x7F, b[2], b[3]&0x3F
		return d, 4, nil
	case AddrTurnaround:
		return d, 0, nil
	default:
		return d, 0, fmt.Errorf("pdu: unknown address format %d", format)
	}
}
