// Package addrbook implements the domain table, address table, and network
// variable configuration/alias tables described in spec §3 and §4.3, along
// with the fixed timer-index lookup tables used to decode AddressEntry
// timer selectors.
package addrbook

import "bytes"

// NumDomains is the number of real configured domain slots (spec §3:
// "Two domain slots exist").
const NumDomains = 2

// FlexDomainIndex is the reserved pseudo-index for the wildcard flex
// domain: it matches any received domain, and sending through it emits
// source subnet/node 0/0 (spec §3, §4.5).
const FlexDomainIndex = NumDomains

// AuthType discriminates a domain's authentication key shape.
type AuthType uint8

// Authentication type discriminants, spec §3.
const (
	AuthStandard       AuthType = 0
	AuthOpenMedia      AuthType = 1
	AuthStandardLegacy AuthType = 2
)

// KeyLen returns the authentication key length in bytes for this type:
// 6 bytes for standard/standard-legacy, 12 for open-media.
func (a AuthType) KeyLen() int {
	if a == AuthOpenMedia {
		return 12
	}
	return 6
}

// DomainEntry is one domain table slot (spec §3, wire layout §6.1).
type DomainEntry struct {
	ID          [6]byte
	Len         uint8 // 0, 1, 3, or 6
	Subnet      uint8 // 1..255
	Node        uint8 // 1..127
	CloneDomain bool
	Invalid     bool
	Auth        AuthType
	Key         [12]byte // 6 bytes used for standard/legacy, 12 for open-media
}

// IsValidLen reports whether l is one of the domain-id lengths the wire
// format allows.
func IsValidLen(l uint8) bool {
	switch l {
	case 0, 1, 3, 6:
		return true
	default:
		return false
	}
}

// MatchesID reports whether an incoming domain id of the given length
// matches this entry exactly (only the first Len bytes of ID are
// significant).
func (d DomainEntry) MatchesID(id []byte, length uint8) bool {
	if d.Invalid || d.Len != length {
		return false
	}
	return bytes.Equal(d.ID[:d.Len], id[:length])
}

// FlexDomain returns the pseudo-entry used for flex-domain sends and
// matches: zero-length id, source subnet/node 0/0, no authentication.
func FlexDomain() DomainEntry {
	return DomainEntry{Len: 0, Subnet: 0, Node: 0}
}
