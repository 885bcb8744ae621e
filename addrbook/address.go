package addrbook

// AddressKind selects the shape of an address table entry (spec §3).
type AddressKind uint8

// Address entry shapes.
const (
	AddrUnbound AddressKind = iota
	AddrKindSubnetNode
	AddrKindUniqueID
	AddrKindBroadcast
	AddrKindGroup
)

// NoAddressIndex is the reserved "no address" table index (spec §4.3:
// "address index 15 (0x0F) is reserved for 'no address'").
const NoAddressIndex = 0x0F

// AddressEntry is one address table slot. Non-unbound entries carry the
// four 4-bit timer/retry selectors; group entries additionally carry group
// identity fields (spec §3).
type AddressEntry struct {
	Kind AddressKind

	Subnet   uint8
	Node     uint8
	UniqueID [6]byte

	Group     uint8 // group entries only
	Member    uint8 // this node's member number within the group
	GroupSize uint8 // 0 means "large group", valid only for unackd-repeated

	TxTimerIdx     uint8 // 4 bits: transmit-timer table selector
	RepeatTimerIdx uint8 // 4 bits: repeat-timer table selector
	RetryCount     uint8
	RcvTimerIdx    uint8 // 4 bits: receive-timer table selector

	LongTimer bool // shifts the transmit-timer base up by 16 steps
}

// IsBound reports whether the entry is anything other than AddrUnbound.
func (e AddressEntry) IsBound() bool { return e.Kind != AddrUnbound }

// IsGroup reports whether the entry addresses a group.
func (e AddressEntry) IsGroup() bool { return e.Kind == AddrKindGroup }
