package addrbook

// NvDirection is a network variable's data flow direction.
type NvDirection uint8

// Directions, spec §3.
const (
	NvInput NvDirection = iota
	NvOutput
)

// NvServiceType selects the transport/session service an NV update uses.
type NvServiceType uint8

// Service types an NV may request.
const (
	NvServiceAcked NvServiceType = iota
	NvServiceUnackRepeated
	NvServiceRequest
)

// NvSelectorUnused is the sentinel selector value meaning "unused" (spec
// §4.3). It deliberately falls outside the 14-bit selector range so it can
// never collide with a real selector.
const NvSelectorUnused uint16 = 0xFFFF

// MaxSelector is the largest representable NV selector (14 bits).
const MaxSelector uint16 = 0x3FFF

// MaxBoundSelector is the largest selector a *bound* NV may use (spec
// §4.3: "bound selectors ≤ 0x2FFF").
const MaxBoundSelector uint16 = 0x2FFF

// NoAddrIndex marks an NV as having no bound address-table entry.
const NoAddrIndex uint8 = 15

// MaxNvLength is the largest NV payload length in bytes (spec §3).
const MaxNvLength = 31

// MaxAliasesPerPrimary is the largest number of alias entries a primary NV
// may have (spec §3).
const MaxAliasesPerPrimary = 15

// NvConfig is one primary network-variable table entry.
type NvConfig struct {
	Direction NvDirection
	Selector  uint16 // ≤ MaxSelector, or NvSelectorUnused
	Service   NvServiceType
	Auth      bool
	Priority  bool
	AddrIndex uint8 // 0..14, or NoAddrIndex for "none"
	Length    uint8 // 0..31
}

// IsUnused reports whether this slot holds no configured NV.
func (c NvConfig) IsUnused() bool { return c.Selector == NvSelectorUnused }

// NvAlias is one alias table entry: its own selector and address index,
// pointing back at a primary NV by table index.
type NvAlias struct {
	Selector  uint16
	AddrIndex uint8
	Primary   int // index into the NV config table; -1 if unused
}

// IsUnused reports whether this alias slot is unconfigured.
func (a NvAlias) IsUnused() bool { return a.Selector == NvSelectorUnused }
