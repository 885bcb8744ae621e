package pdu

// AuthMsgType is the pdu_msg_type field of an AuthPDU (spec §6.1).
type AuthMsgType uint8

// Authentication message types.
const (
	AuthChallenge    AuthMsgType = 0
	AuthChallengeOMA AuthMsgType = 1
	AuthReply        AuthMsgType = 2
	AuthReplyOMA     AuthMsgType = 3
)

// NonceSize is the length in bytes of a challenge nonce or reply MAC.
const NonceSize = 8

// AuthPDUHeader is the decoded form of the AuthPDU first byte:
// reserved:2|fmt:2|pdu_msg_type:2|tid:2. The format field reuses the low 2
// bits of AddrFormat (broadcast/multicast/subnet-node/unique-id — the only
// shapes a freshly-issued challenge can target); the transaction number
// field is intentionally only 2 bits wide here, per spec §6.1's literal
// byte layout, narrower than the 4-bit tid used by TPDU/SPDU.
type AuthPDUHeader struct {
	Fmt     AddrFormat // only the low 2 bits are meaningful
	MsgType AuthMsgType
	Tid2    uint8 // low 2 bits of the transaction number
}

// EncodeAuthPDUHeader packs the AuthPDU header byte.
func EncodeAuthPDUHeader(h AuthPDUHeader) byte {
	return (byte(h.Fmt)&0x3)<<4 | (byte(h.MsgType)&0x3)<<2 | h.Tid2&0x3
}

// DecodeAuthPDUHeader unpacks an AuthPDU header byte.
func DecodeAuthPDUHeader(b byte) AuthPDUHeader {
	return AuthPDUHeader{
		Fmt:     AddrFormat((b >> 4) & 0x3),
		MsgType: AuthMsgType((b >> 2) & 0x3),
		Tid2:    b & 0x3,
	}
}

// IsMulticastFmt reports whether the 2-bit format field indicates a
// multicast challenge, in which case a trailing group byte follows the
// nonce/MAC (spec §6.1).
func (h AuthPDUHeader) IsMulticastFmt() bool {
	return h.Fmt == AddrMulticast
}

// Tid2Of truncates a full 4-bit transaction number to the 2-bit field the
// AuthPDU wire format carries.
func Tid2Of(tid uint8) uint8 { return tid & 0x3 }
