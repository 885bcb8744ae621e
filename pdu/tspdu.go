package pdu

// TransportMsgType is the pdu_msg_type field of a TPDU (spec §6.1).
type TransportMsgType uint8

// Transport message types.
const (
	TransportACKD     TransportMsgType = 0
	TransportUnackRpt TransportMsgType = 1
	TransportACK      TransportMsgType = 2
	TransportReminder TransportMsgType = 4
	TransportRemMsg   TransportMsgType = 5
)

// SessionMsgType is the pdu_msg_type field of an SPDU (spec §6.1).
type SessionMsgType uint8

// Session message types.
const (
	SessionRequest  SessionMsgType = 0
	SessionResponse SessionMsgType = 2
	SessionReminder SessionMsgType = 4
	SessionRemMsg   SessionMsgType = 5
)

// TSPDUHeader is the decoded form of the single header byte shared by TPDU
// and SPDU: auth:1|pdu_msg_type:3|tid:4.
type TSPDUHeader struct {
	Auth    bool
	MsgType uint8 // interpret via TransportMsgType or SessionMsgType depending on Class
	Tid     uint8 // 4 bits, 1..15; 0 reserved for "no transaction"
}

// EncodeTSPDUHeader packs the TPDU/SPDU header byte.
func EncodeTSPDUHeader(h TSPDUHeader) byte {
	var auth byte
	if h.Auth {
		auth = 1
	}
	return auth<<7 | (h.MsgType&0x7)<<4 | h.Tid&0xF
}

// DecodeTSPDUHeader unpacks a TPDU/SPDU header byte.
func DecodeTSPDUHeader(b byte) TSPDUHeader {
	return TSPDUHeader{
		Auth:    b&0x80 != 0,
		MsgType: (b >> 4) & 0x7,
		Tid:     b & 0xF,
	}
}
