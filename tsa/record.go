package tsa

import (
	"github.com/lonstack/ctrlnet/msg"
	"github.com/lonstack/ctrlnet/mstimer"
	"github.com/lonstack/ctrlnet/pdu"
)

// RxState is a receive record's position in the state machine of spec
// §4.6.7.
type RxState uint8

// Receive record states.
const (
	RxUnused RxState = iota
	RxJustReceived
	RxAuthenticating
	RxAuthenticated
	RxDelivered
	RxResponded
	RxDone
)

// ReceiveRecord tracks one in-flight inbound transaction (spec §4.6.3,
// §4.6.7).
type ReceiveRecord struct {
	Used        bool
	State       RxState
	Priority    bool
	DomainIndex int
	Class       pdu.Class
	Source      msg.SourceAddr
	Group       uint8
	HasGroup    bool
	Tid         uint8
	Service     msg.ServiceType
	Apdu        pdu.APDU
	Timer       mstimer.MsTimer
	AltPath     bool

	NeedsAuth      bool
	ChallengeNonce [8]byte

	SavedResponse pdu.APDU
	RespCode      byte

	// identifies this record to the application for resp_alloc, and to
	// ApplicationGlue for tag association on AppIn.
	Index int
}

// matches reports whether an inbound item with these identifying fields
// names the same transaction as r (spec §4.6.3's lookup tuple).
func (r *ReceiveRecord) matchesTuple(priority bool, domainIndex int, class pdu.Class, src msg.SourceAddr, group uint8, hasGroup bool) bool {
	if !r.Used || r.Priority != priority || r.DomainIndex != domainIndex || r.Class != class {
		return false
	}
	if hasGroup != r.HasGroup || (hasGroup && group != r.Group) {
		return false
	}
	return r.Source.Kind == src.Kind && r.Source.Subnet == src.Subnet && r.Source.Node == src.Node
}

func (r *ReceiveRecord) sameTransaction(tid uint8, service msg.ServiceType, apdu pdu.APDU) bool {
	return r.Tid == tid && r.Service == service && r.Apdu.Equal(apdu)
}

// reset returns the record to RxUnused, releasing it for reuse.
func (r *ReceiveRecord) reset() {
	idx := r.Index
	*r = ReceiveRecord{Index: idx}
}

// TransmitRecord is the single in-flight outbound transaction per
// priority class (spec §4.6.1). Only one transaction per class may be
// active at a time — matching tid.Allocator's one-ring-per-class model.
type TransmitRecord struct {
	Active bool

	Class       pdu.Class
	DomainIndex int
	Dest        pdu.DestAddr
	AltPath     bool
	Service     msg.ServiceType
	Auth        bool
	Tid         uint8
	Apdu        pdu.APDU
	Tag         int32

	DestCount          int
	AckBitmap          pdu.Bitmap
	AckCount           int
	MaxResponses       int
	ResponsesDelivered int

	RetriesLeft    uint8
	RetryCount     uint8 // original budget, for the alt-path last-N computation
	AltPathCount   uint8 // ALT_PATH_COUNT, default 1: last AltPathCount+1 retries go out the alt path
	Timer          mstimer.MsTimer

	// ProxyInherited marks a transmission as a proxy-relayed hop's own
	// outbound leg; TxTimerDeltaLast, when non-zero, is the padded
	// retry timer (ms) it uses on every transmit instead of the
	// address-table-derived value (spec §4.6.1 step 6, §4.7).
	ProxyInherited   bool
	TxTimerDeltaLast uint32

	// which network slot(s) are needed to transmit (1, or 2 when a
	// standalone REMINDER must precede the ACKD/REQUEST).
	PendingReminder bool
}

func (t *TransmitRecord) reset() {
	*t = TransmitRecord{}
}
