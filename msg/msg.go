// Package msg defines the item shapes that flow through the nine bounded
// queues connecting ApplicationGlue, TransportSessionAuth, and
// NetworkLayer (spec §3 "Queues"). Keeping these shapes in their own
// package, depending only on pdu, lets netlayer and tsa each produce into
// the other's queues without an import cycle.
package msg

import "github.com/lonstack/ctrlnet/pdu"

// SourceKind canonicalizes how an inbound NPDU's source is expressed,
// after NetworkLayer classification (spec §4.5).
type SourceKind uint8

// Source kinds.
const (
	SourceSubnetNode SourceKind = iota
	SourceGroup
	SourceUniqueID
	SourceBroadcast
	SourceTurnaround
)

// SourceAddr is the canonicalized source of an inbound message. For
// group-ack responses it carries both the subnet/node and the
// acknowledging group member number (spec §4.5 "Source address
// canonicalization").
type SourceAddr struct {
	Kind     SourceKind
	Subnet   uint8
	Node     uint8
	Group    uint8
	Member   uint8
	UniqueID [6]byte
}

// NetOut is an item TSA (or Proxy/NetworkMgmt) enqueues for NetworkLayer to
// frame and hand to the Link collaborator.
type NetOut struct {
	DomainIndex int // a negative value selects domain 0; the destination is not consulted
	AltPath     bool
	Priority    bool
	Class       pdu.Class
	Dest        pdu.DestAddr
	Body        []byte // already-encoded TPDU/SPDU/AuthPDU/APDU header+payload
}

// NetIn is an item NetworkLayer enqueues for TSA after classifying an
// inbound frame.
type NetIn struct {
	DomainIndex int
	AltPath     bool
	Priority    bool
	Class       pdu.Class
	Source      SourceAddr
	Body        []byte
}

// AppDestKind selects how the application named its outbound message's
// destination (spec §4.9).
type AppDestKind uint8

// Destination selectors an application may use.
const (
	AppDestAddrIndex AppDestKind = iota
	AppDestSubnetNode
	AppDestUniqueID
	AppDestGroup
	AppDestTurnaround
	AppDestBroadcast
)

// ServiceType is the transport/session service an outbound application
// message requests.
type ServiceType uint8

// Service types an application may request (spec §4.9, §4.6).
const (
	ServiceAcked ServiceType = iota
	ServiceUnackRepeated
	ServiceRequest
)

// AppOut is an item the application enqueues via msg_alloc/msg_send (spec
// §4.9).
type AppOut struct {
	Tag       int32 // negative tags reserved for the stack itself
	Service   ServiceType
	DestKind  AppDestKind
	AddrIndex int
	Subnet    uint8
	Node      uint8
	UniqueID  [6]byte
	Group     uint8
	Code      byte
	Payload   []byte
	Auth      bool
	DomainIdx int

	// InheritTid and InheritedTid let the proxy agent forward a relayed
	// hop's own outbound transaction under the upstream transaction's
	// tid instead of allocating a fresh one (spec §4.6.1 step 6, §4.7).
	InheritTid   bool
	InheritedTid uint8

	// TimerOverrideMs, when non-zero, replaces the address-table-derived
	// retry timer for this transaction's every transmit (spec §4.7 "each
	// hop's retry timer inflated by the last-hop padding").
	TimerOverrideMs uint32
}

// AppInKind selects which of the three shapes of inbound application
// notification an AppIn item carries (spec §4.9).
type AppInKind uint8

// Inbound notification kinds.
const (
	AppInMessage    AppInKind = iota // a fresh inbound message
	AppInCompletion                  // completion of a previously sent tag
	AppInResponse                    // a response to a previously sent request tag
)

// AppIn is an item TSA enqueues for the application to read (spec §4.9).
type AppIn struct {
	Kind    AppInKind
	Tag     int32
	Source  SourceAddr
	Service ServiceType
	Code    byte
	Payload []byte
	Success bool // valid for AppInCompletion
	RecvID  int  // receive-record index, valid for AppInMessage with a pending response
	Tid     uint8 // the inbound transaction's tid, valid for AppInMessage
}

// Response is an item the application enqueues via resp_alloc/resp_send to
// answer a pending REQUEST (spec §4.9).
type Response struct {
	RecvID  int
	Code    byte
	Payload []byte
	Cancel  bool
}
