// Package tsa implements TransportSessionAuth, spec §4.6 — the core
// engine. Its Send processes one send cycle in the fixed priority order
// §4.6.1 requires: pending response, priority retry, new priority
// transaction, non-priority retry, new non-priority transaction. Its
// Receive demultiplexes inbound PDUs by class and drives the receive
// record state machine of §4.6.7.
package tsa

import (
	"math/rand"

	"github.com/lonstack/ctrlnet/addrbook"
	"github.com/lonstack/ctrlnet/clog"
	"github.com/lonstack/ctrlnet/metrics"
	"github.com/lonstack/ctrlnet/msg"
	"github.com/lonstack/ctrlnet/pdu"
	"github.com/lonstack/ctrlnet/queue"
	"github.com/lonstack/ctrlnet/tid"
)

// MaxAPDULen is the largest application payload the network buffer pool
// accepts (spec §4.9: "payload up to ~228 bytes").
const MaxAPDULen = 228

// DefaultRcvRecords is the compile-time default receive record table
// size.
const DefaultRcvRecords = 8

// DefaultMaxResponses is used for broadcast-with-responses transactions
// when the caller does not override it; spec §4.6.1 names the concept
// without pinning a default, so this is a deployment-reasonable choice.
const DefaultMaxResponses = 16

// Config bundles TSA's construction-time collaborators and parameters.
type Config struct {
	Book             *addrbook.Book
	Tids             *tid.Allocator
	AppOut           *queue.Queue[msg.AppOut]
	AppOutPriority   *queue.Queue[msg.AppOut]
	AppIn            *queue.Queue[msg.AppIn]
	Responses        *queue.Queue[msg.Response]
	NetOut           *queue.Queue[msg.NetOut]
	NetOutPriority   *queue.Queue[msg.NetOut]
	NetIn            *queue.Queue[msg.NetIn]
	Stats            *metrics.Stats
	NonGroupTimerMs  uint32
	MaxResponses     int
	RecordCount      int
	Rand             *rand.Rand // seedable per spec §8 "all randomness is seedable"

	// GroupSizeCompatibility selects which of the two historical
	// group-size wire conventions dest_count derivation follows (spec
	// §9 Open Question; see config.DataBlob.GroupSizeCompatibility).
	GroupSizeCompatibility bool
}

// TSA is the TransportSessionAuth engine.
type TSA struct {
	log   clog.Clog
	stats *metrics.Stats
	book  *addrbook.Book
	tids  *tid.Allocator
	rng   *rand.Rand

	nonGroupTimerMs        uint32
	maxResponses           int
	groupSizeCompatibility bool

	appOut         *queue.Queue[msg.AppOut]
	appOutPriority *queue.Queue[msg.AppOut]
	appIn          *queue.Queue[msg.AppIn]
	responses      *queue.Queue[msg.Response]

	netOut         *queue.Queue[msg.NetOut]
	netOutPriority *queue.Queue[msg.NetOut]
	netIn          *queue.Queue[msg.NetIn]

	txPriority    TransmitRecord
	txNonPriority TransmitRecord

	rxRecords []ReceiveRecord
}

// New constructs a TSA engine.
func New(cfg Config) *TSA {
	n := cfg.RecordCount
	if n <= 0 {
		n = DefaultRcvRecords
	}
	rx := make([]ReceiveRecord, n)
	for i := range rx {
		rx[i].Index = i
	}
	maxResp := cfg.MaxResponses
	if maxResp <= 0 {
		maxResp = DefaultMaxResponses
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &TSA{
		log:             clog.NewLogger("tsa"),
		stats:           cfg.Stats,
		book:            cfg.Book,
		tids:            cfg.Tids,
		rng:             rng,
		nonGroupTimerMs: cfg.NonGroupTimerMs,
		maxResponses:    maxResp,
		groupSizeCompatibility: cfg.GroupSizeCompatibility,
		appOut:          cfg.AppOut,
		appOutPriority:  cfg.AppOutPriority,
		appIn:           cfg.AppIn,
		responses:       cfg.Responses,
		netOut:          cfg.NetOut,
		netOutPriority:  cfg.NetOutPriority,
		netIn:           cfg.NetIn,
		rxRecords:       rx,
	}
}

// Send executes one send cycle (spec §4.6).
func (t *TSA) Send(now uint32) {
	if t.sendPendingResponse(now) {
		return
	}
	if t.serviceTransmitRecord(&t.txPriority, true, now) {
		return
	}
	if !t.txPriority.Active {
		if t.startNewTransaction(true, now) {
			return
		}
	}
	if t.serviceTransmitRecord(&t.txNonPriority, false, now) {
		return
	}
	if !t.txNonPriority.Active {
		t.startNewTransaction(false, now)
	}
}

// Receive demultiplexes one inbound PDU (spec §4.6.3, §4.6.4, §4.6.6).
func (t *TSA) Receive(now uint32) {
	if t.netIn.IsEmpty() {
		return
	}
	in := t.netIn.Dequeue()
	switch in.Class {
	case pdu.ClassTPDU, pdu.ClassSPDU:
		t.receiveTransportOrSession(in, now)
	case pdu.ClassAuthPDU:
		t.receiveAuth(in, now)
	default:
		t.log.Warn(clog.Fields{"class": in.Class}, "tsa: unexpected pdu class on netIn")
	}
}

func (t *TSA) priorityOutQueue(priority bool) (*queue.Queue[msg.AppOut], *queue.Queue[msg.NetOut]) {
	if priority {
		return t.appOutPriority, t.netOutPriority
	}
	return t.appOut, t.netOut
}

// startNewTransaction pops the head of the relevant out-queue and begins
// a new outbound transaction (spec §4.6.1 step 1-2).
func (t *TSA) startNewTransaction(priority bool, now uint32) bool {
	appQ, netQ := t.priorityOutQueue(priority)
	if appQ.IsEmpty() {
		return false
	}
	req := appQ.Head()

	destCount, bitmapLen, ok := t.resolveDestCount(*req)
	if !ok {
		appQ.Dequeue()
		t.completeImmediateFailure(*req)
		return true
	}
	if len(req.Payload)+1 > MaxAPDULen {
		appQ.Dequeue()
		t.completeImmediateFailure(*req)
		return true
	}

	dest, addrIdx, err := t.resolveDest(*req)
	if err != nil {
		appQ.Dequeue()
		t.completeImmediateFailure(*req)
		return true
	}

	var newTid uint8
	if req.InheritTid {
		// Proxy relay: reuse the upstream transaction's tid instead of
		// drawing a fresh one (spec §4.6.1 step 6, §4.7).
		newTid = req.InheritedTid
		t.tids.OverrideTid(priority, newTid)
	} else {
		tidDest := t.tidDestOf(*req, dest)
		var err error
		newTid, err = t.tids.NewTid(priority, tidDest, now)
		if err != nil {
			return false // busy or table full: try again next cycle
		}
	}

	retries := uint8(3)
	altPath := false
	var longTimer bool
	if addrIdx >= 0 {
		entry, _ := t.book.Address(addrIdx)
		retries = entry.RetryCount
		longTimer = entry.LongTimer
	}

	rec := &t.txPriority
	if !priority {
		rec = &t.txNonPriority
	}
	rec.reset()
	rec.Active = true
	rec.Class = classFor(req.Service)
	rec.DomainIndex = req.DomainIdx
	rec.Dest = dest
	rec.AltPath = altPath
	rec.Service = req.Service
	rec.Auth = req.Auth
	rec.Tid = newTid
	rec.Apdu = append([]byte{req.Code}, req.Payload...)
	rec.Tag = req.Tag
	rec.DestCount = destCount
	rec.AckBitmap = pdu.NewBitmap(bitmapLen)
	rec.MaxResponses = t.maxResponses
	rec.RetriesLeft = retries
	rec.RetryCount = retries
	rec.AltPathCount = addrbook.AltPathRetryCount
	rec.ProxyInherited = req.InheritTid
	rec.TxTimerDeltaLast = req.TimerOverrideMs

	appQ.Dequeue()
	t.transmit(rec, priority, now, longTimer)
	return true
}

func (t *TSA) tidDestOf(req msg.AppOut, dest pdu.DestAddr) tid.Dest {
	domain, _ := t.book.Domain(req.DomainIdx)
	d := tid.Dest{DomainID: domain.ID, DomainLen: domain.Len}
	switch dest.Format {
	case pdu.AddrMulticast:
		d.Kind = tid.DestGroup
		d.Group = dest.Group
	case pdu.AddrBroadcast:
		d.Kind = tid.DestBroadcast
		d.Subnet = dest.Subnet
	case pdu.AddrUniqueID:
		d.Kind = tid.DestUniqueID
		d.UniqueID = dest.UniqueID
	default:
		d.Kind = tid.DestSubnetNode
		d.Subnet, d.Node = dest.Subnet, dest.Node
	}
	return d
}

// resolveDestCount validates group-size rules and derives dest_count
// (spec §4.6.1 step 1).
func (t *TSA) resolveDestCount(req msg.AppOut) (destCount int, bitmapLen int, ok bool) {
	if req.DestKind != msg.AppDestGroup {
		return 1, 1, true
	}
	addrIdx, found := t.book.FindGroupAddress(req.DomainIdx, req.Group)
	if !found {
		return 0, 0, false
	}
	entry, _ := t.book.Address(addrIdx)
	size := int(entry.GroupSize)
	if size == 1 {
		return 0, 0, false // illegal for every service
	}
	if size > 64 {
		return 0, 0, false
	}
	if size == 0 {
		if req.Service != msg.ServiceUnackRepeated {
			return 0, 0, false
		}
		return 0, 1, true // large group, valid only unackd-repeated
	}
	// GROUP_SIZE_COMPATIBILITY (spec §9 Open Question): when the
	// transmitted size already counts self-membership, subtract one to
	// get dest_count; when it already equals the true size, it need not
	// be corrected. Both behaviors are preserved bit-for-bit behind the
	// startup flag, per spec.
	n := size
	if t.groupSizeCompatibility {
		n--
	}
	if n < 1 {
		n = 1
	}
	return n, size, true
}

func (t *TSA) resolveDest(req msg.AppOut) (pdu.DestAddr, int, error) {
	switch req.DestKind {
	case msg.AppDestAddrIndex:
		e, err := t.book.Address(req.AddrIndex)
		if err != nil {
			return pdu.DestAddr{}, -1, err
		}
		switch e.Kind {
		case addrbook.AddrKindGroup:
			return pdu.DestAddr{Format: pdu.AddrMulticast, Group: e.Group}, req.AddrIndex, nil
		case addrbook.AddrKindUniqueID:
			return pdu.DestAddr{Format: pdu.AddrUniqueID, Subnet: e.Subnet, UniqueID: e.UniqueID}, req.AddrIndex, nil
		case addrbook.AddrKindBroadcast:
			return pdu.DestAddr{Format: pdu.AddrBroadcast, Subnet: e.Subnet}, req.AddrIndex, nil
		default:
			return pdu.DestAddr{Format: pdu.AddrSubnetNode, Subnet: e.Subnet, Node: e.Node}, req.AddrIndex, nil
		}
	case msg.AppDestSubnetNode:
		return pdu.DestAddr{Format: pdu.AddrSubnetNode, Subnet: req.Subnet, Node: req.Node}, -1, nil
	case msg.AppDestUniqueID:
		return pdu.DestAddr{Format: pdu.AddrUniqueID, Subnet: req.Subnet, UniqueID: req.UniqueID}, -1, nil
	case msg.AppDestGroup:
		idx, _ := t.book.FindGroupAddress(req.DomainIdx, req.Group)
		return pdu.DestAddr{Format: pdu.AddrMulticast, Group: req.Group}, idx, nil
	case msg.AppDestBroadcast:
		return pdu.DestAddr{Format: pdu.AddrBroadcast, Subnet: req.Subnet}, -1, nil
	case msg.AppDestTurnaround:
		return pdu.DestAddr{Format: pdu.AddrTurnaround}, -1, nil
	default:
		return pdu.DestAddr{}, -1, errBadDestKind
	}
}

func classFor(service msg.ServiceType) pdu.Class {
	if service == msg.ServiceRequest {
		return pdu.ClassSPDU
	}
	return pdu.ClassTPDU
}

// transmit emits a fresh PDU for rec (spec §4.6.1 step 2) and schedules
// its retry timer (step 3).
func (t *TSA) transmit(rec *TransmitRecord, priority bool, now uint32, longTimer bool) {
	_, netQ := t.priorityOutQueue(priority)
	if netQ.IsFull() {
		return // retry this same step next cycle; record stays Active
	}

	body := t.encodeBody(rec, priority, now)
	*netQ.Tail() = msg.NetOut{
		DomainIndex: rec.DomainIndex,
		AltPath:     rec.AltPath,
		Priority:    priority,
		Class:       rec.Class,
		Dest:        rec.Dest,
		Body:        body,
	}
	netQ.Enqueue()

	idx, _ := t.book.FindGroupAddress(rec.DomainIndex, rec.Dest.Group)
	timerIdx := uint8(0)
	if rec.Dest.Format == pdu.AddrMulticast {
		if e, err := t.book.Address(idx); err == nil {
			timerIdx = e.TxTimerIdx
		}
	}
	retriesSoFar := int(rec.RetryCount) - int(rec.RetriesLeft)
	altThreshold := int(rec.RetryCount) - (int(rec.AltPathCount) + 1)
	rec.AltPath = rec.Service != msg.ServiceUnackRepeated && retriesSoFar >= altThreshold

	retryMs := addrbook.TransmitTimerMillis(timerIdx, longTimer)
	if rec.ProxyInherited && rec.TxTimerDeltaLast > 0 {
		// A relayed hop's retries follow the padded timer encoded into
		// its own forwarded envelope, not the plain address-table
		// lookup (spec §4.7 "last-hop timer padding").
		retryMs = rec.TxTimerDeltaLast
	}
	rec.Timer.Set(now, retryMs)
}

func (t *TSA) encodeBody(rec *TransmitRecord, priority bool, now uint32) []byte {
	msgType := uint8(0)
	switch rec.Service {
	case msg.ServiceAcked:
		msgType = uint8(pdu.TransportACKD)
	case msg.ServiceUnackRepeated:
		msgType = uint8(pdu.TransportUnackRpt)
	case msg.ServiceRequest:
		msgType = uint8(pdu.SessionRequest)
	}
	hdr := pdu.EncodeTSPDUHeader(pdu.TSPDUHeader{Auth: rec.Auth, MsgType: msgType, Tid: rec.Tid})
	return append([]byte{hdr}, rec.Apdu...)
}

// serviceTransmitRecord advances rec's retry timer, resending or
// terminating as needed. Returns true if it performed a network-facing
// action this cycle.
func (t *TSA) serviceTransmitRecord(rec *TransmitRecord, priority bool, now uint32) bool {
	if !rec.Active || !rec.Timer.Expired(now) {
		return false
	}
	if rec.RetriesLeft == 0 {
		t.failTransmit(rec, priority)
		return true
	}
	rec.RetriesLeft--
	t.transmit(rec, priority, now, false)
	return true
}

func (t *TSA) failTransmit(rec *TransmitRecord, priority bool) {
	t.stats.TxFailureInc()
	t.deliverCompletion(rec, false)
	t.tids.TransDone(priority)
	rec.reset()
}

func (t *TSA) completeImmediateFailure(req msg.AppOut) {
	if t.appIn.IsFull() {
		return
	}
	*t.appIn.Tail() = msg.AppIn{Kind: msg.AppInCompletion, Tag: req.Tag, Success: false}
	t.appIn.Enqueue()
}

func (t *TSA) deliverCompletion(rec *TransmitRecord, success bool) {
	if t.appIn.IsFull() {
		return
	}
	*t.appIn.Tail() = msg.AppIn{Kind: msg.AppInCompletion, Tag: rec.Tag, Success: success}
	t.appIn.Enqueue()
}

// sendPendingResponse drains one queued application response (spec
// §4.6.1 priority step (a)).
func (t *TSA) sendPendingResponse(now uint32) bool {
	if t.responses.IsEmpty() {
		return false
	}
	resp := t.responses.Head()
	rr := t.recordAt(resp.RecvID)
	if rr == nil || rr.State == RxUnused {
		t.responses.Dequeue()
		return false
	}
	if resp.Cancel {
		t.responses.Dequeue()
		rr.State = RxDone
		return true
	}
	if t.netOutPriority.IsFull() && t.netOut.IsFull() {
		return true // retry next cycle
	}
	netQ := t.netOut
	if rr.Priority {
		netQ = t.netOutPriority
	}
	if netQ.IsFull() {
		return true
	}
	hdr := pdu.EncodeTSPDUHeader(pdu.TSPDUHeader{Auth: false, MsgType: uint8(pdu.SessionResponse), Tid: rr.Tid})
	body := append([]byte{hdr, resp.Code}, resp.Payload...)
	*netQ.Tail() = msg.NetOut{
		DomainIndex: rr.DomainIndex,
		Priority:    rr.Priority,
		Class:       pdu.ClassSPDU,
		Dest:        sourceAsDest(rr.Source, rr.Group, rr.HasGroup),
		Body:        body,
	}
	netQ.Enqueue()
	t.responses.Dequeue()
	rr.SavedResponse = append([]byte{resp.Code}, resp.Payload...)
	rr.State = RxResponded
	return true
}

func sourceAsDest(s msg.SourceAddr, group uint8, hasGroup bool) pdu.DestAddr {
	if hasGroup {
		return pdu.DestAddr{Format: pdu.AddrMulticastAck, Subnet: s.Subnet, Node: s.Node, Group: group, Member: s.Member}
	}
	switch s.Kind {
	case msg.SourceUniqueID:
		return pdu.DestAddr{Format: pdu.AddrUniqueID, Subnet: s.Subnet, UniqueID: s.UniqueID}
	default:
		return pdu.DestAddr{Format: pdu.AddrSubnetNode, Subnet: s.Subnet, Node: s.Node}
	}
}

func (t *TSA) recordAt(idx int) *ReceiveRecord {
	if idx < 0 || idx >= len(t.rxRecords) {
		return nil
	}
	return &t.rxRecords[idx]
}
