package tsa

import (
	"github.com/lonstack/ctrlnet/addrbook"
	"github.com/lonstack/ctrlnet/msg"
	"github.com/lonstack/ctrlnet/pdu"
)

func (t *TSA) receiveTransportOrSession(in msg.NetIn, now uint32) {
	if len(in.Body) < 1 {
		return
	}
	hdr := pdu.DecodeTSPDUHeader(in.Body[0])
	payload := in.Body[1:]

	if in.Class == pdu.ClassTPDU {
		switch pdu.TransportMsgType(hdr.MsgType) {
		case pdu.TransportACKD:
			t.handleNewMessage(in, hdr, msg.ServiceAcked, payload, now)
		case pdu.TransportUnackRpt:
			t.handleNewMessage(in, hdr, msg.ServiceUnackRepeated, payload, now)
		case pdu.TransportACK:
			t.handleAck(in, hdr, now)
		case pdu.TransportReminder:
			t.handleReminder(in, hdr, payload, false, now)
		case pdu.TransportRemMsg:
			t.handleReminder(in, hdr, payload, true, now)
		}
		return
	}

	switch pdu.SessionMsgType(hdr.MsgType) {
	case pdu.SessionRequest:
		t.handleNewMessage(in, hdr, msg.ServiceRequest, payload, now)
	case pdu.SessionResponse:
		t.handleResponse(in, hdr, payload, now)
	case pdu.SessionReminder:
		t.handleReminder(in, hdr, payload, false, now)
	case pdu.SessionRemMsg:
		t.handleReminder(in, hdr, payload, true, now)
	}
}

func (t *TSA) findRecord(in msg.NetIn, hdr pdu.TSPDUHeader) *ReceiveRecord {
	group, hasGroup := groupOf(in.Source)
	for i := range t.rxRecords {
		r := &t.rxRecords[i]
		if r.matchesTuple(in.Priority, in.DomainIndex, in.Class, in.Source, group, hasGroup) {
			return r
		}
	}
	return nil
}

func groupOf(s msg.SourceAddr) (uint8, bool) {
	if s.Kind == msg.SourceGroup {
		return s.Group, true
	}
	return 0, false
}

// handleNewMessage implements spec §4.6.3.
func (t *TSA) handleNewMessage(in msg.NetIn, hdr pdu.TSPDUHeader, service msg.ServiceType, payload []byte, now uint32) {
	apdu := pdu.APDU(payload).Clone()
	group, hasGroup := groupOf(in.Source)

	existing := t.findRecord(in, hdr)
	var rr *ReceiveRecord
	if existing != nil {
		if existing.sameTransaction(hdr.Tid, service, apdu) {
			if in.AltPath {
				existing.AltPath = true
			}
			if existing.State == RxAuthenticating && existing.NeedsAuth {
				// A's repeat of the original APDU before AUTHENTICATED:
				// re-emit the challenge with the same nonce (spec §8
				// Scenario 4), not a freshly drawn one.
				t.resendChallenge(existing, now)
			}
			return // exact duplicate, no new delivery
		}
		// sender started a new transaction on the same tuple
		if existing.State != RxUnused && existing.State != RxDone {
			t.stats.LostInc()
		}
		rr = existing
	} else {
		rr = t.freeRecord()
		if rr == nil {
			t.stats.RxRecordFullInc()
			return
		}
	}

	idx := rr.Index
	rr.reset()
	rr.Index = idx
	rr.Used = true
	rr.Priority = in.Priority
	rr.DomainIndex = in.DomainIndex
	rr.Class = in.Class
	rr.Source = in.Source
	rr.Group = group
	rr.HasGroup = hasGroup
	rr.Tid = hdr.Tid
	rr.Service = service
	rr.Apdu = apdu
	rr.AltPath = in.AltPath
	rr.State = RxJustReceived

	rr.Timer.Set(now, t.receiveTimerFor(in, hasGroup, group))

	rr.NeedsAuth = hdr.Auth
	if hdr.Auth {
		rr.State = RxAuthenticating
		t.emitChallenge(rr, now)
		return
	}
	t.deliver(rr)
}

func (t *TSA) receiveTimerFor(in msg.NetIn, hasGroup bool, group uint8) uint32 {
	switch in.Source.Kind {
	case msg.SourceUniqueID:
		return addrbook.UniqueIDReceiveTimerMillis
	case msg.SourceGroup:
		if hasGroup {
			if m := t.book.MaxRcvTimerForGroup(in.DomainIndex, group); m > 0 {
				return m
			}
		}
		return t.nonGroupTimerMs
	default:
		return t.nonGroupTimerMs
	}
}

func (t *TSA) freeRecord() *ReceiveRecord {
	for i := range t.rxRecords {
		if !t.rxRecords[i].Used || t.rxRecords[i].State == RxUnused {
			return &t.rxRecords[i]
		}
	}
	return nil
}

// deliver hands an authenticated/unauthenticated message to the
// application, and for ACKD immediately queues the ack (spec §4.6.3).
func (t *TSA) deliver(rr *ReceiveRecord) {
	rr.State = RxDelivered
	if t.appIn.IsFull() {
		return
	}
	*t.appIn.Tail() = msg.AppIn{
		Kind:    msg.AppInMessage,
		Source:  rr.Source,
		Service: rr.Service,
		Code:    rr.Apdu.Code(),
		Payload: rr.Apdu.Payload(),
		RecvID:  rr.Index,
		Tid:     rr.Tid,
	}
	t.appIn.Enqueue()

	if rr.Service == msg.ServiceAcked {
		t.sendAck(rr)
	}
}

func (t *TSA) sendAck(rr *ReceiveRecord) {
	netQ := t.netOut
	if rr.Priority {
		netQ = t.netOutPriority
	}
	if netQ.IsFull() {
		return
	}
	hdr := pdu.EncodeTSPDUHeader(pdu.TSPDUHeader{MsgType: uint8(pdu.TransportACK), Tid: rr.Tid})
	*netQ.Tail() = msg.NetOut{
		DomainIndex: rr.DomainIndex,
		Priority:    rr.Priority,
		Class:       pdu.ClassTPDU,
		Dest:        sourceAsDest(rr.Source, rr.Group, rr.HasGroup),
		Body:        []byte{hdr},
	}
	netQ.Enqueue()
}

// handleAck implements spec §4.6.1 step 4 for transport-class acks.
func (t *TSA) handleAck(in msg.NetIn, hdr pdu.TSPDUHeader, now uint32) {
	t.handleAckOrResponse(in, hdr, nil, now)
}

func (t *TSA) handleResponse(in msg.NetIn, hdr pdu.TSPDUHeader, payload []byte, now uint32) {
	t.handleAckOrResponse(in, hdr, payload, now)
}

func (t *TSA) handleAckOrResponse(in msg.NetIn, hdr pdu.TSPDUHeader, payload []byte, now uint32) {
	rec := &t.txPriority
	if !in.Priority {
		rec = &t.txNonPriority
	}
	if !rec.Active || rec.Tid != hdr.Tid {
		t.stats.LateAckInc()
		return
	}

	if rec.Dest.Format == pdu.AddrMulticast {
		if in.Source.Kind == msg.SourceGroup {
			if !rec.AckBitmap.IsSet(in.Source.Member) {
				rec.AckBitmap.Set(in.Source.Member)
				rec.AckCount++
				t.deliverResponsePayload(rec, in, payload)
			}
		}
		if rec.AckCount >= rec.DestCount {
			t.terminateTransmit(rec, !in.Priority, true)
		}
		return
	}

	if rec.Dest.Format == pdu.AddrBroadcast {
		if rec.ResponsesDelivered < rec.MaxResponses {
			rec.ResponsesDelivered++
			t.deliverResponsePayload(rec, in, payload)
		}
		if rec.ResponsesDelivered >= rec.MaxResponses {
			t.terminateTransmit(rec, !in.Priority, true)
		}
		return
	}

	// unicast: first ack/response completes the transaction.
	t.deliverResponsePayload(rec, in, payload)
	t.terminateTransmit(rec, !in.Priority, true)
}

func (t *TSA) deliverResponsePayload(rec *TransmitRecord, in msg.NetIn, payload []byte) {
	if payload == nil {
		return // a bare transport ACK carries nothing to hand the user
	}
	if t.appIn.IsFull() {
		return
	}
	*t.appIn.Tail() = msg.AppIn{
		Kind:    msg.AppInResponse,
		Tag:     rec.Tag,
		Source:  in.Source,
		Service: rec.Service,
		Code:    pdu.APDU(payload).Code(),
		Payload: pdu.APDU(payload).Payload(),
	}
	t.appIn.Enqueue()
}

func (t *TSA) terminateTransmit(rec *TransmitRecord, nonPriority bool, success bool) {
	t.tids.TransDone(!nonPriority)
	t.deliverCompletion(rec, success)
	rec.reset()
}

// handleReminder implements spec §4.6.4.
func (t *TSA) handleReminder(in msg.NetIn, hdr pdu.TSPDUHeader, payload []byte, withMsg bool, now uint32) {
	rr := t.findRecord(in, hdr)

	var reminder pdu.Reminder
	var newApdu pdu.APDU
	if withMsg {
		rm, err := pdu.DecodeRemMsg(payload)
		if err != nil {
			return
		}
		reminder, newApdu = rm.Reminder, rm.Apdu
	} else {
		r, _, err := pdu.DecodeReminder(payload)
		if err != nil {
			return
		}
		reminder = r
	}

	if rr == nil {
		if !withMsg {
			return // plain reminder with no matching record: nothing to do
		}
		t.handleNewMessage(in, hdr, serviceForClass(in.Class), newApdu, now)
		return
	}

	if withMsg && !newApdu.Equal(rr.Apdu) {
		rr.State = RxDone
		t.handleNewMessage(in, hdr, serviceForClass(in.Class), newApdu, now)
		return
	}

	included := rr.HasGroup && reminder.Bitmap.IsSet(rr.Source.Member)

	if included {
		if rr.State == RxDelivered || rr.State == RxResponded {
			rr.State = RxDone
		}
		return
	}

	switch rr.State {
	case RxDelivered:
		t.sendAck(rr)
	case RxResponded:
		netQ := t.netOut
		if rr.Priority {
			netQ = t.netOutPriority
		}
		if !netQ.IsFull() {
			hdr := pdu.EncodeTSPDUHeader(pdu.TSPDUHeader{MsgType: uint8(pdu.SessionResponse), Tid: rr.Tid})
			*netQ.Tail() = msg.NetOut{
				DomainIndex: rr.DomainIndex,
				Priority:    rr.Priority,
				Class:       pdu.ClassSPDU,
				Dest:        sourceAsDest(rr.Source, rr.Group, rr.HasGroup),
				Body:        append([]byte{hdr}, rr.SavedResponse...),
			}
			netQ.Enqueue()
		}
	}
}

func serviceForClass(class pdu.Class) msg.ServiceType {
	if class == pdu.ClassSPDU {
		return msg.ServiceRequest
	}
	return msg.ServiceAcked
}

// --- authentication ---

func (t *TSA) emitChallenge(rr *ReceiveRecord, now uint32) {
	var nonce [8]byte
	for i := range nonce {
		nonce[i] = byte(t.rng.Intn(256)) ^ byte(now>>uint(i%4*8))
	}
	rr.ChallengeNonce = nonce
	t.sendChallenge(rr)
}

// resendChallenge re-emits a challenge already outstanding for rr,
// reusing its existing nonce instead of drawing a new one (spec §8
// Scenario 4; lcs_tsa.c's InitiateChallenge reuses gp->recvRec[i].rand
// whenever the record is already AUTHENTICATING).
func (t *TSA) resendChallenge(rr *ReceiveRecord, now uint32) {
	t.sendChallenge(rr)
}

func (t *TSA) sendChallenge(rr *ReceiveRecord) {
	netQ := t.netOut
	if rr.Priority {
		netQ = t.netOutPriority
	}
	if netQ.IsFull() {
		return
	}
	msgType := pdu.AuthChallenge
	domain, _ := t.book.Domain(rr.DomainIndex)
	if domain.Auth == addrbook.AuthOpenMedia {
		msgType = pdu.AuthChallengeOMA
	}
	fmtField := pdu.AddrSubnetNode
	if rr.HasGroup {
		fmtField = pdu.AddrMulticast
	}
	hdr := pdu.EncodeAuthPDUHeader(pdu.AuthPDUHeader{Fmt: fmtField, MsgType: msgType, Tid2: pdu.Tid2Of(rr.Tid)})
	body := append([]byte{hdr}, rr.ChallengeNonce[:]...)
	if fmtField == pdu.AddrMulticast {
		body = append(body, rr.Group)
	}
	*netQ.Tail() = msg.NetOut{
		DomainIndex: rr.DomainIndex,
		Priority:    rr.Priority,
		Class:       pdu.ClassAuthPDU,
		Dest:        sourceAsDest(rr.Source, rr.Group, rr.HasGroup),
		Body:        body,
	}
	netQ.Enqueue()
}

func (t *TSA) receiveAuth(in msg.NetIn, now uint32) {
	if len(in.Body) < 1 {
		return
	}
	hdr := pdu.DecodeAuthPDUHeader(in.Body[0])
	payload := in.Body[1:]

	switch hdr.MsgType {
	case pdu.AuthChallenge, pdu.AuthChallengeOMA:
		t.replyToChallenge(in, hdr, payload, now)
	case pdu.AuthReply, pdu.AuthReplyOMA:
		t.acceptReply(in, hdr, payload, now)
	}
}

// replyToChallenge answers a challenge for whichever transmit record
// (priority or non-priority) the challenge's tid2 matches.
func (t *TSA) replyToChallenge(in msg.NetIn, hdr pdu.AuthPDUHeader, payload []byte, now uint32) {
	if len(payload) < pdu.NonceSize {
		return
	}
	var nonce [8]byte
	copy(nonce[:], payload[:pdu.NonceSize])

	rec := &t.txPriority
	if !in.Priority {
		rec = &t.txNonPriority
	}
	if !rec.Active || pdu.Tid2Of(rec.Tid) != hdr.Tid2 {
		t.stats.LateAckInc()
		return
	}

	domain, _ := t.book.Domain(rec.DomainIndex)
	keyLen := domain.Auth.KeyLen()
	input := []byte(rec.Apdu)
	isOma := hdr.MsgType == pdu.AuthChallengeOMA
	if isOma {
		prefix := BuildOmaPrefix(0, [6]byte{rec.Dest.Subnet, rec.Dest.Node}, domain.ID, domain.Len)
		input = append(append([]byte{}, prefix...), rec.Apdu...)
	}
	mac := F(nonce, input, domain.Key[:keyLen])

	netQ := t.netOut
	if in.Priority {
		netQ = t.netOutPriority
	}
	if netQ.IsFull() {
		return
	}
	replyType := pdu.AuthReply
	if isOma {
		replyType = pdu.AuthReplyOMA
	}
	replyHdr := pdu.EncodeAuthPDUHeader(pdu.AuthPDUHeader{Fmt: hdr.Fmt, MsgType: replyType, Tid2: hdr.Tid2})
	body := append([]byte{replyHdr}, mac[:]...)
	if hdr.IsMulticastFmt() && len(payload) > pdu.NonceSize {
		body = append(body, payload[pdu.NonceSize])
	}
	*netQ.Tail() = msg.NetOut{
		DomainIndex: rec.DomainIndex,
		Priority:    in.Priority,
		Class:       pdu.ClassAuthPDU,
		Dest:        in2Dest(in),
		Body:        body,
	}
	netQ.Enqueue()
}

func in2Dest(in msg.NetIn) pdu.DestAddr {
	return sourceAsDest(in.Source, in.Source.Group, in.Source.Kind == msg.SourceGroup)
}

// acceptReply validates and consumes a challenge reply for a receive
// record in RxAuthenticating (spec §4.6.6 acceptance rules).
func (t *TSA) acceptReply(in msg.NetIn, hdr pdu.AuthPDUHeader, payload []byte, now uint32) {
	rr := t.findAuthenticating(in, hdr.Tid2)
	if rr == nil {
		t.stats.LateAckInc()
		return
	}
	if len(payload) < pdu.NonceSize {
		return
	}

	wantFmt := pdu.AddrSubnetNode
	if rr.HasGroup {
		wantFmt = pdu.AddrMulticast
	}
	if hdr.Fmt != wantFmt {
		t.stats.SetErrorLog(authMismatchErrorLogValue)
		t.failAuthenticating(rr)
		return
	}
	if wantFmt == pdu.AddrMulticast {
		if len(payload) < pdu.NonceSize+1 || payload[pdu.NonceSize] != rr.Group {
			t.stats.SetErrorLog(authMismatchErrorLogValue)
			t.failAuthenticating(rr)
			return
		}
	}

	domain, _ := t.book.Domain(rr.DomainIndex)
	keyLen := domain.Auth.KeyLen()
	isOma := hdr.MsgType == pdu.AuthReplyOMA
	input := []byte(rr.Apdu)
	if isOma {
		prefix := BuildOmaPrefix(0, [6]byte{rr.Source.Subnet, rr.Source.Node}, domain.ID, domain.Len)
		input = append(append([]byte{}, prefix...), rr.Apdu...)
	}
	want := F(rr.ChallengeNonce, input, domain.Key[:keyLen])
	var got [8]byte
	copy(got[:], payload[:pdu.NonceSize])
	if want != got {
		t.stats.SetErrorLog(authMismatchErrorLogValue)
		t.failAuthenticating(rr)
		return
	}

	rr.State = RxAuthenticated
	t.deliver(rr)
}

const authMismatchErrorLogValue = 9 // AUTHENTICATION_MISMATCH (spec §6.3)

func (t *TSA) failAuthenticating(rr *ReceiveRecord) {
	rr.State = RxDone
}

func (t *TSA) findAuthenticating(in msg.NetIn, tid2 uint8) *ReceiveRecord {
	for i := range t.rxRecords {
		r := &t.rxRecords[i]
		if r.Used && r.State == RxAuthenticating && pdu.Tid2Of(r.Tid) == tid2 {
			return r
		}
	}
	return nil
}
