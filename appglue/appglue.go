// Package appglue implements ApplicationGlue (spec §4.9): the bounded,
// slot-based interface between user code and TSA. It presents an
// outbound message slot (alloc/send/cancel), an inbound dispatch that
// first offers each item to the Proxy and NetworkMgmt interceptors
// before the user ever sees it, and a response slot tied to a pending
// inbound request's receive record.
package appglue

import (
	"github.com/lonstack/ctrlnet/msg"
	"github.com/lonstack/ctrlnet/queue"
)

// Interceptor is implemented by Proxy and NetworkMgmt: peers of
// ApplicationGlue that consume specific inbound message codes before
// user delivery (spec §3 "Flow").
type Interceptor interface {
	Intercept(in msg.AppIn, priority bool) bool
}

// Glue is the ApplicationGlue component.
type Glue struct {
	appOut         *queue.Queue[msg.AppOut]
	appOutPriority *queue.Queue[msg.AppOut]
	appIn          *queue.Queue[msg.AppIn]
	responses      *queue.Queue[msg.Response]

	interceptors []Interceptor
}

// Config bundles Glue's construction-time collaborators.
type Config struct {
	AppOut         *queue.Queue[msg.AppOut]
	AppOutPriority *queue.Queue[msg.AppOut]
	AppIn          *queue.Queue[msg.AppIn]
	Responses      *queue.Queue[msg.Response]
	Interceptors   []Interceptor
}

// New constructs a Glue.
func New(cfg Config) *Glue {
	return &Glue{
		appOut:         cfg.AppOut,
		appOutPriority: cfg.AppOutPriority,
		appIn:          cfg.AppIn,
		responses:      cfg.Responses,
		interceptors:   cfg.Interceptors,
	}
}

// OutboundHandle is the slot reserved by AllocMessage, spec §4.9
// "msg_alloc"/"msg_alloc_priority". Cancellation is only valid before
// Send (spec §5 "Cancellation").
type OutboundHandle struct {
	slot     *msg.AppOut
	queue    *queue.Queue[msg.AppOut]
	consumed bool
}

// AllocMessage reserves an outbound slot. Returns ok=false if the
// relevant queue (priority or not) is currently full; the caller should
// retry on the next service cycle.
func (g *Glue) AllocMessage(priority bool) (*OutboundHandle, bool) {
	q := g.appOut
	if priority {
		q = g.appOutPriority
	}
	if q.IsFull() {
		return nil, false
	}
	return &OutboundHandle{slot: q.Tail(), queue: q}, true
}

// Message returns the reserved slot for the caller to populate before
// Send.
func (h *OutboundHandle) Message() *msg.AppOut {
	return h.slot
}

// Send enqueues the populated slot (spec §4.9 "msg_send"). Calling Send
// or Cancel twice on the same handle is a programming error and is a
// no-op on the second call.
func (h *OutboundHandle) Send() {
	if h.consumed {
		return
	}
	h.consumed = true
	h.queue.Enqueue()
}

// Cancel releases the slot without sending (spec §4.9 "msg_cancel",
// spec §5 "Cancellation"). Since nothing was committed to the queue
// yet, this is simply a no-op marker preventing a stray Send.
func (h *OutboundHandle) Cancel() {
	h.consumed = true
}

// Poll dequeues and returns the next inbound item not consumed by a
// registered Interceptor (spec §3 "Proxy and NetworkMgmt ... intercept
// specific message codes before user delivery"). Interceptor priority
// is conservatively reported as non-priority: AppIn does not carry the
// originating transaction's priority class, since nothing in spec §4.9
// requires surfacing it to the user-facing dispatch.
func (g *Glue) Poll() (msg.AppIn, bool) {
	for !g.appIn.IsEmpty() {
		in := g.appIn.Dequeue()
		consumed := false
		for _, ic := range g.interceptors {
			if ic.Intercept(in, false) {
				consumed = true
				break
			}
		}
		if !consumed {
			return in, true
		}
	}
	return msg.AppIn{}, false
}

// ResponseHandle is the slot reserved by AllocResponse, tied to the
// inbound request's receive record (spec §4.9 "resp_alloc(in_msg)").
type ResponseHandle struct {
	recvID   int
	queue    *queue.Queue[msg.Response]
	slot     *msg.Response
	consumed bool
}

// AllocResponse reserves a response slot for a previously delivered
// AppInMessage that requested a response (in.RecvID identifies the
// pending receive record). Returns ok=false if the responses queue is
// full.
func (g *Glue) AllocResponse(in msg.AppIn) (*ResponseHandle, bool) {
	if g.responses.IsFull() {
		return nil, false
	}
	slot := g.responses.Tail()
	*slot = msg.Response{RecvID: in.RecvID}
	return &ResponseHandle{recvID: in.RecvID, queue: g.responses, slot: slot}, true
}

// Payload returns the reserved response's mutable code/payload fields
// for the caller to populate before Send.
func (h *ResponseHandle) Payload() *msg.Response {
	return h.slot
}

// Send enqueues the populated response (spec §4.9 "resp_send").
func (h *ResponseHandle) Send() {
	if h.consumed {
		return
	}
	h.consumed = true
	h.queue.Enqueue()
}

// Cancel discards the response, causing a null-response state
// transition at TSA (spec §4.9 "resp_cancel").
func (h *ResponseHandle) Cancel() {
	if h.consumed {
		return
	}
	h.consumed = true
	h.slot.Cancel = true
	h.queue.Enqueue()
}

// Tag encoding helpers, spec §4.9 "Tag encoding".
const (
	tagNVBit    = 1 << 15
	tagUpdateBit = 1 << 14
	tagLastBit  = 1 << 13
	tagIndexMask = 0x1FFF

	// ManualServiceRequestTag is the fixed tag for a manual service
	// request (spec §4.9).
	ManualServiceRequestTag int32 = 0xFFFF
)

// EncodeNVUpdateTag builds an NV-update sub-transaction tag: 1,1,last?,index[12:0].
func EncodeNVUpdateTag(index uint16, last bool) int32 {
	return encodeNVTag(index, last, true)
}

// EncodeNVPollTag builds an NV-poll sub-transaction tag: 1,0,last?,index[12:0].
func EncodeNVPollTag(index uint16, last bool) int32 {
	return encodeNVTag(index, last, false)
}

func encodeNVTag(index uint16, last, update bool) int32 {
	v := tagNVBit
	if update {
		v |= tagUpdateBit
	}
	if last {
		v |= tagLastBit
	}
	v |= int(index) & tagIndexMask
	return int32(v)
}

// DecodeNVTag reports whether tag is an NV sub-transaction tag and, if
// so, its fields.
func DecodeNVTag(tag int32) (index uint16, last bool, update bool, ok bool) {
	if tag < 0 || tag&tagNVBit == 0 {
		return 0, false, false, false
	}
	return uint16(tag & tagIndexMask), tag&tagLastBit != 0, tag&tagUpdateBit != 0, true
}
