// Package proxy implements the hop-by-hop enhanced-proxy relay of spec
// §4.7. It intercepts inbound application messages whose APDU code names
// a proxy envelope before ApplicationGlue ever sees them, and converts
// proxy completions back into a response delivered to the original
// requester's receive record.
package proxy

import (
	"github.com/lonstack/ctrlnet/addrbook"
	"github.com/lonstack/ctrlnet/clog"
	"github.com/lonstack/ctrlnet/msg"
	"github.com/lonstack/ctrlnet/pdu"
	"github.com/lonstack/ctrlnet/queue"
)

// APDU codes recognized by the proxy agent (spec §4.7). Named after the
// reference stack's LT_APDU_ENHANCED_PROXY family; values are placeholders
// within the vendor-reserved network-diagnostic code range, since spec.md
// does not pin the exact byte (an Open Question left to the implementer).
const (
	CodeEnhancedProxy  byte = 0xE2
	CodeProxySuccess   byte = 0xE3
	CodeProxyFailure   byte = 0xE4
)

// LastHopTimerPadMillis is added once to the relay timer on the last hop
// (no intermediate hops remain), so cascaded failures do not race (spec
// §4.7 "Last-hop timer padding"). Earlier hops are not padded.
const LastHopTimerPadMillis = 256

// minBaseTimerForPadding is the floor below which last-hop padding does
// not apply (spec §4.7: "for base timers >= 10").
const minBaseTimerForPadding = 10

// Agent is the proxy relay component.
type Agent struct {
	log    clog.Clog
	book   *addrbook.Book
	appOut *queue.Queue[msg.AppOut]
	appOutPriority *queue.Queue[msg.AppOut]
	appIn  *queue.Queue[msg.AppIn]
	responses *queue.Queue[msg.Response]

	pending map[int32]pendingRelay
	nextTag int32
}

type pendingRelay struct {
	origRecvID  int
	hopsAtStart uint8
}

// Config bundles Agent's construction-time collaborators.
type Config struct {
	Book           *addrbook.Book
	AppOut         *queue.Queue[msg.AppOut]
	AppOutPriority *queue.Queue[msg.AppOut]
	AppIn          *queue.Queue[msg.AppIn]
	Responses      *queue.Queue[msg.Response]
}

// New constructs a proxy Agent.
func New(cfg Config) *Agent {
	return &Agent{
		log:       clog.NewLogger("proxy"),
		book:      cfg.Book,
		appOut:    cfg.AppOut,
		appOutPriority: cfg.AppOutPriority,
		appIn:     cfg.AppIn,
		responses: cfg.Responses,
		pending:   make(map[int32]pendingRelay),
		nextTag:   -1000, // negative tags are reserved for the stack (spec §4.9)
	}
}

// Intercept inspects one AppIn item before ApplicationGlue's dispatch. It
// returns true if it consumed the item (a proxy envelope or a completion
// for a relay it originated), in which case the caller must not forward
// it to the user.
func (a *Agent) Intercept(in msg.AppIn, priority bool) bool {
	if in.Kind == msg.AppInMessage && in.Code == CodeEnhancedProxy {
		a.relay(in, priority)
		return true
	}
	if in.Kind == msg.AppInCompletion {
		if pr, ok := a.pending[in.Tag]; ok {
			delete(a.pending, in.Tag)
			a.replyCompletion(pr, in.Success)
			return true
		}
	}
	return false
}

func (a *Agent) replyCompletion(pr pendingRelay, success bool) {
	code := CodeProxyFailure
	if success {
		code = CodeProxySuccess
	}
	if a.responses.IsFull() {
		return
	}
	*a.responses.Tail() = msg.Response{RecvID: pr.origRecvID, Code: code, Payload: []byte{pr.hopsAtStart}}
	a.responses.Enqueue()
}

// relay implements spec §4.7's agent action.
func (a *Agent) relay(in msg.AppIn, priority bool) {
	body := in.Payload
	if len(body) < 1 {
		return
	}
	ph := pdu.DecodeProxyHeader(body[0])
	rest := body[1:]

	hops, n, err := pdu.DecodeHopList(rest, int(ph.Count), ph.UniformByDest || ph.UniformBySrc)
	if err != nil {
		return
	}
	rest = rest[n:]

	txctrl, n, err := pdu.DecodeProxyTxCtrl(rest)
	if err != nil {
		return
	}
	rest = rest[n:]

	if ph.Count == 0 {
		a.relayFinalHop(in, rest, txctrl, priority)
		return
	}
	a.relayIntermediateHop(in, ph, hops, txctrl, rest, priority)
}

// relayFinalHop unwraps the SICB and sends the inner APDU as a normal
// transaction to the final target (spec §4.7, hop-count == 0).
func (a *Agent) relayFinalHop(in msg.AppIn, rest []byte, txctrl pdu.ProxyTxCtrl, priority bool) {
	sicb, n, err := pdu.DecodeProxySicb(rest)
	if err != nil {
		return
	}
	innerAPDU := rest[n:]
	if len(innerAPDU) < 1 {
		return
	}

	req := msg.AppOut{
		Tag:     a.allocTag(),
		Service: msg.ServiceAcked,
		Code:    innerAPDU[0],
		Payload: innerAPDU[1:],
	}
	switch sicb.Kind {
	case pdu.ProxyTargetUniqueID:
		req.DestKind, req.UniqueID, req.Subnet = msg.AppDestUniqueID, sicb.UniqueID, sicb.Subnet
	case pdu.ProxyTargetSubnetNode:
		req.DestKind, req.Subnet, req.Node = msg.AppDestSubnetNode, sicb.Subnet, sicb.Node
	case pdu.ProxyTargetBroadcast:
		req.DestKind, req.Subnet = msg.AppDestBroadcast, sicb.Subnet
	case pdu.ProxyTargetGroup:
		req.DestKind, req.Group = msg.AppDestGroup, sicb.Group
	default:
		return
	}

	q := a.appOut
	if priority {
		q = a.appOutPriority
	}
	if q.IsFull() {
		return
	}
	a.pending[req.Tag] = pendingRelay{origRecvID: in.RecvID, hopsAtStart: 0}
	*q.Tail() = req
	q.Enqueue()
}

// relayIntermediateHop decrements the hop count, pops the head
// subnet/node, and forwards the remainder as a new proxy message to that
// next hop (spec §4.7, hop-count > 0).
func (a *Agent) relayIntermediateHop(in msg.AppIn, ph pdu.ProxyHeader, hops []pdu.SubnetNode, txctrl pdu.ProxyTxCtrl, rest []byte, priority bool) {
	if len(hops) == 0 {
		return
	}
	next := hops[0]
	remaining := hops[1:]

	newHeader := ph
	newHeader.Count = ph.Count - 1

	timer := txctrl.TimerMsec
	if timer >= minBaseTimerForPadding && len(remaining) == 0 {
		timer += LastHopTimerPadMillis
	}

	payload := make([]byte, 0, 2+len(rest))
	payload = append(payload, pdu.EncodeProxyHeader(newHeader))
	payload = append(payload, pdu.EncodeHopList(remaining, newHeader.UniformByDest || newHeader.UniformBySrc)...)
	payload = append(payload, pdu.EncodeProxyTxCtrl(pdu.ProxyTxCtrl{Retry: txctrl.Retry, TimerMsec: timer})...)
	payload = append(payload, rest...)

	req := msg.AppOut{
		Tag:      a.allocTag(),
		Service:  msg.ServiceAcked,
		DestKind: msg.AppDestSubnetNode,
		Subnet:   next.Subnet,
		Node:     next.Node,
		Code:     CodeEnhancedProxy,
		Payload:  payload,
		// This hop's own outbound transaction to the next subnet/node
		// inherits the upstream transaction's tid and carries the same
		// padded retry timer that was just encoded into the forwarded
		// envelope, so the hop's own retries match the schedule the
		// next repeater (or final target) expects (spec §4.6.1 step 6,
		// §4.7 Scenario 5).
		InheritTid:      true,
		InheritedTid:    in.Tid,
		TimerOverrideMs: uint32(timer),
	}
	q := a.appOut
	if priority {
		q = a.appOutPriority
	}
	if q.IsFull() {
		return
	}
	a.pending[req.Tag] = pendingRelay{origRecvID: in.RecvID, hopsAtStart: ph.Count}
	*q.Tail() = req
	q.Enqueue()

	if ph.AllAgents {
		a.issueAllAgentsCopy(next, rest)
	}
}

// issueAllAgentsCopy additionally issues the inner message unacknowledged
// from this repeater (spec §4.7 "All-agents mode"). If no second output
// buffer slot is available, the agent part is silently dropped.
func (a *Agent) issueAllAgentsCopy(next pdu.SubnetNode, innerAPDU []byte) {
	if len(innerAPDU) < 1 || a.appOutPriority.IsFull() {
		return
	}
	*a.appOutPriority.Tail() = msg.AppOut{
		Tag:      a.allocTag(),
		Service:  msg.ServiceUnackRepeated,
		DestKind: msg.AppDestSubnetNode,
		Subnet:   next.Subnet,
		Node:     next.Node,
		Code:     innerAPDU[0],
		Payload:  innerAPDU[1:],
	}
	a.appOutPriority.Enqueue()
}

func (a *Agent) allocTag() int32 {
	a.nextTag--
	return a.nextTag
}

// ApplyKeyDelta computes the effective alt-key by adding delta to base,
// 8-bit wrap per byte (spec §4.7 "Alt-key mode").
func ApplyKeyDelta(base [12]byte, delta [12]byte, keyLen int) [12]byte {
	var out [12]byte
	for i := 0; i < keyLen; i++ {
		out[i] = base[i] + delta[i]
	}
	return out
}
