// Package netlayer implements the Network layer of spec §4.5: it frames
// outbound TPDU/SPDU/AuthPDU/APDU bodies into NPDUs for the Link
// collaborator, and classifies/unframes inbound NPDUs for delivery to
// TSA. Per-packet domain identification rides on the wire as an explicit
// length-prefixed domain id (the persistent domain *table* wire layout is
// fixed by spec §6.1, but §6.1 does not pin a per-packet domain encoding,
// so this port carries the sending domain's id/length directly in every
// frame — the simplest faithful reading of "matches the packet's domain"
// in §4.5).
package netlayer

import (
	"github.com/lonstack/ctrlnet/addrbook"
	"github.com/lonstack/ctrlnet/clog"
	"github.com/lonstack/ctrlnet/metrics"
	"github.com/lonstack/ctrlnet/msg"
	"github.com/lonstack/ctrlnet/pdu"
	"github.com/lonstack/ctrlnet/queue"
)

// Link is the external collaborator providing validated frame delivery
// and acceptance (spec §1 "Out of scope": "the Link collaborator
// delivers/accepts validated frames"). Send must be non-blocking: a
// momentarily-busy link returns an error so the caller can retry next
// cycle rather than stalling the cooperative scheduler.
type Link interface {
	Send(frame []byte) error
	Recv() (frame []byte, ok bool)
}

// NetworkLayer is the spec §4.5 component.
type NetworkLayer struct {
	book  *addrbook.Book
	link  Link
	log   clog.Clog
	stats *metrics.Stats

	ownUniqueID     [6]byte
	flexModeEnabled bool

	// inbound from TSA, outbound to Link
	tsaOut         *queue.Queue[msg.NetOut]
	tsaOutPriority *queue.Queue[msg.NetOut]
	netOut         *queue.Queue[[]byte]
	netOutPriority *queue.Queue[[]byte]

	// outbound to TSA
	tsaIn *queue.Queue[msg.NetIn]
}

// Config bundles NetworkLayer's construction-time parameters.
type Config struct {
	Book            *addrbook.Book
	Link            Link
	OwnUniqueID     [6]byte
	FlexModeEnabled bool
	TsaOut          *queue.Queue[msg.NetOut]
	TsaOutPriority  *queue.Queue[msg.NetOut]
	TsaIn           *queue.Queue[msg.NetIn]
	Stats           *metrics.Stats
	StagingCapacity int
}

// New constructs a NetworkLayer.
func New(cfg Config) *NetworkLayer {
	cap := cfg.StagingCapacity
	if cap <= 0 {
		cap = 4
	}
	return &NetworkLayer{
		book:            cfg.Book,
		link:            cfg.Link,
		log:             clog.NewLogger("netlayer"),
		stats:           cfg.Stats,
		ownUniqueID:     cfg.OwnUniqueID,
		flexModeEnabled: cfg.FlexModeEnabled,
		tsaOut:          cfg.TsaOut,
		tsaOutPriority:  cfg.TsaOutPriority,
		netOut:          queue.New[[]byte](cap),
		netOutPriority:  queue.New[[]byte](cap),
		tsaIn:           cfg.TsaIn,
	}
}

// Send drains any staged frames to the Link, then frames one pending
// priority item and one pending non-priority item from TSA's out queues
// into the staging queues (spec §4.5, §5 backpressure).
func (n *NetworkLayer) Send() {
	n.drainToLink(n.netOutPriority)
	n.drainToLink(n.netOut)
	n.frameOne(n.tsaOutPriority, n.netOutPriority)
	n.frameOne(n.tsaOut, n.netOut)
}

func (n *NetworkLayer) drainToLink(staged *queue.Queue[[]byte]) {
	for !staged.IsEmpty() {
		frame := staged.Head()
		if err := n.link.Send(*frame); err != nil {
			return // leave at head; retry next cycle (backpressure)
		}
		staged.Dequeue()
	}
}

func (n *NetworkLayer) frameOne(from *queue.Queue[msg.NetOut], to *queue.Queue[[]byte]) {
	if from.IsEmpty() || to.IsFull() {
		return
	}
	item := from.Dequeue()
	frame := n.frame(item)
	*to.Tail() = frame
	to.Enqueue()
}

func (n *NetworkLayer) frame(item msg.NetOut) []byte {
	domainIdx := item.DomainIndex
	var domain addrbook.DomainEntry
	if domainIdx >= 0 {
		domain, _ = n.book.Domain(domainIdx)
	} else {
		domain, _ = n.book.Domain(0)
		domainIdx = 0
	}

	srcSubnet, srcNode := domain.Subnet, domain.Node
	if domainIdx == addrbook.FlexDomainIndex {
		srcSubnet, srcNode = 0, 0
	}

	out := make([]byte, 0, 16+len(item.Body))
	out = append(out, pdu.EncodeNPDUFirstByte(0, item.Class, item.Dest.Format))

	var pathByte byte
	if item.AltPath {
		pathByte |= 1 << 7
	}
	if item.Priority {
		pathByte |= 1 << 6
	}
	out = append(out, pathByte)

	out = append(out, domain.Len)
	out = append(out, domain.ID[:domain.Len]...)

	sn := pdu.EncodeSourceSubnetNode(srcSubnet, srcNode)
	out = append(out, sn[0], sn[1])

	out = append(out, pdu.EncodeDestAddr(item.Dest)...)
	out = append(out, item.Body...)
	return out
}

// Receive classifies one inbound frame from the Link and, if addressed to
// this node, delivers it to TSA (spec §4.5).
func (n *NetworkLayer) Receive() {
	if n.tsaIn.IsFull() {
		return // backpressure: leave it with the link for next cycle
	}
	frame, ok := n.link.Recv()
	if !ok {
		return
	}
	n.receiveFrame(frame)
}

func (n *NetworkLayer) receiveFrame(frame []byte) {
	if len(frame) < 2 {
		n.log.Warn(clog.Fields{"len": len(frame)}, "netlayer: short frame dropped")
		return
	}
	_, class, addrFmt := pdu.DecodeNPDUFirstByte(frame[0])
	altPath := frame[1]&(1<<7) != 0
	isPriority := frame[1]&(1<<6) != 0
	rest := frame[2:]

	if len(rest) < 1 {
		n.log.Warn(nil, "netlayer: frame missing domain length")
		return
	}
	domainLen := rest[0]
	rest = rest[1:]
	if !addrbook.IsValidLen(domainLen) || len(rest) < int(domainLen) {
		n.setErrorAndDrop("INVALID_DOMAIN: malformed domain field")
		return
	}
	domainID := rest[:domainLen]
	rest = rest[domainLen:]

	domainIdx, ok := n.matchDomain(domainID, domainLen)
	if !ok {
		n.setErrorAndDrop("INVALID_DOMAIN: no configured domain matches")
		return
	}

	if len(rest) < 2 {
		n.log.Warn(nil, "netlayer: frame missing source subnet/node")
		return
	}
	srcSubnet, srcNode := pdu.DecodeSourceSubnetNode([2]byte{rest[0], rest[1]})
	rest = rest[2:]

	dest, nConsumed, err := pdu.DecodeDestAddr(addrFmt, rest)
	if err != nil {
		n.setErrorAndDrop("BAD_ADDRESS_TYPE: " + err.Error())
		return
	}
	body := rest[nConsumed:]

	source, accepted := n.classifyDestination(domainIdx, addrFmt, dest, srcSubnet, srcNode)
	if !accepted {
		return // foreign destination, silently dropped (not a router)
	}

	item := msg.NetIn{
		DomainIndex: domainIdx,
		AltPath:     altPath,
		Priority:    isPriority,
		Class:       class,
		Source:      source,
		Body:        append([]byte(nil), body...),
	}
	*n.tsaIn.Tail() = item
	n.tsaIn.Enqueue()
}

func (n *NetworkLayer) matchDomain(id []byte, length uint8) (int, bool) {
	for i := 0; i < addrbook.NumDomains; i++ {
		d, _ := n.book.Domain(i)
		if d.MatchesID(id, length) {
			return i, true
		}
	}
	if n.flexModeEnabled {
		return addrbook.FlexDomainIndex, true
	}
	return 0, false
}

func (n *NetworkLayer) classifyDestination(domainIdx int, addrFmt pdu.AddrFormat, dest pdu.DestAddr, srcSubnet, srcNode uint8) (msg.SourceAddr, bool) {
	source := msg.SourceAddr{Subnet: srcSubnet, Node: srcNode}
	switch addrFmt {
	case pdu.AddrTurnaround:
		source.Kind = msg.SourceTurnaround
		return source, true
	case pdu.AddrUniqueID:
		if dest.UniqueID != n.ownUniqueID {
			return source, false
		}
		source.Kind = msg.SourceUniqueID
		return source, true
	case pdu.AddrSubnetNode:
		domain, _ := n.book.Domain(domainIdx)
		if dest.Subnet != domain.Subnet || dest.Node != domain.Node {
			return source, false
		}
		source.Kind = msg.SourceSubnetNode
		return source, true
	case pdu.AddrBroadcast:
		domain, _ := n.book.Domain(domainIdx)
		if dest.Subnet != 0 && dest.Subnet != domain.Subnet {
			return source, false
		}
		source.Kind = msg.SourceBroadcast
		return source, true
	case pdu.AddrMulticast:
		member, ok := n.book.IsGroupMember(domainIdx, dest.Group)
		if !ok {
			return source, false
		}
		source.Kind = msg.SourceGroup
		source.Group = dest.Group
		source.Member = member
		return source, true
	case pdu.AddrMulticastAck:
		// an ack/response arriving with a group-member source annotation
		source.Kind = msg.SourceGroup
		source.Group = dest.Group
		source.Member = dest.Member
		source.Subnet, source.Node = dest.Subnet, dest.Node
		return source, true
	default:
		return source, false
	}
}

func (n *NetworkLayer) setErrorAndDrop(reason string) {
	n.log.Warn(clog.Fields{"reason": reason}, "netlayer: dropping inbound frame")
}
