package netlayer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lonstack/ctrlnet/addrbook"
	"github.com/lonstack/ctrlnet/msg"
	"github.com/lonstack/ctrlnet/netlayer"
	"github.com/lonstack/ctrlnet/pdu"
	"github.com/lonstack/ctrlnet/queue"
)

type loopbackLink struct {
	frames [][]byte
	sendOK bool
}

func (l *loopbackLink) Send(frame []byte) error {
	if !l.sendOK {
		return errBusy
	}
	cp := append([]byte(nil), frame...)
	l.frames = append(l.frames, cp)
	return nil
}

func (l *loopbackLink) Recv() ([]byte, bool) {
	if len(l.frames) == 0 {
		return nil, false
	}
	f := l.frames[0]
	l.frames = l.frames[1:]
	return f, true
}

var errBusy = &busyErr{}

type busyErr struct{}

func (*busyErr) Error() string { return "link busy" }

func newBook(t *testing.T) *addrbook.Book {
	t.Helper()
	b := addrbook.New(addrbook.DefaultAddressTableSize, 4)
	require.NoError(t, b.UpdateDomain(0, addrbook.DomainEntry{Len: 1, ID: [6]byte{0x42}, Subnet: 3, Node: 5}, true))
	return b
}

func TestSendFramesAndDeliversToLink(t *testing.T) {
	book := newBook(t)
	link := &loopbackLink{sendOK: true}
	tsaOut := queue.New[msg.NetOut](2)
	tsaOutPri := queue.New[msg.NetOut](2)
	tsaIn := queue.New[msg.NetIn](2)

	n := netlayer.New(netlayer.Config{
		Book: book, Link: link, TsaOut: tsaOut, TsaOutPriority: tsaOutPri, TsaIn: tsaIn,
	})

	*tsaOut.Tail() = msg.NetOut{
		DomainIndex: 0,
		Class:       pdu.ClassTPDU,
		Dest:        pdu.DestAddr{Format: pdu.AddrSubnetNode, Subnet: 1, Node: 9},
		Body:        []byte{0xAA, 0xBB},
	}
	tsaOut.Enqueue()

	// first Send frames the item into staging; the second drains it to the Link
	n.Send()
	n.Send()
	require.Len(t, link.frames, 1)

	frame := link.frames[0]
	_, class, addrFmt := pdu.DecodeNPDUFirstByte(frame[0])
	require.Equal(t, pdu.ClassTPDU, class)
	require.Equal(t, pdu.AddrSubnetNode, addrFmt)
}

func TestReceiveClassifiesSubnetNodeUnicast(t *testing.T) {
	book := newBook(t)
	link := &loopbackLink{sendOK: true}
	tsaOut := queue.New[msg.NetOut](2)
	tsaOutPri := queue.New[msg.NetOut](2)
	tsaIn := queue.New[msg.NetIn](2)

	n := netlayer.New(netlayer.Config{
		Book: book, Link: link, TsaOut: tsaOut, TsaOutPriority: tsaOutPri, TsaIn: tsaIn,
	})

	*tsaOut.Tail() = msg.NetOut{
		DomainIndex: 0,
		Class:       pdu.ClassTPDU,
		Dest:        pdu.DestAddr{Format: pdu.AddrSubnetNode, Subnet: 3, Node: 5},
		Body:        []byte{0x01},
	}
	tsaOut.Enqueue()
	n.Send() // frames into staging
	n.Send() // drains to the Link
	require.Len(t, link.frames, 1)

	// deliver the frame back to the same node's link: it addresses
	// subnet 3/node 5, which matches this node's own domain-0 address.
	link.frames = append(link.frames, link.frames[0])
	n.Receive()

	require.False(t, tsaIn.IsEmpty())
	in := tsaIn.Dequeue()
	require.Equal(t, msg.SourceSubnetNode, in.Source.Kind)
	require.Equal(t, uint8(3), in.Source.Subnet)
	require.Equal(t, uint8(5), in.Source.Node)
	require.Equal(t, []byte{0x01}, in.Body)
}

func TestReceiveDropsUnmatchedDomainWithoutFlexMode(t *testing.T) {
	book := newBook(t)
	link := &loopbackLink{sendOK: true}
	tsaIn := queue.New[msg.NetIn](2)
	n := netlayer.New(netlayer.Config{
		Book: book, Link: link,
		TsaOut: queue.New[msg.NetOut](2), TsaOutPriority: queue.New[msg.NetOut](2), TsaIn: tsaIn,
	})

	frame := []byte{
		pdu.EncodeNPDUFirstByte(0, pdu.ClassTPDU, pdu.AddrBroadcast),
		0,    // path byte
		1,    // domain len
		0x99, // domain id, does not match configured domain 0x42
		3, 5, // src subnet/node
		0, // broadcast dest subnet (any)
	}
	link.frames = append(link.frames, frame)
	n.Receive()
	require.True(t, tsaIn.IsEmpty())
}

func TestSendBackpressureLeavesItemQueuedWhenLinkBusy(t *testing.T) {
	book := newBook(t)
	link := &loopbackLink{sendOK: false}
	tsaOut := queue.New[msg.NetOut](2)
	n := netlayer.New(netlayer.Config{
		Book: book, Link: link, TsaOut: tsaOut, TsaOutPriority: queue.New[msg.NetOut](2), TsaIn: queue.New[msg.NetIn](2),
	})

	*tsaOut.Tail() = msg.NetOut{DomainIndex: 0, Class: pdu.ClassTPDU, Dest: pdu.DestAddr{Format: pdu.AddrSubnetNode, Subnet: 1, Node: 2}}
	tsaOut.Enqueue()

	n.Send()
	require.Empty(t, link.frames)

	link.sendOK = true
	n.Send()
	require.Len(t, link.frames, 1)
}
