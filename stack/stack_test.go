package stack_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lonstack/ctrlnet/addrbook"
	"github.com/lonstack/ctrlnet/config"
	"github.com/lonstack/ctrlnet/msg"
	"github.com/lonstack/ctrlnet/netmgmt"
	"github.com/lonstack/ctrlnet/stack"
)

type fakeClock struct{ now uint32 }

func (c *fakeClock) NowMillis() uint32 { return c.now }

type fakeLink struct {
	sent []([]byte)
}

func (l *fakeLink) Send(frame []byte) error {
	l.sent = append(l.sent, append([]byte(nil), frame...))
	return nil
}
func (l *fakeLink) Recv() ([]byte, bool) { return nil, false }

type fakeNvm struct{ writes int }

func (f *fakeNvm) Write(data []byte) error { f.writes++; return nil }

type fakeLed struct{}

func (fakeLed) Wink()            {}
func (fakeLed) ServicePinPulse() {}

func newNode(clock *fakeClock, link *fakeLink) *stack.Node {
	book := addrbook.New(addrbook.DefaultAddressTableSize, 4)
	book.UpdateDomain(0, addrbook.DomainEntry{Len: 1, ID: [6]byte{0x11}, Subnet: 1, Node: 1}, true)
	book.UpdateAddress(0, addrbook.AddressEntry{Kind: addrbook.AddrKindSubnetNode, Subnet: 1, Node: 2, RetryCount: 1})

	return stack.New(stack.Config{
		Clock: clock, Link: link, Nvm: &fakeNvm{}, Led: fakeLed{}, Book: book,
		OwnUniqueID: [6]byte{1}, ProgramID: [8]byte{2}, Blob: config.DefaultDataBlob(),
	})
}

func TestServiceDeliversOutboundMessageToLink(t *testing.T) {
	clock := &fakeClock{now: 0}
	link := &fakeLink{}
	n := newNode(clock, link)

	h, ok := n.Glue().AllocMessage(false)
	require.True(t, ok)
	h.Message().Service = msg.ServiceAcked
	h.Message().DestKind = msg.AppDestAddrIndex
	h.Message().AddrIndex = 0
	h.Message().Code = 0x11
	h.Send()

	n.Service() // frames the message into netlayer's staging queue
	n.Service() // drains the staged frame to the Link
	require.NotEmpty(t, link.sent, "the message must reach the Link within two service cycles")
}

func TestResetSuppressesTrafficDuringDelay(t *testing.T) {
	clock := &fakeClock{now: 1000}
	link := &fakeLink{}
	n := newNode(clock, link)
	n.Reset()

	h, ok := n.Glue().AllocMessage(false)
	require.True(t, ok)
	h.Message().Service = msg.ServiceAcked
	h.Message().DestKind = msg.AppDestAddrIndex
	h.Message().Code = 1
	h.Send()

	n.Service()
	require.Empty(t, link.sent, "no transport traffic should be emitted during the reset-delay window")

	clock.now += stack.ResetDelayMs + 1
	n.Service()
	n.Service()
	require.NotEmpty(t, link.sent, "traffic resumes once the reset-delay timer elapses")
}

func TestNetworkMgmtStateDefaultsToApplUnconfigured(t *testing.T) {
	clock := &fakeClock{now: 0}
	link := &fakeLink{}
	n := newNode(clock, link)
	require.Equal(t, netmgmt.StateApplUnconfigured, n.NetworkMgmtState())
}
