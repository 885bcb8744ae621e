package netmgmt_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lonstack/ctrlnet/addrbook"
	"github.com/lonstack/ctrlnet/msg"
	"github.com/lonstack/ctrlnet/netmgmt"
	"github.com/lonstack/ctrlnet/queue"
)

type fakeNvm struct{ writes int }

func (f *fakeNvm) Write(data []byte) error { f.writes++; return nil }

type fakeLed struct{ winks, pulses int }

func (f *fakeLed) Wink()            { f.winks++ }
func (f *fakeLed) ServicePinPulse() { f.pulses++ }

func newAgent() (*netmgmt.Agent, *addrbook.Book, *fakeNvm, *fakeLed, *queue.Queue[msg.AppOut], *queue.Queue[msg.Response]) {
	book := addrbook.New(addrbook.DefaultAddressTableSize, 4)
	nvm := &fakeNvm{}
	led := &fakeLed{}
	appOut := queue.New[msg.AppOut](2)
	responses := queue.New[msg.Response](2)
	a := netmgmt.New(netmgmt.Config{
		Book: book, Nvm: nvm, Led: led, AppOut: appOut, Responses: responses,
		OwnUniqueID: [6]byte{1, 2, 3, 4, 5, 6},
		ProgramID:   [8]byte{9, 9, 9, 9, 9, 9, 9, 9},
	})
	return a, book, nvm, led, appOut, responses
}

func TestNonNetmgmtCodeIsNotIntercepted(t *testing.T) {
	a, _, _, _, _, _ := newAgent()
	in := msg.AppIn{Kind: msg.AppInMessage, Code: 0x10}
	require.False(t, a.Intercept(in, false))
}

func TestQueryDomainRespondsSuccess(t *testing.T) {
	a, _, _, _, _, responses := newAgent()
	in := msg.AppIn{Kind: msg.AppInMessage, Code: netmgmt.NMBase, Payload: []byte{0}, RecvID: 11}
	require.True(t, a.Intercept(in, false))

	require.False(t, responses.IsEmpty())
	resp := responses.Dequeue()
	require.Equal(t, 11, resp.RecvID)
	require.Equal(t, netmgmt.NMBase+1, resp.Code, "success is base opcode + 1")
}

func TestUpdateDomainAppliesToBookAndPersists(t *testing.T) {
	a, book, nvm, _, _, responses := newAgent()
	payload := []byte{0, 0 /* includeKey=false: preserve existing key */}
	entryBytes := []byte{0xAA, 0, 0, 0, 0, 0, 5, 3, 0} // id, subnet, node|clone, flags(len=0)
	payload = append(payload, entryBytes...)
	in := msg.AppIn{Kind: msg.AppInMessage, Code: netmgmt.NMBase + 4, Payload: payload}
	require.True(t, a.Intercept(in, false))

	resp := responses.Dequeue()
	require.Equal(t, netmgmt.NMBase+4+1, resp.Code)

	d, err := book.Domain(0)
	require.NoError(t, err)
	require.Equal(t, uint8(5), d.Subnet)
	require.Equal(t, 1, nvm.writes)
}

func TestWinkDrivesServiceLed(t *testing.T) {
	a, _, _, led, _, _ := newAgent()
	in := msg.AppIn{Kind: msg.AppInMessage, Code: netmgmt.NMBase + 4*7} // CmdWink index 7
	require.True(t, a.Intercept(in, false))
	require.Equal(t, 1, led.winks)
}

func TestSetNodeStateTransitionsAndRejectsOutOfRange(t *testing.T) {
	a, _, _, _, _, responses := newAgent()
	in := msg.AppIn{Kind: msg.AppInMessage, Code: netmgmt.NMBase + 4*6, Payload: []byte{byte(netmgmt.StateConfigOnline)}}
	require.True(t, a.Intercept(in, false))
	require.Equal(t, netmgmt.StateConfigOnline, a.State())
	responses.Dequeue()

	bad := msg.AppIn{Kind: msg.AppInMessage, Code: netmgmt.NMBase + 4*6, Payload: []byte{0xFF}}
	a.Intercept(bad, false)
	resp := responses.Dequeue()
	require.Equal(t, netmgmt.NMBase+4*6+2, resp.Code, "failure is base opcode + 2")
}

func TestManualServiceRequestBroadcastsUniqueIDAndProgramID(t *testing.T) {
	a, _, _, _, appOut, _ := newAgent()
	in := msg.AppIn{Kind: msg.AppInMessage, Code: netmgmt.NMBase + 4*13} // CmdManualServiceRequest
	require.True(t, a.Intercept(in, false))

	require.False(t, appOut.IsEmpty())
	out := appOut.Dequeue()
	require.Equal(t, msg.AppDestBroadcast, out.DestKind)
	require.Equal(t, addrbook.FlexDomainIndex, out.DomainIdx)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 9, 9, 9, 9, 9, 9, 9, 9}, out.Payload)
}
