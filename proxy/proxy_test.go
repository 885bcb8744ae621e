package proxy_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lonstack/ctrlnet/addrbook"
	"github.com/lonstack/ctrlnet/msg"
	"github.com/lonstack/ctrlnet/pdu"
	"github.com/lonstack/ctrlnet/proxy"
	"github.com/lonstack/ctrlnet/queue"
)

type harness struct {
	book           *addrbook.Book
	appOut         *queue.Queue[msg.AppOut]
	appOutPriority *queue.Queue[msg.AppOut]
	appIn          *queue.Queue[msg.AppIn]
	responses      *queue.Queue[msg.Response]
	agent          *proxy.Agent
}

func newHarness() *harness {
	h := &harness{
		book:           addrbook.New(addrbook.DefaultAddressTableSize, 4),
		appOut:         queue.New[msg.AppOut](2),
		appOutPriority: queue.New[msg.AppOut](2),
		appIn:          queue.New[msg.AppIn](4),
		responses:      queue.New[msg.Response](2),
	}
	h.agent = proxy.New(proxy.Config{
		Book: h.book, AppOut: h.appOut, AppOutPriority: h.appOutPriority,
		AppIn: h.appIn, Responses: h.responses,
	})
	return h
}

func finalHopPayload(t *testing.T, innerCode byte, innerPayload []byte) []byte {
	t.Helper()
	ph := pdu.ProxyHeader{Count: 0}
	txctrl := pdu.ProxyTxCtrl{Retry: 1, TimerMsec: 500}
	sicb := pdu.ProxySicb{Kind: pdu.ProxyTargetSubnetNode, Subnet: 2, Node: 9}

	body := []byte{pdu.EncodeProxyHeader(ph)}
	body = append(body, pdu.EncodeHopList(nil, false)...)
	body = append(body, pdu.EncodeProxyTxCtrl(txctrl)...)
	body = append(body, pdu.EncodeProxySicb(sicb)...)
	body = append(body, innerCode)
	body = append(body, innerPayload...)
	return body
}

func TestFinalHopUnwrapsAndSendsNormalTransaction(t *testing.T) {
	h := newHarness()
	in := msg.AppIn{
		Kind:    msg.AppInMessage,
		RecvID:  3,
		Code:    proxy.CodeEnhancedProxy,
		Payload: finalHopPayload(t, 0x42, []byte{0xAA}),
	}

	handled := h.agent.Intercept(in, false)
	require.True(t, handled)
	require.False(t, h.appOut.IsEmpty())

	req := h.appOut.Dequeue()
	require.Equal(t, msg.AppDestSubnetNode, req.DestKind)
	require.EqualValues(t, 2, req.Subnet)
	require.EqualValues(t, 9, req.Node)
	require.Equal(t, byte(0x42), req.Code)
	require.Equal(t, []byte{0xAA}, req.Payload)
	require.True(t, req.Tag < 0, "proxy-issued transactions use reserved negative tags")
}

func TestCompletionForRelayedTagBecomesResponseToOriginalReceiveRecord(t *testing.T) {
	h := newHarness()
	in := msg.AppIn{
		Kind:    msg.AppInMessage,
		RecvID:  7,
		Code:    proxy.CodeEnhancedProxy,
		Payload: finalHopPayload(t, 0x10, nil),
	}
	h.agent.Intercept(in, false)
	relayed := h.appOut.Dequeue()

	completion := msg.AppIn{Kind: msg.AppInCompletion, Tag: relayed.Tag, Success: true}
	handled := h.agent.Intercept(completion, false)
	require.True(t, handled)

	require.False(t, h.responses.IsEmpty())
	resp := h.responses.Dequeue()
	require.Equal(t, 7, resp.RecvID)
	require.Equal(t, proxy.CodeProxySuccess, resp.Code)
}

func TestUnrelatedCompletionIsNotIntercepted(t *testing.T) {
	h := newHarness()
	completion := msg.AppIn{Kind: msg.AppInCompletion, Tag: 123, Success: true}
	require.False(t, h.agent.Intercept(completion, false))
}

func TestIntermediateHopDecrementsCountAndForwardsToNextSubnetNode(t *testing.T) {
	h := newHarness()
	ph := pdu.ProxyHeader{Count: 2}
	hops := []pdu.SubnetNode{{Subnet: 4, Node: 5}, {Subnet: 6, Node: 7}}
	txctrl := pdu.ProxyTxCtrl{Retry: 0, TimerMsec: 100}
	sicb := pdu.ProxySicb{Kind: pdu.ProxyTargetSubnetNode, Subnet: 6, Node: 7}

	body := []byte{pdu.EncodeProxyHeader(ph)}
	body = append(body, pdu.EncodeHopList(hops, false)...)
	body = append(body, pdu.EncodeProxyTxCtrl(txctrl)...)
	body = append(body, pdu.EncodeProxySicb(sicb)...)
	body = append(body, 0x20, 0xBB)

	in := msg.AppIn{Kind: msg.AppInMessage, RecvID: 1, Tid: 9, Code: proxy.CodeEnhancedProxy, Payload: body}
	require.True(t, h.agent.Intercept(in, false))

	req := h.drainRelayed(t)
	require.Equal(t, proxy.CodeEnhancedProxy, req.Code)
	require.EqualValues(t, 4, req.Subnet)
	require.EqualValues(t, 5, req.Node)

	forwardedHdr := pdu.DecodeProxyHeader(req.Payload[0])
	require.EqualValues(t, 1, forwardedHdr.Count)

	require.True(t, req.InheritTid, "the hop's own outbound leg must inherit the upstream tid")
	require.EqualValues(t, 9, req.InheritedTid)
	require.EqualValues(t, 100, req.TimerOverrideMs, "no padding applies: one hop still remains after this one")
}

func TestIntermediateHopLastHopPadsTimer(t *testing.T) {
	h := newHarness()
	ph := pdu.ProxyHeader{Count: 1}
	hops := []pdu.SubnetNode{{Subnet: 4, Node: 5}}
	txctrl := pdu.ProxyTxCtrl{Retry: 0, TimerMsec: 100}
	sicb := pdu.ProxySicb{Kind: pdu.ProxyTargetSubnetNode, Subnet: 4, Node: 5}

	body := []byte{pdu.EncodeProxyHeader(ph)}
	body = append(body, pdu.EncodeHopList(hops, false)...)
	body = append(body, pdu.EncodeProxyTxCtrl(txctrl)...)
	body = append(body, pdu.EncodeProxySicb(sicb)...)
	body = append(body, 0x20, 0xBB)

	in := msg.AppIn{Kind: msg.AppInMessage, RecvID: 1, Tid: 3, Code: proxy.CodeEnhancedProxy, Payload: body}
	require.True(t, h.agent.Intercept(in, false))

	req := h.drainRelayed(t)
	require.True(t, req.InheritTid)
	require.EqualValues(t, 3, req.InheritedTid)
	require.EqualValues(t, 100+proxy.LastHopTimerPadMillis, req.TimerOverrideMs, "last hop pads the timer by LastHopTimerPadMillis")
}

func (h *harness) drainRelayed(t *testing.T) msg.AppOut {
	t.Helper()
	require.False(t, h.appOut.IsEmpty())
	return h.appOut.Dequeue()
}

func TestApplyKeyDeltaWrapsPerByteAt8Bits(t *testing.T) {
	base := [12]byte{0xFE, 1, 2, 3, 4, 5}
	delta := [12]byte{0x05, 0, 0, 0, 0, 0}
	out := proxy.ApplyKeyDelta(base, delta, 6)
	require.Equal(t, byte(0x03), out[0], "0xFE+0x05 must wrap to 0x03 at 8 bits")
}
