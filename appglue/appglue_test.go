package appglue_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lonstack/ctrlnet/appglue"
	"github.com/lonstack/ctrlnet/msg"
	"github.com/lonstack/ctrlnet/queue"
)

type fakeInterceptor struct {
	codes map[byte]bool
}

func (f *fakeInterceptor) Intercept(in msg.AppIn, priority bool) bool {
	return f.codes[in.Code]
}

func newGlue(interceptors ...appglue.Interceptor) (*appglue.Glue, *queue.Queue[msg.AppOut], *queue.Queue[msg.AppOut], *queue.Queue[msg.AppIn], *queue.Queue[msg.Response]) {
	appOut := queue.New[msg.AppOut](2)
	appOutPriority := queue.New[msg.AppOut](2)
	appIn := queue.New[msg.AppIn](4)
	responses := queue.New[msg.Response](2)
	g := appglue.New(appglue.Config{
		AppOut: appOut, AppOutPriority: appOutPriority, AppIn: appIn, Responses: responses,
		Interceptors: interceptors,
	})
	return g, appOut, appOutPriority, appIn, responses
}

func TestAllocSendRoundTripsThroughAppOutQueue(t *testing.T) {
	g, appOut, _, _, _ := newGlue()
	h, ok := g.AllocMessage(false)
	require.True(t, ok)
	h.Message().Tag = 42
	h.Message().Code = 9
	h.Send()

	require.False(t, appOut.IsEmpty())
	item := appOut.Dequeue()
	require.EqualValues(t, 42, item.Tag)
	require.Equal(t, byte(9), item.Code)
}

func TestAllocPriorityUsesPriorityQueue(t *testing.T) {
	g, appOut, appOutPriority, _, _ := newGlue()
	h, ok := g.AllocMessage(true)
	require.True(t, ok)
	h.Send()
	require.True(t, appOut.IsEmpty())
	require.False(t, appOutPriority.IsEmpty())
}

func TestCancelDoesNotEnqueue(t *testing.T) {
	g, appOut, _, _, _ := newGlue()
	h, ok := g.AllocMessage(false)
	require.True(t, ok)
	h.Cancel()
	require.True(t, appOut.IsEmpty())
}

func TestAllocFailsWhenQueueFull(t *testing.T) {
	g, _, _, _, _ := newGlue()
	h1, ok := g.AllocMessage(false)
	require.True(t, ok)
	h1.Send()
	h2, ok := g.AllocMessage(false)
	require.True(t, ok)
	h2.Send()
	_, ok = g.AllocMessage(false)
	require.False(t, ok, "capacity-2 queue is full after two sends")
}

func TestPollSkipsItemsConsumedByInterceptor(t *testing.T) {
	proxyLike := &fakeInterceptor{codes: map[byte]bool{0xE2: true}}
	g, _, _, appIn, _ := newGlue(proxyLike)

	*appIn.Tail() = msg.AppIn{Kind: msg.AppInMessage, Code: 0xE2}
	appIn.Enqueue()
	*appIn.Tail() = msg.AppIn{Kind: msg.AppInMessage, Code: 0x10}
	appIn.Enqueue()

	in, ok := g.Poll()
	require.True(t, ok)
	require.Equal(t, byte(0x10), in.Code, "the intercepted 0xE2 item must not reach the user")

	_, ok = g.Poll()
	require.False(t, ok)
}

func TestResponseAllocSendCarriesRecvID(t *testing.T) {
	g, _, _, _, responses := newGlue()
	in := msg.AppIn{Kind: msg.AppInMessage, RecvID: 5}
	h, ok := g.AllocResponse(in)
	require.True(t, ok)
	h.Payload().Code = 1
	h.Payload().Payload = []byte{0xAA}
	h.Send()

	require.False(t, responses.IsEmpty())
	resp := responses.Dequeue()
	require.Equal(t, 5, resp.RecvID)
	require.Equal(t, []byte{0xAA}, resp.Payload)
}

func TestResponseCancelSetsCancelFlag(t *testing.T) {
	g, _, _, _, responses := newGlue()
	h, ok := g.AllocResponse(msg.AppIn{RecvID: 2})
	require.True(t, ok)
	h.Cancel()

	require.False(t, responses.IsEmpty())
	resp := responses.Dequeue()
	require.True(t, resp.Cancel)
}

func TestNVTagEncodeDecodeRoundTrip(t *testing.T) {
	tag := appglue.EncodeNVUpdateTag(17, true)
	idx, last, update, ok := appglue.DecodeNVTag(tag)
	require.True(t, ok)
	require.EqualValues(t, 17, idx)
	require.True(t, last)
	require.True(t, update)

	pollTag := appglue.EncodeNVPollTag(3, false)
	idx2, last2, update2, ok2 := appglue.DecodeNVTag(pollTag)
	require.True(t, ok2)
	require.EqualValues(t, 3, idx2)
	require.False(t, last2)
	require.False(t, update2)
}

func TestManualServiceRequestTagIsReserved(t *testing.T) {
	require.EqualValues(t, 0xFFFF, appglue.ManualServiceRequestTag)
}
