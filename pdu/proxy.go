package pdu

import (
	"encoding/binary"
	"fmt"
)

// ErrUnknownProxyTargetKind is returned by DecodeProxySicb for an
// unrecognized kind byte.
var ErrUnknownProxyTargetKind = fmt.Errorf("pdu: unknown proxy target kind")

// ProxyHeader is the enhanced-proxy envelope header (spec §4.7, §6.1):
// uniform_by_dest:1|long_timer:1|all_agents:1|uniform_by_src:1|count:4.
type ProxyHeader struct {
	UniformByDest bool
	LongTimer     bool
	AllAgents     bool
	UniformBySrc  bool
	Count         uint8 // 4 bits: remaining hop count
}

// EncodeProxyHeader packs the proxy header byte.
func EncodeProxyHeader(h ProxyHeader) byte {
	var b byte
	if h.UniformByDest {
		b |= 1 << 7
	}
	if h.LongTimer {
		b |= 1 << 6
	}
	if h.AllAgents {
		b |= 1 << 5
	}
	if h.UniformBySrc {
		b |= 1 << 4
	}
	b |= h.Count & 0xF
	return b
}

// DecodeProxyHeader unpacks the proxy header byte.
func DecodeProxyHeader(b byte) ProxyHeader {
	return ProxyHeader{
		UniformByDest: b&(1<<7) != 0,
		LongTimer:     b&(1<<6) != 0,
		AllAgents:     b&(1<<5) != 0,
		UniformBySrc:  b&(1<<4) != 0,
		Count:         b & 0xF,
	}
}

// SubnetNode is one hop in a proxy forwarding chain.
type SubnetNode struct {
	Subnet uint8
	Node   uint8
}

// EncodeHopList renders the packed intermediate subnet/node list. When
// uniform is true every hop shares the first hop's subnet, so only one
// subnet byte is carried followed by one node byte per hop (spec §4.7
// "compact if uniform"); otherwise each hop carries its own subnet/node
// pair.
func EncodeHopList(hops []SubnetNode, uniform bool) []byte {
	if len(hops) == 0 {
		return nil
	}
	if uniform {
		out := make([]byte, 0, 1+len(hops))
		out = append(out, hops[0].Subnet)
		for _, h := range hops {
			out = append(out, h.Node)
		}
		return out
	}
	out := make([]byte, 0, 2*len(hops))
	for _, h := range hops {
		out = append(out, h.Subnet, h.Node)
	}
	return out
}

// DecodeHopList parses count hops from b, returning bytes consumed.
func DecodeHopList(b []byte, count int, uniform bool) ([]SubnetNode, int, error) {
	if count == 0 {
		return nil, 0, nil
	}
	if uniform {
		if len(b) < 1+count {
			return nil, 0, ErrShortBuffer
		}
		subnet := b[0]
		hops := make([]SubnetNode, count)
		for i := 0; i < count; i++ {
			hops[i] = SubnetNode{Subnet: subnet, Node: b[1+i]}
		}
		return hops, 1 + count, nil
	}
	if len(b) < 2*count {
		return nil, 0, ErrShortBuffer
	}
	hops := make([]SubnetNode, count)
	for i := 0; i < count; i++ {
		hops[i] = SubnetNode{Subnet: b[2*i], Node: b[2*i+1]}
	}
	return hops, 2 * count, nil
}

// ProxyTxCtrl carries the retry count and transmit-timer value (already
// resolved to milliseconds by the agent forwarding the envelope) that the
// next-hop agent should apply to the relayed transaction (spec §4.7).
type ProxyTxCtrl struct {
	Retry     uint8
	TimerMsec uint16
}

// EncodeProxyTxCtrl renders a ProxyTxCtrl: retry(1) + timer(2, big-endian).
func EncodeProxyTxCtrl(c ProxyTxCtrl) []byte {
	out := make([]byte, 3)
	out[0] = c.Retry
	binary.BigEndian.PutUint16(out[1:], c.TimerMsec)
	return out
}

// DecodeProxyTxCtrl parses a ProxyTxCtrl, returning bytes consumed.
func DecodeProxyTxCtrl(b []byte) (ProxyTxCtrl, int, error) {
	if len(b) < 3 {
		return ProxyTxCtrl{}, 0, ErrShortBuffer
	}
	return ProxyTxCtrl{
		Retry:     b[0],
		TimerMsec: binary.BigEndian.Uint16(b[1:3]),
	}, 3, nil
}

// ProxyTargetKind selects the shape of a ProxySicb's final target address.
type ProxyTargetKind uint8

// Target kinds, spec §4.7.
const (
	ProxyTargetUniqueID ProxyTargetKind = iota
	ProxyTargetSubnetNode
	ProxyTargetBroadcast
	ProxyTargetGroup
)

// ProxyAuthKeyType selects the alt-key width carried by a ProxySicb.
type ProxyAuthKeyType uint8

// Key types, spec §4.7 "Alt-key mode".
const (
	ProxyKeyStandard ProxyAuthKeyType = 0 // 6-byte delta
	ProxyKeyOMA      ProxyAuthKeyType = 1 // 12-byte delta
)

// ProxyAuthKey carries per-byte key deltas, added (8-bit wrap) to the
// domain table key to form the alternate key used by the agent's
// outgoing challenge/reply exchange.
type ProxyAuthKey struct {
	Type  ProxyAuthKeyType
	Delta [12]byte // only the first 6 bytes are meaningful for ProxyKeyStandard
}

func (k ProxyAuthKey) keyLen() int {
	if k.Type == ProxyKeyOMA {
		return 12
	}
	return 6
}

// ProxySicb is the final-hop target descriptor terminating a proxy chain.
type ProxySicb struct {
	Kind     ProxyTargetKind
	Subnet   uint8
	Node     uint8
	Group    uint8
	UniqueID [6]byte
	AltKey   *ProxyAuthKey // nil if no alt-key mode
}

// EncodeProxySicb renders a ProxySicb: a 1-byte kind selector, the
// kind-specific address bytes, then an alt-key presence byte and the key
// delta bytes if present.
func EncodeProxySicb(s ProxySicb) []byte {
	out := []byte{byte(s.Kind)}
	switch s.Kind {
	case ProxyTargetUniqueID:
		out = append(out, s.UniqueID[:]...)
	case ProxyTargetSubnetNode:
		out = append(out, s.Subnet, s.Node)
	case ProxyTargetBroadcast:
		out = append(out, s.Subnet)
	case ProxyTargetGroup:
		out = append(out, s.Group)
	}
	if s.AltKey == nil {
		out = append(out, 0)
		return out
	}
	out = append(out, 1, byte(s.AltKey.Type))
	out = append(out, s.AltKey.Delta[:s.AltKey.keyLen()]...)
	return out
}

// DecodeProxySicb parses a ProxySicb from b.
func DecodeProxySicb(b []byte) (ProxySicb, int, error) {
	if len(b) < 1 {
		return ProxySicb{}, 0, ErrShortBuffer
	}
	s := ProxySicb{Kind: ProxyTargetKind(b[0])}
	n := 1
	switch s.Kind {
	case ProxyTargetUniqueID:
		if len(b) < n+6 {
			return ProxySicb{}, 0, ErrShortBuffer
		}
		copy(s.UniqueID[:], b[n:n+6])
		n += 6
	case ProxyTargetSubnetNode:
		if len(b) < n+2 {
			return ProxySicb{}, 0, ErrShortBuffer
		}
		s.Subnet, s.Node = b[n], b[n+1]
		n += 2
	case ProxyTargetBroadcast:
		if len(b) < n+1 {
			return ProxySicb{}, 0, ErrShortBuffer
		}
		s.Subnet = b[n]
		n++
	case ProxyTargetGroup:
		if len(b) < n+1 {
			return ProxySicb{}, 0, ErrShortBuffer
		}
		s.Group = b[n]
		n++
	default:
		return ProxySicb{}, 0, ErrUnknownProxyTargetKind
	}
	if len(b) < n+1 {
		return ProxySicb{}, 0, ErrShortBuffer
	}
	hasKey := b[n]
	n++
	if hasKey == 0 {
		return s, n, nil
	}
	if len(b) < n+1 {
		return ProxySicb{}, 0, ErrShortBuffer
	}
	kt := ProxyAuthKeyType(b[n])
	n++
	k := ProxyAuthKey{Type: kt}
	kl := k.keyLen()
	if len(b) < n+kl {
		return ProxySicb{}, 0, ErrShortBuffer
	}
	copy(k.Delta[:kl], b[n:n+kl])
	n += kl
	s.AltKey = &k
	return s, n, nil
}
