// Package stack assembles NetworkLayer, TSA, Proxy, NetworkMgmt, and
// ApplicationGlue into the single cooperative-scheduling node described
// by spec §2 and §5: one Service call runs every layer's send and
// receive step once, in dependency order, driven by an externally
// supplied millisecond clock.
package stack

import (
	"math/rand"

	"github.com/lonstack/ctrlnet/addrbook"
	"github.com/lonstack/ctrlnet/appglue"
	"github.com/lonstack/ctrlnet/clog"
	"github.com/lonstack/ctrlnet/config"
	"github.com/lonstack/ctrlnet/metrics"
	"github.com/lonstack/ctrlnet/msg"
	"github.com/lonstack/ctrlnet/netlayer"
	"github.com/lonstack/ctrlnet/netmgmt"
	"github.com/lonstack/ctrlnet/proxy"
	"github.com/lonstack/ctrlnet/queue"
	"github.com/lonstack/ctrlnet/tid"
	"github.com/lonstack/ctrlnet/tsa"
)

// queueCapacity is the default depth for each of the nine bounded
// queues (spec §3 "Queues"). The spec only fixes the count, not the
// per-queue depth; a small uniform depth is a deployment-reasonable
// default (see DESIGN.md).
const queueCapacity = 4

// Reset-delay and checksum-watchdog periods, spec §5 "Timeouts" /
// "Shared resources".
const (
	ResetDelayMs     = 2000
	ChecksumPeriodMs = 1000
)

// Clock is the external millisecond time source (spec §1 "Out of
// scope": "a Clock collaborator supplies a free-running millisecond
// counter").
type Clock interface {
	NowMillis() uint32
}

// Node is the assembled, single-threaded protocol stack.
type Node struct {
	log   clog.Clog
	clock Clock
	book  *addrbook.Book

	netlayer *netlayer.NetworkLayer
	tsa      *tsa.TSA
	proxy    *proxy.Agent
	netmgmt  *netmgmt.Agent
	glue     *appglue.Glue
	watchdog *config.Watchdog

	resetTimerStartMs uint32
	resetTimerActive  bool
	lastChecksumMs    uint32
}

// Config bundles every collaborator and tunable needed to assemble a
// Node.
type Config struct {
	Clock      Clock
	Link       netlayer.Link
	Nvm        interface {
		Write([]byte) error
	}
	Led         netmgmt.ServiceLed
	Book        *addrbook.Book
	Stats       *metrics.Stats
	OwnUniqueID [6]byte
	ProgramID   [8]byte
	FlexMode    bool
	ResetFn     func()
	Caps        netmgmt.VersionCapabilities
	Blob        config.DataBlob
	Rand        *rand.Rand // seedable per spec §8 "all randomness is seedable"
}

// New wires up every layer's nine shared queues and returns an
// assembled Node ready to Service.
func New(cfg Config) *Node {
	appOut := queue.New[msg.AppOut](queueCapacity)
	appOutPriority := queue.New[msg.AppOut](queueCapacity)
	appIn := queue.New[msg.AppIn](queueCapacity)
	responses := queue.New[msg.Response](queueCapacity)

	tsaOut := queue.New[msg.NetOut](queueCapacity)
	tsaOutPriority := queue.New[msg.NetOut](queueCapacity)
	tsaIn := queue.New[msg.NetIn](queueCapacity)

	nl := netlayer.New(netlayer.Config{
		Book: cfg.Book, Link: cfg.Link, OwnUniqueID: cfg.OwnUniqueID, FlexModeEnabled: cfg.FlexMode,
		TsaOut: tsaOut, TsaOutPriority: tsaOutPriority, TsaIn: tsaIn, Stats: cfg.Stats,
	})

	t := tsa.New(tsa.Config{
		Book: cfg.Book, Tids: tid.New(10),
		AppOut: appOut, AppOutPriority: appOutPriority, AppIn: appIn, Responses: responses,
		NetOut: tsaOut, NetOutPriority: tsaOutPriority, NetIn: tsaIn,
		Stats: cfg.Stats, NonGroupTimerMs: cfg.Blob.NonGroupTimerMs, Rand: cfg.Rand,
		GroupSizeCompatibility: cfg.Blob.GroupSizeCompatibility,
	})

	px := proxy.New(proxy.Config{
		Book: cfg.Book, AppOut: appOut, AppOutPriority: appOutPriority, AppIn: appIn, Responses: responses,
	})

	nm := netmgmt.New(netmgmt.Config{
		Book: cfg.Book, Nvm: cfg.Nvm, Led: cfg.Led, AppOut: appOut, Responses: responses,
		Caps: cfg.Caps, OwnUniqueID: cfg.OwnUniqueID, ProgramID: cfg.ProgramID, ResetFn: cfg.ResetFn,
	})

	glue := appglue.New(appglue.Config{
		AppOut: appOut, AppOutPriority: appOutPriority, AppIn: appIn, Responses: responses,
		Interceptors: []appglue.Interceptor{px, nm},
	})

	wd := config.NewWatchdog(cfg.Nvm, cfg.Blob, cfg.ResetFn)

	return &Node{
		log: clog.NewLogger("stack"), clock: cfg.Clock, book: cfg.Book,
		netlayer: nl, tsa: t, proxy: px, netmgmt: nm, glue: glue, watchdog: wd,
	}
}

// Glue returns the ApplicationGlue interface for user code to poll and
// send through.
func (n *Node) Glue() *appglue.Glue { return n.glue }

// NetworkMgmtState returns the node's current NetworkMgmt configuration
// state (spec §4.8).
func (n *Node) NetworkMgmtState() netmgmt.NodeState { return n.netmgmt.State() }

// Reset arms the reset-delay timer: for ResetDelayMs after a call to
// Reset, Service suppresses all transport/session traffic (spec §5
// "Reset-delay timer: fixed 2 s after external/power-up reset, during
// which no transport/session traffic is emitted").
func (n *Node) Reset() {
	n.resetTimerActive = true
	n.resetTimerStartMs = n.clock.NowMillis()
}

func (n *Node) inResetDelay(now uint32) bool {
	if !n.resetTimerActive {
		return false
	}
	if now-n.resetTimerStartMs >= ResetDelayMs {
		n.resetTimerActive = false
		return false
	}
	return true
}

// Service runs one cooperative-scheduling cycle: each layer's send and
// receive step once, in dependency order (spec §5 "Scheduling model").
// Downward: ApplicationGlue (via the user calling Glue()) → TSA.out →
// NetworkLayer.out → Link. Upward: Link.in → NetworkLayer.in → TSA.in →
// ApplicationGlue.in.
func (n *Node) Service() {
	now := n.clock.NowMillis()

	if now-n.lastChecksumMs >= ChecksumPeriodMs {
		n.watchdog.Tick()
		n.lastChecksumMs = now
	}

	if !n.inResetDelay(now) {
		n.tsa.Send(now)
	}
	n.netlayer.Send()

	n.netlayer.Receive()
	if !n.inResetDelay(now) {
		n.tsa.Receive(now)
	}
}
