package main

import (
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lonstack/ctrlnet/addrbook"
	"github.com/lonstack/ctrlnet/config"
	"github.com/lonstack/ctrlnet/metrics"
	"github.com/lonstack/ctrlnet/netmgmt"
	"github.com/lonstack/ctrlnet/stack"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	listenAddr string
	peerAddr   string
)

func init() {
	runCmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:4110", "local UDP address to bind the Link collaborator to")
	runCmd.Flags().StringVar(&peerAddr, "peer", "127.0.0.1:4111", "remote UDP address frames are sent to")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run the node's cooperative-scheduling service loop against a live UDP link",
	RunE:  runNode,
}

// udpLink is the minimal concrete realization of netlayer.Link: the
// wire protocol itself is out of scope (spec §1 "Out of scope": "the
// Link collaborator delivers/accepts validated frames"), so this is a
// bare UDP datagram passthrough rather than a real LonTalk PHY.
type udpLink struct {
	conn *net.UDPConn
	peer *net.UDPAddr
	rx   chan []byte
}

func newUDPLink(listen, peer string) (*udpLink, error) {
	laddr, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, fmt.Errorf("resolving listen addr: %w", err)
	}
	paddr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		return nil, fmt.Errorf("resolving peer addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("binding listen addr: %w", err)
	}
	l := &udpLink{conn: conn, peer: paddr, rx: make(chan []byte, 64)}
	go l.readLoop()
	return l, nil
}

func (l *udpLink) readLoop() {
	buf := make([]byte, 2048)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		frame := append([]byte(nil), buf[:n]...)
		select {
		case l.rx <- frame:
		default: // drop on a full channel rather than block the reader
		}
	}
}

func (l *udpLink) Send(frame []byte) error {
	_, err := l.conn.WriteToUDP(frame, l.peer)
	return err
}

func (l *udpLink) Recv() ([]byte, bool) {
	select {
	case frame := <-l.rx:
		return frame, true
	default:
		return nil, false
	}
}

type realClock struct{ start time.Time }

func (c realClock) NowMillis() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

// noopNvm is used when no real NVM collaborator is wired; writes are
// accepted and logged but not persisted (spec §6.2 "readers tolerate
// absence and initialize from the compile-time defaults").
type noopNvm struct{}

func (noopNvm) Write(data []byte) error {
	log.WithField("bytes", len(data)).Debug("lonstackd: nvm write (no-op backing store)")
	return nil
}

type noopLed struct{}

func (noopLed) Wink()            { log.Info("lonstackd: wink") }
func (noopLed) ServicePinPulse() { log.Info("lonstackd: service-pin pulse") }

func runNode(cmd *cobra.Command, args []string) error {
	n, err := config.Load(configPath)
	if err != nil {
		return err
	}

	link, err := newUDPLink(listenAddr, peerAddr)
	if err != nil {
		return err
	}

	book := addrbook.New(n.AddressTableCap, n.NvTableCap)
	reg := prometheus.NewRegistry()
	stats := metrics.New(reg)

	node := stack.New(stack.Config{
		Clock: realClock{start: time.Now()}, Link: link, Nvm: noopNvm{}, Led: noopLed{},
		Book: book, Stats: stats, FlexMode: n.FlexModeEnabled,
		Caps: netmgmt.VersionCapabilities{OMA: true, Proxy: true},
		Blob: n.Data,
	})

	log.WithFields(log.Fields{"listen": listenAddr, "peer": peerAddr}).Info("lonstackd: service loop starting")
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		node.Service()
	}
	return nil
}
