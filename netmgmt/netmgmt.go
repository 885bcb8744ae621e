// Package netmgmt implements NetworkMgmt (spec §4.8): it intercepts
// inbound messages whose code lies in the network-management range
// (NMBase upward), acts on the AddressBook (followed by an NVM write),
// and answers with a response carrying the opcode's success or failure
// variant. Network-diagnostic (NDBase) and expanded (ExpandedOpcode)
// codes are not intercepted and pass through to the application.
package netmgmt

import (
	"github.com/lonstack/ctrlnet/addrbook"
	"github.com/lonstack/ctrlnet/clog"
	"github.com/lonstack/ctrlnet/msg"
	"github.com/lonstack/ctrlnet/queue"
)

// Opcode ranges, spec §4.8: "top nibble 0x6 for NM, 0x5 for ND, plus
// expanded-command opcode 0x0".
const (
	NMBase byte = 0x60
	NDBase byte = 0x50
	ExpandedOpcode byte = 0x00
)

// Each command's request/success/failure triple is derived by masking
// the low two bits of its base opcode (spec §4.8 "derived by masking").
const (
	outcomeRequest byte = 0x00
	outcomeSuccess byte = 0x01
	outcomeFailure byte = 0x02
)

// Command identifies one network-management/diagnostic operation.
type Command uint8

// Commands, spec §4.8 category list.
const (
	CmdQueryDomain Command = iota
	CmdUpdateDomain
	CmdQueryAddr
	CmdUpdateAddr
	CmdQueryConfigData
	CmdUpdateConfigData
	CmdSetNodeState
	CmdWink
	CmdServicePinMsg
	CmdClearStatus
	CmdReset
	CmdQueryStatus
	CmdQueryVersion
	CmdManualServiceRequest
	numCommands
)

func baseOpcode(c Command) byte {
	return NMBase + byte(c)*4
}

// NodeState enumerates node configuration states (spec §4.8).
type NodeState uint8

// Node states.
const (
	StateApplUnconfigured NodeState = iota
	StateConfigOnline
	StateConfigOffline
	StateHardOffline
)

// VersionCapabilities is the OMA/proxy/phase/SSI capability bitfield
// (spec §4.8). The Agent stores it, but the query-version response
// carries only the success code, not this bitfield.
type VersionCapabilities struct {
	OMA   bool
	Proxy bool
	Phase bool
	SSI   bool
}

func (v VersionCapabilities) encode() byte {
	var b byte
	if v.OMA {
		b |= 1 << 0
	}
	if v.Proxy {
		b |= 1 << 1
	}
	if v.Phase {
		b |= 1 << 2
	}
	if v.SSI {
		b |= 1 << 3
	}
	return b
}

// ConfigData is the mutable comm-parameters/location/timers/auth blob
// (spec §4.8 "configuration data blob", §6.2).
type ConfigData struct {
	CommParams      [8]byte
	Location         [6]byte
	NonGroupTimerMs  uint32
	PreemptionLevel  byte
	AuthEnabled      bool
}

// Nvm is the persistence collaborator (spec §1 "Out of scope"; spec
// §6.2 "page-oriented, current-version-wins persistence layer").
type Nvm interface {
	Write(data []byte) error
}

// ServiceLed is the collaborator driving the physical service LED/pin
// (spec §4.8 "Wink, service-pin").
type ServiceLed interface {
	Wink()
	ServicePinPulse()
}

// Agent is the NetworkMgmt component.
type Agent struct {
	log       clog.Clog
	book      *addrbook.Book
	nvm       Nvm
	led       ServiceLed
	appOut    *queue.Queue[msg.AppOut]
	responses *queue.Queue[msg.Response]

	config       ConfigData
	state        NodeState
	caps         VersionCapabilities
	ownUniqueID  [6]byte
	programID    [8]byte
	lastErrorLog byte
	resetFn      func()
}

// Config bundles Agent's construction-time collaborators.
type Config struct {
	Book        *addrbook.Book
	Nvm         Nvm
	Led         ServiceLed
	AppOut      *queue.Queue[msg.AppOut]
	Responses   *queue.Queue[msg.Response]
	Caps        VersionCapabilities
	OwnUniqueID [6]byte
	ProgramID   [8]byte
	ResetFn     func()
}

// New constructs a NetworkMgmt Agent.
func New(cfg Config) *Agent {
	return &Agent{
		log:         clog.NewLogger("netmgmt"),
		book:        cfg.Book,
		nvm:         cfg.Nvm,
		led:         cfg.Led,
		appOut:      cfg.AppOut,
		responses:   cfg.Responses,
		state:       StateApplUnconfigured,
		caps:        cfg.Caps,
		ownUniqueID: cfg.OwnUniqueID,
		programID:   cfg.ProgramID,
		resetFn:     cfg.ResetFn,
	}
}

// State returns the node's current configuration state.
func (a *Agent) State() NodeState { return a.state }

// Intercept inspects one inbound AppIn item, handling it and returning
// true if its code is the request variant of a known command in the NM
// range (NMBase + 4*command) (spec §3 "Proxy and NetworkMgmt ...
// intercept specific message codes before user delivery"). Codes below
// NMBase, including the ND range and the expanded opcode, return false.
func (a *Agent) Intercept(in msg.AppIn, priority bool) bool {
	if in.Kind != msg.AppInMessage {
		return false
	}
	cmd, outcome, ok := decodeOpcode(in.Code)
	if !ok || outcome != outcomeRequest {
		return false
	}
	success := a.dispatch(cmd, in)
	a.respond(in, cmd, success)
	return true
}

func decodeOpcode(code byte) (Command, byte, bool) {
	if code < NMBase {
		return 0, 0, false
	}
	offset := code - NMBase
	cmd := Command(offset / 4)
	outcome := offset % 4
	if cmd >= numCommands {
		return 0, 0, false
	}
	return cmd, outcome, true
}

func (a *Agent) respond(in msg.AppIn, cmd Command, success bool) {
	if a.responses.IsFull() {
		return
	}
	code := baseOpcode(cmd) + outcomeFailure
	if success {
		code = baseOpcode(cmd) + outcomeSuccess
	}
	*a.responses.Tail() = msg.Response{RecvID: in.RecvID, Code: code}
	a.responses.Enqueue()
}

func (a *Agent) dispatch(cmd Command, in msg.AppIn) bool {
	switch cmd {
	case CmdQueryDomain:
		return a.queryDomain(in.Payload)
	case CmdUpdateDomain:
		return a.updateDomain(in.Payload)
	case CmdQueryAddr:
		return a.queryAddr(in.Payload)
	case CmdUpdateAddr:
		return a.updateAddr(in.Payload)
	case CmdQueryConfigData:
		return true // success code only; the blob is not returned in the response
	case CmdUpdateConfigData:
		return a.updateConfigData(in.Payload)
	case CmdSetNodeState:
		return a.setNodeState(in.Payload)
	case CmdWink:
		if a.led != nil {
			a.led.Wink()
		}
		return true
	case CmdServicePinMsg:
		a.emitServicePinMessage()
		if a.led != nil {
			a.led.ServicePinPulse()
		}
		return true
	case CmdClearStatus:
		a.lastErrorLog = 0
		return true
	case CmdReset:
		if a.resetFn != nil {
			a.resetFn()
		}
		return true
	case CmdQueryStatus:
		return true
	case CmdQueryVersion:
		return true
	case CmdManualServiceRequest:
		a.emitServicePinMessage()
		return true
	default:
		return false
	}
}

func (a *Agent) queryDomain(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}
	_, err := a.book.Domain(int(payload[0]))
	return err == nil
}

func (a *Agent) updateDomain(payload []byte) bool {
	if len(payload) < 2 {
		return false
	}
	idx := int(payload[0])
	includeKey := payload[1] != 0
	entry, err := decodeDomainEntry(payload[2:], includeKey)
	if err != nil {
		return false
	}
	if err := a.book.UpdateDomain(idx, entry, includeKey); err != nil {
		return false
	}
	a.persist()
	return true
}

func decodeDomainEntry(b []byte, includeKey bool) (addrbook.DomainEntry, error) {
	if len(b) < 9 {
		return addrbook.DomainEntry{}, addrbook.ErrInvalidDomainIndex
	}
	var e addrbook.DomainEntry
	copy(e.ID[:], b[0:6])
	e.Subnet = b[6]
	e.Node = b[7] & 0x7F
	e.CloneDomain = b[7]&0x80 != 0
	flags := b[8]
	e.Len = flags & 0x7
	e.Auth = addrbook.AuthType((flags >> 3) & 0x3)
	e.Invalid = flags&(1<<7) != 0
	if includeKey {
		keyLen := 6
		if e.Auth == addrbook.AuthOpenMedia {
			keyLen = 12
		}
		if len(b) < 9+keyLen {
			return addrbook.DomainEntry{}, addrbook.ErrInvalidDomainIndex
		}
		copy(e.Key[:], b[9:9+keyLen])
	}
	return e, nil
}

func (a *Agent) queryAddr(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}
	_, err := a.book.Address(int(payload[0]))
	return err == nil
}

func (a *Agent) updateAddr(payload []byte) bool {
	if len(payload) < 2 {
		return false
	}
	idx := int(payload[0])
	entry := decodeAddressEntry(payload[1:])
	return a.book.UpdateAddress(idx, entry) == nil && a.persistOK()
}

func decodeAddressEntry(b []byte) addrbook.AddressEntry {
	var e addrbook.AddressEntry
	if len(b) < 1 {
		return e
	}
	e.Kind = addrbook.AddressKind(b[0])
	if len(b) > 1 {
		e.Subnet = b[1]
	}
	if len(b) > 2 {
		e.Node = b[2]
	}
	if len(b) > 3 {
		e.Group = b[3]
	}
	if len(b) > 4 {
		e.Member = b[4]
	}
	if len(b) > 5 {
		e.GroupSize = b[5]
	}
	if len(b) > 6 {
		e.RetryCount = b[6]
	}
	if len(b) > 7 {
		e.TxTimerIdx = b[7]
	}
	if len(b) > 8 {
		e.RcvTimerIdx = b[8]
	}
	return e
}

func (a *Agent) updateConfigData(payload []byte) bool {
	if len(payload) < 8+6+4+1+1 {
		return false
	}
	var c ConfigData
	copy(c.CommParams[:], payload[0:8])
	copy(c.Location[:], payload[8:14])
	c.NonGroupTimerMs = uint32(payload[14])<<24 | uint32(payload[15])<<16 | uint32(payload[16])<<8 | uint32(payload[17])
	c.PreemptionLevel = payload[18]
	c.AuthEnabled = payload[19] != 0
	a.config = c
	a.persist()
	return true
}

func (a *Agent) setNodeState(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}
	s := NodeState(payload[0])
	if s > StateHardOffline {
		return false
	}
	a.state = s
	a.persist()
	return true
}

// emitServicePinMessage broadcasts this node's unique id and program id
// on the flex domain (spec §4.8 "Manual service request").
func (a *Agent) emitServicePinMessage() {
	if a.appOut.IsFull() {
		return
	}
	payload := make([]byte, 0, 14)
	payload = append(payload, a.ownUniqueID[:]...)
	payload = append(payload, a.programID[:]...)
	*a.appOut.Tail() = msg.AppOut{
		Tag:       -2000,
		Service:   msg.ServiceUnackRepeated,
		DestKind:  msg.AppDestBroadcast,
		DomainIdx: addrbook.FlexDomainIndex,
		Code:      0x7A, // service-pin message APDU code
		Payload:   payload,
	}
	a.appOut.Enqueue()
}

// persist calls the Nvm collaborator's Write (with no data) once per
// call. Configuration commands call it after every accepted mutation;
// it does not compare against earlier state, so every accepted
// mutation produces a write, changed or not.
func (a *Agent) persist() {
	if a.nvm == nil {
		return
	}
	if err := a.nvm.Write(nil); err != nil {
		a.log.Warn(clog.Fields{"err": err.Error()}, "netmgmt: nvm write failed")
	}
}

func (a *Agent) persistOK() bool {
	a.persist()
	return true
}
