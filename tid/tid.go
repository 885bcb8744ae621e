// Package tid implements the transaction-id allocator of spec §4.4: two
// independent rings (priority and non-priority), each tracking the most
// recently used transaction id per destination so that a new transaction
// to the same destination never reuses the immediately preceding id — the
// property §5's ordering guarantee and invariant 1 of §8 both depend on.
package tid

import (
	"fmt"

	"github.com/lonstack/ctrlnet/addrbook"
	"github.com/lonstack/ctrlnet/mstimer"
)

// DefaultTableSize is the compile-time default number of tracked
// destinations per ring (spec §4.4: "default 10 entries").
const DefaultTableSize = 10

// AgeTimerMillis is the fixed eviction age for a destination table entry
// (spec §4.4, §5: "fixed 24 s").
const AgeTimerMillis = addrbook.TidAgeTimerMillis

// ErrBusy is returned by NewTid when the priority class already has a
// transaction in progress.
var ErrBusy = fmt.Errorf("tid: a transaction is already in progress for this priority class")

// ErrTableFull is returned by NewTid when no destination slot is free and
// none has aged out.
var ErrTableFull = fmt.Errorf("tid: destination table full, no entry has aged out")

// Validity is the result of Validate: whether a tid names the transaction
// currently in flight for its priority class.
type Validity uint8

// Validity results.
const (
	Current Validity = iota
	NotCurrent
)

// DestKind canonicalizes the shape of a transaction destination.
type DestKind uint8

// Destination kinds tracked by the allocator (spec §4.4).
const (
	DestSubnetNode DestKind = iota
	DestGroup
	DestBroadcast
	DestUniqueID
)

// Dest canonicalizes a destination identity within a domain, for the
// purpose of "has this destination been sent to recently" lookups.
type Dest struct {
	DomainID  [6]byte
	DomainLen uint8
	Kind      DestKind
	Subnet    uint8
	Node      uint8
	Group     uint8
	UniqueID  [6]byte
}

func (d Dest) equal(o Dest) bool {
	if d.Kind != o.Kind || d.DomainLen != o.DomainLen || d.DomainID != o.DomainID {
		return false
	}
	switch d.Kind {
	case DestSubnetNode:
		return d.Subnet == o.Subnet && d.Node == o.Node
	case DestGroup:
		return d.Group == o.Group
	case DestBroadcast:
		return d.Subnet == o.Subnet
	case DestUniqueID:
		return d.UniqueID == o.UniqueID
	}
	return false
}

type destEntry struct {
	used    bool
	dest    Dest
	lastTid uint8
	age     mstimer.MsTimer
}

// ring is one priority class's allocator state: a single transmit control
// record (tid, inProgress) plus the bounded destination-recency table.
type ring struct {
	tid        uint8
	inProgress bool
	entries    []destEntry
}

func newRing(tableSize int) ring {
	return ring{entries: make([]destEntry, tableSize)}
}

func (r *ring) findOrAllocEntry(dest Dest, now uint32) (*destEntry, error) {
	for i := range r.entries {
		if r.entries[i].used && r.entries[i].dest.equal(dest) {
			return &r.entries[i], nil
		}
	}
	for i := range r.entries {
		if !r.entries[i].used {
			r.entries[i] = destEntry{used: true, dest: dest}
			return &r.entries[i], nil
		}
	}
	for i := range r.entries {
		if r.entries[i].age.RemainingMillis(now) == 0 {
			r.entries[i] = destEntry{used: true, dest: dest}
			return &r.entries[i], nil
		}
	}
	return nil, ErrTableFull
}

// Allocator holds the priority and non-priority transaction-id rings.
type Allocator struct {
	priority    ring
	nonPriority ring
}

// New constructs an Allocator with the given per-ring destination table
// size.
func New(tableSize int) *Allocator {
	return &Allocator{
		priority:    newRing(tableSize),
		nonPriority: newRing(tableSize),
	}
}

func (a *Allocator) ringFor(priority bool) *ring {
	if priority {
		return &a.priority
	}
	return &a.nonPriority
}

// NewTid assigns a fresh transaction id for a new transaction to dest on
// the given priority class, or fails if a transaction is already in
// progress on that class or the destination table has no room (spec
// §4.4).
func (a *Allocator) NewTid(priority bool, dest Dest, now uint32) (uint8, error) {
	r := a.ringFor(priority)
	if r.inProgress {
		return 0, ErrBusy
	}
	e, err := r.findOrAllocEntry(dest, now)
	if err != nil {
		return 0, err
	}
	next := (e.lastTid + 1) % 16
	if next == 0 {
		next = 1
	}
	e.lastTid = next
	e.age.Set(now, AgeTimerMillis)

	r.tid = next
	r.inProgress = true
	return next, nil
}

// OverrideTid forces the next transmission on priority to use tid,
// without consulting the destination table. Used by the proxy agent to
// inherit the upstream transaction id (spec §4.7).
func (a *Allocator) OverrideTid(priority bool, tid uint8) {
	r := a.ringFor(priority)
	r.tid = tid
	r.inProgress = true
}

// TransDone clears the in-progress flag for priority, allowing a new
// transaction to be started.
func (a *Allocator) TransDone(priority bool) {
	a.ringFor(priority).inProgress = false
}

// Validate reports whether tid names the transaction currently in flight
// for priority, used to reject stale acks/responses/replies (spec §4.4).
func (a *Allocator) Validate(priority bool, tid uint8) Validity {
	r := a.ringFor(priority)
	if r.inProgress && r.tid == tid {
		return Current
	}
	return NotCurrent
}

// CurrentTid returns the tid most recently assigned on priority, valid
// only while InProgress reports true.
func (a *Allocator) CurrentTid(priority bool) uint8 {
	return a.ringFor(priority).tid
}

// InProgress reports whether priority currently has an outstanding
// transaction.
func (a *Allocator) InProgress(priority bool) bool {
	return a.ringFor(priority).inProgress
}
