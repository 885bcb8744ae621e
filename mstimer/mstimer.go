// Package mstimer implements the millisecond countdown timer described in
// spec §4.2. A timer is "running" once started and until its expiration is
// observed; Expired reports true exactly once per expiration event, even if
// polled repeatedly afterward. The underlying clock is an injected 32-bit
// millisecond counter (spec §8: "time is injectable"), matching the
// original embedded stack's wraparound-at-~49-days counter.
package mstimer

// MsTimer is a one-shot or repeating countdown timer. The zero value is an
// unstarted, non-running timer.
type MsTimer struct {
	running  bool
	expireAt uint32
	interval uint32 // 0 for one-shot timers
}

// elapsed32 computes now-then modulo 2^32, the correct way to compare two
// points on a wrapping millisecond counter: a result with its high bit set
// means "then is still in the future relative to now".
func elapsed32(now, then uint32) int32 {
	return int32(now - then)
}

// Set (re)arms a one-shot timer to expire duration milliseconds from now.
// A duration of zero stops the timer (spec §4.2: "Setting a timer to zero
// duration stops it").
func (t *MsTimer) Set(now, duration uint32) {
	if duration == 0 {
		t.Stop()
		return
	}
	t.running = true
	t.interval = 0
	t.expireAt = now + duration
}

// SetRepeating arms a timer that, once it first expires, automatically
// rearms at the same interval rather than stopping.
func (t *MsTimer) SetRepeating(now, interval uint32) {
	if interval == 0 {
		t.Stop()
		return
	}
	t.running = true
	t.interval = interval
	t.expireAt = now + interval
}

// Stop disarms the timer. Running and Expired both report false afterward.
func (t *MsTimer) Stop() {
	t.running = false
	t.interval = 0
}

// Running reports whether the timer was started and has not yet been
// observed expired.
func (t *MsTimer) Running() bool { return t.running }

// Expired reports whether the timer has reached its deadline, consuming the
// expiration event: a one-shot timer stops; a repeating timer rearms to its
// next deadline measured from the missed deadline, not from now, so
// observation delay does not accumulate drift.
func (t *MsTimer) Expired(now uint32) bool {
	if !t.running {
		return false
	}
	if elapsed32(now, t.expireAt) < 0 {
		return false
	}
	if t.interval == 0 {
		t.running = false
		return true
	}
	t.expireAt += t.interval
	return true
}

// RemainingMillis returns the time left before expiry, or 0 if already due
// or not running. Useful for diagnostics only; core logic should rely on
// Expired.
func (t *MsTimer) RemainingMillis(now uint32) uint32 {
	if !t.running {
		return 0
	}
	d := elapsed32(t.expireAt, now)
	if d < 0 {
		return 0
	}
	return uint32(d)
}
