// Package metrics exposes the failure-taxonomy counters named in
// spec §4.6.8 and the error-log categories of §6.3 as Prometheus
// instruments, so a running node's drop/retry/auth-failure behavior is
// observable without attaching a debugger.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Stats is the counter set the tsa package increments inline with its
// existing drop/failure bookkeeping. A nil *Stats is valid and every
// method on it is then a no-op, so callers that don't care about metrics
// (most unit tests) can pass nil.
type Stats struct {
	TxFailure    prometheus.Counter
	LateAck      prometheus.Counter
	RxRecordFull prometheus.Counter
	Lost         prometheus.Counter
	ErrorLog     prometheus.Gauge
}

// New registers a fresh Stats under reg. Pass prometheus.NewRegistry()
// in production, or nil to get an unregistered (but still usable) Stats
// in tests that want to assert on counter values without a registry.
func New(reg prometheus.Registerer) *Stats {
	s := &Stats{
		TxFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ctrlnet_tx_failure_total",
			Help: "Outbound transactions that exhausted their retry budget without completing.",
		}),
		LateAck: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ctrlnet_late_ack_total",
			Help: "Acks, responses, or auth replies received after their transmit record was released.",
		}),
		RxRecordFull: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ctrlnet_rx_record_full_total",
			Help: "New inbound messages dropped because no receive record slot was free.",
		}),
		Lost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ctrlnet_lost_total",
			Help: "Undelivered prior messages displaced by receive-record reuse.",
		}),
		ErrorLog: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ctrlnet_error_log",
			Help: "Current value of the single persisted error-log byte (see spec §6.3).",
		}),
	}
	if reg != nil {
		reg.MustRegister(s.TxFailure, s.LateAck, s.RxRecordFull, s.Lost, s.ErrorLog)
	}
	return s
}

func (s *Stats) incTxFailure() {
	if s != nil {
		s.TxFailure.Inc()
	}
}

func (s *Stats) incLateAck() {
	if s != nil {
		s.LateAck.Inc()
	}
}

func (s *Stats) incRxRecordFull() {
	if s != nil {
		s.RxRecordFull.Inc()
	}
}

func (s *Stats) incLost() {
	if s != nil {
		s.Lost.Inc()
	}
}

func (s *Stats) setErrorLog(v byte) {
	if s != nil {
		s.ErrorLog.Set(float64(v))
	}
}

// TxFailureInc increments the retry-exhaustion counter.
func (s *Stats) TxFailureInc() { s.incTxFailure() }

// LateAckInc increments the late-ack/response/reply counter.
func (s *Stats) LateAckInc() { s.incLateAck() }

// RxRecordFullInc increments the receive-record-exhaustion counter.
func (s *Stats) RxRecordFullInc() { s.incRxRecordFull() }

// LostInc increments the displaced-undelivered-message counter.
func (s *Stats) LostInc() { s.incLost() }

// SetErrorLog mirrors the persisted error-log byte onto a gauge.
func (s *Stats) SetErrorLog(v byte) { s.setErrorLog(v) }
