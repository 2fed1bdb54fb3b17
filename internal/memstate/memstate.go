// Package memstate implements the three-state memory pressure machine
// (spec.md §4.7, C7): it samples the process-wide row memory counter on
// a ticker, classifies pressure into Moderate/Severe/Critical, and
// publishes UpdateScheduler events so generic workers swap policy.
package memstate

import (
	"context"
	"sync"
	"time"

	"github.com/springql-go/springql/internal/config"
	"github.com/springql-go/springql/internal/event"
	"github.com/springql-go/springql/internal/memcounter"
)

// State is one of the three pressure levels.
type State int

const (
	Moderate State = iota
	Severe
	Critical
)

func (s State) String() string {
	switch s {
	case Moderate:
		return "Moderate"
	case Severe:
		return "Severe"
	case Critical:
		return "Critical"
	default:
		return "Unknown"
	}
}

// Scheduler names the scheduling policy a State maps to, mirroring the
// UpdateScheduler event payload (spec.md §4.6/§4.7).
type Scheduler string

const (
	SchedulerFlowEfficient  Scheduler = "FlowEfficient"
	SchedulerMemoryReducing Scheduler = "MemoryReducing"
)

// PurgeFunc drains non-sink queues on Critical entry. The caller (the
// executor) supplies this so memstate never needs to see the queue
// repository or task graph directly.
type PurgeFunc func() int

// Summary is the payload of TransitPerformanceMetricsSummary and
// ReportMetricsSummary events.
type Summary struct {
	UsedBytes  int64
	Percent    float64
	State      State
	PurgeCount int64
}

// Machine owns the current State and drives its own sampling loop.
type Machine struct {
	cfg     config.Memory
	counter *memcounter.Counter
	bus     *event.Bus
	purge   PurgeFunc

	mu           sync.Mutex
	state        State
	purgedTotal  int64
	lastReportAt time.Time
}

// New builds a Machine starting in Moderate, the state every pipeline
// starts cold in (spec.md §4.7 table has no "entry" row for Moderate
// other than "p below the severe threshold", which an empty counter
// always satisfies).
func New(cfg config.Memory, counter *memcounter.Counter, bus *event.Bus, purge PurgeFunc) *Machine {
	return &Machine{cfg: cfg, counter: counter, bus: bus, purge: purge, state: Moderate}
}

// State returns the machine's current classification.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentScheduler returns the scheduler policy the current state
// implies, for C6 workers to read when (re-)binding their scheduler.
func (m *Machine) CurrentScheduler() Scheduler {
	if m.State() == Moderate {
		return SchedulerFlowEfficient
	}
	return SchedulerMemoryReducing
}

// Run samples the counter every memory_state_transition_interval_msec
// until ctx is canceled, publishing UpdateScheduler on every state
// transition and TransitPerformanceMetricsSummary on every tick. A
// separate, typically longer-period ReportMetricsSummary is published
// whenever performance_metrics_summary_report_interval_msec has
// elapsed since the last report.
func (m *Machine) Run(ctx context.Context) {
	interval := time.Duration(m.cfg.MemoryStateTransitionIntervalMsec) * time.Millisecond
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	reportInterval := time.Duration(m.cfg.PerformanceMetricsSummaryReportIntervalMsec) * time.Millisecond

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample(reportInterval)
		}
	}
}

// Sample takes one reading of the memory counter, applies the state
// transition table, and publishes the resulting events. Run calls this
// on every tick; it is exported so tests can drive the machine without
// waiting on a real ticker.
func (m *Machine) Sample(reportInterval time.Duration) {
	used := m.counter.UsedBytes()
	pct := m.counter.Percent(m.cfg.UpperLimitBytes)

	next, purged := m.transition(pct)

	summary := Summary{UsedBytes: used, Percent: pct, State: next, PurgeCount: purged}
	m.bus.Publish(event.TopicTransitPerformanceMetricsSummary, summary)

	m.mu.Lock()
	due := reportInterval <= 0 || time.Since(m.lastReportAt) >= reportInterval
	if due {
		m.lastReportAt = time.Now()
	}
	m.mu.Unlock()
	if due {
		m.bus.Publish(event.TopicReportMetricsSummary, summary)
	}
}

// transition applies the hysteresis table in spec.md §4.7 and returns
// the (possibly unchanged) resulting state plus the number of rows
// purged on a fresh Critical entry.
func (m *Machine) transition(pct float64) (State, int64) {
	m.mu.Lock()
	prev := m.state
	next := prev

	switch prev {
	case Moderate:
		if pct >= float64(m.cfg.ModerateToSeverePercent) {
			next = Severe
		}
	case Severe:
		if pct >= float64(m.cfg.SevereToCriticalPercent) {
			next = Critical
		} else if pct < float64(m.cfg.SevereToModeratePercent) {
			next = Moderate
		}
	case Critical:
		if pct < float64(m.cfg.CriticalToSeverePercent) {
			next = Severe
		}
	}
	m.state = next
	m.mu.Unlock()

	if next == prev {
		return next, 0
	}

	var purged int64
	if next == Critical && m.purge != nil {
		purged = int64(m.purge())
		m.mu.Lock()
		m.purgedTotal += purged
		m.mu.Unlock()
	}

	switch next {
	case Severe, Critical:
		m.bus.Publish(event.TopicUpdateScheduler, SchedulerMemoryReducing)
	case Moderate:
		m.bus.Publish(event.TopicUpdateScheduler, SchedulerFlowEfficient)
	}
	return next, purged
}
