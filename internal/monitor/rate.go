// Package monitor provides the message-rate window behind the stats
// surface.
package monitor

import (
	"sync"
	"time"
)

// RateMonitor tracks messages per second by record kind over a sliding
// five-second window. The per-kind split is the point: during a RIB dump
// the unicast_prefix rate dwarfs every inventory kind, and the breakdown
// shows where the volume is coming from without waiting on counters.
type RateMonitor struct {
	mu       sync.Mutex
	window   [5]map[string]int
	pos      int
	lastTick time.Time
}

func NewRateMonitor() *RateMonitor {
	m := &RateMonitor{lastTick: time.Now()}
	for i := range m.window {
		m.window[i] = make(map[string]int)
	}
	return m
}

// rotate advances the window to the current second, emptying every
// bucket the clock skipped past. Callers hold the lock.
func (m *RateMonitor) rotate(now time.Time) {
	elapsed := int(now.Sub(m.lastTick).Seconds())
	if elapsed < 1 {
		return
	}
	if elapsed > len(m.window) {
		elapsed = len(m.window)
	}
	for i := 0; i < elapsed; i++ {
		m.pos = (m.pos + 1) % len(m.window)
		m.window[m.pos] = make(map[string]int)
	}
	m.lastTick = now
}

// Record adds count messages of the given kind to the current second.
func (m *RateMonitor) Record(kind string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rotate(time.Now())
	m.window[m.pos][kind] += count
}

// Rate returns the all-kinds messages-per-second average over the window.
func (m *RateMonitor) Rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rotate(time.Now())
	total := 0
	for _, bucket := range m.window {
		for _, n := range bucket {
			total += n
		}
	}
	return float64(total) / float64(len(m.window))
}

// RateByKind returns the per-kind messages-per-second averages. Kinds
// with no traffic inside the window are absent.
func (m *RateMonitor) RateByKind() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rotate(time.Now())
	totals := make(map[string]int)
	for _, bucket := range m.window {
		for kind, n := range bucket {
			totals[kind] += n
		}
	}

	rates := make(map[string]float64, len(totals))
	for kind, n := range totals {
		rates[kind] = float64(n) / float64(len(m.window))
	}
	return rates
}
