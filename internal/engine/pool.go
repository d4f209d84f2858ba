package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bgpdata-consumer-go/internal/db"
	"bgpdata-consumer-go/internal/psqlquery"
)

// IntakeItem is one routed unit of work: the bus record key drives sticky
// writer selection for the query triple.
type IntakeItem struct {
	Key   string
	Query *psqlquery.BulkQuery
	Type  WriterType
}

// Heartbeat is invoked during drain waits so the bus client keeps its
// group membership while the engine blocks on writers.
type Heartbeat func()

// PoolConfig carries the writer pool tunables.
type PoolConfig struct {
	QueueSize            int
	MaxWriters           int
	AllowedOverQueueTimes int
	ScaleBackAfter       time.Duration
	RebalanceAfter       time.Duration
	DrainDeadline        time.Duration
	BatchRecords         int
	BatchTime            time.Duration
	Retries              int
}

// WriterPool maintains the writers of one type and the sticky key
// assignment across them. Writer zero is permanent; scale-down always
// removes the tail.
//
// Invariant: a key is assigned to at most one writer at any moment.
// Routing, scaling and rebalance run on the consumer goroutine; the lock
// exists for stats snapshots taken by the admin surface.
type WriterPool struct {
	mu         sync.Mutex
	wtype      WriterType
	cfg        PoolConfig
	newHandle  func() (*db.Handle, error)
	writers    []*Writer
	lastChange time.Time
}

// NewWriterPool creates a pool with one permanent writer.
func NewWriterPool(wtype WriterType, cfg PoolConfig, newHandle func() (*db.Handle, error)) (*WriterPool, error) {
	p := &WriterPool{
		wtype:     wtype,
		cfg:       cfg,
		newHandle: newHandle,
	}
	if err := p.addWriterLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

// Route returns the writer owning the item's key, assigning one if the
// key is new. Preference for a new key: an idle writer beats a loaded
// one, a writer under half the high-water mark beats one over it, then
// the smaller message count wins.
func (p *WriterPool) Route(key string) *Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	threshold := p.cfg.QueueSize / 2

	var cur *Writer
	for _, w := range p.writers {
		if _, ok := w.assigned[key]; ok {
			w.messageCount++
			return w
		}

		// Reset message count once a writer has been fully unassigned.
		if len(w.assigned) == 0 {
			w.messageCount = 0
		}

		if cur == nil {
			cur = w
			continue
		}
		if len(cur.assigned) != 0 &&
			(len(w.assigned) == 0 ||
				(w.QueueLen() < threshold && cur.QueueLen() > threshold) ||
				(!(cur.QueueLen() < threshold && w.QueueLen() > threshold) &&
					cur.messageCount > w.messageCount)) {
			cur = w
		}
	}

	cur.assigned[key] = struct{}{}
	cur.messageCount++
	return cur
}

// Size reports the current writer count.
func (p *WriterPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.writers)
}

// QueuedTotal reports the summed queue depth across writers.
func (p *WriterPool) QueuedTotal() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, w := range p.writers {
		total += w.QueueLen()
	}
	return total
}

func (p *WriterPool) addWriterLocked() error {
	handle, err := p.newHandle()
	if err != nil {
		return fmt.Errorf("failed to open writer db handle: %w", err)
	}
	w := newWriter(handle, p.cfg.QueueSize, p.cfg.BatchRecords, p.cfg.BatchTime, p.cfg.Retries)
	w.start()
	p.writers = append(p.writers, w)
	p.lastChange = time.Now()
	GetMetrics().WriterPoolSize.WithLabelValues(p.wtype.String()).Set(float64(len(p.writers)))
	return nil
}

// resetOneLocked drains a writer's queue, then clears its assignments and
// counters. The heartbeat keeps the paused consumer alive during the
// wait. The drain deadline bounds a stuck writer; expiry is an error the
// engine treats as fatal.
func (p *WriterPool) resetOneLocked(w *Writer, hb Heartbeat) error {
	deadline := time.Now().Add(p.cfg.DrainDeadline)

	i := 0
	for w.QueueLen() > 0 {
		if time.Now().After(deadline) {
			return fmt.Errorf("writer drain exceeded deadline %s with %d queued",
				p.cfg.DrainDeadline, w.QueueLen())
		}
		if i >= 5000 {
			i = 0
			if hb != nil {
				hb()
			}
			slog.Info("writer_drain_wait", slog.Int("queued", w.QueueLen()))
		}
		i++
		time.Sleep(time.Millisecond)
	}

	for k := range w.assigned {
		delete(w.assigned, k)
	}
	w.aboveCount = 0
	w.messageCount = 0
	return nil
}

func (p *WriterPool) resetAllLocked(hb Heartbeat) error {
	if len(p.writers) <= 1 {
		return nil
	}
	slog.Info("writer_pool_reset", slog.String("type", p.wtype.String()))
	for _, w := range p.writers {
		if err := p.resetOneLocked(w, hb); err != nil {
			return err
		}
	}
	return nil
}

// ScaleUp drains the pool and adds a writer.
func (p *WriterPool) ScaleUp(hb Heartbeat) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.writers) >= p.cfg.MaxWriters {
		return nil
	}
	if err := p.resetAllLocked(hb); err != nil {
		return err
	}
	if err := p.addWriterLocked(); err != nil {
		return err
	}
	GetMetrics().WriterScaleUps.Inc()
	slog.Info("writer_added",
		slog.String("type", p.wtype.String()),
		slog.Int("writers", len(p.writers)))
	return nil
}

// ScaleDown removes the tail writer once the pool has been quiet longer
// than the scale-back window. Writer zero is never removed.
func (p *WriterPool) ScaleDown(hb Heartbeat) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.writers) <= 1 {
		return nil
	}
	if time.Since(p.lastChange) < p.cfg.ScaleBackAfter {
		return nil
	}
	if err := p.resetAllLocked(hb); err != nil {
		return err
	}

	tail := p.writers[len(p.writers)-1]
	tail.Shutdown(5 * time.Second)
	p.writers = p.writers[:len(p.writers)-1]
	p.lastChange = time.Now()

	GetMetrics().WriterScaleDowns.Inc()
	GetMetrics().WriterPoolSize.WithLabelValues(p.wtype.String()).Set(float64(len(p.writers)))
	slog.Info("writer_removed",
		slog.String("type", p.wtype.String()),
		slog.Int("writers", len(p.writers)))
	return nil
}

// Rebalance drains and unassigns any writer that has sat above the
// high-water mark too many samples while holding more than one key.
// Subsequent items for those keys re-route, spreading the load.
func (p *WriterPool) Rebalance(hb Heartbeat) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if time.Since(p.lastChange) < p.cfg.RebalanceAfter {
		return false, nil
	}
	p.lastChange = time.Now()

	rebalanced := false
	for _, w := range p.writers {
		if w.aboveCount > p.cfg.AllowedOverQueueTimes && len(w.assigned) > 1 {
			rebalanced = true
			if err := p.resetOneLocked(w, hb); err != nil {
				return rebalanced, err
			}
		} else {
			w.messageCount = int64(w.QueueLen())
		}
	}

	if rebalanced {
		GetMetrics().WriterRebalances.Inc()
	}
	return rebalanced, nil
}

// Check is the 10-second sample: track high-water counts, scale up a
// writer stuck above 75% capacity, scale down when every writer is idle
// below 20%.
func (p *WriterPool) Check(hb Heartbeat) error {
	rebalanced, err := p.Rebalance(hb)
	if err != nil {
		return err
	}
	if rebalanced {
		return nil
	}

	p.mu.Lock()
	highWater := p.cfg.QueueSize * 75 / 100
	lowWater := p.cfg.QueueSize * 20 / 100

	belowThreshold := 0
	needScaleUp := false
	for _, w := range p.writers {
		slog.Debug("writer_sample",
			slog.String("type", p.wtype.String()),
			slog.Int("assigned", len(w.assigned)),
			slog.Int("queue", w.QueueLen()),
			slog.Int("above_count", w.aboveCount),
			slog.Int64("messages", w.messageCount))

		switch {
		case w.QueueLen() > highWater:
			if w.aboveCount > p.cfg.AllowedOverQueueTimes {
				if len(p.writers) < p.cfg.MaxWriters {
					w.aboveCount = 0
					needScaleUp = true
				} else {
					slog.Info("writer_pool_at_max",
						slog.String("type", p.wtype.String()),
						slog.Int("queue", w.QueueLen()))
				}
			} else {
				w.aboveCount++
			}
		case w.QueueLen() < lowWater:
			w.aboveCount = 0
			belowThreshold++
		}

		if needScaleUp {
			break
		}
	}
	scaleDown := belowThreshold >= len(p.writers)
	p.mu.Unlock()

	if needScaleUp {
		return p.ScaleUp(hb)
	}
	if scaleDown {
		return p.ScaleDown(hb)
	}
	return nil
}

// Shutdown drains and stops every writer.
func (p *WriterPool) Shutdown(hb Heartbeat) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.resetAllLocked(hb); err != nil {
		slog.Warn("writer_pool_drain_incomplete", slog.String("error", err.Error()))
	}

	slog.Info("writer_pool_stopping", slog.String("type", p.wtype.String()))
	for _, w := range p.writers {
		w.Shutdown(5 * time.Second)
		_ = w.handle.Disconnect()
	}
	p.writers = nil
}

// WriterStat is one writer's sample for the stats surface.
type WriterStat struct {
	Assigned   int   `json:"assigned"`
	Queue      int   `json:"queue"`
	AboveCount int   `json:"above_count"`
	Messages   int64 `json:"messages"`
}

// Snapshot returns per-writer stats for logging and the admin surface.
func (p *WriterPool) Snapshot() []WriterStat {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make([]WriterStat, 0, len(p.writers))
	for _, w := range p.writers {
		stats = append(stats, WriterStat{
			Assigned:   len(w.assigned),
			Queue:      w.QueueLen(),
			AboveCount: w.aboveCount,
			Messages:   w.messageCount,
		})
	}
	return stats
}
