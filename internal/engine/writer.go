package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"bgpdata-consumer-go/internal/db"
	"bgpdata-consumer-go/internal/psqlquery"
	"bgpdata-consumer-go/internal/recovery"
)

// WriterType tags a writer pool. A single type exists today; keeping the
// tag means a future split of attribute writers from prefix writers does
// not touch the pool plumbing.
type WriterType int

const (
	WriterTypeDefault WriterType = iota
)

func (t WriterType) String() string {
	switch t {
	case WriterTypeDefault:
		return "default"
	default:
		return "unknown"
	}
}

// Writer states.
const (
	writerRunning int32 = iota
	writerDraining
	writerStopped
)

// Writer owns one database connection and a bounded queue of bulk query
// triples. Its loop drains the queue in time/size bounded batches, merges
// triples that share a statement template, and ships the merged SQL.
//
// The routing fields (assigned, messageCount, aboveCount) belong to the
// pool and are only touched under the pool's lock.
type Writer struct {
	queue  chan *psqlquery.BulkQuery
	handle *db.Handle

	batchRecords int
	batchTime    time.Duration
	retries      int

	state atomic.Int32
	stop  chan struct{}
	done  chan struct{}

	// Pool-owned routing state.
	assigned     map[string]struct{}
	messageCount int64
	aboveCount   int
}

func newWriter(handle *db.Handle, queueSize, batchRecords int, batchTime time.Duration, retries int) *Writer {
	return &Writer{
		queue:        make(chan *psqlquery.BulkQuery, queueSize),
		handle:       handle,
		batchRecords: batchRecords,
		batchTime:    batchTime,
		retries:      retries,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		assigned:     make(map[string]struct{}),
	}
}

func (w *Writer) start() {
	recovery.Go("writer", w.run)
}

// Offer enqueues a triple without blocking. False means the queue is full
// and the caller must re-queue the item.
func (w *Writer) Offer(q *psqlquery.BulkQuery) bool {
	if w.state.Load() != writerRunning {
		return false
	}
	select {
	case w.queue <- q:
		return true
	default:
		return false
	}
}

// QueueLen reports the current queue depth.
func (w *Writer) QueueLen() int {
	return len(w.queue)
}

// Shutdown drains and stops the writer, waiting up to timeout for the
// loop to exit.
func (w *Writer) Shutdown(timeout time.Duration) bool {
	if !w.state.CompareAndSwap(writerRunning, writerDraining) {
		return true
	}
	close(w.stop)

	select {
	case <-w.done:
		return true
	case <-time.After(timeout):
		slog.Warn("writer_shutdown_timeout", slog.Int("queued", len(w.queue)))
		return false
	}
}

func (w *Writer) run() {
	defer close(w.done)
	defer w.state.Store(writerStopped)

	for {
		var first *psqlquery.BulkQuery

		select {
		case first = <-w.queue:
		case <-w.stop:
			w.drainRemaining()
			return
		}

		batch := w.collectBatch(first)
		w.flush(batch)
	}
}

// collectBatch gathers up to batchRecords triples or until batchTime
// elapses, whichever comes first.
func (w *Writer) collectBatch(first *psqlquery.BulkQuery) []*psqlquery.BulkQuery {
	batch := []*psqlquery.BulkQuery{first}
	timer := time.NewTimer(w.batchTime)
	defer timer.Stop()

	for len(batch) < w.batchRecords {
		select {
		case q := <-w.queue:
			batch = append(batch, q)
		case <-timer.C:
			return batch
		case <-w.stop:
			return batch
		}
	}
	return batch
}

// drainRemaining flushes whatever is still queued at shutdown.
func (w *Writer) drainRemaining() {
	for {
		var batch []*psqlquery.BulkQuery
		for len(batch) < w.batchRecords {
			select {
			case q := <-w.queue:
				batch = append(batch, q)
			default:
				if len(batch) > 0 {
					w.flush(batch)
				}
				return
			}
		}
		w.flush(batch)
	}
}

// flush merges triples that share a statement template and executes the
// merged statements. Within one merged values map a duplicate key keeps
// the later tuple, so repeated updates for one row collapse before the
// statement reaches the database.
func (w *Writer) flush(batch []*psqlquery.BulkQuery) {
	if len(batch) == 0 {
		return
	}
	GetMetrics().WriterBatchSize.Observe(float64(len(batch)))

	var merged []*psqlquery.BulkQuery
	for _, q := range batch {
		var target *psqlquery.BulkQuery
		for _, m := range merged {
			if m.Mergeable(q) {
				target = m
				break
			}
		}
		if target == nil {
			merged = append(merged, q)
			continue
		}
		target.Merge(q)
	}

	for _, q := range merged {
		sql := q.SQL()
		if sql == "" {
			continue
		}
		if err := w.handle.Update(context.Background(), sql, w.retries); err != nil {
			// Batch is dropped; the bus redelivers on restart and the
			// upsert schema absorbs the duplicates.
			slog.Error("writer_batch_dropped",
				slog.Int("tuples", len(q.Values)),
				slog.String("error", err.Error()))
		}
	}
}
