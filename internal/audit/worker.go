package audit

import (
	"context"
	"sync"
	"time"
)

// WorkerConfig tunes the flush worker.
type WorkerConfig struct {
	FlushInterval time.Duration
	FlushTimeout  time.Duration
	MaxBatch      int
}

// Worker drains the queue on a schedule and bulk-inserts into the durable
// store. One worker instance runs one flush at a time; a slow insert delays
// the next tick instead of overlapping it. On insert failure the batch stays
// queued; Store idempotency on LogID makes the retry safe.
type Worker struct {
	cfg       WorkerConfig
	queue     *Queue
	store     Store
	warnf     func(format string, args ...any)
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu      sync.Mutex
	flushed uint64
}

func NewWorker(cfg WorkerConfig, queue *Queue, store Store, warnf func(format string, args ...any)) *Worker {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 10 * time.Second
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 500
	}
	if warnf == nil {
		warnf = func(string, ...any) {}
	}

	w := &Worker{
		cfg:   cfg,
		queue: queue,
		store: store,
		warnf: warnf,
		done:  make(chan struct{}),
	}

	w.wg.Add(1)
	go w.run()

	return w
}

func (w *Worker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.Flush(context.Background()); err != nil {
				w.warnf("audit flush failed, batch retained for retry: %v", err)
			}
		case <-w.done:
			return
		}
	}
}

// Flush performs one drain cycle: peek a bounded batch, insert it, trim
// exactly what was read. Entries enqueued while the insert runs are left for
// the next cycle. Safe to call concurrently with the scheduled ticks; cycles
// are serialized by the worker mutex.
func (w *Worker) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, w.cfg.FlushTimeout)
	defer cancel()

	for {
		entries, raw, err := w.queue.Peek(ctx, w.cfg.MaxBatch)
		if err != nil {
			return err
		}
		if raw == 0 {
			return nil
		}

		if len(entries) > 0 {
			if err := w.store.InsertBatch(ctx, entries); err != nil {
				return err
			}
			w.flushed += uint64(len(entries))
		}

		// Crash window: a failure after insert but before trim re-delivers
		// the batch next tick; the store's conflict policy absorbs it.
		if err := w.queue.Trim(ctx, raw); err != nil {
			return err
		}

		if raw < w.cfg.MaxBatch {
			return nil
		}
	}
}

// Flushed reports the total number of entries persisted by this worker.
func (w *Worker) Flushed() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushed
}

// Close stops the schedule and makes a final synchronous flush attempt so a
// graceful shutdown does not strand queued entries.
func (w *Worker) Close() {
	if w == nil {
		return
	}
	w.closeOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
		if err := w.Flush(context.Background()); err != nil {
			w.warnf("final audit flush failed, entries remain queued: %v", err)
		}
	})
}
