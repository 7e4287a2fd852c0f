package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher decouples the request path from the queue: Push never touches
// Redis, it hands the entry to a buffered channel consumed by a single
// goroutine that appends to the durable queue.
type Dispatcher struct {
	cfg       Config
	queue     *Queue
	warnf     func(format string, args ...any)
	ch        chan Entry
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewDispatcher(cfg Config, queue *Queue, warnf func(format string, args ...any)) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if warnf == nil {
		warnf = func(string, ...any) {}
	}

	d := &Dispatcher{
		cfg:   cfg,
		queue: queue,
		warnf: warnf,
		ch:    make(chan Entry, cfg.BufferSize),
		done:  make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case entry := <-d.ch:
			d.forward(entry)
		case <-d.done:
			for {
				select {
				case entry := <-d.ch:
					d.forward(entry)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) forward(entry Entry) {
	if err := d.queue.Enqueue(context.Background(), entry); err != nil {
		d.dropped.Add(1)
		d.warnf("audit enqueue failed, entry %s dropped: %v", entry.LogID, err)
	}
}

// Push hands an entry to the dispatcher. It never blocks the caller: when
// the buffer is full and DropIfFull is set, the entry is counted and dropped;
// otherwise the caller waits on ctx.
func (d *Dispatcher) Push(ctx context.Context, entry Entry) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- entry:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- entry:
	case <-ctx.Done():
	case <-d.done:
	}
}

// Close drains the buffer into the queue and stops the goroutine.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports how many entries were discarded under pressure.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
