package security

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Store is the durable security-event backend.
type Store interface {
	Insert(ctx context.Context, event *Event) error
	Resolve(ctx context.Context, eventID, resolvedBy string, resolvedAt time.Time) (bool, error)
	List(ctx context.Context, filter ListFilter) ([]Event, error)
}

// ListFilter narrows List results. Zero values mean "any".
type ListFilter struct {
	UserID     string
	Type       string
	Severity   string
	Unresolved bool
	Limit      int
}

// ServiceConfig tunes the out-of-band event writer.
type ServiceConfig struct {
	BufferSize int
}

// Service receives security events synchronously and persists them out of
// band. Create never fails the calling operation: a login must not fail
// because telemetry failed.
type Service struct {
	store Store
	warnf func(format string, args ...any)

	ch        chan *Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewService(cfg ServiceConfig, store Store, warnf func(format string, args ...any)) *Service {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if warnf == nil {
		warnf = func(string, ...any) {}
	}

	s := &Service{
		store: store,
		warnf: warnf,
		ch:    make(chan *Event, cfg.BufferSize),
		done:  make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run()

	return s
}

func (s *Service) run() {
	defer s.wg.Done()

	for {
		select {
		case event := <-s.ch:
			s.write(event)
		case <-s.done:
			for {
				select {
				case event := <-s.ch:
					s.write(event)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) write(event *Event) {
	if err := s.store.Insert(context.Background(), event); err != nil {
		s.warnf("security event %s (%s) not persisted: %v", event.ID, event.Type, err)
	}
}

// Normalize assigns the id, timestamp, default severity, and auto-resolution
// state a raw event is missing.
func Normalize(event *Event) {
	if event.ID == "" {
		if id, err := uuid.NewV7(); err == nil {
			event.ID = id.String()
		} else {
			event.ID = uuid.NewString()
		}
	}
	if event.Severity == "" {
		event.Severity = DefaultSeverity(event.Type)
	}
	if event.Created.IsZero() {
		event.Created = time.Now().UTC()
	}
	if AutoResolved(event.Type) && !event.Resolved {
		event.Resolved = true
		at := event.Created
		event.ResolvedAt = &at
	}
}

// Create normalizes and enqueues the event for out-of-band persistence. When
// the buffer is full the event is dropped and counted; the caller is never
// blocked or failed.
func (s *Service) Create(ctx context.Context, event *Event) {
	if s == nil || s.closed.Load() {
		return
	}
	Normalize(event)

	select {
	case s.ch <- event:
	case <-s.done:
	default:
		s.dropped.Add(1)
		s.warnf("security event buffer full, %s (%s) dropped", event.ID, event.Type)
	}
}

// CreateDirect normalizes and writes the event synchronously. Used when the
// caller needs the write inside its own consistency boundary.
func (s *Service) CreateDirect(ctx context.Context, event *Event) error {
	Normalize(event)
	return s.store.Insert(ctx, event)
}

// Resolve marks an event handled.
func (s *Service) Resolve(ctx context.Context, eventID, resolvedBy string) (bool, error) {
	return s.store.Resolve(ctx, eventID, resolvedBy, time.Now().UTC())
}

// List returns stored events matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Event, error) {
	return s.store.List(ctx, filter)
}

// Dropped reports how many events were discarded under pressure.
func (s *Service) Dropped() uint64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load()
}

// Close drains pending events and stops the writer goroutine.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		s.wg.Wait()
	})
}
