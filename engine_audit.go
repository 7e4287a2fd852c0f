package gatekit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nocturnesec/gatekit/internal/audit"
	"github.com/nocturnesec/gatekit/internal/security"
)

/*
====================================
AUDIT PIPELINE
====================================
*/

// Push describes the push operation and its observable behavior.
//
// Push enriches the entry with ambient context and hands it to the
// asynchronous pipeline. It never blocks and never fails the caller; under
// buffer pressure entries may be dropped and counted.
func (e *Engine) Push(ctx context.Context, entry AuditEntry) {
	if e == nil || e.auditDispatcher == nil {
		return
	}
	e.enrich(ctx, &entry)
	e.auditDispatcher.Push(ctx, toInternalAuditEntry(entry))
	e.metricInc(MetricAuditPushed)
}

// PushBatch describes the pushbatch operation and its observable behavior.
//
// PushBatch enriches and enqueues each entry independently; a full buffer
// drops individual entries without affecting the rest of the batch.
func (e *Engine) PushBatch(ctx context.Context, entries []AuditEntry) {
	if e == nil || e.auditDispatcher == nil {
		return
	}
	for _, entry := range entries {
		e.enrich(ctx, &entry)
		e.auditDispatcher.Push(ctx, toInternalAuditEntry(entry))
		e.metricInc(MetricAuditPushed)
	}
}

// enrich fills the fields a caller normally omits: a sortable id, the
// timestamp, ambient request attributes from the context carriers, and the
// entity defaulting that lets most call sites pass only Type and UserID.
func (e *Engine) enrich(ctx context.Context, entry *AuditEntry) {
	if entry.LogID == "" {
		if id, err := uuid.NewV7(); err == nil {
			entry.LogID = id.String()
		} else {
			entry.LogID = uuid.NewString()
		}
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Level == "" {
		entry.Level = SeverityLow
	}
	if entry.IP == "" {
		entry.IP = clientIPFromContext(ctx)
	}
	if entry.UserAgent == "" {
		entry.UserAgent = userAgentFromContext(ctx)
	}
	if entry.RequestID == "" {
		entry.RequestID = requestIDFromContext(ctx)
	}
	if entry.SessionID == "" {
		entry.SessionID = sessionIDFromContext(ctx)
	}
	if entry.TraceID == "" {
		entry.TraceID = traceIDFromContext(ctx)
	}
	if entry.EntityType == "" && entry.UserID != "" {
		entry.EntityType = "user"
		entry.EntityID = entry.UserID
	}
	if entry.Description == "" {
		entry.Description = strings.ReplaceAll(entry.Type, "_", " ")
	}
}

// AuditDropped reports how many audit entries the in-process buffer has
// discarded since the engine was built.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.auditDispatcher == nil {
		return 0
	}
	return e.auditDispatcher.Dropped()
}

// AuditBacklog reports how many entries are queued awaiting durable
// persistence.
func (e *Engine) AuditBacklog(ctx context.Context) (int64, error) {
	if e == nil || e.auditQueue == nil {
		return 0, nil
	}
	return e.auditQueue.Len(ctx)
}

// FlushAudit drains the queue into the durable store immediately instead of
// waiting for the next worker tick. A no-op when no durable store is wired.
func (e *Engine) FlushAudit(ctx context.Context) error {
	if e == nil || e.auditWorker == nil {
		return nil
	}
	return e.auditWorker.Flush(ctx)
}

/*
====================================
SECURITY EVENTS
====================================
*/

// CreateSecurityEvent records a security occurrence out of band. Missing
// id, severity, and timestamp are filled from the event-type defaults; the
// caller is never blocked or failed.
func (e *Engine) CreateSecurityEvent(ctx context.Context, event *SecurityEvent) {
	if e == nil || event == nil {
		return
	}
	internal := toInternalSecurityEvent(*event)
	e.fillEventAmbient(ctx, &internal)
	e.securityEvents.Create(ctx, &internal)
	e.metricInc(MetricSecurityEventCreated)
}

// CreateSecurityEventDirect writes the event synchronously and reports the
// store error. Used when the caller needs the write confirmed.
func (e *Engine) CreateSecurityEventDirect(ctx context.Context, event *SecurityEvent) error {
	if e == nil || event == nil {
		return ErrEngineNotReady
	}
	internal := toInternalSecurityEvent(*event)
	e.fillEventAmbient(ctx, &internal)
	if err := e.securityEvents.CreateDirect(ctx, &internal); err != nil {
		return fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
	}
	e.metricInc(MetricSecurityEventCreated)
	event.ID = internal.ID
	return nil
}

// ResolveSecurityEvent marks an open event handled.
func (e *Engine) ResolveSecurityEvent(ctx context.Context, eventID, resolvedBy string) error {
	if e == nil || e.securityEvents == nil {
		return ErrEngineNotReady
	}
	ok, err := e.securityEvents.Resolve(ctx, eventID, resolvedBy)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
	}
	if !ok {
		return ErrEventNotFound
	}
	return nil
}

// ListSecurityEvents returns stored events matching the filter, newest
// first.
func (e *Engine) ListSecurityEvents(ctx context.Context, filter SecurityEventFilter) ([]SecurityEvent, error) {
	if e == nil || e.securityEvents == nil {
		return nil, ErrEngineNotReady
	}
	events, err := e.securityEvents.List(ctx, security.ListFilter{
		UserID:     filter.UserID,
		Type:       string(filter.Type),
		Severity:   string(filter.Severity),
		Unresolved: filter.Unresolved,
		Limit:      filter.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
	}
	out := make([]SecurityEvent, len(events))
	for i, event := range events {
		out[i] = fromInternalSecurityEvent(event)
	}
	return out, nil
}

// SecurityEventsDropped reports how many events the out-of-band writer has
// discarded since the engine was built.
func (e *Engine) SecurityEventsDropped() uint64 {
	if e == nil || e.securityEvents == nil {
		return 0
	}
	return e.securityEvents.Dropped()
}

// fillEventAmbient mirrors audit enrichment for security events.
func (e *Engine) fillEventAmbient(ctx context.Context, event *security.Event) {
	if event.IP == "" {
		event.IP = clientIPFromContext(ctx)
	}
	if event.UserAgent == "" {
		event.UserAgent = userAgentFromContext(ctx)
	}
}

// event records security events from within engine flows without the caller
// assembling a struct at every site.
func (e *Engine) event(ctx context.Context, userID string, eventType EventType, metadata map[string]string) {
	internal := &security.Event{
		UserID:    userID,
		Type:      string(eventType),
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Metadata:  metadata,
	}
	e.securityEvents.Create(ctx, internal)
	e.metricInc(MetricSecurityEventCreated)
}

/*
====================================
MODEL CONVERSIONS
====================================
*/

func toInternalAuditEntry(entry AuditEntry) audit.Entry {
	return audit.Entry{
		LogID:         entry.LogID,
		Type:          entry.Type,
		Level:         string(entry.Level),
		UserID:        entry.UserID,
		SessionID:     entry.SessionID,
		EntityType:    entry.EntityType,
		EntityID:      entry.EntityID,
		Description:   entry.Description,
		Payload:       entry.Payload,
		IP:            entry.IP,
		UserAgent:     entry.UserAgent,
		RequestID:     entry.RequestID,
		TraceID:       entry.TraceID,
		CorrelationID: entry.CorrelationID,
		Timestamp:     entry.Timestamp,
	}
}

func fromInternalAuditEntry(entry audit.Entry) AuditEntry {
	return AuditEntry{
		LogID:         entry.LogID,
		Type:          entry.Type,
		Level:         Severity(entry.Level),
		UserID:        entry.UserID,
		SessionID:     entry.SessionID,
		EntityType:    entry.EntityType,
		EntityID:      entry.EntityID,
		Description:   entry.Description,
		Payload:       entry.Payload,
		IP:            entry.IP,
		UserAgent:     entry.UserAgent,
		RequestID:     entry.RequestID,
		TraceID:       entry.TraceID,
		CorrelationID: entry.CorrelationID,
		Timestamp:     entry.Timestamp,
	}
}

func toInternalSecurityEvent(event SecurityEvent) security.Event {
	return security.Event{
		ID:         event.ID,
		UserID:     event.UserID,
		Type:       string(event.Type),
		Severity:   string(event.Severity),
		IP:         event.IP,
		UserAgent:  event.UserAgent,
		Location:   event.Location,
		Metadata:   event.Metadata,
		Resolved:   event.Resolved,
		ResolvedAt: event.ResolvedAt,
		ResolvedBy: event.ResolvedBy,
		Created:    event.Created,
	}
}

func fromInternalSecurityEvent(event security.Event) SecurityEvent {
	return SecurityEvent{
		ID:         event.ID,
		UserID:     event.UserID,
		Type:       EventType(event.Type),
		Severity:   Severity(event.Severity),
		IP:         event.IP,
		UserAgent:  event.UserAgent,
		Location:   event.Location,
		Metadata:   event.Metadata,
		Resolved:   event.Resolved,
		ResolvedAt: event.ResolvedAt,
		ResolvedBy: event.ResolvedBy,
		Created:    event.Created,
	}
}
