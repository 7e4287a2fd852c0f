// Package audit implements the asynchronous audit-log pipeline: a
// non-blocking in-process dispatcher feeding a durable Redis list, and a
// scheduled worker that drains the list into PostgreSQL in idempotent
// batches. Delivery is at-least-once, bounded by the flush interval, and
// deduplicated by the pre-assigned sortable log id.
package audit
