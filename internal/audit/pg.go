package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const insertAuditSQL = `INSERT INTO audit_logs
	(id, type, level, user_id, session_id, entity_type, entity_id,
	 description, payload, ip, user_agent, request_id, trace_id,
	 correlation_id, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (id) DO NOTHING`

// PGStore persists audit batches to PostgreSQL. All inserts for one batch
// run inside a single transaction; the ON CONFLICT clause keyed on the
// pre-assigned log id makes redelivery a no-op.
type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) InsertBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, entry := range entries {
			payload, err := json.Marshal(entry.Payload)
			if err != nil {
				return fmt.Errorf("marshal audit payload %s: %w", entry.LogID, err)
			}
			batch.Queue(insertAuditSQL,
				entry.LogID, entry.Type, entry.Level, nullable(entry.UserID),
				nullable(entry.SessionID), nullable(entry.EntityType),
				nullable(entry.EntityID), entry.Description, payload,
				nullable(entry.IP), nullable(entry.UserAgent),
				nullable(entry.RequestID), nullable(entry.TraceID),
				nullable(entry.CorrelationID), entry.Timestamp,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
