package security

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const insertEventSQL = `INSERT INTO security_events
	(id, user_id, event_type, severity, ip, user_agent, location,
	 metadata, resolved, resolved_at, resolved_by, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (id) DO NOTHING`

// PGStore persists security events to PostgreSQL.
type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Insert(ctx context.Context, event *Event) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, insertEventSQL,
		event.ID, nullable(event.UserID), event.Type, event.Severity,
		nullable(event.IP), nullable(event.UserAgent), nullable(event.Location),
		metadata, event.Resolved, event.ResolvedAt, nullable(event.ResolvedBy),
		event.Created,
	)
	return err
}

func (s *PGStore) Resolve(ctx context.Context, eventID, resolvedBy string, resolvedAt time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE security_events
		 SET resolved = true, resolved_at = $2, resolved_by = $3
		 WHERE id = $1 AND resolved = false`,
		eventID, resolvedAt, nullable(resolvedBy),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGStore) List(ctx context.Context, filter ListFilter) ([]Event, error) {
	query := `SELECT id, user_id, event_type, severity, ip, user_agent,
		location, metadata, resolved, resolved_at, resolved_by, created_at
		FROM security_events WHERE 1=1`
	args := []any{}

	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += " AND user_id = $" + strconv.Itoa(len(args))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		query += " AND event_type = $" + strconv.Itoa(len(args))
	}
	if filter.Severity != "" {
		args = append(args, filter.Severity)
		query += " AND severity = $" + strconv.Itoa(len(args))
	}
	if filter.Unresolved {
		query += " AND resolved = false"
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event      Event
			userID     *string
			ip         *string
			userAgent  *string
			location   *string
			resolvedBy *string
			metadata   []byte
		)
		if err := rows.Scan(
			&event.ID, &userID, &event.Type, &event.Severity, &ip,
			&userAgent, &location, &metadata, &event.Resolved,
			&event.ResolvedAt, &resolvedBy, &event.Created,
		); err != nil {
			return nil, err
		}
		event.UserID = deref(userID)
		event.IP = deref(ip)
		event.UserAgent = deref(userAgent)
		event.Location = deref(location)
		event.ResolvedBy = deref(resolvedBy)
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &event.Metadata)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// InsertTx writes an event inside an existing transaction for callers that
// need same-transaction consistency with their own rows.
func InsertTx(ctx context.Context, tx pgx.Tx, event *Event) error {
	Normalize(event)
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, insertEventSQL,
		event.ID, nullable(event.UserID), event.Type, event.Severity,
		nullable(event.IP), nullable(event.UserAgent), nullable(event.Location),
		metadata, event.Resolved, event.ResolvedAt, nullable(event.ResolvedBy),
		event.Created,
	)
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
