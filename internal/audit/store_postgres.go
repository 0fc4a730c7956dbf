package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// PostgresStore persists audit events in the audit_events table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, occurred_at, action, issuer, fingerprint, key_id, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.New(), event.Timestamp, event.Action, event.Issuer, event.Fingerprint, event.KeyID, event.Reason)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByFingerprint(ctx context.Context, fingerprint string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT occurred_at, action, issuer, fingerprint, key_id, reason
		FROM audit_events
		WHERE fingerprint = $1
		ORDER BY occurred_at, id
	`, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Timestamp, &e.Action, &e.Issuer, &e.Fingerprint, &e.KeyID, &e.Reason); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
