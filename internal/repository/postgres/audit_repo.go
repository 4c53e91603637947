// internal/repository/postgres/audit_repo.go
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"qrlogin-service/internal/domain/audit"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

type AuditRepository struct {
	db *pgxpool.Pool
}

func NewAuditRepository(db *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create records one audit event
func (r *AuditRepository) Create(ctx context.Context, e *audit.Event) error {
	query := `
		INSERT INTO qr_audit_events (id, action, session_id, user_id, role, roles, success, ip_address, user_agent, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var metadataJSON []byte
	var err error
	if e.Metadata != nil {
		metadataJSON, err = json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	_, err = r.db.Exec(
		ctx, query,
		e.ID, e.Action, e.SessionID, e.UserID, e.Role, pq.Array(e.Roles),
		e.Success, e.IPAddress, e.UserAgent, metadataJSON, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	return nil
}

// ListBySession retrieves the audit trail of one session, oldest first
func (r *AuditRepository) ListBySession(ctx context.Context, sessionID string) ([]*audit.Event, error) {
	query := `
		SELECT id, action, session_id, user_id, role, roles, success, ip_address, user_agent, metadata, created_at
		FROM qr_audit_events
		WHERE session_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var events []*audit.Event
	for rows.Next() {
		var e audit.Event
		var metadataJSON []byte

		err := rows.Scan(
			&e.ID, &e.Action, &e.SessionID, &e.UserID, &e.Role, pq.Array(&e.Roles),
			&e.Success, &e.IPAddress, &e.UserAgent, &metadataJSON, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}

		events = append(events, &e)
	}

	return events, rows.Err()
}

// DeleteOlderThan prunes audit events past the retention horizon
func (r *AuditRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM qr_audit_events WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit events: %w", err)
	}
	return tag.RowsAffected(), nil
}
