package postgresql

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/titleworks/lientrack/pkg/models"
)

// AuditRepository handles the append-only audit_events table. There is no
// update or delete path on purpose.
type AuditRepository struct {
	q querier
}

// Append inserts one audit event. Callers run this inside the transaction of
// the change being audited so a lost audit write fails the whole operation.
func (r *AuditRepository) Append(ctx context.Context, event *models.AuditEvent) error {
	eventDataJSON, err := json.Marshal(event.EventData)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	query := `
		INSERT INTO audit_events (id, actor, action, resource_ref, event_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = r.q.ExecContext(ctx, query,
		event.ID,
		event.Actor,
		event.Action,
		event.ResourceRef,
		eventDataJSON,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	return nil
}

// ListByResource returns all audit events for a resource, oldest first.
func (r *AuditRepository) ListByResource(ctx context.Context, resourceRef string) ([]*models.AuditEvent, error) {
	query := `
		SELECT id, actor, action, resource_ref, event_data, created_at
		FROM audit_events
		WHERE resource_ref = $1
		ORDER BY created_at
	`

	rows, err := r.q.QueryContext(ctx, query, resourceRef)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	events := make([]*models.AuditEvent, 0)

	for rows.Next() {
		var (
			event         models.AuditEvent
			eventDataJSON []byte
		)

		err := rows.Scan(
			&event.ID,
			&event.Actor,
			&event.Action,
			&event.ResourceRef,
			&eventDataJSON,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}

		if eventDataJSON != nil {
			err := json.Unmarshal(eventDataJSON, &event.EventData)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
			}
		}

		events = append(events, &event)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}

	return events, nil
}
