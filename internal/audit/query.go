package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"bizops/pkg/db"
)

const listLimit = 500

// ListByResource returns a resource's audit trail, oldest first.
func ListByResource(ctx context.Context, q db.Querier, resourceType, resourceID string) ([]Event, error) {
	const stmt = `
SELECT id, action, resource_type, resource_id, actor, description, before, after, occurred_at
FROM audit_logs
WHERE resource_type = $1 AND resource_id = $2
ORDER BY occurred_at ASC, id ASC
LIMIT $3
`
	rows, err := q.Query(ctx, stmt, resourceType, resourceID, listLimit)
	if err != nil {
		return nil, fmt.Errorf("list audit logs for %s %s: %w", resourceType, resourceID, err)
	}
	defer rows.Close()

	out := []Event{}
	for rows.Next() {
		var (
			e             Event
			before, after []byte
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.ResourceType, &e.ResourceID, &e.Actor, &e.Description, &before, &after, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Before = rawOrNil(before)
		e.After = rawOrNil(after)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) ListByResource(ctx context.Context, resourceType, resourceID string) ([]Event, error) {
	return ListByResource(ctx, r.db, resourceType, resourceID)
}

func rawOrNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}
