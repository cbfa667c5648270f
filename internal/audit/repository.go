package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"bizops/pkg/db"
)

// Event is one append-only audit record. Before/After hold snapshots of the touched approval record.
type Event struct {
	ID           string    `json:"id"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resourceType"`
	ResourceID   string    `json:"resourceId"`
	Actor        string    `json:"actor"`
	Description  string    `json:"description"`
	Before       any       `json:"before,omitempty"`
	After        any       `json:"after,omitempty"`
	OccurredAt   time.Time `json:"occurredAt"`
}

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Write(ctx context.Context, ev Event) error {
	return Insert(ctx, r.db, ev)
}

func Insert(ctx context.Context, q db.Querier, ev Event) error {
	before, err := snapshot(ev.Before)
	if err != nil {
		return fmt.Errorf("marshal before snapshot: %w", err)
	}
	after, err := snapshot(ev.After)
	if err != nil {
		return fmt.Errorf("marshal after snapshot: %w", err)
	}
	if ev.ID == "" {
		ev.ID = newID()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	const stmt = `
INSERT INTO audit_logs (id, action, resource_type, resource_id, actor, description, before, after, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, CAST($7 AS jsonb), CAST($8 AS jsonb), $9)
`
	if _, err := q.Exec(ctx, stmt, ev.ID, ev.Action, ev.ResourceType, ev.ResourceID, ev.Actor, ev.Description, before, after, ev.OccurredAt); err != nil {
		return fmt.Errorf("insert audit log %s: %w", ev.Action, err)
	}
	return nil
}

func snapshot(v any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
