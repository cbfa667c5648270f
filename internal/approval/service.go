package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bizops/internal/audit"
	"bizops/internal/workflow"
)

// Service is the approval engine: orchestrator, delegation, chain start and the worklist read side.
type Service struct {
	store   Store
	dir     Directory
	auditor Auditor
	now     func() time.Time
}

func NewService(store Store, dir Directory, auditor Auditor) *Service {
	return &Service{
		store:   store,
		dir:     dir,
		auditor: auditor,
		now:     time.Now,
	}
}

// History returns the parent with its full approval chain.
func (s *Service) History(ctx context.Context, kind workflow.Kind, parentID string) (*History, error) {
	sc := scope{kind: kind, parentID: parentID}
	if _, err := workflow.SpecFor(kind); err != nil {
		return nil, sc.invalid("%v", err)
	}
	if strings.TrimSpace(parentID) == "" {
		return nil, sc.invalid("parent id is required")
	}

	p, err := s.store.LoadParent(ctx, kind, parentID)
	if err != nil {
		if errors.Is(err, ErrParentMissing) {
			return nil, sc.err(ErrNotFound, CodeParentNotFound, "%s not found", kind)
		}
		return nil, fmt.Errorf("load %s %s: %w", kind, parentID, err)
	}
	records, err := s.store.ListApprovals(ctx, kind, parentID)
	if err != nil {
		return nil, fmt.Errorf("list approvals for %s %s: %w", kind, parentID, err)
	}
	return &History{Parent: *p, Approvals: nonNil(records)}, nil
}

func (s *Service) emit(ctx context.Context, ev audit.Event) {
	if s.auditor == nil {
		return
	}
	s.auditor.Record(ctx, ev)
}

func (s *Service) lockParent(ctx context.Context, tx Tx, sc scope) (*Parent, error) {
	p, err := tx.LockParent(ctx, sc.kind, sc.parentID)
	if err != nil {
		if errors.Is(err, ErrParentMissing) {
			return nil, sc.err(ErrNotFound, CodeParentNotFound, "%s not found", sc.kind)
		}
		return nil, fmt.Errorf("lock %s %s: %w", sc.kind, sc.parentID, err)
	}
	return p, nil
}

func nonNil(records []Record) []Record {
	if records == nil {
		return []Record{}
	}
	return records
}

func snapshotOf(r Record) map[string]any {
	m := map[string]any{
		"id":              r.ID,
		"level":           r.Level,
		"approverId":      r.ApproverID,
		"status":          r.Status,
		"canAddApprovers": r.CanAddApprovers,
		"delegated":       r.Delegated,
	}
	if r.Comments != "" {
		m["comments"] = r.Comments
	}
	if r.ActionDate != nil {
		m["actionDate"] = r.ActionDate.UTC().Format(time.RFC3339Nano)
	}
	return m
}
