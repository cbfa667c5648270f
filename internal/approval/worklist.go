package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"bizops/internal/directory"
	"bizops/internal/workflow"
	"bizops/pkg/logger"
)

type WorklistQuery struct {
	ActorID string
	// Search matches the parent name or the level, case-insensitively.
	Search string
	// RequiredPermission, when set, empties the worklist for actors that do not hold it.
	RequiredPermission string
}

// Worklist merges the actor's pending records across every kind, each with a parent summary.
// Records whose parent is gone or already finalized are left out.
func (s *Service) Worklist(ctx context.Context, q WorklistQuery) ([]WorkItem, error) {
	q.ActorID = strings.TrimSpace(q.ActorID)
	if q.ActorID == "" {
		return nil, scope{}.invalid("actor id is required")
	}
	if perm := strings.TrimSpace(q.RequiredPermission); perm != "" {
		ok, err := s.dir.HasPermission(ctx, q.ActorID, perm)
		if err != nil {
			return nil, fmt.Errorf("check %s for %s: %w", perm, q.ActorID, err)
		}
		if !ok {
			return []WorkItem{}, nil
		}
	}

	records, err := s.store.ListPendingByApprover(ctx, q.ActorID)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals for %s: %w", q.ActorID, err)
	}

	type key struct {
		kind workflow.Kind
		id   string
	}
	parents := map[key]*Parent{}
	needle := strings.ToLower(strings.TrimSpace(q.Search))

	log := logger.With(zap.String("actor", q.ActorID))
	items := make([]WorkItem, 0, len(records))
	for _, r := range records {
		k := key{r.ParentKind, r.ParentID}
		p, seen := parents[k]
		if !seen {
			p, err = s.store.LoadParent(ctx, r.ParentKind, r.ParentID)
			switch {
			case errors.Is(err, ErrParentMissing):
				log.Debug("worklist skipped orphaned approval",
					zap.String("approval_id", r.ID),
					zap.String("parent_kind", string(r.ParentKind)),
					zap.String("parent_id", r.ParentID),
				)
				p = nil
			case err != nil:
				return nil, fmt.Errorf("load %s %s: %w", r.ParentKind, r.ParentID, err)
			}
			parents[k] = p
		}
		if p == nil {
			continue
		}
		if spec, err := workflow.SpecFor(p.Kind); err == nil && spec.IsTerminal(p.Status) {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(p.Name), needle) &&
			!strings.Contains(strings.ToLower(r.Level), needle) {
			continue
		}
		items = append(items, WorkItem{Approval: r, Parent: p.Summary()})
	}
	return items, nil
}

// FindApprovers lists active users that can be picked as delegates.
func (s *Service) FindApprovers(ctx context.Context, search, permission string) ([]directory.User, error) {
	users, err := s.dir.FindApprovers(ctx, strings.TrimSpace(search), strings.TrimSpace(permission))
	if err != nil {
		return nil, fmt.Errorf("find approvers: %w", err)
	}
	if users == nil {
		users = []directory.User{}
	}
	return users, nil
}
