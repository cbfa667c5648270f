package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"bizops/internal/audit"
	"bizops/internal/directory"
	"bizops/internal/workflow"
	"bizops/pkg/logger"
)

type DelegateInput struct {
	Kind          workflow.Kind
	ParentID      string
	ActorID       string
	NewApproverID string
	Level         string
	// GrantDelegation lets the new approver add further approvers. Requires manage_approvers.
	GrantDelegation bool
}

// AddApprover inserts one pending record into the parent's chain. Existing records and the parent
// status are left as they are; the new record is always treated as an ad hoc level.
func (s *Service) AddApprover(ctx context.Context, in DelegateInput) (*Record, error) {
	in.ActorID = strings.TrimSpace(in.ActorID)
	in.NewApproverID = strings.TrimSpace(in.NewApproverID)
	in.Level = strings.TrimSpace(in.Level)
	sc := scope{kind: in.Kind, parentID: in.ParentID, level: in.Level}
	if _, err := workflow.SpecFor(in.Kind); err != nil {
		return nil, sc.invalid("%v", err)
	}
	switch {
	case in.ActorID == "":
		return nil, sc.invalid("actor id is required")
	case strings.TrimSpace(in.ParentID) == "":
		return nil, sc.invalid("parent id is required")
	case in.NewApproverID == "":
		return nil, sc.invalid("new approver id is required")
	case in.Level == "":
		return nil, sc.invalid("level is required")
	case len(in.Level) > 64:
		return nil, sc.invalid("level must be at most 64 characters")
	}

	canManage, err := s.dir.HasPermission(ctx, in.ActorID, directory.PermManageApprovers)
	if err != nil {
		return nil, fmt.Errorf("check %s for %s: %w", directory.PermManageApprovers, in.ActorID, err)
	}
	canAdd := canManage
	if !canAdd {
		if canAdd, err = s.dir.HasPermission(ctx, in.ActorID, directory.PermAddApprovers); err != nil {
			return nil, fmt.Errorf("check %s for %s: %w", directory.PermAddApprovers, in.ActorID, err)
		}
	}
	if in.GrantDelegation && !canManage {
		return nil, sc.err(ErrUnauthorized, CodeEscalationDenied,
			"granting delegation requires the %s permission", directory.PermManageApprovers)
	}

	active, err := s.dir.IsActive(ctx, in.NewApproverID)
	if err != nil {
		return nil, fmt.Errorf("check approver %s: %w", in.NewApproverID, err)
	}
	if !active {
		return nil, sc.err(ErrValidation, CodeInactiveApprover, "approver %s is not an active user", in.NewApproverID)
	}

	var (
		rec    Record
		parent Parent
	)
	err = s.store.InTx(ctx, func(tx Tx) error {
		p, err := s.lockParent(ctx, tx, sc)
		if err != nil {
			return err
		}
		spec, _ := workflow.SpecFor(in.Kind)
		if spec.IsTerminal(p.Status) {
			return sc.err(ErrAlreadyProcessed, CodeChainFinalized, "%s is already %s", in.Kind, p.Status)
		}

		records, err := tx.ListApprovals(ctx, in.Kind, in.ParentID)
		if err != nil {
			return fmt.Errorf("list approvals for %s %s: %w", in.Kind, in.ParentID, err)
		}
		if !canAdd && !holdsDelegation(records, in.ActorID) {
			return sc.err(ErrUnauthorized, CodeUnauthorized,
				"adding approvers requires %s or %s", directory.PermAddApprovers, directory.PermManageApprovers)
		}
		for _, r := range records {
			if r.Level == in.Level && r.ApproverID == in.NewApproverID && r.Status == StatusPending {
				return sc.err(ErrValidation, CodeDuplicatePending, "approver %s is already pending at this level", in.NewApproverID)
			}
		}

		rec = Record{
			ParentKind:      in.Kind,
			ParentID:        in.ParentID,
			Level:           in.Level,
			ApproverID:      in.NewApproverID,
			Status:          StatusPending,
			CanAddApprovers: in.GrantDelegation,
			Delegated:       true,
			AddedBy:         in.ActorID,
		}
		if err := tx.InsertApproval(ctx, &rec); err != nil {
			if errors.Is(err, ErrDuplicatePending) {
				return sc.err(ErrValidation, CodeDuplicatePending, "approver %s is already pending at this level", in.NewApproverID)
			}
			return fmt.Errorf("insert approval for %s %s: %w", in.Kind, in.ParentID, err)
		}
		parent = *p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, audit.Event{
		Action:       "approval.approver_added",
		ResourceType: string(in.Kind),
		ResourceID:   in.ParentID,
		Actor:        in.ActorID,
		Description: fmt.Sprintf("%s added %s as %s approver on %s",
			in.ActorID, in.NewApproverID, in.Level, describe(in.Kind, parent)),
		After:      snapshotOf(rec),
		OccurredAt: rec.CreatedAt,
	})
	logger.Info("approver added",
		zap.String("parent_kind", string(in.Kind)),
		zap.String("parent_id", in.ParentID),
		zap.String("level", in.Level),
		zap.String("actor", in.ActorID),
		zap.String("approver", in.NewApproverID),
		zap.Bool("grant_delegation", in.GrantDelegation),
	)
	return &rec, nil
}

// holdsDelegation reports whether actor was given the capability on one of the parent's records.
func holdsDelegation(records []Record, actorID string) bool {
	for _, r := range records {
		if r.ApproverID == actorID && r.CanAddApprovers {
			return true
		}
	}
	return false
}
