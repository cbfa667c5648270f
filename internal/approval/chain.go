package approval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"bizops/internal/audit"
	"bizops/internal/workflow"
	"bizops/pkg/logger"
)

type StartInput struct {
	Kind     workflow.Kind
	ParentID string
	ActorID  string
	// Assignments overrides directory resolution per canonical level. Levels marked Assigned
	// (payment's approver) must be present here.
	Assignments map[string][]string
}

// StartChain creates the canonical records for a draft parent and moves it to its first pending level.
func (s *Service) StartChain(ctx context.Context, in StartInput) (*History, error) {
	sc := scope{kind: in.Kind, parentID: in.ParentID}
	spec, err := workflow.SpecFor(in.Kind)
	if err != nil {
		return nil, sc.invalid("%v", err)
	}
	in.ActorID = strings.TrimSpace(in.ActorID)
	switch {
	case in.ActorID == "":
		return nil, sc.invalid("actor id is required")
	case strings.TrimSpace(in.ParentID) == "":
		return nil, sc.invalid("parent id is required")
	}
	for level := range in.Assignments {
		if _, ok := spec.Level(level); !ok {
			return nil, sc.invalid("%s has no canonical level %q", in.Kind, level)
		}
	}

	var hist *History
	err = s.store.InTx(ctx, func(tx Tx) error {
		parent, err := s.lockParent(ctx, tx, sc)
		if err != nil {
			return err
		}
		if parent.Status != workflow.StatusDraft {
			return sc.err(ErrAlreadyProcessed, CodeChainStarted, "%s is already %s", in.Kind, parent.Status)
		}
		existing, err := tx.ListApprovals(ctx, in.Kind, in.ParentID)
		if err != nil {
			return fmt.Errorf("list approvals for %s %s: %w", in.Kind, in.ParentID, err)
		}
		// Delegated records may be added before the chain starts; canonical ones mean it already has.
		for _, r := range existing {
			if !r.Delegated {
				return sc.err(ErrAlreadyProcessed, CodeChainStarted, "%s already has an approval chain", in.Kind)
			}
		}

		records := append(make([]Record, 0, len(existing)+len(spec.Levels)), existing...)
		for _, lvl := range spec.Levels {
			approvers, err := s.resolveLevel(ctx, sc.at(lvl.Name), lvl, parent, in.Assignments[lvl.Name])
			if err != nil {
				return err
			}
			for _, approverID := range approvers {
				rec := Record{
					ParentKind: in.Kind,
					ParentID:   in.ParentID,
					Level:      lvl.Name,
					ApproverID: approverID,
					Status:     StatusPending,
					AddedBy:    in.ActorID,
				}
				if err := tx.InsertApproval(ctx, &rec); err != nil {
					return fmt.Errorf("insert %s approval for %s %s: %w", lvl.Name, in.Kind, in.ParentID, err)
				}
				records = append(records, rec)
			}
		}

		status := spec.FirstStatus()
		if err := tx.SaveParentStatus(ctx, in.Kind, in.ParentID, status); err != nil {
			return fmt.Errorf("save %s %s status: %w", in.Kind, in.ParentID, err)
		}
		parent.Status = status
		hist = &History{Parent: *parent, Approvals: records}
		return nil
	})
	if err != nil {
		return nil, err
	}

	approvers := make([]string, 0, len(hist.Approvals))
	for _, r := range hist.Approvals {
		approvers = append(approvers, r.Level+":"+r.ApproverID)
	}
	s.emit(ctx, audit.Event{
		Action:       "approval.chain_started",
		ResourceType: string(in.Kind),
		ResourceID:   in.ParentID,
		Actor:        in.ActorID,
		Description:  fmt.Sprintf("%s started approvals on %s", in.ActorID, describe(in.Kind, hist.Parent)),
		Before:       map[string]any{"status": workflow.StatusDraft},
		After:        map[string]any{"status": hist.Parent.Status, "approvers": approvers},
	})
	logger.Info("approval chain started",
		zap.String("parent_kind", string(in.Kind)),
		zap.String("parent_id", in.ParentID),
		zap.String("actor", in.ActorID),
		zap.Int("records", len(hist.Approvals)),
	)
	return hist, nil
}

// resolveLevel returns the approvers for one canonical level, in a stable order.
func (s *Service) resolveLevel(ctx context.Context, sc scope, lvl workflow.LevelSpec, parent *Parent, assigned []string) ([]string, error) {
	var ids []string
	switch {
	case len(assigned) > 0:
		ids = assigned
	case lvl.Assigned:
		return nil, sc.err(ErrValidation, CodeMissingApprover, "level %s needs an explicitly assigned approver", lvl.Name)
	case lvl.Name == workflow.LevelDeptHead:
		depts := parent.DepartmentIDs
		if len(depts) == 0 && parent.DepartmentID != "" {
			depts = []string{parent.DepartmentID}
		}
		if len(depts) == 0 {
			return nil, sc.err(ErrValidation, CodeMissingApprover, "%s has no department", sc.kind)
		}
		for _, dept := range depts {
			head, err := s.dir.DepartmentHead(ctx, dept)
			if err != nil {
				return nil, fmt.Errorf("department head for %s: %w", dept, err)
			}
			if head == "" {
				return nil, sc.err(ErrValidation, CodeMissingApprover, "department %s has no head", dept)
			}
			ids = append(ids, head)
		}
	default:
		users, err := s.dir.FindApprovers(ctx, "", lvl.Permission())
		if err != nil {
			return nil, fmt.Errorf("find %s approvers: %w", lvl.Name, err)
		}
		if len(users) == 0 {
			return nil, sc.err(ErrValidation, CodeMissingApprover, "no active user holds %s", lvl.Permission())
		}
		ids = []string{users[0].ID}
	}

	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, sc.err(ErrValidation, CodeMissingApprover, "level %s has no approver", lvl.Name)
	}
	for _, id := range ids {
		active, err := s.dir.IsActive(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("check approver %s: %w", id, err)
		}
		if !active {
			return nil, sc.err(ErrValidation, CodeInactiveApprover, "approver %s is not an active user", id)
		}
	}
	return ids, nil
}

// dedupe trims, drops empties and removes repeats. One person heading two departments signs once.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
