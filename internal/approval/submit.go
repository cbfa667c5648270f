package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"bizops/internal/audit"
	"bizops/internal/workflow"
	"bizops/pkg/logger"
)

// ActionInput is one approve/reject submission. Level is optional; when set it must match the
// actor's pending record exactly.
type ActionInput struct {
	Kind     workflow.Kind
	ParentID string
	ActorID  string
	Level    string
	Action   workflow.Action
	Comments string
}

// SubmitAction resolves the actor's pending record on a parent and moves the parent's status.
//
// The parent row is locked first, so every check below runs against data read inside the same
// transaction as the write. Concurrent actions on one parent are serialised; the loser of a
// double submit sees the record already resolved and gets AlreadyProcessed.
func (s *Service) SubmitAction(ctx context.Context, in ActionInput) (*History, error) {
	in.ActorID = strings.TrimSpace(in.ActorID)
	in.Level = strings.TrimSpace(in.Level)
	sc := scope{kind: in.Kind, parentID: in.ParentID, level: in.Level}
	spec, err := workflow.SpecFor(in.Kind)
	if err != nil {
		return nil, sc.invalid("%v", err)
	}
	switch {
	case in.ActorID == "":
		return nil, sc.invalid("actor id is required")
	case strings.TrimSpace(in.ParentID) == "":
		return nil, sc.invalid("parent id is required")
	}
	if _, err := workflow.ParseAction(string(in.Action)); err != nil {
		return nil, sc.invalid("%v", err)
	}

	var (
		hist          *History
		before, after Record
		from          workflow.Status
	)
	err = s.store.InTx(ctx, func(tx Tx) error {
		parent, err := s.lockParent(ctx, tx, sc)
		if err != nil {
			return err
		}
		records, err := tx.ListApprovals(ctx, in.Kind, in.ParentID)
		if err != nil {
			return fmt.Errorf("list approvals for %s %s: %w", in.Kind, in.ParentID, err)
		}

		idx, err := selectRecord(sc, spec, parent.Status, in.ActorID, records)
		if err != nil {
			return err
		}
		rec := records[idx]
		sc = sc.at(rec.Level)

		if spec.IsTerminal(parent.Status) {
			return sc.err(ErrAlreadyProcessed, CodeChainFinalized, "%s is already %s", in.Kind, parent.Status)
		}

		level := spec.Classify(rec.Level, rec.Delegated)
		outstanding := 0
		if level.Canonical() {
			for _, r := range records {
				if r.ID != rec.ID && !r.Delegated && r.Level == rec.Level && r.Status == StatusPending {
					outstanding++
				}
			}
		}

		decision, err := spec.Next(parent.Status, level, in.Action, outstanding)
		if err != nil {
			switch {
			case errors.Is(err, workflow.ErrOutOfSequence):
				return sc.err(ErrOutOfSequence, CodeOutOfSequence, "%s is waiting on %s", in.Kind, parent.Status)
			case errors.Is(err, workflow.ErrTerminal):
				return sc.err(ErrAlreadyProcessed, CodeChainFinalized, "%s is already %s", in.Kind, parent.Status)
			default:
				return fmt.Errorf("compute next status for %s %s: %w", in.Kind, in.ParentID, err)
			}
		}

		before = rec
		now := s.now().UTC()
		rec.Status = resolvedStatus(in.Action)
		rec.ActionDate = &now
		rec.Comments = strings.TrimSpace(in.Comments)
		if err := tx.ResolveApproval(ctx, rec); err != nil {
			if errors.Is(err, ErrStaleRecord) {
				return sc.err(ErrAlreadyProcessed, CodeAlreadyProcessed, "approval was already processed")
			}
			return fmt.Errorf("save approval %s: %w", rec.ID, err)
		}
		records[idx] = rec
		after = rec

		from = parent.Status
		if decision.Status != parent.Status {
			if err := tx.SaveParentStatus(ctx, in.Kind, in.ParentID, decision.Status); err != nil {
				return fmt.Errorf("save %s %s status: %w", in.Kind, in.ParentID, err)
			}
			parent.Status = decision.Status
		}

		hist = &History{Parent: *parent, Approvals: records}
		return nil
	})
	if err != nil {
		return nil, err
	}

	verb := "approved"
	if in.Action == workflow.ActionReject {
		verb = "rejected"
	}
	s.emit(ctx, audit.Event{
		Action:       "approval." + verb,
		ResourceType: string(in.Kind),
		ResourceID:   in.ParentID,
		Actor:        in.ActorID,
		Description: fmt.Sprintf("%s %s %s at level %s (status %s -> %s)",
			in.ActorID, verb, describe(in.Kind, hist.Parent), after.Level, from, hist.Parent.Status),
		Before:     snapshotOf(before),
		After:      snapshotOf(after),
		OccurredAt: *after.ActionDate,
	})
	logger.Info("approval action recorded",
		zap.String("parent_kind", string(in.Kind)),
		zap.String("parent_id", in.ParentID),
		zap.String("level", after.Level),
		zap.String("actor", in.ActorID),
		zap.String("action", string(in.Action)),
		zap.String("from", string(from)),
		zap.String("to", string(hist.Parent.Status)),
	)
	return hist, nil
}

// selectRecord finds the actor's pending record, or explains precisely why there is none.
func selectRecord(sc scope, spec workflow.Spec, current workflow.Status, actorID string, records []Record) (int, error) {
	var mine, minePending []int
	for i, r := range records {
		if r.ApproverID != actorID {
			continue
		}
		mine = append(mine, i)
		if r.Status == StatusPending {
			minePending = append(minePending, i)
		}
	}

	if sc.level != "" {
		for _, i := range minePending {
			if records[i].Level == sc.level {
				return i, nil
			}
		}
		for _, i := range mine {
			if records[i].Level == sc.level {
				return -1, sc.err(ErrAlreadyProcessed, CodeAlreadyProcessed, "approval was already %s", records[i].Status)
			}
		}
		for _, r := range records {
			if r.Level == sc.level {
				return -1, sc.err(ErrForbidden, CodeForbidden, "approval at this level belongs to another approver")
			}
		}
		// No record at that level at all: the caller is acting on a stale view.
		if len(minePending) > 0 {
			actual := records[minePending[0]].Level
			return -1, sc.err(ErrLevelMismatch, CodeLevelMismatch, "pending approval for this approver is at level %s", actual)
		}
		return -1, sc.err(ErrNotFound, CodeNotFound, "no approval at this level")
	}

	if len(minePending) > 0 {
		// Prefer the record the chain is waiting on; otherwise the oldest one.
		if cur, ok := spec.Current(current); ok {
			for _, i := range minePending {
				if records[i].Level == cur.Name() && !records[i].Delegated {
					return i, nil
				}
			}
		}
		return minePending[0], nil
	}
	if len(mine) > 0 {
		last := records[mine[len(mine)-1]]
		return -1, sc.at(last.Level).err(ErrAlreadyProcessed, CodeAlreadyProcessed, "approval was already %s", last.Status)
	}
	if len(records) > 0 {
		return -1, sc.err(ErrForbidden, CodeForbidden, "approvals on this %s belong to other approvers", sc.kind)
	}
	return -1, sc.err(ErrNotFound, CodeNotFound, "%s has no approvals", sc.kind)
}

func describe(kind workflow.Kind, p Parent) string {
	if p.Name == "" {
		return fmt.Sprintf("%s %s", kind, p.ID)
	}
	return fmt.Sprintf("%s %q", kind, p.Name)
}
