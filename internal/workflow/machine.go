package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownKind    = errors.New("unknown entity kind")
	ErrUnknownAction  = errors.New("unknown action")
	ErrInvalidStatus  = errors.New("status is not valid for this kind")
	ErrTerminal       = errors.New("chain already finalized")
	ErrOutOfSequence  = errors.New("level is not the current stage")
	ErrNegativeTotals = errors.New("outstanding approvals cannot be negative")
)

type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionApprove, ActionReject:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
}

// Decision is the outcome of applying one action to a parent status.
type Decision struct {
	Status   Status
	Terminal bool
}

// Next computes the parent's status after action is taken at level.
//
// outstanding is the number of other non-delegated approvals at the same canonical level that are
// still pending once this action is applied. It only matters for AllMustApprove levels.
//
// Rules:
// - reject always lands on the rejected terminal, whatever the level.
// - approving an ad hoc level leaves the status alone.
// - approving a canonical level must target the current stage, and advances to the next level
//   (or the success terminal after the last one) unless the level is still waiting on others.
func (s Spec) Next(current Status, level Level, action Action, outstanding int) (Decision, error) {
	if !s.Valid(current) {
		return Decision{}, fmt.Errorf("%w: %s %q", ErrInvalidStatus, s.Kind, current)
	}
	if s.IsTerminal(current) {
		return Decision{}, fmt.Errorf("%w: %s is %s", ErrTerminal, s.Kind, current)
	}
	if outstanding < 0 {
		return Decision{}, ErrNegativeTotals
	}

	switch action {
	case ActionReject:
		return Decision{Status: s.Rejected, Terminal: true}, nil
	case ActionApprove:
	default:
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	cl, ok := level.(CanonicalLevel)
	if !ok {
		return Decision{Status: current}, nil
	}

	cur, ok := s.Current(current)
	if !ok || cur.index != cl.index {
		return Decision{}, fmt.Errorf("%w: %s is %s, got %s", ErrOutOfSequence, s.Kind, current, cl.name)
	}

	if s.Levels[cl.index].AllMustApprove && outstanding > 0 {
		return Decision{Status: current}, nil
	}

	if cl.index == len(s.Levels)-1 {
		return Decision{Status: s.Success, Terminal: true}, nil
	}
	return Decision{Status: PendingStatus(s.Levels[cl.index+1].Name)}, nil
}

// NextStatus is Next keyed by kind and a raw level name.
func NextStatus(kind Kind, current Status, level string, delegated bool, action Action, outstanding int) (Status, bool, error) {
	spec, err := SpecFor(kind)
	if err != nil {
		return "", false, err
	}
	d, err := spec.Next(current, spec.Classify(level, delegated), action, outstanding)
	if err != nil {
		return "", false, err
	}
	return d.Status, d.Terminal, nil
}
