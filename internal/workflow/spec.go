package workflow

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindRequest Kind = "request"
	KindProject Kind = "project"
	KindPayroll Kind = "payroll"
	KindPayment Kind = "payment"
)

type Status string

const (
	StatusDraft    Status = "draft"
	StatusApproved Status = "approved"
	StatusPaid     Status = "paid"
	StatusRejected Status = "rejected"
)

const pendingPrefix = "pending_"

// PendingStatus is the parent status that names level as the next unresolved stage.
func PendingStatus(level string) Status {
	return Status(pendingPrefix + level)
}

// PendingLevel reports the level named by a pending_<level> status.
func PendingLevel(s Status) (string, bool) {
	if !strings.HasPrefix(string(s), pendingPrefix) {
		return "", false
	}
	level := strings.TrimPrefix(string(s), pendingPrefix)
	return level, level != ""
}

// Canonical level names.
const (
	LevelDeptHead   = "dept_head"
	LevelAdminHead  = "admin_head"
	LevelAccountant = "accountant"
	LevelDirector   = "director"
	LevelCEO        = "ceo"
	LevelApprover   = "approver"
)

// LevelSpec describes one canonical stage.
type LevelSpec struct {
	Name string
	// AllMustApprove holds the chain at this level until every approver assigned to it has approved.
	AllMustApprove bool
	// Assigned marks levels whose approver is chosen by the entity's creator instead of the directory.
	Assigned bool
}

// Permission is what a directory user must hold to be picked as the default approver for the level.
func (l LevelSpec) Permission() string {
	return "approve_" + l.Name
}

// Spec is the per-kind workflow definition: ordered canonical levels plus terminal states.
type Spec struct {
	Kind     Kind
	Levels   []LevelSpec
	Success  Status
	Rejected Status
}

var specs = map[Kind]Spec{
	KindRequest: {
		Kind:     KindRequest,
		Levels:   []LevelSpec{{Name: LevelDeptHead}, {Name: LevelAdminHead}},
		Success:  StatusApproved,
		Rejected: StatusRejected,
	},
	KindProject: {
		Kind:     KindProject,
		Levels:   []LevelSpec{{Name: LevelDirector}, {Name: LevelCEO}},
		Success:  StatusApproved,
		Rejected: StatusRejected,
	},
	KindPayroll: {
		Kind: KindPayroll,
		Levels: []LevelSpec{
			{Name: LevelDeptHead, AllMustApprove: true},
			{Name: LevelAdminHead},
			{Name: LevelAccountant},
		},
		Success:  StatusApproved,
		Rejected: StatusRejected,
	},
	KindPayment: {
		Kind:     KindPayment,
		Levels:   []LevelSpec{{Name: LevelApprover, Assigned: true}, {Name: LevelAccountant}},
		Success:  StatusPaid,
		Rejected: StatusRejected,
	},
}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := specs[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Kinds lists every supported kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindRequest, KindProject, KindPayroll, KindPayment}
}

func SpecFor(kind Kind) (Spec, error) {
	s, ok := specs[kind]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return s, nil
}

func (s Spec) index(level string) int {
	for i, l := range s.Levels {
		if l.Name == level {
			return i
		}
	}
	return -1
}

// Level returns the canonical level spec by name.
func (s Spec) Level(name string) (LevelSpec, bool) {
	if i := s.index(name); i >= 0 {
		return s.Levels[i], true
	}
	return LevelSpec{}, false
}

// Classify tags a stored level. Delegated records are always ad hoc, even when they reuse a canonical name.
func (s Spec) Classify(name string, delegated bool) Level {
	if i := s.index(name); i >= 0 && !delegated {
		return CanonicalLevel{name: name, index: i}
	}
	return AdHocLevel{name: name}
}

// FirstStatus is the status a parent takes when its chain starts.
func (s Spec) FirstStatus() Status {
	return PendingStatus(s.Levels[0].Name)
}

func (s Spec) IsTerminal(st Status) bool {
	return st == s.Success || st == s.Rejected
}

// Valid reports whether st is a status this kind can hold.
func (s Spec) Valid(st Status) bool {
	if st == StatusDraft || s.IsTerminal(st) {
		return true
	}
	level, ok := PendingLevel(st)
	return ok && s.index(level) >= 0
}

// Current returns the canonical level the parent is waiting on.
func (s Spec) Current(st Status) (CanonicalLevel, bool) {
	level, ok := PendingLevel(st)
	if !ok {
		return CanonicalLevel{}, false
	}
	i := s.index(level)
	if i < 0 {
		return CanonicalLevel{}, false
	}
	return CanonicalLevel{name: level, index: i}, true
}
