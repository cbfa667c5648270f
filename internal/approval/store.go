package approval

import (
	"context"
	"errors"

	"bizops/internal/audit"
	"bizops/internal/directory"
	"bizops/internal/workflow"
)

// Storage-level sentinels. Implementations wrap them; the engine translates them into *Error.
var (
	ErrParentMissing = errors.New("parent entity not found")
	// ErrStaleRecord means the record left pending between read and write.
	ErrStaleRecord = errors.New("approval record is no longer pending")
	// ErrDuplicatePending means the (parent, level, approver) triple already has a pending record.
	ErrDuplicatePending = errors.New("approver already pending at this level")
)

// Store is the Approval Record Store plus the parent-status accessors the engine needs.
type Store interface {
	// InTx runs fn atomically. Either every write made through tx persists or none does.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	LoadParent(ctx context.Context, kind workflow.Kind, id string) (*Parent, error)
	ListApprovals(ctx context.Context, kind workflow.Kind, parentID string) ([]Record, error)
	ListPendingByApprover(ctx context.Context, approverID string) ([]Record, error)
}

// Tx is the locked view used by the write paths.
type Tx interface {
	// LockParent loads the parent and holds it against concurrent actions until the tx ends.
	LockParent(ctx context.Context, kind workflow.Kind, id string) (*Parent, error)
	// ListApprovals returns the parent's records in creation order.
	ListApprovals(ctx context.Context, kind workflow.Kind, parentID string) ([]Record, error)
	// InsertApproval fills in ID, Seq and CreatedAt.
	InsertApproval(ctx context.Context, rec *Record) error
	// ResolveApproval writes a pending record's outcome and returns ErrStaleRecord if it was not pending.
	ResolveApproval(ctx context.Context, rec Record) error
	SaveParentStatus(ctx context.Context, kind workflow.Kind, id string, status workflow.Status) error
}

// Directory is the Approver Directory.
type Directory interface {
	IsActive(ctx context.Context, userID string) (bool, error)
	HasPermission(ctx context.Context, userID, permission string) (bool, error)
	FindApprovers(ctx context.Context, search, permission string) ([]directory.User, error)
	DepartmentHead(ctx context.Context, departmentID string) (string, error)
}

// Auditor receives events fire-and-forget. It must not block and never reports failure.
type Auditor interface {
	Record(ctx context.Context, ev audit.Event)
}
