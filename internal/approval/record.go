package approval

import (
	"time"

	"github.com/shopspring/decimal"

	"bizops/internal/workflow"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func resolvedStatus(a workflow.Action) Status {
	if a == workflow.ActionReject {
		return StatusRejected
	}
	return StatusApproved
}

// Record is one decision point in a parent's approval chain.
type Record struct {
	ID              string        `json:"id"`
	ParentKind      workflow.Kind `json:"parentKind"`
	ParentID        string        `json:"parentId"`
	Level           string        `json:"level"`
	ApproverID      string        `json:"approverId"`
	Status          Status        `json:"status"`
	Comments        string        `json:"comments,omitempty"`
	ActionDate      *time.Time    `json:"actionDate,omitempty"`
	CanAddApprovers bool          `json:"canAddApprovers"`
	// Delegated records were inserted by addApprover and never gate the canonical chain.
	Delegated bool      `json:"delegated"`
	AddedBy   string    `json:"addedBy,omitempty"`
	Seq       int64     `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// Parent is the owning entity as the engine sees it.
type Parent struct {
	Kind           workflow.Kind   `json:"kind"`
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Status         workflow.Status `json:"status"`
	DepartmentID   string          `json:"departmentId,omitempty"`
	DepartmentName string          `json:"departmentName,omitempty"`
	// DepartmentIDs are the departments whose heads sign the dept_head level.
	// For payroll these come from its entries; other kinds carry their own department.
	DepartmentIDs []string `json:"-"`
	CreatedBy     string   `json:"createdBy,omitempty"`
}

// History is a parent with every approval record in creation order.
type History struct {
	Parent    Parent   `json:"parent"`
	Approvals []Record `json:"approvals"`
}

// ParentSummary is the slice of a parent the worklist needs to render a row.
type ParentSummary struct {
	Kind       workflow.Kind   `json:"kind"`
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Status     workflow.Status `json:"status"`
	Department string          `json:"department,omitempty"`
}

func (p Parent) Summary() ParentSummary {
	return ParentSummary{
		Kind:       p.Kind,
		ID:         p.ID,
		Name:       p.Name,
		Amount:     p.Amount,
		Currency:   p.Currency,
		Status:     p.Status,
		Department: p.DepartmentName,
	}
}

// WorkItem is one row of an approver's unified worklist.
type WorkItem struct {
	Approval Record        `json:"approval"`
	Parent   ParentSummary `json:"parent"`
}
