package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"bizops/internal/workflow"
	"bizops/pkg/db"
)

// Repository is the Postgres Store.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

type parentTable struct {
	table  string
	name   string
	amount string
}

// Table and column names are fixed here and never taken from input.
var parentTables = map[workflow.Kind]parentTable{
	workflow.KindRequest: {table: "requests", name: "t.title", amount: "t.amount"},
	workflow.KindProject: {table: "projects", name: "t.name", amount: "t.budget"},
	workflow.KindPayroll: {
		table:  "payrolls",
		name:   "t.period",
		amount: "COALESCE((SELECT SUM(e.net_amount) FROM payroll_entries e WHERE e.payroll_id = t.id), 0)",
	},
	workflow.KindPayment: {table: "payments", name: "t.reference", amount: "t.amount"},
}

func tableFor(kind workflow.Kind) (parentTable, error) {
	pt, ok := parentTables[kind]
	if !ok {
		return parentTable{}, fmt.Errorf("%w: %q", workflow.ErrUnknownKind, kind)
	}
	return pt, nil
}

func (r *Repository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(pgTx{tx: tx})
	})
}

func (r *Repository) LoadParent(ctx context.Context, kind workflow.Kind, id string) (*Parent, error) {
	return loadParent(ctx, r.db, kind, id)
}

func (r *Repository) ListApprovals(ctx context.Context, kind workflow.Kind, parentID string) ([]Record, error) {
	return listApprovals(ctx, r.db, kind, parentID, false)
}

func (r *Repository) ListPendingByApprover(ctx context.Context, approverID string) ([]Record, error) {
	q := `SELECT ` + recordColumns + `
FROM approvals
WHERE approver_id = $1 AND status = 'pending'
ORDER BY seq ASC
`
	rows, err := r.db.Query(ctx, q, approverID)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

type pgTx struct {
	tx pgx.Tx
}

// LockParent takes a row lock on the parent. Every write path locks the parent before it reads
// approvals, so actions on one parent run one at a time and always see each other's results.
func (t pgTx) LockParent(ctx context.Context, kind workflow.Kind, id string) (*Parent, error) {
	pt, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT id FROM %s WHERE id = $1 FOR UPDATE`, pt.table)
	var locked string
	if err := t.tx.QueryRow(ctx, q, id).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s %s: %w", kind, id, ErrParentMissing)
		}
		return nil, err
	}
	return loadParent(ctx, t.tx, kind, id)
}

func (t pgTx) ListApprovals(ctx context.Context, kind workflow.Kind, parentID string) ([]Record, error) {
	return listApprovals(ctx, t.tx, kind, parentID, true)
}

func (t pgTx) InsertApproval(ctx context.Context, rec *Record) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate approval id: %w", err)
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	const q = `
INSERT INTO approvals (id, parent_kind, parent_id, level, approver_id, status, can_add_approvers, delegated, added_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))
RETURNING seq, created_at
`
	var (
		seq     int64
		created time.Time
	)
	err = t.tx.QueryRow(ctx, q,
		id.String(), string(rec.ParentKind), rec.ParentID, rec.Level, rec.ApproverID,
		string(rec.Status), rec.CanAddApprovers, rec.Delegated, rec.AddedBy,
	).Scan(&seq, &created)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrDuplicatePending)
		}
		return err
	}
	rec.ID = id.String()
	rec.Seq = seq
	rec.CreatedAt = created.UTC()
	return nil
}

func (t pgTx) ResolveApproval(ctx context.Context, rec Record) error {
	const q = `
UPDATE approvals
SET status = $2,
    comments = NULLIF($3, ''),
    action_date = $4
WHERE id = $1 AND status = 'pending'
`
	tag, err := t.tx.Exec(ctx, q, rec.ID, string(rec.Status), rec.Comments, rec.ActionDate)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleRecord
	}
	return nil
}

func (t pgTx) SaveParentStatus(ctx context.Context, kind workflow.Kind, id string, status workflow.Status) error {
	pt, err := tableFor(kind)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`UPDATE %s SET status = $2, updated_at = NOW() WHERE id = $1`, pt.table)
	tag, err := t.tx.Exec(ctx, q, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrParentMissing)
	}
	return nil
}

func loadParent(ctx context.Context, q db.Querier, kind workflow.Kind, id string) (*Parent, error) {
	pt, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	var deptName string
	if kind == workflow.KindPayroll {
		deptName = `COALESCE((
    SELECT string_agg(DISTINCT d.name, ', ' ORDER BY d.name)
    FROM payroll_entries e JOIN departments d ON d.id = e.department_id
    WHERE e.payroll_id = t.id), '')`
	} else {
		deptName = `COALESCE((SELECT d.name FROM departments d WHERE d.id = t.department_id), '')`
	}
	deptID := `COALESCE(t.department_id, '')`
	if kind == workflow.KindPayroll {
		deptID = `''`
	}

	stmt := fmt.Sprintf(`
SELECT t.id, %s, (%s)::text, t.currency, t.status, %s, %s, COALESCE(t.created_by, '')
FROM %s t
WHERE t.id = $1
`, pt.name, pt.amount, deptID, deptName, pt.table)

	p := Parent{Kind: kind}
	var (
		amount string
		status string
	)
	if err := q.QueryRow(ctx, stmt, id).Scan(
		&p.ID, &p.Name, &amount, &p.Currency, &status, &p.DepartmentID, &p.DepartmentName, &p.CreatedBy,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s %s: %w", kind, id, ErrParentMissing)
		}
		return nil, err
	}
	p.Status = workflow.Status(status)
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse %s %s amount %q: %w", kind, id, amount, err)
	}

	if kind == workflow.KindPayroll {
		if p.DepartmentIDs, err = payrollDepartments(ctx, q, id); err != nil {
			return nil, err
		}
	} else if p.DepartmentID != "" {
		p.DepartmentIDs = []string{p.DepartmentID}
	}
	return &p, nil
}

func payrollDepartments(ctx context.Context, q db.Querier, payrollID string) ([]string, error) {
	const stmt = `SELECT DISTINCT department_id FROM payroll_entries WHERE payroll_id = $1 ORDER BY department_id`
	rows, err := q.Query(ctx, stmt, payrollID)
	if err != nil {
		return nil, fmt.Errorf("list payroll %s departments: %w", payrollID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

const recordColumns = `id, seq, parent_kind, parent_id, level, approver_id, status, COALESCE(comments, ''),
       action_date, can_add_approvers, delegated, COALESCE(added_by, ''), created_at`

func listApprovals(ctx context.Context, q db.Querier, kind workflow.Kind, parentID string, lock bool) ([]Record, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + recordColumns + `
FROM approvals
WHERE parent_kind = $1 AND parent_id = $2
ORDER BY seq ASC`)
	if lock {
		b.WriteString(`
FOR UPDATE`)
	}
	rows, err := q.Query(ctx, b.String(), string(kind), parentID)
	if err != nil {
		return nil, err
	}
	records, err := collectRecords(rows)
	if err != nil {
		return nil, err
	}
	return nonNil(records), nil
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec    Record
			kind   string
			status string
		)
		if err := rows.Scan(
			&rec.ID, &rec.Seq, &kind, &rec.ParentID, &rec.Level, &rec.ApproverID, &status, &rec.Comments,
			&rec.ActionDate, &rec.CanAddApprovers, &rec.Delegated, &rec.AddedBy, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.ParentKind = workflow.Kind(kind)
		rec.Status = Status(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}
