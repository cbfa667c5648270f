package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"bizops/internal/approval"
	"bizops/internal/audit"
	"bizops/internal/directory"
	"bizops/internal/workflow"
	"bizops/pkg/config"
	"bizops/pkg/db"
	"bizops/pkg/logger"
)

// devflow walks the request and payroll approval scenarios end to end and prints every chain.
//
// -store=memory (default) needs nothing. -store=db seeds demo rows into the configured database
// and runs the same steps through the Postgres repositories.
func main() {
	var (
		storeKind = flag.String("store", "memory", "memory or db")
		verbose   = flag.Bool("v", false, "log engine events to stderr")
	)
	flag.Parse()

	if *verbose {
		if err := logger.Init("debug", "console"); err != nil {
			fmt.Fprintf(os.Stderr, "logger: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = logger.Sync() }()
	}

	ctx := context.Background()
	var (
		engine *approval.Service
		suffix = fmt.Sprintf("%d", time.Now().Unix())
	)
	switch *storeKind {
	case "memory":
		engine = memoryEngine(suffix)
	case "db":
		cfg := config.Load()
		pool, err := db.Open(ctx, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "db open: %v\n", err)
			os.Exit(1)
		}
		defer pool.Close()
		if cfg.MigrationsPath != "" {
			if err := db.MigrateConfig(cfg.MigrationsPath, cfg); err != nil {
				fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
				os.Exit(1)
			}
		}
		if err := seed(ctx, pool, suffix); err != nil {
			fmt.Fprintf(os.Stderr, "seed: %v\n", err)
			os.Exit(1)
		}
		emitter, err := audit.NewEmitter(audit.NewRepository(pool), 2, 5*time.Second)
		if err != nil {
			fmt.Fprintf(os.Stderr, "audit: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = emitter.Close(5 * time.Second) }()
		engine = approval.NewService(approval.NewRepository(pool), directory.NewRepository(pool), emitter)
	default:
		fmt.Fprintf(os.Stderr, "unknown -store %q\n", *storeKind)
		os.Exit(2)
	}

	if err := run(ctx, engine, suffix); err != nil {
		fmt.Fprintf(os.Stderr, "devflow failed: %v\n", err)
		os.Exit(1)
	}
}

type step struct {
	label  string
	kind   workflow.Kind
	parent string
	actor  string
	level  string
	action workflow.Action
}

func run(ctx context.Context, engine *approval.Service, suffix string) error {
	req, pay := "req-"+suffix, "pay-"+suffix

	for _, p := range []struct {
		kind workflow.Kind
		id   string
	}{{workflow.KindRequest, req}, {workflow.KindPayroll, pay}} {
		h, err := engine.StartChain(ctx, approval.StartInput{Kind: p.kind, ParentID: p.id, ActorID: "u-admin"})
		if err != nil {
			return fmt.Errorf("start %s: %w", p.kind, err)
		}
		printHistory("started", h)
	}

	steps := []step{
		{"request: dept head approves", workflow.KindRequest, req, "u-head-eng", "dept_head", workflow.ActionApprove},
		{"request: admin head rejects", workflow.KindRequest, req, "u-admin", "admin_head", workflow.ActionReject},
		{"payroll: engineering head approves", workflow.KindPayroll, pay, "u-head-eng", "dept_head", workflow.ActionApprove},
		{"payroll: sales head approves", workflow.KindPayroll, pay, "u-head-sales", "dept_head", workflow.ActionApprove},
		{"payroll: engineering head approves again", workflow.KindPayroll, pay, "u-head-eng", "dept_head", workflow.ActionApprove},
	}
	for _, s := range steps {
		h, err := engine.SubmitAction(ctx, approval.ActionInput{
			Kind: s.kind, ParentID: s.parent, ActorID: s.actor, Level: s.level, Action: s.action,
		})
		if err != nil {
			if appErr, ok := approval.AsError(err); ok {
				fmt.Printf("\n== %s\n   refused: %s (%s)\n", s.label, appErr.Code, appErr.Message)
				continue
			}
			return fmt.Errorf("%s: %w", s.label, err)
		}
		printHistory(s.label, h)
	}

	rec, err := engine.AddApprover(ctx, approval.DelegateInput{
		Kind: workflow.KindPayroll, ParentID: pay, ActorID: "u-admin", NewApproverID: "u-auditor", Level: "compliance",
	})
	if err != nil {
		return fmt.Errorf("add approver: %w", err)
	}
	fmt.Printf("\n== delegated %s to %s (record %s)\n", rec.Level, rec.ApproverID, rec.ID)

	items, err := engine.Worklist(ctx, approval.WorklistQuery{ActorID: "u-admin"})
	if err != nil {
		return fmt.Errorf("worklist: %w", err)
	}
	fmt.Printf("\n== worklist for u-admin (%d)\n", len(items))
	for _, it := range items {
		fmt.Printf("   %-8s %-20s %-12s level=%s amount=%s %s\n",
			it.Parent.Kind, it.Parent.Name, it.Parent.Status, it.Approval.Level, it.Parent.Amount.StringFixed(2), it.Parent.Currency)
	}
	return nil
}

func printHistory(label string, h *approval.History) {
	fmt.Printf("\n== %s\n   %s %s %q status=%s\n", label, h.Parent.Kind, h.Parent.ID, h.Parent.Name, h.Parent.Status)
	for _, r := range h.Approvals {
		when := ""
		if r.ActionDate != nil {
			when = r.ActionDate.Format(time.RFC3339)
		}
		fmt.Printf("   - %-12s %-14s %-9s %s\n", r.Level, r.ApproverID, r.Status, when)
	}
}

type demoUser struct {
	id, name, dept string
	perms          []string
}

var demoUsers = []demoUser{
	{id: "u-head-eng", name: "Ada Lovelace", dept: "d-eng"},
	{id: "u-head-sales", name: "Grace Hopper", dept: "d-sales"},
	{id: "u-admin", name: "Alan Turing", perms: []string{"approve_admin_head", directory.PermManageApprovers}},
	{id: "u-accountant", name: "Katherine Johnson", perms: []string{"approve_accountant"}},
	{id: "u-auditor", name: "Edsger Dijkstra"},
}

func memoryEngine(suffix string) *approval.Service {
	dir := directory.NewStatic()
	for _, u := range demoUsers {
		dir.AddUser(directory.User{ID: u.id, Name: u.name, Email: emailFor(u.id), DepartmentID: u.dept, Active: true}, u.perms...)
	}
	dir.SetHead("d-eng", "u-head-eng")
	dir.SetHead("d-sales", "u-head-sales")

	store := approval.NewMemoryStore()
	store.PutParent(approval.Parent{
		Kind: workflow.KindRequest, ID: "req-" + suffix, Name: "Standing desks",
		Amount: decimal.RequireFromString("1800"), Currency: "USD",
		DepartmentID: "d-eng", DepartmentName: "Engineering",
	})
	store.PutParent(approval.Parent{
		Kind: workflow.KindPayroll, ID: "pay-" + suffix, Name: time.Now().Format("2006-01"),
		Amount: decimal.RequireFromString("64250.75"), Currency: "USD",
		DepartmentIDs: []string{"d-eng", "d-sales"}, DepartmentName: "Engineering, Sales",
	})
	return approval.NewService(store, dir, nil)
}

type stmt struct {
	sql  string
	args []any
}

func seed(ctx context.Context, pool *pgxpool.Pool, suffix string) error {
	stmts := []stmt{
		{sql: `INSERT INTO departments (id, name) VALUES ('d-eng', 'Engineering'), ('d-sales', 'Sales') ON CONFLICT (id) DO NOTHING`},
	}
	for _, u := range demoUsers {
		stmts = append(stmts, stmt{
			sql:  `INSERT INTO users (id, name, email, department_id, active) VALUES ($1, $2, $3, NULLIF($4, ''), TRUE) ON CONFLICT (id) DO NOTHING`,
			args: []any{u.id, u.name, emailFor(u.id), u.dept},
		})
		for _, p := range u.perms {
			stmts = append(stmts, stmt{
				sql:  `INSERT INTO user_permissions (user_id, permission) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				args: []any{u.id, p},
			})
		}
	}
	period := time.Now().Format("2006-01")
	stmts = append(stmts,
		stmt{sql: `UPDATE departments SET head_user_id = CASE id WHEN 'd-eng' THEN 'u-head-eng' ELSE 'u-head-sales' END WHERE id IN ('d-eng', 'd-sales')`},
		stmt{
			sql:  `INSERT INTO requests (id, title, amount, department_id, created_by) VALUES ($1, 'Standing desks', 1800, 'd-eng', 'u-admin')`,
			args: []any{"req-" + suffix},
		},
		stmt{
			sql:  `INSERT INTO payrolls (id, period, created_by) VALUES ($1, $2, 'u-admin')`,
			args: []any{"pay-" + suffix, period},
		},
		stmt{
			sql: `INSERT INTO payroll_entries (id, payroll_id, user_id, department_id, net_amount) VALUES
  ($1 || '-1', $1, 'u-head-eng', 'd-eng', 32100.25),
  ($1 || '-2', $1, 'u-head-sales', 'd-sales', 32150.50)`,
			args: []any{"pay-" + suffix},
		},
	)

	return db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		for _, s := range stmts {
			if _, err := tx.Exec(ctx, s.sql, s.args...); err != nil {
				return fmt.Errorf("%s: %w", strings.SplitN(s.sql, "(", 2)[0], err)
			}
		}
		return nil
	})
}

func emailFor(id string) string {
	return strings.TrimPrefix(id, "u-") + "@example.com"
}
