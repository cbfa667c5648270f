package approval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"bizops/internal/audit"
	"bizops/internal/directory"
	"bizops/internal/workflow"
	"bizops/pkg/logger"
)

type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *recordingAuditor) Record(_ context.Context, ev audit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

func (a *recordingAuditor) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, ev := range a.events {
		out = append(out, ev.Action)
	}
	return out
}

type fixture struct {
	svc     *Service
	store   *MemoryStore
	dir     *directory.Static
	auditor *recordingAuditor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := directory.NewStatic()
	dir.AddUser(directory.User{ID: "head-a", Name: "Ada Head", Email: "ada@example.com", DepartmentID: "dept-a", Active: true})
	dir.AddUser(directory.User{ID: "head-b", Name: "Bea Head", Email: "bea@example.com", DepartmentID: "dept-b", Active: true})
	dir.AddUser(directory.User{ID: "admin", Name: "Amir Admin", Email: "amir@example.com", Active: true}, "approve_admin_head")
	dir.AddUser(directory.User{ID: "acct", Name: "Cleo Accounts", Email: "cleo@example.com", Active: true}, "approve_accountant")
	dir.AddUser(directory.User{ID: "director", Name: "Dara Director", Email: "dara@example.com", Active: true}, "approve_director")
	dir.AddUser(directory.User{ID: "ceo", Name: "Eli Chief", Email: "eli@example.com", Active: true}, "approve_ceo")
	dir.AddUser(directory.User{ID: "manager", Name: "Mo Manager", Email: "mo@example.com", Active: true}, directory.PermManageApprovers)
	dir.AddUser(directory.User{ID: "adder", Name: "Ann Adder", Email: "ann@example.com", Active: true}, directory.PermAddApprovers)
	dir.AddUser(directory.User{ID: "reviewer", Name: "Rae Review", Email: "rae@example.com", Active: true})
	dir.AddUser(directory.User{ID: "reviewer2", Name: "Ray Review", Email: "ray@example.com", Active: true})
	dir.AddUser(directory.User{ID: "outsider", Name: "Oz Outsider", Email: "oz@example.com", Active: true})
	dir.AddUser(directory.User{ID: "gone", Name: "Gus Gone", Email: "gus@example.com", Active: false})
	dir.SetHead("dept-a", "head-a")
	dir.SetHead("dept-b", "head-b")

	store := NewMemoryStore()
	store.PutParent(Parent{
		Kind: workflow.KindRequest, ID: "req-1", Name: "Laptop refresh",
		Amount: decimal.RequireFromString("2400.00"), Currency: "USD",
		DepartmentID: "dept-a", DepartmentName: "Engineering",
	})
	store.PutParent(Parent{
		Kind: workflow.KindProject, ID: "prj-1", Name: "New warehouse",
		Amount: decimal.RequireFromString("150000"), Currency: "USD", DepartmentID: "dept-b",
	})
	store.PutParent(Parent{
		Kind: workflow.KindPayroll, ID: "pay-1", Name: "2026-09",
		Amount: decimal.RequireFromString("98000.50"), Currency: "USD",
		DepartmentIDs: []string{"dept-a", "dept-b"}, DepartmentName: "Engineering, Sales",
	})
	store.PutParent(Parent{
		Kind: workflow.KindPayment, ID: "pmt-1", Name: "INV-0042",
		Amount: decimal.RequireFromString("1200"), Currency: "EUR", DepartmentID: "dept-a",
	})

	auditor := &recordingAuditor{}
	svc := NewService(store, dir, auditor)
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
	return &fixture{svc: svc, store: store, dir: dir, auditor: auditor}
}

func (f *fixture) start(t *testing.T, kind workflow.Kind, id string, assignments map[string][]string) *History {
	t.Helper()
	h, err := f.svc.StartChain(context.Background(), StartInput{Kind: kind, ParentID: id, ActorID: "manager", Assignments: assignments})
	require.NoError(t, err)
	return h
}

func (f *fixture) act(kind workflow.Kind, id, actor, level string, action workflow.Action) (*History, error) {
	return f.svc.SubmitAction(context.Background(), ActionInput{
		Kind: kind, ParentID: id, ActorID: actor, Level: level, Action: action,
	})
}

func (f *fixture) history(t *testing.T, kind workflow.Kind, id string) *History {
	t.Helper()
	h, err := f.svc.History(context.Background(), kind, id)
	require.NoError(t, err)
	return h
}

func recordAt(t *testing.T, h *History, level, approver string) Record {
	t.Helper()
	for _, r := range h.Approvals {
		if r.Level == level && r.ApproverID == approver {
			return r
		}
	}
	t.Fatalf("no %s record for %s", level, approver)
	return Record{}
}

func requireAppError(t *testing.T, err error, kind error, code string) *Error {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, kind)
	appErr, ok := AsError(err)
	require.True(t, ok, "expected *Error, got %T: %v", err, err)
	assert.Equal(t, code, appErr.Code)
	return appErr
}

func TestSubmitAction_RequestApproveThenReject(t *testing.T) {
	f := newFixture(t)
	f.start(t, workflow.KindRequest, "req-1", nil)

	h, err := f.act(workflow.KindRequest, "req-1", "head-a", "dept_head", workflow.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, workflow.Status("pending_admin_head"), h.Parent.Status)

	dept := recordAt(t, h, "dept_head", "head-a")
	assert.Equal(t, StatusApproved, dept.Status)
	require.NotNil(t, dept.ActionDate)
	assert.Equal(t, StatusPending, recordAt(t, h, "admin_head", "admin").Status)

	h, err = f.act(workflow.KindRequest, "req-1", "admin", "admin_head", workflow.ActionReject)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusRejected, h.Parent.Status)
	assert.Equal(t, StatusRejected, recordAt(t, h, "admin_head", "admin").Status)

	after := recordAt(t, h, "dept_head", "head-a")
	assert.Equal(t, StatusApproved, after.Status)
	assert.Equal(t, dept.ActionDate, after.ActionDate)

	assert.Equal(t, []string{"approval.chain_started", "approval.approved", "approval.rejected"}, f.auditor.actions())
}

func TestSubmitAction_FullChainsReachSuccess(t *testing.T) {
	f := newFixture(t)

	f.start(t, workflow.KindProject, "prj-1", nil)
	_, err := f.act(workflow.KindProject, "prj-1", "director", "", workflow.ActionApprove)
	require.NoError(t, err)
	h, err := f.act(workflow.KindProject, "prj-1", "ceo", "", workflow.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusApproved, h.Parent.Status)

	f.start(t, workflow.KindPayment, "pmt-1", map[string][]string{"approver": {"reviewer"}})
	h, err = f.act(workflow.KindPayment, "pmt-1", "reviewer", "approver", workflow.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, workflow.Status("pending_accountant"), h.Parent.Status)
	h, err = f.act(workflow.KindPayment, "pmt-1", "acct", "accountant", workflow.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPaid, h.Parent.Status)
}

func TestSubmitAction_PayrollWaitsForEveryDepartmentHead(t *testing.T) {
	f := newFixture(t)
	h := f.start(t, workflow.KindPayroll, "pay-1", nil)
	require.Len(t, h.Approvals, 4)

	h, err := f.act(workflow.KindPayroll, "pay-1", "head-a", "dept_head", workflow.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, workflow.Status("pending_dept_head"), h.Parent.Status)

	h, err = f.act(workflow.KindPayroll, "pay-1", "head-b", "dept_head", workflow.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, workflow.Status("pending_admin_head"), h.Parent.Status)

	_, err = f.act(workflow.KindPayroll, "pay-1", "admin", "", workflow.ActionApprove)
	require.NoError(t, err)
	h, err = f.act(workflow.KindPayroll, "pay-1", "acct", "", workflow.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusApproved, h.Parent.Status)
}

func TestSubmitAction_ConcurrentDepartmentHeadsBothSucceed(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t)
		f.start(t, workflow.KindPayroll, "pay-1", nil)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for j, head := range []string{"head-a", "head-b"} {
			wg.Add(1)
			go func(j int, head string) {
				defer wg.Done()
				_, errs[j] = f.act(workflow.KindPayroll, "pay-1", head, "dept_head", workflow.ActionApprove)
			}(j, head)
		}
		wg.Wait()

		require.NoError(t, errs[0])
		require.NoError(t, errs[1])
		assert.Equal(t, workflow.Status("pending_admin_head"), f.history(t, workflow.KindPayroll, "pay-1").Parent.Status)
	}
}

func TestSubmitAction_DoubleSubmitResolvesOnce(t *testing.T) {
	f := newFixture(t)
	f.start(t, workflow.KindRequest, "req-1", nil)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		processed int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.act(workflow.KindRequest, "req-1", "head-a", "dept_head", workflow.ActionApprove)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrAlreadyProcessed):
				processed++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 7, processed)
	assert.Equal(t, workflow.Status("pending_admin_head"), f.history(t, workflow.KindRequest, "req-1").Parent.Status)
}

func TestSubmitAction_ResubmitIsAlreadyProcessed(t *testing.T) {
	f := newFixture(t)
	f.start(t, workflow.KindRequest, "req-1", nil)
	_, err := f.act(workflow.KindRequest, "req-1", "head-a", "dept_head", workflow.ActionApprove)
	require.NoError(t, err)

	for _, level := range []string{"dept_head", ""} {
		_, err = f.act(workflow.KindRequest, "req-1", "head-a", level, workflow.ActionApprove)
		appErr := requireAppError(t, err, ErrAlreadyProcessed, CodeAlreadyProcessed)
		assert.Equal(t, "dept_head", appErr.Level)
		assert.Equal(t, "req-1", appErr.ParentID)
		assert.Equal(t, workflow.KindRequest, appErr.ParentKind)
	}
	assert.Equal(t, workflow.Status("pending_admin_head"), f.history(t, workflow.KindRequest, "req-1").Parent.Status)
}

func TestSubmitAction_OtherApproverIsForbiddenAndNothingChanges(t *testing.T) {
	f := newFixture(t)
	before := f.start(t, workflow.KindRequest, "req-1", nil)

	_, err := f.act(workflow.KindRequest, "req-1", "outsider", "dept_head", workflow.ActionApprove)
	requireAppError(t, err, ErrForbidden, CodeForbidden)

	_, err = f.act(workflow.KindRequest, "req-1", "outsider", "", workflow.ActionReject)
	requireAppError(t, err, ErrForbidden, CodeForbidden)

	assert.Equal(t, before, f.history(t, workflow.KindRequest, "req-1"))
}

func TestSubmitAction_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.act(workflow.KindRequest, "req-1", "head-a", "", workflow.ActionApprove)
	requireAppError(t, err, ErrNotFound, CodeNotFound)

	f.start(t, workflow.KindRequest, "req-1", nil)
	_, err = f.act(workflow.KindRequest, "req-1", "outsider", "compliance", workflow.ActionApprove)
	requireAppError(t, err, ErrNotFound, CodeNotFound)

	_, err = f.act(workflow.KindRequest, "missing", "head-a", "", workflow.ActionApprove)
	requireAppError(t, err, ErrNotFound, CodeParentNotFound)
}

func TestSubmitAction_LevelMismatch(t *testing.T) {
	f := newFixture(t)
	f.start(t, workflow.KindRequest, "req-1", nil)

	_, err := f.act(workflow.KindRequest, "req-1", "admin", "compliance", workflow.ActionApprove)
	appErr := requireAppError(t, err, ErrLevelMismatch, CodeLevelMismatch)
	assert.Equal(t, "compliance", appErr.Level)
	assert.Contains(t, appErr.Message, "admin_head")
}

func TestSubmitAction_OtherApproversLevelIsForbidden(t *testing.T) {
	f := newFixture(t)
	before := f.start(t, workflow.KindRequest, "req-1", nil)

	// admin holds a pending admin_head record, but dept_head belongs to head-a.
	_, err := f.act(workflow.KindRequest, "req-1", "admin", "dept_head", workflow.ActionApprove)
	appErr := requireAppError(t, err, ErrForbidden, CodeForbidden)
	assert.Equal(t, "dept_head", appErr.Level)
	assert.Equal(t, before, f.history(t, workflow.KindRequest, "req-1"))
}

func TestSubmitAction_OutOfSequenceLeavesRecordPending(t *testing.T) {
	f := newFixture(t)
	before := f.start(t, workflow.KindRequest, "req-1", nil)

	_, err := f.act(workflow.KindRequest, "req-1", "admin", "admin_head", workflow.ActionApprove)
	requireAppError(t, err, ErrOutOfSequence, CodeOutOfSequence)
	assert.Equal(t, before, f.history(t, workflow.KindRequest, "req-1"))
}

func TestSubmitAction_RejectAtAnyStageIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.start(t, workflow.KindRequest, "req-1", nil)

	// admin_head is not current yet, but rejection does not wait its turn.
	h, err := f.act(workflow.KindRequest, "req-1", "admin", "admin_head", workflow.ActionReject)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusRejected, h.Parent.Status)

	_, err = f.act(workflow.KindRequest, "req-1", "head-a", "dept_head", workflow.ActionApprove)
	requireAppError(t, err, ErrAlreadyProcessed, CodeChainFinalized)
}

func TestSubmitAction_DelegatedLevels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, workflow.KindRequest, "req-1", nil)

	_, err := f.svc.AddApprover(ctx, DelegateInput{
		Kind: workflow.KindRequest, ParentID: "req-1", ActorID: "adder", NewApproverID: "reviewer", Level: "compliance",
	})
	require.NoError(t, err)

	h, err := f.act(workflow.KindRequest, "req-1", "reviewer", "compliance", workflow.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, workflow.Status("pending_dept_head"), h.Parent.Status, "ad hoc approval does not move the chain")

	_, err = f.svc.AddApprover(ctx, DelegateInput{
		Kind: workflow.KindRequest, ParentID: "req-1", ActorID: "adder", NewApproverID: "reviewer2", Level: "dept_head",
	})
	require.NoError(t, err)
	h, err = f.act(workflow.KindRequest, "req-1", "reviewer2", "dept_head", workflow.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, workflow.Status("pending_dept_head"), h.Parent.Status, "delegated dept_head is still ad hoc")

	h, err = f.act(workflow.KindRequest, "req-1", "head-a", "dept_head", workflow.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, workflow.Status("pending_admin_head"), h.Parent.Status, "delegated records do not gate the canonical level")

	_, err = f.svc.AddApprover(ctx, DelegateInput{
		Kind: workflow.KindRequest, ParentID: "req-1", ActorID: "adder", NewApproverID: "reviewer", Level: "legal",
	})
	require.NoError(t, err)
	h, err = f.act(workflow.KindRequest, "req-1", "reviewer", "legal", workflow.ActionReject)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusRejected, h.Parent.Status)
}

func TestSubmitAction_WithoutLevelPrefersCurrentStage(t *testing.T) {
	f := newFixture(t)
	// Delegated before the chain starts, so it is the actor's oldest pending record.
	_, err := f.svc.AddApprover(context.Background(), DelegateInput{
		Kind: workflow.KindRequest, ParentID: "req-1", ActorID: "adder", NewApproverID: "head-a", Level: "precheck",
	})
	require.NoError(t, err)
	h := f.start(t, workflow.KindRequest, "req-1", nil)
	require.Len(t, h.Approvals, 3)
	assert.Equal(t, "precheck", h.Approvals[0].Level)

	h, err = f.act(workflow.KindRequest, "req-1", "head-a", "", workflow.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, recordAt(t, h, "dept_head", "head-a").Status)
	assert.Equal(t, StatusPending, recordAt(t, h, "precheck", "head-a").Status)
	assert.Equal(t, workflow.Status("pending_admin_head"), h.Parent.Status)
}

func TestSubmitAction_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []ActionInput{
		{Kind: workflow.KindRequest, ParentID: "req-1", Action: workflow.ActionApprove},
		{Kind: workflow.KindRequest, ParentID: "req-1", ActorID: "head-a", Action: "maybe"},
		{Kind: "invoice", ParentID: "req-1", ActorID: "head-a", Action: workflow.ActionApprove},
		{Kind: workflow.KindRequest, ActorID: "head-a", Action: workflow.ActionApprove},
	}
	for _, in := range cases {
		_, err := f.svc.SubmitAction(ctx, in)
		requireAppError(t, err, ErrValidation, CodeValidation)
	}

	_, err := f.svc.SubmitAction(ctx, ActionInput{
		Kind: workflow.KindRequest, ParentID: "req-1", ActorID: "head-a", Level: "dept_head", Action: "maybe",
	})
	appErr := requireAppError(t, err, ErrValidation, CodeValidation)
	assert.Equal(t, map[string]any{"parentKind": workflow.KindRequest, "parentId": "req-1", "level": "dept_head"}, appErr.Params())
}

func TestSubmitAction_CommentsAndAuditSnapshot(t *testing.T) {
	f := newFixture(t)
	f.start(t, workflow.KindRequest, "req-1", nil)

	h, err := f.svc.SubmitAction(context.Background(), ActionInput{
		Kind: workflow.KindRequest, ParentID: "req-1", ActorID: "head-a", Action: workflow.ActionApprove, Comments: "  within budget ",
	})
	require.NoError(t, err)
	assert.Equal(t, "within budget", recordAt(t, h, "dept_head", "head-a").Comments)

	f.auditor.mu.Lock()
	ev := f.auditor.events[len(f.auditor.events)-1]
	f.auditor.mu.Unlock()
	assert.Equal(t, "approval.approved", ev.Action)
	assert.Equal(t, "head-a", ev.Actor)
	assert.Equal(t, StatusPending, ev.Before.(map[string]any)["status"])
	assert.Equal(t, StatusApproved, ev.After.(map[string]any)["status"])
	assert.Contains(t, ev.Description, "pending_dept_head -> pending_admin_head")
}

type failingWriter struct{}

func (failingWriter) Write(context.Context, audit.Event) error { return errors.New("audit store down") }

func TestSubmitAction_AuditFailureDoesNotAffectResult(t *testing.T) {
	f := newFixture(t)
	emitter, err := audit.NewEmitter(failingWriter{}, 1, time.Second)
	require.NoError(t, err)
	defer func() { _ = emitter.Close(time.Second) }()
	f.svc.auditor = emitter

	f.start(t, workflow.KindRequest, "req-1", nil)
	h, err := f.act(workflow.KindRequest, "req-1", "head-a", "", workflow.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, workflow.Status("pending_admin_head"), h.Parent.Status)
}

func TestStartChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h := f.start(t, workflow.KindPayroll, "pay-1", nil)
	assert.Equal(t, workflow.Status("pending_dept_head"), h.Parent.Status)
	var got [][2]string
	for _, r := range h.Approvals {
		got = append(got, [2]string{r.Level, r.ApproverID})
		assert.Equal(t, StatusPending, r.Status)
		assert.False(t, r.Delegated)
	}
	assert.Equal(t, [][2]string{
		{"dept_head", "head-a"}, {"dept_head", "head-b"}, {"admin_head", "admin"}, {"accountant", "acct"},
	}, got)

	_, err := f.svc.StartChain(ctx, StartInput{Kind: workflow.KindPayroll, ParentID: "pay-1", ActorID: "manager"})
	requireAppError(t, err, ErrAlreadyProcessed, CodeChainStarted)
}

func TestStartChain_ResolutionFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.StartChain(ctx, StartInput{Kind: workflow.KindPayment, ParentID: "pmt-1", ActorID: "manager"})
	appErr := requireAppError(t, err, ErrValidation, CodeMissingApprover)
	assert.Equal(t, "approver", appErr.Level)

	_, err = f.svc.StartChain(ctx, StartInput{
		Kind: workflow.KindPayment, ParentID: "pmt-1", ActorID: "manager",
		Assignments: map[string][]string{"approver": {"gone"}},
	})
	requireAppError(t, err, ErrValidation, CodeInactiveApprover)

	_, err = f.svc.StartChain(ctx, StartInput{
		Kind: workflow.KindPayment, ParentID: "pmt-1", ActorID: "manager",
		Assignments: map[string][]string{"treasurer": {"reviewer"}},
	})
	requireAppError(t, err, ErrValidation, CodeValidation)

	f.dir.SetHead("dept-b", "")
	_, err = f.svc.StartChain(ctx, StartInput{Kind: workflow.KindPayroll, ParentID: "pay-1", ActorID: "manager"})
	requireAppError(t, err, ErrValidation, CodeMissingApprover)

	// Failed starts leave no partial chain behind.
	h := f.history(t, workflow.KindPayroll, "pay-1")
	assert.Empty(t, h.Approvals)
	assert.Equal(t, workflow.StatusDraft, h.Parent.Status)
	h = f.history(t, workflow.KindPayment, "pmt-1")
	assert.Empty(t, h.Approvals)
}

func TestAddApprover_IsAdditive(t *testing.T) {
	f := newFixture(t)
	f.start(t, workflow.KindRequest, "req-1", nil)
	_, err := f.act(workflow.KindRequest, "req-1", "head-a", "", workflow.ActionApprove)
	require.NoError(t, err)
	before := f.history(t, workflow.KindRequest, "req-1")

	rec, err := f.svc.AddApprover(context.Background(), DelegateInput{
		Kind: workflow.KindRequest, ParentID: "req-1", ActorID: "manager",
		NewApproverID: "reviewer", Level: "compliance", GrantDelegation: true,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)
	assert.True(t, rec.CanAddApprovers)
	assert.True(t, rec.Delegated)
	assert.Equal(t, "manager", rec.AddedBy)
	assert.NotEmpty(t, rec.ID)

	after := f.history(t, workflow.KindRequest, "req-1")
	require.Len(t, after.Approvals, len(before.Approvals)+1)
	assert.Equal(t, before.Approvals, after.Approvals[:len(before.Approvals)])
	assert.Equal(t, before.Parent.Status, after.Parent.Status)
	assert.Equal(t, *rec, after.Approvals[len(after.Approvals)-1])
}

func TestAddApprover_Authorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, workflow.KindRequest, "req-1", nil)
	count := func() int { return len(f.history(t, workflow.KindRequest, "req-1").Approvals) }
	base := count()

	_, err := f.svc.AddApprover(ctx, DelegateInput{
		Kind: workflow.KindRequest, ParentID: "req-1", ActorID: "adder",
		NewApproverID: "reviewer", Level: "compliance", GrantDelegation: true,
	})
	requireAppError(t, err, ErrUnauthorized, CodeEscalationDenied)
	assert.Equal(t, base, count())

	_, err = f.svc.AddApprover(ctx, DelegateInput{
		Kind: workflow.KindRequest, ParentID: "req-1", ActorID: "outsider", NewApproverID: "reviewer", Level: "compliance",
	})
	requireAppError(t, err, ErrUnauthorized, CodeUnauthorized)
	assert.Equal(t, base, count())

	// A record granted the capability lets its holder delegate on that parent, without escalating.
	_, err = f.svc.AddApprover(ctx, DelegateInput{
		Kind: workflow.KindRequest, ParentID: "req-1", ActorID: "manager",
		NewApproverID: "reviewer", Level: "compliance", GrantDelegation: true,
	})
	require.NoError(t, err)
	_, err = f.svc.AddApprover(ctx, DelegateInput{
		Kind: workflow.KindRequest, ParentID: "req-1", ActorID: "reviewer", NewApproverID: "reviewer2", Level: "legal",
	})
	require.NoError(t, err)
	_, err = f.svc.AddApprover(ctx, DelegateInput{
		Kind: workflow.KindRequest, ParentID: "req-1", ActorID: "reviewer2",
		NewApproverID: "outsider", Level: "legal",
	})
	requireAppError(t, err, ErrUnauthorized, CodeUnauthorized)
	assert.Equal(t, base+2, count())
}

func TestAddApprover_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, workflow.KindRequest, "req-1", nil)

	_, err := f.svc.AddApprover(ctx, DelegateInput{
		Kind: workflow.KindRequest, ParentID: "req-1", ActorID: "adder", NewApproverID: "gone", Level: "compliance",
	})
	requireAppError(t, err, ErrValidation, CodeInactiveApprover)

	_, err = f.svc.AddApprover(ctx, DelegateInput{
		Kind: workflow.KindRequest, ParentID: "req-1", ActorID: "adder", NewApproverID: "nobody", Level: "compliance",
	})
	requireAppError(t, err, ErrValidation, CodeInactiveApprover)

	_, err = f.svc.AddApprover(ctx, DelegateInput{
		Kind: workflow.KindRequest, ParentID: "req-1", ActorID: "adder", NewApproverID: "reviewer", Level: " ",
	})
	requireAppError(t, err, ErrValidation, CodeValidation)

	_, err = f.svc.AddApprover(ctx, DelegateInput{
		Kind: workflow.KindRequest, ParentID: "req-1", ActorID: "adder", NewApproverID: "admin", Level: "admin_head",
	})
	requireAppError(t, err, ErrValidation, CodeDuplicatePending)

	_, err = f.svc.AddApprover(ctx, DelegateInput{
		Kind: workflow.KindRequest, ParentID: "missing", ActorID: "adder", NewApproverID: "reviewer", Level: "compliance",
	})
	requireAppError(t, err, ErrNotFound, CodeParentNotFound)
}

func TestAddApprover_FinalizedParent(t *testing.T) {
	f := newFixture(t)
	f.start(t, workflow.KindRequest, "req-1", nil)
	_, err := f.act(workflow.KindRequest, "req-1", "head-a", "", workflow.ActionReject)
	require.NoError(t, err)

	_, err = f.svc.AddApprover(context.Background(), DelegateInput{
		Kind: workflow.KindRequest, ParentID: "req-1", ActorID: "adder", NewApproverID: "reviewer", Level: "compliance",
	})
	requireAppError(t, err, ErrAlreadyProcessed, CodeChainFinalized)
}

func TestWorklist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, workflow.KindRequest, "req-1", nil)
	f.start(t, workflow.KindPayroll, "pay-1", nil)
	f.start(t, workflow.KindProject, "prj-1", nil)

	items, err := f.svc.Worklist(ctx, WorklistQuery{ActorID: "admin"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, workflow.KindRequest, items[0].Parent.Kind)
	assert.Equal(t, "Laptop refresh", items[0].Parent.Name)
	assert.Equal(t, "Engineering", items[0].Parent.Department)
	assert.True(t, decimal.RequireFromString("2400").Equal(items[0].Parent.Amount))
	assert.Equal(t, workflow.KindPayroll, items[1].Parent.Kind)
	assert.Equal(t, "admin_head", items[1].Approval.Level)

	items, err = f.svc.Worklist(ctx, WorklistQuery{ActorID: "admin", Search: "LAPTOP"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "req-1", items[0].Parent.ID)

	items, err = f.svc.Worklist(ctx, WorklistQuery{ActorID: "admin", RequiredPermission: "approve_admin_head"})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = f.svc.Worklist(ctx, WorklistQuery{ActorID: "admin", RequiredPermission: "approve_ceo"})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NotNil(t, items)
}

func TestWorklist_OmitsMissingAndFinalizedParents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, workflow.KindRequest, "req-1", nil)
	f.start(t, workflow.KindPayroll, "pay-1", nil)
	f.start(t, workflow.KindProject, "prj-1", nil)

	f.store.DeleteParent(workflow.KindPayroll, "pay-1")
	_, err := f.act(workflow.KindProject, "prj-1", "director", "", workflow.ActionReject)
	require.NoError(t, err)
	_, err = f.svc.AddApprover(ctx, DelegateInput{
		Kind: workflow.KindProject, ParentID: "prj-1", ActorID: "manager", NewApproverID: "admin", Level: "compliance",
	})
	requireAppError(t, err, ErrAlreadyProcessed, CodeChainFinalized)

	core, logs := observer.New(zapcore.DebugLevel)
	defer logger.Replace(zap.New(core))()

	items, err := f.svc.Worklist(ctx, WorklistQuery{ActorID: "admin"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "req-1", items[0].Parent.ID)

	skipped := logs.FilterMessage("worklist skipped orphaned approval").All()
	require.NotEmpty(t, skipped)
	assert.Equal(t, "admin", skipped[0].ContextMap()["actor"])
	assert.Equal(t, "pay-1", skipped[0].ContextMap()["parent_id"])

	items, err = f.svc.Worklist(ctx, WorklistQuery{ActorID: "ceo"})
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = f.svc.Worklist(ctx, WorklistQuery{})
	requireAppError(t, err, ErrValidation, CodeValidation)
}

func TestFindApprovers(t *testing.T) {
	f := newFixture(t)

	users, err := f.svc.FindApprovers(context.Background(), "review", "")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "reviewer", users[0].ID)

	users, err = f.svc.FindApprovers(context.Background(), "", "approve_ceo")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "ceo", users[0].ID)

	users, err = f.svc.FindApprovers(context.Background(), "gus", "")
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestHistory_UnknownParent(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.History(context.Background(), workflow.KindPayment, "nope")
	requireAppError(t, err, ErrNotFound, CodeParentNotFound)

	_, err = f.svc.History(context.Background(), "invoice", "nope")
	requireAppError(t, err, ErrValidation, CodeValidation)
}
