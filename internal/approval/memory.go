package approval

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"bizops/internal/workflow"
)

type parentKey struct {
	kind workflow.Kind
	id   string
}

// MemoryStore is a Store kept in process memory. InTx holds one lock for the whole transaction and
// restores a snapshot when fn fails, which gives the same all-or-nothing result as the Postgres store.
type MemoryStore struct {
	mu      sync.Mutex
	parents map[parentKey]Parent
	records []Record
	seq     int64
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		parents: map[parentKey]Parent{},
		now:     time.Now,
	}
}

// PutParent creates or replaces a parent entity.
func (m *MemoryStore) PutParent(p Parent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Status == "" {
		p.Status = workflow.StatusDraft
	}
	m.parents[parentKey{p.Kind, p.ID}] = p
}

// DeleteParent removes a parent and leaves its records behind, as an out-of-band delete would.
func (m *MemoryStore) DeleteParent(kind workflow.Kind, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.parents, parentKey{kind, id})
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	parents := make(map[parentKey]Parent, len(m.parents))
	for k, v := range m.parents {
		parents[k] = v
	}
	records := append([]Record(nil), m.records...)
	seq := m.seq

	if err := fn(memTx{m}); err != nil {
		m.parents, m.records, m.seq = parents, records, seq
		return err
	}
	return nil
}

func (m *MemoryStore) LoadParent(_ context.Context, kind workflow.Kind, id string) (*Parent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadParent(kind, id)
}

func (m *MemoryStore) ListApprovals(_ context.Context, kind workflow.Kind, parentID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listApprovals(kind, parentID), nil
}

func (m *MemoryStore) ListPendingByApprover(_ context.Context, approverID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, r := range m.records {
		if r.ApproverID == approverID && r.Status == StatusPending {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *MemoryStore) loadParent(kind workflow.Kind, id string) (*Parent, error) {
	p, ok := m.parents[parentKey{kind, id}]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", kind, id, ErrParentMissing)
	}
	p.DepartmentIDs = append([]string(nil), p.DepartmentIDs...)
	return &p, nil
}

func (m *MemoryStore) listApprovals(kind workflow.Kind, parentID string) []Record {
	out := []Record{}
	for _, r := range m.records {
		if r.ParentKind == kind && r.ParentID == parentID {
			out = append(out, r)
		}
	}
	return out
}

// memTx runs with MemoryStore.mu held.
type memTx struct {
	m *MemoryStore
}

func (t memTx) LockParent(_ context.Context, kind workflow.Kind, id string) (*Parent, error) {
	return t.m.loadParent(kind, id)
}

func (t memTx) ListApprovals(_ context.Context, kind workflow.Kind, parentID string) ([]Record, error) {
	return t.m.listApprovals(kind, parentID), nil
}

func (t memTx) InsertApproval(_ context.Context, rec *Record) error {
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	if rec.Status == StatusPending {
		for _, r := range t.m.records {
			if r.ParentKind == rec.ParentKind && r.ParentID == rec.ParentID &&
				r.Level == rec.Level && r.ApproverID == rec.ApproverID && r.Status == StatusPending {
				return ErrDuplicatePending
			}
		}
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate approval id: %w", err)
	}
	t.m.seq++
	rec.ID = id.String()
	rec.Seq = t.m.seq
	rec.CreatedAt = t.m.now().UTC()
	t.m.records = append(t.m.records, *rec)
	return nil
}

func (t memTx) ResolveApproval(_ context.Context, rec Record) error {
	for i, r := range t.m.records {
		if r.ID != rec.ID {
			continue
		}
		if r.Status != StatusPending {
			return ErrStaleRecord
		}
		r.Status = rec.Status
		r.Comments = rec.Comments
		r.ActionDate = rec.ActionDate
		t.m.records[i] = r
		return nil
	}
	return ErrStaleRecord
}

func (t memTx) SaveParentStatus(_ context.Context, kind workflow.Kind, id string, status workflow.Status) error {
	k := parentKey{kind, id}
	p, ok := t.m.parents[k]
	if !ok {
		return fmt.Errorf("%s %s: %w", kind, id, ErrParentMissing)
	}
	p.Status = status
	t.m.parents[k] = p
	return nil
}
