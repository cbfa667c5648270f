// Package directory resolves people: who is active, what they may do, and who heads a department.
package directory

import (
	"context"
	"sort"
	"strings"
	"sync"
)

const (
	PermAddApprovers    = "add_approvers"
	PermManageApprovers = "manage_approvers"
)

type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	DepartmentID string `json:"departmentId,omitempty"`
	Active       bool   `json:"active"`
}

// Static is an in-memory directory for tests and local dev flows.
type Static struct {
	mu    sync.RWMutex
	users map[string]User
	perms map[string]map[string]bool
	heads map[string]string
}

func NewStatic() *Static {
	return &Static{
		users: map[string]User{},
		perms: map[string]map[string]bool{},
		heads: map[string]string{},
	}
}

func (s *Static) AddUser(u User, perms ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	if s.perms[u.ID] == nil {
		s.perms[u.ID] = map[string]bool{}
	}
	for _, p := range perms {
		s.perms[u.ID][p] = true
	}
}

func (s *Static) SetActive(userID string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.Active = active
		s.users[userID] = u
	}
}

func (s *Static) SetHead(departmentID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heads[departmentID] = userID
}

func (s *Static) IsActive(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	return ok && u.Active, nil
}

func (s *Static) HasPermission(_ context.Context, userID, permission string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok || !u.Active {
		return false, nil
	}
	return s.perms[userID][permission], nil
}

func (s *Static) FindApprovers(_ context.Context, search, permission string) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := strings.ToLower(strings.TrimSpace(search))
	var out []User
	for id, u := range s.users {
		if !u.Active {
			continue
		}
		if permission != "" && !s.perms[id][permission] {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(u.Name), needle) && !strings.Contains(strings.ToLower(u.Email), needle) {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Static) DepartmentHead(_ context.Context, departmentID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.heads[departmentID], nil
}
