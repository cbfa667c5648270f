package approval

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"bizops/internal/api"
	"bizops/internal/workflow"
)

const maxBodyBytes = 1 << 20

type Handlers struct {
	Engine *Service
	// Verbose puts internal error text in 500 responses. Off in prod.
	Verbose bool
}

type ActionRequest struct {
	Level    string `json:"level,omitempty"`
	Action   string `json:"action"`
	Comments string `json:"comments,omitempty"`
}

type StartRequest struct {
	Assignments map[string][]string `json:"assignments,omitempty"`
}

type AddApproverRequest struct {
	NewApproverID   string `json:"newApproverId"`
	Level           string `json:"level"`
	GrantDelegation bool   `json:"grantDelegation"`
}

// Submit handles approve/reject on one parent of the given kind.
func (h Handlers) Submit(kind workflow.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := h.actor(w, r)
		if !ok {
			return
		}
		var req ActionRequest
		if !decode(w, r, &req) {
			return
		}
		action, err := workflow.ParseAction(req.Action)
		if err != nil {
			sc := scope{kind: kind, parentID: chi.URLParam(r, "id"), level: strings.TrimSpace(req.Level)}
			api.WriteAppError(w, r, sc.invalid("action must be approve or reject"), h.Verbose)
			return
		}

		hist, err := h.Engine.SubmitAction(r.Context(), ActionInput{
			Kind:     kind,
			ParentID: chi.URLParam(r, "id"),
			ActorID:  actor.ID,
			Level:    req.Level,
			Action:   action,
			Comments: req.Comments,
		})
		if err != nil {
			api.WriteAppError(w, r, err, h.Verbose)
			return
		}
		api.WriteJSON(w, http.StatusOK, hist)
	}
}

func (h Handlers) History(kind workflow.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := h.actor(w, r); !ok {
			return
		}
		hist, err := h.Engine.History(r.Context(), kind, chi.URLParam(r, "id"))
		if err != nil {
			api.WriteAppError(w, r, err, h.Verbose)
			return
		}
		api.WriteJSON(w, http.StatusOK, hist)
	}
}

func (h Handlers) Start(kind workflow.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := h.actor(w, r)
		if !ok {
			return
		}
		var req StartRequest
		if !decode(w, r, &req) {
			return
		}
		hist, err := h.Engine.StartChain(r.Context(), StartInput{
			Kind:        kind,
			ParentID:    chi.URLParam(r, "id"),
			ActorID:     actor.ID,
			Assignments: req.Assignments,
		})
		if err != nil {
			api.WriteAppError(w, r, err, h.Verbose)
			return
		}
		api.WriteJSON(w, http.StatusCreated, hist)
	}
}

func (h Handlers) AddApprover(kind workflow.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := h.actor(w, r)
		if !ok {
			return
		}
		var req AddApproverRequest
		if !decode(w, r, &req) {
			return
		}
		rec, err := h.Engine.AddApprover(r.Context(), DelegateInput{
			Kind:            kind,
			ParentID:        chi.URLParam(r, "id"),
			ActorID:         actor.ID,
			NewApproverID:   req.NewApproverID,
			Level:           req.Level,
			GrantDelegation: req.GrantDelegation,
		})
		if err != nil {
			api.WriteAppError(w, r, err, h.Verbose)
			return
		}
		api.WriteJSON(w, http.StatusCreated, rec)
	}
}

// Pending is the caller's unified worklist.
func (h Handlers) Pending(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	items, err := h.Engine.Worklist(r.Context(), WorklistQuery{
		ActorID:            actor.ID,
		Search:             q.Get("search"),
		RequiredPermission: q.Get("permission"),
	})
	if err != nil {
		api.WriteAppError(w, r, err, h.Verbose)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h Handlers) Approvers(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	q := r.URL.Query()
	users, err := h.Engine.FindApprovers(r.Context(), q.Get("search"), q.Get("permission"))
	if err != nil {
		api.WriteAppError(w, r, err, h.Verbose)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"items": users})
}

func (h Handlers) actor(w http.ResponseWriter, r *http.Request) (api.Actor, bool) {
	a, ok := api.ActorFromContext(r.Context())
	if !ok {
		api.WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing actor identity")
	}
	return a, ok
}

// decode reads a JSON body into dst. An empty body leaves dst zero-valued.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.WriteError(w, http.StatusRequestEntityTooLarge, CodeValidation, "request body too large")
			return false
		}
		api.WriteError(w, http.StatusBadRequest, CodeValidation, "invalid json")
		return false
	}
	return true
}

// PathFor is the URL segment for a kind's collection, e.g. "requests".
func PathFor(kind workflow.Kind) string {
	return strings.ToLower(string(kind)) + "s"
}
