package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mercator-hq/warden/pkg/policy/model"
	"mercator-hq/warden/pkg/policy/registry"
)

func (s *Server) listPolicies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := registry.Filter{
		Category:      model.Category(q.Get("category")),
		ApprovalState: model.ApprovalState(q.Get("approvalState")),
	}
	if f.Category != "" && !f.Category.IsValid() {
		writeError(w, r, badRequest("unknown category %q", f.Category))
		return
	}
	if f.ApprovalState != "" && !f.ApprovalState.IsValid() {
		writeError(w, r, badRequest("unknown approval state %q", f.ApprovalState))
		return
	}

	var err error
	if f.ActiveOnly, err = queryBool(r, "active"); err != nil {
		writeError(w, r, err)
		return
	}
	if f.IncludeArchived, err = queryBool(r, "includeArchived"); err != nil {
		writeError(w, r, err)
		return
	}
	if f.Limit, f.Offset, err = page(r); err != nil {
		writeError(w, r, err)
		return
	}

	policies, err := s.service.ListPolicies(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"policies": policies})
}

func (s *Server) getPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.service.GetPolicy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) policyVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.service.PolicyVersions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"versions": versions})
}

func (s *Server) createPolicy(w http.ResponseWriter, r *http.Request) {
	var p model.Policy
	if err := decodeJSON(r, &p, false); err != nil {
		writeError(w, r, err)
		return
	}
	actor, _ := actorFrom(r.Context())

	created, err := s.service.CreatePolicy(r.Context(), &p, actor.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/policies/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

type updatePolicyRequest struct {
	// ExpectedVersion is the version the caller edited. Zero skips the
	// concurrency check.
	ExpectedVersion int           `json:"expectedVersion"`
	Policy          *model.Policy `json:"policy"`
}

func (s *Server) updatePolicy(w http.ResponseWriter, r *http.Request) {
	var req updatePolicyRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Policy == nil {
		writeError(w, r, badRequest("policy is required"))
		return
	}
	actor, _ := actorFrom(r.Context())

	updated, err := s.service.UpdatePolicy(r.Context(), chi.URLParam(r, "id"), req.Policy, req.ExpectedVersion, actor.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deletePolicy(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	archived, err := s.service.DeletePolicy(r.Context(), chi.URLParam(r, "id"), actor.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"archived": archived})
}

// policyTransition adapts a workflow step that needs only the policy and
// the actor.
func (s *Server) policyTransition(step func(ctx context.Context, id, actor string) (*model.Policy, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := actorFrom(r.Context())
		p, err := step(r.Context(), chi.URLParam(r, "id"), actor.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) rejectPolicy(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	actor, _ := actorFrom(r.Context())

	p, err := s.service.RejectPolicy(r.Context(), chi.URLParam(r, "id"), actor.ID, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) clonePolicy(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	p, err := s.service.ClonePolicy(r.Context(), chi.URLParam(r, "id"), actor.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/policies/"+p.ID)
	writeJSON(w, http.StatusCreated, p)
}

type testPolicyRequest struct {
	Facts map[string]interface{} `json:"facts"`

	// Policy, when set, is tested instead of the stored policy. It lets
	// authors try an edit before saving it.
	Policy *model.Policy `json:"policy,omitempty"`
}

func (s *Server) testPolicy(w http.ResponseWriter, r *http.Request) {
	var req testPolicyRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	id := chi.URLParam(r, "id")
	var (
		result interface{}
		err    error
	)
	if req.Policy != nil {
		req.Policy.ID = id
		result, err = s.service.TestPolicyDefinition(r.Context(), req.Policy, req.Facts)
	} else {
		result, err = s.service.TestPolicy(r.Context(), id, req.Facts)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
