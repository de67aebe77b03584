package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"mercator-hq/warden/pkg/cases"
	"mercator-hq/warden/pkg/policy/model"
)

type createCaseRequest struct {
	VendorID       string         `json:"vendorId"`
	Type           cases.Type     `json:"type"`
	Severity       model.Severity `json:"severity"`
	Description    string         `json:"description"`
	TriggerEventID string         `json:"triggerEventId"`
	PolicyID       string         `json:"policyId"`
	AssignedTo     string         `json:"assignedTo"`
	SLAHours       int            `json:"slaHours"`
}

func (s *Server) createCase(w http.ResponseWriter, r *http.Request) {
	var req createCaseRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	actor, _ := actorFrom(r.Context())

	c, err := s.service.CreateCase(r.Context(), cases.CreateCaseInput{
		VendorID:       req.VendorID,
		Type:           req.Type,
		Severity:       req.Severity,
		Description:    req.Description,
		TriggerEventID: req.TriggerEventID,
		PolicyID:       req.PolicyID,
		AssignedTo:     req.AssignedTo,
		SLAHours:       req.SLAHours,
		Actor:          actor,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/cases/"+c.CaseNumber)
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) listCases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := cases.Filter{
		VendorID:   q.Get("vendorId"),
		Severity:   model.Severity(q.Get("severity")),
		AssignedTo: q.Get("assignedTo"),
		PolicyID:   q.Get("policyId"),
	}
	if f.Severity != "" && !f.Severity.IsValid() {
		writeError(w, r, badRequest("unknown severity %q", f.Severity))
		return
	}
	// status accepts a comma-separated list and may be repeated.
	for _, raw := range q["status"] {
		for _, part := range strings.Split(raw, ",") {
			st := cases.Status(strings.TrimSpace(part))
			if st == "" {
				continue
			}
			if !st.IsValid() {
				writeError(w, r, badRequest("unknown status %q", st))
				return
			}
			f.Statuses = append(f.Statuses, st)
		}
	}

	var err error
	if f.Limit, f.Offset, err = page(r); err != nil {
		writeError(w, r, err)
		return
	}

	list, err := s.service.ListCases(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cases": list})
}

func (s *Server) getCase(w http.ResponseWriter, r *http.Request) {
	c, err := s.service.GetCase(r.Context(), chi.URLParam(r, "caseNumber"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) casesAtRisk(w http.ResponseWriter, r *http.Request) {
	list, err := s.service.GetCasesAtRisk(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cases": list})
}

func (s *Server) overdueCases(w http.ResponseWriter, r *http.Request) {
	list, err := s.service.GetOverdueCases(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cases": list})
}

// caseRequest is the body shared by the case workflow endpoints. Each
// endpoint reads the fields it needs.
type caseRequest struct {
	Action   string       `json:"action,omitempty"`
	Assignee string       `json:"assignee,omitempty"`
	Status   cases.Status `json:"status,omitempty"`
	Notes    string       `json:"notes,omitempty"`
	Reason   string       `json:"reason,omitempty"`
}

// caseStep adapts a case workflow operation to a handler.
func (s *Server) caseStep(optionalBody bool, step func(r *http.Request, caseNumber string, actor cases.Actor, req caseRequest) (*cases.Case, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req caseRequest
		if err := decodeJSON(r, &req, optionalBody); err != nil {
			writeError(w, r, err)
			return
		}
		actor, _ := actorFrom(r.Context())

		c, err := step(r, chi.URLParam(r, "caseNumber"), actor, req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func (s *Server) addCaseAction(w http.ResponseWriter, r *http.Request) {
	s.caseStep(false, func(r *http.Request, cn string, actor cases.Actor, req caseRequest) (*cases.Case, error) {
		return s.service.AddCaseAction(r.Context(), cn, req.Action, actor, req.Notes)
	})(w, r)
}

func (s *Server) assignCase(w http.ResponseWriter, r *http.Request) {
	s.caseStep(false, func(r *http.Request, cn string, actor cases.Actor, req caseRequest) (*cases.Case, error) {
		return s.service.AssignCase(r.Context(), cn, req.Assignee, actor)
	})(w, r)
}

func (s *Server) advanceCase(w http.ResponseWriter, r *http.Request) {
	s.caseStep(false, func(r *http.Request, cn string, actor cases.Actor, req caseRequest) (*cases.Case, error) {
		return s.service.AdvanceCase(r.Context(), cn, req.Status, actor, req.Notes)
	})(w, r)
}

func (s *Server) escalateCase(w http.ResponseWriter, r *http.Request) {
	s.caseStep(false, func(r *http.Request, cn string, actor cases.Actor, req caseRequest) (*cases.Case, error) {
		return s.service.EscalateCase(r.Context(), cn, actor, req.Reason)
	})(w, r)
}

func (s *Server) resolveCase(w http.ResponseWriter, r *http.Request) {
	s.caseStep(false, func(r *http.Request, cn string, actor cases.Actor, req caseRequest) (*cases.Case, error) {
		return s.service.ResolveCase(r.Context(), cn, actor, req.Notes)
	})(w, r)
}

func (s *Server) rejectCase(w http.ResponseWriter, r *http.Request) {
	s.caseStep(false, func(r *http.Request, cn string, actor cases.Actor, req caseRequest) (*cases.Case, error) {
		return s.service.RejectCase(r.Context(), cn, actor, req.Reason)
	})(w, r)
}

func (s *Server) closeCase(w http.ResponseWriter, r *http.Request) {
	s.caseStep(true, func(r *http.Request, cn string, actor cases.Actor, req caseRequest) (*cases.Case, error) {
		return s.service.CloseCase(r.Context(), cn, actor, req.Notes)
	})(w, r)
}
