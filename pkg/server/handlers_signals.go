package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"mercator-hq/warden/pkg/facts"
	"mercator-hq/warden/pkg/service"
	"mercator-hq/warden/pkg/telemetry/logging"
)

const signalSourceHTTP = "http"

func (s *Server) ingestSignal(w http.ResponseWriter, r *http.Request) {
	var sig facts.Signal
	if err := decodeJSON(r, &sig, false); err != nil {
		s.recordSignal("invalid")
		writeError(w, r, err)
		return
	}

	ctx := logging.WithVendor(r.Context(), sig.VendorID)
	result, err := s.service.IngestSignal(ctx, sig)
	if err != nil {
		if result == nil && isClientError(err) {
			s.recordSignal("invalid")
		} else {
			s.recordSignal("failed")
		}
		writeError(w, r, err)
		return
	}
	s.recordSignal("recorded")
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) recordSignal(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordSignal(signalSourceHTTP, outcome)
	}
}

func isClientError(err error) bool {
	status, _ := classify(err)
	return status < http.StatusInternalServerError
}

type evaluateRequest struct {
	Execute bool `json:"execute"`
}

func (s *Server) evaluateVendor(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}
	vendorID := chi.URLParam(r, "vendorID")
	ctx := logging.WithVendor(r.Context(), vendorID)

	report, err := s.service.EvaluatePolicies(ctx, vendorID, service.EvaluateOptions{Execute: req.Execute})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) vendorFacts(w http.ResponseWriter, r *http.Request) {
	fs, err := s.service.VendorFacts(r.Context(), chi.URLParam(r, "vendorID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fs)
}

func (s *Server) vendorFailures(w http.ResponseWriter, r *http.Request) {
	failures, err := s.service.ListFailures(r.Context(), chi.URLParam(r, "vendorID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"failures": failures})
}

func (s *Server) runSweep(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.RunAutoEscalate(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
