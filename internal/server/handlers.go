package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"cae-dispatcher/internal/authorization"
	apperrors "cae-dispatcher/internal/common/errors"
	"cae-dispatcher/internal/dispatch"
	"cae-dispatcher/internal/processor"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.client.SystemStatus(r.Context(), "")

	httpStatus := http.StatusOK
	if status.Health.State == dispatch.HealthCritical {
		httpStatus = http.StatusServiceUnavailable
	}
	s.respondJSON(w, httpStatus, status.Health)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]
	s.respondJSON(w, http.StatusOK, s.client.SystemStatus(r.Context(), tenant))
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]
	s.respondJSON(w, http.StatusOK, s.client.CanProceed(r.Context(), tenant))
}

type enqueueRequest struct {
	WorkRef  string `json:"work_ref"`
	TenantID string `json:"tenant_id"`
	Priority string `json:"priority"`
}

type enqueueResponse struct {
	JobID string `json:"job_id"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, apperrors.ValidationError("invalid request body"))
		return
	}

	future, err := s.client.RequestAuthorization(r.Context(), req.WorkRef, req.TenantID, processor.ParsePriority(req.Priority))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, enqueueResponse{JobID: future.JobID()})
}

func (s *Server) handleEnqueueBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		s.respondError(w, apperrors.ValidationError("invalid request body"))
		return
	}

	items := make([]processor.BatchItem, len(reqs))
	for i, req := range reqs {
		items[i] = processor.BatchItem{
			WorkRef:  req.WorkRef,
			TenantID: req.TenantID,
			Priority: processor.ParsePriority(req.Priority),
		}
	}

	if _, err := s.client.RequestAuthorizationBatch(r.Context(), items); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]int{"enqueued": len(items)})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	if !s.client.CancelJob(jobID) {
		s.respondError(w, apperrors.NotFoundError("pending job "+jobID))
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"cancelled": jobID})
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondError(w, apperrors.NotFoundError("result store"))
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.store.ListResults(r.Context(), r.URL.Query().Get("tenant"), limit)
	if err != nil {
		s.respondError(w, apperrors.InternalError("failed to list results", err))
		return
	}
	s.respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondError(w, apperrors.NotFoundError("audit store"))
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.store.ListAudit(r.Context(), limit)
	if err != nil {
		s.respondError(w, apperrors.InternalError("failed to list audit entries", err))
		return
	}
	s.respondJSON(w, http.StatusOK, entries)
}

type registerTenantRequest struct {
	TenantID    string `json:"tenant_id"`
	CUIT        string `json:"cuit"`
	PointOfSale int    `json:"point_of_sale"`
	Certificate string `json:"certificate"`
	PrivateKey  string `json:"private_key"`
}

func (s *Server) handleRegisterTenant(w http.ResponseWriter, r *http.Request) {
	var req registerTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, apperrors.ValidationError("invalid request body"))
		return
	}

	err := s.client.Credentials().Register(authorization.Credentials{
		TenantID:    req.TenantID,
		CUIT:        req.CUIT,
		PointOfSale: req.PointOfSale,
		Certificate: []byte(req.Certificate),
		PrivateKey:  []byte(req.PrivateKey),
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"tenant_id": req.TenantID})
}

func (s *Server) handleRemoveTenant(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]
	s.client.Credentials().Remove(tenant)
	s.respondJSON(w, http.StatusOK, map[string]string{"removed": tenant})
}

type overrideRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCircuitOverride(open bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := mux.Vars(r)["scope"]
		actor := actorFrom(r.Context())

		var req overrideRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, apperrors.ValidationError("invalid request body"))
			return
		}

		var err error
		if open {
			err = s.client.ForceCircuitOpen(r.Context(), scope, actor, req.Reason)
		} else {
			err = s.client.ForceCircuitClose(r.Context(), scope, actor, req.Reason)
		}
		if err != nil {
			s.respondError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]string{"scope": scope})
	}
}

func (s *Server) handleProcessingOverride(pause bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := actorFrom(r.Context())

		var req overrideRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, apperrors.ValidationError("invalid request body"))
			return
		}

		var err error
		if pause {
			err = s.client.PauseProcessing(r.Context(), actor, req.Reason)
		} else {
			err = s.client.ResumeProcessing(r.Context(), actor, req.Reason)
		}
		if err != nil {
			s.respondError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]string{"actor": actor})
	}
}
