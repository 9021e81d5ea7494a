// Package httpapi exposes the Workflow Engine and its admin operations over
// HTTP, the machine-to-machine surface the UI layer and operator tooling
// reach the engine through.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"time"

	"github.com/fieldops/workflow-engine/internal/workflow"
	"github.com/fieldops/workflow-engine/internal/workflow/engine"
	"github.com/fieldops/workflow-engine/internal/workflow/inventory"
	"github.com/fieldops/workflow-engine/internal/workflow/recovery"
	"github.com/fieldops/workflow-engine/internal/workflow/staffcreate"
	"github.com/fieldops/workflow-engine/internal/workflow/store"
	"github.com/fieldops/workflow-engine/pkg/logger"
	"github.com/fieldops/workflow-engine/pkg/ratelimit"
)

// Server holds the engine's collaborators as explicit fields, the same
// leaf-first construction discipline as Engine and Handler.
type Server struct {
	Engine    *engine.Engine
	Staff     *staffcreate.Handler
	Inventory *inventory.Reconciler
	Detector  *recovery.Detector
	Recoverer *recovery.Recoverer
	Health    *recovery.HealthReporter
	Store     store.Store

	Tokens    []string
	RateLimit *ratelimit.Limiter
	log       *logger.Logger

	router *mux.Router
}

// New wires every route onto a fresh mux.Router and returns the Server.
func New(e *engine.Engine, staff *staffcreate.Handler, inv *inventory.Reconciler, det *recovery.Detector, rec *recovery.Recoverer, health *recovery.HealthReporter, s store.Store, tokens []string, limiter *ratelimit.Limiter, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	srv := &Server{
		Engine: e, Staff: staff, Inventory: inv,
		Detector: det, Recoverer: rec, Health: health, Store: s,
		Tokens: tokens, RateLimit: limiter, log: log,
	}
	srv.router = mux.NewRouter()
	srv.routes()
	return srv
}

// Router returns the HTTP handler to pass to http.Server.
func (s *Server) Router() *mux.Router { return s.router }

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleLiveness).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/workflows", s.handleInitiateWorkflow).Methods(http.MethodPost)
	v1.HandleFunc("/workflows/{id}", s.handleGetWorkflowStatus).Methods(http.MethodGet)
	v1.HandleFunc("/workflows/{id}/transitions", s.handleTransitionWorkflow).Methods(http.MethodPost)
	v1.HandleFunc("/workflows/{id}/complete", s.handleCompleteWorkflow).Methods(http.MethodPost)

	v1.HandleFunc("/staff-applications", s.handleStartApplication).Methods(http.MethodPost)
	v1.HandleFunc("/staff-applications/form", s.handleProcessForm).Methods(http.MethodPost)
	v1.HandleFunc("/staff-applications/submit", s.handleSubmitApplication).Methods(http.MethodPost)

	admin := v1.PathPrefix("/admin").Subrouter()
	admin.Use(s.authMiddleware)
	if s.RateLimit != nil {
		admin.Use(s.RateLimit.Middleware)
	}
	admin.HandleFunc("/health", s.handleAdminHealth).Methods(http.MethodGet)
	admin.HandleFunc("/stuck", s.handleAdminStuck).Methods(http.MethodGet)
	admin.HandleFunc("/recover/{id}", s.handleAdminRecover).Methods(http.MethodPost)
	admin.HandleFunc("/reconcile-inventory", s.handleAdminReconcileInventory).Methods(http.MethodPost)
	admin.HandleFunc("/retries", s.handleAdminRetries).Methods(http.MethodGet)
}

// authMiddleware requires a bearer token present in the configured token
// list, compared in constant time to avoid a timing side channel.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(authHeader, "Bearer ") {
			jsonError(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		for _, candidate := range s.Tokens {
			if subtle.ConstantTimeCompare([]byte(token), []byte(candidate)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}
		jsonError(w, "invalid bearer token", http.StatusUnauthorized)
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// initiateRequestBody is the wire shape of POST /v1/workflows.
type initiateRequestBody struct {
	WorkflowType     workflow.WorkflowType `json:"workflow_type"`
	ClientID         string                `json:"client_id"`
	ActorID          string                `json:"actor_id"`
	ActorRole        workflow.Role         `json:"actor_role"`
	Priority         workflow.Priority     `json:"priority,omitempty"`
	Description      string                `json:"description"`
	Location         string                `json:"location,omitempty"`
	ContactInfo      workflow.ContactInfo  `json:"contact_info,omitempty"`
	CreatedByStaff   bool                  `json:"created_by_staff,omitempty"`
	StaffCreatorID   string                `json:"staff_creator_id,omitempty"`
	StaffCreatorRole workflow.Role         `json:"staff_creator_role,omitempty"`
	CreationSource   string                `json:"creation_source,omitempty"`
}

func (s *Server) handleInitiateWorkflow(w http.ResponseWriter, r *http.Request) {
	var body initiateRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	id, failure := s.Engine.InitiateWorkflow(r.Context(), engine.InitiateRequest{
		WorkflowType:     body.WorkflowType,
		ClientID:         body.ClientID,
		ActorID:          body.ActorID,
		ActorRole:        body.ActorRole,
		Priority:         body.Priority,
		Description:      body.Description,
		Location:         body.Location,
		ContactInfo:      body.ContactInfo,
		CreatedByStaff:   body.CreatedByStaff,
		StaffCreatorID:   body.StaffCreatorID,
		StaffCreatorRole: body.StaffCreatorRole,
		CreationSource:   body.CreationSource,
	})
	if failure != nil {
		writeEngineFailure(w, failure)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

type transitionRequestBody struct {
	Action    workflow.Action `json:"action"`
	ActorID   string          `json:"actor_id"`
	ActorRole workflow.Role   `json:"actor_role"`
	Payload   map[string]any  `json:"payload,omitempty"`
}

func (s *Server) handleTransitionWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body transitionRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	req, failure := s.Engine.TransitionWorkflow(r.Context(), id, body.Action, body.ActorID, body.ActorRole, body.Payload)
	if failure != nil {
		writeEngineFailure(w, failure)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type completeRequestBody struct {
	ActorID          string `json:"actor_id"`
	CompletionRating int    `json:"completion_rating"`
	FeedbackComments string `json:"feedback_comments,omitempty"`
}

func (s *Server) handleCompleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body completeRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	req, failure := s.Engine.CompleteWorkflow(r.Context(), id, engine.CompleteInput{
		ActorID:          body.ActorID,
		CompletionRating: body.CompletionRating,
		FeedbackComments: body.FeedbackComments,
	})
	if failure != nil {
		writeEngineFailure(w, failure)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleGetWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	status, failure := s.Engine.GetWorkflowStatus(r.Context(), id)
	if failure != nil {
		writeEngineFailure(w, failure)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type startApplicationBody struct {
	CreatorRole     workflow.Role         `json:"creator_role"`
	CreatorID       string                `json:"creator_id"`
	ApplicationType workflow.WorkflowType `json:"application_type"`
}

func (s *Server) handleStartApplication(w http.ResponseWriter, r *http.Request) {
	var body startApplicationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	cc, failure := s.Staff.StartApplicationCreation(r.Context(), body.CreatorRole, body.CreatorID, body.ApplicationType)
	if failure != nil {
		writeStaffFailure(w, failure)
		return
	}
	writeJSON(w, http.StatusOK, cc)
}

type processFormBody struct {
	Form    staffcreate.ApplicationForm  `json:"form"`
	Context staffcreate.CreatorContext   `json:"context"`
}

func (s *Server) handleProcessForm(w http.ResponseWriter, r *http.Request) {
	var body processFormBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if failure := s.Staff.ProcessApplicationForm(body.Form, body.Context); failure != nil {
		writeStaffFailure(w, failure)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func (s *Server) handleSubmitApplication(w http.ResponseWriter, r *http.Request) {
	var body processFormBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result, failure := s.Staff.ValidateAndSubmit(r.Context(), body.Form, body.Context)
	if failure != nil {
		writeStaffFailure(w, failure)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleAdminHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.Health.Report(r.Context(), time.Now().UTC())
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleAdminStuck(w http.ResponseWriter, r *http.Request) {
	stuck, err := s.Detector.DetectStuck(r.Context(), time.Now().UTC())
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stuck)
}

type recoverRequestBody struct {
	Option     recovery.RecoveryOption `json:"option"`
	ActorID    string                  `json:"actor_id"`
	TargetRole workflow.Role           `json:"target_role,omitempty"`
	NewActorID string                  `json:"new_actor_id,omitempty"`
	AdminNote  string                  `json:"admin_note,omitempty"`
}

func (s *Server) handleAdminRecover(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body recoverRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	switch body.Option {
	case recovery.OptionForceTransition:
		req, err := s.Recoverer.ForceTransition(r.Context(), id, body.TargetRole, body.ActorID)
		if err != nil {
			jsonError(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, req)
	case recovery.OptionResetToPrevious:
		req, err := s.Recoverer.ResetToPreviousState(r.Context(), id, body.ActorID)
		if err != nil {
			jsonError(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, req)
	case recovery.OptionCompleteWorkflow:
		req, err := s.Recoverer.CompleteWorkflow(r.Context(), id, body.ActorID, body.AdminNote)
		if err != nil {
			jsonError(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, req)
	case recovery.OptionReassignRole:
		if err := s.Recoverer.ReassignRole(r.Context(), id, body.NewActorID, body.ActorID); err != nil {
			jsonError(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"reassigned": true})
	default:
		jsonError(w, "unknown recovery option", http.StatusBadRequest)
	}
}

func (s *Server) handleAdminReconcileInventory(w http.ResponseWriter, r *http.Request) {
	report, err := s.Inventory.ReconcileCompleted(r.Context())
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleAdminRetries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.Store.ListNotificationRetries(r.Context())
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeEngineFailure(w http.ResponseWriter, f *engine.Failure) {
	status := http.StatusInternalServerError
	switch f.Kind {
	case engine.FailureValidation:
		status = http.StatusBadRequest
	case engine.FailurePermissionDenied:
		status = http.StatusForbidden
	case engine.FailureUnknownWorkflow, engine.FailureNotFound:
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"kind": string(f.Kind), "reason": f.Reason})
}

func writeStaffFailure(w http.ResponseWriter, f *staffcreate.Failure) {
	status := http.StatusInternalServerError
	switch f.Kind {
	case staffcreate.FailurePermissionDenied:
		status = http.StatusForbidden
	case staffcreate.FailureDailyLimitExceeded:
		status = http.StatusTooManyRequests
	case staffcreate.FailureClientValidationErr:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"kind": string(f.Kind), "reason": f.Reason})
}
