// Package api exposes the cadence engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"example.com/cadence/internal/auth"
	"example.com/cadence/internal/cadence"
	"example.com/cadence/internal/domain"
	"example.com/cadence/internal/persistence"
)

const maxBodyBytes = 1 << 20

// Service is the engine surface the handlers need.
type Service interface {
	Advance(ctx context.Context, trig domain.Trigger) (cadence.AdvanceResult, error)
	Evaluate(ctx context.Context, tenantID, leadID, pipelineID, stageName string) (cadence.Evaluation, error)
	ListTasks(ctx context.Context, tenantID, leadID string, cursor *domain.Cursor, limit int) ([]domain.TaskInstance, *domain.Cursor, error)
	CreateTemplate(ctx context.Context, tpl domain.CadenceTemplate) (domain.CadenceTemplate, error)
	ListTemplates(ctx context.Context, tenantID, pipelineID, stageName string) ([]domain.CadenceTemplate, error)
	SetTemplateActive(ctx context.Context, tenantID, templateID string, active bool) (*domain.CadenceTemplate, error)
}

// Handler coordinates HTTP requests with the cadence service.
type Handler struct {
	service Service
	logger  logrus.FieldLogger
}

// NewHandler builds a Handler.
func NewHandler(service Service, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger().WithField("component", "api")
	}
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/leads/{lead_id}/advance", h.requireScope(h.advance, auth.ScopeCadenceWrite))
	mux.HandleFunc("GET /v1/leads/{lead_id}/tasks", h.requireScope(h.listTasks, auth.ScopeCadenceRead, auth.ScopeCadenceWrite))
	mux.HandleFunc("GET /v1/leads/{lead_id}/completion", h.requireScope(h.completion, auth.ScopeCadenceRead, auth.ScopeCadenceWrite))
	mux.HandleFunc("GET /v1/pipelines/{pipeline_id}/stages/{stage}/templates", h.requireScope(h.listTemplates, auth.ScopeCadenceRead, auth.ScopeTemplatesWrite))
	mux.HandleFunc("POST /v1/pipelines/{pipeline_id}/stages/{stage}/templates", h.requireScope(h.createTemplate, auth.ScopeTemplatesWrite))
	mux.HandleFunc("PATCH /v1/templates/{template_id}", h.requireScope(h.patchTemplate, auth.ScopeTemplatesWrite))
	mux.HandleFunc("GET /healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type claimsHandler func(http.ResponseWriter, *http.Request, *auth.Claims)

// requireScope rejects callers without claims or without any of scopes.
func (h *Handler) requireScope(next claimsHandler, scopes ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		if !claims.HasAnyScope(scopes...) {
			writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
			return
		}
		next(w, r, claims)
	}
}

func (h *Handler) advance(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	var req AdvanceRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.service.Advance(r.Context(), domain.Trigger{
		TenantID:          claims.TenantID,
		LeadID:            r.PathValue("lead_id"),
		PipelineID:        req.PipelineID,
		TargetStage:       req.TargetStage,
		StageEnteredAt:    req.StageEnteredAt,
		PipelineEnteredAt: req.PipelineEnteredAt,
		OwnerID:           req.OwnerID,
		Attributes:        req.Attributes,
	})
	resp := NewAdvanceResponse(result)
	if err != nil {
		h.writeDomainError(w, r, err, &resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	tasks, next, err := h.service.ListTasks(r.Context(), claims.TenantID, r.PathValue("lead_id"), cursor, limit)
	if err != nil {
		h.writeDomainError(w, r, err, nil)
		return
	}

	resp := ListTasksResponse{Items: make([]TaskView, 0, len(tasks)), NextCursor: persistence.EncodeCursor(next)}
	for _, t := range tasks {
		resp.Items = append(resp.Items, toTaskView(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) completion(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	pipelineID := strings.TrimSpace(r.URL.Query().Get("pipeline_id"))
	stage := strings.TrimSpace(r.URL.Query().Get("stage"))
	if pipelineID == "" || stage == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "pipeline_id and stage are required")
		return
	}

	eval, err := h.service.Evaluate(r.Context(), claims.TenantID, r.PathValue("lead_id"), pipelineID, stage)
	if err != nil {
		h.writeDomainError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, NewCompletionResponse(eval))
}

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	templates, err := h.service.ListTemplates(r.Context(), claims.TenantID, r.PathValue("pipeline_id"), r.PathValue("stage"))
	if err != nil {
		h.writeDomainError(w, r, err, nil)
		return
	}
	resp := ListTemplatesResponse{Items: make([]TemplateView, 0, len(templates))}
	for _, tpl := range templates {
		resp.Items = append(resp.Items, toTemplateView(tpl))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) createTemplate(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	var req CreateTemplateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	anchor := domain.AnchorPolicy(req.AnchorPolicy)
	if anchor == "" {
		anchor = domain.AnchorStageEntry
	}

	tpl, err := h.service.CreateTemplate(r.Context(), domain.CadenceTemplate{
		TenantID:        claims.TenantID,
		PipelineID:      r.PathValue("pipeline_id"),
		StageName:       r.PathValue("stage"),
		TaskOrder:       req.TaskOrder,
		Channel:         domain.Channel(req.Channel),
		DayOffset:       req.DayOffset,
		Title:           req.Title,
		Description:     req.Description,
		ContentTemplate: req.ContentTemplate,
		AnchorPolicy:    anchor,
		Active:          active,
	})
	if err != nil {
		h.writeDomainError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, toTemplateView(tpl))
}

func (h *Handler) patchTemplate(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	var req PatchTemplateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Active == nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "is_active is required")
		return
	}

	tpl, err := h.service.SetTemplateActive(r.Context(), claims.TenantID, r.PathValue("template_id"), *req.Active)
	if err != nil {
		h.writeDomainError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, toTemplateView(*tpl))
}

// writeDomainError maps the engine's error taxonomy onto HTTP statuses. A non-nil partial is
// returned alongside the error so callers can see progress committed before a failure.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error, partial *AdvanceResponse) {
	status, code := http.StatusInternalServerError, "server_error"
	switch {
	case errors.Is(err, domain.ErrInvalidTrigger), errors.Is(err, domain.ErrInvalidTemplateConfig):
		status, code = http.StatusBadRequest, "validation_failed"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrTemplateConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusServiceUnavailable, "canceled"
	case errors.Is(err, domain.ErrTransientStore):
		status, code = http.StatusServiceUnavailable, "retryable"
	}

	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"status": status,
		}).Error("request failed")
	}

	if partial != nil {
		writeJSON(w, status, ErrorWithProgress{Type: code, Detail: err.Error(), AdvanceResponse: *partial})
		return
	}
	writeError(w, status, code, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body: "+err.Error())
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{
		"type":   code,
		"detail": detail,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
