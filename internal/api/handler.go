package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/techcortex/buildcheck/internal/bus"
	"github.com/techcortex/buildcheck/internal/catalog"
	"github.com/techcortex/buildcheck/internal/domain"
	"github.com/techcortex/buildcheck/internal/rules"
	"github.com/techcortex/buildcheck/internal/validation"
)

var validate = validator.New()

// Handler holds dependencies for API handlers.
type Handler struct {
	repo         domain.Repository
	cache        domain.Cache
	bus          domain.EventBus
	source       *catalog.Source
	evaluator    *rules.Evaluator
	orchestrator *validation.Orchestrator
	version      string
}

// Dependencies are the collaborators a Handler serves requests with.
// Cache and Bus may be nil.
type Dependencies struct {
	Repository   domain.Repository
	Cache        domain.Cache
	Bus          domain.EventBus
	Source       *catalog.Source
	Evaluator    *rules.Evaluator
	Orchestrator *validation.Orchestrator
	Version      string
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		repo:         deps.Repository,
		cache:        deps.Cache,
		bus:          deps.Bus,
		source:       deps.Source,
		evaluator:    deps.Evaluator,
		orchestrator: deps.Orchestrator,
		version:      deps.Version,
	}
}

// ValidateRequest is the request body for POST /validate.
type ValidateRequest struct {
	BuildID   string           `json:"buildId" validate:"omitempty,max=128"`
	Selection domain.Selection `json:"selection" validate:"required,max=64,dive,keys,required,max=64,endkeys,max=32"`
}

// ValidateResponse is the response for POST /validate.
type ValidateResponse struct {
	ValidationID string                   `json:"validationId,omitempty"`
	BuildID      string                   `json:"buildId,omitempty"`
	Result       domain.ValidationResult  `json:"result"`
	Breakdown    []rules.CategoryFindings `json:"breakdown"`
	Metadata     struct {
		TraceID        string `json:"traceId"`
		PairsEvaluated int    `json:"pairsEvaluated"`
		RulesEvaluated int    `json:"rulesEvaluated"`
		TotalMs        int64  `json:"totalMs"`
		Version        string `json:"version"`
	} `json:"metadata"`
}

// Validate handles POST /validate: one synchronous validation run.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req ValidateRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	snap, err := h.source.Load(ctx, tenantID, req.Selection.PartIDs())
	if err != nil {
		slog.Error("failed to load catalog snapshot", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load catalog")
		return
	}

	report, err := h.orchestrator.Run(ctx, snap, req.Selection)
	if err != nil {
		// Client went away mid-run.
		slog.Warn("validation cancelled", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "validation cancelled")
		return
	}

	record := validation.Record(validation.RecordInput{
		TenantID:  tenantID,
		BuildID:   req.BuildID,
		TraceID:   traceID,
		Selection: req.Selection,
	}, report)

	resp := ValidateResponse{
		BuildID:   req.BuildID,
		Result:    report.Result,
		Breakdown: rules.CategoryBreakdown(report.Result, snap.Categories()),
	}
	if resp.Breakdown == nil {
		resp.Breakdown = []rules.CategoryFindings{}
	}

	if h.repo != nil {
		if err := h.repo.SaveValidation(ctx, tenantID, record); err != nil {
			slog.Error("failed to save validation", "validation_id", record.ID, "error", err)
		} else {
			resp.ValidationID = record.ID
		}
	}

	resp.Metadata.TraceID = traceID
	resp.Metadata.PairsEvaluated = report.Stats.Pairs
	resp.Metadata.RulesEvaluated = report.Stats.RulesEvaluated
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// SelectionRequest is the request body for POST /builds/{id}/selection.
type SelectionRequest struct {
	Selection domain.Selection `json:"selection" validate:"required,max=64,dive,keys,required,max=64,endkeys,max=32"`
}

// PublishSelection handles POST /builds/{id}/selection. The selection is
// validated asynchronously after the debounce window; the result arrives on
// the validation topic and under GET /validations.
func (h *Handler) PublishSelection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)
	buildID := chi.URLParam(r, "id")

	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}

	var req SelectionRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	event := domain.SelectionChanged{
		TenantID:  tenantID,
		BuildID:   buildID,
		TraceID:   traceID,
		Selection: req.Selection,
	}
	if err := bus.PublishJSON(ctx, h.bus, tenantID, domain.TopicSelectionChanged, event); err != nil {
		slog.Error("failed to publish selection", "build_id", buildID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to publish selection")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"buildId": buildID,
		"traceId": traceID,
	})
}

// GetValidation retrieves a persisted validation by ID.
func (h *Handler) GetValidation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	validationID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	v, err := h.repo.GetValidation(ctx, tenantID, validationID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "validation not found")
		return
	}
	if err != nil {
		slog.Error("failed to get validation", "validation_id", validationID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get validation")
		return
	}

	writeJSON(w, http.StatusOK, v)
}

// CategoryView is a category with its resolved parent and templates.
type CategoryView struct {
	domain.Category
	ParentSlug  string                     `json:"parentSlug"`
	MultiSelect bool                       `json:"multiSelect"`
	Templates   []domain.AttributeTemplate `json:"templates"`
}

// ListCategories handles GET /categories.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	snap, err := h.source.Schema(ctx, tenantID)
	if err != nil {
		slog.Error("failed to load catalog schema", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load catalog")
		return
	}

	categories := snap.Categories()
	views := make([]CategoryView, 0, len(categories))
	for _, c := range categories {
		parentSlug, _ := snap.ResolveParentSlug(c.Slug)
		templates, _ := snap.TemplatesFor(c.ID)
		if templates == nil {
			templates = []domain.AttributeTemplate{}
		}
		views = append(views, CategoryView{
			Category:    c,
			ParentSlug:  parentSlug,
			MultiSelect: snap.IsMultiSelect(c.Slug),
			Templates:   templates,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"categories": views,
		"count":      len(views),
	})
}

// RuleView is a rule with the configuration error it was loaded with.
type RuleView struct {
	domain.CompatibilityRule
	Error string `json:"error,omitempty"`
}

// ListRules handles GET /rules: indexed rules, load problems and the
// registered custom checks.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	snap, err := h.source.Schema(ctx, tenantID)
	if err != nil {
		slog.Error("failed to load catalog schema", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load catalog")
		return
	}

	indexed := snap.Rules()
	views := make([]RuleView, 0, len(indexed))
	for _, rule := range indexed {
		view := RuleView{CompatibilityRule: rule}
		if err := snap.RuleError(rule.ID); err != nil {
			view.Error = err.Error()
		}
		views = append(views, view)
	}

	problems := make([]string, 0)
	for _, p := range snap.Problems() {
		problems = append(problems, p.Error())
	}

	var checks []string
	if h.evaluator != nil {
		checks = h.evaluator.Checks()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":    views,
		"count":    len(views),
		"problems": problems,
		"checks":   checks,
	})
}

// GetRule handles GET /rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	rule, err := h.repo.GetRule(ctx, tenantID, ruleID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		slog.Error("failed to get rule", "rule_id", ruleID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get rule")
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// RuleRequest is the request body for POST /rules/check.
type RuleRequest struct {
	ID                   string   `json:"id" validate:"required,max=128"`
	Name                 string   `json:"name" validate:"required,max=128"`
	Description          string   `json:"description" validate:"max=1024"`
	PrimaryCategoryID    string   `json:"primaryCategoryId" validate:"required"`
	PrimaryAttributeID   string   `json:"primaryAttributeId" validate:"required"`
	SecondaryCategoryID  string   `json:"secondaryCategoryId" validate:"required"`
	SecondaryAttributeID string   `json:"secondaryAttributeId" validate:"required"`
	RuleType             string   `json:"ruleType" validate:"required"`
	CompatibleValues     []string `json:"compatibleValues" validate:"omitempty,dive,required"`
	MinValue             *float64 `json:"minValue"`
	MaxValue             *float64 `json:"maxValue"`
	CustomCheckRef       string   `json:"customCheckRef"`
}

// RuleCheckResponse reports whether a rule would load cleanly.
type RuleCheckResponse struct {
	Valid bool                      `json:"valid"`
	Error string                    `json:"error,omitempty"`
	Rule  *domain.CompatibilityRule `json:"rule,omitempty"`
}

// CheckRule handles POST /rules/check: a dry run of a rule against the
// tenant's current schema, for admin tools to call before they store it.
// Nothing is written.
func (h *Handler) CheckRule(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())

	var req RuleRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	ruleType, err := domain.ParseRuleType(req.RuleType)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, RuleCheckResponse{Error: err.Error()})
		return
	}

	rule := &domain.CompatibilityRule{
		ID:                   req.ID,
		Name:                 req.Name,
		Description:          req.Description,
		PrimaryCategoryID:    req.PrimaryCategoryID,
		PrimaryAttributeID:   req.PrimaryAttributeID,
		SecondaryCategoryID:  req.SecondaryCategoryID,
		SecondaryAttributeID: req.SecondaryAttributeID,
		RuleType:             ruleType,
		CompatibleValues:     req.CompatibleValues,
		MinValue:             req.MinValue,
		MaxValue:             req.MaxValue,
		CustomCheckRef:       req.CustomCheckRef,
	}

	if err := h.checkRule(r, tenantID, rule); err != nil {
		slog.Debug("rule check failed", "tenant_id", tenantID, "rule_id", rule.ID, "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, RuleCheckResponse{Error: err.Error(), Rule: rule})
		return
	}

	writeJSON(w, http.StatusOK, RuleCheckResponse{Valid: true, Rule: rule})
}

func (h *Handler) checkRule(r *http.Request, tenantID string, rule *domain.CompatibilityRule) error {
	if err := rule.CheckPayload(); err != nil {
		return err
	}

	if rule.RuleType == domain.RuleCustom && h.evaluator != nil {
		if expr, ok := strings.CutPrefix(rule.CustomCheckRef, rules.CELPrefix); ok {
			if err := h.evaluator.ValidateExpression(expr); err != nil {
				return err
			}
		} else if !contains(h.evaluator.Checks(), rule.CustomCheckRef) {
			return fmt.Errorf("unknown custom check %q", rule.CustomCheckRef)
		}
	}

	snap, err := h.source.Schema(r.Context(), tenantID)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	for _, side := range []struct{ category, template string }{
		{rule.PrimaryCategoryID, rule.PrimaryAttributeID},
		{rule.SecondaryCategoryID, rule.SecondaryAttributeID},
	} {
		if _, ok := snap.Category(side.category); !ok {
			return &domain.NotFoundError{Kind: "category", ID: side.category}
		}
		tpl, ok := snap.Template(side.template)
		if !ok {
			return &domain.NotFoundError{Kind: "attribute template", ID: side.template}
		}
		if tpl.CategoryID != side.category {
			return fmt.Errorf("template %s belongs to category %s, not %s", tpl.ID, tpl.CategoryID, side.category)
		}
		if !tpl.IsCompatibilityKey {
			return fmt.Errorf("template %s is not a compatibility key", tpl.ID)
		}
	}
	return nil
}

// ReloadCatalog handles POST /catalog/reload: drops the tenant's cached
// schema so the next run reads the store.
func (h *Handler) ReloadCatalog(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())

	if err := h.catalogChanged(r, tenantID, "reload requested"); err != nil {
		slog.Error("failed to invalidate catalog", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to invalidate catalog")
		return
	}

	snap, err := h.source.Schema(r.Context(), tenantID)
	if err != nil {
		slog.Error("failed to reload catalog", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload catalog")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "catalog reloaded",
		"categories": len(snap.Categories()),
		"rules":      len(snap.Rules()),
		"problems":   len(snap.Problems()),
	})
}

// catalogChanged invalidates the local cache and tells other replicas.
// A failed publish is logged only; replicas fall back to the snapshot TTL.
func (h *Handler) catalogChanged(r *http.Request, tenantID, reason string) error {
	ctx := r.Context()
	if err := h.source.Invalidate(ctx, tenantID); err != nil {
		return err
	}
	if h.bus == nil {
		return nil
	}
	event := domain.CatalogChanged{TenantID: tenantID, Reason: reason}
	if err := bus.PublishJSON(ctx, h.bus, tenantID, domain.TopicCatalogChanged, event); err != nil {
		slog.Warn("failed to publish catalog change", "tenant_id", tenantID, "error", err)
	}
	return nil
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether the store can serve validations.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"ready": "false"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// decodeRequest parses and validates a JSON body, writing a 400 on failure.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, describeValidation(err))
		return false
	}
	return true
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return strings.Join(msgs, "; ")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
