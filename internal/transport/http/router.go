// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/craftline/production-tracker/internal/domain"
	"github.com/craftline/production-tracker/internal/metrics"
	"github.com/craftline/production-tracker/internal/transport/middleware"
	"github.com/craftline/production-tracker/internal/workflow"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	dueDateLayout       = "2006-01-02"
	readinessTimeout    = 2 * time.Second
	defaultStoreTimeout = 5 * time.Second
)

type createOrderItemRequest struct {
	OrderRef    string          `json:"order_ref" validate:"required,max=64"`
	ProductType string          `json:"product_type" validate:"required,oneof=sofa bed"`
	Product     json.RawMessage `json:"product" validate:"required"`
	Priority    int             `json:"priority" validate:"min=0,max=10"`
	DueDate     string          `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	Initialize  *bool           `json:"initialize"`
}

type updateCheckRequest struct {
	Status        string  `json:"status" validate:"required,check_status"`
	Notes         *string `json:"notes" validate:"omitempty,max=2000"`
	FailureReport *string `json:"failure_report" validate:"omitempty,max=4000"`
}

type proceedRequest struct {
	CurrentStage string `json:"current_stage" validate:"required,stage"`
}

type createOperatorRequest struct {
	Name              string `json:"name" validate:"required,max=100"`
	MaxRequestsPerMin int    `json:"max_requests_per_min" validate:"omitempty,min=1,max=10000"`
}

type createCheckRequest struct {
	Stage    string `json:"stage" validate:"required,stage"`
	Name     string `json:"name" validate:"required,max=200"`
	Sequence int    `json:"sequence" validate:"min=0"`
}

type orderItemResponse struct {
	ID          int64              `json:"id"`
	OrderRef    string             `json:"order_ref"`
	ProductType domain.ProductType `json:"product_type"`
	Product     json.RawMessage    `json:"product"`
	Priority    int                `json:"priority"`
	DueDate     string             `json:"due_date,omitempty"`
	DeliveredAt *time.Time         `json:"delivered_at,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

type Deps struct {
	Workflow         WorkflowService
	OrderItems       OrderItemRegistry
	Events           EventLister
	Operators        OperatorManager
	Checks           CheckAdmin
	OperatorResolver OperatorResolver
	Readiness        HealthChecker
	Logger           *slog.Logger
	AdminToken       string
	// StoreTimeout bounds the repository calls the router makes directly.
	StoreTimeout     time.Duration
	Version          string
	Commit           string
	BuildDate        string
}

type api struct {
	deps         Deps
	logger       *slog.Logger
	storeTimeout time.Duration
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")

	storeTimeout := deps.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}

	a := &api{deps: deps, logger: logger, storeTimeout: storeTimeout}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("health check hit")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness != nil {
			ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
			defer cancel()
			if err := deps.Readiness.Check(ctx); err != nil {
				logger.Warn("readiness check failed", "error", err)
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- ADMIN ----------------

	if deps.Operators != nil {
		r.Route("/operators", func(admin chi.Router) {
			admin.Use(middleware.AdminTokenAuth(deps.AdminToken, logger))
			admin.Post("/", a.createOperator)
			admin.Get("/", a.listOperators)
			admin.Delete("/{id}", a.revokeOperator)
		})
	}

	if deps.Checks != nil {
		r.Route("/checks", func(admin chi.Router) {
			admin.Use(middleware.AdminTokenAuth(deps.AdminToken, logger))
			admin.Post("/", a.upsertCheck)
			admin.Get("/", a.listChecks)
		})
	}

	// ---------------- WORKFLOW (OPERATOR AUTH) ----------------

	r.Group(func(r chi.Router) {
		if deps.OperatorResolver != nil {
			r.Use(middleware.OperatorAuth(deps.OperatorResolver, logger))
		}

		r.Get("/stages", a.listStages)
		r.Get("/stages/{stage}/order-items", a.listBoard)

		r.Post("/order-items", a.createOrderItem)
		r.Route("/order-items/{id}", func(r chi.Router) {
			r.Get("/", a.getOrderItem)
			r.Post("/initialize", a.initialize)
			r.Get("/stages", a.stageStatuses)
			r.Get("/stages/{stage}/checklist", a.checklist)
			r.Get("/checklists/active", a.activeChecklists)
			r.Put("/checks/{checkID}", a.updateCheck)
			r.Post("/proceed", a.proceed)
			r.Post("/deliver", a.deliver)
			r.Get("/events", a.listEvents)
		})
	})

	return r
}

// ---------------- STAGES ----------------

func (a *api) listStages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"stages": a.deps.Workflow.Stages(),
	})
}

func (a *api) listBoard(w http.ResponseWriter, r *http.Request) {
	stage, err := domain.ParseStage(chi.URLParam(r, "stage"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	cards, err := storeCall(a, r, "list_board", func(ctx context.Context) ([]domain.BoardCard, error) {
		return a.deps.OrderItems.ListOrderItemsByActiveStage(ctx, stage)
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if cards == nil {
		cards = []domain.BoardCard{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"stage":       stage,
		"order_items": cards,
	})
}

// ---------------- ORDER ITEMS ----------------

func (a *api) createOrderItem(w http.ResponseWriter, r *http.Request) {
	var req createOrderItemRequest
	if err := decodeAndValidate(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	product, err := domain.DecodeProduct(domain.ProductType(req.ProductType), req.Product)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	params := domain.CreateOrderItemParams{
		OrderRef: req.OrderRef,
		Product:  product,
		Priority: req.Priority,
	}
	if req.DueDate != "" {
		due, err := time.Parse(dueDateLayout, req.DueDate)
		if err != nil {
			a.writeError(w, r, fmt.Errorf("%w: due_date: %v", domain.ErrValidation, err))
			return
		}
		params.DueDate = &due
	}

	initialized := req.Initialize == nil || *req.Initialize
	item, err := a.deps.Workflow.CreateOrderItem(r.Context(), params, initialized)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	resp, err := newOrderItemResponse(item)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	a.logger.Info("order item registered via API",
		"order_item_id", item.ID,
		"order_ref", item.OrderRef,
		"initialized", initialized,
	)

	writeResult(w, http.StatusCreated, map[string]any{
		"order_item":  resp,
		"initialized": initialized,
	})
}

func (a *api) getOrderItem(w http.ResponseWriter, r *http.Request) {
	id, err := orderItemIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	item, err := storeCall(a, r, "get_order_item", func(ctx context.Context) (domain.OrderItem, error) {
		return a.deps.OrderItems.GetOrderItem(ctx, id)
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	resp, err := newOrderItemResponse(item)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---------------- STAGE STATUS ----------------

func (a *api) initialize(w http.ResponseWriter, r *http.Request) {
	id, err := orderItemIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	if err := a.deps.Workflow.Initialize(r.Context(), id); err != nil {
		a.writeError(w, r, err)
		return
	}

	writeResult(w, http.StatusOK, map[string]any{
		"order_item_id": id,
	})
}

func (a *api) stageStatuses(w http.ResponseWriter, r *http.Request) {
	id, err := orderItemIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	progress, err := a.deps.Workflow.Progress(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if progress.Stages == nil {
		progress.Stages = []domain.StageStatusRecord{}
	}
	writeJSON(w, http.StatusOK, progress)
}

// ---------------- CHECKLISTS ----------------

func (a *api) checklist(w http.ResponseWriter, r *http.Request) {
	id, err := orderItemIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	stage, err := domain.ParseStage(chi.URLParam(r, "stage"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	items, err := a.deps.Workflow.ChecklistForStage(r.Context(), id, stage)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []domain.ChecklistItem{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"order_item_id": id,
		"stage":         stage,
		"items":         items,
	})
}

func (a *api) activeChecklists(w http.ResponseWriter, r *http.Request) {
	id, err := orderItemIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	active, err := a.deps.Workflow.ActiveChecklist(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if active.Groups == nil {
		active.Groups = []domain.ChecklistGroup{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"order_item_id": active.OrderItemID,
		"groups":        active.Groups,
		"by_label":      active.ByLabel(),
	})
}

func (a *api) updateCheck(w http.ResponseWriter, r *http.Request) {
	id, err := orderItemIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	checkID, err := uuid.Parse(chi.URLParam(r, "checkID"))
	if err != nil {
		a.writeError(w, r, fmt.Errorf("%w: invalid check id", domain.ErrValidation))
		return
	}

	var req updateCheckRequest
	if err := decodeAndValidate(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	status, err := domain.ParseCheckStatus(req.Status)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	progress, err := a.deps.Workflow.UpdateCheckStatus(r.Context(), domain.CheckUpdate{
		OrderItemID:   id,
		CheckID:       checkID,
		Status:        status,
		Notes:         req.Notes,
		FailureReport: req.FailureReport,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeResult(w, http.StatusOK, map[string]any{
		"progress": progress,
	})
}

// ---------------- TRANSITIONS ----------------

func (a *api) proceed(w http.ResponseWriter, r *http.Request) {
	id, err := orderItemIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	var req proceedRequest
	if err := decodeAndValidate(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	current, err := domain.ParseStage(req.CurrentStage)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	transition, err := a.deps.Workflow.Proceed(r.Context(), id, current)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeResult(w, http.StatusOK, map[string]any{
		"transition": transition,
	})
}

func (a *api) deliver(w http.ResponseWriter, r *http.Request) {
	id, err := orderItemIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	delivery, err := a.deps.Workflow.MarkDelivered(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeResult(w, http.StatusOK, map[string]any{
		"delivery": delivery,
	})
}

// ---------------- EVENTS ----------------

func (a *api) listEvents(w http.ResponseWriter, r *http.Request) {
	id, err := orderItemIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if a.deps.Events == nil {
		a.logger.Error("events repository is not configured")
		http.Error(w, "events unavailable", http.StatusInternalServerError)
		return
	}

	after := int64(0)
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		after, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || after < 0 {
			a.writeError(w, r, fmt.Errorf("%w: invalid after cursor", domain.ErrValidation))
			return
		}
	}

	events, err := storeCall(a, r, "list_events", func(ctx context.Context) ([]domain.EventRecord, error) {
		if _, err := a.deps.OrderItems.GetOrderItem(ctx, id); err != nil {
			return nil, err
		}
		return a.deps.Events.ListEventsAfter(ctx, id, after)
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []domain.EventRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"order_item_id": id,
		"events":        events,
	})
}

// ---------------- OPERATORS (ADMIN) ----------------

func (a *api) createOperator(w http.ResponseWriter, r *http.Request) {
	var req createOperatorRequest
	if err := decodeAndValidate(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	created, err := storeCall(a, r, "create_operator", func(ctx context.Context) (domain.CreatedOperator, error) {
		return a.deps.Operators.CreateOperator(ctx, domain.CreateOperatorParams{
			Name:              req.Name,
			MaxRequestsPerMin: req.MaxRequestsPerMin,
		})
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeResult(w, http.StatusCreated, map[string]any{
		"operator_id": created.ID.String(),
		"token":       created.Token,
	})
}

func (a *api) listOperators(w http.ResponseWriter, r *http.Request) {
	ops, err := storeCall(a, r, "list_operators", a.deps.Operators.ListOperators)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if ops == nil {
		ops = []domain.OperatorRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"operators": ops,
	})
}

func (a *api) revokeOperator(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, fmt.Errorf("%w: invalid operator id", domain.ErrValidation))
		return
	}

	if _, err := storeCall(a, r, "revoke_operator", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.deps.Operators.RevokeOperator(ctx, id)
	}); err != nil {
		a.writeError(w, r, err)
		return
	}

	a.logger.Info("operator revoked", "operator_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// ---------------- CHECK CATALOGUE (ADMIN) ----------------

func (a *api) upsertCheck(w http.ResponseWriter, r *http.Request) {
	var req createCheckRequest
	if err := decodeAndValidate(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	stage, err := domain.ParseStage(req.Stage)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	check, err := storeCall(a, r, "upsert_check", func(ctx context.Context) (domain.Check, error) {
		return a.deps.Checks.UpsertCheck(ctx, domain.CreateCheckParams{
			Stage:    stage,
			Name:     req.Name,
			Sequence: req.Sequence,
		})
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeResult(w, http.StatusOK, map[string]any{
		"check": check,
	})
}

func (a *api) listChecks(w http.ResponseWriter, r *http.Request) {
	checks, err := storeCall(a, r, "list_all_checks", a.deps.Checks.ListAllChecks)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if checks == nil {
		checks = []domain.Check{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checks": checks,
	})
}

// ---------------- STORE CALLS ----------------

// storeCall runs a repository read or write the router makes without the
// engine, under the store timeout and with the engine's error mapping.
func storeCall[T any](a *api, r *http.Request, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(r.Context(), a.storeTimeout)
	defer cancel()

	v, err := fn(ctx)
	if err != nil {
		var zero T
		return zero, workflow.StoreError(op, err)
	}
	return v, nil
}

// ---------------- RESPONSES ----------------

// errorStatus maps a domain error onto an HTTP status and a stable code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidOperatorName):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrStaleState):
		return http.StatusConflict, "STALE_STATE"
	case errors.Is(err, domain.ErrAlreadyInitialized):
		return http.StatusConflict, "ALREADY_INITIALIZED"
	case errors.Is(err, domain.ErrChecklistIncomplete):
		return http.StatusUnprocessableEntity, "CHECKLIST_INCOMPLETE"
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusUnprocessableEntity, "INVALID_STATE"
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusServiceUnavailable, "PERSISTENCE_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	msg := err.Error()

	switch {
	case status >= http.StatusInternalServerError:
		a.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"code", code,
			"error", err,
		)
		msg = "temporary storage failure, please retry"
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
		if status == http.StatusServiceUnavailable && w.Header().Get("Retry-After") == "" {
			w.Header().Set("Retry-After", "1")
		}
	case status == http.StatusBadRequest:
		a.logger.Debug("request rejected", "path", r.URL.Path, "code", code, "error", err)
	default:
		a.logger.Info("request rejected", "path", r.URL.Path, "code", code, "error", err)
	}

	writeJSON(w, status, map[string]any{
		"success": false,
		"code":    code,
		"error":   msg,
	})
}

func writeResult(w http.ResponseWriter, status int, fields map[string]any) {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["success"] = true
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newOrderItemResponse(item domain.OrderItem) (orderItemResponse, error) {
	productType, raw, err := domain.EncodeProduct(item.Product)
	if err != nil {
		return orderItemResponse{}, err
	}

	resp := orderItemResponse{
		ID:          item.ID,
		OrderRef:    item.OrderRef,
		ProductType: productType,
		Product:     raw,
		Priority:    item.Priority,
		DeliveredAt: item.DeliveredAt,
		CreatedAt:   item.CreatedAt,
	}
	if item.DueDate != nil {
		resp.DueDate = item.DueDate.UTC().Format(dueDateLayout)
	}
	return resp, nil
}

func orderItemIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid order item id", domain.ErrValidation)
	}
	return id, nil
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
