package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"casedraft-backend/engine"
	"casedraft-backend/models"
	"casedraft-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderEngineToken authenticates engine callbacks
const HeaderEngineToken = "X-Engine-Token"

// CaseService is the part of the orchestrator the case endpoints use
type CaseService interface {
	SubmitCase(ctx context.Context, req service.SubmitCaseRequest) (*service.SubmitCaseResult, error)
	GetCase(ctx context.Context, id uuid.UUID, identity models.Identity) (*models.Case, error)
	ListCases(ctx context.Context, req service.ListCasesRequest) ([]*models.Case, error)
	SubmitUserInput(ctx context.Context, req service.SubmitUserInputRequest) (*service.SubmitUserInputResult, error)
	SubmitFeedback(ctx context.Context, req service.SubmitFeedbackRequest) (*service.SubmitFeedbackResult, error)
	RetryStalled(ctx context.Context, id uuid.UUID) (*models.Case, error)
	ReopenCase(ctx context.Context, req service.ReopenCaseRequest) (*models.Case, error)
	EngineCallback(ctx context.Context, req service.EngineCallbackRequest) (*service.EngineCallbackResult, error)
	ConfirmPayment(ctx context.Context, req service.ConfirmPaymentRequest) (*service.ConfirmPaymentResult, error)
	Drive(ctx context.Context, id uuid.UUID) (*models.Case, error)
}

// CaseHandler handles HTTP requests for cases and payments. Event endpoints
// commit the event, answer 202 and drive the case in the background.
type CaseHandler struct {
	cases         CaseService
	logger        *slog.Logger
	driveTimeout  time.Duration
	callbackToken string
	dispatch      func(task func())
}

// CaseHandlerOption configures a CaseHandler
type CaseHandlerOption func(*CaseHandler)

// WithDriveTimeout bounds one background drive
func WithDriveTimeout(d time.Duration) CaseHandlerOption {
	return func(h *CaseHandler) {
		h.driveTimeout = d
	}
}

// WithCallbackToken requires engine callbacks to carry the token
func WithCallbackToken(token string) CaseHandlerOption {
	return func(h *CaseHandler) {
		h.callbackToken = token
	}
}

// WithDispatcher replaces the goroutine used for background drives
func WithDispatcher(dispatch func(task func())) CaseHandlerOption {
	return func(h *CaseHandler) {
		h.dispatch = dispatch
	}
}

// WithHandlerLogger sets the logger
func WithHandlerLogger(logger *slog.Logger) CaseHandlerOption {
	return func(h *CaseHandler) {
		h.logger = logger
	}
}

// NewCaseHandler creates a new case handler
func NewCaseHandler(cases CaseService, opts ...CaseHandlerOption) *CaseHandler {
	h := &CaseHandler{
		cases:        cases,
		logger:       slog.Default(),
		driveTimeout: 10 * time.Minute,
		dispatch:     func(task func()) { go task() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the case routes. The engine callback is mounted on its own
// group since it is called by the engine, not by a user.
func (h *CaseHandler) Register(api *gin.RouterGroup, callbacks *gin.RouterGroup) {
	api.POST("/cases", h.CreateCase)
	api.GET("/cases", h.ListCases)
	api.GET("/cases/:id", h.GetCase)
	api.POST("/cases/:id/inputs", h.SubmitInput)
	api.POST("/cases/:id/feedback", h.SubmitFeedback)
	api.POST("/cases/:id/retry", h.RetryCase)
	api.POST("/cases/:id/reopen", h.ReopenCase)
	api.POST("/payments/confirm", h.ConfirmPayment)

	callbacks.POST("/cases/:id/engine-callback", h.EngineCallback)
}

// drive runs the case in the background with a context detached from the
// request
func (h *CaseHandler) drive(id uuid.UUID) {
	h.dispatch(func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.driveTimeout)
		defer cancel()

		c, err := h.cases.Drive(ctx, id)
		switch {
		case err == nil:
			h.logger.Debug("case driven", "case_id", id, "state", c.State, "version", c.Version)
		case errors.Is(err, service.ErrStalledCase):
			h.logger.Info("case stalled", "case_id", id, "error", err)
		default:
			h.logger.Error("drive failed", "case_id", id, "error", err)
		}
	})
}

// CreateCaseRequest represents the request body for opening a case
type CreateCaseRequest struct {
	CaseID      *uuid.UUID        `json:"case_id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Facts       map[string]string `json:"facts"`
	EventID     string            `json:"event_id"`
}

// CreateCase handles POST /api/cases
func (h *CaseHandler) CreateCase(c *gin.Context) {
	var req CreateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	result, err := h.cases.SubmitCase(c.Request.Context(), service.SubmitCaseRequest{
		CaseID:      req.CaseID,
		Identity:    identityFrom(c),
		Title:       req.Title,
		Description: req.Description,
		Facts:       req.Facts,
		EventID:     req.EventID,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	if !result.Created {
		respondOK(c, http.StatusOK, result.Case)
		return
	}
	h.drive(result.Case.ID)
	respondOK(c, http.StatusAccepted, result.Case)
}

// ListCasesQuery represents the query string of GET /api/cases
type ListCasesQuery struct {
	State  string `form:"state"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

// ListCases handles GET /api/cases
func (h *CaseHandler) ListCases(c *gin.Context) {
	var q ListCasesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	req := service.ListCasesRequest{
		Identity: identityFrom(c),
		Limit:    q.Limit,
		Offset:   q.Offset,
	}
	if q.State != "" {
		state := models.CaseState(q.State)
		req.State = &state
	}

	cases, err := h.cases.ListCases(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, cases)
}

// GetCase handles GET /api/cases/:id
func (h *CaseHandler) GetCase(c *gin.Context) {
	id, ok := parseID(c, "case")
	if !ok {
		return
	}
	kase, err := h.cases.GetCase(c.Request.Context(), id, identityFrom(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, kase)
}

// SubmitInputRequest represents the request body for adding case input
type SubmitInputRequest struct {
	EventID   string            `json:"event_id"`
	Facts     map[string]string `json:"facts"`
	Narrative string            `json:"narrative"`
}

// SubmitInput handles POST /api/cases/:id/inputs
func (h *CaseHandler) SubmitInput(c *gin.Context) {
	id, ok := parseID(c, "case")
	if !ok {
		return
	}
	var req SubmitInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	result, err := h.cases.SubmitUserInput(c.Request.Context(), service.SubmitUserInputRequest{
		CaseID:    id,
		Identity:  identityFrom(c),
		EventID:   req.EventID,
		Facts:     req.Facts,
		Narrative: req.Narrative,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	if !result.Duplicate {
		h.drive(id)
	}
	respondOK(c, http.StatusAccepted, gin.H{
		"case":      result.Case,
		"duplicate": result.Duplicate,
	})
}

// SubmitFeedbackRequest represents the request body for draft feedback
type SubmitFeedbackRequest struct {
	EventID   string            `json:"event_id"`
	Satisfied bool              `json:"satisfied"`
	Comment   string            `json:"comment"`
	Facts     map[string]string `json:"facts"`
}

// SubmitFeedback handles POST /api/cases/:id/feedback
func (h *CaseHandler) SubmitFeedback(c *gin.Context) {
	id, ok := parseID(c, "case")
	if !ok {
		return
	}
	var req SubmitFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	result, err := h.cases.SubmitFeedback(c.Request.Context(), service.SubmitFeedbackRequest{
		CaseID:    id,
		Identity:  identityFrom(c),
		EventID:   req.EventID,
		Satisfied: req.Satisfied,
		Comment:   req.Comment,
		Facts:     req.Facts,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	if !result.Duplicate && result.Case.State != models.StateClosed {
		h.drive(id)
	}
	respondOK(c, http.StatusAccepted, gin.H{
		"case":      result.Case,
		"duplicate": result.Duplicate,
	})
}

// RetryCase handles POST /api/cases/:id/retry
func (h *CaseHandler) RetryCase(c *gin.Context) {
	id, ok := parseID(c, "case")
	if !ok {
		return
	}
	if _, err := h.cases.GetCase(c.Request.Context(), id, identityFrom(c)); err != nil {
		respondServiceError(c, err)
		return
	}

	kase, err := h.cases.RetryStalled(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	h.drive(id)
	respondOK(c, http.StatusAccepted, kase)
}

// ReopenCaseRequest represents the request body for reopening a closed case
type ReopenCaseRequest struct {
	Facts     map[string]string `json:"facts"`
	Narrative string            `json:"narrative"`
}

// ReopenCase handles POST /api/cases/:id/reopen
func (h *CaseHandler) ReopenCase(c *gin.Context) {
	id, ok := parseID(c, "case")
	if !ok {
		return
	}
	var req ReopenCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	kase, err := h.cases.ReopenCase(c.Request.Context(), service.ReopenCaseRequest{
		CaseID:    id,
		Identity:  identityFrom(c),
		Facts:     req.Facts,
		Narrative: req.Narrative,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	h.drive(kase.ID)
	respondOK(c, http.StatusCreated, kase)
}

// ConfirmPaymentRequest represents the request body of a payment confirmation
type ConfirmPaymentRequest struct {
	CaseID     *uuid.UUID `json:"case_id"`
	Tier       string     `json:"tier"`
	Credits    int        `json:"credits" binding:"required"`
	PaymentRef string     `json:"payment_ref" binding:"required"`
}

// ConfirmPayment handles POST /api/payments/confirm
func (h *CaseHandler) ConfirmPayment(c *gin.Context) {
	var req ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	var tier models.Tier
	if req.Tier != "" {
		parsed, err := models.ParseTier(req.Tier)
		if err != nil {
			respondError(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
			return
		}
		tier = parsed
	}

	result, err := h.cases.ConfirmPayment(c.Request.Context(), service.ConfirmPaymentRequest{
		Identity:   identityFrom(c),
		CaseID:     req.CaseID,
		Tier:       tier,
		Credits:    req.Credits,
		PaymentRef: req.PaymentRef,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	if result.Case != nil && result.Case.State == models.StateGathering {
		h.drive(result.Case.ID)
	}
	respondOK(c, http.StatusOK, gin.H{
		"entry": result.Entry,
		"case":  result.Case,
	})
}

// EngineFailure is a failed consult reported by the engine
type EngineFailure struct {
	Code     engine.Code `json:"code" binding:"required"`
	Message  string      `json:"message"`
	Attempts int         `json:"attempts"`
}

// EngineCallbackRequest represents the body of an engine callback
type EngineCallbackRequest struct {
	ExpectedVersion int64          `json:"expected_version" binding:"required"`
	Kind            engine.Kind    `json:"kind" binding:"required"`
	Result          *engine.Result `json:"result"`
	Failure         *EngineFailure `json:"failure"`
}

// EngineCallback handles POST /api/cases/:id/engine-callback
func (h *CaseHandler) EngineCallback(c *gin.Context) {
	if h.callbackToken != "" &&
		subtle.ConstantTimeCompare([]byte(c.GetHeader(HeaderEngineToken)), []byte(h.callbackToken)) != 1 {
		respondError(c, http.StatusUnauthorized, "UNAUTHENTICATED", "Invalid engine token")
		return
	}
	id, ok := parseID(c, "case")
	if !ok {
		return
	}
	var req EngineCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	serviceReq := service.EngineCallbackRequest{
		CaseID:          id,
		ExpectedVersion: req.ExpectedVersion,
		Kind:            req.Kind,
		Result:          req.Result,
	}
	if req.Failure != nil {
		attempts := req.Failure.Attempts
		if attempts < 1 {
			attempts = 1
		}
		serviceReq.Failure = &engine.Error{
			Kind:     req.Kind,
			Code:     req.Failure.Code,
			Attempts: attempts,
			Err:      errors.New(req.Failure.Message),
		}
	}

	result, err := h.cases.EngineCallback(c.Request.Context(), serviceReq)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	if !result.Discarded {
		h.drive(id)
	}
	respondOK(c, http.StatusAccepted, gin.H{
		"case":      result.Case,
		"discarded": result.Discarded,
	})
}
