package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/barrysci/stationtest-backend/internal/middleware"
	"github.com/barrysci/stationtest-backend/internal/model"
	"github.com/barrysci/stationtest-backend/internal/response"
	"github.com/barrysci/stationtest-backend/internal/session"
	"github.com/barrysci/stationtest-backend/internal/validator"
)

// SessionHandler exposes the test-session state machine over REST.
type SessionHandler struct {
	manager *session.Manager
	log     zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(manager *session.Manager, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		manager: manager,
		log:     log.With().Str("component", "session_handler").Logger(),
	}
}

// mapSessionError translates state machine sentinels to HTTP status + code.
func mapSessionError(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, session.ErrTestCompleted):
		return http.StatusConflict, response.ErrTestCompleted
	case errors.Is(err, session.ErrNoStations):
		return http.StatusNotFound, response.ErrNoStations
	case errors.Is(err, session.ErrConfirmationRequired):
		return http.StatusPreconditionRequired, response.ErrConfirmationRequired
	case errors.Is(err, session.ErrSessionBusy):
		return http.StatusConflict, response.ErrSessionBusy
	case errors.Is(err, session.ErrNotActive):
		return http.StatusConflict, response.ErrSessionNotFound
	case errors.Is(err, session.ErrSubmissionFailed):
		return http.StatusBadGateway, response.ErrSubmissionFailed
	case errors.Is(err, session.ErrMissingCredentials),
		errors.Is(err, session.ErrInvalidQuestion):
		return http.StatusBadRequest, response.ErrValidation
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// Begin godoc
// POST /api/v1/session/begin
// Starts a fresh attempt or resumes a persisted one for this identity.
func (h *SessionHandler) Begin(c *gin.Context) {
	var req model.BeginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	identity := middleware.GetIdentity(c)
	creds := model.Credentials{Name: req.Name, Email: req.Email, Test: req.Test}

	snap, err := h.manager.Begin(c.Request.Context(), identity, creds)
	if err != nil {
		status, code := mapSessionError(err)
		response.Fail(c, status, code)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": snap})
}

// State godoc
// GET /api/v1/tests/:test/session
// Returns the current snapshot of the live attempt.
func (h *SessionHandler) State(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": ctrl.Snapshot()})
}

// Answer godoc
// PUT /api/v1/tests/:test/session/answers
// Saves one answer and updates the answered flag.
func (h *SessionHandler) Answer(c *gin.Context) {
	var req model.AnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	if err := ctrl.SetAnswer(c.Request.Context(), req.Question, req.Value); err != nil {
		h.failSession(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": ctrl.Snapshot()})
}

// ToggleMark godoc
// POST /api/v1/tests/:test/session/marks
// Toggles the marked-for-review flag on a question.
func (h *SessionHandler) ToggleMark(c *gin.Context) {
	var req model.MarkRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	if err := ctrl.ToggleMark(c.Request.Context(), req.Question); err != nil {
		h.failSession(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": ctrl.Snapshot()})
}

// Visit godoc
// POST /api/v1/tests/:test/session/visits
// Reports scroll progress so unanswered questions passed by become skipped.
func (h *SessionHandler) Visit(c *gin.Context) {
	var req model.VisitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	if err := ctrl.Visit(c.Request.Context(), req.Question); err != nil {
		h.failSession(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": ctrl.Snapshot()})
}

// Visibility godoc
// POST /api/v1/tests/:test/session/visibility
// Reports page hide/show for out-of-app time accounting.
func (h *SessionHandler) Visibility(c *gin.Context) {
	var req model.VisibilityRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	if err := ctrl.SetHidden(c.Request.Context(), *req.Hidden); err != nil {
		h.failSession(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": ctrl.Snapshot()})
}

// Advance godoc
// POST /api/v1/tests/:test/session/advance
// Submits the current station and moves on; on the last station this is the
// final, synchronous submission.
func (h *SessionHandler) Advance(c *gin.Context) {
	var req model.AdvanceRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	snap, err := ctrl.Advance(c.Request.Context(), req.Confirmed)
	if err != nil {
		h.failSession(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": snap})
}

func (h *SessionHandler) controller(c *gin.Context) (*session.Controller, bool) {
	identity := middleware.GetIdentity(c)
	testName := c.Param("test")

	ctrl, ok := h.manager.Get(identity, testName)
	if !ok {
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
		return nil, false
	}
	return ctrl, true
}

func (h *SessionHandler) failSession(c *gin.Context, err error) {
	status, code := mapSessionError(err)
	if code == response.ErrInternal {
		h.log.Error().Err(err).Msg("Session operation failed")
	}
	response.Fail(c, status, code)
}
