package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/fitquest/services/progression/internal/coordinator"
	"example.com/fitquest/services/progression/internal/domains"
	"example.com/fitquest/services/progression/internal/tracing"
	"example.com/fitquest/services/progression/internal/tracker"
)

// EventsHandler handles domain event HTTP requests
type EventsHandler struct {
	coordinator *coordinator.Coordinator
	reversal    *coordinator.ReversalService
	enricher    *coordinator.Enricher
	store       coordinator.EventLogStore
	operations  *tracker.Tracker
	tracer      tracing.Tracer
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(
	coord *coordinator.Coordinator,
	reversal *coordinator.ReversalService,
	enricher *coordinator.Enricher,
	store coordinator.EventLogStore,
	operations *tracker.Tracker,
	tracer tracing.Tracer,
) *EventsHandler {
	return &EventsHandler{
		coordinator: coord,
		reversal:    reversal,
		enricher:    enricher,
		store:       store,
		operations:  operations,
		tracer:      tracer,
	}
}

// EventRequest represents an incoming domain event
type EventRequest struct {
	Token     string                 `json:"token"`
	UserID    uuid.UUID              `json:"user_id" binding:"required"`
	Source    string                 `json:"source" binding:"required"`
	Action    string                 `json:"action" binding:"required"`
	Timestamp string                 `json:"timestamp"`
	Task      *domains.TaskPayload   `json:"task,omitempty"`
	Meal      *domains.MealPayload   `json:"meal,omitempty"`
	Weight    *domains.WeightPayload `json:"weight,omitempty"`
}

// ReverseRequest identifies the user asking for a reversal
type ReverseRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

// HandleIncomingEvent processes one domain event
func (h *EventsHandler) HandleIncomingEvent(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-incoming-event")
	defer h.tracer.EndTransaction(txn)

	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}
	if err := ValidateEventRequest(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	// Generate the operation token if the publisher did not supply one
	if req.Token == "" {
		req.Token = tracker.NewToken()
	}

	occurredAt := time.Now().UTC()
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "timestamp must be RFC3339"})
			return
		}
		occurredAt = parsed.UTC()
	}

	h.tracer.AddAttribute(txn, "token", req.Token)
	h.tracer.AddAttribute(txn, "source", req.Source)
	h.tracer.AddAttribute(txn, "action", req.Action)

	event := domains.Event{
		Token:     req.Token,
		UserID:    req.UserID,
		Source:    domains.Source(req.Source),
		Action:    domains.Action(req.Action),
		Timestamp: occurredAt,
		Task:      req.Task,
		Meal:      req.Meal,
		Weight:    req.Weight,
	}
	event = h.enricher.Enrich(c.Request.Context(), event)

	result, err := h.coordinator.ProcessEvent(c.Request.Context(), event)
	if err != nil {
		h.tracer.RecordError(txn, err)
		c.JSON(statusForError(err), result)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// HandleReverseEvent undoes a same-day event
func (h *EventsHandler) HandleReverseEvent(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-reverse-event")
	defer h.tracer.EndTransaction(txn)

	token := c.Param("token")

	var req ReverseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	h.tracer.AddAttribute(txn, "token", token)

	result, err := h.reversal.Reverse(c.Request.Context(), token, req.UserID)
	if err != nil {
		h.tracer.RecordError(txn, err)
		c.JSON(statusForError(err), result)
		return
	}

	c.JSON(http.StatusOK, result)
}

// HandleGetEvent returns an event log entry by token
func (h *EventsHandler) HandleGetEvent(c *gin.Context) {
	token := c.Param("token")

	entry, err := h.store.FindByToken(c.Request.Context(), token)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, entry)
}

// HandleGetOperation returns the in-flight stage trace for a token
func (h *EventsHandler) HandleGetOperation(c *gin.Context) {
	token := c.Param("token")

	operation, ok := h.operations.Lookup(token)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "operation not tracked"})
		return
	}

	c.JSON(http.StatusOK, operation)
}

// statusForError maps the error taxonomy onto HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, domains.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domains.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domains.ErrAlreadyReversed),
		errors.Is(err, domains.ErrNotReversible),
		errors.Is(err, domains.ErrDuplicateToken):
		return http.StatusConflict
	case errors.Is(err, domains.ErrTooLate):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domains.ErrUnknownDomain),
		errors.Is(err, domains.ErrUnsupportedAction),
		errors.Is(err, domains.ErrInvalidPayload):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// RegisterRoutes registers the handler's routes
func (h *EventsHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/api/v1/events", h.HandleIncomingEvent)
	router.POST("/api/v1/events/:token/reverse", h.HandleReverseEvent)
	router.GET("/api/v1/events/:token", h.HandleGetEvent)
	router.GET("/api/v1/operations/:token", h.HandleGetOperation)
}
