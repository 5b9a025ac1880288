package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"example.com/fitquest/services/progression/internal/ledger"
	"example.com/fitquest/services/progression/internal/tracing"
)

// ProgressHandler handles user progress HTTP requests
type ProgressHandler struct {
	ledger *ledger.Service
	tracer tracing.Tracer
}

// NewProgressHandler creates a new progress handler
func NewProgressHandler(ledgerService *ledger.Service, tracer tracing.Tracer) *ProgressHandler {
	return &ProgressHandler{
		ledger: ledgerService,
		tracer: tracer,
	}
}

// HandleGetProgress returns a user's XP, level and achievements
func (h *ProgressHandler) HandleGetProgress(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-get-progress")
	defer h.tracer.EndTransaction(txn)

	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id must be a UUID"})
		return
	}

	summary, err := h.ledger.GetProgress(c.Request.Context(), userID)
	if err != nil {
		h.tracer.RecordError(txn, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// RegisterRoutes registers the handler's routes
func (h *ProgressHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/api/v1/users/:user_id/progress", h.HandleGetProgress)
}
