package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"portfolio-trader-go/internal/autotrade"
	"portfolio-trader-go/internal/models"
	"portfolio-trader-go/internal/scheduler"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler holds dependencies for the HTTP endpoints.
type Handler struct {
	logger       *zap.Logger
	db           *gorm.DB
	tracker      *scheduler.Tracker
	orchestrator *scheduler.Orchestrator
	trader       *autotrade.Orchestrator
}

// NewHandler creates a new API handler.
func NewHandler(
	log *zap.Logger,
	db *gorm.DB,
	tracker *scheduler.Tracker,
	orch *scheduler.Orchestrator,
	trader *autotrade.Orchestrator,
) *Handler {
	return &Handler{
		logger:       log,
		db:           db,
		tracker:      tracker,
		orchestrator: orch,
		trader:       trader,
	}
}

// Register mounts all routes on the router.
func (h *Handler) Register(r *gin.Engine) {
	api := r.Group("/api")
	api.POST("/scheduler/run", h.TriggerScheduler)
	api.GET("/processes/:id", h.GetProcess)
	api.POST("/instruments/:id/trade", h.ManualTrade)
	api.GET("/users/:id/transactions", h.ListTransactions)
	r.GET("/health", h.Health)
}

func (h *Handler) Health(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// TriggerScheduler kicks off a scheduling pass in the background. The
// endpoint is idempotent-safe to call repeatedly within the same day because
// the orchestrator suppresses already-completed users; real outcomes land in
// ProcessingStatus asynchronously.
func (h *Handler) TriggerScheduler(c *gin.Context) {
	force := c.Query("force") == "true"

	go func() {
		summary, err := h.orchestrator.Run(context.Background(), force)
		if err != nil {
			h.logger.Error("Scheduling run failed", zap.Error(err))
			return
		}
		h.logger.Info(summary.String())
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"message": "scheduling run accepted",
		"force":   force,
	})
}

// GetProcess returns the progress view for one process id.
func (h *Handler) GetProcess(c *gin.Context) {
	progress, err := h.tracker.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, scheduler.ErrProcessNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "process not found"})
			return
		}
		h.logger.Error("Failed to load process status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load process status"})
		return
	}
	c.JSON(http.StatusOK, progress)
}

type manualTradeRequest struct {
	Action   string  `json:"action" binding:"required"`
	Quantity float64 `json:"quantity" binding:"required"`
}

// ManualTrade executes a synchronous user-triggered trade and returns the
// ledger transaction together with a human-readable message.
func (h *Handler) ManualTrade(c *gin.Context) {
	instrumentID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid instrument id"})
		return
	}

	var req manualTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tx, err := h.trader.ExecuteManual(c.Request.Context(), uint(instrumentID), req.Action, req.Quantity)
	if err != nil {
		var validation *autotrade.ValidationError
		var consistency *autotrade.ConsistencyError
		switch {
		case errors.As(err, &validation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.As(err, &consistency):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case tx != nil:
			// The attempt failed but is on the ledger.
			c.JSON(http.StatusBadGateway, gin.H{
				"message":     "trade failed, recorded in history",
				"transaction": tx,
				"error":       err.Error(),
			})
		default:
			h.logger.Error("Manual trade failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "trade failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "trade executed",
		"transaction": tx,
	})
}

// ListTransactions returns the owner-scoped ledger history, newest first.
// Error-tagged rows are included so failed attempts stay visible.
func (h *Handler) ListTransactions(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	var transactions []models.Transaction
	err = h.db.Where("user_id = ?", uint(userID)).
		Order("created_at DESC").
		Find(&transactions).Error
	if err != nil {
		h.logger.Error("Failed to load transactions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load transactions"})
		return
	}

	c.JSON(http.StatusOK, transactions)
}
