package handler

import (
	"net/http"

	"services/backtest-service/internal/middleware"
	"services/backtest-service/internal/model"
	"services/backtest-service/internal/service"
	"services/backtest-service/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BacktestHandler handles backtest HTTP requests
type BacktestHandler struct {
	backtestService *service.BacktestService
	logger          *zap.Logger
}

// NewBacktestHandler creates a new backtest handler
func NewBacktestHandler(backtestService *service.BacktestService, logger *zap.Logger) *BacktestHandler {
	return &BacktestHandler{
		backtestService: backtestService,
		logger:          logger,
	}
}

// RunBacktest runs one backtest synchronously and returns its result
func (h *BacktestHandler) RunBacktest(c *gin.Context) {
	var request model.BacktestRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	run, err := h.backtestService.RunBacktest(c.Request.Context(), &request)
	if run != nil {
		c.Set(middleware.RunIDKey, run.ID)
	}
	if err != nil {
		h.respondRunError(c, run, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":     run.ID,
		"result": run.Result,
	})
}

// respondRunError reports a failed run. An aborted run still carries its
// partial result.
func (h *BacktestHandler) respondRunError(c *gin.Context, run *model.BacktestRun, err error) {
	status := utils.StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Backtest failed", zap.Error(err))
	}
	if run == nil {
		utils.SendServiceError(c, err, "Failed to run backtest")
		return
	}

	body := gin.H{
		"id":    run.ID,
		"error": err.Error(),
	}
	if run.Result != nil {
		body["result"] = run.Result
	}
	c.JSON(status, body)
}

// RunBatch runs several backtests concurrently
func (h *BacktestHandler) RunBatch(c *gin.Context) {
	var request model.BatchBacktestRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	items, err := h.backtestService.RunBatch(c.Request.Context(), request.Requests)
	if err != nil {
		utils.SendServiceError(c, err, "Failed to run backtests")
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": items})
}

// ListResults returns the stored runs of a strategy, newest first
func (h *BacktestHandler) ListResults(c *gin.Context) {
	strategyID := c.Param("strategyId")
	limit := utils.ParseLimit(c, 20, 100)

	runs, err := h.backtestService.ListResults(c.Request.Context(), strategyID, limit)
	if err != nil {
		h.logger.Error("Failed to list backtest results",
			zap.Error(err),
			zap.String("strategyID", strategyID))
		utils.SendServiceError(c, err, "Failed to retrieve backtest results")
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": runs})
}

// GetRun returns a stored run
func (h *BacktestHandler) GetRun(c *gin.Context) {
	run, err := h.backtestService.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.SendServiceError(c, err, "Failed to retrieve backtest run")
		return
	}

	c.Set(middleware.RunIDKey, run.ID)
	c.JSON(http.StatusOK, run)
}
