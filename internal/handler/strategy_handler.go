package handler

import (
	"net/http"
	"strconv"

	"services/backtest-service/internal/middleware"
	"services/backtest-service/internal/model"
	"services/backtest-service/internal/repository"
	"services/backtest-service/internal/service"
	"services/backtest-service/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StrategyHandler handles strategy HTTP requests
type StrategyHandler struct {
	strategyService *service.StrategyService
	backtests       *BacktestHandler
	logger          *zap.Logger
}

// NewStrategyHandler creates a new strategy handler
func NewStrategyHandler(strategyService *service.StrategyService, backtests *BacktestHandler, logger *zap.Logger) *StrategyHandler {
	return &StrategyHandler{
		strategyService: strategyService,
		backtests:       backtests,
		logger:          logger,
	}
}

// ListStrategies lists strategies, optionally filtered by ?market= and ?enabled=
func (h *StrategyHandler) ListStrategies(c *gin.Context) {
	filter := repository.StrategyFilter{Markets: c.QueryArray("market")}
	if raw := c.Query("enabled"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			utils.SendErrorResponse(c, http.StatusBadRequest, "Invalid enabled filter")
			return
		}
		filter.Enabled = &enabled
	}

	strategies, err := h.strategyService.ListStrategies(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list strategies", zap.Error(err))
		utils.SendServiceError(c, err, "Failed to retrieve strategies")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": strategies})
}

// CreateStrategy creates a new strategy
func (h *StrategyHandler) CreateStrategy(c *gin.Context) {
	var request model.StrategyCreate
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	strategy, err := h.strategyService.CreateStrategy(c.Request.Context(), &request)
	if err != nil {
		utils.SendServiceError(c, err, "Failed to create strategy")
		return
	}

	c.JSON(http.StatusCreated, strategy)
}

// GetStrategy returns a strategy by ID
func (h *StrategyHandler) GetStrategy(c *gin.Context) {
	strategy, err := h.strategyService.GetStrategy(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.SendServiceError(c, err, "Failed to retrieve strategy")
		return
	}

	c.JSON(http.StatusOK, strategy)
}

// UpdateStrategy applies a partial update to a strategy
func (h *StrategyHandler) UpdateStrategy(c *gin.Context) {
	var request model.StrategyUpdate
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	strategy, err := h.strategyService.UpdateStrategy(c.Request.Context(), c.Param("id"), &request)
	if err != nil {
		utils.SendServiceError(c, err, "Failed to update strategy")
		return
	}

	c.JSON(http.StatusOK, strategy)
}

// DeleteStrategy removes a strategy
func (h *StrategyHandler) DeleteStrategy(c *gin.Context) {
	if err := h.strategyService.DeleteStrategy(c.Request.Context(), c.Param("id")); err != nil {
		utils.SendServiceError(c, err, "Failed to delete strategy")
		return
	}

	c.Status(http.StatusNoContent)
}

// StartStrategy enables a strategy
func (h *StrategyHandler) StartStrategy(c *gin.Context) {
	h.setEnabled(c, true)
}

// StopStrategy disables a strategy
func (h *StrategyHandler) StopStrategy(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *StrategyHandler) setEnabled(c *gin.Context, enabled bool) {
	strategy, err := h.strategyService.SetEnabled(c.Request.Context(), c.Param("id"), enabled)
	if err != nil {
		utils.SendServiceError(c, err, "Failed to update strategy")
		return
	}

	c.JSON(http.StatusOK, strategy)
}

// BacktestStrategy backtests a stored strategy
func (h *StrategyHandler) BacktestStrategy(c *gin.Context) {
	var window model.BacktestWindow
	if err := c.ShouldBindJSON(&window); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	run, err := h.strategyService.BacktestStrategy(c.Request.Context(), c.Param("id"), window)
	if run != nil {
		c.Set(middleware.RunIDKey, run.ID)
	}
	if err != nil {
		h.backtests.respondRunError(c, run, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":     run.ID,
		"result": run.Result,
	})
}
