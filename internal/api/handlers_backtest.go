package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"upbit-trading-bot/internal/backtest"
	"upbit-trading-bot/internal/jobs"
)

// handleTPSLRun executes one prediction-driven backtest.
// POST /api/backtest/tp-sl/run
func (s *Server) handleTPSLRun(c *gin.Context) {
	var req backtest.TPSLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.tpsl.Run(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleTPSLRunBatch runs a (models × folds) matrix synchronously.
// POST /api/backtest/tp-sl/run-batch
func (s *Server) handleTPSLRunBatch(c *gin.Context) {
	var req jobs.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Models) == 0 || len(req.Folds) == 0 {
		errorResponse(c, http.StatusBadRequest, "models and folds must not be empty")
		return
	}

	results := []*backtest.Response{}
	for _, model := range req.Models {
		for _, fold := range req.Folds {
			task := req.Base
			task.ModelName = model
			task.FoldNumber = fold

			resp, err := s.tpsl.Run(c.Request.Context(), task)
			if err != nil {
				s.respondError(c, err)
				return
			}
			results = append(results, resp)
		}
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

// handleTPSLRunBatchAsync enqueues the matrix and returns the job id.
// POST /api/backtest/tp-sl/run-batch-async
func (s *Server) handleTPSLRunBatchAsync(c *gin.Context) {
	var req jobs.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	jobID, err := s.runner.Submit(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": jobID})
}

// handleJobStatus reports batch progress.
// GET /api/backtest/tp-sl/job/:jobId
func (s *Server) handleJobStatus(c *gin.Context) {
	status, err := s.runner.Status(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// handleJobResults is status-only: per-task results are not persisted, so
// this endpoint reports progress and points callers at the status route.
// GET /api/backtest/tp-sl/job/:jobId/results
func (s *Server) handleJobResults(c *gin.Context) {
	status, err := s.runner.Status(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  status,
		"message": "per-task results are not persisted; use the status endpoint for progress",
	})
}

// handleClassicRun is the query-parameter single-fold run.
// GET /api/backtest/run?foldNumber=&initialCapital=&confidenceThreshold=&confidenceColumn=&thresholdMode=&positionSizePercent=&model=
func (s *Server) handleClassicRun(c *gin.Context) {
	req, ok := s.classicRequest(c)
	if !ok {
		return
	}

	resp, err := s.tpsl.Run(c.Request.Context(), *req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleSequentialRun chains folds, compounding capital fold to fold.
// GET /api/backtest/run-sequential?startFold=&endFold=&...
func (s *Server) handleSequentialRun(c *gin.Context) {
	base, ok := s.classicRequest(c)
	if !ok {
		return
	}

	startFold, err := strconv.Atoi(c.DefaultQuery("startFold", "1"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid startFold")
		return
	}
	endFold, err := strconv.Atoi(c.DefaultQuery("endFold", "7"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid endFold")
		return
	}

	resp, err := s.sequential.Run(c.Request.Context(), backtest.SequentialRequest{
		StartFold:           startFold,
		EndFold:             endFold,
		ModelName:           base.ModelName,
		InitialCapital:      base.InitialCapital,
		Threshold:           base.Threshold,
		ThresholdColumn:     base.ThresholdColumn,
		ThresholdMode:       base.ThresholdMode,
		PositionSizePercent: base.PositionSizePercent,
		HoldingDays:         base.HoldingDays,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// classicRequest parses the shared query parameters of the classic routes.
func (s *Server) classicRequest(c *gin.Context) (*backtest.TPSLRequest, bool) {
	foldNumber, err := strconv.Atoi(c.DefaultQuery("foldNumber", "1"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid foldNumber")
		return nil, false
	}
	initialCapital, err := strconv.ParseFloat(c.DefaultQuery("initialCapital", "10000000"), 64)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid initialCapital")
		return nil, false
	}
	threshold, err := strconv.ParseFloat(c.DefaultQuery("confidenceThreshold", "0"), 64)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid confidenceThreshold")
		return nil, false
	}
	positionSize, err := strconv.ParseFloat(c.DefaultQuery("positionSizePercent", "0"), 64)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid positionSizePercent")
		return nil, false
	}

	return &backtest.TPSLRequest{
		FoldNumber:          foldNumber,
		ModelName:           c.DefaultQuery("model", "GRU"),
		InitialCapital:      initialCapital,
		Threshold:           threshold,
		ThresholdColumn:     c.DefaultQuery("confidenceColumn", backtest.ColumnPredProbaUp),
		ThresholdMode:       c.DefaultQuery("thresholdMode", backtest.ThresholdModeFixed),
		SizingStrategy:      c.Query("sizingStrategy"),
		PositionSizePercent: positionSize,
	}, true
}

// handleCusumRun replays the cached BUY signals.
// GET /api/backtest/cusum/run?foldId=&strategy=&model=&initialCapital=
func (s *Server) handleCusumRun(c *gin.Context) {
	foldID, err := strconv.Atoi(c.DefaultQuery("foldId", "0"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid foldId")
		return
	}
	initialCapital, err := strconv.ParseFloat(c.DefaultQuery("initialCapital", "10000000"), 64)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid initialCapital")
		return
	}

	resp, err := s.cusumBT.Run(c.Request.Context(), backtest.CusumRequest{
		FoldID:         foldID,
		Strategy:       c.Query("strategy"),
		ModelID:        c.Query("model"),
		InitialCapital: initialCapital,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleCusumSummary exposes the loader's aggregate view.
// GET /api/backtest/cusum/signals/summary
func (s *Server) handleCusumSummary(c *gin.Context) {
	summary := s.cusumStore.Summary()
	first, last, ok := s.cusumStore.DateRange()

	resp := gin.H{
		"summary":    summary,
		"strategies": s.cusumStore.Strategies(),
		"models":     s.cusumStore.Models(),
		"folds":      s.cusumStore.Folds(),
	}
	if ok {
		resp["first_signal"] = first
		resp["last_signal"] = last
	}
	c.JSON(http.StatusOK, resp)
}

// handleRuleBasedRun runs the indicator-driven backtest.
// GET /api/backtest/rule-based/run?foldNumber=&initialCapital=
func (s *Server) handleRuleBasedRun(c *gin.Context) {
	foldNumber, err := strconv.Atoi(c.DefaultQuery("foldNumber", "1"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid foldNumber")
		return
	}
	initialCapital, err := strconv.ParseFloat(c.DefaultQuery("initialCapital", "10000000"), 64)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid initialCapital")
		return
	}

	resp, err := s.ruleBT.Run(c.Request.Context(), backtest.RuleBasedRequest{
		FoldNumber:     foldNumber,
		InitialCapital: initialCapital,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
