package api

import (
	"errors"
	"net/http"
	"strconv"

	"wearsurvey/domain/core"
	"wearsurvey/domain/model"
	"wearsurvey/domain/run"
	"wearsurvey/internal"
	"wearsurvey/internal/analysis"
	"wearsurvey/internal/report"
	"wearsurvey/ports"

	"github.com/gin-gonic/gin"
)

// RunHandler serves stored analysis runs as JSON and as HTML reports.
type RunHandler struct {
	repo   ports.AnalysisRepository
	logger *internal.Logger
}

// NewRunHandler creates a new run handler
func NewRunHandler(repo ports.AnalysisRepository, logger *internal.Logger) *RunHandler {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &RunHandler{repo: repo, logger: logger.WithComponent("API")}
}

// RegisterRoutes mounts the handler's endpoints.
func (h *RunHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/runs/:id", h.GetReport)

	api := r.Group("/api")
	api.GET("/runs", h.ListRuns)
	api.GET("/runs/:id", h.GetRun)
	api.GET("/runs/:id/parameters/:name", h.GetParameter)
	api.POST("/predict", h.Predict)
}

// Health reports liveness
func (h *RunHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListRuns returns stored run summaries, newest first
func (h *RunHandler) ListRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be non-negative"})
		return
	}

	runs, err := h.repo.ListRuns(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list runs: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "limit": limit, "offset": offset})
}

// GetRun returns one run; the id "latest" selects the newest
func (h *RunHandler) GetRun(c *gin.Context) {
	ar, ok := h.loadRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ar)
}

// GetParameter returns one parameter's result from a run
func (h *RunHandler) GetParameter(c *gin.Context) {
	ar, ok := h.loadRun(c)
	if !ok {
		return
	}
	res, found := ar.Result(c.Param("name"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Parameter not found in run"})
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetReport renders a run as an HTML page
func (h *RunHandler) GetReport(c *gin.Context) {
	ar, ok := h.loadRun(c)
	if !ok {
		return
	}
	page, err := report.Page(ar)
	if err != nil {
		h.logger.Error("render report %s: %v", ar.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to render report"})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}

func (h *RunHandler) loadRun(c *gin.Context) (*run.AnalysisRun, bool) {
	ctx := c.Request.Context()
	id := c.Param("id")

	var ar *run.AnalysisRun
	var err error
	if id == "latest" {
		ar, err = h.repo.LatestRun(ctx)
	} else {
		var runID core.RunID
		if runID, err = core.ParseRunID(id); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid run ID"})
			return nil, false
		}
		ar, err = h.repo.GetRun(ctx, runID)
	}
	switch {
	case errors.Is(err, core.ErrRunNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return nil, false
	case err != nil:
		h.logger.Error("load run %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load run"})
		return nil, false
	}
	return ar, true
}

// PredictRequest asks for category probabilities at given linear-predictor values.
type PredictRequest struct {
	Categories []string           `json:"categories" binding:"required,min=2"`
	Cutpoints  []float64          `json:"cutpoints" binding:"required"`
	Link       model.Link         `json:"link"`
	Settings   []analysis.Setting `json:"settings" binding:"required,min=1"`
}

// Predict computes a prediction table without touching stored runs
func (h *RunHandler) Predict(c *gin.Context) {
	var req PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Link != "" {
		if _, err := model.ParseLink(string(req.Link)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	table, err := analysis.PredictProbabilities(req.Settings, req.Cutpoints, req.Categories, req.Link)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, table)
}
