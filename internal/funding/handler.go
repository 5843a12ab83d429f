package funding

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"incubator-portal/portal-backend/internal/funding/export"
)

// StreamServer upgrades a request into a live feed of one startup's changes
type StreamServer interface {
	ServeStream(w http.ResponseWriter, r *http.Request, startupID uuid.UUID) error
}

type Handler struct {
	service *Service
	stream  StreamServer
	logger  *zap.Logger
}

// NewHandler creates a funding handler; stream may be nil, in which case the
// WebSocket route is not registered.
func NewHandler(service *Service, stream StreamServer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, stream: stream, logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	funding := rg.Group("/funding")
	{
		funding.GET("", h.ListTrackers)
		funding.POST("/:startupId", h.CreateTracker)
		funding.GET("/:startupId", h.GetTracker)
		funding.DELETE("/:startupId", h.DeleteTracker)
		funding.GET("/:startupId/stages", h.ListStages)
		funding.GET("/:startupId/stages/current", h.GetCurrentStage)
		funding.GET("/:startupId/stages/:stageId", h.GetStage)
		funding.PUT("/:startupId/stages/:stageId/progress", h.UpdateStageProgress)
		funding.POST("/:startupId/stages/:stageId/complete", h.CompleteStage)
		funding.PUT("/:startupId/selection", h.SetCurrentStage)
		funding.PUT("/:startupId/amounts", h.UpdateFundingAmounts)
		funding.GET("/:startupId/events", h.ListEvents)
		funding.GET("/:startupId/export", h.Export)
		if h.stream != nil {
			funding.GET("/:startupId/ws", h.Stream)
		}
	}
}

func (h *Handler) ListTrackers(c *gin.Context) {
	limit, ok := queryCount(c, "limit", 50)
	if !ok {
		return
	}
	offset, ok := queryCount(c, "offset", 0)
	if !ok {
		return
	}

	snaps, err := h.service.ListTrackers(c.Request.Context(), limit, offset)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snaps)
}

func (h *Handler) CreateTracker(c *gin.Context) {
	startupID, ok := parseStartupID(c)
	if !ok {
		return
	}

	var req CreateTrackerRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	snap, err := h.service.CreateTracker(c.Request.Context(), startupID, req.Stages)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (h *Handler) GetTracker(c *gin.Context) {
	startupID, ok := parseStartupID(c)
	if !ok {
		return
	}

	snap, err := h.service.GetTracker(c.Request.Context(), startupID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) DeleteTracker(c *gin.Context) {
	startupID, ok := parseStartupID(c)
	if !ok {
		return
	}

	if err := h.service.DeleteTracker(c.Request.Context(), startupID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListStages(c *gin.Context) {
	startupID, ok := parseStartupID(c)
	if !ok {
		return
	}

	stages, err := h.service.ListStages(c.Request.Context(), startupID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stages)
}

func (h *Handler) GetCurrentStage(c *gin.Context) {
	startupID, ok := parseStartupID(c)
	if !ok {
		return
	}

	stage, err := h.service.GetCurrentStage(c.Request.Context(), startupID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stage)
}

func (h *Handler) GetStage(c *gin.Context) {
	startupID, ok := parseStartupID(c)
	if !ok {
		return
	}

	stage, err := h.service.GetStage(c.Request.Context(), startupID, c.Param("stageId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stage)
}

func (h *Handler) UpdateStageProgress(c *gin.Context) {
	startupID, ok := parseStartupID(c)
	if !ok {
		return
	}

	var req UpdateProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := h.service.UpdateStageProgress(c.Request.Context(), startupID, c.Param("stageId"), *req.Progress, *req.RaisedAmount)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) CompleteStage(c *gin.Context) {
	startupID, ok := parseStartupID(c)
	if !ok {
		return
	}

	snap, err := h.service.CompleteStage(c.Request.Context(), startupID, c.Param("stageId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) SetCurrentStage(c *gin.Context) {
	startupID, ok := parseStartupID(c)
	if !ok {
		return
	}

	var req SelectStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := h.service.SetCurrentStage(c.Request.Context(), startupID, req.StageID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) UpdateFundingAmounts(c *gin.Context) {
	startupID, ok := parseStartupID(c)
	if !ok {
		return
	}

	var req UpdateAmountsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := h.service.UpdateFundingAmounts(c.Request.Context(), startupID, *req.TotalTargetAmount, *req.TotalRaisedAmount)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) ListEvents(c *gin.Context) {
	startupID, ok := parseStartupID(c)
	if !ok {
		return
	}
	limit, ok := queryCount(c, "limit", 100)
	if !ok {
		return
	}

	events, err := h.service.ListEvents(c.Request.Context(), startupID, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (h *Handler) Export(c *gin.Context) {
	startupID, ok := parseStartupID(c)
	if !ok {
		return
	}

	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := h.service.GetTracker(c.Request.Context(), startupID)
	if err != nil {
		h.fail(c, err)
		return
	}

	filename := fmt.Sprintf("funding-%s.%s", startupID, format)
	c.Header("Content-Type", format.ContentType())
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Status(http.StatusOK)
	if err := export.Write(c.Writer, format, stagesTable(snap)); err != nil {
		// headers are already sent
		h.logger.Error("Failed to export funding tracker",
			zap.String("startup_id", startupID.String()),
			zap.String("format", string(format)),
			zap.Error(err))
		_ = c.Error(err)
	}
}

func (h *Handler) Stream(c *gin.Context) {
	startupID, ok := parseStartupID(c)
	if !ok {
		return
	}
	if _, err := h.service.GetTracker(c.Request.Context(), startupID); err != nil {
		h.fail(c, err)
		return
	}

	if err := h.stream.ServeStream(c.Writer, c.Request, startupID); err != nil {
		h.logger.Warn("WebSocket upgrade failed",
			zap.String("startup_id", startupID.String()),
			zap.Error(err))
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Funding request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrTrackerNotFound),
		errors.Is(err, ErrStageNotFound),
		errors.Is(err, ErrNoCurrentStage):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidStageTransition),
		errors.Is(err, ErrTrackerExists),
		errors.Is(err, ErrConcurrentUpdate):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidCatalog):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func parseStartupID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("startupId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid startup id"})
		return uuid.Nil, false
	}
	return id, true
}

// queryCount reads a non-negative integer query parameter
func queryCount(c *gin.Context, key string, def int) (int, bool) {
	raw, present := c.GetQuery(key)
	if !present || raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key + ": must be a non-negative integer"})
		return 0, false
	}
	return n, true
}

func stagesTable(snap *Snapshot) export.Table {
	rows := make([]map[string]interface{}, len(snap.Stages))
	for i, st := range snap.Stages {
		rows[i] = map[string]interface{}{
			"id":            st.ID,
			"name":          st.Name,
			"status":        string(st.Status),
			"target_amount": st.TargetAmount,
			"raised_amount": st.RaisedAmount,
			"progress":      st.Progress,
			"date":          st.Date,
			"selected":      st.ID == snap.SelectedStageID,
		}
	}

	drift := snap.Drift()
	return export.Table{
		Title: "Funding Stages",
		Columns: []export.Column{
			{Key: "id", Label: "ID"},
			{Key: "name", Label: "Stage"},
			{Key: "status", Label: "Status"},
			{Key: "target_amount", Label: "Target"},
			{Key: "raised_amount", Label: "Raised"},
			{Key: "progress", Label: "Progress (%)"},
			{Key: "date", Label: "Completed On"},
			{Key: "selected", Label: "Selected"},
		},
		Rows: rows,
		Summary: []export.SummaryItem{
			{Label: "Startup", Value: snap.StartupID.String()},
			{Label: "Total Target", Value: snap.TotalTargetAmount},
			{Label: "Total Raised", Value: snap.TotalRaisedAmount},
			{Label: "Target Drift", Value: drift.TargetDelta},
			{Label: "Raised Drift", Value: drift.RaisedDelta},
		},
	}
}
