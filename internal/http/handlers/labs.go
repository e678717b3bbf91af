package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/labintel-backend/internal/domain"
	"github.com/yungbote/labintel-backend/internal/http/middleware"
	"github.com/yungbote/labintel-backend/internal/http/response"
	"github.com/yungbote/labintel-backend/internal/platform/logger"
	"github.com/yungbote/labintel-backend/internal/services"
)

type LabsHandler struct {
	log      *logger.Logger
	ingest   services.LabIngest
	insights services.Insights
}

func NewLabsHandler(log *logger.Logger, ingest services.LabIngest, insights services.Insights) *LabsHandler {
	return &LabsHandler{
		log:      log.With("handler", "LabsHandler"),
		ingest:   ingest,
		insights: insights,
	}
}

type ingestRequest struct {
	RawText  string     `json:"raw_text" binding:"required"`
	TestDate *time.Time `json:"test_date,omitempty"`
}

// POST /api/labs/ingest
func (h *LabsHandler) IngestText(c *gin.Context) {
	userID := middleware.UserID(c)
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	res, err := h.ingest.IngestText(c.Request.Context(), userID, req.RawText, req.TestDate)
	if err != nil {
		status, code := classifyError(err)
		h.log.Error("IngestText failed", "error", err, "user_id", userID)
		response.RespondError(c, status, code, err)
		return
	}
	if res.Async {
		response.RespondAccepted(c, res)
		return
	}
	response.RespondCreated(c, res)
}

type preDrawRequest struct {
	FastingHours *float64   `json:"fasting_hours,omitempty"`
	Illness      string     `json:"illness"`
	Exercise     string     `json:"exercise"`
	Stress       string     `json:"stress"`
	DrawTime     *time.Time `json:"draw_time,omitempty"`
}

// PUT /api/labs/uploads/:id/pre-draw
func (h *LabsHandler) AttachPreDrawContext(c *gin.Context) {
	userID := middleware.UserID(c)
	uploadID, err := uuid.Parse(c.Param("id"))
	if err != nil || uploadID == uuid.Nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_upload_id", err)
		return
	}
	var req preDrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	row := &types.PreDrawContext{
		LabUploadID:  uploadID,
		FastingHours: req.FastingHours,
		Illness:      req.Illness,
		Exercise:     req.Exercise,
		Stress:       req.Stress,
		DrawTime:     req.DrawTime,
	}
	if err := h.ingest.AttachPreDrawContext(c.Request.Context(), userID, row); err != nil {
		status, code := classifyError(err)
		h.log.Error("AttachPreDrawContext failed", "error", err, "upload_id", uploadID)
		response.RespondError(c, status, code, err)
		return
	}
	response.RespondOK(c, row)
}

// GET /api/labs/reviews/latest
func (h *LabsHandler) GetLatestReview(c *gin.Context) {
	userID := middleware.UserID(c)
	review, err := h.insights.LatestReview(c.Request.Context(), userID)
	if err != nil {
		status, code := classifyError(err)
		response.RespondError(c, status, code, err)
		return
	}
	response.RespondOK(c, review)
}

// GET /api/labs/uploads/:id/review
func (h *LabsHandler) GetReview(c *gin.Context) {
	userID := middleware.UserID(c)
	uploadID, err := uuid.Parse(c.Param("id"))
	if err != nil || uploadID == uuid.Nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_upload_id", err)
		return
	}
	review, err := h.insights.ReviewForUpload(c.Request.Context(), userID, uploadID)
	if err != nil {
		status, code := classifyError(err)
		response.RespondError(c, status, code, err)
		return
	}
	response.RespondOK(c, review)
}

// GET /api/labs/trends?key=ldl  (no key: all biomarkers)
func (h *LabsHandler) GetTrends(c *gin.Context) {
	userID := middleware.UserID(c)
	ctx := c.Request.Context()

	if key := c.Query("key"); key != "" {
		trend, err := h.insights.Trend(ctx, userID, key)
		if err != nil {
			status, code := classifyError(err)
			response.RespondError(c, status, code, err)
			return
		}
		response.RespondOK(c, trend)
		return
	}

	trends, err := h.insights.AllTrends(ctx, userID)
	if err != nil {
		status, code := classifyError(err)
		response.RespondError(c, status, code, err)
		return
	}
	response.RespondOK(c, gin.H{"trends": trends})
}

// GET /api/labs/predictions?key=ldl  (no key: all markers)
func (h *LabsHandler) GetPredictions(c *gin.Context) {
	userID := middleware.UserID(c)

	if key := c.Query("key"); key != "" {
		pred, err := h.insights.Prediction(c.Request.Context(), userID, key)
		if err != nil {
			status, code := classifyError(err)
			response.RespondError(c, status, code, err)
			return
		}
		response.RespondOK(c, pred)
		return
	}

	preds, err := h.insights.Predictions(c.Request.Context(), userID)
	if err != nil {
		status, code := classifyError(err)
		response.RespondError(c, status, code, err)
		return
	}
	response.RespondOK(c, gin.H{"predictions": preds})
}

// GET /api/labs/changepoints
func (h *LabsHandler) GetChangepoints(c *gin.Context) {
	userID := middleware.UserID(c)
	cps, err := h.insights.Changepoints(c.Request.Context(), userID)
	if err != nil {
		status, code := classifyError(err)
		response.RespondError(c, status, code, err)
		return
	}
	response.RespondOK(c, gin.H{"changepoints": cps})
}

// GET /api/labs/accuracy
func (h *LabsHandler) GetPredictionAccuracy(c *gin.Context) {
	userID := middleware.UserID(c)
	stats, err := h.insights.PredictionAccuracy(c.Request.Context(), userID)
	if err != nil {
		status, code := classifyError(err)
		response.RespondError(c, status, code, err)
		return
	}
	response.RespondOK(c, stats)
}
