package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/labintel-backend/internal/http/middleware"
	"github.com/yungbote/labintel-backend/internal/http/response"
	"github.com/yungbote/labintel-backend/internal/platform/logger"
	"github.com/yungbote/labintel-backend/internal/services"
)

type ComputeHandler struct {
	log      *logger.Logger
	pipeline services.ComputePipeline
}

func NewComputeHandler(log *logger.Logger, pipeline services.ComputePipeline) *ComputeHandler {
	return &ComputeHandler{
		log:      log.With("handler", "ComputeHandler"),
		pipeline: pipeline,
	}
}

// POST /api/labs/uploads/:id/recompute
func (h *ComputeHandler) RecomputeUpload(c *gin.Context) {
	userID := middleware.UserID(c)
	uploadID, err := uuid.Parse(c.Param("id"))
	if err != nil || uploadID == uuid.Nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_upload_id", err)
		return
	}

	review, err := h.pipeline.RunComputePipeline(c.Request.Context(), userID, uploadID)
	if err != nil {
		status, code := classifyError(err)
		h.log.Error("RecomputeUpload failed", "error", err, "upload_id", uploadID)
		response.RespondError(c, status, code, err)
		return
	}
	response.RespondOK(c, review)
}

// POST /api/labs/recompute replays the caller's full upload history.
func (h *ComputeHandler) RecomputeUser(c *gin.Context) {
	userID := middleware.UserID(c)
	results, err := h.pipeline.RecomputeUser(c.Request.Context(), userID)
	if err != nil {
		status, code := classifyError(err)
		h.log.Error("RecomputeUser failed", "error", err, "user_id", userID)
		response.RespondError(c, status, code, err)
		return
	}
	response.RespondOK(c, gin.H{"uploads": results})
}
