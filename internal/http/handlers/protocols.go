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

type ProtocolsHandler struct {
	log       *logger.Logger
	protocols services.Protocols
	insights  services.Insights
}

func NewProtocolsHandler(log *logger.Logger, protocols services.Protocols, insights services.Insights) *ProtocolsHandler {
	return &ProtocolsHandler{
		log:       log.With("handler", "ProtocolsHandler"),
		protocols: protocols,
		insights:  insights,
	}
}

type createProtocolRequest struct {
	PeptideName     string                 `json:"peptide_name" binding:"required"`
	Dose            string                 `json:"dose"`
	StartDate       time.Time              `json:"start_date" binding:"required"`
	IntendedEffects []types.IntendedEffect `json:"intended_effects"`
}

// POST /api/protocols
func (h *ProtocolsHandler) CreateProtocol(c *gin.Context) {
	userID := middleware.UserID(c)
	var req createProtocolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	proto, err := h.protocols.Create(c.Request.Context(), userID, services.CreateProtocolInput{
		PeptideName:     req.PeptideName,
		Dose:            req.Dose,
		StartDate:       req.StartDate,
		IntendedEffects: req.IntendedEffects,
	})
	if err != nil {
		status, code := classifyError(err)
		h.log.Error("CreateProtocol failed", "error", err, "user_id", userID)
		response.RespondError(c, status, code, err)
		return
	}
	response.RespondCreated(c, proto)
}

// GET /api/protocols
func (h *ProtocolsHandler) ListProtocols(c *gin.Context) {
	userID := middleware.UserID(c)
	protos, err := h.protocols.List(c.Request.Context(), userID)
	if err != nil {
		status, code := classifyError(err)
		response.RespondError(c, status, code, err)
		return
	}
	response.RespondOK(c, gin.H{"protocols": protos})
}

// POST /api/protocols/:id/end
func (h *ProtocolsHandler) EndProtocol(c *gin.Context) {
	userID := middleware.UserID(c)
	protocolID, err := uuid.Parse(c.Param("id"))
	if err != nil || protocolID == uuid.Nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_protocol_id", err)
		return
	}
	proto, err := h.protocols.End(c.Request.Context(), userID, protocolID)
	if err != nil {
		status, code := classifyError(err)
		h.log.Error("EndProtocol failed", "error", err, "protocol_id", protocolID)
		response.RespondError(c, status, code, err)
		return
	}
	response.RespondOK(c, proto)
}

// GET /api/protocols/effectiveness
func (h *ProtocolsHandler) GetEffectiveness(c *gin.Context) {
	userID := middleware.UserID(c)
	report, err := h.insights.ProtocolEffectiveness(c.Request.Context(), userID)
	if err != nil {
		status, code := classifyError(err)
		response.RespondError(c, status, code, err)
		return
	}
	response.RespondOK(c, report)
}
