package telemetry

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pulseboard/sentinel/internal/api"
)

// APIHandler serves the audit log over HTTP
type APIHandler struct {
	storage *Storage
}

// NewAPIHandler creates a new audit API handler
func NewAPIHandler(storage *Storage) *APIHandler {
	return &APIHandler{storage: storage}
}

// Register mounts the audit routes on rg.
func (h *APIHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/audit", h.HandleAudit)
	rg.GET("/audit/stats", h.HandleStats)
}

// AuditQuery represents query parameters for the audit endpoint
type AuditQuery struct {
	Limit      int    `form:"limit" binding:"omitempty,min=1,max=1000"`
	UnsafeOnly bool   `form:"unsafe_only"`
	SessionID  string `form:"session_id" binding:"omitempty,max=255"`
}

// HandleAudit handles GET /api/security/audit
func (h *APIHandler) HandleAudit(c *gin.Context) {
	if h.storage == nil {
		api.Error(c, http.StatusNotFound, "Audit log disabled")
		return
	}
	var query AuditQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		api.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.storage.ListRecent(c.Request.Context(), ListQuery{
		Limit:      query.Limit,
		UnsafeOnly: query.UnsafeOnly,
		SessionID:  query.SessionID,
	})
	if err != nil {
		log.Error("List audit records: %v", err)
		api.Error(c, http.StatusInternalServerError, "Failed to list audit records")
		return
	}
	if records == nil {
		records = []AuditRecord{}
	}
	api.Success(c, gin.H{"records": records, "count": len(records)})
}

// HandleStats handles GET /api/security/audit/stats
func (h *APIHandler) HandleStats(c *gin.Context) {
	if h.storage == nil {
		api.Error(c, http.StatusNotFound, "Audit log disabled")
		return
	}
	stats, err := h.storage.Stats(c.Request.Context())
	if err != nil {
		log.Error("Audit stats: %v", err)
		api.Error(c, http.StatusInternalServerError, "Failed to get audit stats")
		return
	}
	api.Success(c, stats)
}
