package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nulzo/model-gateway/internal/audit"
	"github.com/nulzo/model-gateway/internal/store/model"
)

type AuditHandler struct {
	service audit.Service
}

func NewAuditHandler(service audit.Service) *AuditHandler {
	return &AuditHandler{service: service}
}

// List returns audit records, newest first. Payloads stay encrypted unless
// ?decrypt=true.
//
// GET /api/control/audit_logs?since_unix_ms=&until_unix_ms=&action=&limit=200
func (h *AuditHandler) List(c *gin.Context) {
	since, err := queryInt(c, "since_unix_ms", 0)
	if err != nil {
		_ = c.Error(err)
		return
	}
	until, err := queryInt(c, "until_unix_ms", 0)
	if err != nil {
		_ = c.Error(err)
		return
	}
	limit, err := queryInt(c, "limit", 200)
	if err != nil {
		_ = c.Error(err)
		return
	}

	entries, err := h.service.List(c.Request.Context(), model.AuditFilter{
		Since:  since,
		Until:  until,
		Action: c.Query("action"),
		Limit:  int(limit),
	}, c.Query("decrypt") == "true")
	if err != nil {
		_ = c.Error(problemFor(err, "Failed to list audit logs"))
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"items": entries})
}
