package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rapidcrm/crmstore/engine/core"
	"github.com/rapidcrm/crmstore/engine/infra/repository"
	"github.com/rapidcrm/crmstore/pkg/logger"
)

type handlers struct {
	da          DataAccess
	maxPageSize int
}

// health answers 503 when no connection survives the ping round.
func (h *handlers) health(c *gin.Context) {
	health := h.da.HealthCheck(c.Request.Context())
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"data": health, "message": "Success"})
}

func (h *handlers) stats(c *gin.Context) {
	stats, err := h.da.Stats(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	respondOK(c, stats)
}

func (h *handlers) migrations(c *gin.Context) {
	status, err := h.da.MigrationStatus(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	respondOK(c, status)
}

func (h *handlers) rollback(c *gin.Context) {
	name := c.Param("name")
	if err := h.da.RollbackMigration(c.Request.Context(), name); err != nil {
		RespondError(c, err)
		return
	}
	logger.FromContext(c.Request.Context()).Info("Migration rolled back over HTTP", "migration", name)
	respondOK(c, gin.H{"name": name, "rolledBack": true})
}

func (h *handlers) table(c *gin.Context) {
	var req repository.PageRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		RespondError(c, core.NewInvalidInput("query", err.Error()))
		return
	}
	if req.Limit == 0 {
		req.Limit = repository.DefaultLimit
	}
	req.Limit = min(req.Limit, h.maxPageSize)
	if last := repository.MaxPage(req.Limit); req.Page > last {
		RespondError(c, core.NewInvalidInput("page", fmt.Sprintf("must be at most %d", last)))
		return
	}
	page, err := h.da.Paginate(c.Request.Context(), c.Param("table"), req)
	if err != nil {
		RespondError(c, err)
		return
	}
	respondOK(c, page)
}
