package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/enrollease/enrollease-api/internal/models"
	"github.com/enrollease/enrollease-api/pkg/response"
)

type programCatalog interface {
	Programs(ctx context.Context) ([]models.Program, error)
}

// CatalogHandler serves the program list shown on the application form.
type CatalogHandler struct {
	catalog programCatalog
}

// NewCatalogHandler creates a new handler.
func NewCatalogHandler(catalog programCatalog) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// Programs godoc
// @Summary List offered programs
// @Tags Catalog
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /programs [get]
func (h *CatalogHandler) Programs(c *gin.Context) {
	programs, err := h.catalog.Programs(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, programs, nil)
}
