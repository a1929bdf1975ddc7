package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/enrollease/enrollease-api/pkg/collaborator"
	"github.com/enrollease/enrollease-api/pkg/response"
	"github.com/enrollease/enrollease-api/pkg/storage"
)

type signedObjectOpener interface {
	OpenSigned(token string) (*storage.Object, error)
}

// FileHandler streams stored documents and certificates behind signed download tokens.
type FileHandler struct {
	objects signedObjectOpener
}

// NewFileHandler creates a new handler.
func NewFileHandler(objects signedObjectOpener) *FileHandler {
	return &FileHandler{objects: objects}
}

// Download godoc
// @Summary Download a stored file
// @Tags Files
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /files/{token} [get]
func (h *FileHandler) Download(c *gin.Context) {
	object, err := h.objects.OpenSigned(c.Param("token"))
	if err != nil {
		converted, _ := collaborator.Convert(collaborator.ObjectStore, err)
		response.Error(c, converted)
		return
	}
	defer object.Body.Close()

	c.Header("Cache-Control", "private, max-age=300")
	c.DataFromReader(http.StatusOK, object.Size, object.ContentType, object.Body, nil)
}
