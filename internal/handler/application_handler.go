package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/enrollease/enrollease-api/internal/enrollment"
	"github.com/enrollease/enrollease-api/internal/models"
	appErrors "github.com/enrollease/enrollease-api/pkg/errors"
	"github.com/enrollease/enrollease-api/pkg/response"
)

// multipart framing allowance on top of the file size limit
const multipartOverhead = 64 * 1024

type applicationService interface {
	Start(ctx context.Context, applicantUID string) (models.StudentRecord, error)
	Get(ctx context.Context, applicantUID, id string) (models.StudentRecord, error)
	UploadDocument(ctx context.Context, applicantUID, id, kind string, data []byte, contentType string) (models.StudentRecord, error)
	SaveDraft(ctx context.Context, applicantUID, id string, form models.ApplicationForm) error
	LoadDraft(ctx context.Context, applicantUID, id string) (*models.ApplicationForm, error)
	ClearDraft(ctx context.Context, applicantUID, id string) error
	Submit(ctx context.Context, applicantUID, id string, form models.ApplicationForm) (models.StudentRecord, error)
}

// ApplicationHandler exposes the applicant endpoints.
type ApplicationHandler struct {
	service        applicationService
	maxUploadBytes int64
}

// NewApplicationHandler creates a new handler.
func NewApplicationHandler(svc applicationService, maxUploadBytes int64) *ApplicationHandler {
	return &ApplicationHandler{service: svc, maxUploadBytes: maxUploadBytes}
}

func applicantUID(c *gin.Context) (string, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return "", false
	}
	return claims.UserID, true
}

// Start godoc
// @Summary Start an application
// @Description Creates the application document for the applicant session, or returns the existing one
// @Tags Applications
// @Produce json
// @Success 201 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /applications [post]
func (h *ApplicationHandler) Start(c *gin.Context) {
	uid, ok := applicantUID(c)
	if !ok {
		return
	}
	record, err := h.service.Start(c.Request.Context(), uid)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// Get godoc
// @Summary Get an application
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /applications/{id} [get]
func (h *ApplicationHandler) Get(c *gin.Context) {
	uid, ok := applicantUID(c)
	if !ok {
		return
	}
	record, err := h.service.Get(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// UploadDocument godoc
// @Summary Upload a required document
// @Description Accepts an image or PDF under the "file" form field
// @Tags Applications
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Application ID"
// @Param kind path string true "picture, birthCert, schoolId or grades"
// @Param file formData file true "Document"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Router /applications/{id}/documents/{kind} [post]
func (h *ApplicationHandler) UploadDocument(c *gin.Context) {
	uid, ok := applicantUID(c)
	if !ok {
		return
	}
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)
	}
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, appErrors.ErrPayloadTooLarge)
			return
		}
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "file is required"))
		return
	}
	if h.maxUploadBytes > 0 && header.Size > h.maxUploadBytes {
		response.Error(c, appErrors.ErrPayloadTooLarge)
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "file could not be read"))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "file could not be read"))
		return
	}

	record, err := h.service.UploadDocument(c.Request.Context(), uid, c.Param("id"), c.Param("kind"), data, header.Header.Get("Content-Type"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// SaveDraft godoc
// @Summary Save the application draft
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body models.ApplicationForm true "Draft"
// @Success 204 {object} response.Envelope
// @Router /applications/{id}/draft [put]
func (h *ApplicationHandler) SaveDraft(c *gin.Context) {
	uid, ok := applicantUID(c)
	if !ok {
		return
	}
	var form models.ApplicationForm
	if !bindJSON(c, &form, "invalid draft payload") {
		return
	}
	if err := h.service.SaveDraft(c.Request.Context(), uid, c.Param("id"), form); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// LoadDraft godoc
// @Summary Load the application draft
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /applications/{id}/draft [get]
func (h *ApplicationHandler) LoadDraft(c *gin.Context) {
	uid, ok := applicantUID(c)
	if !ok {
		return
	}
	form, err := h.service.LoadDraft(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, form, nil)
}

// ClearDraft godoc
// @Summary Discard the application draft
// @Tags Applications
// @Param id path string true "Application ID"
// @Success 204 {object} response.Envelope
// @Router /applications/{id}/draft [delete]
func (h *ApplicationHandler) ClearDraft(c *gin.Context) {
	uid, ok := applicantUID(c)
	if !ok {
		return
	}
	if err := h.service.ClearDraft(c.Request.Context(), uid, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Submit godoc
// @Summary Submit the application
// @Description Validates and writes the application. Resubmission is allowed until an assessment is booked.
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body models.ApplicationForm true "Application"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /applications/{id}/submit [post]
func (h *ApplicationHandler) Submit(c *gin.Context) {
	uid, ok := applicantUID(c)
	if !ok {
		return
	}
	var form models.ApplicationForm
	if !bindJSON(c, &form, "invalid application payload") {
		return
	}
	record, err := h.service.Submit(c.Request.Context(), uid, c.Param("id"), form)
	if err != nil {
		response.Error(c, err)
		return
	}
	accepted(c, record, record.Version, string(enrollment.ActionSubmitApplication))
}
