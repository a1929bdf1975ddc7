package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/enrollease/enrollease-api/internal/models"
	"github.com/enrollease/enrollease-api/internal/service"
	appErrors "github.com/enrollease/enrollease-api/pkg/errors"
	"github.com/enrollease/enrollease-api/pkg/response"
)

type registrarService interface {
	List(ctx context.Context, filter models.StudentFilter) ([]service.RegistrarStudent, *models.Pagination, error)
	Get(ctx context.Context, id string) (*service.RegistrarStudent, error)
	Lookup(ctx context.Context, value string) (*service.RegistrarStudent, error)
	DecideAppointment(ctx context.Context, id string, decision models.AppointmentDecision, req models.AppointmentDecisionRequest) (models.StudentRecord, error)
	PublishSchedules(ctx context.Context, id string, req models.SchedulesRequest) (models.StudentRecord, error)
	MarkPaid(ctx context.Context, id string, req models.PaymentRequest) (models.StudentRecord, error)
	AttachCertificate(ctx context.Context, id string, req models.CertificateRequest) (models.StudentRecord, error)
	IssueCredentials(ctx context.Context, id string) (*models.CredentialsResponse, error)
	ExportRoster(ctx context.Context, search string) ([]byte, error)
}

type normalizer interface {
	NormalizeAll(ctx context.Context, dryRun bool) (*models.NormalizationReport, error)
}

type catalogInvalidator interface {
	Invalidate(ctx context.Context) error
}

// RegistrarHandler exposes the back-office endpoints.
type RegistrarHandler struct {
	service    registrarService
	migrations normalizer
	catalog    catalogInvalidator
}

// NewRegistrarHandler creates a new handler.
func NewRegistrarHandler(svc registrarService, migrations normalizer, catalog catalogInvalidator) *RegistrarHandler {
	return &RegistrarHandler{service: svc, migrations: migrations, catalog: catalog}
}

// List godoc
// @Summary List students
// @Tags Registrar
// @Produce json
// @Param search query string false "Name, e-mail or student ID"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /registrar/students [get]
func (h *RegistrarHandler) List(c *gin.Context) {
	filter := models.StudentFilter{
		Search:   c.Query("search"),
		Page:     atoiDefault(c.Query("page"), 1),
		PageSize: atoiDefault(c.Query("page_size"), 0),
	}
	rows, page, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, map[string]interface{}{"pagination": page})
}

// Lookup godoc
// @Summary Find a student by the configured lookup field
// @Tags Registrar
// @Produce json
// @Param value query string true "Student ID or e-mail, depending on configuration"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /registrar/students/lookup [get]
func (h *RegistrarHandler) Lookup(c *gin.Context) {
	student, err := h.service.Lookup(c.Request.Context(), c.Query("value"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Get godoc
// @Summary Get a student
// @Tags Registrar
// @Produce json
// @Param id path string true "Student document ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /registrar/students/{id} [get]
func (h *RegistrarHandler) Get(c *gin.Context) {
	student, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// DecideAppointment godoc
// @Summary Approve or disapprove an assessment appointment
// @Tags Registrar
// @Accept json
// @Produce json
// @Param id path string true "Student document ID"
// @Param decision path string true "approve or disapprove"
// @Param payload body models.AppointmentDecisionRequest false "Remarks"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /registrar/students/{id}/appointment/{decision} [post]
func (h *RegistrarHandler) DecideAppointment(c *gin.Context) {
	var req models.AppointmentDecisionRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req, "invalid decision payload") {
		return
	}
	record, err := h.service.DecideAppointment(c.Request.Context(), c.Param("id"), models.AppointmentDecision(c.Param("decision")), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// PublishSchedules godoc
// @Summary Publish a course line-up
// @Tags Registrar
// @Accept json
// @Produce json
// @Param id path string true "Student document ID"
// @Param payload body models.SchedulesRequest true "Course meetings"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /registrar/students/{id}/schedules [put]
func (h *RegistrarHandler) PublishSchedules(c *gin.Context) {
	var req models.SchedulesRequest
	if !bindJSON(c, &req, "invalid schedules payload") {
		return
	}
	record, err := h.service.PublishSchedules(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// MarkPaid godoc
// @Summary Record a payment
// @Description Marks the student paid and schedules the certificate of registration
// @Tags Registrar
// @Accept json
// @Produce json
// @Param id path string true "Student document ID"
// @Param payload body models.PaymentRequest false "Official receipt reference"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /registrar/students/{id}/payment [post]
func (h *RegistrarHandler) MarkPaid(c *gin.Context) {
	var req models.PaymentRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req, "invalid payment payload") {
		return
	}
	record, err := h.service.MarkPaid(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// AttachCertificate godoc
// @Summary Attach a certificate of registration
// @Tags Registrar
// @Accept json
// @Produce json
// @Param id path string true "Student document ID"
// @Param payload body models.CertificateRequest true "URL or stored path"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /registrar/students/{id}/certificate [put]
func (h *RegistrarHandler) AttachCertificate(c *gin.Context) {
	var req models.CertificateRequest
	if !bindJSON(c, &req, "invalid certificate payload") {
		return
	}
	record, err := h.service.AttachCertificate(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// IssueCredentials godoc
// @Summary Issue student credentials
// @Description Assigns a student ID and temporary password and e-mails them to the student
// @Tags Registrar
// @Produce json
// @Param id path string true "Student document ID"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /registrar/students/{id}/credentials [post]
func (h *RegistrarHandler) IssueCredentials(c *gin.Context) {
	creds, err := h.service.IssueCredentials(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, creds)
}

// ExportRoster godoc
// @Summary Export the student roster
// @Tags Registrar
// @Produce text/csv
// @Param search query string false "Name, e-mail or student ID"
// @Success 200 {string} string "CSV"
// @Router /registrar/students/export [get]
func (h *RegistrarHandler) ExportRoster(c *gin.Context) {
	data, err := h.service.ExportRoster(c.Request.Context(), c.Query("search"))
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := fmt.Sprintf("roster-%s.csv", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

// Normalize godoc
// @Summary Rewrite legacy payment fields
// @Tags Registrar
// @Produce json
// @Param dry_run query bool false "Only count affected documents"
// @Success 200 {object} response.Envelope
// @Router /registrar/maintenance/normalize [post]
func (h *RegistrarHandler) Normalize(c *gin.Context) {
	dryRun, _ := strconv.ParseBool(c.DefaultQuery("dry_run", "false"))
	report, err := h.migrations.NormalizeAll(c.Request.Context(), dryRun)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// InvalidateCatalog godoc
// @Summary Drop cached programs and fees
// @Tags Registrar
// @Success 204 {object} response.Envelope
// @Router /registrar/maintenance/catalog/invalidate [post]
func (h *RegistrarHandler) InvalidateCatalog(c *gin.Context) {
	if h.catalog == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "catalog cache is not configured"))
		return
	}
	if err := h.catalog.Invalidate(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func atoiDefault(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
