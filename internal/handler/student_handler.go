package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/enrollease/enrollease-api/internal/enrollment"
	"github.com/enrollease/enrollease-api/internal/models"
	"github.com/enrollease/enrollease-api/internal/service"
	"github.com/enrollease/enrollease-api/pkg/response"
)

const streamKeepAlive = 25 * time.Second

type progressReader interface {
	Current(ctx context.Context, id string) (service.ProgressView, error)
	Record(ctx context.Context, id string) (models.StudentRecord, error)
}

type progressHub interface {
	Acquire(ctx context.Context, id string) (*service.ProgressController, func(), error)
}

type assessmentService interface {
	Book(ctx context.Context, id string, booking enrollment.Booking) (models.StudentRecord, error)
}

type preRegistrationService interface {
	Submit(ctx context.Context, id string, payload models.PreRegistrationPayload) (models.StudentRecord, error)
}

type lineupService interface {
	View(ctx context.Context, id string) (*models.LineupView, error)
	Acknowledge(ctx context.Context, id string) (*models.LineupView, error)
}

type financeService interface {
	Fees(ctx context.Context, id string) (*models.FeeSummary, error)
	Certificate(ctx context.Context, id string) (*models.CertificateLink, error)
}

// StudentServices groups the services behind the student endpoints.
type StudentServices struct {
	Progress        progressReader
	Hub             progressHub
	Assessment      assessmentService
	PreRegistration preRegistrationService
	Lineup          lineupService
	Finance         financeService
}

// StudentHandler exposes the signed-in student's journey.
type StudentHandler struct {
	svc       StudentServices
	keepAlive time.Duration
}

// NewStudentHandler creates a new handler.
func NewStudentHandler(svc StudentServices) *StudentHandler {
	return &StudentHandler{svc: svc, keepAlive: streamKeepAlive}
}

// Me godoc
// @Summary Get my student record
// @Tags Students
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/me [get]
func (h *StudentHandler) Me(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	record, err := h.svc.Progress.Record(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Progress godoc
// @Summary Get my enrollment progress
// @Description Current stage, enabled actions and the reason each other action is blocked
// @Tags Students
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /students/me/progress [get]
func (h *StudentHandler) Progress(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	view, err := h.svc.Progress.Current(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// ProgressStream godoc
// @Summary Stream my enrollment progress
// @Description Server-sent "progress" events carrying the live view; views are marked stale while the feed reconnects
// @Tags Students
// @Produce text/event-stream
// @Success 200 {string} string "event stream"
// @Router /students/me/progress/stream [get]
func (h *StudentHandler) ProgressStream(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	ctrl, release, err := h.svc.Hub.Acquire(ctx, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer release()

	views, stop := ctrl.Watch()
	defer stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case view, open := <-views:
			if !open {
				return
			}
			c.SSEvent("progress", view)
			c.Writer.Flush()
		case <-ticker.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			c.Writer.Flush()
		}
	}
}

// BookAppointment godoc
// @Summary Book an assessment appointment
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body enrollment.Booking true "Date (YYYY-MM-DD) and AM/PM slot"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /students/me/appointment [post]
func (h *StudentHandler) BookAppointment(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	var booking enrollment.Booking
	if !bindJSON(c, &booking, "invalid appointment payload") {
		return
	}
	record, err := h.svc.Assessment.Book(c.Request.Context(), id, booking)
	if err != nil {
		response.Error(c, err)
		return
	}
	accepted(c, record, record.Version, string(enrollment.ActionBookAssessment))
}

// SubmitPreRegistration godoc
// @Summary Submit the pre-registration form
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body models.PreRegistrationPayload true "Pre-registration"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /students/me/pre-registration [post]
func (h *StudentHandler) SubmitPreRegistration(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	var payload models.PreRegistrationPayload
	if !bindJSON(c, &payload, "invalid pre-registration payload") {
		return
	}
	record, err := h.svc.PreRegistration.Submit(c.Request.Context(), id, payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	accepted(c, record, record.Version, string(enrollment.ActionSubmitPreRegistration))
}

// Lineup godoc
// @Summary Get my course line-up
// @Tags Students
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /students/me/lineup [get]
func (h *StudentHandler) Lineup(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	view, err := h.svc.Lineup.View(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// AcknowledgeLineup godoc
// @Summary Submit my course line-up
// @Tags Students
// @Produce json
// @Success 202 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /students/me/lineup/acknowledge [post]
func (h *StudentHandler) AcknowledgeLineup(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	view, err := h.svc.Lineup.Acknowledge(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, view, map[string]interface{}{"pending_confirmation": string(enrollment.ActionAcknowledgeCourseLineup)})
}

// Fees godoc
// @Summary Get my fee assessment
// @Tags Students
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /students/me/fees [get]
func (h *StudentHandler) Fees(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	summary, err := h.svc.Finance.Fees(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// Certificate godoc
// @Summary Get my certificate of registration
// @Tags Students
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /students/me/certificate [get]
func (h *StudentHandler) Certificate(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	link, err := h.svc.Finance.Certificate(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}
