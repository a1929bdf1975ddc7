package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enrollease/enrollease-api/internal/models"
	"github.com/enrollease/enrollease-api/internal/service"
	appErrors "github.com/enrollease/enrollease-api/pkg/errors"
)

type mockRegistrarService struct {
	filter   models.StudentFilter
	decision models.AppointmentDecision
	remarks  string
	err      error
	creds    *models.CredentialsResponse
	roster   []byte
	search   string
}

func (m *mockRegistrarService) List(ctx context.Context, filter models.StudentFilter) ([]service.RegistrarStudent, *models.Pagination, error) {
	m.filter = filter
	rows := []service.RegistrarStudent{{StudentRecord: models.StudentRecord{ID: "doc-1"}}}
	return rows, &models.Pagination{Page: filter.Page, PageSize: 20, TotalCount: 1}, m.err
}

func (m *mockRegistrarService) Get(ctx context.Context, id string) (*service.RegistrarStudent, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &service.RegistrarStudent{StudentRecord: models.StudentRecord{ID: id}}, nil
}

func (m *mockRegistrarService) Lookup(ctx context.Context, value string) (*service.RegistrarStudent, error) {
	return m.Get(ctx, "doc-1")
}

func (m *mockRegistrarService) DecideAppointment(ctx context.Context, id string, decision models.AppointmentDecision, req models.AppointmentDecisionRequest) (models.StudentRecord, error) {
	m.decision = decision
	m.remarks = req.Remarks
	return models.StudentRecord{ID: id}, m.err
}

func (m *mockRegistrarService) PublishSchedules(ctx context.Context, id string, req models.SchedulesRequest) (models.StudentRecord, error) {
	return models.StudentRecord{ID: id}, m.err
}

func (m *mockRegistrarService) MarkPaid(ctx context.Context, id string, req models.PaymentRequest) (models.StudentRecord, error) {
	return models.StudentRecord{ID: id}, m.err
}

func (m *mockRegistrarService) AttachCertificate(ctx context.Context, id string, req models.CertificateRequest) (models.StudentRecord, error) {
	return models.StudentRecord{ID: id}, m.err
}

func (m *mockRegistrarService) IssueCredentials(ctx context.Context, id string) (*models.CredentialsResponse, error) {
	return m.creds, m.err
}

func (m *mockRegistrarService) ExportRoster(ctx context.Context, search string) ([]byte, error) {
	m.search = search
	return m.roster, m.err
}

type mockNormalizer struct {
	dryRun bool
}

func (m *mockNormalizer) NormalizeAll(ctx context.Context, dryRun bool) (*models.NormalizationReport, error) {
	m.dryRun = dryRun
	return &models.NormalizationReport{Scanned: 3, Rewritten: 2, DryRun: dryRun}, nil
}

type mockCatalogInvalidator struct {
	calls int
}

func (m *mockCatalogInvalidator) Invalidate(ctx context.Context) error {
	m.calls++
	return nil
}

func TestRegistrarHandlerList(t *testing.T) {
	svc := &mockRegistrarService{}
	handler := NewRegistrarHandler(svc, &mockNormalizer{}, nil)
	c, w := newTestContext(t, http.MethodGet, "/registrar/students?search=ana&page=2&page_size=abc", nil, registrarClaims())

	handler.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StudentFilter{Search: "ana", Page: 2}, svc.filter)
	env := decodeEnvelope(t, w)
	assert.Contains(t, env.Meta, "pagination")
}

func TestRegistrarHandlerDecideAppointment(t *testing.T) {
	svc := &mockRegistrarService{}
	handler := NewRegistrarHandler(svc, &mockNormalizer{}, nil)
	c, w := newTestContext(t, http.MethodPost, "/registrar/students/doc-1/appointment/disapprove", `{"remarks":"Bring your Form 138"}`, registrarClaims())
	c.Params = gin.Params{{Key: "id", Value: "doc-1"}, {Key: "decision", Value: "disapprove"}}

	handler.DecideAppointment(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.DecisionDisapprove, svc.decision)
	assert.Equal(t, "Bring your Form 138", svc.remarks)
}

func TestRegistrarHandlerDecideWithoutBody(t *testing.T) {
	svc := &mockRegistrarService{}
	handler := NewRegistrarHandler(svc, &mockNormalizer{}, nil)
	c, w := newTestContext(t, http.MethodPost, "/registrar/students/doc-1/appointment/approve", nil, registrarClaims())
	c.Params = gin.Params{{Key: "id", Value: "doc-1"}, {Key: "decision", Value: "approve"}}

	handler.DecideAppointment(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.DecisionApprove, svc.decision)
}

func TestRegistrarHandlerPublishSchedulesInvalidBody(t *testing.T) {
	handler := NewRegistrarHandler(&mockRegistrarService{}, &mockNormalizer{}, nil)
	c, w := newTestContext(t, http.MethodPut, "/registrar/students/doc-1/schedules", `not json`, registrarClaims())
	c.Params = gin.Params{{Key: "id", Value: "doc-1"}}

	handler.PublishSchedules(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegistrarHandlerMarkPaidConflict(t *testing.T) {
	svc := &mockRegistrarService{err: appErrors.Clone(appErrors.ErrAlreadySubmitted, "payment already recorded")}
	handler := NewRegistrarHandler(svc, &mockNormalizer{}, nil)
	c, w := newTestContext(t, http.MethodPost, "/registrar/students/doc-1/payment", nil, registrarClaims())
	c.Params = gin.Params{{Key: "id", Value: "doc-1"}}

	handler.MarkPaid(c)

	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_SUBMITTED", decodeEnvelope(t, w).Error.Code)
}

func TestRegistrarHandlerIssueCredentials(t *testing.T) {
	svc := &mockRegistrarService{creds: &models.CredentialsResponse{DocumentID: "doc-1", StudentID: "2024-00042", Emailed: true}}
	handler := NewRegistrarHandler(svc, &mockNormalizer{}, nil)
	c, w := newTestContext(t, http.MethodPost, "/registrar/students/doc-1/credentials", nil, registrarClaims())
	c.Params = gin.Params{{Key: "id", Value: "doc-1"}}

	handler.IssueCredentials(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, string(decodeEnvelope(t, w).Data), "2024-00042")
}

func TestRegistrarHandlerExportRoster(t *testing.T) {
	svc := &mockRegistrarService{roster: []byte("Document ID,Student ID\ndoc-1,2024-00001\n")}
	handler := NewRegistrarHandler(svc, &mockNormalizer{}, nil)
	c, w := newTestContext(t, http.MethodGet, "/registrar/students/export?search=bsit", nil, registrarClaims())

	handler.ExportRoster(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bsit", svc.search)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "roster-")
	assert.Contains(t, w.Body.String(), "doc-1,2024-00001")
}

func TestRegistrarHandlerNormalizeDryRun(t *testing.T) {
	migrations := &mockNormalizer{}
	handler := NewRegistrarHandler(&mockRegistrarService{}, migrations, nil)
	c, w := newTestContext(t, http.MethodPost, "/registrar/maintenance/normalize?dry_run=true", nil, registrarClaims())

	handler.Normalize(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, migrations.dryRun)
	assert.Contains(t, string(decodeEnvelope(t, w).Data), `"rewritten":2`)
}

func TestRegistrarHandlerInvalidateCatalog(t *testing.T) {
	catalog := &mockCatalogInvalidator{}
	handler := NewRegistrarHandler(&mockRegistrarService{}, &mockNormalizer{}, catalog)
	c, _ := newTestContext(t, http.MethodPost, "/registrar/maintenance/catalog/invalidate", nil, registrarClaims())

	handler.InvalidateCatalog(c)

	assert.Equal(t, http.StatusNoContent, c.Writer.Status())
	assert.Equal(t, 1, catalog.calls)

	handler = NewRegistrarHandler(&mockRegistrarService{}, &mockNormalizer{}, nil)
	c, w := newTestContext(t, http.MethodPost, "/registrar/maintenance/catalog/invalidate", nil, registrarClaims())
	handler.InvalidateCatalog(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
