package service

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/enrollease/enrollease-api/internal/models"
	"github.com/enrollease/enrollease-api/pkg/collaborator"
	appErrors "github.com/enrollease/enrollease-api/pkg/errors"
	"github.com/enrollease/enrollease-api/pkg/export"
	"github.com/enrollease/enrollease-api/pkg/jobs"
)

// CertificateJobType identifies certificate generation jobs on the queue.
const CertificateJobType = "certificate_of_registration"

// CertificateJobPayload names the student whose certificate should be generated.
type CertificateJobPayload struct {
	DocumentID string
}

type certificateRenderer interface {
	Render(cert export.Certificate) ([]byte, error)
}

type feeLister interface {
	Fees(ctx context.Context, programCode string) ([]models.MiscFee, error)
}

type jobQueue interface {
	Enqueue(job jobs.Job) error
}

// CertificateWorker renders the certificate of registration for paid students and stores it.
type CertificateWorker struct {
	store       studentRecordStore
	fees        feeLister
	objects     objectUploader
	renderer    certificateRenderer
	caller      *collaborator.Caller
	metrics     *MetricsService
	queue       jobQueue
	institution string
	now         func() time.Time
	logger      *zap.Logger
}

// NewCertificateWorker constructs a CertificateWorker. The queue is attached with Attach once
// it has been built around Handle.
func NewCertificateWorker(store studentRecordStore, fees feeLister, objects objectUploader, renderer certificateRenderer, caller *collaborator.Caller, metrics *MetricsService, institution string, logger *zap.Logger) *CertificateWorker {
	logger = loggerOrNop(logger)
	if caller == nil {
		caller = collaborator.NewCaller(collaborator.Options{Logger: logger})
	}
	if renderer == nil {
		renderer = export.NewCertificateRenderer()
	}
	return &CertificateWorker{
		store:       store,
		fees:        fees,
		objects:     objects,
		renderer:    renderer,
		caller:      caller,
		metrics:     metrics,
		institution: institution,
		now:         time.Now,
		logger:      logger,
	}
}

// Attach sets the queue used by Enqueue.
func (w *CertificateWorker) Attach(queue jobQueue) {
	w.queue = queue
}

// Enqueue schedules certificate generation for a student.
func (w *CertificateWorker) Enqueue(documentID string) error {
	if w.queue == nil {
		return fmt.Errorf("certificate queue not attached")
	}
	return w.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    CertificateJobType,
		Key:     documentID,
		Payload: CertificateJobPayload{DocumentID: documentID},
	})
}

// Handle is the queue handler. A student that is not paid or already has a certificate is
// skipped without error.
func (w *CertificateWorker) Handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(CertificateJobPayload)
	if !ok {
		w.metrics.ObserveCertificateJob("invalid")
		return jobs.Permanent(fmt.Errorf("certificate job %s: unexpected payload %T", job.ID, job.Payload))
	}
	id := payload.DocumentID

	record, err := w.store.Get(ctx, id)
	if err != nil {
		if appErrors.IsCode(err, appErrors.ErrNotFound.Code) {
			return jobs.Permanent(fmt.Errorf("load student %s: %w", id, err))
		}
		return fmt.Errorf("load student %s: %w", id, err)
	}
	if !record.Finance.Paid || record.Certificate.Present() {
		w.metrics.ObserveCertificateJob("skipped")
		w.logger.Debug("certificate not needed", zap.String("document_id", id), zap.Bool("paid", record.Finance.Paid))
		return nil
	}

	fees, err := w.fees.Fees(ctx, record.Application.Program)
	if err != nil {
		return fmt.Errorf("load fees for %s: %w", id, err)
	}

	issuedAt := w.now().UTC()
	data, err := w.renderer.Render(w.certificateOf(record, fees, issuedAt))
	if err != nil {
		w.metrics.ObserveCertificateJob("failed")
		return fmt.Errorf("render certificate for %s: %w", id, err)
	}

	objectPath := path.Join(id, "certificates", "certificate-of-registration.pdf")
	err = w.caller.Do(ctx, collaborator.ObjectStore, "upload_certificate", func(ctx context.Context) error {
		return w.objects.Upload(ctx, objectPath, data, "application/pdf")
	})
	if err != nil {
		return fmt.Errorf("store certificate for %s: %w", id, err)
	}

	if _, err := w.store.Update(ctx, WriterRegistrar, id, models.CertificatePatch(models.Certificate{Path: objectPath, IssuedAt: &issuedAt})); err != nil {
		return fmt.Errorf("attach certificate for %s: %w", id, err)
	}

	w.metrics.ObserveCertificateJob("ok")
	w.logger.Info("certificate issued", zap.String("document_id", id), zap.String("path", objectPath), zap.Int("attempt", job.Attempt))
	return nil
}

// GiveUp is the queue's OnGiveUp hook.
func (w *CertificateWorker) GiveUp(job jobs.Job, err error) {
	w.metrics.ObserveCertificateJob("failed")
	w.logger.Error("certificate generation abandoned", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
}

func (w *CertificateWorker) certificateOf(record models.StudentRecord, fees []models.MiscFee, issuedAt time.Time) export.Certificate {
	cert := export.Certificate{
		Institution: w.institution,
		StudentID:   record.Identity.StudentID,
		FullName:    record.Identity.FullName(),
		Program:     record.Application.Program,
		Category:    string(record.Application.Category),
		Email:       record.Identity.Email,
		PaidAt:      record.Finance.PaidAt,
		IssuedAt:    issuedAt,
	}
	for _, meeting := range record.Schedules {
		cert.Courses = append(cert.Courses, export.CertificateCourse{
			CourseID:   meeting.CourseID,
			CourseName: meeting.CourseName,
			Section:    meeting.Section,
			Day:        meeting.Day,
			Time:       meeting.Time,
			Room:       meeting.Room,
			Instructor: meeting.Instructor,
			Units:      meeting.Units,
		})
	}
	for _, fee := range fees {
		cert.Fees = append(cert.Fees, export.CertificateFee{Label: fee.Label, AmountCents: fee.AmountCents})
	}
	return cert
}
