package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/enrollease/enrollease-api/internal/models"
)

const documentColumns = "id, data, version, updated_at"

// lookupExpressions whitelists the document fields that can be queried by equality.
var lookupExpressions = map[models.StudentLookupField]string{
	models.LookupByEmail:     "lower(data->>'email') = lower($1)",
	models.LookupByStudentID: "data->>'studentId' = $1",
}

type documentRow struct {
	ID        string    `db:"id"`
	Data      []byte    `db:"data"`
	Version   int64     `db:"version"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r documentRow) snapshot() models.RecordSnapshot {
	return models.RecordSnapshot{ID: r.ID, Version: r.Version, Data: json.RawMessage(r.Data), CommittedAt: r.UpdatedAt}
}

// StudentDocumentRepository stores one JSONB document per student. Every committed write
// bumps the document version so subscribers can order snapshots.
type StudentDocumentRepository struct {
	db *sqlx.DB
}

// NewStudentDocumentRepository constructs a StudentDocumentRepository.
func NewStudentDocumentRepository(db *sqlx.DB) *StudentDocumentRepository {
	return &StudentDocumentRepository{db: db}
}

// Get returns the current snapshot of a document.
func (r *StudentDocumentRepository) Get(ctx context.Context, id string) (models.RecordSnapshot, error) {
	var row documentRow
	query := fmt.Sprintf("SELECT %s FROM student_documents WHERE id = $1", documentColumns)
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return models.RecordSnapshot{}, fmt.Errorf("get student document %s: %w", id, err)
	}
	return row.snapshot(), nil
}

// Query returns documents whose field equals value, oldest first.
func (r *StudentDocumentRepository) Query(ctx context.Context, field models.StudentLookupField, value string) ([]models.RecordSnapshot, error) {
	expr, ok := lookupExpressions[field]
	if !ok {
		return nil, fmt.Errorf("query student documents: unsupported field %q", field)
	}
	query := fmt.Sprintf("SELECT %s FROM student_documents WHERE %s ORDER BY created_at ASC LIMIT 10", documentColumns, expr)
	var rows []documentRow
	if err := r.db.SelectContext(ctx, &rows, query, strings.TrimSpace(value)); err != nil {
		return nil, fmt.Errorf("query student documents by %s: %w", field, err)
	}
	return toSnapshots(rows), nil
}

// Set writes patch to the document, creating it when absent. With merge the patch is merged
// into the existing top-level fields; without merge it replaces the document.
func (r *StudentDocumentRepository) Set(ctx context.Context, id string, patch models.DocumentPatch, merge bool) (models.RecordSnapshot, error) {
	payload, err := json.Marshal(patch)
	if err != nil {
		return models.RecordSnapshot{}, fmt.Errorf("marshal student document %s: %w", id, err)
	}
	update := "EXCLUDED.data"
	if merge {
		update = "student_documents.data || EXCLUDED.data"
	}
	query := fmt.Sprintf(`INSERT INTO student_documents (id, data, version, created_at, updated_at)
		VALUES ($1, $2::jsonb, 1, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET data = %s, version = student_documents.version + 1, updated_at = NOW()
		RETURNING %s`, update, documentColumns)

	var row documentRow
	if err := r.db.GetContext(ctx, &row, query, id, payload); err != nil {
		return models.RecordSnapshot{}, fmt.Errorf("set student document %s: %w", id, err)
	}
	return row.snapshot(), nil
}

// Update merges patch into an existing document. It fails with sql.ErrNoRows when the
// document does not exist.
func (r *StudentDocumentRepository) Update(ctx context.Context, id string, patch models.DocumentPatch) (models.RecordSnapshot, error) {
	payload, err := json.Marshal(patch)
	if err != nil {
		return models.RecordSnapshot{}, fmt.Errorf("marshal student document %s: %w", id, err)
	}
	query := fmt.Sprintf(`UPDATE student_documents SET data = data || $2::jsonb, version = version + 1, updated_at = NOW()
		WHERE id = $1 RETURNING %s`, documentColumns)

	var row documentRow
	if err := r.db.GetContext(ctx, &row, query, id, payload); err != nil {
		return models.RecordSnapshot{}, fmt.Errorf("update student document %s: %w", id, err)
	}
	return row.snapshot(), nil
}

// RemoveFields deletes top-level keys from a document.
func (r *StudentDocumentRepository) RemoveFields(ctx context.Context, id string, keys []string) (models.RecordSnapshot, error) {
	query := fmt.Sprintf(`UPDATE student_documents SET data = data - $2::text[], version = version + 1, updated_at = NOW()
		WHERE id = $1 RETURNING %s`, documentColumns)

	var row documentRow
	if err := r.db.GetContext(ctx, &row, query, id, pq.Array(keys)); err != nil {
		return models.RecordSnapshot{}, fmt.Errorf("remove fields from student document %s: %w", id, err)
	}
	return row.snapshot(), nil
}

// List returns submitted documents for the registrar, newest first.
func (r *StudentDocumentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.RecordSnapshot, int, error) {
	where := "WHERE data ? 'email'"
	args := []interface{}{}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+strings.ToLower(search)+"%")
		where += ` AND (lower(data->>'email') LIKE $1 OR lower(data->>'studentId') LIKE $1
			OR lower(coalesce(data->>'firstName', '') || ' ' || coalesce(data->>'lastName', '')) LIKE $1)`
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s FROM student_documents %s ORDER BY created_at DESC LIMIT %d OFFSET %d", documentColumns, where, size, offset)
	var rows []documentRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list student documents: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM student_documents "+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count student documents: %w", err)
	}
	return toSnapshots(rows), total, nil
}

// ListLegacy returns up to limit documents after the given id that still carry legacy
// payment, certificate or plain-text password fields.
func (r *StudentDocumentRepository) ListLegacy(ctx context.Context, afterID string, limit int) ([]models.RecordSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM student_documents
		WHERE id > $1 AND (data ?| $2 OR lower(data->>'registrationStatus') = 'paid')
		ORDER BY id ASC LIMIT %d`, documentColumns, limit)
	var rows []documentRow
	if err := r.db.SelectContext(ctx, &rows, query, afterID, pq.Array(models.LegacyFields)); err != nil {
		return nil, fmt.Errorf("list legacy student documents: %w", err)
	}
	return toSnapshots(rows), nil
}

func toSnapshots(rows []documentRow) []models.RecordSnapshot {
	out := make([]models.RecordSnapshot, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.snapshot())
	}
	return out
}
