package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enrollease/enrollease-api/internal/models"
	"github.com/enrollease/enrollease-api/pkg/collaborator"
	appErrors "github.com/enrollease/enrollease-api/pkg/errors"
)

type mockDocumentRepo struct {
	mu       sync.Mutex
	docs     map[string]map[string]json.RawMessage
	versions map[string]int64
	getErr   error
	writeErr error
	writes   []models.DocumentPatch
}

func newMockDocumentRepo() *mockDocumentRepo {
	return &mockDocumentRepo{docs: map[string]map[string]json.RawMessage{}, versions: map[string]int64{}}
}

// seed stores raw JSON as a document.
func (m *mockDocumentRepo) seed(t *testing.T, id, raw string) {
	t.Helper()
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &fields))
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[id] = fields
	m.versions[id]++
}

func (m *mockDocumentRepo) record(t *testing.T, id string) models.StudentRecord {
	t.Helper()
	m.mu.Lock()
	snap, err := m.snapshotLocked(id)
	m.mu.Unlock()
	require.NoError(t, err)
	record, err := snap.Decode()
	require.NoError(t, err)
	return record
}

func (m *mockDocumentRepo) snapshotLocked(id string) (models.RecordSnapshot, error) {
	fields, ok := m.docs[id]
	if !ok {
		return models.RecordSnapshot{}, sql.ErrNoRows
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return models.RecordSnapshot{}, err
	}
	return models.RecordSnapshot{ID: id, Version: m.versions[id], Data: raw, CommittedAt: time.Now()}, nil
}

func (m *mockDocumentRepo) Get(ctx context.Context, id string) (models.RecordSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return models.RecordSnapshot{}, m.getErr
	}
	return m.snapshotLocked(id)
}

func (m *mockDocumentRepo) Query(ctx context.Context, field models.StudentLookupField, value string) ([]models.RecordSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []models.RecordSnapshot
	for _, id := range m.sortedIDs() {
		snap, _ := m.snapshotLocked(id)
		record, err := snap.Decode()
		if err != nil {
			return nil, err
		}
		switch field {
		case models.LookupByEmail:
			if record.Identity.Email == value {
				out = append(out, snap)
			}
		case models.LookupByStudentID:
			if record.Identity.StudentID == value {
				out = append(out, snap)
			}
		}
	}
	return out, nil
}

func (m *mockDocumentRepo) write(id string, patch models.DocumentPatch, merge, mustExist bool) (models.RecordSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return models.RecordSnapshot{}, m.writeErr
	}
	existing, ok := m.docs[id]
	if !ok && mustExist {
		return models.RecordSnapshot{}, sql.ErrNoRows
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return models.RecordSnapshot{}, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return models.RecordSnapshot{}, err
	}
	if merge && ok {
		for k, v := range fields {
			existing[k] = v
		}
		fields = existing
	}
	m.docs[id] = fields
	m.versions[id]++
	m.writes = append(m.writes, patch)
	return m.snapshotLocked(id)
}

func (m *mockDocumentRepo) Set(ctx context.Context, id string, patch models.DocumentPatch, merge bool) (models.RecordSnapshot, error) {
	return m.write(id, patch, merge, false)
}

func (m *mockDocumentRepo) Update(ctx context.Context, id string, patch models.DocumentPatch) (models.RecordSnapshot, error) {
	return m.write(id, patch, true, true)
}

func (m *mockDocumentRepo) RemoveFields(ctx context.Context, id string, keys []string) (models.RecordSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fields, ok := m.docs[id]
	if !ok {
		return models.RecordSnapshot{}, sql.ErrNoRows
	}
	for _, k := range keys {
		delete(fields, k)
	}
	m.versions[id]++
	return m.snapshotLocked(id)
}

func (m *mockDocumentRepo) List(ctx context.Context, filter models.StudentFilter) ([]models.RecordSnapshot, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RecordSnapshot
	for _, id := range m.sortedIDs() {
		if _, ok := m.docs[id][models.FieldEmail]; !ok {
			continue
		}
		snap, _ := m.snapshotLocked(id)
		out = append(out, snap)
	}
	return out, len(out), nil
}

func (m *mockDocumentRepo) ListLegacy(ctx context.Context, afterID string, limit int) ([]models.RecordSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RecordSnapshot
	for _, id := range m.sortedIDs() {
		if id <= afterID {
			continue
		}
		snap, _ := m.snapshotLocked(id)
		doc, err := models.ParseStudentDocument(snap.Data)
		if err != nil {
			return nil, err
		}
		if doc.HasLegacyFields() {
			out = append(out, snap)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockDocumentRepo) sortedIDs() []string {
	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type mockSubscription struct {
	events chan models.FeedEvent
	mu     sync.Mutex
	closed bool
}

func newMockSubscription(buffer int) *mockSubscription {
	return &mockSubscription{events: make(chan models.FeedEvent, buffer)}
}

func (s *mockSubscription) Events() <-chan models.FeedEvent { return s.events }

func (s *mockSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *mockSubscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type mockFeed struct {
	mu             sync.Mutex
	published      []models.RecordSnapshot
	subs           map[string][]*mockSubscription
	subscribeCalls int
	publishErr     error
}

func newMockFeed() *mockFeed {
	return &mockFeed{subs: map[string][]*mockSubscription{}}
}

func (f *mockFeed) Publish(ctx context.Context, snap models.RecordSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, snap)
	for _, sub := range f.subs[snap.ID] {
		s := snap
		select {
		case sub.events <- models.FeedEvent{Kind: models.FeedSnapshot, Snapshot: &s}:
		default:
		}
	}
	return nil
}

func (f *mockFeed) Subscribe(ctx context.Context, id string) (models.FeedSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeCalls++
	sub := newMockSubscription(16)
	f.subs[id] = append(f.subs[id], sub)
	return sub, nil
}

func (f *mockFeed) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribeCalls
}

func testCaller() *collaborator.Caller {
	return collaborator.NewCaller(collaborator.Options{
		Timeout:         time.Second,
		MaxAttempts:     2,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	})
}

func newTestRecordStore() (*RecordStore, *mockDocumentRepo, *mockFeed) {
	repo := newMockDocumentRepo()
	feed := newMockFeed()
	return NewRecordStore(repo, feed, testCaller(), nil), repo, feed
}

func TestRecordStoreWritesPublishSnapshots(t *testing.T) {
	store, repo, feed := newTestRecordStore()
	ctx := context.Background()

	record, err := store.Create(ctx, "doc-1", models.NewApplicationPatch("uid-1", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, int64(1), record.Version)
	assert.Equal(t, "uid-1", record.ApplicantUID)

	record, err = store.Update(ctx, WriterStudent, "doc-1", models.RegistrationSubmittedPatch())
	require.NoError(t, err)
	assert.Equal(t, int64(2), record.Version)
	assert.Equal(t, models.RegistrationSubmitted, record.RegistrationStatus)
	assert.Equal(t, "uid-1", repo.record(t, "doc-1").ApplicantUID)

	require.Len(t, feed.published, 2)
	assert.Equal(t, int64(2), feed.published[1].Version)
}

func TestRecordStoreFieldOwnership(t *testing.T) {
	store, repo, _ := newTestRecordStore()
	repo.seed(t, "doc-1", `{"email":"a@b.co"}`)
	ctx := context.Background()

	_, err := store.Update(ctx, WriterStudent, "doc-1", models.FinancePaidPatch(time.Now(), ""))
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrForbidden.Code))

	_, err = store.Merge(ctx, WriterApplicant, "doc-1", models.SchedulesPatch(nil))
	assert.True(t, appErrors.IsCode(err, appErrors.ErrForbidden.Code))

	_, err = store.Update(ctx, WriterRegistrar, "doc-1", models.FinancePaidPatch(time.Now(), "OR-1"))
	require.NoError(t, err)
	assert.True(t, repo.record(t, "doc-1").Finance.Paid)
}

func TestRecordStoreUpdateMissingDocument(t *testing.T) {
	store, _, _ := newTestRecordStore()

	_, err := store.Update(context.Background(), WriterStudent, "missing", models.RegistrationSubmittedPatch())
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrNotFound.Code))
}

func TestRecordStoreConnectivityFailure(t *testing.T) {
	store, repo, feed := newTestRecordStore()
	repo.seed(t, "doc-1", `{"email":"a@b.co"}`)
	repo.writeErr = collaborator.ErrConnectivity

	_, err := store.Update(context.Background(), WriterStudent, "doc-1", models.RegistrationSubmittedPatch())
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrUnavailable.Code, appErr.Code)
	assert.True(t, appErr.Retryable)
	assert.Empty(t, feed.published)
	assert.Equal(t, models.RegistrationUnset, repo.record(t, "doc-1").RegistrationStatus)
}

func TestRecordStorePublishFailureDoesNotFailWrite(t *testing.T) {
	store, repo, feed := newTestRecordStore()
	repo.seed(t, "doc-1", `{"email":"a@b.co"}`)
	feed.publishErr = collaborator.ErrConnectivity

	record, err := store.Update(context.Background(), WriterStudent, "doc-1", models.RegistrationSubmittedPatch())
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationSubmitted, record.RegistrationStatus)
}

func TestRecordStoreFindBy(t *testing.T) {
	store, repo, _ := newTestRecordStore()
	repo.seed(t, "doc-1", `{"email":"A@B.co","studentId":"2024-0001"}`)
	repo.seed(t, "doc-2", `{"email":"c@d.co"}`)

	records, err := store.FindBy(context.Background(), models.LookupByStudentID, "2024-0001")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "doc-1", records[0].ID)

	records, err = store.FindBy(context.Background(), models.LookupByEmail, "a@b.co")
	require.NoError(t, err)
	require.Len(t, records, 1)
}
