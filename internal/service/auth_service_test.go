package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/enrollease/enrollease-api/internal/models"
	appErrors "github.com/enrollease/enrollease-api/pkg/errors"
	"github.com/enrollease/enrollease-api/pkg/mail"
)

type mockTokenStore struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMockTokenStore() *mockTokenStore {
	return &mockTokenStore{entries: map[string][]byte{}}
}

func (m *mockTokenStore) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *mockTokenStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = raw
	return nil
}

func (m *mockTokenStore) Take(ctx context.Context, key string, dest interface{}) error {
	if err := m.Get(ctx, key, dest); err != nil {
		return err
	}
	return m.Delete(ctx, key)
}

func (m *mockTokenStore) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *mockTokenStore) DeleteByPattern(ctx context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *mockTokenStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for k := range m.entries {
		out = append(out, k)
	}
	return out
}

type mockMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *mockMailer) Send(ctx context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func newTestAuthService(t *testing.T) (*AuthService, *mockDocumentRepo, *mockTokenStore, *mockMailer) {
	t.Helper()
	store, repo, _ := newTestRecordStore()
	tokens := newMockTokenStore()
	mailer := &mockMailer{}
	svc := NewAuthService(store, tokens, mailer, testCaller(), nil, nil, AuthConfig{
		AccessTokenSecret:     "secret",
		AccessTokenExpiry:     time.Hour,
		Issuer:                "enrollease",
		RegistrarEmail:        "registrar@school.edu",
		RegistrarPasswordHash: mustHash(t, "registrar-pass"),
		PublicBaseURL:         "https://enroll.example",
	})
	return svc, repo, tokens, mailer
}

func TestAuthServiceSignInAnonymously(t *testing.T) {
	svc, _, _, _ := newTestAuthService(t)

	resp, err := svc.SignInAnonymously(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RoleApplicant, resp.User.Role)
	assert.NotEmpty(t, resp.User.ID)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, claims.UserID)
	assert.Equal(t, models.RoleApplicant, claims.Role)
}

func TestAuthServiceLogin(t *testing.T) {
	svc, repo, _, _ := newTestAuthService(t)
	repo.seed(t, "doc-1", `{"email":"a@b.co","studentId":"2024-00001","firstName":"Ana","lastName":"Cruz","passwordHash":"`+mustHash(t, "s3cret-pass")+`"}`)

	resp, err := svc.Login(context.Background(), models.LoginRequest{StudentID: "2024-00001", Password: "s3cret-pass"})
	require.NoError(t, err)
	assert.Equal(t, "doc-1", resp.User.ID)
	assert.Equal(t, models.RoleStudent, resp.User.Role)
	assert.Equal(t, "Ana Cruz", resp.User.FullName)

	_, err = svc.Login(context.Background(), models.LoginRequest{StudentID: "2024-00001", Password: "wrong"})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrInvalidCredentials.Code))

	_, err = svc.Login(context.Background(), models.LoginRequest{StudentID: "2024-99999", Password: "s3cret-pass"})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrInvalidCredentials.Code))

	_, err = svc.Login(context.Background(), models.LoginRequest{Password: "x"})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))
}

func TestAuthServiceStaffLogin(t *testing.T) {
	svc, _, _, _ := newTestAuthService(t)

	resp, err := svc.StaffLogin(context.Background(), models.StaffLoginRequest{Email: "Registrar@School.edu", Password: "registrar-pass"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleRegistrar, resp.User.Role)

	_, err = svc.StaffLogin(context.Background(), models.StaffLoginRequest{Email: "registrar@school.edu", Password: "nope"})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrInvalidCredentials.Code))
}

func TestAuthServicePasswordReset(t *testing.T) {
	svc, repo, tokens, mailer := newTestAuthService(t)
	repo.seed(t, "doc-1", `{"email":"a@b.co","studentId":"2024-00001","passwordHash":"`+mustHash(t, "old-password")+`"}`)
	ctx := context.Background()

	require.NoError(t, svc.ForgotPassword(ctx, models.ForgotPasswordRequest{Email: "A@B.co"}))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "a@b.co", mailer.sent[0].To)

	keys := tokens.keys()
	require.Len(t, keys, 1)
	token := strings.TrimPrefix(keys[0], resetTokenPrefix)
	assert.Contains(t, mailer.sent[0].Text, "https://enroll.example/reset-password?token="+token)

	require.NoError(t, svc.ResetPassword(ctx, models.ConfirmResetPasswordRequest{Token: token, NewPassword: "new-password"}))
	hash := repo.record(t, "doc-1").PasswordHash
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("new-password")))

	err := svc.ResetPassword(ctx, models.ConfirmResetPasswordRequest{Token: token, NewPassword: "another-password"})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrUnauthorized.Code))
}

func TestAuthServiceForgotPasswordUnknownEmail(t *testing.T) {
	svc, _, tokens, mailer := newTestAuthService(t)

	require.NoError(t, svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: "ghost@b.co"}))
	assert.Empty(t, mailer.sent)
	assert.Empty(t, tokens.keys())
}

func TestAuthServiceCurrentUser(t *testing.T) {
	svc, repo, _, _ := newTestAuthService(t)
	repo.seed(t, "doc-1", `{"email":"a@b.co","firstName":"Ana","lastName":"Cruz"}`)

	info, err := svc.CurrentUser(context.Background(), &models.JWTClaims{UserID: "doc-1", Role: models.RoleApplicant})
	require.NoError(t, err)
	assert.Equal(t, "Ana Cruz", info.FullName)

	info, err = svc.CurrentUser(context.Background(), &models.JWTClaims{UserID: "fresh", Role: models.RoleApplicant})
	require.NoError(t, err)
	assert.Equal(t, "fresh", info.ID)

	_, err = svc.ValidateToken("not-a-token")
	assert.True(t, appErrors.IsCode(err, appErrors.ErrUnauthorized.Code))
}
