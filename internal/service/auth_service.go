package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/enrollease/enrollease-api/internal/models"
	"github.com/enrollease/enrollease-api/pkg/collaborator"
	appErrors "github.com/enrollease/enrollease-api/pkg/errors"
	"github.com/enrollease/enrollease-api/pkg/mail"
	"github.com/enrollease/enrollease-api/pkg/validation"
)

const resetTokenPrefix = "reset:"

type authRecordStore interface {
	Get(ctx context.Context, id string) (models.StudentRecord, error)
	FindBy(ctx context.Context, field models.StudentLookupField, value string) ([]models.StudentRecord, error)
	Update(ctx context.Context, writer Writer, id string, patch models.DocumentPatch) (models.StudentRecord, error)
}

type tokenStore interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Take(ctx context.Context, key string, dest interface{}) error
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTokenSecret     string
	AccessTokenExpiry     time.Duration
	AnonymousExpiry       time.Duration
	ResetTokenExpiry      time.Duration
	Issuer                string
	RegistrarEmail        string
	RegistrarPasswordHash string
	PublicBaseURL         string
}

// AuthService issues and validates sessions for applicants, students and the registrar.
type AuthService struct {
	store     authRecordStore
	tokens    tokenStore
	mailer    mail.Sender
	caller    *collaborator.Caller
	validator *validation.Validator
	logger    *zap.Logger
	config    AuthConfig
	now       func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(store authRecordStore, tokens tokenStore, mailer mail.Sender, caller *collaborator.Caller, validate *validation.Validator, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validation.New()
	}
	if caller == nil {
		caller = collaborator.NewCaller(collaborator.Options{Logger: logger})
	}
	if config.AccessTokenExpiry <= 0 {
		config.AccessTokenExpiry = 24 * time.Hour
	}
	if config.AnonymousExpiry <= 0 {
		config.AnonymousExpiry = 7 * 24 * time.Hour
	}
	if config.ResetTokenExpiry <= 0 {
		config.ResetTokenExpiry = time.Hour
	}
	return &AuthService{
		store:     store,
		tokens:    tokens,
		mailer:    mailer,
		caller:    caller,
		validator: validate,
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
}

// SignInAnonymously opens an applicant session. The session id becomes the id of the
// application document the applicant creates.
func (s *AuthService) SignInAnonymously(ctx context.Context) (*models.LoginResponse, error) {
	info := models.UserInfo{ID: uuid.NewString(), Role: models.RoleApplicant}
	return s.issue(info, s.config.AnonymousExpiry)
}

// Login authenticates a student by student id and password.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}

	records, err := s.store.FindBy(ctx, models.LookupByStudentID, strings.TrimSpace(req.StudentID))
	if err != nil {
		return nil, err
	}
	if len(records) != 1 || records[0].PasswordHash == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid student ID or password")
	}
	record := records[0]

	if err := bcrypt.CompareHashAndPassword([]byte(record.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid student ID or password")
	}

	return s.issue(models.UserInfo{
		ID:        record.ID,
		Role:      models.RoleStudent,
		Email:     record.Identity.Email,
		StudentID: record.Identity.StudentID,
		FullName:  record.Identity.FullName(),
	}, s.config.AccessTokenExpiry)
}

// StaffLogin authenticates the registrar account.
func (s *AuthService) StaffLogin(ctx context.Context, req models.StaffLoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if s.config.RegistrarEmail == "" || s.config.RegistrarPasswordHash == "" || email != s.config.RegistrarEmail {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.config.RegistrarPasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}
	return s.issue(models.UserInfo{ID: email, Role: models.RoleRegistrar, Email: email, FullName: "Registrar"}, s.config.AccessTokenExpiry)
}

// ForgotPassword e-mails a single-use reset link. Unknown addresses succeed silently so the
// endpoint cannot be used to discover which students exist.
func (s *AuthService) ForgotPassword(ctx context.Context, req models.ForgotPasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return err
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	records, err := s.store.FindBy(ctx, models.LookupByEmail, email)
	if err != nil {
		return err
	}
	if len(records) == 0 || records[0].PasswordHash == "" {
		s.logger.Info("password reset requested for unknown account")
		return nil
	}
	record := records[0]

	token, err := randomToken(32)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create reset token")
	}
	expiresAt := s.now().UTC().Add(s.config.ResetTokenExpiry)
	entry := models.PasswordResetToken{DocumentID: record.ID, Email: email, ExpiresAt: expiresAt}
	err = s.caller.Do(ctx, collaborator.Cache, "set_reset_token", func(ctx context.Context) error {
		return s.tokens.Set(ctx, resetTokenPrefix+token, entry, s.config.ResetTokenExpiry)
	})
	if err != nil {
		return err
	}

	link := fmt.Sprintf("%s/reset-password?token=%s", s.config.PublicBaseURL, token)
	msg := mail.Message{
		To:       email,
		ToName:   record.Identity.FullName(),
		Subject:  "Reset your password",
		Text:     fmt.Sprintf("Use this link to choose a new password: %s\nThe link expires at %s.", link, expiresAt.Format(time.RFC1123)),
		Category: "password-reset",
	}
	return s.caller.Do(ctx, collaborator.Mail, "send_reset", func(ctx context.Context) error {
		return s.mailer.Send(ctx, msg)
	})
}

// ResetPassword redeems a reset token and stores the new password.
func (s *AuthService) ResetPassword(ctx context.Context, req models.ConfirmResetPasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return err
	}

	var entry models.PasswordResetToken
	err := s.caller.Do(ctx, collaborator.Cache, "take_reset_token", func(ctx context.Context) error {
		return s.tokens.Take(ctx, resetTokenPrefix+strings.TrimSpace(req.Token), &entry)
	})
	if err != nil {
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return appErrors.Clone(appErrors.ErrUnauthorized, "reset link is invalid or has expired")
		}
		return err
	}
	if s.now().UTC().After(entry.ExpiresAt) {
		return appErrors.Clone(appErrors.ErrUnauthorized, "reset link is invalid or has expired")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	if _, err := s.store.Update(ctx, WriterAuth, entry.DocumentID, models.PasswordPatch(string(hash))); err != nil {
		return err
	}
	s.logger.Info("password reset completed", zap.String("document_id", entry.DocumentID))
	return nil
}

// CurrentUser describes the principal behind validated claims.
func (s *AuthService) CurrentUser(ctx context.Context, claims *models.JWTClaims) (*models.UserInfo, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	info := &models.UserInfo{ID: claims.UserID, Role: claims.Role, Email: claims.Email, StudentID: claims.StudentID}
	if claims.Role == models.RoleRegistrar {
		info.FullName = "Registrar"
		return info, nil
	}

	record, err := s.store.Get(ctx, claims.UserID)
	if err != nil {
		if appErrors.IsCode(err, appErrors.ErrNotFound.Code) && claims.Role == models.RoleApplicant {
			return info, nil
		}
		return nil, err
	}
	info.Email = record.Identity.Email
	info.StudentID = record.Identity.StudentID
	info.FullName = record.Identity.FullName()
	return info, nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.AccessTokenSecret), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}

	return claims, nil
}

func (s *AuthService) issue(info models.UserInfo, ttl time.Duration) (*models.LoginResponse, error) {
	issuedAt := s.now().UTC()
	expiresAt := issuedAt.Add(ttl)
	claims := &models.JWTClaims{
		UserID:    info.ID,
		Role:      info.Role,
		Email:     info.Email,
		StudentID: info.StudentID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   info.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.AccessTokenSecret))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}
	return &models.LoginResponse{
		AccessToken: signed,
		ExpiresIn:   int64(ttl.Seconds()),
		User:        info,
		IssuedAt:    issuedAt,
	}, nil
}

func randomToken(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
