package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UserRole represents the roles known to the RBAC middleware.
type UserRole string

const (
	// RoleApplicant is an anonymous session that owns one unsubmitted or pending application.
	RoleApplicant UserRole = "APPLICANT"
	RoleStudent   UserRole = "STUDENT"
	RoleRegistrar UserRole = "REGISTRAR"
)

// LoginRequest holds student credentials. Students sign in with their student id.
type LoginRequest struct {
	StudentID string `json:"student_id" validate:"notblank"`
	Password  string `json:"password" validate:"required"`
}

// StaffLoginRequest holds registrar credentials.
type StaffLoginRequest struct {
	Email    string `json:"email" validate:"basic_email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse returns the issued token and user info.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	User        UserInfo  `json:"user"`
	IssuedAt    time.Time `json:"issued_at"`
}

// ForgotPasswordRequest starts the password reset flow.
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"basic_email"`
}

// ConfirmResetPasswordRequest completes the password reset flow.
type ConfirmResetPasswordRequest struct {
	Token       string `json:"token" validate:"notblank"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

// UserInfo describes the authenticated principal in responses.
type UserInfo struct {
	ID        string   `json:"id"`
	Role      UserRole `json:"role"`
	Email     string   `json:"email,omitempty"`
	StudentID string   `json:"student_id,omitempty"`
	FullName  string   `json:"full_name,omitempty"`
}

// JWTClaims represents the JWT payload. For applicants and students UserID is the student
// document id; for the registrar it is the registrar e-mail.
type JWTClaims struct {
	UserID    string   `json:"user_id"`
	Role      UserRole `json:"role"`
	Email     string   `json:"email,omitempty"`
	StudentID string   `json:"student_id,omitempty"`
	jwt.RegisteredClaims
}

// PasswordResetToken is a pending password reset stored with a TTL.
type PasswordResetToken struct {
	DocumentID string    `json:"document_id"`
	Email      string    `json:"email"`
	ExpiresAt  time.Time `json:"expires_at"`
}
