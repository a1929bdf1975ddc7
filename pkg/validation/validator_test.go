package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/enrollease/enrollease-api/pkg/errors"
)

type sample struct {
	City   string `json:"city" validate:"notblank"`
	Mobile string `json:"mobile" validate:"ph_mobile"`
	Email  string `json:"email" validate:"basic_email"`
	Year   int    `json:"year" validate:"min=1900"`
}

func TestMobilePattern(t *testing.T) {
	assert.True(t, IsMobile("09171234567"))
	assert.False(t, IsMobile("091712345"))
	assert.False(t, IsMobile("639171234567"))
	assert.False(t, IsMobile("091712345678"))
}

func TestEmailPattern(t *testing.T) {
	assert.True(t, IsEmail("juan@school.edu.ph"))
	assert.False(t, IsEmail("juan@school"))
	assert.False(t, IsEmail("ju an@school.ph"))
}

func TestStructReportsFirstFieldInOrder(t *testing.T) {
	v := New()
	err := v.Struct(sample{City: " ", Mobile: "1", Email: "x", Year: 1})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Equal(t, "city is required", appErr.Message)

	err = v.Struct(sample{City: "Manila", Mobile: "1", Email: "x", Year: 1})
	assert.Equal(t, "mobile must be an 11-digit mobile number starting with 09", appErrors.FromError(err).Message)

	msgs := v.Messages(v.Engine().Struct(sample{City: "Manila", Mobile: "09171234567", Email: "a@b.co", Year: 1}))
	assert.Contains(t, msgs["year"], "year must be")
}

func TestStructValid(t *testing.T) {
	assert.NoError(t, New().Struct(sample{City: "Manila", Mobile: "09171234567", Email: "a@b.co", Year: 2000}))
}
