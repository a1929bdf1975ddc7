package validation

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"

	appErrors "github.com/enrollease/enrollease-api/pkg/errors"
)

const (
	notBlankTag = "notblank"
	mobileTag   = "ph_mobile"
	emailTag    = "basic_email"
)

var (
	mobilePattern = regexp.MustCompile(`^09\d{9}$`)
	emailPattern  = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

var customMessages = map[string]string{
	notBlankTag: "{0} is required",
	mobileTag:   "{0} must be an 11-digit mobile number starting with 09",
	emailTag:    "{0} must be a valid e-mail address",
}

// Validator wraps go-playground/validator with English messages keyed by JSON field names.
type Validator struct {
	engine *validator.Validate
	trans  ut.Translator
}

// New builds a Validator with the custom tags registered.
func New() *Validator {
	engine := validator.New()
	locale := en.New()
	uni := ut.New(locale, locale)
	trans, _ := uni.GetTranslator("en")
	_ = enTranslations.RegisterDefaultTranslations(engine, trans)

	engine.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	_ = engine.RegisterValidation(notBlankTag, func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = engine.RegisterValidation(mobileTag, func(fl validator.FieldLevel) bool {
		return IsMobile(fl.Field().String())
	})
	_ = engine.RegisterValidation(emailTag, func(fl validator.FieldLevel) bool {
		return IsEmail(fl.Field().String())
	})

	for tag, text := range customMessages {
		text := text
		_ = engine.RegisterTranslation(tag, trans,
			func(t ut.Translator) error { return t.Add(tag, text, true) },
			func(t ut.Translator, fe validator.FieldError) string {
				msg, err := t.T(fe.Tag(), fe.Field())
				if err != nil {
					return fe.Field() + " is invalid"
				}
				return msg
			},
		)
	}

	return &Validator{engine: engine, trans: trans}
}

// Engine exposes the underlying validator for gin binding.
func (v *Validator) Engine() *validator.Validate {
	return v.engine
}

// Struct validates s and returns a VALIDATION_ERROR naming the first failing field in
// declaration order, or nil.
func (v *Validator) Struct(s interface{}) error {
	err := v.engine.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, appErrors.ErrValidation.Message)
	}
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fieldErrs[0].Translate(v.trans))
}

// Messages returns every field message keyed by namespace-free field name.
func (v *Validator) Messages(err error) map[string]string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return nil
	}
	out := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		out[fe.Field()] = fe.Translate(v.trans)
	}
	return out
}

// IsMobile reports whether raw is an 11-digit mobile number starting with 09.
func IsMobile(raw string) bool {
	return mobilePattern.MatchString(raw)
}

// IsEmail reports whether raw looks like local@domain.tld.
func IsEmail(raw string) bool {
	return emailPattern.MatchString(raw)
}
