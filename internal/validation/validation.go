package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	minPhoneDigits = 7
	maxPhoneDigits = 15
)

var (
	ErrEmptyContent   = errors.New("content is empty")
	ErrContentTooLong = errors.New("content too long")
	validate          = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return ValidatePhone(fl.Field().String())
	})
	return v
}

// Struct validates a request DTO using its `validate` tags.
func Struct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		return errors.New(Describe(err))
	}
	return nil
}

// Describe renders validator errors as "field: rule" pairs.
func Describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := lo.Map(verrs, func(fe validator.FieldError, _ int) string {
		if fe.Param() != "" {
			return fmt.Sprintf("%s: %s=%s", lowerFirst(fe.Field()), fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s: %s", lowerFirst(fe.Field()), fe.Tag())
	})
	return strings.Join(parts, "; ")
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}

// NormalizePhone keeps only the digits of a phone number.
func NormalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
}

func ValidatePhone(phone string) bool {
	n := len(NormalizePhone(phone))
	return n >= minPhoneDigits && n <= maxPhoneDigits
}

// NormalizePhones normalizes a contact list, dropping invalid and duplicate numbers.
func NormalizePhones(phones []string) []string {
	normalized := lo.Map(phones, func(p string, _ int) string { return NormalizePhone(p) })
	valid := lo.Filter(normalized, func(p string, _ int) bool { return ValidatePhone(p) })
	return lo.Uniq(valid)
}

// CheckContent trims message content and enforces 1..max characters.
func CheckContent(content string, max int) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyContent
	}
	if max > 0 && utf8.RuneCountInString(content) > max {
		return "", fmt.Errorf("%w: %d characters, limit %d", ErrContentTooLong, utf8.RuneCountInString(content), max)
	}
	return content, nil
}

// IsID reports whether s is a canonical hyphenated UUID, the only id form the
// uuid columns accept.
func IsID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
