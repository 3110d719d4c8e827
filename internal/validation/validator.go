// Package validation checks catalog and account input with struct tags.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"lending/internal/models"
)

var (
	isbnPattern   = regexp.MustCompile(`^(?:\d{9}[\dXx]|\d{13}|\d{3}-\d{1,5}-\d{1,7}-\d{1,6}-[\dXx])$`)
	namePattern   = regexp.MustCompile(`^[A-Za-zÁÉÍÓÚáéíóúÑñÜü\s]+$`)
	titlePattern  = regexp.MustCompile(`^[A-Za-zÁÉÍÓÚáéíóúÑñÜü0-9\s]+$`)
	minBookYear   = 1000
	currentYearFn = func() int { return time.Now().Year() }
)

// Custom tags registered on every Validator:
//
//	bookisbn   ISBN-10, ISBN-13 or hyphenated ISBN-13
//	personname letters (accents included) and spaces
//	booktitle  personname plus digits
//	bookyear   1000 through the current year
//	nospaces   no whitespace anywhere
const (
	TagISBN       = "bookisbn"
	TagPersonName = "personname"
	TagBookTitle  = "booktitle"
	TagBookYear   = "bookyear"
	TagNoSpaces   = "nospaces"
)

type Validator struct {
	v *validator.Validate
}

// New creates a Validator with the catalog and account rules registered
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report json names so messages match what callers sent
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	mustRegister(v, TagISBN, func(fl validator.FieldLevel) bool {
		return isbnPattern.MatchString(fl.Field().String())
	})
	mustRegister(v, TagPersonName, func(fl validator.FieldLevel) bool {
		return namePattern.MatchString(fl.Field().String())
	})
	mustRegister(v, TagBookTitle, func(fl validator.FieldLevel) bool {
		return titlePattern.MatchString(fl.Field().String())
	})
	mustRegister(v, TagBookYear, func(fl validator.FieldLevel) bool {
		year := int(fl.Field().Int())
		return year >= minBookYear && year <= currentYearFn()
	})
	mustRegister(v, TagNoSpaces, func(fl validator.FieldLevel) bool {
		return !strings.ContainsFunc(fl.Field().String(), isSpace)
	})

	return &Validator{v: v}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s: %v", tag, err))
	}
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

// Validate checks i's struct tags. Failures wrap models.ErrInvalidField and
// name every offending field.
func (v *Validator) Validate(i any) error {
	err := v.v.Struct(i)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("failed to validate input: %w", err)
	}

	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s fails %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%s: %w", strings.Join(parts, "; "), models.ErrInvalidField)
}
