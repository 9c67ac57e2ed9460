// Package sanitize validates and normalizes untrusted form fields at the
// trust boundary. Rules run in the order they are chained; a field keeps its
// first failure only, and a form with any failing field must not be
// persisted by the caller.
package sanitize

import (
	"fmt"
	"html"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/secure/precis"

	"github.com/secureblog/secureblog/internal/shared"
)

var validate = validator.New()

// Form accumulates fields for one submission.
type Form struct {
	fields []*Field
}

// Field is a single named value moving through the rule chain.
type Field struct {
	name    string
	value   string
	failure *shared.FieldError
}

// NewForm returns an empty form.
func NewForm() *Form {
	return &Form{}
}

// Field registers a value under its form name and returns it for chaining.
func (f *Form) Field(name, value string) *Field {
	field := &Field{name: name, value: value}
	f.fields = append(f.fields, field)
	return field
}

// Errors returns the ordered field failures, nil when the form is clean.
// Validation is all-or-nothing: a non-nil result means nothing may be stored.
func (f *Form) Errors() shared.ValidationErrors {
	var errs shared.ValidationErrors
	for _, field := range f.fields {
		if field.failure != nil {
			errs = append(errs, *field.failure)
		}
	}
	return errs
}

// Trim removes leading and trailing whitespace before later rules run.
func (fd *Field) Trim() *Field {
	fd.value = strings.TrimSpace(fd.value)
	return fd
}

// MinLength rejects values shorter than n characters.
func (fd *Field) MinLength(n int) *Field {
	if fd.failure != nil {
		return fd
	}
	if len([]rune(fd.value)) < n {
		fd.fail(fmt.Sprintf("must be at least %d characters", n))
	}
	return fd
}

// Required rejects empty values.
func (fd *Field) Required() *Field {
	if fd.failure != nil {
		return fd
	}
	if fd.value == "" {
		fd.fail("is required")
	}
	return fd
}

// IsEmail structurally validates the value as an email address and
// normalizes its case for storage.
func (fd *Field) IsEmail() *Field {
	if fd.failure != nil {
		return fd
	}
	if err := validate.Var(fd.value, "required,email"); err != nil {
		fd.fail("must be a valid email address")
		return fd
	}
	fd.value = strings.ToLower(fd.value)
	return fd
}

// Username normalizes the value through the PRECIS UsernameCaseMapped
// profile, rejecting confusable or malformed identifiers.
func (fd *Field) Username() *Field {
	if fd.failure != nil {
		return fd
	}
	normalized, err := precis.UsernameCaseMapped.String(fd.value)
	if err != nil {
		fd.fail("contains characters that are not allowed")
		return fd
	}
	fd.value = normalized
	return fd
}

// Escape neutralizes markup-significant characters so the value is safe to
// render later. The escaped form is what gets stored; it is applied once,
// never stacked.
func (fd *Field) Escape() *Field {
	if fd.failure != nil {
		return fd
	}
	fd.value = html.EscapeString(fd.value)
	return fd
}

// Value returns the normalized value after the chain has run.
func (fd *Field) Value() string {
	return fd.value
}

// Name returns the form name of the field.
func (fd *Field) Name() string {
	return fd.name
}

func (fd *Field) fail(message string) {
	fd.failure = &shared.FieldError{Field: fd.name, Message: message}
}
