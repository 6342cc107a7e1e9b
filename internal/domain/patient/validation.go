package patient

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/medibridge/clinic/internal/platform/apiclient"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

var fieldLabels = map[string]string{
	"firstName":        "First name",
	"lastName":         "Last name",
	"email":            "Email",
	"phone":            "Phone",
	"dateOfBirth":      "Date of birth",
	"gender":           "Gender",
	"address":          "Address",
	"emergencyContact": "Emergency contact",
	"emergencyPhone":   "Emergency phone",
	"bloodGroup":       "Blood group",
	"page":             "Page",
	"limit":            "Limit",
}

// ValidationError reports input rejected before any request was sent.
// Fields maps the wire field name to a message.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, e.Fields[k])
	}
	return strings.Join(msgs, ", ")
}

// Is lets errors.Is(err, apiclient.ErrValidation) match client-side
// validation failures too.
func (e *ValidationError) Is(target error) bool {
	return target == apiclient.ErrValidation
}

func newValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// Validate applies the record rules to a NewPatient, Demographics or
// ClinicalNotes value and converts validator errors into a *ValidationError.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("patient: validate: %w", err)
	}
	out := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		out.Fields[fe.Field()] = fieldMessage(fe)
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	label, ok := fieldLabels[fe.Field()]
	if !ok {
		label = fe.Field()
	}
	switch fe.Tag() {
	case "required":
		return label + " is required"
	case "email":
		return "Invalid email address"
	case "datetime":
		return "Invalid date of birth format. Use YYYY-MM-DD"
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", label, strings.Join(strings.Fields(fe.Param()), ", "))
	}
	return label + " is invalid"
}
