package submission

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"mitsnews.org/internal/catalog"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("maxwords", func(fl validator.FieldLevel) bool {
			limit, err := strconv.Atoi(fl.Param())
			if err != nil {
				return false
			}
			return len(strings.Fields(fl.Field().String())) <= limit
		})
		validate = v
	})
	return validate
}

// normalize trims every field, validates the request and resolves catalog
// values to their canonical names.
func (r CreateRequest) normalize() (CreateRequest, error) {
	r.Type = Type(strings.ToLower(strings.TrimSpace(string(r.Type))))
	r.Department = strings.TrimSpace(r.Department)
	r.Club = strings.TrimSpace(r.Club)
	r.Section = strings.TrimSpace(r.Section)
	r.Title = strings.TrimSpace(r.Title)
	r.Description = strings.TrimSpace(r.Description)
	r.ContributorName = strings.TrimSpace(r.ContributorName)
	r.ActivityDate = strings.TrimSpace(r.ActivityDate)

	if err := requestValidator().Struct(r); err != nil {
		return CreateRequest{}, validationError(err)
	}

	switch r.Type {
	case TypeDepartment:
		name, ok := catalog.Department(r.Department)
		if !ok {
			return CreateRequest{}, fmt.Errorf("%w: unknown department %q", ErrInvalidInput, r.Department)
		}
		r.Department = name
		if r.Section != "" {
			section, ok := catalog.Section(r.Section)
			if !ok {
				return CreateRequest{}, fmt.Errorf("%w: unknown section %q", ErrInvalidInput, r.Section)
			}
			r.Section = section
		}
	case TypeClub:
		name, ok := catalog.Club(r.Club)
		if !ok {
			return CreateRequest{}, fmt.Errorf("%w: unknown club %q", ErrInvalidInput, r.Club)
		}
		r.Club = name
	}
	return r, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "required_if":
		return field + " is required for " + lastWord(fe.Param()) + " submissions"
	case "excluded_if":
		return field + " is not allowed for " + lastWord(fe.Param()) + " submissions"
	case "oneof":
		return field + " must be one of: " + fe.Param()
	case "maxwords":
		return field + " must be at most " + fe.Param() + " words"
	case "max":
		return field + " must be at most " + fe.Param() + " characters"
	case "datetime":
		return field + " must be a date formatted YYYY-MM-DD"
	}
	return field + " is invalid"
}

func lastWord(param string) string {
	parts := strings.Fields(param)
	if len(parts) == 0 {
		return param
	}
	return parts[len(parts)-1]
}
