package forecast

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	"github.com/HatiCode/bizcast/pkg/models"
)

// Auto lets the orchestrator pick the backend.
const Auto = "auto"

var (
	// ErrInvalidRequest wraps every request validation failure.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNoBackendAvailable is returned when auto-selection finds no backend
	// registered in this process.
	ErrNoBackendAvailable = errors.New("no forecasting backend available")

	// ErrUnsupportedBackend is the sentinel matched by UnsupportedBackendError.
	ErrUnsupportedBackend = errors.New("unsupported backend")
)

// UnsupportedBackendError reports an explicitly requested backend that is
// not available in this deployment.
type UnsupportedBackendError struct {
	Backend models.BackendID
}

func (e *UnsupportedBackendError) Error() string {
	return fmt.Sprintf("backend %q is not available in this deployment", e.Backend)
}

// Is makes errors.Is(err, ErrUnsupportedBackend) match.
func (e *UnsupportedBackendError) Is(target error) bool {
	return target == ErrUnsupportedBackend
}

// Request asks for a forecast of one metric of one business. A nil Horizon
// means the default of 30 days; an explicit value must lie in [1, 365].
type Request struct {
	BusinessID int64  `json:"business_id" validate:"gt=0"`
	MetricName string `json:"metric_name" validate:"required,metric_name"`
	Horizon    *int   `json:"horizon,omitempty" default:"30" validate:"required,min=1,max=365"`
	Backend    string `json:"backend" default:"auto" validate:"oneof=tree additive auto"`
}

// Days returns a horizon value for Request.Horizon.
func Days(n int) *int {
	return &n
}

// days is the horizon after Normalize.
func (r *Request) days() int {
	if r.Horizon == nil {
		return 0
	}
	return *r.Horizon
}

// Result is a served forecast. BackendUsed is always a concrete backend,
// never Auto.
type Result struct {
	BusinessID      int64                   `json:"business_id"`
	MetricName      string                  `json:"metric_name"`
	Horizon         int                     `json:"horizon"`
	BackendUsed     models.BackendID        `json:"backend_used"`
	Points          []models.ForecastPoint  `json:"points"`
	TrainingMetrics *models.TrainingMetrics `json:"training_metrics,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("metric_name", func(fl validator.FieldLevel) bool {
		return models.ValidMetricName(fl.Field().String())
	})
	return v
}

// Normalize fills defaults for omitted fields and validates the request.
// Backend names are case-insensitive. Errors match ErrInvalidRequest.
func (r *Request) Normalize() error {
	if err := defaults.Set(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	r.Backend = strings.ToLower(strings.TrimSpace(r.Backend))
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, describe(err))
	}
	return nil
}

// describe renders validation failures as one readable line.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return strings.Join(msgs, "; ")
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "metric_name":
		return fmt.Sprintf("%s must be 1-128 alphanumerics, dots, dashes or underscores", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}
