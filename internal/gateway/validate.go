package gateway

import (
	"errors"
	"fmt"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = validator.New()

// ReadAndValidateRequest binds the request into req, applies `default`
// tags and validates it. It returns nil or a list of ValidationError.
func ReadAndValidateRequest(c echo.Context, req interface{}) []ValidationError {
	if err := c.Bind(req); err != nil {
		return validationErrors(err)
	}
	if err := defaults.Set(req); err != nil {
		return validationErrors(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return validationErrors(err)
	}
	return nil
}

func validationErrors(err error) []ValidationError {
	var ves validator.ValidationErrors
	if errors.As(err, &ves) {
		out := make([]ValidationError, 0, len(ves))
		for _, fe := range ves {
			out = append(out, ValidationError{
				Code:    "ERR_" + strings.ToUpper(fe.Tag()),
				Field:   fe.Field(),
				Message: errorMessage(fe),
				Params:  errorParams(fe),
			})
		}
		return out
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return []ValidationError{{Code: "ERR_UNKNOWN", Message: fmt.Sprintf("%v", he.Message)}}
	}
	return []ValidationError{{Code: "ERR_UNKNOWN", Message: err.Error()}}
}

func errorMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}

func errorParams(fe validator.FieldError) map[string]interface{} {
	if fe.Tag() == "oneof" {
		return map[string]interface{}{"options": strings.Split(fe.Param(), " ")}
	}
	return nil
}

// InstrumentRequest selects an instrument from the catalogue.
type InstrumentRequest struct {
	Symbol string `json:"symbol" validate:"required"`
}

// TimeframeRequest selects the candle timeframe.
type TimeframeRequest struct {
	Timeframe string `json:"timeframe" validate:"required,oneof=1m 3m 5m"`
}

// ActiveRequest pauses or resumes the pipeline.
type ActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// MarketsQuery filters the catalogue by feed kind.
type MarketsQuery struct {
	Kind string `query:"kind" default:"all" validate:"oneof=all live otc"`
}
