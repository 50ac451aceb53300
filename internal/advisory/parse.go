package advisory

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"

	"trading-signalv1/internal/model"
)

// wireResponse is the JSON shape the service must answer with. Pointers
// distinguish a missing field from a zero value.
type wireResponse struct {
	Direction  *string  `json:"direction" validate:"required,oneof=CALL PUT WAIT"`
	Confidence *float64 `json:"confidence" validate:"required,gte=0,lte=100"`
	Reasoning  *string  `json:"reasoning" validate:"required"`
}

var validate = validator.New()

// ParseResponse decodes and validates a raw service answer. Anything that
// does not match the schema is an error wrapping ErrMalformedResponse; no
// field is silently defaulted.
func ParseResponse(raw string) (Response, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Response{}, fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}

	var w wireResponse
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := validate.Struct(&w); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return Response{
		Direction:  model.Direction(*w.Direction),
		Confidence: int(math.Round(*w.Confidence)),
		Reasoning:  *w.Reasoning,
	}, nil
}
