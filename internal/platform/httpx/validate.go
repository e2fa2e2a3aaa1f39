package httpx

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator checks decoded request bodies against their struct tags.
type Validator struct {
	validate *validator.Validate
}

// NewValidator constructs a Validator that reports JSON field names.
func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validate: v}
}

// Bind decodes the body into target and validates it. On failure the problem
// response is already written and false is returned.
func (v *Validator) Bind(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := DecodeJSON(r, target); err != nil {
		ProblemCode(w, http.StatusBadRequest, "MALFORMED_BODY", err.Error())
		return false
	}
	if err := v.validate.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			ProblemCode(w, http.StatusBadRequest, "MALFORMED_BODY", err.Error())
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			field := fe.Namespace()
			if _, rest, ok := strings.Cut(field, "."); ok {
				field = rest
			}
			fields[field] = fe.Tag()
		}
		WriteProblem(w, ProblemDetail{
			Status: http.StatusBadRequest,
			Detail: "request body failed validation",
			Code:   "INVALID_REQUEST",
			Fields: fields,
		})
		return false
	}
	return true
}
