// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/craftline/production-tracker/internal/domain"
	"github.com/go-playground/validator/v10"
)

const maxRequestBodyBytes = 1 << 20

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// requestValidator returns the shared validator with the stage and
// check_status tags registered and json field names in error messages.
func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		_ = validate.RegisterValidation("stage", func(fl validator.FieldLevel) bool {
			_, err := domain.ParseStage(fl.Field().String())
			return err == nil
		})
		_ = validate.RegisterValidation("check_status", func(fl validator.FieldLevel) bool {
			_, err := domain.ParseCheckStatus(fl.Field().String())
			return err == nil
		})

		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// decodeAndValidate reads exactly one JSON object into dst and validates it.
// Every failure wraps domain.ErrValidation.
func decodeAndValidate(r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return fmt.Errorf("%w: request body is required", domain.ErrValidation)
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is required", domain.ErrValidation)
		}
		return fmt.Errorf("%w: invalid request body: %v", domain.ErrValidation, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: request body must contain exactly one JSON object", domain.ErrValidation)
	}

	if err := requestValidator().Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("%w: %s", domain.ErrValidation, formatValidationErrors(verrs))
		}
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

func formatValidationErrors(verrs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, e.Field()+" "+formatValidationError(e))
	}
	sort.Strings(msgs)
	return strings.Join(msgs, "; ")
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return "must be at least " + e.Param()
	case "max", "lte":
		return "must be at most " + e.Param()
	case "oneof":
		return "must be one of: " + e.Param()
	case "datetime":
		return "must be a date formatted as " + e.Param()
	case "stage":
		return "must be a known production stage"
	case "check_status":
		return "must be one of: pending passed failed skipped"
	default:
		return "is invalid"
	}
}
