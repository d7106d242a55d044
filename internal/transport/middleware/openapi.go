package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"

	"github.com/frahmantamala/fleet-portal/internal"
)

// RequestValidator checks incoming requests against the portal's OpenAPI
// document before they reach a handler.
type RequestValidator struct {
	router routers.Router
	logger *slog.Logger
}

// NewRequestValidator loads and validates the document in spec.
func NewRequestValidator(spec []byte, logger *slog.Logger) (*RequestValidator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(spec)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid openapi document: %w", err)
	}

	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build openapi router: %w", err)
	}

	return &RequestValidator{router: router, logger: logger}, nil
}

// Handler rejects requests that break the document with a 400. Requests the
// document does not describe pass through untouched.
func (v *RequestValidator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, pathParams, err := v.router.FindRoute(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    r,
			PathParams: pathParams,
			Route:      route,
			Options: &openapi3filter.Options{
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
			},
		}
		if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
			v.logger.Debug("request rejected by openapi validation", "path", r.URL.Path, "error", err)
			writeAppError(w, validationError(err))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// validationError names the offending field without echoing submitted values.
func validationError(err error) *internal.AppError {
	appErr := internal.NewValidationError("request does not match the API contract", internal.ErrCodeInvalidRequest)

	var reqErr *openapi3filter.RequestError
	if !errors.As(err, &reqErr) {
		return appErr
	}

	details := map[string]string{}
	if reqErr.Parameter != nil {
		details["field"] = reqErr.Parameter.Name
	}
	var schemaErr *openapi3.SchemaError
	if errors.As(reqErr.Err, &schemaErr) {
		if pointer := schemaErr.JSONPointer(); len(pointer) > 0 {
			details["field"] = strings.Join(pointer, ".")
		}
		details["reason"] = schemaErr.Reason
	} else if reqErr.Reason != "" {
		details["reason"] = reqErr.Reason
	}
	if len(details) == 0 {
		return appErr
	}
	return appErr.WithDetails(details)
}
