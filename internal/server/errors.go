package server

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	apikeydomain "github.com/smallbiznis/fakturo/internal/apikey/domain"
	"github.com/smallbiznis/fakturo/internal/authorization"
	contractdomain "github.com/smallbiznis/fakturo/internal/contract/domain"
	dunningdomain "github.com/smallbiznis/fakturo/internal/dunning/domain"
	filedomain "github.com/smallbiznis/fakturo/internal/filestore/domain"
	invoicedomain "github.com/smallbiznis/fakturo/internal/invoice/domain"
	positiondomain "github.com/smallbiznis/fakturo/internal/position/domain"
	"github.com/smallbiznis/fakturo/internal/precondition"
	prepaiddomain "github.com/smallbiznis/fakturo/internal/prepaid/domain"
	shopdomain "github.com/smallbiznis/fakturo/internal/shop/domain"
	userdomain "github.com/smallbiznis/fakturo/internal/user/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Status string       `json:"status"`
	Error  errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrRateLimited    = errors.New("rate_limited")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Status: "error", Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{{Field: field, Code: code, Message: message}},
	}
}

// useJSONFieldNames makes field errors report the wire name of a field.
func useJSONFieldNames() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
}

// bindError turns a gin binding failure into field errors.
func bindError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		out := &ValidationErrors{}
		for _, fe := range fieldErrs {
			out.Errors = append(out.Errors, ValidationError{
				Field:   fe.Field(),
				Code:    fe.Tag(),
				Message: "failed on " + fe.Tag(),
			})
		}
		return out
	}
	return newValidationError("request", ErrInvalidRequest.Error(), "invalid request")
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}

	if reason, ok := precondition.Reason(err); ok {
		return http.StatusConflict, errorPayload{
			Type:    "precondition_failed",
			Code:    reason,
			Message: strings.ReplaceAll(reason, "_", " "),
		}
	}

	var vErr *ValidationErrors
	if errors.As(err, &vErr) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := err.Error()
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "validation_error",
			Code:    code,
			Message: "validation error",
			Errors: []ValidationError{{
				Field:   strings.TrimPrefix(code, "invalid_"),
				Code:    code,
				Message: "invalid value",
			}},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, apikeydomain.ErrInvalidKey),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Message: "unauthorized"}
	case errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{Type: "forbidden", Message: "forbidden"}
	case errors.Is(err, userdomain.ErrEmailTaken):
		return http.StatusConflict, errorPayload{Type: "conflict", Code: err.Error(), Message: "conflict"}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{Type: "rate_limited", Message: "too many requests"}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{Type: "not_found", Code: notFoundCode(err), Message: "not found"}
	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}
}

var validationErrors = []error{
	ErrInvalidRequest,
	apikeydomain.ErrInvalidName,
	apikeydomain.ErrInvalidKeyID,
	userdomain.ErrInvalidName,
	userdomain.ErrInvalidEmail,
	invoicedomain.ErrInvalidType,
	invoicedomain.ErrInvalidStatus,
	prepaiddomain.ErrInvalidAmount,
	prepaiddomain.ErrInvalidUser,
	filedomain.ErrInvalidName,
	filedomain.ErrEmptyFile,
	filedomain.ErrInvalidOwner,
	contractdomain.ErrInvalidType,
	contractdomain.ErrInvalidWindow,
	dunningdomain.ErrInvalidRule,
	shopdomain.ErrInvalidForm,
	shopdomain.ErrInvalidField,
	shopdomain.ErrInvalidOption,
	shopdomain.ErrInvalidRule,
	shopdomain.ErrInvalidValues,
	shopdomain.ErrInvalidUser,
	positiondomain.ErrInvalidName,
	positiondomain.ErrInvalidQuantity,
	positiondomain.ErrInvalidVat,
	positiondomain.ErrInvalidDiscount,
}

var notFoundErrors = []error{
	apikeydomain.ErrNotFound,
	userdomain.ErrNotFound,
	invoicedomain.ErrNotFound,
	invoicedomain.ErrTypeNotFound,
	invoicedomain.ErrPositionNotFound,
	invoicedomain.ErrNoFile,
	prepaiddomain.ErrNotFound,
	filedomain.ErrNotFound,
	contractdomain.ErrNotFound,
	contractdomain.ErrTypeNotFound,
	contractdomain.ErrPositionNotFound,
	dunningdomain.ErrRuleNotFound,
	shopdomain.ErrFormNotFound,
	shopdomain.ErrFieldNotFound,
	shopdomain.ErrOrderNotFound,
	positiondomain.ErrDiscountNotFound,
}

func isValidationError(err error) bool {
	return matchesAny(err, validationErrors)
}

func isNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound) || matchesAny(err, notFoundErrors)
}

func notFoundCode(err error) string {
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return "not_found"
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// classifyErrorForLog feeds error_type and error_code into the request log.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Code
	if code == "" {
		code = payload.Type
	}
	return payload.Type, code
}
