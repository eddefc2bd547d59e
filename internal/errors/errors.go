package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/gin-gonic/gin"

	"github.com/ventture/credit-engine/internal/artifact"
	"github.com/ventture/credit-engine/internal/engine"
)

// ErrorCategory defines the type of error for proper handling
type ErrorCategory string

const (
	CategoryValidation  ErrorCategory = "validation"
	CategoryModel       ErrorCategory = "model"
	CategoryExplanation ErrorCategory = "explanation"
	CategoryArtifact    ErrorCategory = "artifact"
	CategoryTimeout     ErrorCategory = "timeout"
	CategoryRateLimit   ErrorCategory = "rate_limit"
	CategoryInternal    ErrorCategory = "internal"
)

// AppError wraps an errbuilder error with the HTTP context the serving
// layer needs to answer the caller.
type AppError struct {
	*errbuilder.ErrBuilder
	Category   ErrorCategory `json:"category"`
	HTTPStatus int           `json:"http_status"`
	Timestamp  time.Time     `json:"timestamp"`
	RequestID  string        `json:"request_id,omitempty"`
	StackTrace string        `json:"stack_trace,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	codeStr := "UNKNOWN_ERROR"
	switch e.Category {
	case CategoryValidation:
		codeStr = "VALIDATION_ERROR"
	case CategoryModel:
		codeStr = "MODEL_ERROR"
	case CategoryExplanation:
		codeStr = "EXPLANATION_UNSUPPORTED"
	case CategoryTimeout:
		codeStr = "TIMEOUT_ERROR"
	case CategoryRateLimit:
		codeStr = "RATE_LIMIT_EXCEEDED"
	case CategoryArtifact:
		codeStr = "ARTIFACT_ERROR"
	case CategoryInternal:
		codeStr = "INTERNAL_ERROR"
	}

	return fmt.Sprintf("[%s] %s", codeStr, e.ErrBuilder.Msg)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.ErrBuilder.Unwrap()
}

// NewAppError creates an AppError from errbuilder with additional context
func NewAppError(builder *errbuilder.ErrBuilder, category ErrorCategory, httpStatus int) *AppError {
	return &AppError{
		ErrBuilder: builder,
		Category:   category,
		HTTPStatus: httpStatus,
		Timestamp:  time.Now(),
	}
}

// NewValidationError creates a request-validation error
func NewValidationError(message string, details ...interface{}) *AppError {
	detailStr := ""
	if len(details) > 0 {
		detailStr = fmt.Sprintf("%v", details[0])
	}

	builder := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(message)

	if detailStr != "" {
		errorMap := errbuilder.ErrorMap{}
		errorMap.Set("validation_details", errors.New(detailStr))
		builder = builder.WithDetails(errbuilder.NewErrDetails(errorMap))
	}

	return NewAppError(builder, CategoryValidation, http.StatusBadRequest)
}

// NewMissingFeatureError maps the engine's missing-feature failure,
// naming every absent field for the caller.
func NewMissingFeatureError(cause *engine.MissingFeatureError) *AppError {
	errorMap := errbuilder.ErrorMap{}
	for _, field := range cause.Fields {
		errorMap.Set(field, errors.New("required feature missing"))
	}

	builder := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(cause.Error()).
		WithCause(cause).
		WithDetails(errbuilder.NewErrDetails(errorMap))

	return NewAppError(builder, CategoryValidation, http.StatusBadRequest)
}

// NewInvalidValueError maps an out-of-bounds or non-finite feature value.
func NewInvalidValueError(cause *engine.InvalidValueError) *AppError {
	errorMap := errbuilder.ErrorMap{}
	errorMap.Set(cause.Field, errors.New(cause.Reason))

	builder := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(cause.Error()).
		WithCause(cause).
		WithDetails(errbuilder.NewErrDetails(errorMap))

	return NewAppError(builder, CategoryValidation, http.StatusBadRequest)
}

// NewDimensionMismatchError maps a schema/model disagreement. This is a
// server-side configuration fault, not a caller mistake.
func NewDimensionMismatchError(cause *engine.DimensionMismatchError) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg(cause.Error()).
		WithCause(cause)

	return NewAppError(builder, CategoryModel, http.StatusInternalServerError)
}

// NewExplanationUnsupportedError maps a model with no viable explanation
// method. The prediction itself is still valid; only the explanation is
// unavailable.
func NewExplanationUnsupportedError(cause *engine.ExplanationUnsupportedError) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeUnavailable).
		WithMsg(cause.Error()).
		WithCause(cause)

	return NewAppError(builder, CategoryExplanation, http.StatusUnprocessableEntity)
}

// NewExplanationTimeoutError maps a perturbation run that exceeded its
// budget.
func NewExplanationTimeoutError(cause *engine.ExplanationTimeoutError) *AppError {
	errorMap := errbuilder.ErrorMap{}
	errorMap.Set("timeout", errors.New(cause.Timeout.String()))

	builder := errbuilder.New().
		WithCode(errbuilder.CodeDeadlineExceeded).
		WithMsg(cause.Error()).
		WithCause(cause).
		WithDetails(errbuilder.NewErrDetails(errorMap))

	return NewAppError(builder, CategoryTimeout, http.StatusGatewayTimeout)
}

// NewArtifactLoadError maps a model/schema load or pairing failure.
func NewArtifactLoadError(cause *artifact.LoadError) *AppError {
	errorMap := errbuilder.ErrorMap{}
	errorMap.Set("artifact", errors.New(cause.Artifact))

	builder := errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg(cause.Error()).
		WithCause(cause).
		WithDetails(errbuilder.NewErrDetails(errorMap))

	return NewAppError(builder, CategoryArtifact, http.StatusInternalServerError)
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(retryAfter string) *AppError {
	errorMap := errbuilder.ErrorMap{}
	errorMap.Set("retry_after", errors.New(retryAfter))

	builder := errbuilder.New().
		WithCode(errbuilder.CodeResourceExhausted).
		WithMsg("Rate limit exceeded").
		WithDetails(errbuilder.NewErrDetails(errorMap))

	return NewAppError(builder, CategoryRateLimit, http.StatusTooManyRequests)
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *AppError {
	errorMap := errbuilder.ErrorMap{}
	errorMap.Set("internal_details", errors.New(message))

	builder := errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg("Internal server error").
		WithDetails(errbuilder.NewErrDetails(errorMap))

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	appErr := NewAppError(builder, CategoryInternal, http.StatusInternalServerError)

	if gin.Mode() == gin.DebugMode || gin.Mode() == gin.TestMode {
		appErr.StackTrace = captureStackTrace()
	}

	return appErr
}

// captureStackTrace captures a stack trace for debugging
func captureStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// ErrorHandler is a Gin middleware that provides centralized error handling
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last().Err

			appErr := ToAppError(err)

			LogError(c, appErr)

			c.JSON(appErr.HTTPStatus, appErr)
			return
		}
	}
}

// RecoveryHandler provides panic recovery with structured error responses
func RecoveryHandler() gin.HandlerFunc {
	return gin.RecoveryWithWriter(nil, func(c *gin.Context, err interface{}) {
		appErr := NewInternalError(
			fmt.Sprintf("Panic recovered: %v", err),
			fmt.Errorf("%v", err),
		)

		appErr.StackTrace = captureStackTrace()

		LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
	})
}

// ToAppError converts any error to an AppError, mapping the engine's
// typed failures onto the HTTP taxonomy.
func ToAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	if appErr, ok := err.(*AppError); ok {
		return appErr
	}

	if ebErr, ok := err.(*errbuilder.ErrBuilder); ok {
		return NewAppError(ebErr, CategoryInternal, http.StatusInternalServerError)
	}

	var missingErr *engine.MissingFeatureError
	if errors.As(err, &missingErr) {
		return NewMissingFeatureError(missingErr)
	}

	var invalidErr *engine.InvalidValueError
	if errors.As(err, &invalidErr) {
		return NewInvalidValueError(invalidErr)
	}

	var dimErr *engine.DimensionMismatchError
	if errors.As(err, &dimErr) {
		return NewDimensionMismatchError(dimErr)
	}

	var unsupportedErr *engine.ExplanationUnsupportedError
	if errors.As(err, &unsupportedErr) {
		return NewExplanationUnsupportedError(unsupportedErr)
	}

	var timeoutErr *engine.ExplanationTimeoutError
	if errors.As(err, &timeoutErr) {
		return NewExplanationTimeoutError(timeoutErr)
	}

	var loadErr *artifact.LoadError
	if errors.As(err, &loadErr) {
		return NewArtifactLoadError(loadErr)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		builder := errbuilder.New().
			WithCode(errbuilder.CodeDeadlineExceeded).
			WithMsg("Request deadline exceeded").
			WithCause(err)
		return NewAppError(builder, CategoryTimeout, http.StatusGatewayTimeout)
	}

	return NewInternalError("An unexpected error occurred", err)
}

// LogError logs an error with appropriate level and context
func LogError(c *gin.Context, err *AppError) {
	ip := c.ClientIP()
	method := c.Request.Method
	path := c.Request.URL.Path
	requestID := c.GetHeader("X-Request-ID")

	errorCode := err.ErrBuilder.ErrCode()
	errorMsg := err.ErrBuilder.Msg
	errorDetails := err.ErrBuilder.Details

	logEntry := slog.With(
		"error_category", err.Category,
		"error_code", errorCode,
		"http_status", err.HTTPStatus,
		"ip", ip,
		"method", method,
		"path", path,
		"request_id", requestID,
	)

	switch err.Category {
	case CategoryValidation, CategoryRateLimit:
		if len(errorDetails.Errors) > 0 {
			logEntry.Warn(errorMsg, "details", errorDetails.Errors)
		} else {
			logEntry.Warn(errorMsg)
		}
	case CategoryExplanation, CategoryTimeout:
		if cause := err.ErrBuilder.Unwrap(); cause != nil {
			logEntry.Info(errorMsg, "cause", cause)
		} else {
			logEntry.Info(errorMsg)
		}
	case CategoryModel, CategoryArtifact:
		// A mismatched pair means the deployment is broken, not the request.
		if cause := err.ErrBuilder.Unwrap(); cause != nil {
			logEntry.Error(errorMsg, "cause", cause)
		} else {
			logEntry.Error(errorMsg)
		}
	default:
		if cause := err.ErrBuilder.Unwrap(); cause != nil {
			logEntry.Error(errorMsg, "cause", cause)
		} else {
			logEntry.Error(errorMsg)
		}
	}

	if err.StackTrace != "" && (gin.Mode() == gin.DebugMode || gin.Mode() == gin.TestMode) {
		logEntry.Debug("stack_trace", "trace", err.StackTrace)
	}
}

// WrapError wraps an error with additional context
func WrapError(err error, message string, args ...interface{}) error {
	if err == nil {
		return nil
	}

	contextMsg := fmt.Sprintf(message, args...)
	return fmt.Errorf("%s: %w", contextMsg, err)
}

// SafeClose safely closes a resource and logs any errors
func SafeClose(closer interface{ Close() error }, resourceName string) {
	if closer == nil {
		return
	}

	if err := closer.Close(); err != nil {
		slog.Warn("Failed to close resource",
			"resource", resourceName,
			"error", err)
	}
}
