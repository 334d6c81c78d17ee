package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/searchlens/searchlens/internal/core/client"
	"github.com/searchlens/searchlens/internal/metrics"
	"github.com/searchlens/searchlens/internal/observability"
	"github.com/searchlens/searchlens/internal/server/middleware"
)

// Error codes used in API envelopes.
const (
	CodeInvalidInput          = "INVALID_INPUT"
	CodeNotFound              = "NOT_FOUND"
	CodeMethodNotAllowed      = "METHOD_NOT_ALLOWED"
	CodeRequestRejected       = "REQUEST_REJECTED"
	CodeInternal              = "INTERNAL_ERROR"
	CodeConfigInvalid         = "CONFIG_INVALID"
	CodeDatabase              = "DATABASE_ERROR"
	CodeExternalService       = "EXTERNAL_SERVICE_ERROR"
	CodeBackpressureExhausted = "BACKPRESSURE_EXHAUSTED"
	CodeServiceUnavailable    = "SERVICE_UNAVAILABLE"
	CodeTimeout               = "TIMEOUT"
)

func NewInvalidInputError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeInvalidInput, message)
}

func NewNotFoundError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeNotFound, message)
}

func NewMethodNotAllowedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeMethodNotAllowed, message)
}

func NewInternalError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeInternal, message)
}

func NewServiceUnavailableError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeServiceUnavailable, message)
}

func NewConfigInvalidError(message string) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(CodeConfigInvalid, message)
	envelope, _ = envelope.WithSeverity(errors.SeverityCritical)
	return envelope
}

// WrapInternal builds an INTERNAL_ERROR envelope around err.
func WrapInternal(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(CodeInternal, message)
	envelope = envelope.WithCorrelationID(extractCorrelationID(ctx))
	envelope, _ = envelope.WithSeverity(errors.SeverityHigh)
	return withWrappedError(envelope, err)
}

// WrapConfigInvalid builds a CONFIG_INVALID envelope around err.
func WrapConfigInvalid(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	envelope := NewConfigInvalidError(message)
	envelope = envelope.WithCorrelationID(extractCorrelationID(ctx))
	return withWrappedError(envelope, err)
}

// WrapInvalidInput builds an INVALID_INPUT envelope carrying the request's
// correlation ID and the underlying error text.
func WrapInvalidInput(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(CodeInvalidInput, message)
	envelope = envelope.WithCorrelationID(extractCorrelationID(ctx))
	return withWrappedError(envelope, err)
}

// WrapDatabaseError builds a DATABASE_ERROR envelope for store failures.
func WrapDatabaseError(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(CodeDatabase, message)
	envelope = envelope.WithCorrelationID(extractCorrelationID(ctx))
	envelope, _ = envelope.WithSeverity(errors.SeverityHigh)
	return withWrappedError(envelope, err)
}

// FromClientError maps a typed cluster client failure onto an API envelope.
// Errors that are not client errors fall back to EnsureEnvelope.
func FromClientError(ctx context.Context, err error) *errors.ErrorEnvelope {
	var clientErr *client.Error
	if !stderrors.As(err, &clientErr) {
		return EnsureCorrelationID(EnsureEnvelope(err), ctx)
	}

	var (
		code     string
		message  string
		severity = errors.SeverityMedium
	)
	switch clientErr.Kind {
	case client.KindBackpressureExhausted:
		code, message = CodeBackpressureExhausted, "Cluster kept rejecting the request under load"
	case client.KindTransportFailure:
		code, message = CodeExternalService, "Cluster unreachable or failing"
		severity = errors.SeverityHigh
	case client.KindRequestRejected:
		code, message = CodeRequestRejected, "Cluster rejected the request"
		severity = ""
	case client.KindTimeout:
		code, message = CodeTimeout, "Request deadline reached before the cluster answered"
	default:
		return EnsureCorrelationID(EnsureEnvelope(err), ctx)
	}

	metrics.RecordClientFailure(string(clientErr.Kind), clientErr.LastStatus)

	envelope := errors.NewErrorEnvelope(code, message)
	envelope = envelope.WithCorrelationID(extractCorrelationID(ctx))
	if severity != "" {
		envelope, _ = envelope.WithSeverity(severity)
	}

	details := map[string]interface{}{
		"kind":       string(clientErr.Kind),
		"attempts":   clientErr.Attempts,
		"elapsed_ms": clientErr.Elapsed.Milliseconds(),
	}
	if clientErr.LastStatus != 0 {
		details["last_status"] = clientErr.LastStatus
	}
	if clientErr.Endpoint.Host != "" {
		details["endpoint"] = clientErr.Endpoint.Address()
	}
	if clientErr.Kind == client.KindRequestRejected && len(clientErr.Body) > 0 {
		var body interface{}
		if json.Unmarshal(clientErr.Body, &body) == nil {
			details["cluster_error"] = body
		}
	}
	if updated, updateErr := envelope.WithContext(details); updateErr == nil {
		envelope = updated
	}
	return envelope
}

// extractCorrelationID gets correlation ID from context, falls back to generating new UUID
func extractCorrelationID(ctx context.Context) string {
	if ctx != nil {
		if requestID := middleware.GetRequestID(ctx); requestID != "" {
			return requestID
		}
	}
	return uuid.New().String()
}

// EnsureEnvelope normalizes any error into a gofulmen ErrorEnvelope.
func EnsureEnvelope(err error) *errors.ErrorEnvelope {
	if err == nil {
		env := errors.NewErrorEnvelope(CodeInternal, "unexpected nil error")
		env, _ = env.WithSeverity(errors.SeverityCritical)
		return env
	}

	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) && envelope != nil {
		return envelope
	}

	env := errors.NewErrorEnvelope(CodeInternal, "unexpected error")
	env, _ = env.WithContext(map[string]interface{}{
		"wrapped_error": err.Error(),
	})
	env, _ = env.WithSeverity(errors.SeverityHigh)
	return env
}

// EnsureCorrelationID attaches a correlation ID to the envelope using the context when available.
func EnsureCorrelationID(envelope *errors.ErrorEnvelope, ctx context.Context) *errors.ErrorEnvelope {
	if envelope == nil || envelope.CorrelationID != "" {
		return envelope
	}

	var correlationID string
	if ctx != nil {
		correlationID = middleware.GetRequestID(ctx)
	}
	if correlationID == "" {
		correlationID = "fallback-" + errors.GenerateCorrelationID()
	}
	return envelope.WithCorrelationID(correlationID)
}

// HTTPStatusFromEnvelope resolves the HTTP status code corresponding to an error envelope.
func HTTPStatusFromEnvelope(envelope *errors.ErrorEnvelope) int {
	if envelope == nil {
		return http.StatusInternalServerError
	}
	return HTTPStatusFromCode(envelope.Code)
}

// HTTPStatusFromCode resolves the HTTP status code corresponding to an error code.
func HTTPStatusFromCode(code string) int {
	switch code {
	case CodeInvalidInput, "VALIDATION_FAILED", CodeRequestRejected:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeExternalService:
		return http.StatusBadGateway
	case CodeServiceUnavailable, CodeBackpressureExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func withWrappedError(envelope *errors.ErrorEnvelope, err error) *errors.ErrorEnvelope {
	if envelope == nil || err == nil {
		return envelope
	}
	updated, updateErr := envelope.WithContext(map[string]interface{}{
		"wrapped_error": err.Error(),
	})
	if updateErr != nil {
		return envelope
	}
	return updated
}

// ResponseDetails constructs API-safe details map by merging envelope details and context.
func ResponseDetails(envelope *errors.ErrorEnvelope) map[string]interface{} {
	if envelope == nil {
		return nil
	}

	details := make(map[string]interface{})
	for key, value := range envelope.Details {
		details[key] = value
	}
	for key, value := range envelope.Context {
		if _, exists := details[key]; !exists {
			details[key] = value
		}
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

// HTTPErrorDetail captures the error body returned to callers.
type HTTPErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HTTPErrorResponse wraps HTTPErrorDetail in the standard envelope structure.
type HTTPErrorResponse struct {
	Error HTTPErrorDetail `json:"error"`
}

// RespondWithError normalizes the supplied error and writes a JSON response.
// Client errors keep their kind-specific status codes.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	var clientErr *client.Error
	if stderrors.As(err, &clientErr) {
		var ctx context.Context
		if r != nil {
			ctx = r.Context()
		}
		RespondWithEnvelope(w, r, FromClientError(ctx, err))
		return
	}
	RespondWithEnvelope(w, r, EnsureEnvelope(err))
}

// RespondWithEnvelope finalizes the provided envelope, logging and emitting metrics.
func RespondWithEnvelope(w http.ResponseWriter, r *http.Request, envelope *errors.ErrorEnvelope) {
	if w == nil {
		return
	}

	if r != nil {
		envelope = EnsureCorrelationID(envelope, r.Context())
	} else {
		envelope = EnsureCorrelationID(envelope, nil)
	}

	statusCode := HTTPStatusFromEnvelope(envelope)
	response := HTTPErrorResponse{
		Error: HTTPErrorDetail{
			Code:      envelope.Code,
			Message:   envelope.Message,
			Details:   ResponseDetails(envelope),
			RequestID: envelope.CorrelationID,
		},
	}

	logHTTPError(envelope, statusCode)
	emitErrorMetrics(r, envelope, statusCode)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

func logHTTPError(envelope *errors.ErrorEnvelope, statusCode int) {
	if observability.ServerLogger == nil || envelope == nil {
		return
	}

	fields := []zap.Field{
		zap.String("error_code", envelope.Code),
		zap.Int("http_status", statusCode),
	}
	if envelope.Severity != "" {
		fields = append(fields, zap.String("severity", string(envelope.Severity)))
	}
	for key, value := range envelope.Context {
		fields = append(fields, zap.Any(key, value))
	}
	if envelope.CorrelationID != "" {
		fields = append(fields, zap.String("request_id", envelope.CorrelationID))
	}

	switch envelope.Severity {
	case errors.SeverityCritical, errors.SeverityHigh:
		observability.ServerLogger.Error(envelope.Message, fields...)
	case errors.SeverityMedium:
		observability.ServerLogger.Warn(envelope.Message, fields...)
	default:
		observability.ServerLogger.Info(envelope.Message, fields...)
	}
}

func emitErrorMetrics(r *http.Request, envelope *errors.ErrorEnvelope, statusCode int) {
	if envelope == nil {
		return
	}
	metrics.RecordError(envelope.Code, statusCode)
	if r != nil {
		metrics.RecordErrorByEndpoint(r.URL.Path, envelope.Code)
	}
}
