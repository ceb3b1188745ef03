// Package apierror turns pipeline failures into the response the caller sees.
package apierror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"api-gateway-go/internal/model"
)

// InternalMessage is the only detail returned when no backend response exists.
const InternalMessage = "Internal server error"

// OutwardError is a complete HTTP error response. Body is written verbatim.
type OutwardError struct {
	Status      int
	ContentType string
	Body        []byte
}

func (e *OutwardError) Error() string {
	return fmt.Sprintf("gateway error %d: %s", e.Status, e.Body)
}

// errorBody mirrors the error shape the gateway has always returned.
type errorBody struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Error      string `json:"error,omitempty"`
}

// New builds an OutwardError with a JSON {statusCode, message, error} body.
func New(status int, message string) *OutwardError {
	body := errorBody{StatusCode: status, Message: message}
	if status != http.StatusInternalServerError {
		body.Error = http.StatusText(status)
	}
	data, _ := json.Marshal(body)
	return &OutwardError{
		Status:      status,
		ContentType: "application/json; charset=utf-8",
		Body:        data,
	}
}

// Translator maps failed pipeline stages to OutwardErrors and reports them
// through its logger and the span found in the request context.
type Translator struct {
	logger *slog.Logger
}

// NewTranslator creates a Translator.
func NewTranslator(logger *slog.Logger) *Translator {
	return &Translator{logger: logger.With("component", "error_translator")}
}

// Translate converts a failed upstream outcome. Backend failures are passed
// through with their own status, body and content type. Anything without a
// response becomes a generic 500. A *model.Success yields nil.
func (t *Translator) Translate(ctx context.Context, service string, outcome model.Outcome) *OutwardError {
	span := trace.SpanFromContext(ctx)

	switch o := outcome.(type) {
	case *model.Success:
		return nil
	case *model.UpstreamFailure:
		t.logger.WarnContext(ctx, "upstream error response",
			"service", service,
			"status", o.Status,
			"bytes", len(o.Body),
		)
		span.SetStatus(codes.Error, http.StatusText(o.Status))
		return &OutwardError{
			Status:      o.Status,
			ContentType: o.Header.Get("Content-Type"),
			Body:        o.Body,
		}
	case *model.NetworkFailure:
		t.logger.ErrorContext(ctx, "upstream unreachable",
			"service", service,
			"err", o.Err,
		)
		span.RecordError(o.Err)
		span.SetStatus(codes.Error, "upstream unreachable")
		return New(http.StatusInternalServerError, InternalMessage)
	default:
		t.logger.ErrorContext(ctx, "unexpected upstream outcome",
			"service", service,
			"type", fmt.Sprintf("%T", outcome),
		)
		span.SetStatus(codes.Error, "unexpected outcome")
		return New(http.StatusInternalServerError, InternalMessage)
	}
}

// UnknownService is the 404 returned when a service name does not resolve.
func (t *Translator) UnknownService(ctx context.Context, service string) *OutwardError {
	t.logger.InfoContext(ctx, "unknown service", "service", service)
	return New(http.StatusNotFound, fmt.Sprintf("Cannot process request. Service '%s' not found.", service))
}

// BadRequest is returned when the inbound body cannot be read.
func (t *Translator) BadRequest(ctx context.Context, message string, err error) *OutwardError {
	t.logger.InfoContext(ctx, "bad request", "message", message, "err", err)
	return New(http.StatusBadRequest, message)
}

// Internal hides a local failure behind the generic 500.
func (t *Translator) Internal(ctx context.Context, service string, err error) *OutwardError {
	t.logger.ErrorContext(ctx, "gateway failure", "service", service, "err", err)
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, "gateway failure")
	return New(http.StatusInternalServerError, InternalMessage)
}
