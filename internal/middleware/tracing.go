package middleware

import (
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "api-gateway-go/internal/middleware"

// Tracing returns an Echo middleware that opens a server span per request,
// continuing any trace context sent by the caller. Requests to skipPaths are
// not traced.
func Tracing(tp trace.TracerProvider, prop propagation.TextMapPropagator, skipPaths ...string) echo.MiddlewareFunc {
	tracer := tp.Tracer(tracerName)
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if skip[req.URL.Path] {
				return next(c)
			}

			ctx := prop.Extract(req.Context(), propagation.HeaderCarrier(req.Header))

			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}

			ctx, span := tracer.Start(ctx, req.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", req.Method),
					attribute.String("http.route", route),
					attribute.String("url.path", req.URL.Path),
					attribute.String("server.address", req.Host),
					attribute.String("user_agent.original", req.UserAgent()),
					attribute.String("client.address", c.RealIP()),
				),
			)
			defer span.End()

			if svc := c.Param("service"); svc != "" {
				span.SetAttributes(attribute.String("gateway.service", svc))
			}
			if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
				span.SetAttributes(attribute.String("request.id", id))
			}

			c.SetRequest(req.WithContext(ctx))

			err := next(c)

			status := statusOf(c, err)
			span.SetAttributes(
				attribute.Int("http.response.status_code", status),
				attribute.Int64("http.response.body.size", c.Response().Size),
			)
			if err != nil {
				span.RecordError(err)
			}
			if status >= 500 {
				span.SetStatus(codes.Error, "server error")
			}

			return err
		}
	}
}
