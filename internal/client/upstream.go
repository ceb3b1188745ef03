// Package client provides the outbound HTTP client that calls backends.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"api-gateway-go/internal/config"
	"api-gateway-go/internal/metrics"
	"api-gateway-go/internal/model"
)

const userAgent = "api-gateway-go/1.0"

// UpstreamClient sends exactly one request per call to a backend. It never
// retries.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling.
// A zero upstream timeout leaves the client without an overall deadline.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, tp trace.TracerProvider, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		logger:  logger.With("component", "upstream_client"),
		tracer:  tp.Tracer("api-gateway-go/internal/client"),
		metrics: m,
	}
}

// JoinURL appends path to base with a single "/" separator. An empty path
// leaves base unchanged.
func JoinURL(base, path string) string {
	if path == "" {
		return base
	}
	return base + "/" + path
}

// Send performs the outbound call described by out and classifies the result.
// The context bounds the call: when it is canceled (client disconnect) the
// upstream request is abandoned and reported as a NetworkFailure.
func (c *UpstreamClient) Send(ctx context.Context, out *model.OutgoingRequest) model.Outcome {
	ctx, span := c.tracer.Start(ctx, "upstream "+out.Service,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gateway.service", out.Service),
			attribute.String("http.method", out.Method),
			attribute.String("http.url", out.URL),
		),
	)
	defer span.End()

	req, err := c.newRequest(ctx, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request")
		return &model.NetworkFailure{Err: err}
	}

	c.logger.DebugContext(ctx, "upstream request",
		"service", out.Service,
		"method", req.Method,
		"url", req.URL.Redacted(),
	)

	method := metrics.NormalizeMethod(req.Method)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(out.Service, method, start, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		return &model.NetworkFailure{Err: fmt.Errorf("upstream request: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	c.observe(out.Service, method, start, resp.StatusCode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read response body")
		return &model.NetworkFailure{Err: fmt.Errorf("read upstream body: %w", err)}
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		return &model.UpstreamFailure{
			Status: resp.StatusCode,
			Header: resp.Header,
			Body:   body,
		}
	}

	return &model.Success{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
	}
}

func (c *UpstreamClient) newRequest(ctx context.Context, out *model.OutgoingRequest) (*http.Request, error) {
	u, err := url.Parse(out.URL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if len(out.Query) > 0 {
		q := u.Query()
		for k, vals := range out.Query {
			q[k] = append(q[k], vals...)
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader = http.NoBody
	if out.Body != nil {
		body = bytes.NewReader(out.Body.Payload)
	}

	req, err := http.NewRequestWithContext(ctx, out.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	req.Header = out.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if out.Body != nil && out.Body.ContentType != "" {
		req.Header.Set("Content-Type", out.Body.ContentType)
	}
	req.Header.Set("User-Agent", userAgent)

	return req, nil
}

// CloseIdleConnections releases pooled backend connections.
func (c *UpstreamClient) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// observe records upstream latency and, when a response arrived, its status.
func (c *UpstreamClient) observe(service, method string, start time.Time, status int) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamDuration.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
	switch {
	case status == 0:
		c.metrics.UpstreamFailures.WithLabelValues(service, metrics.FailureNetwork).Inc()
	case status < 200 || status > 299:
		c.metrics.UpstreamResponses.WithLabelValues(service, method, strconv.Itoa(status)).Inc()
		c.metrics.UpstreamFailures.WithLabelValues(service, metrics.FailureUpstream).Inc()
	default:
		c.metrics.UpstreamResponses.WithLabelValues(service, method, strconv.Itoa(status)).Inc()
	}
}
