// Package service implements the core gateway forwarding pipeline.
package service

import (
	"context"
	"errors"
	"log/slog"

	"api-gateway-go/internal/apierror"
	"api-gateway-go/internal/body"
	"api-gateway-go/internal/client"
	"api-gateway-go/internal/model"
	"api-gateway-go/internal/registry"
)

// Resolver maps a service name to its base URL.
type Resolver interface {
	Resolve(service string) (string, error)
}

// Sender performs one outbound call.
type Sender interface {
	Send(ctx context.Context, out *model.OutgoingRequest) model.Outcome
}

// ProxyService runs the forwarding pipeline for a single request:
// resolve, filter headers, build the body, send, translate failures.
// It holds no per-request state.
type ProxyService struct {
	registry   Resolver
	sender     Sender
	translator *apierror.Translator
	logger     *slog.Logger
}

// NewProxyService creates a ProxyService.
func NewProxyService(reg *registry.Registry, c *client.UpstreamClient, tr *apierror.Translator, logger *slog.Logger) *ProxyService {
	return newProxyService(reg, c, tr, logger)
}

func newProxyService(r Resolver, s Sender, tr *apierror.Translator, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		registry:   r,
		sender:     s,
		translator: tr,
		logger:     logger.With("component", "proxy_service"),
	}
}

// Forward sends pr to the backend registered under pr.Service. On success it
// returns the backend's status and body; every error it returns is an
// *apierror.OutwardError ready to be written to the caller.
func (s *ProxyService) Forward(ctx context.Context, pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	baseURL, err := s.registry.Resolve(pr.Service)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownService) {
			return nil, s.translator.UnknownService(ctx, pr.Service)
		}
		return nil, s.translator.Internal(ctx, pr.Service, err)
	}

	header := FilterRequestHeaders(pr.Header)

	b, err := body.Build(pr.Method, pr.Value, pr.File, pr.Raw)
	if err != nil {
		return nil, s.translator.BadRequest(ctx, "Form fields must be an object when a file is attached", err)
	}
	encoded, err := body.Encode(b, header.Get("Content-Type"))
	if err != nil {
		return nil, s.translator.Internal(ctx, pr.Service, err)
	}
	if encoded != nil && encoded.ContentType != "" {
		// The encoder's content type (e.g. the multipart boundary) wins.
		header.Del("Content-Type")
	}

	out := &model.OutgoingRequest{
		Service: pr.Service,
		URL:     client.JoinURL(baseURL, pr.Path),
		Method:  pr.Method,
		Query:   pr.Query,
		Header:  header,
		Body:    encoded,
	}

	s.logger.DebugContext(ctx, "forwarding request",
		"service", pr.Service,
		"method", pr.Method,
		"path", pr.Path,
		"body", bodyKind(b),
	)

	outcome := s.sender.Send(ctx, out)
	if ok, isSuccess := outcome.(*model.Success); isSuccess {
		return &model.ProxyResponse{
			StatusCode: ok.Status,
			Header:     filterResponseHeaders(ok.Header),
			Body:       ok.Body,
		}, nil
	}

	return nil, s.translator.Translate(ctx, pr.Service, outcome)
}

// bodyKind names the body variant for logs.
func bodyKind(b model.Body) string {
	switch b.(type) {
	case *model.JSONBody:
		return "json"
	case *model.MultipartBody:
		return "multipart"
	case *model.EncodedBody:
		return "encoded"
	default:
		return "none"
	}
}
