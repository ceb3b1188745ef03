package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/url"

	"github.com/labstack/echo/v4"

	"api-gateway-go/internal/apierror"
	"api-gateway-go/internal/body"
	"api-gateway-go/internal/model"
	"api-gateway-go/internal/service"
)

// multipartMemory is the in-memory budget for parsed multipart forms; larger
// parts spill to temporary files that are removed after the request.
const multipartMemory = 32 << 20

// ProxyHandler forwards /proxy/:service/* requests to the named backend.
type ProxyHandler struct {
	service    *service.ProxyService
	translator *apierror.Translator
	logger     *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, tr *apierror.Translator, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service:    svc,
		translator: tr,
		logger:     logger.With("component", "proxy_handler"),
	}
}

// Handle decodes the inbound request, forwards it and writes back either the
// backend response or the translated error.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Service: c.Param("service"),
		Path:    c.Param("*"),
		Method:  req.Method,
		Query:   req.URL.Query(),
		Header:  req.Header,
	}

	if err := h.decodeBody(c, pr); err != nil {
		return h.writeError(c, err)
	}

	resp, err := h.service.Forward(req.Context(), pr)
	if err != nil {
		return h.writeError(c, err)
	}

	header := c.Response().Header()
	for key, vals := range resp.Header {
		// The gateway's own request ID wins over the backend's.
		if key == echo.HeaderXRequestID && header.Get(key) != "" {
			continue
		}
		header[key] = vals
	}
	c.Response().WriteHeader(resp.StatusCode)
	if _, err := c.Response().Write(resp.Body); err != nil {
		h.logger.ErrorContext(req.Context(), "writing response body",
			"err", err,
			"service", pr.Service,
		)
	}
	return nil
}

// decodeBody fills the body fields of pr according to the inbound
// Content-Type. An error is either an *apierror.OutwardError or an
// *echo.HTTPError raised by the body limit.
func (h *ProxyHandler) decodeBody(c echo.Context, pr *model.ProxyRequest) error {
	req := c.Request()
	contentType := req.Header.Get(echo.HeaderContentType)
	mediaType, _, _ := mime.ParseMediaType(contentType)

	if mediaType == echo.MIMEMultipartForm {
		return h.decodeMultipart(c, pr)
	}

	data, err := io.ReadAll(req.Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return h.translator.BadRequest(req.Context(), "Cannot read request body", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	switch mediaType {
	case echo.MIMEApplicationJSON:
		value, err := decodeJSON(data)
		if err != nil {
			return h.translator.BadRequest(req.Context(), "Invalid JSON body", err)
		}
		pr.Value = value
	case echo.MIMEApplicationForm:
		values, err := url.ParseQuery(string(data))
		if err != nil {
			return h.translator.BadRequest(req.Context(), "Invalid form body", err)
		}
		pr.Value = formFields(values)
	default:
		pr.Raw = &model.EncodedBody{Payload: data, ContentType: contentType}
	}
	return nil
}

func (h *ProxyHandler) decodeMultipart(c echo.Context, pr *model.ProxyRequest) error {
	req := c.Request()
	if err := req.ParseMultipartForm(multipartMemory); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return h.translator.BadRequest(req.Context(), "Invalid multipart body", err)
	}
	form := req.MultipartForm
	defer func() { _ = form.RemoveAll() }()

	pr.Value = formFields(form.Value)

	files := form.File[body.FileField]
	if len(files) == 0 {
		return nil
	}
	fh := files[0]
	f, err := fh.Open()
	if err != nil {
		return h.translator.BadRequest(req.Context(), "Cannot read uploaded file", err)
	}
	defer func() { _ = f.Close() }()

	content, err := io.ReadAll(f)
	if err != nil {
		return h.translator.BadRequest(req.Context(), "Cannot read uploaded file", err)
	}
	pr.File = &model.File{
		Content:  content,
		Filename: fh.Filename,
		MimeType: fh.Header.Get(echo.HeaderContentType),
	}
	return nil
}

// decodeJSON decodes a single JSON document, keeping numbers as json.Number
// so they are re-encoded exactly as received.
func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON document")
	}
	return v, nil
}

// formFields turns form values into a structured value: a single value stays
// a string, repeated keys become an array.
func formFields(values map[string][]string) map[string]any {
	fields := make(map[string]any, len(values))
	for key, vals := range values {
		switch len(vals) {
		case 0:
		case 1:
			fields[key] = vals[0]
		default:
			arr := make([]any, len(vals))
			for i, v := range vals {
				arr[i] = v
			}
			fields[key] = arr
		}
	}
	return fields
}

// writeError writes an OutwardError verbatim. Any other error is handed to
// echo's error handler.
func (h *ProxyHandler) writeError(c echo.Context, err error) error {
	var oe *apierror.OutwardError
	if !errors.As(err, &oe) {
		return err
	}
	if oe.ContentType != "" {
		c.Response().Header().Set(echo.HeaderContentType, oe.ContentType)
	}
	c.Response().WriteHeader(oe.Status)
	if _, werr := c.Response().Write(oe.Body); werr != nil {
		h.logger.ErrorContext(c.Request().Context(), "writing error body", "err", werr)
	}
	return nil
}
