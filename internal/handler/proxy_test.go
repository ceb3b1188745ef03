package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/trace/noop"

	"api-gateway-go/internal/apierror"
	"api-gateway-go/internal/client"
	"api-gateway-go/internal/config"
	"api-gateway-go/internal/registry"
	"api-gateway-go/internal/service"
)

type backendCall struct {
	Method      string
	Path        string
	RawQuery    string
	ContentType string
	Auth        string
	Body        []byte
}

func newBackend(t *testing.T, status int, body string) (*httptest.Server, *backendCall) {
	t.Helper()
	got := &backendCall{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Method = r.Method
		got.Path = r.URL.Path
		got.RawQuery = r.URL.RawQuery
		got.ContentType = r.Header.Get("Content-Type")
		got.Auth = r.Header.Get("Authorization")
		got.Body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Set-Cookie", "backend=1")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func newTestRegistry(t *testing.T, baseURL string) *registry.Registry {
	t.Helper()
	reg, err := registry.New(config.ServicesConfig{
		Auth:   baseURL + "/auth",
		User:   baseURL + "/users",
		Spaces: baseURL + "/spaces",
		Sports: baseURL + "/sports",
	})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	return reg
}

func newTestProxyHandler(t *testing.T, reg *registry.Registry) *ProxyHandler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{Upstream: config.UpstreamConfig{IdleConnections: 10}}
	uc := client.NewUpstreamClient(cfg, logger, noop.NewTracerProvider(), nil)
	tr := apierror.NewTranslator(logger)
	svc := service.NewProxyService(reg, uc, tr, logger)
	return NewProxyHandler(svc, tr, logger)
}

// serve routes req through a fresh echo instance so path params are set.
func serve(t *testing.T, h *ProxyHandler, reg *registry.Registry, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	RegisterRoutes(e, h, NewHealthHandler(reg, "test"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestProxyHandler_JSONBody(t *testing.T) {
	srv, got := newBackend(t, http.StatusCreated, `{"id":"s1"}`)
	reg := newTestRegistry(t, srv.URL)
	h := newTestProxyHandler(t, reg)

	payload := `{"name":"Court","price":12.50,"big":12345678901234567890,"tags":["a","b"]}`
	req := httptest.NewRequest(http.MethodPost, "/proxy/spaces/list/new?draft=1", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer t0k")
	req.Header.Set("Cookie", "sid=x")

	rec := serve(t, h, reg, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", rec.Code, rec.Body)
	}
	if rec.Body.String() != `{"id":"s1"}` {
		t.Errorf("body = %s, want backend body", rec.Body)
	}
	if rec.Header().Get("Set-Cookie") != "" {
		t.Error("Set-Cookie should not be relayed to the caller")
	}
	if got.Path != "/spaces/list/new" {
		t.Errorf("backend path = %q, want /spaces/list/new", got.Path)
	}
	if got.RawQuery != "draft=1" {
		t.Errorf("backend query = %q, want draft=1", got.RawQuery)
	}
	if got.Auth != "Bearer t0k" {
		t.Errorf("Authorization = %q, want forwarded", got.Auth)
	}
	if string(got.Body) != `{"big":12345678901234567890,"name":"Court","price":12.50,"tags":["a","b"]}` {
		t.Errorf("backend body = %s", got.Body)
	}
}

func TestProxyHandler_ServiceRoot(t *testing.T) {
	srv, got := newBackend(t, http.StatusOK, `{}`)
	reg := newTestRegistry(t, srv.URL)
	h := newTestProxyHandler(t, reg)

	rec := serve(t, h, reg, httptest.NewRequest(http.MethodGet, "/proxy/sports", http.NoBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got.Path != "/sports" {
		t.Errorf("backend path = %q, want /sports", got.Path)
	}
}

func TestProxyHandler_GetDropsBody(t *testing.T) {
	srv, got := newBackend(t, http.StatusOK, `[]`)
	reg := newTestRegistry(t, srv.URL)
	h := newTestProxyHandler(t, reg)

	req := httptest.NewRequest(http.MethodGet, "/proxy/user/me", strings.NewReader(`{"x":1}`))
	req.Header.Set("Content-Type", "application/json")

	rec := serve(t, h, reg, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got.Method != http.MethodGet || len(got.Body) != 0 {
		t.Errorf("backend got %s with body %q, want GET without body", got.Method, got.Body)
	}
}

func TestProxyHandler_FormBody(t *testing.T) {
	srv, got := newBackend(t, http.StatusOK, `{}`)
	reg := newTestRegistry(t, srv.URL)
	h := newTestProxyHandler(t, reg)

	req := httptest.NewRequest(http.MethodPost, "/proxy/auth/login", strings.NewReader("user=ana&role=a&role=b"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := serve(t, h, reg, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got.ContentType != "application/x-www-form-urlencoded" {
		t.Errorf("Content-Type = %q, want form", got.ContentType)
	}
	if string(got.Body) != "role=a&role=b&user=ana" {
		t.Errorf("backend body = %q", got.Body)
	}
}

func TestProxyHandler_MultipartUpload(t *testing.T) {
	srv, got := newBackend(t, http.StatusOK, `{"uploaded":true}`)
	reg := newTestRegistry(t, srv.URL)
	h := newTestProxyHandler(t, reg)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("title", "Court photo")
	fw, err := w.CreateFormFile("image", "court.png")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = fw.Write([]byte("PNGDATA"))
	_ = w.Close()

	req := httptest.NewRequest(http.MethodPost, "/proxy/spaces/1/photo", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())

	rec := serve(t, h, reg, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}

	mt, params, err := mime.ParseMediaType(got.ContentType)
	if err != nil || mt != "multipart/form-data" {
		t.Fatalf("backend Content-Type = %q, want multipart/form-data", got.ContentType)
	}
	form, err := multipart.NewReader(bytes.NewReader(got.Body), params["boundary"]).ReadForm(1 << 20)
	if err != nil {
		t.Fatalf("ReadForm: %v", err)
	}
	if v := form.Value["title"]; len(v) != 1 || v[0] != "Court photo" {
		t.Errorf("title = %v, want [Court photo]", v)
	}
	files := form.File["image"]
	if len(files) != 1 || files[0].Filename != "court.png" {
		t.Fatalf("image = %v, want court.png", files)
	}
	f, _ := files[0].Open()
	content, _ := io.ReadAll(f)
	_ = f.Close()
	if string(content) != "PNGDATA" {
		t.Errorf("image content = %q, want PNGDATA", content)
	}
}

func TestProxyHandler_MultipartWithoutFile(t *testing.T) {
	srv, got := newBackend(t, http.StatusOK, `{"id":"s1"}`)
	reg := newTestRegistry(t, srv.URL)
	h := newTestProxyHandler(t, reg)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("name", "court 1")
	_ = w.Close()

	req := httptest.NewRequest(http.MethodPatch, "/proxy/spaces/s1", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())

	rec := serve(t, h, reg, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}
	if got.Method != http.MethodPatch || got.Path != "/spaces/s1" {
		t.Errorf("backend got %s %s, want PATCH /spaces/s1", got.Method, got.Path)
	}

	mt, params, err := mime.ParseMediaType(got.ContentType)
	if err != nil || mt != "multipart/form-data" {
		t.Fatalf("backend Content-Type = %q, want multipart/form-data", got.ContentType)
	}
	if params["boundary"] == w.Boundary() {
		t.Error("backend body reuses the caller's boundary")
	}
	form, err := multipart.NewReader(bytes.NewReader(got.Body), params["boundary"]).ReadForm(1 << 20)
	if err != nil {
		t.Fatalf("backend body %q is not multipart: %v", got.Body, err)
	}
	if v := form.Value["name"]; len(v) != 1 || v[0] != "court 1" {
		t.Errorf("name = %v, want [court 1]", v)
	}
}

func TestProxyHandler_RawBodyWithoutContentType(t *testing.T) {
	srv, got := newBackend(t, http.StatusOK, `{}`)
	reg := newTestRegistry(t, srv.URL)
	h := newTestProxyHandler(t, reg)

	req := httptest.NewRequest(http.MethodPost, "/proxy/user/blob", strings.NewReader("\x00\x01raw"))
	req.Header.Del("Content-Type")

	rec := serve(t, h, reg, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if string(got.Body) != "\x00\x01raw" {
		t.Errorf("backend body = %q, want raw payload", got.Body)
	}
	if got.ContentType != "" {
		t.Errorf("backend Content-Type = %q, want none", got.ContentType)
	}
}

func TestProxyHandler_RawBody(t *testing.T) {
	srv, got := newBackend(t, http.StatusOK, `{}`)
	reg := newTestRegistry(t, srv.URL)
	h := newTestProxyHandler(t, reg)

	req := httptest.NewRequest(http.MethodPut, "/proxy/user/notes", strings.NewReader("plain text"))
	req.Header.Set("Content-Type", "text/plain")

	rec := serve(t, h, reg, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got.ContentType != "text/plain" || string(got.Body) != "plain text" {
		t.Errorf("backend got %q %q, want text/plain payload", got.ContentType, got.Body)
	}
}

func TestProxyHandler_InvalidJSON(t *testing.T) {
	srv, got := newBackend(t, http.StatusOK, `{}`)
	reg := newTestRegistry(t, srv.URL)
	h := newTestProxyHandler(t, reg)

	for _, payload := range []string{`{"a":`, `{"a":1} trailing`} {
		req := httptest.NewRequest(http.MethodPost, "/proxy/auth/login", strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")

		rec := serve(t, h, reg, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("%q: status = %d, want 400", payload, rec.Code)
		}
	}
	if got.Method != "" {
		t.Error("backend should not be called for an invalid body")
	}
}

func TestProxyHandler_UnknownService(t *testing.T) {
	reg := newTestRegistry(t, "http://127.0.0.1:1")
	h := newTestProxyHandler(t, reg)

	rec := serve(t, h, reg, httptest.NewRequest(http.MethodGet, "/proxy/payments/x", http.NoBody))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["message"] != "Cannot process request. Service 'payments' not found." {
		t.Errorf("message = %v", body["message"])
	}
	if body["statusCode"] != float64(404) {
		t.Errorf("statusCode = %v, want 404", body["statusCode"])
	}
}

func TestProxyHandler_UpstreamErrorPassthrough(t *testing.T) {
	backendBody := `{"statusCode":409,"message":"Slot taken","error":"Conflict"}`
	srv, _ := newBackend(t, http.StatusConflict, backendBody)
	reg := newTestRegistry(t, srv.URL)
	h := newTestProxyHandler(t, reg)

	req := httptest.NewRequest(http.MethodPost, "/proxy/spaces/book", strings.NewReader(`{"slot":3}`))
	req.Header.Set("Content-Type", "application/json")

	rec := serve(t, h, reg, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
	if rec.Body.String() != backendBody {
		t.Errorf("body = %s, want %s", rec.Body, backendBody)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestProxyHandler_BackendDown(t *testing.T) {
	reg := newTestRegistry(t, "http://127.0.0.1:1")
	h := newTestProxyHandler(t, reg)

	rec := serve(t, h, reg, httptest.NewRequest(http.MethodDelete, "/proxy/sports/teams/3", http.NoBody))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if rec.Body.String() != `{"statusCode":500,"message":"Internal server error"}` {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestDecodeJSON_KeepsNumbers(t *testing.T) {
	v, err := decodeJSON([]byte(`{"n":1.0}`))
	if err != nil {
		t.Fatalf("decodeJSON: %v", err)
	}
	n, ok := v.(map[string]any)["n"].(json.Number)
	if !ok || n.String() != "1.0" {
		t.Errorf("n = %#v, want json.Number 1.0", v.(map[string]any)["n"])
	}
}

func TestFormFields(t *testing.T) {
	got := formFields(map[string][]string{
		"one":   {"a"},
		"many":  {"a", "b"},
		"empty": {},
	})

	if got["one"] != "a" {
		t.Errorf("one = %v, want a", got["one"])
	}
	many, ok := got["many"].([]any)
	if !ok || len(many) != 2 || many[0] != "a" || many[1] != "b" {
		t.Errorf("many = %v, want [a b]", got["many"])
	}
	if _, ok := got["empty"]; ok {
		t.Error("empty key should be omitted")
	}
}
