// Package body decides how a request body is sent upstream and encodes it.
package body

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"slices"
	"strings"

	"api-gateway-go/internal/model"
)

// FileField is the multipart field name carrying the uploaded file.
const FileField = "image"

// bodylessMethods never carry a body upstream, whatever the caller sent.
var bodylessMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodDelete: true,
}

// ErrFieldsNotObject is returned when a file is attached but the structured
// value cannot be split into form fields.
var ErrFieldsNotObject = errors.New("form fields must be a JSON object")

// Build selects the body variant for an outgoing request. A file always
// yields a multipart body. Otherwise GET and DELETE get no body, and other
// methods get the structured value when it is non-empty, or the raw payload.
func Build(method string, value any, file *model.File, raw *model.EncodedBody) (model.Body, error) {
	if file != nil {
		fields, ok := value.(map[string]any)
		if !ok && !IsEmpty(value) {
			return nil, fmt.Errorf("%w: got %T", ErrFieldsNotObject, value)
		}
		return &model.MultipartBody{Fields: fields, File: file}, nil
	}
	if bodylessMethods[strings.ToUpper(method)] {
		return nil, nil
	}
	if !IsEmpty(value) {
		return &model.JSONBody{Value: value}, nil
	}
	if raw != nil && len(raw.Payload) > 0 {
		return raw, nil
	}
	return nil, nil
}

// IsEmpty reports whether a structured value carries nothing worth sending:
// nil, an empty object, an empty array or an empty string.
func IsEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case map[string]any:
		return len(v) == 0
	case []any:
		return len(v) == 0
	case string:
		return v == ""
	default:
		return false
	}
}

// Encode serializes b. contentType is the caller's filtered Content-Type; it
// only influences JSON bodies. An object is form-encoded when the caller
// declared application/x-www-form-urlencoded and re-encoded as multipart with
// a fresh boundary when the caller declared multipart/form-data. Otherwise the
// value is sent as JSON, labelled application/json only when the caller gave
// no Content-Type. A nil body encodes to nil.
func Encode(b model.Body, contentType string) (*model.EncodedBody, error) {
	switch v := b.(type) {
	case nil:
		return nil, nil
	case *model.JSONBody:
		if fields, ok := v.Value.(map[string]any); ok {
			switch mediaType(contentType) {
			case "application/x-www-form-urlencoded":
				return encodeForm(fields)
			case "multipart/form-data":
				return encodeMultipart(&model.MultipartBody{Fields: fields})
			}
		}
		data, err := marshalJSON(v.Value)
		if err != nil {
			return nil, fmt.Errorf("encode json body: %w", err)
		}
		enc := &model.EncodedBody{Payload: data}
		if contentType == "" {
			enc.ContentType = "application/json"
		}
		return enc, nil
	case *model.MultipartBody:
		return encodeMultipart(v)
	case *model.EncodedBody:
		return v, nil
	default:
		return nil, fmt.Errorf("encode body: unsupported variant %T", b)
	}
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return mt
}

func encodeForm(fields map[string]any) (*model.EncodedBody, error) {
	form := make(url.Values, len(fields))
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		values, repeated := fields[key].([]any)
		if !repeated {
			values = []any{fields[key]}
		}
		for _, v := range values {
			s, ok, err := FieldValue(v)
			if err != nil {
				return nil, fmt.Errorf("encode form field %q: %w", key, err)
			}
			if ok {
				form.Add(key, s)
			}
		}
	}
	return &model.EncodedBody{Payload: []byte(form.Encode())}, nil
}

func encodeMultipart(b *model.MultipartBody) (*model.EncodedBody, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if b.File != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
			"name":     FileField,
			"filename": b.File.Filename,
		}))
		mimeType := b.File.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		h.Set("Content-Type", mimeType)

		part, err := w.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("create file part: %w", err)
		}
		if _, err := part.Write(b.File.Content); err != nil {
			return nil, fmt.Errorf("write file part: %w", err)
		}
	}

	for _, key := range slices.Sorted(maps.Keys(b.Fields)) {
		s, ok, err := FieldValue(b.Fields[key])
		if err != nil {
			return nil, fmt.Errorf("encode multipart field %q: %w", key, err)
		}
		if !ok {
			continue
		}
		if err := w.WriteField(key, s); err != nil {
			return nil, fmt.Errorf("write multipart field %q: %w", key, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	return &model.EncodedBody{
		Payload:     buf.Bytes(),
		ContentType: w.FormDataContentType(),
	}, nil
}

// FieldValue renders a structured value as a form field. Objects and arrays
// become JSON text, scalars their string form. ok is false for nil, which is
// skipped.
func FieldValue(v any) (s string, ok bool, err error) {
	switch x := v.(type) {
	case nil:
		return "", false, nil
	case string:
		return x, true, nil
	case json.Number:
		return x.String(), true, nil
	case bool:
		if x {
			return "true", true, nil
		}
		return "false", true, nil
	case map[string]any, []any:
		data, err := marshalJSON(x)
		if err != nil {
			return "", false, err
		}
		return string(data), true, nil
	default:
		return fmt.Sprint(x), true, nil
	}
}

// marshalJSON is json.Marshal without HTML escaping.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
