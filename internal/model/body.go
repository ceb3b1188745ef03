package model

// Body is the outgoing request body, decided once before dispatch.
// Exactly one of JSONBody, MultipartBody or EncodedBody implements it.
type Body interface {
	body()
}

// JSONBody carries a structured value that is serialized as JSON.
type JSONBody struct {
	Value any
}

// MultipartBody carries an uploaded file plus form fields.
type MultipartBody struct {
	Fields map[string]any
	File   *File
}

// EncodedBody is a payload that is already serialized. ContentType, when
// set, replaces whatever content type the caller sent.
type EncodedBody struct {
	Payload     []byte
	ContentType string
}

func (JSONBody) body()      {}
func (MultipartBody) body() {}
func (EncodedBody) body()   {}
