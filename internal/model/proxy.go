// Package model defines shared types for the gateway.
package model

import (
	"net/http"
	"net/url"
)

// ProxyRequest represents an inbound client request addressed to a logical
// service. Header is raw and untrusted.
type ProxyRequest struct {
	Service string
	Path    string // may be empty or span several segments
	Method  string
	Query   url.Values
	Header  http.Header

	// Value is the decoded structured body (JSON document or form fields).
	Value any
	// File is the uploaded "image" part of a multipart request, if any.
	File *File
	// Raw holds a body the gateway does not decode, forwarded as-is.
	Raw *EncodedBody
}

// File is an uploaded file buffered fully in memory.
type File struct {
	Content  []byte
	Filename string
	MimeType string
}

// OutgoingRequest is the fully prepared call to a backend.
type OutgoingRequest struct {
	Service string // registry name, used for metrics and tracing only
	URL     string
	Method  string
	Query   url.Values
	Header  http.Header
	Body    *EncodedBody // nil when no body is attached
}

// ProxyResponse is the backend response relayed to the caller.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
