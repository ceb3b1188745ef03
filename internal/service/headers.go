package service

import (
	"net/http"
	"slices"
	"strings"
)

// forwardableRequestHeaders are the only request headers forwarded upstream.
var forwardableRequestHeaders = []string{
	"Authorization",
	"Content-Type",
}

// forwardableResponseHeaders are the only response headers relayed to the client.
var forwardableResponseHeaders = map[string]bool{
	"Content-Type":  true,
	"Cache-Control": true,
	"Date":          true,
	"Etag":          true,
	"Last-Modified": true,
	"Location":      true,
	"X-Request-Id":  true,
}

// FilterRequestHeaders reduces src to the allow-listed request headers. Keys
// match case-insensitively and the first value is kept as-is. src is not
// modified.
func FilterRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(forwardableRequestHeaders))

	// Sorted so that a canonical key wins over a non-canonical duplicate.
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, name := range forwardableRequestHeaders {
		for _, key := range keys {
			if !strings.EqualFold(key, name) {
				continue
			}
			if vals := src[key]; len(vals) > 0 {
				dst.Set(name, vals[0])
				break
			}
		}
	}
	return dst
}

func filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		if forwardableResponseHeaders[http.CanonicalHeaderKey(key)] {
			dst[http.CanonicalHeaderKey(key)] = slices.Clone(vals)
		}
	}
	return dst
}
