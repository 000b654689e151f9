package tahan

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Idempotency records whether repeating a request is safe.
type Idempotency int

const (
	// IdempotencyDefault derives idempotency from the method. It is only
	// accepted for read-only methods; mutating methods must say explicitly.
	IdempotencyDefault Idempotency = iota
	// Idempotent marks a request that may be repeated without side effects.
	Idempotent
	// NotIdempotent marks a request that must not be repeated once the server
	// has seen it.
	NotIdempotent
)

func (i Idempotency) String() string {
	switch i {
	case Idempotent:
		return "idempotent"
	case NotIdempotent:
		return "not-idempotent"
	default:
		return "default"
	}
}

// Request describes one outbound call. Execute treats it as read-only.
type Request struct {
	Method string
	URL    string
	// Header keys must be unique ignoring case.
	Header map[string]string
	Body   []byte
	// Timeout bounds a single attempt; zero means the client default.
	Timeout     time.Duration
	Idempotency Idempotency
	// RequiresAuth attaches the authorizer's headers before the first attempt.
	RequiresAuth bool
	// CacheBypass skips both cache lookup and cache write for this call.
	CacheBypass bool
}

// NewRequest builds a Request with the given method and URL.
func NewRequest(method, rawURL string) *Request {
	return &Request{Method: method, URL: rawURL}
}

// WithHeader returns a copy of r with the header set.
func (r *Request) WithHeader(key, value string) *Request {
	out := r.clone()
	for k := range out.Header {
		if strings.EqualFold(k, key) {
			delete(out.Header, k)
		}
	}
	out.Header[key] = value
	return out
}

// WithBody returns a copy of r carrying body.
func (r *Request) WithBody(body []byte) *Request {
	out := r.clone()
	out.Body = append([]byte(nil), body...)
	return out
}

// Get builds a read-only GET request.
func Get(rawURL string) *Request {
	return NewRequest(http.MethodGet, rawURL)
}

// Post builds a POST request with an explicit idempotency flag.
func Post(rawURL string, body []byte, idempotency Idempotency) *Request {
	r := NewRequest(http.MethodPost, rawURL)
	r.Body = body
	r.Idempotency = idempotency
	return r
}

// IsIdempotent resolves the request's idempotency. Read-only methods default
// to idempotent.
func (r *Request) IsIdempotent() bool {
	switch r.Idempotency {
	case Idempotent:
		return true
	case NotIdempotent:
		return false
	default:
		return isReadOnlyMethod(r.method())
	}
}

// Validate checks the descriptor. The returned error is ErrorTypeValidation.
func (r *Request) Validate() error {
	if r == nil {
		return NewClientError(ErrorTypeValidation, "request is nil", nil)
	}
	method := r.method()
	if !validMethods[method] {
		return r.validationError(fmt.Sprintf("unsupported method %q", r.Method), nil)
	}
	if r.URL == "" {
		return r.validationError("request URL is empty", nil)
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return r.validationError("request URL is malformed", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return r.validationError("request URL must be absolute", nil)
	}
	if r.Timeout < 0 {
		return r.validationError("timeout must not be negative", nil)
	}
	if r.Timeout > MaxTimeout {
		return r.validationError(fmt.Sprintf("timeout must not exceed %v", MaxTimeout), nil)
	}
	if isMutatingMethod(method) && r.Idempotency == IdempotencyDefault {
		return r.validationError(fmt.Sprintf("%s requests must declare idempotency explicitly", method), nil)
	}
	if r.Idempotency < IdempotencyDefault || r.Idempotency > NotIdempotent {
		return r.validationError("unknown idempotency value", nil)
	}
	seen := make(map[string]string, len(r.Header))
	for k := range r.Header {
		if k == "" {
			return r.validationError("header name is empty", nil)
		}
		canon := http.CanonicalHeaderKey(k)
		if prev, dup := seen[canon]; dup {
			return r.validationError(fmt.Sprintf("duplicate header %q and %q", prev, k), nil)
		}
		seen[canon] = k
	}
	return nil
}

func (r *Request) validationError(message string, cause error) *ClientError {
	return &ClientError{
		Type:    ErrorTypeValidation,
		Message: message,
		Cause:   cause,
		Method:  r.Method,
		URL:     r.URL,
	}
}

func (r *Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

// clone copies r deeply enough that header and body edits do not leak back.
func (r *Request) clone() *Request {
	out := *r
	out.Header = make(map[string]string, len(r.Header)+1)
	for k, v := range r.Header {
		out.Header[k] = v
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return &out
}

var validMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
}

func isReadOnlyMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

func isMutatingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// CacheKey derives the deterministic cache key for r: the upper-cased method
// and the URL with lower-cased scheme and host, "/" for an empty path, the
// query re-encoded in sorted key order and no fragment.
func CacheKey(r *Request) string {
	method := r.method()
	u, err := url.Parse(r.URL)
	if err != nil {
		return method + ":" + r.URL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}
	// A query that does not parse cleanly is kept verbatim so that no
	// pair is dropped from the key.
	if query, err := url.ParseQuery(u.RawQuery); err == nil {
		u.RawQuery = query.Encode()
	}
	u.Fragment = ""
	u.RawFragment = ""

	var buf []byte
	buf = append(buf, method...)
	buf = append(buf, ':')
	buf = append(buf, u.String()...)

	return string(buf)
}

// Response is the outcome of a successful Execute.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// FromCache is true when the body was served by the cache layer.
	FromCache bool
}
