package model

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxFieldLen caps cookies and headers passed to the tool
	MaxFieldLen = 1024
	// MaxInlinePayloadLen caps an inline <script> payload
	MaxInlinePayloadLen = 1000
)

var allowedMethods = map[string]struct{}{
	"GET":     {},
	"POST":    {},
	"PUT":     {},
	"PATCH":   {},
	"DELETE":  {},
	"HEAD":    {},
	"OPTIONS": {},
}

var (
	scriptSrcRx = regexp.MustCompile(`^<script src=(?:"https?://[^"\s<>]+"|'https?://[^'\s<>]+')></script>$`)
	inlineRx    = regexp.MustCompile(`(?s)^<script>(.*)</script>$`)
)

// ScanRequest describes one scan. It can only be created by NewScanRequest
// and can't be changed afterwards.
type ScanRequest struct {
	url     string
	method  string
	cookies string
	headers string
	payload string
}

// RequestParams holds the raw caller input
type RequestParams struct {
	URL     string `json:"url" binding:"required"`
	Method  string `json:"method,omitempty"`
	Cookies string `json:"cookies,omitempty"`
	Headers string `json:"headers,omitempty"`
	Payload string `json:"payload,omitempty"`
}

// NewScanRequest validates the params and returns an immutable ScanRequest.
// Errors wrap ErrInvalidRequest. Cookies and headers longer than MaxFieldLen
// are truncated.
func NewScanRequest(p RequestParams) (ScanRequest, error) {
	target := strings.TrimSpace(p.URL)
	if target == "" {
		return ScanRequest{}, fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	if err := validateURL(target); err != nil {
		return ScanRequest{}, err
	}

	method := strings.ToUpper(strings.TrimSpace(p.Method))
	if method == "" {
		method = "GET"
	}
	if _, ok := allowedMethods[method]; !ok {
		return ScanRequest{}, fmt.Errorf("%w: unsupported method %q", ErrInvalidRequest, method)
	}

	cookies, err := boundField("cookies", p.Cookies)
	if err != nil {
		return ScanRequest{}, err
	}
	headers, err := boundField("headers", p.Headers)
	if err != nil {
		return ScanRequest{}, err
	}

	if p.Payload != "" {
		if err := ValidatePayload(p.Payload); err != nil {
			return ScanRequest{}, err
		}
	}

	return ScanRequest{
		url:     target,
		method:  method,
		cookies: cookies,
		headers: headers,
		payload: p.Payload,
	}, nil
}

func (r ScanRequest) URL() string     { return r.url }
func (r ScanRequest) Method() string  { return r.method }
func (r ScanRequest) Cookies() string { return r.cookies }
func (r ScanRequest) Headers() string { return r.headers }
func (r ScanRequest) Payload() string { return r.payload }

// Validate reports whether r was built by NewScanRequest. A zero
// ScanRequest is not valid.
func (r ScanRequest) Validate() error {
	if r.url == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	return nil
}

// ValidatePayload accepts either a single <script src="http(s)://..."></script>
// tag or an inline <script>...</script> block of at most MaxInlinePayloadLen
// characters. Anything else is rejected so it can't smuggle arguments into
// the tool invocation.
func ValidatePayload(payload string) error {
	if strings.ContainsRune(payload, 0) {
		return fmt.Errorf("%w: payload contains NUL byte", ErrInvalidRequest)
	}
	if scriptSrcRx.MatchString(payload) {
		return nil
	}
	m := inlineRx.FindStringSubmatch(payload)
	if m == nil {
		return fmt.Errorf("%w: payload must be a <script src> tag or an inline <script> block", ErrInvalidRequest)
	}
	if utf8.RuneCountInString(payload) > MaxInlinePayloadLen {
		return fmt.Errorf("%w: inline payload longer than %d characters", ErrInvalidRequest, MaxInlinePayloadLen)
	}
	if strings.Contains(strings.ToLower(m[1]), "</script") {
		return fmt.Errorf("%w: payload must contain a single script block", ErrInvalidRequest)
	}
	return nil
}

func validateURL(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("%w: parsing url: %w", ErrInvalidRequest, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: url scheme must be http or https, got %q", ErrInvalidRequest, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: url has no host", ErrInvalidRequest)
	}
	return nil
}

func boundField(name, value string) (string, error) {
	if strings.ContainsRune(value, 0) {
		return "", fmt.Errorf("%w: %s contain NUL byte", ErrInvalidRequest, name)
	}
	if len(value) <= MaxFieldLen {
		return value, nil
	}
	cut := MaxFieldLen
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut], nil
}
