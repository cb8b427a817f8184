package model_test

import (
	"strings"
	"testing"

	"github.com/CZERTAINLY/toxin/internal/model"

	"github.com/stretchr/testify/require"
)

func TestNewScanRequest(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    model.RequestParams
		then     func(*testing.T, model.ScanRequest)
	}{
		{
			scenario: "defaults",
			given:    model.RequestParams{URL: " http://example.com/a?q=1 "},
			then: func(t *testing.T, r model.ScanRequest) {
				require.Equal(t, "http://example.com/a?q=1", r.URL())
				require.Equal(t, "GET", r.Method())
				require.Empty(t, r.Cookies())
				require.Empty(t, r.Headers())
				require.Empty(t, r.Payload())
			},
		},
		{
			scenario: "method is upper cased",
			given:    model.RequestParams{URL: "https://example.com", Method: "post"},
			then: func(t *testing.T, r model.ScanRequest) {
				require.Equal(t, "POST", r.Method())
			},
		},
		{
			scenario: "long cookies are truncated",
			given: model.RequestParams{
				URL:     "https://example.com",
				Cookies: strings.Repeat("a", 2000),
				Headers: strings.Repeat("é", 600),
			},
			then: func(t *testing.T, r model.ScanRequest) {
				require.Len(t, r.Cookies(), model.MaxFieldLen)
				// é is two bytes, 512 of them fit
				require.Equal(t, strings.Repeat("é", 512), r.Headers())
			},
		},
		{
			scenario: "script src payload",
			given:    model.RequestParams{URL: "https://example.com", Payload: `<script src="https://h.example/x.js"></script>`},
			then: func(t *testing.T, r model.ScanRequest) {
				require.Equal(t, `<script src="https://h.example/x.js"></script>`, r.Payload())
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			r, err := model.NewScanRequest(tc.given)
			require.NoError(t, err)
			require.NoError(t, r.Validate())
			tc.then(t, r)
		})
	}
}

func TestNewScanRequestInvalid(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    model.RequestParams
	}{
		{"missing url", model.RequestParams{}},
		{"blank url", model.RequestParams{URL: "   "}},
		{"ftp url", model.RequestParams{URL: "ftp://example.com"}},
		{"no host", model.RequestParams{URL: "http:///path"}},
		{"not an url", model.RequestParams{URL: "--help"}},
		{"method", model.RequestParams{URL: "http://example.com", Method: "TRACE"}},
		{"nul in cookies", model.RequestParams{URL: "http://example.com", Cookies: "a=\x00"}},
		{"payload", model.RequestParams{URL: "http://example.com", Payload: "--output=/etc/passwd"}},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			_, err := model.NewScanRequest(tc.given)
			require.Error(t, err)
			require.ErrorIs(t, err, model.ErrInvalidRequest)
			require.Equal(t, "InvalidRequest", model.Kind(err))
		})
	}
}

func TestValidatePayload(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    string
		valid    bool
	}{
		{"src double quotes", `<script src="http://h.example/x.js"></script>`, true},
		{"src single quotes", `<script src='https://h.example/x.js'></script>`, true},
		{"inline", `<script>alert(document.domain)</script>`, true},
		{"inline multiline", "<script>\nalert(1)\n</script>", true},
		{"inline at limit", "<script>" + strings.Repeat("a", model.MaxInlinePayloadLen-17) + "</script>", true},
		{"inline too long", "<script>" + strings.Repeat("a", model.MaxInlinePayloadLen) + "</script>", false},
		{"src with javascript scheme", `<script src="javascript:alert(1)"></script>`, false},
		{"src unquoted", `<script src=http://h.example/x.js></script>`, false},
		{"src with trailing text", `<script src="http://h.example/x.js"></script> --fast`, false},
		{"nested script", `<script>a</script><script>b</script>`, false},
		{"nested script case", `<script>a</SCRIPT><script>b</script>`, false},
		{"img", `<img src=x onerror=alert(1)>`, false},
		{"flag", `--payload`, false},
		{"nul", "<script>\x00</script>", false},
		{"empty", ``, false},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			err := model.ValidatePayload(tc.given)
			if tc.valid {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, model.ErrInvalidRequest)
		})
	}
}

func TestZeroRequest(t *testing.T) {
	t.Parallel()
	var r model.ScanRequest
	require.ErrorIs(t, r.Validate(), model.ErrInvalidRequest)
}
