package parser_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/CZERTAINLY/toxin/internal/model"
	"github.com/CZERTAINLY/toxin/internal/parser"

	"github.com/stretchr/testify/require"
)

const sample = `[*] toxssin v2.1 starting
[*] target http://x/a
[VULNERABLE] URL: http://x/a
Parameter: id
Payload: <script>1</script>
Total requests: 12
Success rate: 83.5%
`

func TestParse(t *testing.T) {
	t.Parallel()
	findings, warning := parser.Parse(sample)
	require.Empty(t, warning)
	require.True(t, findings.Valid)
	require.Equal(t, []model.Vulnerability{
		{URL: "http://x/a", Parameter: "id", Payload: "<script>1</script>", Severity: model.SeverityNone},
	}, findings.Vulnerabilities)
	require.Equal(t, model.ScanStatistics{Requests: 12, SuccessRate: 83.5}, findings.Statistics)
}

func TestParseEmpty(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{
		"",
		"[*] starting\n[*] nothing to report\n",
		"Traceback (most recent call last):\n  File \"toxssin.py\", line 1\n",
	} {
		findings, warning := parser.Parse(raw)
		require.Empty(t, warning)
		require.False(t, findings.Valid)
		require.NotNil(t, findings.Vulnerabilities)
		require.Empty(t, findings.Vulnerabilities)
		require.True(t, findings.Statistics.IsZero())
	}
}

func TestParseStatistics(t *testing.T) {
	t.Parallel()

	var cases = []struct {
		scenario string
		given    string
		then     model.ScanStatistics
		warning  string
	}{
		{
			scenario: "all",
			given:    "Total requests: 120\nTested parameters: 4\nSuccess rate: 12.5%\nTime taken: 00:01:02.5\n",
			then:     model.ScanStatistics{Requests: 120, TestedParameters: 4, SuccessRate: 12.5, ElapsedTime: model.Elapsed(62*time.Second + 500*time.Millisecond)},
		},
		{
			scenario: "rate above 100",
			given:    "Success rate: 150%",
			then:     model.ScanStatistics{SuccessRate: 100},
		},
		{
			scenario: "negative rate",
			given:    "Success rate: -5%",
			then:     model.ScanStatistics{SuccessRate: 0},
		},
		{
			scenario: "negative counts",
			given:    "Total requests: -7\nTested parameters: -1",
			then:     model.ScanStatistics{},
		},
		{
			scenario: "minutes and seconds",
			given:    "Time taken: 02:03",
			then:     model.ScanStatistics{ElapsedTime: model.Elapsed(123 * time.Second)},
		},
		{
			scenario: "seconds",
			given:    "Time taken: 4.25",
			then:     model.ScanStatistics{ElapsedTime: model.Elapsed(4250 * time.Millisecond)},
		},
		{
			scenario: "overflow",
			given:    "Total requests: 999999999999999999999999999",
			then:     model.ScanStatistics{},
			warning:  "total requests: invalid value",
		},
		{
			scenario: "bad rate",
			given:    "Success rate: 1.2.3%\nTotal requests: 3",
			then:     model.ScanStatistics{Requests: 3},
			warning:  "success rate: invalid value",
		},
		{
			scenario: "bad time",
			given:    "Time taken: 1:2:3:4",
			then:     model.ScanStatistics{},
			warning:  "time taken: invalid value",
		},
		{
			scenario: "first occurrence wins",
			given:    "Total requests: 1\nTotal requests: 2\n",
			then:     model.ScanStatistics{Requests: 1},
		},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			findings, warning := parser.Parse(tc.given)
			require.Equal(t, tc.then, findings.Statistics)
			if tc.warning == "" {
				require.Empty(t, warning)
			} else {
				require.Contains(t, warning, tc.warning)
			}
			require.Equal(t, !tc.then.IsZero(), findings.Valid)
		})
	}
}

func TestParseRecords(t *testing.T) {
	t.Parallel()

	t.Run("noise between fields", func(t *testing.T) {
		raw := "[VULNERABLE] URL: http://x/a?q=1\n" +
			"[debug] reflected in <body>\n" +
			"Parameter: q\n" +
			"[debug] context html\n" +
			"Payload: \"><script>alert(1)</script>\n" +
			"Handler URL: https://h.example/h/1\n" +
			"Severity: HIGH\n" +
			"[VULNERABLE] URL: http://x/b\r\nParameter: name\r\nPayload: <svg onload=1>\r\n"
		findings, warning := parser.Parse(raw)
		require.Empty(t, warning)
		require.Equal(t, []model.Vulnerability{
			{
				URL:        "http://x/a?q=1",
				Parameter:  "q",
				Payload:    "\"><script>alert(1)</script>",
				HandlerURL: "https://h.example/h/1",
				Severity:   model.SeverityHigh,
			},
			{URL: "http://x/b", Parameter: "name", Payload: "<svg onload=1>", Severity: model.SeverityNone},
		}, findings.Vulnerabilities)
		require.True(t, findings.Valid)
	})

	t.Run("ansi colors", func(t *testing.T) {
		raw := "\x1b[31m[VULNERABLE] URL: http://x/a\x1b[0m\nParameter: \x1b[1mid\x1b[0m\nPayload: <script>1</script>\n"
		findings, _ := parser.Parse(raw)
		require.Len(t, findings.Vulnerabilities, 1)
		require.Equal(t, "id", findings.Vulnerabilities[0].Parameter)
	})

	t.Run("incomplete record does not steal fields of the next one", func(t *testing.T) {
		raw := "[VULNERABLE] URL: http://x/broken\nParameter: a\n" +
			"[VULNERABLE] URL: http://x/ok\nParameter: b\nPayload: <script>2</script>\n"
		findings, warning := parser.Parse(raw)
		require.Contains(t, warning, "1 incomplete [VULNERABLE] record(s) skipped")
		require.Equal(t, []model.Vulnerability{
			{URL: "http://x/ok", Parameter: "b", Payload: "<script>2</script>", Severity: model.SeverityNone},
		}, findings.Vulnerabilities)
		require.True(t, findings.Valid)
	})

	t.Run("fields beyond the span are ignored", func(t *testing.T) {
		raw := "[VULNERABLE] URL: http://x/far\n" +
			strings.Repeat("noise\n", parser.MaxRecordSpan/6+1) +
			"Parameter: far\nPayload: <script>3</script>\n"
		findings, warning := parser.Parse(raw)
		require.Empty(t, findings.Vulnerabilities)
		require.False(t, findings.Valid)
		require.NotEmpty(t, warning)
	})

	t.Run("large output", func(t *testing.T) {
		record := "[VULNERABLE] URL: http://x/a\nParameter: id\nPayload: <script>1</script>\n"
		raw := strings.Repeat(record, 20000) + strings.Repeat("[VULNERABLE] URL: x\n", 20000)
		findings, warning := parser.Parse(raw)
		require.Len(t, findings.Vulnerabilities, 20000)
		require.Contains(t, warning, "20000 incomplete")
	})
}

func TestParseIdempotent(t *testing.T) {
	t.Parallel()
	raw := sample + "Tested parameters: 3\nTime taken: 00:00:10\nSuccess rate: 150%\n"

	first, w1 := parser.Parse(raw)
	second, w2 := parser.Parse(raw)
	require.Equal(t, w1, w2)

	b1, err := json.Marshal(first)
	require.NoError(t, err)
	b2, err := json.Marshal(second)
	require.NoError(t, err)
	require.Equal(t, b1, b2)
	require.Equal(t, first, second)
}

func TestSnippet(t *testing.T) {
	t.Parallel()
	require.Equal(t, "abc", parser.Snippet("abc", 5))
	require.Equal(t, "cde", parser.Snippet("abcde", 3))
	require.Equal(t, "žž", parser.Snippet("žžž", 2))
	long := strings.Repeat("x", 2*parser.SnippetLen)
	require.Len(t, parser.Snippet(long, parser.SnippetLen), parser.SnippetLen)
}
