// Package parser turns the free text output of toxssin into model.Findings.
//
// Parsing never fails: fields which can't be extracted keep their defaults
// and a human readable warning describes what went wrong.
package parser

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/CZERTAINLY/toxin/internal/model"
)

const (
	marker = "[VULNERABLE] URL: "
	// MaxRecordSpan bounds how far after a marker the record fields are searched
	MaxRecordSpan = 4096
	// SnippetLen bounds the output sample attached to a warning
	SnippetLen = 500
	maxValueLen = 64
	// a week is more than any scan may take
	maxTimeTaken = 7 * 24 * time.Hour
)

var (
	ansiRx   = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	recordRx = regexp.MustCompile(`(?s)^\[VULNERABLE\] URL: ([^\r\n]+)\r?\n.*?Parameter: ([^\r\n]+)\r?\n.*?Payload: ([^\r\n]+)`)

	requestsRx    = regexp.MustCompile(`Total requests:\s*([+-]?\d+)`)
	testedRx      = regexp.MustCompile(`Tested parameters:\s*([+-]?\d+)`)
	successRateRx = regexp.MustCompile(`Success rate:\s*([+-]?[\d.]+)\s*%`)
	timeTakenRx   = regexp.MustCompile(`Time taken:\s*([\d:.]+)`)
)

// Parse extracts the vulnerabilities and statistics from raw. It always
// returns populated findings. The warning is empty unless something could
// not be extracted.
func Parse(raw string) (findings model.Findings, warning string) {
	defer func() {
		if r := recover(); r != nil {
			findings = model.NewFindings()
			warning = fmt.Sprintf("output parsing failed: %v: output tail: %s", r, Snippet(raw, SnippetLen))
		}
	}()
	return parse(raw)
}

func parse(raw string) (model.Findings, string) {
	text := ansiRx.ReplaceAllString(raw, "")
	var warnings []string

	findings := model.NewFindings()
	vulns, skipped := vulnerabilities(text)
	findings.Vulnerabilities = vulns
	if skipped > 0 {
		warnings = append(warnings, fmt.Sprintf("%d incomplete [VULNERABLE] record(s) skipped", skipped))
	}

	stats, statWarnings := statistics(text)
	findings.Statistics = stats
	warnings = append(warnings, statWarnings...)

	findings.Valid = len(findings.Vulnerabilities) > 0 || !findings.Statistics.IsZero()
	return findings, strings.Join(warnings, "; ")
}

// vulnerabilities returns records in order of appearance. Each record is
// searched only up to the next marker or MaxRecordSpan bytes.
func vulnerabilities(text string) ([]model.Vulnerability, int) {
	vulns := []model.Vulnerability{}
	skipped := 0
	rest := text
	for {
		i := strings.Index(rest, marker)
		if i < 0 {
			break
		}
		rest = rest[i:]

		end := len(rest)
		if j := strings.Index(rest[len(marker):], marker); j >= 0 {
			end = len(marker) + j
		}
		end = min(end, MaxRecordSpan)

		if v, ok := record(rest[:end]); ok {
			vulns = append(vulns, v)
		} else {
			skipped++
		}
		rest = rest[len(marker):]
	}
	return vulns, skipped
}

func record(window string) (model.Vulnerability, bool) {
	loc := recordRx.FindStringSubmatchIndex(window)
	if loc == nil {
		return model.Vulnerability{}, false
	}
	v := model.Vulnerability{
		URL:       strings.TrimSpace(window[loc[2]:loc[3]]),
		Parameter: strings.TrimSpace(window[loc[4]:loc[5]]),
		Payload:   strings.TrimSpace(window[loc[6]:loc[7]]),
		Severity:  model.SeverityNone,
	}
	if v.URL == "" || v.Parameter == "" || v.Payload == "" {
		return model.Vulnerability{}, false
	}

	// optional Handler and Severity lines right after the payload
	lines := strings.SplitN(window[loc[1]:], "\n", 4)
	for _, line := range lines[1:min(len(lines), 3)] {
		line = strings.TrimSpace(line)
		if h, ok := cutAny(line, "Handler URL: ", "Handler: "); ok {
			v.HandlerURL = strings.TrimSpace(h)
			continue
		}
		if s, ok := strings.CutPrefix(line, "Severity: "); ok {
			v.Severity = model.ParseSeverity(s)
			continue
		}
		break
	}
	return v, true
}

func statistics(text string) (model.ScanStatistics, []string) {
	var stats model.ScanStatistics
	var warnings []string

	if m := requestsRx.FindStringSubmatch(text); m != nil {
		n, err := count(m[1])
		if err != nil {
			warnings = append(warnings, "total requests: "+err.Error())
		}
		stats.Requests = n
	}

	if m := testedRx.FindStringSubmatch(text); m != nil {
		n, err := count(m[1])
		if err != nil {
			warnings = append(warnings, "tested parameters: "+err.Error())
		}
		stats.TestedParameters = n
	}

	if m := successRateRx.FindStringSubmatch(text); m != nil {
		rate, err := strconv.ParseFloat(m[1], 64)
		if err != nil || math.IsNaN(rate) {
			warnings = append(warnings, fmt.Sprintf("success rate: invalid value %q", bound(m[1])))
			rate = 0
		}
		stats.SuccessRate = clamp(rate, 0, 100)
	}

	if m := timeTakenRx.FindStringSubmatch(text); m != nil {
		d, err := clock(m[1])
		if err != nil {
			warnings = append(warnings, "time taken: "+err.Error())
		}
		stats.ElapsedTime = model.Elapsed(d)
	}

	return stats, warnings
}

// count parses a non-negative counter, negative values are clamped to 0
func count(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", bound(s))
	}
	return max(n, 0), nil
}

// clock parses [[HH:]MM:]SS[.fff]
func clock(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid value %q", bound(s))
	}
	var seconds float64
	for i, p := range parts {
		if p == "" || (i < len(parts)-1 && strings.Contains(p, ".")) {
			return 0, fmt.Errorf("invalid value %q", bound(s))
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid value %q", bound(s))
		}
		seconds = seconds*60 + v
	}
	if seconds > maxTimeTaken.Seconds() {
		return 0, fmt.Errorf("value %q out of range", bound(s))
	}
	return time.Duration(math.Round(seconds*1000)) * time.Millisecond, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func cutAny(s string, prefixes ...string) (string, bool) {
	for _, p := range prefixes {
		if after, ok := strings.CutPrefix(s, p); ok {
			return after, true
		}
	}
	return "", false
}

func bound(s string) string {
	if len(s) <= maxValueLen {
		return s
	}
	return s[:maxValueLen] + "..."
}

// Snippet returns at most n trailing characters of s
func Snippet(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[len(runes)-n:])
}
