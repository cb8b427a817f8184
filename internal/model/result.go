package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type Severity string

const (
	SeverityNone   Severity = "none"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ParseSeverity is case insensitive, unknown values map to SeverityNone
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityLow:
		return SeverityLow
	case SeverityMedium:
		return SeverityMedium
	case SeverityHigh:
		return SeverityHigh
	default:
		return SeverityNone
	}
}

// Vulnerability is a single injection point reported by the tool
type Vulnerability struct {
	URL        string   `json:"url"`
	Parameter  string   `json:"parameter"`
	Payload    string   `json:"payload"`
	HandlerURL string   `json:"handler_url,omitempty"` // session oriented findings only
	Severity   Severity `json:"severity"`
}

// Elapsed is a duration rendered as HH:MM:SS[.mmm], the way the tool prints it
type Elapsed time.Duration

func (e Elapsed) Duration() time.Duration {
	return time.Duration(e)
}

func (e Elapsed) String() string {
	d := time.Duration(e)
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	if ms == 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

func (e Elapsed) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

type ScanStatistics struct {
	Requests         int     `json:"requests"`
	TestedParameters int     `json:"tested_params"`
	SuccessRate      float64 `json:"success_rate"` // [0, 100]
	ElapsedTime      Elapsed `json:"time"`
}

// IsZero reports whether all statistics hold their defaults
func (s ScanStatistics) IsZero() bool {
	return s == ScanStatistics{}
}

// Findings is what the text parser extracts from the tool output
type Findings struct {
	Vulnerabilities []Vulnerability
	Statistics      ScanStatistics
	// Valid is true when the output shows any scan activity
	Valid bool
}

// NewFindings returns findings with all defaults set
func NewFindings() Findings {
	return Findings{
		Vulnerabilities: []Vulnerability{},
	}
}

// ScanResult is the caller facing outcome of one scan. It is built once
// and every field is always populated: a failure is expressed
// by Status and ErrorMessage.
type ScanResult struct {
	Status          Status
	Success         bool
	TestedURL       string
	Vulnerabilities []Vulnerability
	Statistics      ScanStatistics
	ErrorMessage    string
	Debug           map[string]any
}

// NewScanResult returns a failed result with every field defaulted
func NewScanResult(testedURL string) ScanResult {
	return ScanResult{
		Status:          StatusFailed,
		TestedURL:       testedURL,
		Vulnerabilities: []Vulnerability{},
		Debug:           map[string]any{},
	}
}

type scanResultJSON struct {
	Status          Status          `json:"status"`
	Success         bool            `json:"success"`
	TestedURL       string          `json:"tested_url"`
	Vulnerabilities []Vulnerability `json:"xss_vulnerabilities"`
	Statistics      ScanStatistics  `json:"scan_stats"`
	Error           *string         `json:"error"`
	Debug           map[string]any  `json:"debug"`
}

// MarshalJSON renders the flat document of the result. Empty error
// message is rendered as null, nil collections as empty ones.
func (r ScanResult) MarshalJSON() ([]byte, error) {
	out := scanResultJSON{
		Status:          r.Status,
		Success:         r.Success,
		TestedURL:       r.TestedURL,
		Vulnerabilities: r.Vulnerabilities,
		Statistics:      r.Statistics,
		Debug:           r.Debug,
	}
	if out.Status == "" {
		out.Status = StatusFailed
	}
	if out.Vulnerabilities == nil {
		out.Vulnerabilities = []Vulnerability{}
	}
	if out.Debug == nil {
		out.Debug = map[string]any{}
	}
	if r.ErrorMessage != "" {
		msg := r.ErrorMessage
		out.Error = &msg
	}
	return json.Marshal(out)
}
