// Package schema holds the JSON schema of the scan result document and
// validates documents against it.
package schema

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	jss "github.com/kaptinlin/jsonschema"
)

//go:embed schemas/scan-result.schema.json
var scanResult []byte

// ScanResult returns the raw schema of the scan result document
func ScanResult() []byte {
	return append([]byte(nil), scanResult...)
}

// Validator validates scan result documents
type Validator struct {
	schema *jss.Schema
}

func NewValidator() (Validator, error) {
	compiler := jss.NewCompiler()
	schema, err := compiler.Compile(scanResult)
	if err != nil {
		return Validator{}, fmt.Errorf("compiling schema: %w", err)
	}
	return Validator{schema: schema}, nil
}

// ValidateBytes validates a JSON encoded scan result
func (v Validator) ValidateBytes(b []byte) error {
	res := v.schema.Validate(b)
	if res.Valid {
		return nil
	}
	errorMsgs := make([]string, 0, len(res.Errors))
	for _, err := range res.Errors {
		errorMsgs = append(errorMsgs, fmt.Sprintf("%s: %s", err.Keyword, err.Error()))
	}
	sort.Strings(errorMsgs)
	return fmt.Errorf("scan result validation failed:\n%s", strings.Join(errorMsgs, "\n"))
}
