package bom

import (
	"fmt"
	"io"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/CZERTAINLY/toxin/internal/model"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/google/uuid"
)

// CWE-79: Improper Neutralization of Input During Web Page Generation
const cweXSS = 79

var version string

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		version = "unknown"
	} else {
		version = info.Main.Version
	}
}

// Builder collects scan results and renders them as a CycloneDX BOM: a
// component per scanned target and a vulnerability per finding
type Builder struct {
	components      []cdx.Component
	vulnerabilities []cdx.Vulnerability
	properties      []cdx.Property
}

func NewBuilder() *Builder {
	return &Builder{
		// those MUST be initialized as cyclone-dx JSON schema do not allow items to be null
		components:      []cdx.Component{},
		vulnerabilities: []cdx.Vulnerability{},
		properties:      []cdx.Property{},
	}
}

func (b *Builder) AppendProperties(properties ...cdx.Property) *Builder {
	b.properties = append(b.properties, properties...)
	return b
}

// AppendResults adds the scanned targets and their findings
func (b *Builder) AppendResults(results ...model.ScanResult) *Builder {
	for _, r := range results {
		ref := targetRef(r, len(b.components))
		b.components = append(b.components, component(ref, r))
		for i, v := range r.Vulnerabilities {
			b.vulnerabilities = append(b.vulnerabilities, vulnerability(ref, i, v))
		}
	}
	return b
}

// BOM returns a cdx.BOM based on a data inside the Builder
func (b *Builder) BOM() cdx.BOM {
	return cdx.BOM{
		JSONSchema:   "https://cyclonedx.org/schema/bom-1.6.schema.json",
		BOMFormat:    "CycloneDX",
		SpecVersion:  cdx.SpecVersion1_6,
		SerialNumber: "urn:uuid:" + uuid.New().String(),
		Version:      1,
		Metadata: &cdx.Metadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Lifecycles: &[]cdx.Lifecycle{
				{
					Phase: "operations",
				},
			},
			// This can't be nil otherwise the encoder fails with
			// json: error calling MarshalJSON for type *cyclonedx.ToolsChoice: unexpected end of JSON input
			Component: &cdx.Component{
				Type:    cdx.ComponentTypeApplication,
				Name:    "Toxin",
				Version: version,
				Manufacturer: &cdx.OrganizationalEntity{
					Name:    "CZERTAINLY",
					Address: &cdx.PostalAddress{},
					URL: &[]string{
						"https://www.czertainly.com",
					},
				},
			},
		},
		Components:      &b.components,
		Vulnerabilities: &b.vulnerabilities,
		Properties:      &b.properties,
	}
}

// AsJSON encode the BOM into JSON format
func (b *Builder) AsJSON(w io.Writer) error {
	bom := b.BOM()
	return cdx.NewBOMEncoder(w, cdx.BOMFileFormatJSON).SetPretty(true).Encode(&bom)
}

func targetRef(r model.ScanResult, n int) string {
	if id, ok := r.Debug["scan_id"].(string); ok && id != "" {
		return "target/" + id
	}
	return "target/" + strconv.Itoa(n)
}

func component(ref string, r model.ScanResult) cdx.Component {
	props := []cdx.Property{
		{Name: "toxin:status", Value: string(r.Status)},
		{Name: "toxin:requests", Value: strconv.Itoa(r.Statistics.Requests)},
		{Name: "toxin:tested_params", Value: strconv.Itoa(r.Statistics.TestedParameters)},
		{Name: "toxin:success_rate", Value: strconv.FormatFloat(r.Statistics.SuccessRate, 'f', -1, 64)},
		{Name: "toxin:time", Value: r.Statistics.ElapsedTime.String()},
	}
	if r.ErrorMessage != "" {
		props = append(props, cdx.Property{Name: "toxin:error", Value: r.ErrorMessage})
	}
	return cdx.Component{
		BOMRef: ref,
		Type:   cdx.ComponentTypeApplication,
		Name:   r.TestedURL,
		ExternalReferences: &[]cdx.ExternalReference{
			{URL: r.TestedURL, Type: cdx.ERTypeWebsite},
		},
		Properties: &props,
	}
}

func vulnerability(ref string, n int, v model.Vulnerability) cdx.Vulnerability {
	props := []cdx.Property{
		{Name: "toxin:url", Value: v.URL},
		{Name: "toxin:parameter", Value: v.Parameter},
		{Name: "toxin:payload", Value: v.Payload},
	}
	if v.HandlerURL != "" {
		props = append(props, cdx.Property{Name: "toxin:handler_url", Value: v.HandlerURL})
	}
	return cdx.Vulnerability{
		BOMRef:      fmt.Sprintf("%s/xss/%d", ref, n),
		Source:      &cdx.Source{Name: "toxssin"},
		CWEs:        &[]int{cweXSS},
		Description: fmt.Sprintf("cross site scripting in parameter %q of %s", v.Parameter, v.URL),
		Ratings: &[]cdx.VulnerabilityRating{
			{Severity: severity(v.Severity), Method: cdx.ScoringMethodOther},
		},
		ProofOfConcept: &cdx.ProofOfConcept{
			ReproductionSteps: fmt.Sprintf("send %s in parameter %s", v.Payload, v.Parameter),
		},
		Affects:    &[]cdx.Affects{{Ref: ref}},
		Properties: &props,
	}
}

func severity(s model.Severity) cdx.Severity {
	switch s {
	case model.SeverityHigh:
		return cdx.SeverityHigh
	case model.SeverityMedium:
		return cdx.SeverityMedium
	case model.SeverityLow:
		return cdx.SeverityLow
	default:
		return cdx.SeverityUnknown
	}
}
