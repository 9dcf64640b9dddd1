package llm

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/vasu-devs/Socratis/internal/model"
)

//go:embed report.schema.json
var reportSchemaJSON []byte

var (
	reportSchema  = mustCompileSchema(reportSchemaJSON, "report.schema.json")
	schemaPrinter = message.NewPrinter(language.English)
)

func mustCompileSchema(raw []byte, name string) *jsonschema.Schema {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		panic(fmt.Sprintf("parse embedded %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("add %s resource: %v", name, err))
	}
	sch, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile %s: %v", name, err))
	}
	return sch
}

// ParseReport validates a raw report, from the provider or the report
// callback, against the report schema and decodes it. Issue lists default to empty and unknown severities or
// categories are mapped onto the closest allowed value.
func ParseReport(raw string) (*model.Report, error) {
	var instance any
	if err := json.Unmarshal([]byte(raw), &instance); err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}
	if err := reportSchema.Validate(instance); err != nil {
		return nil, fmt.Errorf("report does not match schema: %s", schemaErrors(err))
	}

	var r model.Report
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	r.Normalize()
	for i := range r.CodeIssues {
		r.CodeIssues[i].Severity = normalizeSeverity(r.CodeIssues[i].Severity)
	}
	for i := range r.TranscriptIssues {
		r.TranscriptIssues[i].Category = normalizeCategory(r.TranscriptIssues[i].Category)
	}
	return &r, nil
}

func schemaErrors(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	var errs []string
	collectSchemaErrors(ve, &errs)
	return strings.Join(errs, "; ")
}

func collectSchemaErrors(ve *jsonschema.ValidationError, errs *[]string) {
	if len(ve.Causes) == 0 {
		loc := "/" + strings.Join(ve.InstanceLocation, "/")
		*errs = append(*errs, fmt.Sprintf("%s: %s", loc, ve.ErrorKind.LocalizedString(schemaPrinter)))
		return
	}
	for _, c := range ve.Causes {
		collectSchemaErrors(c, errs)
	}
}

func normalizeSeverity(s model.Severity) model.Severity {
	switch model.Severity(strings.ToLower(string(s))) {
	case model.SeverityError, "critical", "bug":
		return model.SeverityError
	case model.SeverityWarning, "warn":
		return model.SeverityWarning
	default:
		return model.SeverityInfo
	}
}

func normalizeCategory(c model.IssueCategory) model.IssueCategory {
	switch v := model.IssueCategory(strings.ToLower(string(c))); v {
	case model.CategoryConcept, model.CategoryComplexity, model.CategoryApproach, model.CategoryCommunication:
		return v
	case "technical":
		return model.CategoryConcept
	case "behavior", "behaviour":
		return model.CategoryApproach
	default:
		return model.CategoryCommunication
	}
}
