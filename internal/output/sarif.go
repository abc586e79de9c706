package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dshills/compliancebot/internal/compliance"
)

// SARIFWriter outputs findings in SARIF v2.1.0 format.
type SARIFWriter struct {
	// Version is reported as the tool driver version.
	Version string
}

func (s *SARIFWriter) Write(w io.Writer, run *compliance.AnalysisRun) error {
	version := s.Version
	if version == "" {
		version = "dev"
	}
	data, err := json.MarshalIndent(buildSARIF(run, version), "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling SARIF: %w", err)
	}
	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("writing SARIF: %w", err)
	}
	_, err = fmt.Fprintln(w)
	return err
}

// SARIF schema types (v2.1.0)

type sarifLog struct {
	Version string     `json:"version"`
	Schema  string     `json:"$schema"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string      `json:"name"`
	Version        string      `json:"version"`
	InformationURI string      `json:"informationUri"`
	Rules          []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string              `json:"id"`
	Name             string              `json:"name"`
	ShortDescription sarifMessage        `json:"shortDescription"`
	DefaultConfig    sarifDefaultConfig  `json:"defaultConfiguration"`
	Properties       sarifRuleProperties `json:"properties,omitempty"`
}

type sarifDefaultConfig struct {
	Level string `json:"level"`
}

type sarifRuleProperties struct {
	Tags []string `json:"tags,omitempty"`
}

type sarifResult struct {
	RuleID    string          `json:"ruleId"`
	Level     string          `json:"level"`
	Message   sarifMessage    `json:"message"`
	Locations []sarifLocation `json:"locations,omitempty"`
	Fixes     []sarifFix      `json:"fixes,omitempty"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           *sarifRegion          `json:"region,omitempty"`
}

type sarifArtifactLocation struct {
	URI string `json:"uri"`
}

type sarifRegion struct {
	StartLine   int           `json:"startLine"`
	StartColumn int           `json:"startColumn,omitempty"`
	Snippet     *sarifMessage `json:"snippet,omitempty"`
}

type sarifFix struct {
	Description sarifMessage `json:"description"`
}

func buildSARIF(run *compliance.AnalysisRun, version string) sarifLog {
	var rules []sarifRule
	seen := make(map[string]bool)
	results := make([]sarifResult, 0, len(run.Findings))

	for _, f := range run.Findings {
		if !seen[f.RuleID] {
			seen[f.RuleID] = true
			rules = append(rules, sarifRule{
				ID:               f.RuleID,
				Name:             f.RuleName,
				ShortDescription: sarifMessage{Text: f.RuleName},
				DefaultConfig:    sarifDefaultConfig{Level: severityToLevel(f.Severity)},
				Properties:       sarifRuleProperties{Tags: []string{string(f.Type), f.Severity.String()}},
			})
		}

		loc := sarifLocation{PhysicalLocation: sarifPhysicalLocation{
			ArtifactLocation: sarifArtifactLocation{URI: f.File},
		}}
		if f.HasLine() {
			region := &sarifRegion{StartLine: f.Line}
			if f.Column != nil {
				region.StartColumn = *f.Column + 1
			}
			if f.Code != "" {
				region.Snippet = &sarifMessage{Text: f.Code}
			}
			loc.PhysicalLocation.Region = region
		}

		result := sarifResult{
			RuleID:    f.RuleID,
			Level:     severityToLevel(f.Severity),
			Message:   sarifMessage{Text: f.Message},
			Locations: []sarifLocation{loc},
		}
		if f.FixSuggestion != "" {
			result.Fixes = append(result.Fixes, sarifFix{
				Description: sarifMessage{Text: f.FixSuggestion},
			})
		}
		results = append(results, result)
	}

	return sarifLog{
		Version: "2.1.0",
		Schema:  "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/main/sarif-2.1/schema/sarif-schema-2.1.0.json",
		Runs: []sarifRun{
			{
				Tool: sarifTool{
					Driver: sarifDriver{
						Name:           "compliancebot",
						Version:        version,
						InformationURI: "https://github.com/dshills/compliancebot",
						Rules:          rules,
					},
				},
				Results: results,
			},
		},
	}
}

// severityToLevel maps a finding severity to a SARIF level.
func severityToLevel(s compliance.Severity) string {
	switch s {
	case compliance.SeverityCritical, compliance.SeverityHigh:
		return "error"
	case compliance.SeverityMedium:
		return "warning"
	default:
		return "note"
	}
}
