package tally

import (
	"fmt"
	"time"
)

// Parse turns raw export-file bytes into the intermediate model.
//
// Contract: malformed individual records never abort parsing. Each one is
// collected as a ValidationIssue and parsing continues. Only an unparsable
// top-level container is fatal: the returned model is nil and the issue list
// contains exactly one error-severity issue.
func Parse(data []byte, format FileFormat) (*TallyData, []ValidationIssue, error) {
	if !format.Valid() {
		err := fmt.Errorf("unsupported file format %q", format)
		return nil, []ValidationIssue{fatalIssue(err)}, err
	}
	if len(data) == 0 {
		err := fmt.Errorf("empty %s file", format)
		return nil, []ValidationIssue{fatalIssue(err)}, err
	}

	var (
		parsed *TallyData
		issues []ValidationIssue
		err    error
	)
	switch format {
	case FileFormatXML:
		parsed, issues, err = parseXML(data)
	case FileFormatJSON:
		parsed, issues, err = parseJSON(data)
	case FileFormatXLSX:
		parsed, issues, err = parseXLSX(data)
	}
	if err != nil {
		return nil, []ValidationIssue{fatalIssue(err)}, err
	}

	parsed.Summary = BuildSummary(parsed)
	return parsed, issues, nil
}

func fatalIssue(err error) ValidationIssue {
	return ValidationIssue{
		Severity: IssueSeverityError,
		Message:  "file is not parsable: " + err.Error(),
	}
}

// issueCollector accumulates per-record problems during normalization.
type issueCollector struct {
	issues []ValidationIssue
}

func (c *issueCollector) add(severity IssueSeverity, rt RecordType, guid, name, msg string) {
	c.issues = append(c.issues, ValidationIssue{
		Severity:   severity,
		RecordType: rt,
		SourceGuid: guid,
		SourceName: name,
		Message:    msg,
	})
}

func (c *issueCollector) errorf(rt RecordType, guid, name, format string, args ...interface{}) {
	c.add(IssueSeverityError, rt, guid, name, fmt.Sprintf(format, args...))
}

func (c *issueCollector) warnf(rt RecordType, guid, name, format string, args ...interface{}) {
	c.add(IssueSeverityWarning, rt, guid, name, fmt.Sprintf(format, args...))
}

var dateLayouts = []string{
	"20060102", // Tally export format
	"2006-01-02",
	"02-Jan-2006",
}

func parseSourceDate(value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}
