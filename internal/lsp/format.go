// ABOUTME: Text formatting of LSP results for the agent-facing tool surface.
// ABOUTME: Converts wire positions back to 1-based lines and truncates long lists.

package lsp

import (
	"fmt"
	"strings"

	"go.lsp.dev/protocol"
)

// maxListedResults caps how many locations or diagnostics a single tool
// response lists. Exceeding lists get a prefixed count notice.
const maxListedResults = 200

// FormatLocations renders locations as newline-joined path:line:char entries.
// Wire lines are 0-based; display lines are 1-based, mirroring the conversion
// done on the way in.
func FormatLocations(locations []protocol.Location) string {
	lines := make([]string, 0, len(locations))
	for _, loc := range locations {
		lines = append(lines, fmt.Sprintf("%s:%d:%d",
			loc.URI.Filename(),
			loc.Range.Start.Line+1,
			loc.Range.Start.Character,
		))
	}
	return truncateList(lines)
}

// severityNames maps wire severities to display names. Zero (absent) is
// treated as an error, matching how most servers omit the field.
var severityNames = map[protocol.DiagnosticSeverity]string{
	protocol.DiagnosticSeverityError:       "error",
	protocol.DiagnosticSeverityWarning:     "warning",
	protocol.DiagnosticSeverityInformation: "info",
	protocol.DiagnosticSeverityHint:        "hint",
}

func severityName(s protocol.DiagnosticSeverity) string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "error"
}

// FormatDiagnostics renders diagnostics as one line each:
// severity[source](code) at line:char: message. An empty severityFilter keeps
// everything; otherwise only matching severities are listed.
func FormatDiagnostics(diagnostics []protocol.Diagnostic, severityFilter string) string {
	lines := make([]string, 0, len(diagnostics))
	for _, d := range diagnostics {
		name := severityName(d.Severity)
		if severityFilter != "" && name != severityFilter {
			continue
		}

		var b strings.Builder
		b.WriteString(name)
		if d.Source != "" {
			b.WriteString("[" + d.Source + "]")
		}
		if d.Code != nil {
			b.WriteString(fmt.Sprintf("(%v)", d.Code))
		}
		fmt.Fprintf(&b, " at %d:%d: %s", d.Range.Start.Line+1, d.Range.Start.Character, d.Message)
		lines = append(lines, b.String())
	}
	return truncateList(lines)
}

func truncateList(lines []string) string {
	if len(lines) <= maxListedResults {
		return strings.Join(lines, "\n")
	}
	notice := fmt.Sprintf("Showing first %d of %d results", maxListedResults, len(lines))
	return notice + "\n" + strings.Join(lines[:maxListedResults], "\n")
}
