package report

import (
	"fmt"
	"html/template"
	"io"
	"sort"
	"strings"

	"github.com/gyaneshwarpardhi/compliance/internal/rule"
)

var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"lower":    func(s rule.Status) string { return strings.ToLower(string(s)) },
	"rate":     func(r rule.Result) string { return fmt.Sprintf("%.1f%%", r.PassRate()) },
	"pct":      func(f float64) string { return fmt.Sprintf("%.1f%%", f) },
	"columns":  violationFields,
	"cell":     cell,
	"hidden":   func(r rule.Result) int { return r.FailedRows - len(r.Violations) },
	"datetime": func(d *Document) string { return d.GeneratedAt.Format("2006-01-02 15:04:05 UTC") },
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Compliance report {{.ScanID}}</title>
<style>
body { font-family: Arial, sans-serif; margin: 2em; }
.summary span { margin-right: 1.5em; }
.pass { color: #2e7d32; } .fail { color: #c62828; } .error { color: #ef6c00; } .skipped { color: #757575; }
.rule { margin: 1.5em 0; padding: 0.5em 1em; border-left: 4px solid #ccc; }
.rule.fail { border-color: #c62828; } .rule.error { border-color: #ef6c00; }
table { border-collapse: collapse; margin-top: 0.5em; }
th, td { border: 1px solid #ddd; padding: 4px 8px; text-align: left; }
th { background: #f5f5f5; }
</style>
</head>
<body>
<h1>Compliance report</h1>
<p>Scan {{.ScanID}} &middot; {{datetime .}} &middot; {{.DurationMs}} ms</p>
<div class="summary">
<span>Total: {{.Summary.Total}}</span>
<span class="pass">Passed: {{.Summary.Passed}}</span>
<span class="fail">Failed: {{.Summary.Failed}}</span>
<span class="error">Errors: {{.Summary.Errors}}</span>
<span class="skipped">Skipped: {{.Summary.Skipped}}</span>
<span>Pass rate: {{pct .Summary.PassRate}}</span>
</div>
{{range .RuleErrors}}<p class="error">Rule file {{.Path}} skipped: {{.Error}}</p>
{{end}}
{{range .Results}}
<div class="rule {{lower .Status}}">
<h3>{{.RuleID}}: {{.RuleName}} <small>[{{.Severity}}]</small> <span class="{{lower .Status}}">{{.Status}}</span></h3>
{{if .Error}}<p class="error">{{.Error}}</p>{{else if ne (lower .Status) "skipped"}}<p>Pass rate {{rate .}} ({{.PassedRows}}/{{.TotalRows}} rows)</p>{{end}}
{{if .Violations}}{{$cols := columns .Violations}}
<table>
<tr><th>row</th>{{range $cols}}<th>{{.}}</th>{{end}}</tr>
{{range .Violations}}{{$row := .RowData}}<tr><td>{{.RowIndex}}</td>{{range $cols}}<td>{{cell $row .}}</td>{{end}}</tr>
{{end}}{{with hidden .}}<tr><td colspan="{{len $cols}}">... and {{.}} more violations</td></tr>{{end}}
</table>
{{end}}
</div>
{{end}}
</body>
</html>
`))

// WriteHTML renders a standalone HTML report.
func WriteHTML(w io.Writer, doc *Document, opts Options) error {
	out := *doc
	out.Results = limited(doc.Results, opts.IncludeViolations, opts.MaxViolations)
	if err := htmlTemplate.Execute(w, &out); err != nil {
		return fmt.Errorf("report: render html: %w", err)
	}
	return nil
}

func violationFields(vs []rule.Violation) []string {
	seen := make(map[string]struct{})
	var cols []string
	for _, v := range vs {
		for k := range v.RowData {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}
