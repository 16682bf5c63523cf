// Package reporting renders the HTML report of a suite run.
package reporting

import (
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"

	"github.com/ethereum-optimism/infra/op-squish/orchestrator"
	"github.com/ethereum-optimism/infra/op-squish/templates"
	"github.com/ethereum-optimism/infra/op-squish/types"
)

// HTMLReportFileName is written next to the run's log files.
const HTMLReportFileName = "report.html"

const reportTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Summary.Suite}} {{.Summary.RunID}}</title>
<style>
body { font-family: sans-serif; }
.pass { color: #1a7f37; } .fail, .error { color: #cf222e; } .warn, .canceled { color: #9a6700; } .info { color: #57606a; }
{{range $d := .Depths}}.indent-{{$d}} { padding-left: {{multiply $d 20}}px; }
{{end}}</style>
</head>
<body>
<h1 class="{{getStatusClass .Status}}">{{.Summary.Suite}}: {{.Status}}</h1>
<p>Run {{.Summary.RunID}} took {{formatDuration .Summary.Duration}}.{{if .Summary.MergedReport}} Report: <code>{{.Summary.MergedReport}}</code>{{end}}</p>
{{if .Summary.Err}}<p class="error">{{.Summary.Err}}</p>{{end}}
<table>
<tr><th>Test case</th><th>Status</th><th>Duration</th><th>Error</th></tr>
{{range .Summary.Results}}<tr><td>{{.Name}}</td><td class="{{getStatusClass .Status}}">{{.Status}}</td><td>{{formatDuration .Duration}}</td><td>{{if .Error}}{{.Error}}{{end}}</td></tr>
{{end}}</table>
<h2>Results</h2>
{{range .Rows}}<div class="{{getIndentClass .Depth}} {{getResultClass .Item.Type}}">[{{resultLabel .Item.Type}}] {{.Item.Text}}{{if .Item.File}} <small>{{.Item.File}}:{{.Item.Line}}</small>{{end}}{{if .Item.Details}}<pre>{{.Item.Details}}</pre>{{end}}</div>
{{end}}</body>
</html>
`

// HTMLReport renders run summaries with their result trees.
type HTMLReport struct {
	tmpl *template.Template
}

type reportRow struct {
	Item  *types.ResultItem
	Depth int
}

type reportData struct {
	Summary orchestrator.RunSummary
	Status  types.TestStatus
	Rows    []reportRow
	Depths  []int
}

func NewHTMLReport() (*HTMLReport, error) {
	tmpl, err := template.New("report").Funcs(templates.GetTemplateFunc()).Parse(reportTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse report template: %w", err)
	}
	return &HTMLReport{tmpl: tmpl}, nil
}

// Render writes the report of summary with the result items below roots.
func (r *HTMLReport) Render(w io.Writer, summary orchestrator.RunSummary, roots []*types.ResultItem) error {
	data := reportData{Summary: summary, Status: summary.Status()}
	maxDepth := 0
	var walk func(items []*types.ResultItem, depth int)
	walk = func(items []*types.ResultItem, depth int) {
		for _, item := range items {
			data.Rows = append(data.Rows, reportRow{Item: item, Depth: depth})
			if depth > maxDepth {
				maxDepth = depth
			}
			walk(item.Children, depth+1)
		}
	}
	walk(roots, 0)
	for d := 0; d <= maxDepth; d++ {
		data.Depths = append(data.Depths, d)
	}
	return r.tmpl.Execute(w, data)
}

// WriteFile renders the report into dir/report.html and returns its path.
func (r *HTMLReport) WriteFile(dir string, summary orchestrator.RunSummary, roots []*types.ResultItem) (string, error) {
	path := filepath.Join(dir, HTMLReportFileName)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	err = r.Render(f, summary, roots)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
