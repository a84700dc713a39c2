package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var submissionTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}
	submissionTemplate = template.Must(template.New("submission").Funcs(funcMap).Parse(submissionHTMLTemplate))
}

// TemplateData holds data for submission template rendering
type TemplateData struct {
	Title            string
	ContributorName  string
	ContributorEmail string
	Status           string
	Tier             string
	Bonuses          []string
	Tags             []string
	SourceIDs        []string
	Attachments      []AttachmentInfo
	RateDollars      string
	UpdatedBy        string
	UpdatedAt        time.Time
}

// RenderSubmissionHTML renders the submission template with provided data
func RenderSubmissionHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := submissionTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const submissionHTMLTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    table { border-collapse: collapse; width: 100%; margin: 1rem 0; }
    th, td { text-align: left; padding: 0.4rem 0.6rem; border-bottom: 1px solid #ddd; }
    .tag { display: inline-block; background: #eee; border-radius: 3px; padding: 0 0.4rem; margin-right: 0.3rem; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">
    {{if .ContributorName}}{{.ContributorName}} &lt;{{.ContributorEmail}}&gt;{{else}}No contributor on file{{end}}
    | {{.Status}} | {{.UpdatedAt.Format "Jan 2, 2006"}}
  </div>

  <table>
    <tr><th>Tier</th><td>{{.Tier}}</td></tr>
    {{if .RateDollars}}<tr><th>Rate</th><td>{{.RateDollars}}</td></tr>{{end}}
    {{if .Bonuses}}<tr><th>Bonuses</th><td>{{range .Bonuses}}<span class="tag">{{.}}</span>{{end}}</td></tr>{{end}}
    {{if .Tags}}<tr><th>Tags</th><td>{{range .Tags}}<span class="tag">{{.}}</span>{{end}}</td></tr>{{end}}
    {{if .SourceIDs}}<tr><th>Sources</th><td>{{range .SourceIDs}}<span class="tag">{{.}}</span>{{end}}</td></tr>{{end}}
    {{if .UpdatedBy}}<tr><th>Last edited by</th><td>{{.UpdatedBy}}</td></tr>{{end}}
  </table>

  {{if .Attachments}}
  <h2>Attachments</h2>
  <table>
    <tr><th>Filename</th><th>Type</th><th>Size</th></tr>
    {{range .Attachments}}
    <tr><td>{{.Filename}}</td><td>{{.ContentType}}</td><td>{{.SizeBytes}} bytes</td></tr>
    {{end}}
  </table>
  {{end}}
</body>
</html>`
