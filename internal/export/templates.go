package export

import (
	"bytes"
	"html/template"
	"time"
)

// TemplateData holds data for version template rendering
type TemplateData struct {
	Title       string
	Excerpt     string
	ContentHTML template.HTML
	Author      string
	WebsiteName string
	Version     int
	CreatedAt   time.Time
}

var versionTemplate = template.Must(template.New("version").Parse(versionTemplateHTML))

// RenderVersionHTML renders the version template with provided data
func RenderVersionHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := versionTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const versionTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .excerpt { font-style: italic; color: #444; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  {{if .Excerpt}}<p class="excerpt">{{.Excerpt}}</p>{{end}}
  <div class="meta">{{.WebsiteName}} | {{.Author}} | Version {{.Version}} | {{.CreatedAt.Format "Jan 2, 2006"}}</div>
  <div>{{.ContentHTML}}</div>
</body>
</html>`
