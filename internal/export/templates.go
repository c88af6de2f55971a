package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

// SafeHTML is a template function that marks a string as safe HTML
func SafeHTML(s interface{}) template.HTML {
	switch v := s.(type) {
	case string:
		return template.HTML(v)
	case template.HTML:
		return v
	default:
		return template.HTML("")
	}
}

//go:embed templates/*.html
var templateFS embed.FS

var documentTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"safeHTML": SafeHTML,
	}

	templateContent, err := templateFS.ReadFile("templates/document.html")
	if err != nil {
		// Fallback to built-in template if file not found
		documentTemplate = template.Must(template.New("document").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	documentTemplate = template.Must(template.New("document").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for document template rendering
type TemplateData struct {
	Title       string
	Status      string
	ContentHTML template.HTML
	UpdatedAt   time.Time
	Claims      []TemplateClaim
}

// TemplateClaim is one appendix entry: a claim (or claim-like annotation)
// with the annotations bearing on it.
type TemplateClaim struct {
	Type    string
	Text    string
	Support []TemplateSupport
}

// TemplateSupport is one related annotation in the appendix.
type TemplateSupport struct {
	Type string
	Text string
}

// RenderDocumentHTML renders the document template with provided data
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    mark { padding: 0 2px; border-radius: 2px; }
    .hl-claim { background: #ffe9a8; }
    .hl-evidence { background: #c8e6c9; }
    .hl-counterargument { background: #ffcdd2; }
    .hl-assumption { background: #d1c4e9; }
    .hl-implication { background: #b3e5fc; }
    .hl-question { background: #f0f4c3; }
    .hl-cause { background: #ffe0b2; }
    .claim { background: #f5f5f5; padding: 1rem; margin: 1rem 0; border-left: 3px solid #333; }
    .support { margin-left: 1rem; color: #444; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.Status}} | {{.UpdatedAt.Format "Jan 2, 2006"}}</div>
  <div>{{.ContentHTML | safeHTML}}</div>
  {{if .Claims}}
  <h2>Argument structure</h2>
  {{range .Claims}}
  <div class="claim">
    <strong>{{.Type}}</strong>: {{.Text}}
    {{range .Support}}<div class="support">{{.Type}}: {{.Text}}</div>{{end}}
  </div>
  {{end}}
  {{end}}
</body>
</html>`
