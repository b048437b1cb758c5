package summary

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strconv"
	"text/template"
	"time"

	"github.com/NordCoder/Zepatrol/internal/domain/target"
	"github.com/NordCoder/Zepatrol/internal/services/notifier"
)

var funcs = map[string]any{
	"statusIcon": func(s target.Status) string {
		if s == target.StatusHealthy {
			return "🟢"
		}
		return "🔴"
	},
	"trendIcon": func(t string) string {
		switch t {
		case TrendIncreasing:
			return "📈"
		case TrendStagnant:
			return "➡️"
		}
		return ""
	},
	"score": func(p *float64) string {
		if p == nil {
			return "N/A"
		}
		return strconv.FormatFloat(*p, 'f', -1, 64)
	},
	"when": func(p *time.Time) string {
		if p == nil {
			return "never"
		}
		return p.UTC().Format("2006-01-02 15:04 UTC")
	},
	"overall": func(s Summary) string {
		if s.HealthyTargets == s.TotalTargets {
			return "🟢"
		}
		return "🟡"
	},
}

var textTpl = template.Must(template.New("summary.text").Funcs(funcs).Parse(`Dear {{if .Tenant}}{{.Tenant}}{{else}}User{{end}},

Here's your daily node summary for {{.Date}}:

OVERVIEW:
{{overall .}} Healthy nodes: {{.HealthyTargets}}/{{.TotalTargets}}
{{if .Alerts24h}}⚠️{{else}}✅{{end}} Total alerts (24h): {{.Alerts24h}}

NODE DETAILS:
{{range .Targets}}
{{statusIcon .Status}} {{.Name}}
   Status: {{.Status}}
   Last check: {{when .LastCheck}}
   Alerts (24h): {{.Alerts24h}}
{{- if .Score}}
   {{trendIcon .Trend}} Score: {{score .Score}} ({{.Trend}})
{{- end}}
{{end}}
Keep monitoring your nodes for optimal performance!

Zepatrol Monitoring
`))

var htmlTpl = htmltemplate.Must(htmltemplate.New("summary.html").Funcs(funcs).Parse(
	`📊 <b>Daily Node Summary {{.Date}}</b>

{{overall .}} Healthy: <b>{{.HealthyTargets}}/{{.TotalTargets}}</b>
Alerts (24h): <b>{{.Alerts24h}}</b>
{{range .Targets}}
{{statusIcon .Status}} <b>{{.Name}}</b> {{.Status}}{{if .Score}} · score {{score .Score}} {{trendIcon .Trend}}{{end}}{{end}}`))

func Render(s Summary) (notifier.Message, error) {
	var text, html bytes.Buffer
	if err := textTpl.Execute(&text, s); err != nil {
		return notifier.Message{}, fmt.Errorf("render summary text: %w", err)
	}
	if err := htmlTpl.Execute(&html, s); err != nil {
		return notifier.Message{}, fmt.Errorf("render summary html: %w", err)
	}
	return notifier.Message{
		Subject: "📊 Daily Node Summary - " + s.Date,
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}
