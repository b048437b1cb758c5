package notifier

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	"text/template"
	"time"

	"github.com/NordCoder/Zepatrol/internal/domain/alert"
	"github.com/NordCoder/Zepatrol/internal/domain/target"
	"github.com/NordCoder/Zepatrol/internal/domain/tenant"
)

// Message is one rendered notification. Text goes to mail, HTML to chat.
type Message struct {
	Subject string
	Text    string
	HTML    string
}

type alertView struct {
	Tenant   string
	Target   string
	TargetID int64
	Message  string
	Cause    string
	Severity string
	At       string
}

type alertTemplates struct {
	subject *template.Template
	text    *template.Template
	html    *htmltemplate.Template
}

var alertTemplatesByKind = map[alert.Kind]alertTemplates{
	alert.KindDowntime: {
		subject: template.Must(template.New("downtime.subject").Parse(`⚠️ Node {{.Target}} DOWN`)),
		text: template.Must(template.New("downtime.text").Parse(`Hello {{.Tenant}},

Health check failed for node {{.Target}} (#{{.TargetID}}).
Error: {{.Cause}}
Time: {{.At}}

The node failed several consecutive checks. Verify the process is running,
the endpoint is reachable from the internet and the host has free disk and
memory. You will not be alerted again for this outage until it recovers or
this alert is acknowledged.

Zepatrol Monitoring
`)),
		html: htmltemplate.Must(htmltemplate.New("downtime.html").Parse(
			`🔴 <b>[DOWN] {{.Target}}</b>
Error: <code>{{.Cause}}</code>
Severity: {{.Severity}}
Time: {{.At}}`)),
	},
	alert.KindScoreStagnation: {
		subject: template.Must(template.New("stagnation.subject").Parse(`📉 Node {{.Target}} score not increasing`)),
		text: template.Must(template.New("stagnation.text").Parse(`Hello {{.Tenant}},

{{.Message}}.
Time: {{.At}}

The network reports the node online but its score is not growing. Check
that the node is synced, that its keys are registered and that it is
participating in consensus.

Zepatrol Monitoring
`)),
		html: htmltemplate.Must(htmltemplate.New("stagnation.html").Parse(
			`📉 <b>[STAGNANT] {{.Target}}</b>
{{.Message}}
Time: {{.At}}`)),
	},
}

// RenderAlert builds the kind specific message for an alert.
func RenderAlert(tn *tenant.Tenant, tgt *target.Target, a *alert.Alert) (Message, error) {
	tpl, ok := alertTemplatesByKind[a.Kind]
	if !ok {
		return Message{}, fmt.Errorf("no template for alert kind %q", a.Kind)
	}
	v := alertView{
		Tenant:   displayName(tn),
		Target:   tgt.Name,
		TargetID: tgt.ID,
		Message:  a.Message,
		Cause:    tgt.LastError,
		Severity: string(a.Severity),
		At:       a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if v.Cause == "" {
		v.Cause = "unknown"
	}

	var subj, text, html bytes.Buffer
	if err := tpl.subject.Execute(&subj, v); err != nil {
		return Message{}, fmt.Errorf("render subject: %w", err)
	}
	if err := tpl.text.Execute(&text, v); err != nil {
		return Message{}, fmt.Errorf("render text: %w", err)
	}
	if err := tpl.html.Execute(&html, v); err != nil {
		return Message{}, fmt.Errorf("render html: %w", err)
	}
	return Message{Subject: subj.String(), Text: text.String(), HTML: html.String()}, nil
}

func displayName(tn *tenant.Tenant) string {
	if tn == nil || strings.TrimSpace(tn.Name) == "" {
		return "User"
	}
	return tn.Name
}
