// Package notify delivers worker start failure reports by email and webhooks
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"os"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/notify"
)

// Params defines report content
type Params struct {
	HostName      string // shown in reports, os hostname if empty
	ErrorTemplate string // custom template file, default template used if empty or broken
}

// SendersParams defines report destinations
type SendersParams struct {
	SMTP           notify.SMTPParams
	FromEmail      string
	ToEmails       []string
	WebhookURLs    []string
	WebhookTimeout time.Duration
	WebhookHeaders []string // "Key:Value" pairs
}

// Service sends reports to all configured destinations
type Service struct {
	destinations  []notify.Notifier
	fromEmail     string
	toEmail       []string
	webhooks      []string
	hostName      string
	errorTemplate string
}

// NewService makes notification service, returns nil if no destinations configured
func NewService(params Params, sp SendersParams) *Service {
	if len(sp.ToEmails) == 0 && len(sp.WebhookURLs) == 0 {
		return nil
	}

	res := &Service{fromEmail: sp.FromEmail, toEmail: sp.ToEmails, webhooks: sp.WebhookURLs,
		hostName: params.HostName, errorTemplate: params.ErrorTemplate}
	if res.hostName == "" {
		res.hostName, _ = os.Hostname()
	}

	if len(sp.ToEmails) > 0 {
		res.destinations = append(res.destinations, notify.NewEmail(sp.SMTP))
	}
	if len(sp.WebhookURLs) > 0 {
		timeout := sp.WebhookTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		res.destinations = append(res.destinations, notify.NewWebhook(notify.WebhookParams{Timeout: timeout,
			Headers: sp.WebhookHeaders}))
	}
	return res
}

// Send text with subject to all destinations. Email gets subject in the header, webhooks get text only.
func (s *Service) Send(ctx context.Context, subj, text string) error {
	var errs []error
	for _, dest := range s.destinations {
		if dest.Schema() == "mailto" {
			if err := dest.Send(ctx, s.mailto(subj), text); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		for _, u := range s.webhooks {
			if !strings.HasPrefix(u, dest.Schema()) {
				continue
			}
			if err := dest.Send(ctx, u, text); err != nil {
				errs = append(errs, fmt.Errorf("webhook %s: %w", u, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Service) mailto(subj string) string {
	return fmt.Sprintf("mailto:%s?from=%s&subject=%s", strings.Join(s.toEmail, ","), s.fromEmail, url.QueryEscape(subj))
}

// MakeErrorHTML creates html report of a worker failed to start, with its captured output
func (s *Service) MakeErrorHTML(command, output string) (string, error) {
	data := struct {
		Command string
		TS      time.Time
		Output  string
		Host    string
	}{
		Command: command,
		TS:      time.Now(),
		Output:  output,
		Host:    s.hostName,
	}

	if s.errorTemplate != "" {
		res, err := execTemplateFile(s.errorTemplate, data)
		if err == nil {
			return res, nil
		}
		log.Printf("[WARN] can't use error template %s, default used, %v", s.errorTemplate, err)
	}

	t, err := template.New("msg").Parse(defaultErrorTemplate)
	if err != nil {
		return "", fmt.Errorf("can't parse message template: %w", err)
	}
	buf := bytes.Buffer{}
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to apply template: %w", err)
	}
	return buf.String(), nil
}

func execTemplateFile(file string, data any) (string, error) {
	body, err := os.ReadFile(file) //nolint:gosec // template file from the command line
	if err != nil {
		return "", fmt.Errorf("can't read template: %w", err)
	}
	t, err := template.New("msg").Parse(string(body))
	if err != nil {
		return "", fmt.Errorf("can't parse template: %w", err)
	}
	buf := bytes.Buffer{}
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to apply template: %w", err)
	}
	return buf.String(), nil
}

const defaultErrorTemplate = `<!DOCTYPE html>
<html>
	<head>
		<meta name="viewport" content="width=device-width" />
		<meta http-equiv="Content-Type" content="text/html; charset=UTF-8" />
		<style type="text/css">
			body {
				font-family: "Arial";
				font-size: 1.0em;
			}
			ul {
				margin-top: -0.5em;
				margin-left: -0.5em;
			}
			pre {
				padding: 0.6em;
				font-size: 0.7em;
				background-color: #E8E2A0;
				font-family: "Menlo";
				overflow-x: auto;
				white-space: pre-wrap;
				word-wrap: break-word;
			}
			.bold {
				color: #882828;
				font-weight: 900;
			}
		</style>
	</head>

	<body>
		<p>Worker failed to start on <span class="bold">{{.Host}}</span> at {{.TS.Format "2006-01-02T15:04:05Z07:00"}}</p>
		<ul>
			<li>Command: <span class="bold">{{.Command}}</span></li>
		</ul>
		{{if .Output}}
		<pre>
{{.Output}}
		</pre>
		{{else}}
		<p>No output captured.</p>
		{{end}}
	</body>
</html>
`
