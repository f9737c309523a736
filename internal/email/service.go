// Package email sends sheet-sharing notices over SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// AppURL prefixes the sheet links placed in messages.
	AppURL string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured reports whether an SMTP relay was provided.
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// ShareNotice describes a grant handed to Recipient on one sheet.
type ShareNotice struct {
	RecipientMail string
	RecipientName string
	SharedBy      string
	SheetID       int64
	SheetTitle    string
	Access        string
}

type shareData struct {
	ShareNotice
	SheetURL string
}

// SendShareNotice tells a user they were granted access to a sheet.
func (s *Service) SendShareNotice(notice ShareNotice) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	if strings.TrimSpace(notice.RecipientMail) == "" {
		return fmt.Errorf("recipient has no mail address")
	}

	data := shareData{ShareNotice: notice, SheetURL: s.sheetURL(notice.SheetID)}
	html, err := renderTemplate(shareNoticeTemplate, data)
	if err != nil {
		return fmt.Errorf("render share notice: %w", err)
	}
	text := fmt.Sprintf("%s gave you %s access to %q.\r\nOpen it at %s\r\n",
		notice.SharedBy, notice.Access, notice.SheetTitle, data.SheetURL)
	subject := fmt.Sprintf("%s shared %q with you", notice.SharedBy, notice.SheetTitle)

	return s.send(s.server, s.auth, s.config.From, []string{notice.RecipientMail}, s.compose(notice.RecipientMail, subject, text, html))
}

func (s *Service) sheetURL(sheetID int64) string {
	base := strings.TrimRight(s.config.AppURL, "/")
	return fmt.Sprintf("%s/sheets/%d", base, sheetID)
}

func (s *Service) compose(to, subject, text, html string) []byte {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-cellsync"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n", text)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n", html)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

func renderTemplate(tmpl string, data any) (string, error) {
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const shareNoticeTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.SheetTitle}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #1a7f37; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .link { word-break: break-all; color: #1a7f37; }
    </style>
</head>
<body>
    <p>Hi {{.RecipientName}},</p>

    <p>{{.SharedBy}} gave you <strong>{{.Access}}</strong> access to the sheet <strong>{{.SheetTitle}}</strong>.</p>

    <p><a href="{{.SheetURL}}" class="button">Open sheet</a></p>

    <p class="link">{{.SheetURL}}</p>
</body>
</html>`
