// Package email provides notification sending via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// Config holds SMTP configuration.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// AppURL is the base URL of the frontend, used to build links.
	AppURL string
}

type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

const appName = "QuoteFlow"

func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email is configured. Callers treat an
// unconfigured service as "notifications off", not as an error.
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends a multipart email with an HTML body.
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-quoteflow"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

type VerificationData struct {
	AppName         string
	UserName        string
	VerificationURL string
}

type PasswordResetData struct {
	AppName  string
	UserName string
	ResetURL string
}

type SupplierInvitationData struct {
	AppName       string
	SupplierName  string
	BuyerName     string
	CompanyName   string
	InvitationURL string
}

type NewVersionData struct {
	AppName        string
	BuyerName      string
	SupplierName   string
	DocumentNumber string
	Title          string
	Version        string
	QuotationURL   string
}

type StatusChangeData struct {
	AppName        string
	SupplierName   string
	DocumentNumber string
	Title          string
	OldStatus      string
	NewStatus      string
	Comment        string
	QuotationURL   string
}

// SendVerificationEmail sends an email verification email.
func (s *Service) SendVerificationEmail(to, userName, token string) error {
	data := VerificationData{
		AppName:         appName,
		UserName:        userName,
		VerificationURL: s.config.AppURL + "/verify-email?token=" + token,
	}
	html, err := renderTemplate(verificationEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render verification template: %w", err)
	}
	return s.SendHTMLEmail([]string{to}, "Verify your "+appName+" account", html)
}

// SendPasswordResetEmail sends a password reset email.
func (s *Service) SendPasswordResetEmail(to, userName, token string) error {
	data := PasswordResetData{
		AppName:  appName,
		UserName: userName,
		ResetURL: s.config.AppURL + "/reset-password?token=" + token,
	}
	html, err := renderTemplate(passwordResetEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render password reset template: %w", err)
	}
	return s.SendHTMLEmail([]string{to}, "Reset your "+appName+" password", html)
}

// SendSupplierInvitation invites a seller onboarded by a buyer.
func (s *Service) SendSupplierInvitation(to, supplierName, buyerName, companyName, token string) error {
	data := SupplierInvitationData{
		AppName:       appName,
		SupplierName:  supplierName,
		BuyerName:     buyerName,
		CompanyName:   companyName,
		InvitationURL: s.config.AppURL + "/accept-invitation?token=" + token,
	}
	html, err := renderTemplate(supplierInvitationTemplate, data)
	if err != nil {
		return fmt.Errorf("render invitation template: %w", err)
	}
	return s.SendHTMLEmail([]string{to}, fmt.Sprintf("%s invited you to submit quotations on %s", buyerName, appName), html)
}

// SendNewVersionNotification tells the onboarding buyer a supplier uploaded a
// new quotation revision.
func (s *Service) SendNewVersionNotification(to, buyerName, supplierName, documentNumber, title, version, quotationID string) error {
	data := NewVersionData{
		AppName:        appName,
		BuyerName:      buyerName,
		SupplierName:   supplierName,
		DocumentNumber: documentNumber,
		Title:          title,
		Version:        version,
		QuotationURL:   s.config.AppURL + "/quotations/" + quotationID,
	}
	html, err := renderTemplate(newVersionEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render new version template: %w", err)
	}
	return s.SendHTMLEmail([]string{to}, fmt.Sprintf("New version %s of quotation %s", version, documentNumber), html)
}

// SendStatusChangeNotification tells the supplier the review status moved.
func (s *Service) SendStatusChangeNotification(to, supplierName, documentNumber, title, oldStatus, newStatus, comment, quotationID string) error {
	data := StatusChangeData{
		AppName:        appName,
		SupplierName:   supplierName,
		DocumentNumber: documentNumber,
		Title:          title,
		OldStatus:      oldStatus,
		NewStatus:      newStatus,
		Comment:        comment,
		QuotationURL:   s.config.AppURL + "/quotations/" + quotationID,
	}
	html, err := renderTemplate(statusChangeEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render status change template: %w", err)
	}
	return s.SendHTMLEmail([]string{to}, fmt.Sprintf("Quotation %s is now %s", documentNumber, newStatus), html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const emailStyles = `body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #0066cc; }
        .meta { background: #f5f7fa; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .warning { background: #fff3cd; padding: 12px; border-radius: 4px; margin: 20px 0; }`

const verificationEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Verify your {{.AppName}} account</title>
    <style>` + emailStyles + `</style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Welcome, {{.UserName}}!</h2>

    <p>Thank you for signing up. Please verify your email address to activate your account.</p>

    <p>
        <a href="{{.VerificationURL}}" class="button">Verify Email Address</a>
    </p>

    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.VerificationURL}}</p>

    <p>This verification link will expire in 24 hours.</p>

    <div class="footer">
        <p>If you didn't create an account with {{.AppName}}, you can safely ignore this email.</p>
    </div>
</body>
</html>`

const passwordResetEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Reset your {{.AppName}} password</title>
    <style>` + emailStyles + `</style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Password Reset Request</h2>

    <p>Hi {{.UserName}},</p>

    <p>We received a request to reset your password. Click the button below to create a new password:</p>

    <p>
        <a href="{{.ResetURL}}" class="button">Reset Password</a>
    </p>

    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.ResetURL}}</p>

    <div class="warning">
        <strong>Important:</strong> This reset link will expire in 1 hour.
    </div>

    <div class="footer">
        <p>If you didn't request a password reset, you can safely ignore this email. Your password will remain unchanged.</p>
    </div>
</body>
</html>`

const supplierInvitationTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>You're invited to {{.AppName}}</title>
    <style>` + emailStyles + `</style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Hello {{.SupplierName}},</h2>

    <p>{{.BuyerName}}{{if .CompanyName}} ({{.CompanyName}}){{end}} has invited you to submit quotations through {{.AppName}}.</p>

    <p>
        <a href="{{.InvitationURL}}" class="button">Accept Invitation</a>
    </p>

    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.InvitationURL}}</p>

    <div class="warning">
        <strong>Note:</strong> This invitation will expire in 7 days.
    </div>

    <div class="footer">
        <p>If you weren't expecting this invitation, you can safely ignore this email.</p>
    </div>
</body>
</html>`

const newVersionEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>New quotation version</title>
    <style>` + emailStyles + `</style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Hi {{.BuyerName}},</h2>

    <p>{{.SupplierName}} has uploaded version <strong>{{.Version}}</strong> of a quotation.</p>

    <div class="meta">
        <p><strong>Document:</strong> {{.DocumentNumber}}</p>
        <p><strong>Title:</strong> {{.Title}}</p>
        <p><strong>Version:</strong> {{.Version}}</p>
    </div>

    <p>
        <a href="{{.QuotationURL}}" class="button">Review Quotation</a>
    </p>

    <div class="footer">
        <p>You are receiving this because you onboarded {{.SupplierName}} on {{.AppName}}.</p>
    </div>
</body>
</html>`

const statusChangeEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Quotation status update</title>
    <style>` + emailStyles + `</style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Hi {{.SupplierName}},</h2>

    <p>The status of your quotation has changed from <strong>{{.OldStatus}}</strong> to <strong>{{.NewStatus}}</strong>.</p>

    <div class="meta">
        <p><strong>Document:</strong> {{.DocumentNumber}}</p>
        <p><strong>Title:</strong> {{.Title}}</p>
        {{if .Comment}}<p><strong>Reviewer comment:</strong> {{.Comment}}</p>{{end}}
    </div>

    <p>
        <a href="{{.QuotationURL}}" class="button">View Quotation</a>
    </p>

    <div class="footer">
        <p>You are receiving this because you submitted this quotation on {{.AppName}}.</p>
    </div>
</body>
</html>`
