package mail

import (
	"bytes"
	"fmt"
	htmlTemplate "html/template"
	"path/filepath"
	textTemplate "text/template"

	"github.com/campuskit/authcore/config"
	"github.com/campuskit/authcore/services/logging"
	"github.com/google/uuid"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Service is the email delivery collaborator: it renders templates and hands
// messages to SMTP. The auth core only records the status it returns.
type Service struct {
	config        *config.MailConfig
	client        *mail.Client
	htmlTemplates *htmlTemplate.Template
	textTemplates *textTemplate.Template
	logger        *logging.Service
}

func NewService(cfg *config.MailConfig, logger *logging.Service) (*Service, error) {
	if cfg.FromAddress == "" {
		if logger != nil {
			logger.Error("mail service initialization failed: FROM_ADDRESS is required")
		}
		return nil, fmt.Errorf("AUTHCORE_MAIL_FROM_ADDRESS is required")
	}

	clientOpts := []mail.Option{
		mail.WithPort(cfg.Port),
	}

	switch cfg.Encryption {
	case "ssl":
		clientOpts = append(clientOpts, mail.WithSSL())
	case "none":
		clientOpts = append(clientOpts, mail.WithTLSPortPolicy(mail.NoTLS))
	default:
		clientOpts = append(clientOpts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	}

	if cfg.Username != "" {
		clientOpts = append(clientOpts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username))
	}
	if cfg.Password != "" {
		clientOpts = append(clientOpts, mail.WithPassword(cfg.Password))
	}

	client, err := mail.NewClient(cfg.Host, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}

	service := &Service{
		config: cfg,
		client: client,
		logger: logger,
	}

	if err := service.loadTemplates(); err != nil {
		return nil, fmt.Errorf("failed to load mail templates: %w", err)
	}

	if logger != nil {
		logger.Info("mail service initialized",
			zap.String("host", cfg.Host),
			zap.Int("port", cfg.Port),
			zap.String("from_address", cfg.FromAddress))
	}

	return service, nil
}

func (s *Service) loadTemplates() error {
	if s.config.TemplatesDir == "" {
		return nil
	}

	htmlPattern := filepath.Join(s.config.TemplatesDir, "*.html")
	if matches, _ := filepath.Glob(htmlPattern); len(matches) > 0 {
		parsed, err := htmlTemplate.ParseGlob(htmlPattern)
		if err != nil {
			return fmt.Errorf("failed to parse HTML templates: %w", err)
		}
		s.htmlTemplates = parsed
	}

	textPattern := filepath.Join(s.config.TemplatesDir, "*.txt")
	if matches, _ := filepath.Glob(textPattern); len(matches) > 0 {
		parsed, err := textTemplate.ParseGlob(textPattern)
		if err != nil {
			return fmt.Errorf("failed to parse text templates: %w", err)
		}
		s.textTemplates = parsed
	}

	return nil
}

func (s *Service) SendTemplate(templateName string, to []string, subject string, data map[string]any) error {
	message := mail.NewMsg()

	fromAddr := s.config.FromAddress
	if s.config.FromName != "" {
		fromAddr = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.FromAddress)
	}
	if err := message.From(fromAddr); err != nil {
		return fmt.Errorf("failed to set FROM address: %w", err)
	}
	if err := message.To(to...); err != nil {
		return fmt.Errorf("failed to set TO addresses: %w", err)
	}
	message.Subject(subject)

	rendered := false
	if s.htmlTemplates != nil {
		if tmpl := s.htmlTemplates.Lookup(templateName + ".html"); tmpl != nil {
			var buf bytes.Buffer
			if err := tmpl.Execute(&buf, data); err != nil {
				return fmt.Errorf("failed to render HTML template: %w", err)
			}
			message.SetBodyString(mail.TypeTextHTML, buf.String())
			rendered = true
		}
	}
	if s.textTemplates != nil {
		if tmpl := s.textTemplates.Lookup(templateName + ".txt"); tmpl != nil {
			var buf bytes.Buffer
			if err := tmpl.Execute(&buf, data); err != nil {
				return fmt.Errorf("failed to render text template: %w", err)
			}
			if rendered {
				message.AddAlternativeString(mail.TypeTextPlain, buf.String())
			} else {
				message.SetBodyString(mail.TypeTextPlain, buf.String())
			}
			rendered = true
		}
	}
	if !rendered {
		return fmt.Errorf("mail template %q not found", templateName)
	}

	if err := s.client.DialAndSend(message); err != nil {
		if s.logger != nil {
			s.logger.Error("failed to send email",
				zap.String("template", templateName),
				zap.Error(err))
		}
		return err
	}

	if s.logger != nil {
		s.logger.Info("email sent",
			zap.String("template", templateName),
			zap.Int("recipients", len(to)))
	}

	return nil
}

// Deliver implements the OTP engine's delivery collaborator for the email
// channel. SMS recipients are not deliverable from here.
func (s *Service) Deliver(channel, recipient string, payload map[string]string) (string, error) {
	if channel != "email" {
		return "", fmt.Errorf("unsupported delivery channel: %s", channel)
	}

	data := map[string]any{
		"Code":    payload["code"],
		"Purpose": payload["purpose"],
		"Expiry":  payload["expiry"],
	}

	if err := s.SendTemplate("otp_code", []string{recipient}, "Your verification code", data); err != nil {
		return "", err
	}

	return uuid.NewString(), nil
}

func (s *Service) SendPasswordReset(recipient, resetURL, expiry string) error {
	data := map[string]any{
		"ResetURL": resetURL,
		"Expiry":   expiry,
	}
	return s.SendTemplate("password_reset", []string{recipient}, "Password Reset Request", data)
}
