package clients

import (
	"context"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/vaidashi/storefront-api/internal/config"
	apperrors "github.com/vaidashi/storefront-api/pkg/errors"
	"github.com/vaidashi/storefront-api/pkg/logger"
)

// Mailer sends HTML email over SMTP
type Mailer struct {
	cfg    config.SMTPConfig
	logger logger.Logger
	dial   func(ctx context.Context, msg *mail.Msg) error
}

func NewMailer(cfg config.SMTPConfig, logger logger.Logger) *Mailer {
	m := &Mailer{
		cfg:    cfg,
		logger: logger,
	}
	m.dial = m.dialAndSend

	return m
}

// Send delivers one message. Address problems are permanent, transport problems are retryable.
func (m *Mailer) Send(ctx context.Context, to, subject, html string) error {
	msg, err := m.buildMessage(to, subject, html)

	if err != nil {
		return apperrors.NewValidationError(err.Error())
	}

	if err := m.dial(ctx, msg); err != nil {
		m.logger.Warn("Failed to send email", "error", err, "to", to, "subject", subject)
		return apperrors.NewTemporaryError(fmt.Sprintf("smtp delivery failed: %v", err))
	}

	m.logger.Info("Email sent", "to", to, "subject", subject)
	return nil
}

func (m *Mailer) buildMessage(to, subject, html string) (*mail.Msg, error) {
	msg := mail.NewMsg()

	if err := msg.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}

	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}

	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, html)

	return msg, nil
}

func (m *Mailer) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(tlsPolicy(m.cfg.TLS)),
		mail.WithTimeout(m.cfg.Timeout),
	}

	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)

	if err != nil {
		return err
	}

	return client.DialAndSendWithContext(ctx, msg)
}

func tlsPolicy(raw string) mail.TLSPolicy {
	switch strings.ToLower(raw) {
	case "mandatory", "starttls":
		return mail.TLSMandatory
	case "none", "off":
		return mail.NoTLS
	default:
		return mail.TLSOpportunistic
	}
}
