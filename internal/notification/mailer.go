// Package notification emails operator reports and runs periodic background jobs.
package notification

import (
	"context"
	"fmt"

	"ExpeditionFlow/internal/config"

	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

type Mailer interface {
	Send(ctx context.Context, to []string, subject, html string) error
}

// NewMailer picks Resend when an API key is configured, SMTP when a host is, and a
// logging no-op otherwise.
func NewMailer(cfg *config.Config, log *zap.Logger) Mailer {
	switch {
	case cfg.Mail.ResendAPIKey != "":
		log.Info("email service initialized", zap.String("provider", "resend"))
		return NewResendMailer(cfg.Mail.ResendAPIKey, cfg.Mail.From)
	case cfg.Mail.SMTPHost != "":
		log.Info("email service initialized", zap.String("provider", "smtp"))
		return &SMTPMailer{
			dialer: gomail.NewDialer(cfg.Mail.SMTPHost, cfg.Mail.SMTPPort, cfg.Mail.SMTPUser, cfg.Mail.SMTPPassword),
			from:   cfg.Mail.From,
		}
	default:
		log.Warn("no email provider configured, reports are only logged")
		return NopMailer{log: log}
	}
}

type ResendMailer struct {
	client *resend.Client
	from   string
}

func NewResendMailer(apiKey, from string) *ResendMailer {
	return &ResendMailer{client: resend.NewClient(apiKey), from: from}
}

func (m *ResendMailer) Send(ctx context.Context, to []string, subject, html string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := m.client.Emails.Send(&resend.SendEmailRequest{
		From:    m.from,
		To:      to,
		Subject: subject,
		Html:    html,
	})
	if err != nil {
		return fmt.Errorf("send email via resend: %w", err)
	}
	return nil
}

type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func (m *SMTPMailer) Send(ctx context.Context, to []string, subject, html string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", html)
	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send email via smtp: %w", err)
	}
	return nil
}

type NopMailer struct {
	log *zap.Logger
}

func (m NopMailer) Send(_ context.Context, to []string, subject, _ string) error {
	if m.log != nil {
		m.log.Info("email not sent, no provider", zap.Strings("to", to), zap.String("subject", subject))
	}
	return nil
}
