// Package mail delivers the password-reset emails. Applications run the SMTP
// sender in production and the console sender in development.
package mail

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// Sender delivers account emails.
type Sender interface {
	SendPasswordResetEmail(to, resetLink string) error
	SendPasswordChangedEmail(to string) error
}

// SMTPSender sends mail through an SMTP relay with STARTTLS.
type SMTPSender struct {
	addr string
	auth smtp.Auth
	from string
}

// NewSMTPSender creates a sender for the given relay.
func NewSMTPSender(server string, port int, user, password string) *SMTPSender {
	return &SMTPSender{
		addr: fmt.Sprintf("%s:%d", server, port),
		auth: smtp.PlainAuth("", user, password, server),
		from: user,
	}
}

func (s *SMTPSender) SendPasswordResetEmail(to, resetLink string) error {
	body := strings.Join([]string{
		"You requested a password reset. Open the link below to continue:",
		"",
		resetLink,
		"",
		"This link is valid for 15 minutes.",
		"If you did not request a password reset, ignore this email.",
	}, "\r\n")
	return s.send(to, "Reset your password", body)
}

func (s *SMTPSender) SendPasswordChangedEmail(to string) error {
	body := strings.Join([]string{
		"Your password was reset successfully. You can now log in with your new password.",
		"",
		"If you did not perform this action, change your password immediately.",
	}, "\r\n")
	return s.send(to, "Your password was changed", body)
}

func (s *SMTPSender) send(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		s.from, to, subject, body)
	if err := smtp.SendMail(s.addr, s.auth, s.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

// ConsoleSender logs emails instead of sending them.
type ConsoleSender struct{}

func (ConsoleSender) SendPasswordResetEmail(to, resetLink string) error {
	slog.Info("password reset email", "to", to, "reset_link", resetLink)
	return nil
}

func (ConsoleSender) SendPasswordChangedEmail(to string) error {
	slog.Info("password changed email", "to", to)
	return nil
}
