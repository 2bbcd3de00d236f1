package auth

import (
	"fmt"
	"net/smtp"

	"finchart-app/config"
	"finchart-app/pkg/logging"
)

// Emailer sends account emails over plain SMTP. Without SMTP_HOST
// configured it logs the links instead, which is what you want during
// local development.
type Emailer struct {
	host     string
	port     string
	username string
	password string
	from     string
}

func NewEmailerFromConfig() *Emailer {
	return &Emailer{
		host:     config.SMTP_HOST,
		port:     config.SMTP_PORT,
		username: config.SMTP_USER,
		password: config.SMTP_PASS,
		from:     config.SMTP_FROM,
	}
}

func (e *Emailer) SendVerification(to, token string) error {
	link := fmt.Sprintf("%s/verify?token=%s", config.APP_URL, token)
	body := fmt.Sprintf("Welcome to FinChart!\n\nClick the following link to verify your account:\n\n%s\n", link)
	return e.send(to, "Verify your FinChart account", body, link)
}

func (e *Emailer) SendPasswordReset(to, token string) error {
	link := fmt.Sprintf("%s/reset-password?token=%s", config.FRONTEND_URL, token)
	body := fmt.Sprintf("A password reset was requested for your FinChart account.\n\nReset it here:\n\n%s\n\nIf this wasn't you, you can ignore this email.\n", link)
	return e.send(to, "Reset your FinChart password", body, link)
}

func (e *Emailer) send(to, subject, body, link string) error {
	if e.host == "" {
		logging.Infof("smtp not configured, link for %s: %s", to, link)
		return nil
	}

	message := []byte("Subject: " + subject + "\r\n" +
		"From: " + e.from + "\r\n" +
		"To: " + to + "\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" +
		body + "\r\n")

	auth := smtp.PlainAuth("", e.username, e.password, e.host)
	if err := smtp.SendMail(e.host+":"+e.port, auth, e.from, []string{to}, message); err != nil {
		logging.Errorf("smtp send to %s failed: %v", to, err)
		return err
	}
	return nil
}
