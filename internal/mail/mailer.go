package mail

import (
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/campusreg/enroll-api/pkg/config"
)

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers invitation and onboarding mail over SMTP. Delivery is
// fire-and-forget: callers enqueue through the jobs queue and never block a
// request on the outcome.
type Mailer struct {
	cfg    config.MailConfig
	logger *zap.Logger
}

// NewMailer constructs a Mailer.
func NewMailer(cfg config.MailConfig, logger *zap.Logger) *Mailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailer{cfg: cfg, logger: logger}
}

// Send delivers a single message. Disabled mailers log and drop.
func (m *Mailer) Send(msg Message) error {
	if !m.cfg.Enabled {
		m.logger.Debug("mail disabled, dropping message", zap.String("to", msg.To), zap.String("subject", msg.Subject))
		return nil
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	payload := buildPayload(m.cfg.From, msg)
	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{msg.To}, payload); err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}
	return nil
}

// InvitationBody renders the invite mail body with the acceptance link.
func InvitationBody(acceptURLBase, token string) string {
	link := acceptURLBase
	if strings.Contains(link, "?") {
		link += "&token=" + token
	} else {
		link += "?token=" + token
	}
	return "You have been invited to the enrollment office.\r\n\r\n" +
		"Follow the link below to complete your registration:\r\n" + link + "\r\n"
}

func buildPayload(from string, msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(msg.Body)
	return []byte(b.String())
}
