package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stanstork/his-notify/internal/config"
	"github.com/stanstork/his-notify/internal/models"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier mails notifications at or above a priority threshold to the
// on-call recipients.
type EmailNotifier struct {
	host        string
	port        int
	username    string
	password    string
	from        string
	recipients  []string
	minPriority models.NotificationPriority
	sendMail    sendMailFunc
	logger      zerolog.Logger
}

func NewEmailNotifier(cfg config.EmailConfig, logger zerolog.Logger) (*EmailNotifier, error) {
	recipients := sanitizeRecipients(cfg.AlertRecipients)
	host := strings.TrimSpace(cfg.SMTPHost)
	from := strings.TrimSpace(cfg.From)
	if host == "" {
		return nil, fmt.Errorf("smtp_host is required for email notifier")
	}
	if from == "" {
		return nil, fmt.Errorf("from is required for email notifier")
	}
	port := cfg.SMTPPort
	if port == 0 {
		port = 587
	}
	minPriority := models.NotificationPriority(strings.ToLower(strings.TrimSpace(cfg.MinPriority)))
	if minPriority == "" {
		minPriority = models.PriorityUrgent
	}
	if !minPriority.IsValid() {
		return nil, fmt.Errorf("unknown email min_priority %q", cfg.MinPriority)
	}

	return &EmailNotifier{
		host:        host,
		port:        port,
		username:    strings.TrimSpace(cfg.Username),
		password:    cfg.Password,
		from:        from,
		recipients:  recipients,
		minPriority: minPriority,
		sendMail:    smtp.SendMail,
		logger:      logger.With().Str("notifier", "email").Logger(),
	}, nil
}

func (n *EmailNotifier) Notify(_ context.Context, notif models.Notification) error {
	if len(n.recipients) == 0 || notif.IsSystem || !notif.Priority.AtLeast(n.minPriority) {
		return nil
	}

	subject := fmt.Sprintf("[HIS] %s", strings.TrimSpace(notif.Title))
	if subject == "[HIS] " {
		subject = "[HIS] " + notif.Type.Label()
	}

	n.logger.Debug().Str("notification_id", notif.ID).Msg("composing email notification")
	message := []byte(n.headers(subject) + composeBody(notif))
	addr := fmt.Sprintf("%s:%d", n.host, n.port)

	var auth smtp.Auth
	if n.username != "" {
		auth = smtp.PlainAuth("", n.username, n.password, n.host)
	}

	if err := n.sendMail(addr, auth, n.from, n.recipients, message); err != nil {
		return err
	}

	n.logger.Info().
		Str("notification_id", notif.ID).
		Str("type", string(notif.Type)).
		Strs("recipients", n.recipients).
		Msg("email notification sent")
	return nil
}

func (n *EmailNotifier) headers(subject string) string {
	return fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n",
		n.from, strings.Join(n.recipients, ","), subject)
}

func composeBody(notif models.Notification) string {
	body := strings.Builder{}
	body.WriteString(strings.TrimSpace(notif.Message))
	body.WriteString("\n\n")
	body.WriteString(fmt.Sprintf("Type: %s\n", notif.Type.Label()))
	body.WriteString(fmt.Sprintf("Priority: %s\n", notif.Priority))
	body.WriteString(fmt.Sprintf("Created: %s\n", notif.CreatedAt.Format("2006-01-02 15:04:05 MST")))
	if notif.ActionURL != "" {
		body.WriteString(fmt.Sprintf("Link: %s\n", notif.ActionURL))
	}
	if len(notif.Metadata) > 0 {
		keys := make([]string, 0, len(notif.Metadata))
		for k := range notif.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			body.WriteString(fmt.Sprintf("%s: %v\n", k, notif.Metadata[k]))
		}
	}
	return body.String()
}

func (n *EmailNotifier) String() string {
	return "EmailNotifier"
}
