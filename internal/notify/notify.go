package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/natours/authserver/types"
	"github.com/sirupsen/logrus"
)

const (
	TemplateWelcome       = "welcome"
	TemplatePasswordReset = "passwordReset"

	SubjectWelcome       = "Welcome to the Natours Family!"
	SubjectPasswordReset = "Your password reset token (valid for only 10 minutes)"
)

// Email is the message handed to the mailer worker.
type Email struct {
	To        string `json:"to"`
	FirstName string `json:"first_name"`
	Template  string `json:"template"`
	Subject   string `json:"subject"`
	URL       string `json:"url"`
}

// NewEmail builds an Email addressed to user.
func NewEmail(user types.User, template, subject, url string) Email {
	return Email{
		To:        user.Email,
		FirstName: FirstName(user.Name),
		Template:  template,
		Subject:   subject,
		URL:       url,
	}
}

// FirstName returns the first word of a full name.
func FirstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Publisher is the part of the message queue the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// QueueNotifier publishes emails to a queue consumed by the mailer.
type QueueNotifier struct {
	publisher Publisher
	channel   string
	from      string
	logger    logrus.FieldLogger
}

func NewQueueNotifier(publisher Publisher, channel, from string, logger logrus.FieldLogger) (*QueueNotifier, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if strings.TrimSpace(channel) == "" {
		return nil, errors.New("email channel is required")
	}
	return &QueueNotifier{publisher: publisher, channel: channel, from: from, logger: logger}, nil
}

func (n *QueueNotifier) SendWelcome(ctx context.Context, user types.User, url string) error {
	return n.send(ctx, NewEmail(user, TemplateWelcome, SubjectWelcome, url))
}

func (n *QueueNotifier) SendPasswordReset(ctx context.Context, user types.User, url string) error {
	return n.send(ctx, NewEmail(user, TemplatePasswordReset, SubjectPasswordReset, url))
}

func (n *QueueNotifier) send(ctx context.Context, email Email) error {
	payload, err := json.Marshal(email)
	if err != nil {
		return fmt.Errorf("encode email: %w", err)
	}
	attrs := map[string]string{"template": email.Template}
	if n.from != "" {
		attrs["from"] = n.from
	}
	id, err := n.publisher.Publish(ctx, n.channel, payload, attrs)
	if err != nil {
		return fmt.Errorf("publish %s email: %w", email.Template, err)
	}
	if n.logger != nil {
		n.logger.WithFields(logrus.Fields{
			"message_id": id,
			"template":   email.Template,
			"channel":    n.channel,
		}).Debug("email queued")
	}
	return nil
}

// LogNotifier writes emails to the log instead of sending them.
type LogNotifier struct {
	logger logrus.FieldLogger
	from   string
}

func NewLogNotifier(logger logrus.FieldLogger, from string) *LogNotifier {
	return &LogNotifier{logger: logger, from: from}
}

func (n *LogNotifier) SendWelcome(_ context.Context, user types.User, url string) error {
	n.log(NewEmail(user, TemplateWelcome, SubjectWelcome, url))
	return nil
}

func (n *LogNotifier) SendPasswordReset(_ context.Context, user types.User, url string) error {
	n.log(NewEmail(user, TemplatePasswordReset, SubjectPasswordReset, url))
	return nil
}

func (n *LogNotifier) log(email Email) {
	n.logger.WithFields(logrus.Fields{
		"from":       n.from,
		"to":         email.To,
		"first_name": email.FirstName,
		"template":   email.Template,
		"subject":    email.Subject,
		"url":        email.URL,
	}).Info("email not sent, no message queue configured")
}
