package mail

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

const (
	sendGridHost     = "https://api.sendgrid.com"
	sendGridEndpoint = "/v3/mail/send"
)

// Message is an outbound e-mail.
type Message struct {
	To       string
	ToName   string
	Subject  string
	Text     string
	HTML     string
	Category string
}

// Sender delivers e-mail messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SendGridSender delivers messages through the SendGrid v3 API.
type SendGridSender struct {
	key        string
	from       *sgmail.Email
	subjPrefix string
	host       string
	logger     *zap.Logger
}

// NewSender returns a SendGrid sender when apiKey is set, otherwise a LogSender.
func NewSender(apiKey, appName, fromEmail string, logger *zap.Logger) Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(apiKey) == "" {
		return &LogSender{logger: logger}
	}
	return &SendGridSender{
		key:        apiKey,
		from:       sgmail.NewEmail(appName, fromEmail),
		subjPrefix: "[" + appName + "] ",
		host:       sendGridHost,
		logger:     logger,
	}
}

// Send posts msg to SendGrid. Responses of 400 and above are errors.
func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req := sendgrid.GetRequest(s.key, sendGridEndpoint, s.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(msg))

	res, err := sendgrid.API(req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("send mail: sendgrid status %d", res.StatusCode)
	}
	s.logger.Debug("mail sent", zap.String("category", msg.Category), zap.Int("status", res.StatusCode))
	return nil
}

func (s *SendGridSender) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = s.subjPrefix + msg.Subject
	p.AddTos(sgmail.NewEmail(msg.ToName, msg.To))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", msg.Text))
	if msg.HTML != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTML))
	}
	if msg.Category != "" {
		m.AddCategories(msg.Category)
	}
	return m
}

// LogSender writes messages to the log instead of delivering them. Used in development.
type LogSender struct {
	logger *zap.Logger
}

// Send logs the message.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("mail not delivered, no provider configured",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("category", msg.Category),
		zap.String("body", msg.Text),
	)
	return nil
}
