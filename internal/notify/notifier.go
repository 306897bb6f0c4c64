package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dushixiang/kpimon/internal/config"
	"github.com/dushixiang/kpimon/internal/models"
	"github.com/valyala/fasttemplate"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// Event 事件状态变化
type Event struct {
	Status    string // opened / resolved
	Asset     *models.Asset
	Indicator *models.Indicator
	Incident  *models.Incident
	At        time.Time
}

// Notifier 事件通知
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Sender 发送渲染好的邮件
type Sender interface {
	Send(ctx context.Context, from string, to []string, subject, body string) error
}

// SMTPSender 通过 SMTP 发送
type SMTPSender struct {
	dialer *gomail.Dialer
}

func NewSMTPSender(host string, port int, username, password string) *SMTPSender {
	return &SMTPSender{dialer: gomail.NewDialer(host, port, username, password)}
}

func (s *SMTPSender) Send(ctx context.Context, from string, to []string, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EmailNotifier 使用模板渲染事件并发送邮件
type EmailNotifier struct {
	logger  *zap.Logger
	sender  Sender
	from    string
	to      []string
	subject *fasttemplate.Template
	body    *fasttemplate.Template
}

// NewEmailNotifier 创建邮件通知，模板占位符为 {{name}}
func NewEmailNotifier(logger *zap.Logger, cfg config.NotifyConfig, sender Sender) (*EmailNotifier, error) {
	if sender == nil {
		sender = NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.Username, cfg.Password)
	}
	subject, err := fasttemplate.NewTemplate(cfg.Subject, "{{", "}}")
	if err != nil {
		return nil, fmt.Errorf("invalid subject template: %w", err)
	}
	body, err := fasttemplate.NewTemplate(cfg.Body, "{{", "}}")
	if err != nil {
		return nil, fmt.Errorf("invalid body template: %w", err)
	}
	return &EmailNotifier{
		logger:  logger,
		sender:  sender,
		from:    cfg.From,
		to:      cfg.To,
		subject: subject,
		body:    body,
	}, nil
}

// Render 渲染邮件标题和正文
func (n *EmailNotifier) Render(event Event) (string, string) {
	values := fields(event)
	return n.subject.ExecuteString(values), n.body.ExecuteString(values)
}

func (n *EmailNotifier) Notify(ctx context.Context, event Event) error {
	if len(n.to) == 0 {
		return nil
	}
	subject, body := n.Render(event)
	if err := n.sender.Send(ctx, n.from, n.to, subject, body); err != nil {
		return fmt.Errorf("send incident mail: %w", err)
	}
	n.logger.Info("事件通知已发送",
		zap.String("status", event.Status),
		zap.Strings("to", n.to),
		zap.String("subject", subject))
	return nil
}

func fields(event Event) map[string]interface{} {
	values := map[string]interface{}{
		"status": strings.ToUpper(event.Status),
		"time":   event.At.Format(time.RFC3339),
	}
	if a := event.Asset; a != nil {
		values["asset"] = a.Name
		values["url"] = a.URL
	}
	if k := event.Indicator; k != nil {
		values["indicator"] = k.Name
		values["code"] = k.Code
	}
	if i := event.Incident; i != nil {
		values["title"] = i.Title
		values["description"] = i.Description
		values["severity"] = string(i.Severity)
		values["assignedTo"] = i.AssignedTo
		values["incidentId"] = i.ID
	}
	for _, key := range []string{"asset", "url", "indicator", "code", "title", "description", "severity", "assignedTo", "incidentId"} {
		if _, ok := values[key]; !ok {
			values[key] = ""
		}
	}
	return values
}
