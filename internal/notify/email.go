package notify

import (
	"context"
	"crypto/tls"
	"fmt"

	"mcs-iot/internal/models"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

const (
	defaultSMTPHost = "smtp.qq.com"
	defaultSMTPPort = 465
)

// Dialer 邮件发送连接
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// DialerFactory 根据 SMTP 配置创建连接
type DialerFactory func(host string, port int, username, password string) Dialer

// NewSMTPDialer 默认 SMTP 连接，465 端口使用隐式 TLS
func NewSMTPDialer(host string, port int, username, password string) Dialer {
	d := gomail.NewDialer(host, port, username, password)
	d.SSL = port == defaultSMTPPort
	d.TLSConfig = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	return d
}

// Email 邮件通知
type Email struct {
	dial   DialerFactory
	logger *zap.Logger
}

// NewEmail 创建邮件通知；dial 为空时使用 NewSMTPDialer
func NewEmail(dial DialerFactory, logger *zap.Logger) *Email {
	if dial == nil {
		dial = NewSMTPDialer
	}
	return &Email{
		dial:   dial,
		logger: logger,
	}
}

// Send 发送报警邮件
func (e *Email) Send(ctx context.Context, cfg models.EmailConfig, msg Message) error {
	if cfg.Sender == "" || cfg.Password == "" || len(cfg.Receivers) == 0 {
		return ErrNotConfigured
	}
	host := cfg.SMTPHost
	if host == "" {
		host = defaultSMTPHost
	}
	port := cfg.SMTPPort
	if port == 0 {
		port = defaultSMTPPort
	}

	m := gomail.NewMessage()
	m.SetHeader("From", cfg.Sender)
	m.SetHeader("To", cfg.Receivers...)
	m.SetHeader("Subject", msg.Subject())
	m.SetBody("text/plain", msg.Text())

	// gomail 不支持 context，在独立协程中发送并等待取消
	done := make(chan error, 1)
	go func() {
		done <- e.dial(host, port, cfg.Sender, cfg.Password).DialAndSend(m)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send email via %s:%d: %w", host, port, err)
		}
	case <-ctx.Done():
		return fmt.Errorf("email send aborted: %w", ctx.Err())
	}

	e.logger.Info("Email sent",
		zap.String("sn", msg.SN),
		zap.Strings("receivers", cfg.Receivers),
	)
	return nil
}
