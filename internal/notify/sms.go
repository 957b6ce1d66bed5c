package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"mcs-iot/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// smsRequest 短信网关请求
type smsRequest struct {
	AccessKey  string            `json:"access_key"`
	SignName   string            `json:"sign_name"`
	TemplateID string            `json:"template_id"`
	Phones     []string          `json:"phones"`
	Params     map[string]string `json:"params"`
	Timestamp  int64             `json:"timestamp"`
	Signature  string            `json:"signature"`
}

// SMS 短信通知（通过 HTTP 短信网关发送模板短信）
type SMS struct {
	client *resty.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewSMS 创建短信通知
func NewSMS(timeout time.Duration, logger *zap.Logger) *SMS {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &SMS{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// Send 发送模板短信；网关或号码未配置时返回 ErrNotConfigured
func (s *SMS) Send(ctx context.Context, cfg models.SMSConfig, msg Message) error {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || len(cfg.Phones) == 0 {
		return ErrNotConfigured
	}

	ts := s.now().Unix()
	req := smsRequest{
		AccessKey:  cfg.AccessKey,
		SignName:   cfg.SignName,
		TemplateID: cfg.TemplateID,
		Phones:     cfg.Phones,
		Params: map[string]string{
			"device": msg.DeviceName,
			"sn":     msg.SN,
			"type":   string(msg.Kind),
			"value":  strconv.FormatFloat(msg.Value, 'f', 2, 64),
			"time":   msg.TriggeredAt.Local().Format(timeLayout),
		},
		Timestamp: ts,
		Signature: smsSignature(cfg.AccessKey, cfg.SecretKey, ts),
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		Post(cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to call sms gateway: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("sms gateway returned status %d: %s", resp.StatusCode(), resp.String())
	}
	if err := checkVendorResponse(resp.Body()); err != nil {
		return fmt.Errorf("sms gateway rejected message: %w", err)
	}

	s.logger.Info("SMS sent",
		zap.String("sn", msg.SN),
		zap.Int("phones", len(cfg.Phones)),
	)
	return nil
}

// smsSignature HMAC-SHA256(secret, access_key + timestamp)，hex
func smsSignature(accessKey, secretKey string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(accessKey + strconv.FormatInt(ts, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
