package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mcs-iot/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// DetectPlatform custom 平台按 URL 域名识别钉钉 / 飞书 / 企业微信
func DetectPlatform(platform, rawURL string) string {
	if platform != "" && platform != models.PlatformCustom {
		return platform
	}
	switch {
	case strings.Contains(rawURL, "dingtalk.com"):
		return models.PlatformDingTalk
	case strings.Contains(rawURL, "feishu.cn"):
		return models.PlatformFeishu
	case strings.Contains(rawURL, "qyapi.weixin.qq.com"):
		return models.PlatformWeCom
	default:
		return models.PlatformCustom
	}
}

// Webhook 群机器人通知
type Webhook struct {
	client *resty.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewWebhook 创建群机器人通知
func NewWebhook(timeout time.Duration, logger *zap.Logger) *Webhook {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Webhook{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// Send 按平台格式推送报警
func (w *Webhook) Send(ctx context.Context, cfg models.WebhookConfig, msg Message) error {
	if cfg.URL == "" {
		return ErrNotConfigured
	}

	platform := DetectPlatform(cfg.Platform, cfg.URL)
	target, payload := w.build(platform, cfg, msg.Text())

	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(target)
	if err != nil {
		return fmt.Errorf("failed to call %s webhook: %w", platform, err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("%s webhook returned status %d: %s", platform, resp.StatusCode(), resp.String())
	}
	if err := checkVendorResponse(resp.Body()); err != nil {
		return fmt.Errorf("%s webhook rejected message: %w", platform, err)
	}

	w.logger.Info("Webhook notification sent",
		zap.String("sn", msg.SN),
		zap.String("platform", platform),
	)
	return nil
}

// build 生成请求地址和消息体
func (w *Webhook) build(platform string, cfg models.WebhookConfig, text string) (string, map[string]interface{}) {
	now := w.now()
	target := cfg.URL

	switch platform {
	case models.PlatformDingTalk:
		if cfg.Secret != "" {
			ts := strconv.FormatInt(now.UnixMilli(), 10)
			sep := "&"
			if !strings.Contains(target, "?") {
				sep = "?"
			}
			target = fmt.Sprintf("%s%stimestamp=%s&sign=%s", target, sep, ts, url.QueryEscape(dingTalkSign(ts, cfg.Secret)))
		}
		return target, map[string]interface{}{
			"msgtype": "text",
			"text":    map[string]string{"content": text},
		}

	case models.PlatformFeishu:
		payload := map[string]interface{}{
			"msg_type": "text",
			"content":  map[string]string{"text": text},
		}
		if cfg.Secret != "" {
			ts := strconv.FormatInt(now.Unix(), 10)
			payload["timestamp"] = ts
			payload["sign"] = feishuSign(ts, cfg.Secret)
		}
		return target, payload

	case models.PlatformWeCom:
		return target, map[string]interface{}{
			"msgtype": "text",
			"text":    map[string]string{"content": text},
		}

	default:
		return target, map[string]interface{}{
			"type":      "alarm",
			"message":   text,
			"timestamp": now.Unix(),
		}
	}
}

// dingTalkSign 钉钉加签：HMAC-SHA256(secret, "{timestamp}\n{secret}")，base64
func dingTalkSign(timestamp, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "\n" + secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// feishuSign 飞书加签：以 "{timestamp}\n{secret}" 为密钥对空串做 HMAC-SHA256，base64
func feishuSign(timestamp, secret string) string {
	mac := hmac.New(sha256.New, []byte(timestamp+"\n"+secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// vendorResponse 钉钉/企业微信返回 errcode，飞书返回 code
type vendorResponse struct {
	ErrCode *int   `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
	Code    *int   `json:"code"`
	Msg     string `json:"msg"`
}

// checkVendorResponse 非 JSON 响应视为成功
func checkVendorResponse(body []byte) error {
	var r vendorResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil
	}
	if r.ErrCode != nil && *r.ErrCode != 0 {
		return fmt.Errorf("errcode %d: %s", *r.ErrCode, r.ErrMsg)
	}
	if r.Code != nil && *r.Code != 0 {
		return fmt.Errorf("code %d: %s", *r.Code, r.Msg)
	}
	return nil
}
