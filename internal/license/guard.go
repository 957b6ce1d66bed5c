package license

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"mcs-iot/internal/cache"
	"mcs-iot/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNoLicenseKey 授权文件不存在或为空
var ErrNoLicenseKey = errors.New("license key not found")

// graceWarning 宽限期剩余不足该时长时状态为 GRACE
const graceWarning = 24 * time.Hour

// Options 授权校验配置
type Options struct {
	VerifyURL   string
	KeyFile     string
	HostIDFile  string
	GracePeriod time.Duration
	DevMode     bool
	Version     string
	Timeout     time.Duration
}

type verifyRequest struct {
	Fingerprint string `json:"fingerprint"`
	Timestamp   int64  `json:"timestamp"`
	Version     string `json:"version"`
}

type verifyResponse struct {
	Valid     bool   `json:"valid"`
	ExpiresAt string `json:"expires_at"`
	Error     string `json:"error"`
}

// Guard 授权校验：在线校验成功时缓存凭据，失败时按凭据进入宽限期
type Guard struct {
	client *resty.Client
	cache  *cache.Store
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// NewGuard 创建授权校验
func NewGuard(store *cache.Store, opts Options, logger *zap.Logger) *Guard {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 72 * time.Hour
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	client := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Guard{
		client: client,
		cache:  store,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Fingerprint sha256(host_id + ":" + license_key)
func (g *Guard) Fingerprint() (string, error) {
	key, err := readTrimmed(g.opts.KeyFile)
	if err != nil || key == "" {
		return "", ErrNoLicenseKey
	}

	hostID, err := readTrimmed(g.opts.HostIDFile)
	if err != nil || hostID == "" {
		// 未挂载 host_id 时退化为网卡地址
		hostID = hex.EncodeToString(uuid.NodeID())
	}

	sum := sha256.Sum256([]byte(hostID + ":" + key))
	return hex.EncodeToString(sum[:]), nil
}

// StartupCheck 启动时校验一次，结果只记录日志，不阻止启动
func (g *Guard) StartupCheck(ctx context.Context) models.LicenseStatus {
	status, err := g.Verify(ctx)
	switch {
	case !status.Valid:
		g.logger.Error("License is not valid", zap.String("status", status.Status), zap.Error(err))
	case err != nil:
		g.logger.Warn("License verification failed, running on cached token",
			zap.String("status", status.Status),
			zap.Error(err),
		)
	default:
		g.logger.Info("License verified", zap.String("status", status.Status))
	}
	return status
}

// Verify 在线校验并写入 license:status；在线校验失败时返回错误，状态按宽限期计算
func (g *Guard) Verify(ctx context.Context) (models.LicenseStatus, error) {
	now := g.now()

	// 1. 开发模式跳过校验
	if g.opts.DevMode {
		status := models.LicenseStatus{Valid: true, Status: models.LicenseDev, LastCheck: now.Format(time.RFC3339)}
		return status, g.publish(ctx, status, g.opts.GracePeriod)
	}

	// 2. 计算指纹
	fingerprint, err := g.Fingerprint()
	if err != nil {
		status := models.LicenseStatus{Valid: false, Status: models.LicenseInvalid, LastCheck: now.Format(time.RFC3339)}
		if perr := g.publish(ctx, status, 0); perr != nil {
			g.logger.Warn("Failed to publish license status", zap.Error(perr))
		}
		return status, err
	}

	// 3. 在线校验
	verifyErr := g.remoteVerify(ctx, fingerprint, now)
	if verifyErr == nil {
		status := models.LicenseStatus{Valid: true, Status: models.LicenseValid, LastCheck: now.Format(time.RFC3339)}
		return status, g.publish(ctx, status, g.opts.GracePeriod)
	}

	// 4. 按缓存凭据计算宽限期
	status, remaining := g.fromToken(ctx, fingerprint, now)
	if err := g.publish(ctx, status, remaining); err != nil {
		g.logger.Warn("Failed to publish license status", zap.Error(err))
	}
	return status, verifyErr
}

func (g *Guard) remoteVerify(ctx context.Context, fingerprint string, now time.Time) error {
	var result verifyResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(verifyRequest{Fingerprint: fingerprint, Timestamp: now.Unix(), Version: g.opts.Version}).
		SetResult(&result).
		Post(g.opts.VerifyURL)
	if err != nil {
		return fmt.Errorf("failed to call license server: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("license server returned status %d", resp.StatusCode())
	}
	if !result.Valid {
		if result.Error != "" {
			return fmt.Errorf("license rejected: %s", result.Error)
		}
		return errors.New("license rejected")
	}

	token := models.LicenseToken{VerifiedAt: now, Fingerprint: fingerprint}
	if result.ExpiresAt != "" {
		if t, err := time.Parse(time.RFC3339, result.ExpiresAt); err == nil {
			token.ExpiresAt = t
		}
	}
	if err := g.cache.SetJSON(ctx, cache.KeyLicenseToken, token, 0); err != nil {
		g.logger.Warn("Failed to cache license token", zap.Error(err))
	}
	return nil
}

// fromToken 最近一次成功校验后 GracePeriod 内视为有效，剩余不足 24 小时为 GRACE
func (g *Guard) fromToken(ctx context.Context, fingerprint string, now time.Time) (models.LicenseStatus, time.Duration) {
	status := models.LicenseStatus{Valid: false, Status: models.LicenseExpired, LastCheck: now.Format(time.RFC3339)}

	var token models.LicenseToken
	found, err := g.cache.GetJSON(ctx, cache.KeyLicenseToken, &token)
	if err != nil {
		g.logger.Warn("Failed to read license token", zap.Error(err))
		return status, 0
	}
	if !found || token.Fingerprint != fingerprint {
		return status, 0
	}

	remaining := token.VerifiedAt.Add(g.opts.GracePeriod).Sub(now)
	if remaining <= 0 {
		return status, 0
	}

	status.Valid = true
	status.Status = models.LicenseValid
	if remaining < graceWarning {
		status.Status = models.LicenseGrace
	}
	return status, remaining
}

func (g *Guard) publish(ctx context.Context, status models.LicenseStatus, remaining time.Duration) error {
	if err := g.cache.SetJSON(ctx, cache.KeyLicenseStatus, status, 0); err != nil {
		return err
	}
	days := int(remaining / (24 * time.Hour))
	return g.cache.SetString(ctx, cache.KeyLicenseGrace, strconv.Itoa(days), 0)
}

func readTrimmed(path string) (string, error) {
	if path == "" {
		return "", os.ErrNotExist
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
