package models

import "time"

// 授权状态
const (
	LicenseValid   = "VALID"
	LicenseGrace   = "GRACE"
	LicenseExpired = "EXPIRED"
	LicenseInvalid = "INVALID"
	LicenseDev     = "DEV_MODE"
)

// LicenseToken 最近一次在线校验成功的凭据（license:token）
type LicenseToken struct {
	VerifiedAt  time.Time `json:"verified_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Fingerprint string    `json:"fingerprint"`
}

// LicenseStatus 授权状态（license:status），供健康检查和管理端读取
type LicenseStatus struct {
	Valid     bool   `json:"valid"`
	Status    string `json:"status"`
	LastCheck string `json:"last_check"`
}
