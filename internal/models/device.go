package models

import (
	"database/sql"
)

// 设备状态
const (
	DeviceStatusOnline  = "online"
	DeviceStatusOffline = "offline"
)

// ReferenceTemperature 校准参考温度（℃）
const ReferenceTemperature = 25.0

// Coefficients 校准系数（calib:{sn} / devices.calib_*）
type Coefficients struct {
	K     float64 `json:"k"`
	B     float64 `json:"b"`
	TCoef float64 `json:"t_coef"`
}

// IdentityCoefficients 缓存缺失时使用的恒等系数
func IdentityCoefficients() Coefficients {
	return Coefficients{K: 1, B: 0, TCoef: 0}
}

// Thresholds 设备报警阈值（device:{sn}）
type Thresholds struct {
	Name      string
	HighLimit float64
	LowLimit  *float64 // 未配置则不判 LOW
	BatLimit  int
	RSSIFloor *int // 未配置则使用全局下限
}

// DeviceStatus 设备状态快照（离线巡检使用）
type DeviceStatus struct {
	SN       string
	Status   string
	LastSeen sql.NullTime
}

// DeviceMirror 设备元数据（用于同步 calib:{sn} / device:{sn} 缓存）
type DeviceMirror struct {
	SN           string
	Name         string
	HighLimit    sql.NullFloat64
	LowLimit     sql.NullFloat64
	Coefficients Coefficients
}
