package models

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrMissingVRaw 上行报文缺少 v_raw
var ErrMissingVRaw = errors.New("uplink payload missing v_raw")

const (
	defaultTemperature = 25.0
	defaultBattery     = 100
	msTimestampFloor   = 1_000_000_000_000 // 大于该值视为毫秒时间戳
)

// Uplink 设备上行报文（{prefix}/{sn}/up）
type Uplink struct {
	TS   int64    `json:"ts"`
	Seq  int64    `json:"seq"`
	VRaw float64  `json:"v_raw"`
	Temp *float64 `json:"temp"`
	Humi float64  `json:"humi"`
	Bat  *int     `json:"bat"`
	RSSI *int     `json:"rssi"`
	Net  string   `json:"net"`
	Err  int      `json:"err"`
}

// ParseUplink 解析上行报文；null、{} 及缺少 v_raw 的报文返回错误
func ParseUplink(payload []byte) (Uplink, error) {
	var raw struct {
		Uplink
		VRaw *float64 `json:"v_raw"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Uplink{}, err
	}
	if raw.VRaw == nil {
		return Uplink{}, ErrMissingVRaw
	}
	up := raw.Uplink
	up.VRaw = *raw.VRaw
	return up, nil
}

// Temperature 温度，缺省按参考温度 25℃
func (u *Uplink) Temperature() float64 {
	if u.Temp == nil {
		return defaultTemperature
	}
	return *u.Temp
}

// Battery 电量百分比，缺省 100
func (u *Uplink) Battery() int {
	if u.Bat == nil {
		return defaultBattery
	}
	return *u.Bat
}

// SignalStrength 信号强度；未上报或为 0 时视为未提供
func (u *Uplink) SignalStrength() (int, bool) {
	if u.RSSI == nil || *u.RSSI == 0 {
		return 0, false
	}
	return *u.RSSI, true
}

// Timestamp 采样时间；ts<=0 使用接收时间，毫秒时间戳自动换算
func (u *Uplink) Timestamp(received time.Time) time.Time {
	switch {
	case u.TS <= 0:
		return received
	case u.TS > msTimestampFloor:
		return time.UnixMilli(u.TS)
	default:
		return time.Unix(u.TS, 0)
	}
}

// StatusMessage 设备状态报文（{prefix}/{sn}/status，含遗嘱消息）
type StatusMessage struct {
	Status string `json:"status"`
}

// SensorReading 传感器读数（对应 sensor_data 表，只追加）
type SensorReading struct {
	Time    time.Time `json:"time" db:"time"`
	SN      string    `json:"sn" db:"sn"`
	VRaw    float64   `json:"v_raw" db:"v_raw"`
	PPM     float64   `json:"ppm" db:"ppm"`
	Temp    float64   `json:"temp" db:"temp"`
	Humi    float64   `json:"humi" db:"humi"`
	Bat     int       `json:"bat" db:"bat"`
	RSSI    int       `json:"rssi" db:"rssi"`
	ErrCode int       `json:"err_code" db:"err_code"`
	Seq     int64     `json:"seq" db:"seq"`
}

// NewSensorReading 由上行报文和计算浓度构造读数
func NewSensorReading(sn string, u *Uplink, ppm float64, received time.Time) SensorReading {
	rssi, _ := u.SignalStrength()
	return SensorReading{
		Time:    u.Timestamp(received),
		SN:      sn,
		VRaw:    u.VRaw,
		PPM:     ppm,
		Temp:    u.Temperature(),
		Humi:    u.Humi,
		Bat:     u.Battery(),
		RSSI:    rssi,
		ErrCode: u.Err,
		Seq:     u.Seq,
	}
}
