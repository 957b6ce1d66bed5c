package models

import (
	"time"
)

// AlarmKind 报警类型
type AlarmKind string

const (
	AlarmHigh       AlarmKind = "HIGH"
	AlarmLow        AlarmKind = "LOW"
	AlarmLowBattery AlarmKind = "LOW_BAT"
	AlarmWeakSignal AlarmKind = "WEAK_SIGNAL"
	AlarmOffline    AlarmKind = "OFFLINE"
)

// AlarmEvent 报警事件（对应 alarm_logs 表）
type AlarmEvent struct {
	ID          int64      `json:"id" db:"id"`
	SN          string     `json:"sn" db:"sn"`
	DeviceName  string     `json:"device_name" db:"-"`
	Kind        AlarmKind  `json:"type" db:"type"`
	Value       float64    `json:"value" db:"value"`
	Threshold   float64    `json:"threshold" db:"threshold"`
	TriggeredAt time.Time  `json:"triggered_at" db:"triggered_at"`
	Notified    bool       `json:"notified" db:"notified"`
	AckAt       *time.Time `json:"ack_at,omitempty" db:"ack_at"`
	AckBy       *string    `json:"ack_by,omitempty" db:"ack_by"`
}

// ReadingContext 单次上行的报警判定上下文
type ReadingContext struct {
	SN          string
	PPM         float64
	Temperature float64
	Battery     int
	RSSI        *int // 未上报为 nil
	Network     string
}
