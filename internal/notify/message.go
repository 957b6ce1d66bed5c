package notify

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"mcs-iot/internal/models"
)

// ErrNotConfigured 通道已启用但缺少必要配置，跳过发送
var ErrNotConfigured = errors.New("channel not configured")

const timeLayout = "2006-01-02 15:04:05"

// Message 报警通知内容，各通道共用
type Message struct {
	SystemName  string
	SN          string
	DeviceName  string
	Kind        models.AlarmKind
	Value       float64
	Threshold   float64
	TriggeredAt time.Time
}

// NewMessage 由报警事件构造通知
func NewMessage(systemName string, event *models.AlarmEvent) Message {
	name := event.DeviceName
	if name == "" {
		name = event.SN
	}
	return Message{
		SystemName:  systemName,
		SN:          event.SN,
		DeviceName:  name,
		Kind:        event.Kind,
		Value:       event.Value,
		Threshold:   event.Threshold,
		TriggeredAt: event.TriggeredAt,
	}
}

// Subject 邮件标题
func (m Message) Subject() string {
	return fmt.Sprintf("[%s] %s alarm - %s", m.SystemName, m.Kind, m.SN)
}

// Text 纯文本正文
func (m Message) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] Alarm notification\n", m.SystemName)
	fmt.Fprintf(&b, "Device: %s (%s)\n", m.DeviceName, m.SN)
	fmt.Fprintf(&b, "Type: %s\n", m.Kind)

	switch m.Kind {
	case models.AlarmOffline:
		fmt.Fprintf(&b, "Status: no data for %.0f s\n", m.Value)
	case models.AlarmLowBattery:
		fmt.Fprintf(&b, "Battery: %.0f%%\nThreshold: %.0f%%\n", m.Value, m.Threshold)
	case models.AlarmWeakSignal:
		fmt.Fprintf(&b, "RSSI: %.0f dBm\nThreshold: %.0f dBm\n", m.Value, m.Threshold)
	default:
		fmt.Fprintf(&b, "Concentration: %.2f ppm\nThreshold: %.2f ppm\n", m.Value, m.Threshold)
	}

	fmt.Fprintf(&b, "Time: %s", m.TriggeredAt.Local().Format(timeLayout))
	return b.String()
}
