package cache

import (
	"fmt"

	"mcs-iot/internal/models"
)

// 固定键
const (
	KeyEmailConfig    = "config:email"
	KeyWebhookConfig  = "config:webhook"
	KeySMSConfig      = "config:sms"
	KeyAlarmGeneral   = "config:alarm_general"
	KeyAlarmTime      = "config:alarm_time" // 旧版报警时段配置
	KeyArchiveConfig  = "config:archive"
	KeySystemHealth   = "system:health"
	KeyDeviceStats    = "stats:devices"
	KeyLastMessage    = "mqtt:last_message_time"
	KeyLicenseToken   = "license:token"
	KeyLicenseStatus  = "license:status"
	KeyLicenseGrace   = "license:grace_remaining_days"
	debounceKeyPrefix = "alarm:debounce:"
)

// CalibKey 校准系数 hash
func CalibKey(sn string) string { return "calib:" + sn }

// DeviceKey 设备阈值 hash
func DeviceKey(sn string) string { return "device:" + sn }

// OnlineKey 在线标记
func OnlineKey(sn string) string { return "online:" + sn }

// RealtimeKey 实时数据 hash（大屏读取）
func RealtimeKey(sn string) string { return "realtime:" + sn }

// DebounceKey 报警消抖标记
func DebounceKey(sn string, kind models.AlarmKind) string {
	return fmt.Sprintf("%s%s:%s", debounceKeyPrefix, sn, kind)
}
