package models

// 健康状态
const (
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"

	ComponentUp      = "up"
	ComponentDown    = "down"
	ComponentWarning = "warning"
	ComponentUnknown = "unknown"
)

// HealthSnapshot 系统健康快照（system:health）
type HealthSnapshot struct {
	Status     string                     `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth 单个组件状态
type ComponentHealth struct {
	Status            string `json:"status"`
	Error             string `json:"error,omitempty"`
	LastMessageAgeSec *int64 `json:"last_message_age_sec,omitempty"`
	Detail            string `json:"detail,omitempty"`
}

// DeviceStats 设备在线统计（stats:devices）
type DeviceStats struct {
	Online  int
	Offline int
	Total   int
}
