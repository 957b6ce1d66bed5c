package models

// 运行期配置（由管理后台写入 Redis config:* 键，JSON）

// EmailConfig 邮件通道（config:email）
type EmailConfig struct {
	Enabled   bool     `json:"enabled"`
	SMTPHost  string   `json:"smtp_host"`
	SMTPPort  int      `json:"smtp_port"`
	Sender    string   `json:"sender"`
	Password  string   `json:"password"`
	Receivers []string `json:"receivers"`
}

// Webhook 平台
const (
	PlatformDingTalk = "dingtalk"
	PlatformFeishu   = "feishu"
	PlatformWeCom    = "wecom"
	PlatformCustom   = "custom"
)

// WebhookConfig 群机器人通道（config:webhook）
type WebhookConfig struct {
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url"`
	Platform string `json:"platform"` // dingtalk, feishu, wecom, custom
	Secret   string `json:"secret"`   // 加签密钥
}

// SMSConfig 短信通道（config:sms）
type SMSConfig struct {
	Enabled    bool     `json:"enabled"`
	Endpoint   string   `json:"endpoint"`
	AccessKey  string   `json:"access_key"`
	SecretKey  string   `json:"secret_key"`
	SignName   string   `json:"sign_name"`
	TemplateID string   `json:"template_id"`
	Phones     []string `json:"phones"`
}

// AlarmGeneralConfig 报警通用配置：消抖时间和报警时段（config:alarm_general）
type AlarmGeneralConfig struct {
	DebounceMinutes        int    `json:"debounce_minutes"`
	TimeRestrictionEnabled bool   `json:"time_restriction_enabled"`
	TimeRestrictionDays    []int  `json:"time_restriction_days"` // 1=周一 ... 7=周日
	TimeRestrictionStart   string `json:"time_restriction_start"`
	TimeRestrictionEnd     string `json:"time_restriction_end"`
	RSSIFloor              *int   `json:"rssi_floor,omitempty"`
}

// DefaultAlarmGeneralConfig 未配置时的默认值
func DefaultAlarmGeneralConfig() AlarmGeneralConfig {
	return AlarmGeneralConfig{
		DebounceMinutes:      10,
		TimeRestrictionDays:  []int{1, 2, 3, 4, 5},
		TimeRestrictionStart: "08:00",
		TimeRestrictionEnd:   "18:00",
	}
}

// 对象存储提供商
const (
	ProviderCloudflare = "cloudflare"
	ProviderTencent    = "tencent"
	ProviderAlibaba    = "alibaba"
	ProviderMinIO      = "minio"
)

// 归档文件格式
const (
	ArchiveFormatCSVGzip = "csv.gz"
	ArchiveFormatXLSX    = "xlsx"
)

// ArchiveConfig 数据归档配置（config:archive）
type ArchiveConfig struct {
	Enabled            bool   `json:"enabled"`
	LocalRetentionDays int    `json:"local_retention_days"`
	CloudRetentionDays int    `json:"cloud_retention_days"`
	Provider           string `json:"provider"`
	Bucket             string `json:"bucket"`
	AccessKey          string `json:"access_key"`
	SecretKey          string `json:"secret_key"`
	AccountID          string `json:"account_id"` // Cloudflare R2
	Region             string `json:"region"`     // 腾讯云 / 阿里云
	Endpoint           string `json:"endpoint"`   // MinIO 或自定义
	UseSSL             *bool  `json:"use_ssl,omitempty"`
	Format             string `json:"format"`
}

// DefaultArchiveConfig 未配置时的默认值
func DefaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		LocalRetentionDays: 3,
		CloudRetentionDays: 30,
		Provider:           ProviderCloudflare,
		Format:             ArchiveFormatCSVGzip,
	}
}
