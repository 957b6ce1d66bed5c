package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"mcs-iot/common/config"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 采集 worker 配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// 接入配置
	Ingest struct {
		TopicPrefix string        // 主题前缀，订阅 {prefix}/+/up 与 {prefix}/+/status
		Shards      int           // 按 sn 分片的处理协程数
		QueueSize   int           // 每个分片的队列长度
		PresenceTTL time.Duration // online:{sn} 过期时间
	}

	// 报警配置（运行期可调部分在 Redis config:* 中）
	Alarm struct {
		SystemName       string
		DefaultDebounce  time.Duration
		HighLimitDefault float64
		BatLimitDefault  int
		RSSIFloorDefault int
		NotifyTimeout    time.Duration
	}

	Schedule ScheduleConfig

	License struct {
		VerifyURL   string
		KeyFile     string
		HostIDFile  string
		GracePeriod time.Duration
		DevMode     bool
		Version     string
	}

	Archive struct {
		TmpDir        string
		MaxDaysPerRun int
	}

	Metrics struct {
		Addr string
	}

	Log struct {
		Level  string
		Format string
	}
}

// ScheduleConfig 定时任务配置，可由 SCHEDULE_CONFIG 指向的 YAML 文件覆盖
type ScheduleConfig struct {
	OfflineSweepInterval time.Duration `yaml:"offline_sweep_interval"`
	HealthInterval       time.Duration `yaml:"health_interval"`
	MirrorSyncInterval   time.Duration `yaml:"mirror_sync_interval"`
	ArchiveAt            string        `yaml:"archive_at"`
	LicenseAt            string        `yaml:"license_at"`
	MaintenanceAt        string        `yaml:"maintenance_at"`
}

// Load 加载配置
func Load() (*Config, error) {
	// .env 可选
	if err := godotenv.Load(getEnv("ENV_FILE", ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	cfg := &Config{}

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "mcs_iot"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 20
	cfg.Database.MaxIdle = 5
	cfg.Database.ConnectRetries = 5
	cfg.Database.ConnectWait = 3 * time.Second
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = fmt.Sprintf("worker_%d", time.Now().Unix())
	cfg.MQTT.Username = "worker"
	cfg.MQTT.QoS = 1
	cfg.MQTT.RetryInterval = 5 * time.Second
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Ingest.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "mcs")
	cfg.Ingest.Shards = getEnvInt("WORKER_SHARDS", 8)
	cfg.Ingest.QueueSize = getEnvInt("WORKER_QUEUE_SIZE", 1024)
	cfg.Ingest.PresenceTTL = getEnvDuration("PRESENCE_TTL", 90*time.Second)

	cfg.Alarm.SystemName = getEnv("SYSTEM_NAME", "MCS-IoT")
	cfg.Alarm.DefaultDebounce = getEnvDuration("ALARM_DEBOUNCE", 600*time.Second)
	cfg.Alarm.HighLimitDefault = getEnvFloat("HIGH_LIMIT_DEFAULT", 1000)
	cfg.Alarm.BatLimitDefault = getEnvInt("BAT_LIMIT_DEFAULT", 20)
	cfg.Alarm.RSSIFloorDefault = getEnvInt("RSSI_FLOOR_DEFAULT", -105)
	cfg.Alarm.NotifyTimeout = getEnvDuration("NOTIFY_TIMEOUT", 10*time.Second)

	cfg.Schedule = ScheduleConfig{
		OfflineSweepInterval: 60 * time.Second,
		HealthInterval:       300 * time.Second,
		MirrorSyncInterval:   10 * time.Minute,
		ArchiveAt:            "02:00",
		LicenseAt:            "03:00",
		MaintenanceAt:        "04:00",
	}
	if path := os.Getenv("SCHEDULE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read schedule config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg.Schedule); err != nil {
			return nil, fmt.Errorf("failed to parse schedule config: %w", err)
		}
	}

	cfg.License.VerifyURL = getEnv("LICENSE_VERIFY_URL", "https://lic.zhizinan.cc/verify")
	cfg.License.KeyFile = getEnv("LICENSE_FILE", "/app/license.key")
	cfg.License.HostIDFile = getEnv("HOST_ID_FILE", "/app/host_id")
	cfg.License.GracePeriod = getEnvDuration("LICENSE_GRACE_PERIOD", 72*time.Hour)
	cfg.License.DevMode = getEnvBool("DEV_MODE", false)
	cfg.License.Version = getEnv("APP_VERSION", "1.0.0")

	cfg.Archive.TmpDir = getEnv("ARCHIVE_TMP_DIR", os.TempDir())
	cfg.Archive.MaxDaysPerRun = getEnvInt("ARCHIVE_MAX_DAYS", 7)

	cfg.Metrics.Addr = getEnv("METRICS_ADDR", ":9100")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Ingest.TopicPrefix == "" {
		return errors.New("MQTT_TOPIC_PREFIX must not be empty")
	}
	if c.Ingest.Shards <= 0 {
		return fmt.Errorf("WORKER_SHARDS must be positive, got %d", c.Ingest.Shards)
	}
	if c.Ingest.QueueSize <= 0 {
		return fmt.Errorf("WORKER_QUEUE_SIZE must be positive, got %d", c.Ingest.QueueSize)
	}
	if c.Ingest.PresenceTTL <= 0 {
		return errors.New("PRESENCE_TTL must be positive")
	}
	for name, at := range map[string]string{
		"archive_at":     c.Schedule.ArchiveAt,
		"license_at":     c.Schedule.LicenseAt,
		"maintenance_at": c.Schedule.MaintenanceAt,
	} {
		if _, err := time.Parse("15:04", at); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, at, err)
		}
	}
	if c.Schedule.OfflineSweepInterval <= 0 || c.Schedule.HealthInterval <= 0 {
		return errors.New("scheduler intervals must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if v, err := time.ParseDuration(value); err == nil {
			return v
		}
	}
	return defaultValue
}
