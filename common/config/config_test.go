package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseConfig_GetDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "timescaledb",
		Port:     5432,
		User:     "postgres",
		Password: "secret",
		Database: "mcs_iot",
		SSLMode:  "disable",
	}

	assert.Equal(t, "host=timescaledb port=5432 user=postgres password=secret dbname=mcs_iot sslmode=disable", cfg.GetDSN())
}

func TestDatabaseConfig_LoadFromEnv(t *testing.T) {
	os.Clearenv()
	os.Setenv("DB_HOST", "db-host")
	os.Setenv("DB_PORT", "6543")
	os.Setenv("DB_NAME", "other")
	os.Setenv("DB_MAX_CONNS", "40")
	os.Setenv("DB_CONNECT_RETRIES", "9")
	os.Setenv("DB_CONNECT_WAIT", "500ms")
	defer os.Clearenv()

	cfg := DatabaseConfig{Host: "localhost", Port: 5432, Database: "mcs_iot"}
	cfg.LoadFromEnv("DB")

	assert.Equal(t, "db-host", cfg.Host)
	assert.Equal(t, 6543, cfg.Port)
	assert.Equal(t, "other", cfg.Database)
	assert.Equal(t, 40, cfg.MaxConns)
	assert.Equal(t, 9, cfg.ConnectRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.ConnectWait)
}

func TestRedisConfig_LoadFromEnv(t *testing.T) {
	os.Clearenv()
	os.Setenv("REDIS_ADDR", "redis:6380")
	os.Setenv("REDIS_DB", "2")
	defer os.Clearenv()

	cfg := RedisConfig{Addr: "localhost:6379"}
	cfg.LoadFromEnv("REDIS")

	assert.Equal(t, "redis:6380", cfg.Addr)
	assert.Equal(t, 2, cfg.DB)
	assert.Equal(t, "", cfg.Password)
}

func TestMQTTConfig_LoadFromEnv(t *testing.T) {
	os.Clearenv()
	os.Setenv("MQTT_BROKER", "tcp://mosquitto:1883")
	os.Setenv("MQTT_USERNAME", "worker")
	os.Setenv("MQTT_QOS", "1")
	defer os.Clearenv()

	cfg := MQTTConfig{}
	cfg.LoadFromEnv("MQTT")

	assert.Equal(t, "tcp://mosquitto:1883", cfg.Broker)
	assert.Equal(t, "worker", cfg.Username)
	assert.Equal(t, byte(1), cfg.QoS)
}

func TestMQTTConfig_LoadFromEnv_InvalidQoS(t *testing.T) {
	os.Clearenv()
	os.Setenv("MQTT_QOS", "7")
	defer os.Clearenv()

	cfg := MQTTConfig{QoS: 1}
	cfg.LoadFromEnv("MQTT")

	assert.Equal(t, byte(1), cfg.QoS)
}
