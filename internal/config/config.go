package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"xhale-breath/common/config"
)

// Calibration document sources
const (
	CalibrationSourcePostgres = "postgres"
	CalibrationSourceHTTP     = "http"
)

// Config breath analysis service configuration
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	Breath struct {
		Topics struct {
			Sensor  string // e.g. "xhale/+/sensor"
			Command string // e.g. "xhale/+/command"
		}

		// optional Redis stream input, sensor events relayed by another gateway
		Stream struct {
			Input  string // "" disables the stream consumer
			Output string // analysis results, e.g. "breath:analysis:stream"
		}
		ConsumerGroup string
		ConsumerName  string
		BatchSize     int64

		Cache struct {
			ResultKeyPrefix      string // "breath:result:"
			ResultTTL            int    // seconds
			CalibrationKeyPrefix string // "breath:calibration:"
			CalibrationTTL       int    // seconds
		}

		Calibration struct {
			Source     string // postgres | http
			APIBaseURL string
			APIToken   string
			TimeoutSec int
		}

		WarmupSeconds            int
		BaselineCaptureDelaySec  int
		DefaultSampleDurationSec int
		CoefficientsFile         string // TOML overrides of the analysis coefficients
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads the configuration from the environment
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "xhale")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 2)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "xhale-breath")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))
	cfg.MQTT.ConnectTimeout = 10 * time.Second

	cfg.Breath.Topics.Sensor = getEnv("MQTT_SENSOR_TOPIC", "xhale/+/sensor")
	cfg.Breath.Topics.Command = getEnv("MQTT_COMMAND_TOPIC", "xhale/+/command")

	cfg.Breath.Stream.Input = getEnv("STREAM_INPUT", "")
	cfg.Breath.Stream.Output = getEnv("STREAM_OUTPUT", "breath:analysis:stream")
	cfg.Breath.ConsumerGroup = getEnv("CONSUMER_GROUP", "breath-analysis-group")
	cfg.Breath.ConsumerName = getEnv("CONSUMER_NAME", "breath-analysis-1")
	cfg.Breath.BatchSize = int64(getEnvInt("BATCH_SIZE", 50))

	cfg.Breath.Cache.ResultKeyPrefix = getEnv("CACHE_RESULT_PREFIX", "breath:result:")
	cfg.Breath.Cache.ResultTTL = getEnvInt("CACHE_RESULT_TTL", 3600)
	cfg.Breath.Cache.CalibrationKeyPrefix = getEnv("CACHE_CALIBRATION_PREFIX", "breath:calibration:")
	cfg.Breath.Cache.CalibrationTTL = getEnvInt("CACHE_CALIBRATION_TTL", 600)

	cfg.Breath.Calibration.Source = getEnv("CALIBRATION_SOURCE", CalibrationSourcePostgres)
	cfg.Breath.Calibration.APIBaseURL = getEnv("CALIBRATION_API_URL", "")
	cfg.Breath.Calibration.APIToken = getEnv("CALIBRATION_API_TOKEN", "")
	cfg.Breath.Calibration.TimeoutSec = getEnvInt("CALIBRATION_TIMEOUT", 10)

	cfg.Breath.WarmupSeconds = getEnvInt("WARMUP_SECONDS", 20)
	cfg.Breath.BaselineCaptureDelaySec = getEnvInt("BASELINE_CAPTURE_DELAY", 7)
	cfg.Breath.DefaultSampleDurationSec = getEnvInt("SAMPLE_DURATION", 15)
	cfg.Breath.CoefficientsFile = getEnv("COEFFICIENTS_FILE", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Breath.Calibration.Source {
	case CalibrationSourcePostgres:
	case CalibrationSourceHTTP:
		if c.Breath.Calibration.APIBaseURL == "" {
			return fmt.Errorf("CALIBRATION_API_URL is required when CALIBRATION_SOURCE=http")
		}
	default:
		return fmt.Errorf("unknown CALIBRATION_SOURCE %q", c.Breath.Calibration.Source)
	}
	if c.Breath.DefaultSampleDurationSec <= 0 {
		return fmt.Errorf("SAMPLE_DURATION must be positive, got %d", c.Breath.DefaultSampleDurationSec)
	}
	if c.Breath.WarmupSeconds < 0 || c.Breath.BaselineCaptureDelaySec < 0 {
		return fmt.Errorf("warm-up durations must not be negative")
	}
	return nil
}

// CalibrationTimeout timeout of one calibration document fetch
func (c *Config) CalibrationTimeout() time.Duration {
	return time.Duration(c.Breath.Calibration.TimeoutSec) * time.Second
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
