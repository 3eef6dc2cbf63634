package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	commoncfg "wisefido-attendance/common/config"

	"github.com/joho/godotenv"
)

// 设备绑定检查模式
const (
	DeviceCheckRecord = "record" // 登录时强制，签退时只记录异常
	DeviceCheckStrict = "strict" // 签到/签退时重新检查并拒绝
)

// 远端驱动
const (
	RemoteNone     = "none"
	RemotePostgres = "postgres"
	RemoteMongo    = "mongo"
	RemoteMemory   = "memory"
)

// Config wisefido-attendance（设备本地后端）配置
type Config struct {
	HTTP struct {
		Addr string
	}
	Log struct {
		Level  string
		Format string
	}

	// LocalStore redis | memory
	LocalStore string
	Redis      commoncfg.RedisConfig

	// RemoteDriver postgres | mongo | memory | none
	RemoteDriver string
	Database     commoncfg.DatabaseConfig
	Mongo        commoncfg.MongoConfig

	Sync struct {
		Interval time.Duration // 0 表示不做周期拉取
		Timeout  time.Duration
		PushMin  time.Duration
		PushMax  time.Duration
	}

	Attendance struct {
		DeviceCheckMode string
		GPSTolerance    float64 // 米
		LocationTimeout time.Duration
	}

	Report struct {
		Timezone     string
		LateAfter    string // HH:MM，晚于此时刻签到为迟到
		EarlyBefore  string // HH:MM，早于此时刻签退为早退
		SummaryURL   string
		SummaryToken string
		SampleSize   int
	}

	MQTT struct {
		Enabled bool
		commoncfg.MQTTConfig
		TopicPrefix string
	}

	Events struct {
		Enabled bool
		Stream  string
		MaxLen  int64
	}

	Auth struct {
		JWTSecret          string
		TokenTTL           time.Duration
		SuperAdminUsername string
		SuperAdminPassword string
	}

	SMTP commoncfg.SMTPConfig
}

// Load 读取配置：可选 .env 文件 + 环境变量
func Load() *Config {
	// .env 不存在时忽略
	_ = godotenv.Load(getEnv("ENV_FILE", ".env"))

	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", "127.0.0.1:8090")
	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.LocalStore = strings.ToLower(getEnv("LOCAL_STORE", "redis"))
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)

	cfg.RemoteDriver = strings.ToLower(getEnv("REMOTE_DRIVER", RemoteNone))
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "attendance")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "5"), 5)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "2"), 2)
	cfg.Mongo.URI = getEnv("MONGO_URI", "mongodb://localhost:27017")
	cfg.Mongo.Database = getEnv("MONGO_DATABASE", "attendance")
	cfg.Mongo.Timeout = parseDuration(getEnv("MONGO_TIMEOUT", "10s"), 10*time.Second)

	cfg.Sync.Interval = parseDuration(getEnv("SYNC_INTERVAL", "5m"), 5*time.Minute)
	cfg.Sync.Timeout = parseDuration(getEnv("SYNC_TIMEOUT", "15s"), 15*time.Second)
	cfg.Sync.PushMin = parseDuration(getEnv("SYNC_PUSH_BACKOFF_MIN", "1s"), time.Second)
	cfg.Sync.PushMax = parseDuration(getEnv("SYNC_PUSH_BACKOFF_MAX", "30s"), 30*time.Second)

	cfg.Attendance.DeviceCheckMode = strings.ToLower(getEnv("DEVICE_CHECK_MODE", DeviceCheckRecord))
	if cfg.Attendance.DeviceCheckMode != DeviceCheckStrict {
		cfg.Attendance.DeviceCheckMode = DeviceCheckRecord
	}
	cfg.Attendance.GPSTolerance = parseFloat(getEnv("GPS_TOLERANCE_METERS", "15"), 15)
	cfg.Attendance.LocationTimeout = parseDuration(getEnv("LOCATION_TIMEOUT", "10s"), 10*time.Second)

	cfg.Report.Timezone = getEnv("REPORT_TIMEZONE", "Local")
	cfg.Report.LateAfter = getEnv("REPORT_LATE_AFTER", "08:05")
	cfg.Report.EarlyBefore = getEnv("REPORT_EARLY_BEFORE", "17:00")
	cfg.Report.SummaryURL = getEnv("SUMMARY_URL", "")
	cfg.Report.SummaryToken = getEnv("SUMMARY_TOKEN", "")
	cfg.Report.SampleSize = parseInt(getEnv("SUMMARY_SAMPLE_SIZE", "50"), 50)

	cfg.MQTT.Enabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "wisefido-attendance")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = byte(parseInt(getEnv("MQTT_QOS", "1"), 1))
	cfg.MQTT.TopicPrefix = getEnv("MQTT_LOCATION_PREFIX", "attendance/location")

	cfg.Events.Enabled = getEnv("EVENTS_ENABLED", "false") == "true"
	cfg.Events.Stream = getEnv("EVENT_STREAM", "attendance:events")
	cfg.Events.MaxLen = int64(parseInt(getEnv("EVENT_STREAM_MAXLEN", "10000"), 10000))

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", "change-me")
	cfg.Auth.TokenTTL = parseDuration(getEnv("JWT_TTL", "12h"), 12*time.Hour)
	cfg.Auth.SuperAdminUsername = getEnv("SUPER_ADMIN_USERNAME", "")
	cfg.Auth.SuperAdminPassword = getEnv("SUPER_ADMIN_PASSWORD", "")

	cfg.SMTP.Host = getEnv("SMTP_HOST", "")
	cfg.SMTP.Port = parseInt(getEnv("SMTP_PORT", "587"), 587)
	cfg.SMTP.User = getEnv("SMTP_USER", "")
	cfg.SMTP.Password = getEnv("SMTP_PASS", "")
	cfg.SMTP.From = getEnv("SMTP_FROM", cfg.SMTP.User)
	cfg.SMTP.Subject = getEnv("SMTP_SUBJECT", "Daily attendance report")

	return cfg
}

// ReportLocation 报表时区（无效时回退到本地时区）
func (c *Config) ReportLocation() *time.Location {
	if c.Report.Timezone == "" || c.Report.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Report.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseFloat(s string, def float64) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
