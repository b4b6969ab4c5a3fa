package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/DreamThemeGH/mqtt-history-injector/common/config"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// DefaultOptionsPath Home Assistant add-on 选项文件
	DefaultOptionsPath = "/data/options.json"
	// ConfigPathEnvVar 覆盖选项文件路径的环境变量
	ConfigPathEnvVar = "CONFIG_PATH"
	// SupervisorTokenEnvVar ha_token 为空时使用的 Supervisor 令牌
	SupervisorTokenEnvVar = "SUPERVISOR_TOKEN"

	// ServiceName 服务名称
	ServiceName = "mqtt-history-injector"
)

// 缺失实体策略
const (
	MissingEntityLenient = "lenient" // 记录警告后仍然写入历史
	MissingEntityStrict  = "strict"  // 拒绝整条消息
)

// 未来时间戳策略
const (
	FutureTimestampsAccept = "accept"
	FutureTimestampsReject = "reject"
)

// Config 历史注入服务配置
// koanf 标签与 add-on options.json 的键名一致
type Config struct {
	MQTTHost     string `koanf:"mqtt_host" validate:"required"`
	MQTTPort     int    `koanf:"mqtt_port" validate:"min=1,max=65535"`
	MQTTUsername string `koanf:"mqtt_username"`
	MQTTPassword string `koanf:"mqtt_password"`
	MQTTTopic    string `koanf:"mqtt_topic" validate:"required"`
	MQTTQoS      int    `koanf:"mqtt_qos" validate:"min=0,max=2"`
	MQTTClientID string `koanf:"mqtt_client_id"`

	DatabasePath string `koanf:"ha_database_path"`
	DatabaseURL  string `koanf:"ha_db_url"`
	// BusyTimeoutMillis SQLite 写锁等待时间
	BusyTimeoutMillis int `koanf:"db_busy_timeout_ms" validate:"min=0"`

	APIURL   string `koanf:"ha_api_url" validate:"omitempty,url"`
	APIToken string `koanf:"ha_token"`

	MaxTimestampOffsetDays int    `koanf:"max_timestamp_offset_days" validate:"min=0,max=106751"`
	DefaultEntityIDPrefix  string `koanf:"default_entity_id_prefix"`
	CreateMissingEntities  bool   `koanf:"create_missing_entities"`
	MissingEntityPolicy    string `koanf:"missing_entity_policy" validate:"oneof=lenient strict"`
	FutureTimestamps       string `koanf:"future_timestamps" validate:"oneof=accept reject"`

	RedisEnabled  bool   `koanf:"redis_enabled"`
	RedisAddr     string `koanf:"redis_addr" validate:"required_if=RedisEnabled true"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db" validate:"min=0"`
	RedisStream   string `koanf:"redis_stream" validate:"required_if=RedisEnabled true"`
	RedisMaxLen   int64  `koanf:"redis_stream_maxlen" validate:"min=0"`

	HTTPAddr string `koanf:"http_addr"`

	LogLevel  string `koanf:"log_level" validate:"oneof=debug info warn warning error"`
	LogFormat string `koanf:"log_format" validate:"oneof=json console"`
}

// Default 返回默认配置（与 add-on 默认选项一致）
func Default() *Config {
	return &Config{
		MQTTHost:               "core-mosquitto",
		MQTTPort:               1883,
		MQTTTopic:              "homeassistant/history/+",
		MQTTQoS:                0,
		DatabasePath:           "/config/home-assistant_v2.db",
		BusyTimeoutMillis:      5000,
		APIURL:                 "http://supervisor/core/api",
		MaxTimestampOffsetDays: 30,
		DefaultEntityIDPrefix:  "sensor.",
		CreateMissingEntities:  true,
		MissingEntityPolicy:    MissingEntityLenient,
		FutureTimestamps:       FutureTimestampsAccept,
		RedisAddr:              "localhost:6379",
		RedisStream:            "history:ingested:stream",
		RedisMaxLen:            10000,
		LogLevel:               "info",
		LogFormat:              "json",
	}
}

// Load 加载配置：默认值 -> 选项文件 -> 环境变量
// path 为空时依次尝试 CONFIG_PATH 和 /data/options.json，文件不存在时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findOptionsFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// 环境变量覆盖，如 MQTT_HOST -> mqtt_host
	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if cfg.APIToken == "" {
		cfg.APIToken = os.Getenv(SupervisorTokenEnvVar)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findOptionsFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	if _, err := os.Stat(DefaultOptionsPath); err == nil {
		return DefaultOptionsPath
	}
	return ""
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser()
	default:
		return json.Parser()
	}
}

// envKey 只接受已知配置键，避免 PATH 等无关变量进入配置
func envKey(s string) string {
	key := strings.ToLower(s)
	if _, ok := knownKeys[key]; ok {
		return key
	}
	return ""
}

var knownKeys = func() map[string]struct{} {
	k := koanf.New(".")
	_ = k.Load(structs.Provider(Default(), "koanf"), nil)
	keys := make(map[string]struct{})
	for _, key := range k.Keys() {
		keys[key] = struct{}{}
	}
	return keys
}()

// Validate 校验配置
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.DatabasePath == "" && c.DatabaseURL == "" {
		return fmt.Errorf("one of ha_database_path or ha_db_url is required")
	}
	db := c.Database()
	if _, err := db.Driver(); err != nil {
		return err
	}
	return nil
}

// MQTT 转换为公共 MQTT 配置
func (c *Config) MQTT(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker:               fmt.Sprintf("tcp://%s:%d", c.MQTTHost, c.MQTTPort),
		ClientID:             clientID,
		Username:             c.MQTTUsername,
		Password:             c.MQTTPassword,
		QoS:                  byte(c.MQTTQoS),
		KeepAlive:            60 * time.Second,
		ConnectRetryInterval: 10 * time.Second,
	}
}

// Database 转换为公共数据库配置
func (c *Config) Database() config.DatabaseConfig {
	return config.DatabaseConfig{
		Path:        c.DatabasePath,
		URL:         c.DatabaseURL,
		BusyTimeout: time.Duration(c.BusyTimeoutMillis) * time.Millisecond,
	}
}

// Redis 转换为公共 Redis 配置
func (c *Config) Redis() config.RedisConfig {
	return config.RedisConfig{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}
