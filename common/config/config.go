package config

import (
	"fmt"
	"strings"
	"time"
)

// DatabaseConfig 记录器数据库配置
// URL 为空时使用 Path 指向的 SQLite 文件
type DatabaseConfig struct {
	Path        string        // SQLite 文件路径，如 /config/home-assistant_v2.db
	URL         string        // 可选：postgresql://... 或 mysql://...
	BusyTimeout time.Duration // SQLite 写锁等待上限
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker               string
	ClientID             string
	Username             string
	Password             string
	QoS                  byte
	KeepAlive            time.Duration
	ConnectRetryInterval time.Duration
}

// Driver 根据 URL scheme 返回 database/sql 驱动名
func (c *DatabaseConfig) Driver() (string, error) {
	if c.URL == "" {
		return "sqlite3", nil
	}
	scheme, _, ok := strings.Cut(c.URL, "://")
	if !ok {
		return "", fmt.Errorf("invalid database url: %q", c.URL)
	}
	switch strings.ToLower(scheme) {
	case "sqlite", "sqlite3":
		return "sqlite3", nil
	case "postgres", "postgresql":
		return "postgres", nil
	case "mysql", "mariadb":
		return "mysql", nil
	default:
		return "", fmt.Errorf("unsupported database scheme: %s", scheme)
	}
}

// Target 返回用于日志的数据库位置（不含密码）
func (c *DatabaseConfig) Target() string {
	if c.URL == "" {
		return c.Path
	}
	scheme, rest, _ := strings.Cut(c.URL, "://")
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = rest[at+1:]
	}
	return scheme + "://" + rest
}
