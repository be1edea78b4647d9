package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，兼容 Go Duration 字符串、纯秒整数与 "13d" 天数写法。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m"、"13d" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := parseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

func parseDuration(value string) (time.Duration, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return 0, nil
	}
	if parsed, err := time.ParseDuration(raw); err == nil {
		return parsed, nil
	}
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		if n, err := strconv.ParseFloat(days, 64); err == nil {
			return time.Duration(n * float64(24*time.Hour)), nil
		}
	}
	if intVal, err := parseInt(raw); err == nil {
		return time.Duration(intVal) * time.Second, nil
	}
	if seconds, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(seconds * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("invalid duration value: %s", raw)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 元数据后端。
const (
	MetadataBackendSQLite = "sqlite"
	MetadataBackendRedis  = "redis"
)

// GlobalConfig 描述全局运行时行为。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	CacheName       string   `mapstructure:"CacheName"`
	MetadataBackend string   `mapstructure:"MetadataBackend"`
	MetadataPath    string   `mapstructure:"MetadataPath"`
	RedisAddr       string   `mapstructure:"RedisAddr"`
	RedisDB         int      `mapstructure:"RedisDB"`
	ExpiryWindow    Duration `mapstructure:"ExpiryWindow"`
	RefreshThrottle Duration `mapstructure:"RefreshThrottle"`
	CleanupInterval Duration `mapstructure:"CleanupInterval"`
	MaxRetries      int      `mapstructure:"MaxRetries"`
	InitialBackoff  Duration `mapstructure:"InitialBackoff"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// AppConfig 描述被代理的应用：对外域名、回源地址以及离线相关设置。
type AppConfig struct {
	Domain        string `mapstructure:"Domain"`
	Scheme        string `mapstructure:"Scheme"`
	Upstream      string `mapstructure:"Upstream"`
	OfflinePage   string `mapstructure:"OfflinePage"`
	ColdBootParam string `mapstructure:"ColdBootParam"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	App    AppConfig    `mapstructure:"App"`
}

// Origin 返回应用对外的 origin，例如 https://blog.example.com。
func (a AppConfig) Origin() string {
	return fmt.Sprintf("%s://%s", a.Scheme, a.Domain)
}

// CleanupTag 返回周期清理任务的标签。
func (g GlobalConfig) CleanupTag() string {
	return g.CacheName + "-cleanup"
}
