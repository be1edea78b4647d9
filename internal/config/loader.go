package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if err := rejectHubSections(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyAppDefaults(&cfg.App)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	if cfg.Global.MetadataPath == "" {
		cfg.Global.MetadataPath = filepath.Join(absStorage, cfg.Global.CacheName+"-cache-metadata.db")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("CacheName", "blog")
	v.SetDefault("MetadataBackend", MetadataBackendSQLite)
	v.SetDefault("MetadataPath", "")
	v.SetDefault("RedisAddr", "127.0.0.1:6379")
	v.SetDefault("RedisDB", 0)
	v.SetDefault("ExpiryWindow", "13d")
	v.SetDefault("RefreshThrottle", "24h")
	v.SetDefault("CleanupInterval", "24h")
	v.SetDefault("MaxRetries", 3)
	v.SetDefault("InitialBackoff", "1s")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("App.Scheme", "https")
	v.SetDefault("App.OfflinePage", "/offline.html")
	v.SetDefault("App.ColdBootParam", "cold_bootting")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	g.MetadataBackend = strings.ToLower(strings.TrimSpace(g.MetadataBackend))
	if g.MetadataBackend == "" {
		g.MetadataBackend = MetadataBackendSQLite
	}
	if g.ExpiryWindow.DurationValue() == 0 {
		g.ExpiryWindow = Duration(13 * 24 * time.Hour)
	}
	if g.RefreshThrottle.DurationValue() == 0 {
		g.RefreshThrottle = Duration(24 * time.Hour)
	}
	if g.CleanupInterval.DurationValue() == 0 {
		g.CleanupInterval = Duration(24 * time.Hour)
	}
	if g.InitialBackoff.DurationValue() == 0 {
		g.InitialBackoff = Duration(time.Second)
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
}

func applyAppDefaults(a *AppConfig) {
	a.Domain = strings.ToLower(strings.TrimSpace(a.Domain))
	a.Scheme = strings.ToLower(strings.TrimSpace(a.Scheme))
	if a.Scheme == "" {
		a.Scheme = "https"
	}
	if a.OfflinePage == "" {
		a.OfflinePage = "/offline.html"
	}
	if !strings.HasPrefix(a.OfflinePage, "/") {
		a.OfflinePage = "/" + a.OfflinePage
	}
	if a.ColdBootParam == "" {
		a.ColdBootParam = "cold_bootting"
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			parsed, err := parseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
			}
			return Duration(parsed), nil
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// rejectHubSections 拒绝多 Hub 写法：offline-hub 只代理一个应用。
func rejectHubSections(v *viper.Viper) error {
	if v.IsSet("Hub") {
		return newFieldError("Hub", "不再支持多 Hub 配置，请改用 [App] 段")
	}
	return nil
}
