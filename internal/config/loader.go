package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"

	"github.com/any-hub/spancache/internal/cachekey"
)

// appName 决定默认缓存根目录，例如 ~/.cache/spancache。
const appName = "spancache"

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

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	if cfg.Global.CacheRoot == "" {
		root, err := DefaultCacheRoot()
		if err != nil {
			return nil, fmt.Errorf("无法定位默认缓存目录: %w", err)
		}
		cfg.Global.CacheRoot = root
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absRoot, err := filepath.Abs(cfg.Global.CacheRoot)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.CacheRoot = absRoot

	return &cfg, nil
}

// DefaultCacheRoot 返回当前用户的应用缓存目录（XDG / macOS / Windows 约定）。
func DefaultCacheRoot() (string, error) {
	return gap.NewScope(gap.User, appName).CacheDir()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("CacheRoot", "")
	v.SetDefault("CacheChildFolder", DefaultCacheChildFolder)
	v.SetDefault("CacheMaxSize", DefaultCacheMaxSize)
	v.SetDefault("IndexCompression", true)
	v.SetDefault("IndexFlushInterval", "30s")
	v.SetDefault("Upstream", "")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("UpstreamRateLimit", 0)
	v.SetDefault("CacheKeyFactory", cachekey.DefaultName())
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if strings.TrimSpace(g.CacheChildFolder) == "" {
		g.CacheChildFolder = DefaultCacheChildFolder
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if strings.TrimSpace(g.CacheKeyFactory) == "" {
		g.CacheKeyFactory = cachekey.DefaultName()
	}
	g.CacheKeyFactory = strings.ToLower(strings.TrimSpace(g.CacheKeyFactory))
	g.Upstream = strings.TrimRight(strings.TrimSpace(g.Upstream), "/")
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
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
