package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultCacheChildFolder/DefaultCacheMaxSize 与未显式初始化时使用的默认缓存一致。
const (
	DefaultCacheChildFolder       = "exoplayercache"
	DefaultCacheMaxSize     int64 = 100 * 1024 * 1024
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行参数：监听端口、日志、缓存目录与上游。
type GlobalConfig struct {
	ListenPort         int      `mapstructure:"ListenPort"`
	LogLevel           string   `mapstructure:"LogLevel"`
	LogFilePath        string   `mapstructure:"LogFilePath"`
	LogMaxSize         int      `mapstructure:"LogMaxSize"`
	LogMaxBackups      int      `mapstructure:"LogMaxBackups"`
	LogCompress        bool     `mapstructure:"LogCompress"`
	CacheRoot          string   `mapstructure:"CacheRoot"`
	CacheChildFolder   string   `mapstructure:"CacheChildFolder"`
	CacheMaxSize       int64    `mapstructure:"CacheMaxSize"`
	IndexCompression   bool     `mapstructure:"IndexCompression"`
	IndexFlushInterval Duration `mapstructure:"IndexFlushInterval"`
	Upstream           string   `mapstructure:"Upstream"`
	UpstreamTimeout    Duration `mapstructure:"UpstreamTimeout"`
	UpstreamRateLimit  float64  `mapstructure:"UpstreamRateLimit"`
	CacheKeyFactory    string   `mapstructure:"CacheKeyFactory"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
}

// MediaEnabled 表示是否配置了上游，未配置时不开放 /media 代理。
func (g GlobalConfig) MediaEnabled() bool {
	return strings.TrimSpace(g.Upstream) != ""
}
