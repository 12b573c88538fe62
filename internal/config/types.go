package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
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

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
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

// 支持的缓存存储驱动。
const (
	StorageDriverLevelDB = "leveldb"
	StorageDriverFS      = "fs"
	StorageDriverMemory  = "memory"
)

// GlobalConfig 描述进程级运行参数：监听端口、日志、缓存存储与回源。
type GlobalConfig struct {
	ListenPort    int      `mapstructure:"ListenPort"`
	LogLevel      string   `mapstructure:"LogLevel"`
	LogFilePath   string   `mapstructure:"LogFilePath"`
	LogMaxSize    int      `mapstructure:"LogMaxSize"`
	LogMaxBackups int      `mapstructure:"LogMaxBackups"`
	LogCompress   bool     `mapstructure:"LogCompress"`
	StorageDriver string   `mapstructure:"StorageDriver"`
	StoragePath   string   `mapstructure:"StoragePath"`
	Origin        string   `mapstructure:"Origin"`
	FetchTimeout  Duration `mapstructure:"FetchTimeout"`
}

// WorkerConfig 对应 [Worker] 表，决定缓存命名空间、预缓存清单与拦截规则。
type WorkerConfig struct {
	CachePrefix         string   `mapstructure:"CachePrefix"`
	CacheVersion        string   `mapstructure:"CacheVersion"`
	AssetManifest       string   `mapstructure:"AssetManifest"`
	BypassSchemes       []string `mapstructure:"BypassSchemes"`
	BypassHostFragments []string `mapstructure:"BypassHostFragments"`
	NotificationRoute   string   `mapstructure:"NotificationRoute"`
	PeriodicSync        bool     `mapstructure:"PeriodicSync"`
}

// StaticCacheName 返回当前版本的静态资源命名空间，例如 property-predictor-static-v1.0.0。
func (w WorkerConfig) StaticCacheName() string {
	return fmt.Sprintf("%s-static-%s", w.CachePrefix, w.CacheVersion)
}

// DynamicCacheName 返回当前版本的运行时缓存命名空间。
func (w WorkerConfig) DynamicCacheName() string {
	return fmt.Sprintf("%s-dynamic-%s", w.CachePrefix, w.CacheVersion)
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Worker WorkerConfig `mapstructure:"Worker"`
}
