package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数、Go Duration 字符串以及 "never"。
type Duration time.Duration

// Never 表示永不过期的 TTL，配置中写作 "never"/"infinite"/"forever"。
const Never Duration = -1

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m"、"never" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := parseDuration(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。Never 返回 0。
func (d Duration) DurationValue() time.Duration {
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// IsNever 判断是否为永不过期。
func (d Duration) IsNever() bool {
	return d < 0
}

// String 输出便于日志阅读的形式。
func (d Duration) String() string {
	if d.IsNever() {
		return "never"
	}
	return time.Duration(d).String()
}

func parseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(raw) {
	case "":
		return Duration(0), nil
	case "never", "infinite", "infinity", "forever":
		return Never, nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		return nonNegative(raw, parsed)
	}

	if intVal, err := parseInt(raw); err == nil {
		return nonNegative(raw, time.Duration(intVal)*time.Second)
	}

	return 0, fmt.Errorf("invalid duration value: %s", raw)
}

// nonNegative 拒绝负数时长，否则 "-1ns" 会与 Never 取值相同。
func nonNegative(raw string, d time.Duration) (Duration, error) {
	if d < 0 {
		return 0, fmt.Errorf("negative duration value: %s", raw)
	}
	return Duration(d), nil
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// CachePolicy 决定目录数据的 TTL 是否生效。
type CachePolicy string

const (
	// CachePolicyTTL 按配置的 TTL 判断新鲜度（默认）。
	CachePolicyTTL CachePolicy = "ttl"
	// CachePolicyManual 所有条目永不过期，只能通过强制刷新替换。
	CachePolicyManual CachePolicy = "manual"
)

// GlobalConfig 描述全局运行时行为，所有目录共享同一份参数。
type GlobalConfig struct {
	ListenPort         int         `mapstructure:"ListenPort"`
	LogLevel           string      `mapstructure:"LogLevel"`
	LogFormat          string      `mapstructure:"LogFormat"`
	LogFilePath        string      `mapstructure:"LogFilePath"`
	LogMaxSize         int         `mapstructure:"LogMaxSize"`
	LogMaxBackups      int         `mapstructure:"LogMaxBackups"`
	LogCompress        bool        `mapstructure:"LogCompress"`
	StoragePath        string      `mapstructure:"StoragePath"`
	StorageDriver      string      `mapstructure:"StorageDriver"`
	CacheTTL           Duration    `mapstructure:"CacheTTL"`
	CachePolicy        CachePolicy `mapstructure:"CachePolicy"`
	APIBaseURL         string      `mapstructure:"APIBaseURL"`
	APIKey             string      `mapstructure:"APIKey"`
	Language           string      `mapstructure:"Language"`
	UpstreamTimeout    Duration    `mapstructure:"UpstreamTimeout"`
	RefreshConcurrency int         `mapstructure:"RefreshConcurrency"`
	RateLimitRequests  int         `mapstructure:"RateLimitRequests"`
	RateLimitWindow    Duration    `mapstructure:"RateLimitWindow"`
}

// CatalogConfig 描述一个可缓存的目录：上游路径、查询参数与可选的 TTL 覆盖。
type CatalogConfig struct {
	Key      string            `mapstructure:"Key"`
	Path     string            `mapstructure:"Path"`
	Params   map[string]string `mapstructure:"Params"`
	CacheTTL Duration          `mapstructure:"CacheTTL"`
	Validate string            `mapstructure:"Validate"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global   GlobalConfig    `mapstructure:",squash"`
	Catalogs []CatalogConfig `mapstructure:"Catalog"`
}

// EffectiveCacheTTL 返回特定目录生效的 TTL，未覆盖时回退至全局值；0 表示永不过期。
func (c *Config) EffectiveCacheTTL(cat CatalogConfig) time.Duration {
	if c.Global.CachePolicy == CachePolicyManual {
		return 0
	}
	if cat.CacheTTL.IsNever() {
		return 0
	}
	if cat.CacheTTL > 0 {
		return cat.CacheTTL.DurationValue()
	}
	return c.Global.CacheTTL.DurationValue()
}

// CatalogKeys 返回配置中声明的目录键摘要，供启动日志使用。
func CatalogKeys(catalogs []CatalogConfig) []string {
	if len(catalogs) == 0 {
		return nil
	}
	result := make([]string, len(catalogs))
	for i, cat := range catalogs {
		result[i] = cat.Key
	}
	return result
}
