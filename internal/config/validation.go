package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	StorageDriverFile   = "file"
	StorageDriverMemory = "memory"
)

var supportedValidators = map[string]struct{}{
	"":       {},
	"json":   {},
	"list":   {},
	"object": {},
}

const supportedValidatorList = "json|list|object"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); g.LogLevel != "" && err != nil {
		return newFieldError("Global.LogLevel", "无法识别的日志级别")
	}
	switch g.StorageDriver {
	case StorageDriverFile:
		if g.StoragePath == "" {
			return newFieldError("Global.StoragePath", "不能为空")
		}
	case StorageDriverMemory:
	default:
		return newFieldError("Global.StorageDriver", "仅支持 file|memory")
	}
	if g.CacheTTL == 0 || (g.CacheTTL < 0 && !g.CacheTTL.IsNever()) {
		return newFieldError("Global.CacheTTL", "必须大于 0 或为 never")
	}
	switch g.CachePolicy {
	case CachePolicyTTL, CachePolicyManual:
	default:
		return newFieldError("Global.CachePolicy", "仅支持 ttl|manual")
	}
	if err := validateUpstream(g.APIBaseURL); err != nil {
		return fmt.Errorf("Global.APIBaseURL: %w", err)
	}
	if strings.TrimSpace(g.APIKey) == "" {
		return newFieldError("Global.APIKey", "不能为空（可通过 TMDB_API_KEY 提供）")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.RefreshConcurrency < 1 {
		return newFieldError("Global.RefreshConcurrency", "必须大于 0")
	}
	if g.RateLimitRequests < 0 {
		return newFieldError("Global.RateLimitRequests", "不能为负数")
	}
	if g.RateLimitRequests > 0 && g.RateLimitWindow.DurationValue() <= 0 {
		return newFieldError("Global.RateLimitWindow", "启用限流时必须大于 0")
	}

	seenKeys := map[string]struct{}{}
	for i := range c.Catalogs {
		cat := &c.Catalogs[i]
		if cat.Key == "" {
			return newFieldError("Catalog[].Key", "不能为空")
		}
		if _, exists := seenKeys[cat.Key]; exists {
			return newFieldError(catalogField(cat.Key, "Key"), "重复")
		}
		seenKeys[cat.Key] = struct{}{}

		if cat.Path == "" || cat.Path == "/" {
			return newFieldError(catalogField(cat.Key, "Path"), "不能为空")
		}
		if strings.Contains(cat.Path, "?") {
			return newFieldError(catalogField(cat.Key, "Path"), "查询参数请写入 Params")
		}
		if cat.CacheTTL < 0 && !cat.CacheTTL.IsNever() {
			return newFieldError(catalogField(cat.Key, "CacheTTL"), "不能为负数")
		}
		if _, ok := supportedValidators[cat.Validate]; !ok {
			return newFieldError(catalogField(cat.Key, "Validate"), "仅支持 "+supportedValidatorList)
		}
	}

	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
