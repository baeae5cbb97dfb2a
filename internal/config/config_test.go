package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.CacheTTL.DurationValue() != 30*time.Minute {
		t.Fatalf("CacheTTL 应该自动填充默认值 30m，得到 %s", cfg.Global.CacheTTL)
	}
	if cfg.Global.StoragePath == "" {
		t.Fatalf("StoragePath 应该被保留")
	}
	if cfg.Global.APIBaseURL != "https://api.themoviedb.org/3" {
		t.Fatalf("APIBaseURL 默认值错误: %s", cfg.Global.APIBaseURL)
	}
	if cfg.Global.CachePolicy != CachePolicyTTL {
		t.Fatalf("CachePolicy 默认应为 ttl")
	}
	if len(cfg.Catalogs) != 2 {
		t.Fatalf("应解析出 2 个目录，得到 %d", len(cfg.Catalogs))
	}
	if cfg.Catalogs[1].Params["with_genres"] != "28" {
		t.Fatalf("目录参数解析错误: %v", cfg.Catalogs[1].Params)
	}
	if cfg.EffectiveCacheTTL(cfg.Catalogs[0]) != cfg.Global.CacheTTL.DurationValue() {
		t.Fatalf("目录未设置 TTL 时应退回全局 TTL")
	}
	if cfg.EffectiveCacheTTL(cfg.Catalogs[1]) != 2*time.Hour {
		t.Fatalf("目录 TTL 覆盖应生效")
	}
}

func TestValidateRejectsBadCatalog(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	_, err := Load(cfgPath)
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) {
		t.Fatalf("缺少 Key 的目录应返回 FieldError，得到 %v", err)
	}
	if fieldErr.Field != "Catalog[].Key" {
		t.Fatalf("错误字段不符: %s", fieldErr.Field)
	}
}

func TestEffectiveCacheTTLOverrides(t *testing.T) {
	cfg := &Config{Global: GlobalConfig{CacheTTL: Duration(time.Hour), CachePolicy: CachePolicyTTL}}
	if ttl := cfg.EffectiveCacheTTL(CatalogConfig{CacheTTL: Duration(2 * time.Hour)}); ttl != 2*time.Hour {
		t.Fatalf("覆盖 TTL 应该优先生效")
	}
	if ttl := cfg.EffectiveCacheTTL(CatalogConfig{CacheTTL: Never}); ttl != 0 {
		t.Fatalf("never 应映射为 0（永不过期），得到 %s", ttl)
	}
}

func TestEffectiveCacheTTLManualPolicy(t *testing.T) {
	cfg := &Config{Global: GlobalConfig{CacheTTL: Duration(time.Hour), CachePolicy: CachePolicyManual}}
	if ttl := cfg.EffectiveCacheTTL(CatalogConfig{CacheTTL: Duration(time.Minute)}); ttl != 0 {
		t.Fatalf("manual 策略下所有目录都应永不过期，得到 %s", ttl)
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidatorNames(t *testing.T) {
	testCases := []struct {
		name      string
		validate  string
		shouldErr bool
	}{
		{"default ok", "", false},
		{"list ok", "list", false},
		{"object ok", "object", false},
		{"unsupported", "xml", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Catalogs[0].Validate = tc.validate
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for validator %q", tc.validate)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for validator %q: %v", tc.validate, err)
			}
		})
	}
}

func TestValidateRejectsDuplicateCatalogKeys(t *testing.T) {
	cfg := validConfig()
	cfg.Catalogs = append(cfg.Catalogs, cfg.Catalogs[0])
	if err := cfg.Validate(); err == nil {
		t.Fatalf("重复目录键应报错")
	}
}

func TestValidateRequiresAPIKey(t *testing.T) {
	cfg := validConfig()
	cfg.Global.APIKey = " "
	if err := cfg.Validate(); err == nil {
		t.Fatalf("缺少 APIKey 时应报错")
	}
}

func TestValidateStorageDriver(t *testing.T) {
	cfg := validConfig()
	cfg.Global.StorageDriver = StorageDriverMemory
	cfg.Global.StoragePath = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("memory 驱动不需要 StoragePath: %v", err)
	}
	cfg.Global.StorageDriver = "redis"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("未知存储驱动应报错")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:         5000,
			StoragePath:        "./data",
			StorageDriver:      StorageDriverFile,
			CacheTTL:           Duration(time.Hour),
			CachePolicy:        CachePolicyTTL,
			APIBaseURL:         "https://api.themoviedb.org/3",
			APIKey:             "k",
			UpstreamTimeout:    Duration(time.Second),
			RefreshConcurrency: 2,
			RateLimitRequests:  10,
			RateLimitWindow:    Duration(time.Second),
		},
		Catalogs: []CatalogConfig{
			{
				Key:  "trending_movies",
				Path: "/trending/all/week",
			},
		},
	}
}
