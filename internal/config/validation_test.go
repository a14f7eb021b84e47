package config

import (
	"errors"
	"testing"
)

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateChildFolder(t *testing.T) {
	testCases := []struct {
		name      string
		folder    string
		shouldErr bool
	}{
		{"plain ok", "exoplayercache", false},
		{"dotted ok", "video.cache", false},
		{"empty", "", true},
		{"parent escape", "..", true},
		{"current dir", ".", true},
		{"absolute", "/tmp/cache", true},
		{"nested", "a/b", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateChildFolder(tc.folder)
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for folder %q", tc.folder)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for folder %q: %v", tc.folder, err)
			}
		})
	}
}

func TestValidateRejectsUnknownKeyFactory(t *testing.T) {
	cfg := validConfig()
	cfg.Global.CacheKeyFactory = "md5"
	err := cfg.Validate()
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "Global.CacheKeyFactory" {
		t.Fatalf("未知工厂应返回 FieldError，得到 %v", err)
	}
}

func TestValidateRejectsBadUpstream(t *testing.T) {
	cfg := validConfig()
	cfg.Global.Upstream = "ftp://media.example.com"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("非 http 上游应报错")
	}
}

func TestValidateRequiresPositiveMaxSize(t *testing.T) {
	cfg := validConfig()
	cfg.Global.CacheMaxSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("CacheMaxSize 为 0 应报错")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:       5000,
			CacheRoot:        "./data",
			CacheChildFolder: DefaultCacheChildFolder,
			CacheMaxSize:     DefaultCacheMaxSize,
			UpstreamTimeout:  Duration(30e9),
			CacheKeyFactory:  "path",
		},
	}
}
