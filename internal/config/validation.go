package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/any-hub/spancache/internal/cachekey"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError(globalField("ListenPort"), "必须在 1-65535")
	}
	if g.CacheRoot == "" {
		return newFieldError(globalField("CacheRoot"), "不能为空")
	}
	if err := ValidateChildFolder(g.CacheChildFolder); err != nil {
		return newFieldError(globalField("CacheChildFolder"), err.Error())
	}
	if g.CacheMaxSize <= 0 {
		return newFieldError(globalField("CacheMaxSize"), "必须大于 0")
	}
	if g.IndexFlushInterval.DurationValue() < 0 {
		return newFieldError(globalField("IndexFlushInterval"), "不能为负数")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError(globalField("UpstreamTimeout"), "必须大于 0")
	}
	if g.UpstreamRateLimit < 0 {
		return newFieldError(globalField("UpstreamRateLimit"), "不能为负数")
	}
	if _, ok := cachekey.Resolve(g.CacheKeyFactory); !ok {
		return newFieldError(globalField("CacheKeyFactory"), "仅支持 "+strings.Join(cachekey.Names(), "|"))
	}
	if g.Upstream != "" {
		if err := validateUpstream(g.Upstream); err != nil {
			return fmt.Errorf("%s: %w", globalField("Upstream"), err)
		}
	}

	return nil
}

// ValidateChildFolder 要求缓存子目录是单个相对路径段，不允许绝对路径或 ..。
func ValidateChildFolder(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("不能为空")
	}
	if name == "." || !filepath.IsLocal(name) || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("必须是单级相对目录: %s", name)
	}
	return nil
}

func validateUpstream(raw string) error {
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
