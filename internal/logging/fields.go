package logging

import (
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// CacheFields 描述缓存目录与容量，容量同时输出字节数与可读格式。
func CacheFields(folder string, maxBytes int64) logrus.Fields {
	fields := logrus.Fields{
		"cache_folder":    folder,
		"cache_max_bytes": maxBytes,
	}
	if maxBytes > 0 {
		fields["cache_max_size"] = humanize.IBytes(uint64(maxBytes))
	} else {
		fields["cache_max_size"] = "unbounded"
	}
	return fields
}

// RequestFields 提供 media 请求的 key/区间/命中状态字段，供代理日志复用。
func RequestFields(key, byteRange string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"cache_key": key,
		"range":     byteRange,
		"cache_hit": cacheHit,
	}
}
