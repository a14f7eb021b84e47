package cachekey

import (
	"net/url"
	"path"
	"strings"
)

func init() {
	MustRegister(defaultFactoryName, PathKey)
	MustRegister("path-query", PathQueryKey)
}

// PathKey 使用清理后的路径作为 key，忽略查询串。
func PathKey(rawPath, _ string) string {
	return cleanPath(rawPath)
}

// PathQueryKey 在路径后附加按参数名排序的查询串，空查询串时与 PathKey 相同。
func PathQueryKey(rawPath, rawQuery string) string {
	clean := cleanPath(rawPath)
	if strings.TrimSpace(rawQuery) == "" {
		return clean
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return clean + "?" + rawQuery
	}
	encoded := values.Encode()
	if encoded == "" {
		return clean
	}
	return clean + "?" + encoded
}

func cleanPath(raw string) string {
	clean := path.Clean("/" + raw)
	return strings.TrimPrefix(clean, "/")
}
