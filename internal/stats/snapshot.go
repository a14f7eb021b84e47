package stats

import "time"

// touchLayout 是 lastTouch 的输出格式，始终为 UTC。
const touchLayout = "2006-01-02T15:04:05Z"

// Snapshot 是某一时刻的缓存元数据副本。
type Snapshot struct {
	CacheFolder string  `json:"cacheFolder"`
	CacheSpace  float64 `json:"cacheSpace"`
	Entries     []Entry `json:"entries"`
}

// Entry 对应一个缓存 key 及其已缓存的 Span。
type Entry struct {
	Key         string     `json:"key"`
	CachedSpans []SpanInfo `json:"cachedSpans"`
}

// SpanInfo 是单个 Span 的对外表示。
type SpanInfo struct {
	IsCached  bool    `json:"isCached"`
	Length    float64 `json:"length"`
	Position  float64 `json:"position"`
	LastTouch string  `json:"lastTouch"`
}

// FormatTouch 将毫秒时间戳格式化为 UTC 秒级时间。
func FormatTouch(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(touchLayout)
}

// CachedBytes 汇总已缓存 Span 的长度。
func (s Snapshot) CachedBytes() float64 {
	var total float64
	for _, entry := range s.Entries {
		for _, span := range entry.CachedSpans {
			if span.IsCached && span.Length > 0 {
				total += span.Length
			}
		}
	}
	return total
}

// ToMap 生成与 JSON 编码一致的通用结构，供 bridge 回传。
func (s Snapshot) ToMap() map[string]any {
	entries := make([]any, 0, len(s.Entries))
	for _, entry := range s.Entries {
		spans := make([]any, 0, len(entry.CachedSpans))
		for _, span := range entry.CachedSpans {
			spans = append(spans, map[string]any{
				"isCached":  span.IsCached,
				"length":    span.Length,
				"position":  span.Position,
				"lastTouch": span.LastTouch,
			})
		}
		entries = append(entries, map[string]any{
			"key":         entry.Key,
			"cachedSpans": spans,
		})
	}
	return map[string]any{
		"cacheFolder": s.CacheFolder,
		"cacheSpace":  s.CacheSpace,
		"entries":     entries,
	}
}
