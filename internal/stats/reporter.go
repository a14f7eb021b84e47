package stats

import (
	"context"
	"fmt"

	"github.com/any-hub/spancache/internal/cache"
	"github.com/any-hub/spancache/internal/manager"
)

// Source 是生成快照所需的最小缓存视图，*cache.SimpleCache 满足该接口。
type Source interface {
	Dir() string
	CacheSpace() int64
	Keys() []string
	CachedSpans(key string) ([]cache.Span, error)
}

// ReportError 表示枚举缓存元数据失败，此时不返回部分快照。
type ReportError struct {
	Key string
	Err error
}

func (e *ReportError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("cache stats: %v", e.Err)
	}
	return fmt.Sprintf("cache stats for %q: %v", e.Key, e.Err)
}

func (e *ReportError) Unwrap() error {
	return e.Err
}

// Reporter 从 Manager 当前持有的缓存读取快照。
type Reporter struct {
	source func() (Source, bool)
}

// NewReporter 创建 Reporter；缓存尚未初始化时 Report 返回空快照。
func NewReporter(m *manager.Manager) *Reporter {
	return &Reporter{
		source: func() (Source, bool) {
			c, ok := m.Cache()
			if !ok {
				return nil, false
			}
			return c, true
		},
	}
}

// Report 生成新的快照，每次调用互不共享数据。
func (r *Reporter) Report(ctx context.Context) (Snapshot, error) {
	src, ok := r.source()
	if !ok {
		return Snapshot{Entries: []Entry{}}, nil
	}
	return Build(ctx, src)
}

// Build 遍历 Source 的所有 key，按 key 的内容编号顺序输出，每个 key 只列出已落盘的 Span。
func Build(ctx context.Context, src Source) (Snapshot, error) {
	snapshot := Snapshot{
		CacheFolder: src.Dir(),
		CacheSpace:  float64(src.CacheSpace()),
	}

	keys := src.Keys()
	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, &ReportError{Err: err}
		}
		spans, err := src.CachedSpans(key)
		if err != nil {
			return Snapshot{}, &ReportError{Key: key, Err: err}
		}
		infos := make([]SpanInfo, 0, len(spans))
		for _, span := range spans {
			infos = append(infos, SpanInfo{
				IsCached:  span.IsCached,
				Length:    float64(span.Length),
				Position:  float64(span.Position),
				LastTouch: FormatTouch(span.LastTouch),
			})
		}
		entries = append(entries, Entry{Key: key, CachedSpans: infos})
	}
	snapshot.Entries = entries
	return snapshot, nil
}
