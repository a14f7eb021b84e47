package cache

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// LengthUnbounded 表示 Span 一直延伸到资源末尾（长度未知）。
const LengthUnbounded int64 = -1

const (
	spanFileSuffix = ".span"
	spanTempPrefix = ".span-"
)

// Span 描述某个 key 下一段连续的字节区间，IsCached 为 false 时表示“空洞”。
type Span struct {
	Key       string `json:"key"`
	Position  int64  `json:"position"`
	Length    int64  `json:"length"`
	IsCached  bool   `json:"is_cached"`
	File      string `json:"-"`
	LastTouch int64  `json:"last_touch"`
}

// IsOpenEnded 判断 Span 是否没有明确的结束位置。
func (s Span) IsOpenEnded() bool {
	return s.Length == LengthUnbounded
}

// End 返回区间结束位置（不含），open-ended 时返回 -1。
func (s Span) End() int64 {
	if s.IsOpenEnded() {
		return -1
	}
	return s.Position + s.Length
}

// Contains 判断 position 是否落在当前区间内。
func (s Span) Contains(position int64) bool {
	if position < s.Position {
		return false
	}
	return s.IsOpenEnded() || position < s.Position+s.Length
}

func holeSpan(key string, position, length int64) Span {
	return Span{Key: key, Position: position, Length: length}
}

// spanFileName 生成 <id>.<position>.span 形式的文件名。
func spanFileName(id int, position int64) string {
	return fmt.Sprintf("%d.%d%s", id, position, spanFileSuffix)
}

// parseSpanFileName 解析 spanFileName 的结果，非 Span 文件返回 ok=false。
func parseSpanFileName(name string) (id int, position int64, ok bool) {
	if !strings.HasSuffix(name, spanFileSuffix) {
		return 0, 0, false
	}
	parts := strings.Split(strings.TrimSuffix(name, spanFileSuffix), ".")
	if len(parts) != 2 {
		return 0, 0, false
	}
	parsedID, err := strconv.Atoi(parts[0])
	if err != nil || parsedID < 0 {
		return 0, 0, false
	}
	parsedPos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || parsedPos < 0 {
		return 0, 0, false
	}
	return parsedID, parsedPos, true
}

var (
	// ErrFolderLocked 表示目录已被当前进程内的另一个 SimpleCache 持有。
	ErrFolderLocked = errors.New("cache folder already in use")
	// ErrReleased 表示缓存实例已经 Release，不能再使用。
	ErrReleased = errors.New("cache released")
	// ErrNotCached 表示请求的区间没有完整落盘。
	ErrNotCached = errors.New("range not cached")
	// ErrAlreadyCached 表示写入起点已经位于已缓存的 Span 内。
	ErrAlreadyCached = errors.New("position already cached")
	// ErrEmptySpan 表示写入源没有产生任何字节。
	ErrEmptySpan = errors.New("empty span")
	// ErrIndexCorrupted 表示内容索引文件无法解析。
	ErrIndexCorrupted = errors.New("content index corrupted")
)
