package proxy

import (
	"fmt"
	"strconv"
	"strings"
)

// byteRange 表示请求的闭区间，end < 0 表示读到资源末尾。
type byteRange struct {
	start int64
	end   int64
}

func (r byteRange) openEnded() bool {
	return r.end < 0
}

// length 返回区间长度；total 未知且区间开放时返回 -1。
func (r byteRange) length(total int64) int64 {
	end := r.end
	if total >= 0 && (end < 0 || end >= total) {
		end = total - 1
	}
	if end < 0 {
		if total >= 0 {
			return 0
		}
		return -1
	}
	if end < r.start {
		return 0
	}
	return end - r.start + 1
}

func (r byteRange) String() string {
	if r.openEnded() {
		return fmt.Sprintf("%d-", r.start)
	}
	return fmt.Sprintf("%d-%d", r.start, r.end)
}

// parseRange 只接受单段 bytes=a-b 或 bytes=a-；supported 为 false 时调用方应直接透传。
func parseRange(header string) (r byteRange, present bool, supported bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return byteRange{start: 0, end: -1}, false, true
	}
	value, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(value, ",") {
		return byteRange{}, true, false
	}
	startRaw, endRaw, ok := strings.Cut(strings.TrimSpace(value), "-")
	if !ok || startRaw == "" {
		return byteRange{}, true, false
	}
	start, err := strconv.ParseInt(startRaw, 10, 64)
	if err != nil || start < 0 {
		return byteRange{}, true, false
	}
	if endRaw == "" {
		return byteRange{start: start, end: -1}, true, true
	}
	end, err := strconv.ParseInt(endRaw, 10, 64)
	if err != nil || end < start {
		return byteRange{}, true, false
	}
	return byteRange{start: start, end: end}, true, true
}

// parseContentRange 解析 "bytes a-b/total"，total 为 * 时返回 -1。
func parseContentRange(header string) (start, total int64, ok bool) {
	value, found := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !found {
		return 0, -1, false
	}
	rangePart, totalPart, found := strings.Cut(value, "/")
	if !found {
		return 0, -1, false
	}
	startRaw, _, found := strings.Cut(rangePart, "-")
	if !found {
		return 0, -1, false
	}
	start, err := strconv.ParseInt(strings.TrimSpace(startRaw), 10, 64)
	if err != nil {
		return 0, -1, false
	}
	if strings.TrimSpace(totalPart) == "*" {
		return start, -1, true
	}
	total, err = strconv.ParseInt(strings.TrimSpace(totalPart), 10, 64)
	if err != nil || total < 0 {
		return 0, -1, false
	}
	return start, total, true
}
