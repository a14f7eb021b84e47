package cache

import "sort"

// cachedContent 保存单个 key 的已缓存 Span（按 Position 升序，互不重叠）与已知内容长度。
type cachedContent struct {
	id     int
	key    string
	length int64
	spans  []Span
}

func newCachedContent(id int, key string) *cachedContent {
	return &cachedContent{id: id, key: key, length: LengthUnbounded}
}

// isEmpty 表示既没有 Span 也没有内容长度，可以从索引移除。
func (c *cachedContent) isEmpty() bool {
	return len(c.spans) == 0 && c.length < 0
}

// search 返回第一个 Position > position 的 Span 下标。
func (c *cachedContent) search(position int64) int {
	return sort.Search(len(c.spans), func(i int) bool {
		return c.spans[i].Position > position
	})
}

// spanAt 返回覆盖 position 的已缓存 Span，若未缓存则返回延伸到下一个 Span
// （或内容末尾、或无界）的空洞。
func (c *cachedContent) spanAt(position int64) Span {
	next := c.search(position)
	if next > 0 {
		if prev := c.spans[next-1]; prev.Contains(position) {
			return prev
		}
	}
	if next < len(c.spans) {
		return holeSpan(c.key, position, c.spans[next].Position-position)
	}
	if c.length >= 0 {
		remaining := c.length - position
		if remaining < 0 {
			remaining = 0
		}
		return holeSpan(c.key, position, remaining)
	}
	return holeSpan(c.key, position, LengthUnbounded)
}

func (c *cachedContent) add(span Span) {
	idx := c.search(span.Position)
	c.spans = append(c.spans, Span{})
	copy(c.spans[idx+1:], c.spans[idx:])
	c.spans[idx] = span
}

func (c *cachedContent) remove(file string) (Span, bool) {
	for i, span := range c.spans {
		if span.File == file {
			c.spans = append(c.spans[:i], c.spans[i+1:]...)
			return span, true
		}
	}
	return Span{}, false
}

// touch 更新指定文件的 LastTouch，返回更新前后的 Span。
func (c *cachedContent) touch(file string, now int64) (Span, Span, bool) {
	for i, span := range c.spans {
		if span.File == file {
			updated := span
			updated.LastTouch = now
			c.spans[i] = updated
			return span, updated, true
		}
	}
	return Span{}, Span{}, false
}

// cachedLength 返回从 position 开始连续缓存的字节数，最多 length（-1 表示不限）。
func (c *cachedContent) cachedLength(position, length int64) int64 {
	var total int64
	cursor := position
	for {
		if length >= 0 && total >= length {
			return length
		}
		span := c.spanAt(cursor)
		if !span.IsCached {
			return total
		}
		total += span.End() - cursor
		cursor = span.End()
	}
}

// layout 返回完整的区间视图：已缓存 Span 与其间空洞交替出现，末尾补齐到内容长度
// 或一个无界空洞。
func (c *cachedContent) layout() []Span {
	result := make([]Span, 0, len(c.spans)*2+1)
	var cursor int64
	for _, span := range c.spans {
		if span.Position > cursor {
			result = append(result, holeSpan(c.key, cursor, span.Position-cursor))
		}
		result = append(result, span)
		cursor = span.End()
	}
	switch {
	case c.length < 0:
		result = append(result, holeSpan(c.key, cursor, LengthUnbounded))
	case cursor < c.length:
		result = append(result, holeSpan(c.key, cursor, c.length-cursor))
	}
	return result
}

func (c *cachedContent) cachedOnly() []Span {
	if len(c.spans) == 0 {
		return nil
	}
	return append([]Span(nil), c.spans...)
}
