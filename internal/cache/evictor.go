package cache

import "container/list"

// Evictor 决定缓存超过容量时淘汰哪些 Span。SimpleCache 在持锁状态下调用，
// 实现无需自行加锁，也不能回调 SimpleCache。
type Evictor interface {
	// OnSpanAdded 记录新增 Span，并返回需要立即淘汰的 Span 列表。
	OnSpanAdded(span Span) []Span
	// OnSpanRemoved 在 Span 因任何原因被删除后调用，未知 Span 需忽略。
	OnSpanRemoved(span Span)
	// OnSpanTouched 在读取刷新 LastTouch 后调用。
	OnSpanTouched(old, updated Span)
	// MaxBytes 返回容量上限，0 表示不限制。
	MaxBytes() int64
}

// NoOpEvictor 从不淘汰，用于未设置容量上限的缓存。
type NoOpEvictor struct{}

func (NoOpEvictor) OnSpanAdded(Span) []Span  { return nil }
func (NoOpEvictor) OnSpanRemoved(Span)       {}
func (NoOpEvictor) OnSpanTouched(Span, Span) {}
func (NoOpEvictor) MaxBytes() int64          { return 0 }

// LRUEvictor 按 LastTouch 维护 Span 顺序，超出 maxBytes 时从最久未访问的一端淘汰。
// list 头部为最近访问（MRU），尾部为最久未访问（LRU）。
type LRUEvictor struct {
	maxBytes    int64
	currentSize int64
	order       *list.List
	elements    map[string]*list.Element
}

// NewLRUEvictor 构造 LRU 淘汰器；maxBytes <= 0 时调用方应改用 NoOpEvictor。
func NewLRUEvictor(maxBytes int64) *LRUEvictor {
	return &LRUEvictor{
		maxBytes: maxBytes,
		order:    list.New(),
		elements: make(map[string]*list.Element),
	}
}

// NewEvictor 根据容量选择淘汰器：maxBytes <= 0 时不淘汰。
func NewEvictor(maxBytes int64) Evictor {
	if maxBytes <= 0 {
		return NoOpEvictor{}
	}
	return NewLRUEvictor(maxBytes)
}

func (e *LRUEvictor) OnSpanAdded(span Span) []Span {
	e.insert(span)
	e.currentSize += span.Length
	return e.evictOverflow()
}

func (e *LRUEvictor) OnSpanRemoved(span Span) {
	el, ok := e.elements[span.File]
	if !ok {
		return
	}
	e.order.Remove(el)
	delete(e.elements, span.File)
	e.currentSize -= span.Length
}

func (e *LRUEvictor) OnSpanTouched(old, updated Span) {
	el, ok := e.elements[old.File]
	if !ok {
		return
	}
	e.order.Remove(el)
	delete(e.elements, old.File)
	e.insert(updated)
}

// MaxBytes 返回配置的容量上限。
func (e *LRUEvictor) MaxBytes() int64 {
	return e.maxBytes
}

// Size 返回淘汰器当前跟踪的总字节数。
func (e *LRUEvictor) Size() int64 {
	return e.currentSize
}

// insert 按 LastTouch 从新到旧插入；加载阶段的 Span 可能乱序到达。
func (e *LRUEvictor) insert(span Span) {
	for el := e.order.Front(); el != nil; el = el.Next() {
		if el.Value.(Span).LastTouch <= span.LastTouch {
			e.elements[span.File] = e.order.InsertBefore(span, el)
			return
		}
	}
	e.elements[span.File] = e.order.PushBack(span)
}

func (e *LRUEvictor) evictOverflow() []Span {
	var victims []Span
	for e.currentSize > e.maxBytes {
		el := e.order.Back()
		if el == nil {
			break
		}
		victim := el.Value.(Span)
		e.order.Remove(el)
		delete(e.elements, victim.File)
		e.currentSize -= victim.Length
		victims = append(victims, victim)
	}
	return victims
}
