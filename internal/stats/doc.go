// Package stats 生成缓存元数据的只读快照，不会修改任何 Span 的 LastTouch。
package stats
