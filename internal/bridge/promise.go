package bridge

import (
	"context"
	"fmt"
	"sync"
)

// Promise 是宿主侧的一次性回调。
type Promise interface {
	Resolve(value any)
	Reject(code string, err error)
}

// RejectedError 携带宿主可识别的错误码。
type RejectedError struct {
	Code string
	Err  error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

type settlement struct {
	value any
	err   error
}

// ResultPromise 基于 channel 实现 Promise，供 HTTP 路由与测试同步等待结果。
type ResultPromise struct {
	once sync.Once
	done chan settlement
}

// NewResultPromise 创建尚未完成的 ResultPromise。
func NewResultPromise() *ResultPromise {
	return &ResultPromise{done: make(chan settlement, 1)}
}

// Resolve 以 value 完成，重复调用被忽略。
func (p *ResultPromise) Resolve(value any) {
	p.once.Do(func() {
		p.done <- settlement{value: value}
	})
}

// Reject 以错误完成，重复调用被忽略。
func (p *ResultPromise) Reject(code string, err error) {
	p.once.Do(func() {
		p.done <- settlement{err: &RejectedError{Code: code, Err: err}}
	})
}

// Wait 阻塞到 Promise 完成或 ctx 结束。
func (p *ResultPromise) Wait(ctx context.Context) (any, error) {
	select {
	case s := <-p.done:
		p.done <- s
		return s.value, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// onceSettler 包装任意 Promise，保证只投递一次。
type onceSettler struct {
	once  sync.Once
	inner Promise
}

func (s *onceSettler) Resolve(value any) {
	s.once.Do(func() { s.inner.Resolve(value) })
}

func (s *onceSettler) Reject(code string, err error) {
	s.once.Do(func() { s.inner.Reject(code, err) })
}
