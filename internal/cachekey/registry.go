package cachekey

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

const defaultFactoryName = "path"

// Factory 根据请求路径与原始查询串计算缓存 key。
type Factory func(path, rawQuery string) string

var globalRegistry = newRegistry()

type registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func newRegistry() *registry {
	return &registry{factories: make(map[string]Factory)}
}

// Register 将工厂加入全局注册表，重复名称会返回错误。
func Register(name string, factory Factory) error {
	return globalRegistry.register(name, factory)
}

// MustRegister 在注册失败时 panic，适合 init() 中调用。
func MustRegister(name string, factory Factory) {
	if err := Register(name, factory); err != nil {
		panic(err)
	}
}

// Resolve 返回指定名称的工厂。
func Resolve(name string) (Factory, bool) {
	return globalRegistry.resolve(name)
}

// Names 返回按名称排序的已注册工厂列表。
func Names() []string {
	return globalRegistry.names()
}

// DefaultName 返回默认工厂名称。
func DefaultName() string {
	return defaultFactoryName
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *registry) register(name string, factory Factory) error {
	key := normalizeName(name)
	if key == "" {
		return fmt.Errorf("factory name is required")
	}
	if factory == nil {
		return fmt.Errorf("factory %s is nil", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[key]; exists {
		return fmt.Errorf("factory %s already registered", key)
	}
	r.factories[key] = factory
	return nil
}

func (r *registry) resolve(name string) (Factory, bool) {
	key := normalizeName(name)
	if key == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[key]
	return factory, ok
}

func (r *registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.factories) == 0 {
		return nil
	}
	result := make([]string, 0, len(r.factories))
	for key := range r.factories {
		result = append(result, key)
	}
	sort.Strings(result)
	return result
}
