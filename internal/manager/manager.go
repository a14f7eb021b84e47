package manager

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/spancache/internal/cache"
	"github.com/any-hub/spancache/internal/config"
	"github.com/any-hub/spancache/internal/logging"
)

// Status 区分 Initialize 是否真正创建了实例。
type Status int

const (
	// StatusUnknown 只与错误一同返回。
	StatusUnknown Status = iota
	// StatusInitialized 表示本次调用创建了缓存实例。
	StatusInitialized
	// StatusAlreadyInitialized 表示实例已存在，本次参数被忽略。
	StatusAlreadyInitialized
)

func (s Status) String() string {
	switch s {
	case StatusInitialized:
		return "initialized"
	case StatusAlreadyInitialized:
		return "already_initialized"
	default:
		return "unknown"
	}
}

// CacheConfig 是实例创建时使用的参数，创建后不可变。
type CacheConfig struct {
	Subfolder string
	MaxBytes  int64
}

// DefaultCacheConfig 返回 GetOrCreateDefault 使用的参数。
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Subfolder: config.DefaultCacheChildFolder,
		MaxBytes:  config.DefaultCacheMaxSize,
	}
}

type constructor func(dir string, evictor cache.Evictor, opts ...cache.Option) (*cache.SimpleCache, error)

// Option 调整 Manager 的可选行为。
type Option func(*Manager)

// WithFlushInterval 周期性持久化内容索引（主要是 LastTouch），<= 0 时不启动后台任务。
func WithFlushInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.flushInterval = d
	}
}

// WithIndexCompression 控制内容索引是否以 zstd 压缩写入。
func WithIndexCompression(enabled bool) Option {
	return func(m *Manager) {
		m.cacheOpts = append(m.cacheOpts, cache.WithIndexCompression(enabled))
	}
}

// withConstructor 替换缓存构造函数，测试用于统计构造次数或注入失败。
func withConstructor(fn constructor) Option {
	return func(m *Manager) {
		m.newCache = fn
	}
}

// Manager 持有某个缓存根目录下的唯一 SimpleCache。
type Manager struct {
	root          string
	logger        *logrus.Logger
	cacheOpts     []cache.Option
	flushInterval time.Duration
	newCache      constructor

	mu       sync.Mutex
	instance *cache.SimpleCache
	config   CacheConfig
	closed   bool
	stop     context.CancelFunc
	wg       sync.WaitGroup
}

// New 构造 Manager；root 是应用缓存根目录，子目录在 Initialize 时决定。
func New(root string, logger *logrus.Logger, opts ...Option) (*Manager, error) {
	if root == "" {
		return nil, errors.New("cache root required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache root: %w", err)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	m := &Manager{
		root:     abs,
		logger:   logger,
		newCache: cache.New,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Root 返回应用缓存根目录。
func (m *Manager) Root() string {
	return m.root
}

// Initialize 在 <root>/<subfolder> 创建容量为 maxBytes 的缓存。实例已存在时无论参数是否
// 相同都返回 StatusAlreadyInitialized 且不报错。maxBytes <= 0 会关闭淘汰。
func (m *Manager) Initialize(subfolder string, maxBytes int64) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return StatusUnknown, ErrClosed
	}
	if m.instance != nil {
		if subfolder != m.config.Subfolder || maxBytes != m.config.MaxBytes {
			fields := logging.CacheFields(m.instance.Dir(), m.config.MaxBytes)
			fields["action"] = "cache_initialize"
			fields["ignored_subfolder"] = subfolder
			fields["ignored_max_bytes"] = maxBytes
			m.logger.WithFields(fields).Warn("cache already initialized, parameters ignored")
		}
		return StatusAlreadyInitialized, nil
	}
	if err := m.createLocked(CacheConfig{Subfolder: subfolder, MaxBytes: maxBytes}); err != nil {
		return StatusUnknown, err
	}
	return StatusInitialized, nil
}

// GetOrCreateDefault 返回现有实例，不存在时以默认参数创建。
func (m *Manager) GetOrCreateDefault() (*cache.SimpleCache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.instance == nil {
		if err := m.createLocked(DefaultCacheConfig()); err != nil {
			return nil, err
		}
	}
	return m.instance, nil
}

// Cache 返回当前实例，未初始化时 ok 为 false。
func (m *Manager) Cache() (*cache.SimpleCache, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instance, m.instance != nil
}

// Config 返回实例创建时的参数。
func (m *Manager) Config() (CacheConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config, m.instance != nil
}

// Folder 返回缓存目录，未初始化时为空字符串。
func (m *Manager) Folder() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.instance == nil {
		return ""
	}
	return m.instance.Dir()
}

// Close 停止后台刷新并释放缓存实例，可重复调用。
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	stop := m.stop
	instance := m.instance
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
	m.wg.Wait()

	if instance == nil {
		return nil
	}
	return instance.Release()
}

func (m *Manager) createLocked(cfg CacheConfig) error {
	if err := config.ValidateChildFolder(cfg.Subfolder); err != nil {
		return &InitializationError{
			Subfolder: cfg.Subfolder,
			Err:       fmt.Errorf("%w: %v", ErrInvalidSubfolder, err),
		}
	}

	dir := filepath.Join(m.root, cfg.Subfolder)
	fields := logging.CacheFields(dir, cfg.MaxBytes)
	fields["action"] = "cache_initialize"
	if cfg.MaxBytes <= 0 {
		m.logger.WithFields(fields).Warn("cache max size <= 0, eviction disabled")
	}

	instance, err := m.newCache(dir, cache.NewEvictor(cfg.MaxBytes), m.cacheOpts...)
	if err != nil {
		m.logger.WithFields(fields).WithError(err).Error("cache initialize failed")
		return &InitializationError{Subfolder: cfg.Subfolder, Err: err}
	}

	m.instance = instance
	m.config = cfg
	fields["cache_space"] = instance.CacheSpace()
	fields["keys"] = len(instance.Keys())
	m.logger.WithFields(fields).Info("cache initialized")

	if m.flushInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		m.stop = cancel
		m.wg.Add(1)
		go m.flushLoop(ctx, instance)
	}
	return nil
}

func (m *Manager) flushLoop(ctx context.Context, instance *cache.SimpleCache) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := instance.Flush(); err != nil {
				m.logger.WithFields(logrus.Fields{
					"action":       "index_flush",
					"cache_folder": instance.Dir(),
				}).WithError(err).Warn("cache index flush failed")
			}
		}
	}
}
