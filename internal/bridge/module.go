package bridge

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/spancache/internal/logging"
	"github.com/any-hub/spancache/internal/manager"
	"github.com/any-hub/spancache/internal/stats"
)

// 宿主侧依赖的错误码。
const (
	CodeInitializeCache = "initializeCache error"
	CodeGetCacheStats   = "getCacheStats error"
)

type reporter interface {
	Report(ctx context.Context) (stats.Snapshot, error)
}

// Module 对宿主暴露 initializeCache 与 getCacheStats 两个入口。
type Module struct {
	manager  *manager.Manager
	reporter reporter
	logger   *logrus.Logger
}

// NewModule 绑定 Manager，logger 为空时丢弃日志。
func NewModule(m *manager.Manager, logger *logrus.Logger) *Module {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Module{
		manager:  m,
		reporter: stats.NewReporter(m),
		logger:   logger,
	}
}

// InitializeCache 同步初始化缓存并完成 p；p 为 nil 时失败只记录日志。
func (m *Module) InitializeCache(folder string, maxSize float64, p Promise) {
	fields := logging.CacheFields(folder, toBytes(maxSize))
	fields["action"] = "bridge_initialize"

	status, err := m.manager.Initialize(folder, toBytes(maxSize))
	if err != nil {
		m.logger.WithFields(fields).WithError(err).Error("initializeCache failed")
		if p != nil {
			p.Reject(CodeInitializeCache, err)
		}
		return
	}
	if p == nil {
		return
	}
	p.Resolve(map[string]any{
		"status":      status.String(),
		"cacheFolder": m.manager.Folder(),
	})
}

// GetCacheStats 在独立 goroutine 中生成快照，并保证 p 只被完成一次。
func (m *Module) GetCacheStats(p Promise) {
	if p == nil {
		return
	}
	settler := &onceSettler{inner: p}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.WithField("action", "bridge_stats").Errorf("getCacheStats panic: %v", r)
				settler.Reject(CodeGetCacheStats, fmt.Errorf("panic: %v", r))
			}
		}()

		snapshot, err := m.reporter.Report(context.Background())
		if err != nil {
			m.logger.WithField("action", "bridge_stats").WithError(err).Warn("getCacheStats failed")
			settler.Reject(CodeGetCacheStats, err)
			return
		}
		settler.Resolve(snapshot.ToMap())
	}()
}

// toBytes 将宿主传入的浮点容量转换为字节数，NaN 与负数按不限制处理。
func toBytes(size float64) int64 {
	switch {
	case math.IsNaN(size), size <= 0:
		return 0
	case size >= math.MaxInt64:
		return math.MaxInt64
	default:
		return int64(size)
	}
}
