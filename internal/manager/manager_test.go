package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/any-hub/spancache/internal/cache"
)

func TestInitializeFirstCallWins(t *testing.T) {
	m := newTestManager(t, t.TempDir())

	status, err := m.Initialize("mycache", 10*1024*1024)
	if err != nil {
		t.Fatalf("initialize error: %v", err)
	}
	if status != StatusInitialized {
		t.Fatalf("expected initialized, got %s", status)
	}

	status, err = m.Initialize("other", 1)
	if err != nil {
		t.Fatalf("second initialize error: %v", err)
	}
	if status != StatusAlreadyInitialized {
		t.Fatalf("expected already_initialized, got %s", status)
	}

	cfg, ok := m.Config()
	if !ok || cfg.Subfolder != "mycache" || cfg.MaxBytes != 10*1024*1024 {
		t.Fatalf("first configuration must stick, got %+v", cfg)
	}
	if got := filepath.Base(m.Folder()); got != "mycache" {
		t.Fatalf("unexpected folder %s", m.Folder())
	}
	if _, err := os.Stat(filepath.Join(m.Root(), "other")); !os.IsNotExist(err) {
		t.Fatalf("ignored subfolder must not be created, stat err=%v", err)
	}
}

func TestGetOrCreateDefaultUsesDefaults(t *testing.T) {
	m := newTestManager(t, t.TempDir())

	if _, ok := m.Cache(); ok {
		t.Fatalf("cache must not exist before first use")
	}
	if m.Folder() != "" {
		t.Fatalf("folder must be empty before first use")
	}

	c, err := m.GetOrCreateDefault()
	if err != nil {
		t.Fatalf("get default error: %v", err)
	}
	if filepath.Base(c.Dir()) != "exoplayercache" {
		t.Fatalf("unexpected default folder %s", c.Dir())
	}
	if c.MaxBytes() != 100*1024*1024 {
		t.Fatalf("unexpected default size %d", c.MaxBytes())
	}

	again, err := m.GetOrCreateDefault()
	if err != nil || again != c {
		t.Fatalf("expected the same instance, err=%v", err)
	}
	if status, _ := m.Initialize("mycache", 1); status != StatusAlreadyInitialized {
		t.Fatalf("initialize after default must report already_initialized")
	}
}

func TestInitializeAfterDefaultKeepsDefault(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	if _, err := m.GetOrCreateDefault(); err != nil {
		t.Fatalf("get default error: %v", err)
	}
	if _, err := m.Initialize("mycache", 1); err != nil {
		t.Fatalf("initialize error: %v", err)
	}
	if filepath.Base(m.Folder()) != "exoplayercache" {
		t.Fatalf("default instance must be kept, got %s", m.Folder())
	}
}

func TestConcurrentInitializeConstructsOnce(t *testing.T) {
	var constructed atomic.Int32
	m := newTestManager(t, t.TempDir(), withConstructor(func(dir string, evictor cache.Evictor, opts ...cache.Option) (*cache.SimpleCache, error) {
		constructed.Add(1)
		return cache.New(dir, evictor, opts...)
	}))

	const workers = 16
	var (
		wg          sync.WaitGroup
		initialized atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var status Status
			var err error
			if i%2 == 0 {
				status, err = m.Initialize("mycache", 1024)
			} else {
				_, err = m.GetOrCreateDefault()
				status = StatusAlreadyInitialized
			}
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			if status == StatusInitialized {
				initialized.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if got := constructed.Load(); got != 1 {
		t.Fatalf("expected exactly one construction, got %d", got)
	}
	if got := initialized.Load(); got > 1 {
		t.Fatalf("at most one caller may observe initialized, got %d", got)
	}
}

func TestInitializeRejectsInvalidSubfolder(t *testing.T) {
	m := newTestManager(t, t.TempDir())

	for _, name := range []string{"", ".", "..", "../escape", "a/b", "/abs"} {
		status, err := m.Initialize(name, 1024)
		if status != StatusUnknown {
			t.Fatalf("%q: failed initialize must not report %s", name, status)
		}
		var initErr *InitializationError
		if !errors.As(err, &initErr) {
			t.Fatalf("%q: expected InitializationError, got %v", name, err)
		}
		if !errors.Is(err, ErrInvalidSubfolder) {
			t.Fatalf("%q: expected ErrInvalidSubfolder, got %v", name, err)
		}
	}
	if _, ok := m.Cache(); ok {
		t.Fatalf("failed initialization must not store an instance")
	}
}

func TestInitializeFailureAllowsRetry(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "blocked")
	if err := os.WriteFile(blocker, []byte("file"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	m := newTestManager(t, blocker)
	_, err := m.Initialize("mycache", 1024)
	var initErr *InitializationError
	if !errors.As(err, &initErr) {
		t.Fatalf("expected InitializationError, got %v", err)
	}
	if initErr.Subfolder != "mycache" {
		t.Fatalf("unexpected subfolder in error: %s", initErr.Subfolder)
	}
	if _, ok := m.Cache(); ok {
		t.Fatalf("failed initialization must not store an instance")
	}

	if err := os.Remove(blocker); err != nil {
		t.Fatalf("remove blocker: %v", err)
	}
	status, err := m.Initialize("mycache", 1024)
	if err != nil || status != StatusInitialized {
		t.Fatalf("retry should succeed, status=%s err=%v", status, err)
	}
}

func TestInitializeNonPositiveSizeDisablesEviction(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	if _, err := m.Initialize("unbounded", 0); err != nil {
		t.Fatalf("initialize error: %v", err)
	}
	c, _ := m.Cache()
	if c.MaxBytes() != 0 {
		t.Fatalf("expected unbounded cache, got max %d", c.MaxBytes())
	}
}

func TestCloseReleasesFolder(t *testing.T) {
	root := t.TempDir()
	m, err := New(root, nil, WithFlushInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := m.Initialize("mycache", 1024); err != nil {
		t.Fatalf("initialize error: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	if err := m.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second close error: %v", err)
	}
	if _, err := m.GetOrCreateDefault(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if status, err := m.Initialize("mycache", 1024); !errors.Is(err, ErrClosed) || status != StatusUnknown {
		t.Fatalf("initialize after close: status=%s err=%v", status, err)
	}

	reopened := newTestManager(t, root)
	if _, err := reopened.Initialize("mycache", 1024); err != nil {
		t.Fatalf("folder must be reusable after close: %v", err)
	}
}

func TestWithIndexCompressionDisabled(t *testing.T) {
	m := newTestManager(t, t.TempDir(), WithIndexCompression(false))
	if _, err := m.Initialize("plain", 1024); err != nil {
		t.Fatalf("initialize error: %v", err)
	}
	c, _ := m.Cache()
	if _, err := c.Write(context.Background(), "video", 0, strings.NewReader("data")); err != nil {
		t.Fatalf("write error: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(m.Folder(), "cached_content_index"))
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	if len(raw) == 0 || raw[0] != '{' {
		t.Fatalf("index should be plain JSON when compression is disabled")
	}
}

func TestNewRequiresRoot(t *testing.T) {
	if _, err := New("", nil); err == nil {
		t.Fatalf("expected error for empty root")
	}
}

func newTestManager(t *testing.T, root string, opts ...Option) *Manager {
	t.Helper()
	m, err := New(root, nil, opts...)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}
