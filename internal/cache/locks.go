package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	lockedDirsMu sync.Mutex
	lockedDirs   = make(map[string]struct{})
)

// lockDir 保证同一进程内一个目录只会被一个 SimpleCache 持有。
func lockDir(dir string) error {
	lockedDirsMu.Lock()
	defer lockedDirsMu.Unlock()
	if _, exists := lockedDirs[dir]; exists {
		return fmt.Errorf("%w: %s", ErrFolderLocked, dir)
	}
	lockedDirs[dir] = struct{}{}
	return nil
}

func unlockDir(dir string) {
	lockedDirsMu.Lock()
	delete(lockedDirs, dir)
	lockedDirsMu.Unlock()
}

// keyLocks 通过引用计数的 entryLock 避免同一 key 并发写入。
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (l *keyLocks) lock(key string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*entryLock)
	}
	lock := l.locks[key]
	if lock == nil {
		lock = &entryLock{}
		l.locks[key] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
