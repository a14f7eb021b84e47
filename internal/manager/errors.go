package manager

import (
	"errors"
	"fmt"
)

// ErrInvalidSubfolder 表示子目录不是合法的单级相对路径。
var ErrInvalidSubfolder = errors.New("invalid cache subfolder")

// ErrClosed 表示 Manager 已关闭。
var ErrClosed = errors.New("cache manager closed")

// InitializationError 表示缓存实例创建失败（目录不可写、索引无法读取等）。
type InitializationError struct {
	Subfolder string
	Err       error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialize cache %q: %v", e.Subfolder, e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}
