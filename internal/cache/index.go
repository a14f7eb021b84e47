package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/natefinch/atomic"
)

const (
	indexFileName = "cached_content_index"
	indexVersion  = 1
)

// indexFile 是内容索引的磁盘格式：key ↔ id 映射、内容长度以及每个 Span 文件的元数据。
type indexFile struct {
	Version  int                     `json:"version"`
	Contents []indexContent          `json:"contents"`
	Files    map[string]fileMetadata `json:"files,omitempty"`
}

type indexContent struct {
	ID            int    `json:"id"`
	Key           string `json:"key"`
	ContentLength int64  `json:"content_length"`
}

type fileMetadata struct {
	Length    int64 `json:"length"`
	LastTouch int64 `json:"last_touch"`
}

// contentIndex 负责读写 indexFile，compress 为 true 时使用 zstd 压缩。
type contentIndex struct {
	path     string
	compress bool
}

func newContentIndex(dir string, compress bool) *contentIndex {
	return &contentIndex{path: filepath.Join(dir, indexFileName), compress: compress}
}

// load 读取索引；文件不存在时返回空索引。
func (idx *contentIndex) load() (*indexFile, error) {
	raw, err := os.ReadFile(idx.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &indexFile{Version: indexVersion}, nil
		}
		return nil, fmt.Errorf("read content index: %w", err)
	}

	if isZstdFrame(raw) {
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		defer decoder.Close()
		raw, err = decoder.DecodeAll(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIndexCorrupted, err)
		}
	}

	var file indexFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexCorrupted, err)
	}
	if file.Version != indexVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrIndexCorrupted, file.Version)
	}
	return &file, nil
}

// store 以临时文件 + rename 的方式原子替换索引。
func (idx *contentIndex) store(file *indexFile) error {
	file.Version = indexVersion
	raw, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode content index: %w", err)
	}
	if idx.compress {
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return fmt.Errorf("create zstd encoder: %w", err)
		}
		raw = encoder.EncodeAll(raw, nil)
		if err := encoder.Close(); err != nil {
			return fmt.Errorf("close zstd encoder: %w", err)
		}
	}
	if err := atomic.WriteFile(idx.path, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("write content index: %w", err)
	}
	return nil
}

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

func isZstdFrame(raw []byte) bool {
	return bytes.HasPrefix(raw, zstdMagic)
}
