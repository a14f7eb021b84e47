package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Option 调整 SimpleCache 的可选行为。
type Option func(*SimpleCache)

// WithIndexCompression 控制内容索引是否使用 zstd 压缩，默认开启。
func WithIndexCompression(enabled bool) Option {
	return func(c *SimpleCache) {
		c.compressIndex = enabled
	}
}

// WithClock 替换 LastTouch 使用的时钟，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(c *SimpleCache) {
		if now != nil {
			c.now = now
		}
	}
}

// SimpleCache 是以目录为根的 Span 缓存，所有方法均可并发调用。
type SimpleCache struct {
	dir           string
	evictor       Evictor
	index         *contentIndex
	compressIndex bool
	now           func() time.Time

	mu       sync.RWMutex
	contents map[string]*cachedContent
	nextID   int
	space    int64
	dirty    bool
	released bool

	writers keyLocks
}

// New 打开（或创建）dir 下的缓存，加载内容索引并扫描已有 Span 文件。
// 同一进程内重复打开同一目录会返回 ErrFolderLocked。
func New(dir string, evictor Evictor, opts ...Option) (*SimpleCache, error) {
	if dir == "" {
		return nil, errors.New("cache dir required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}
	if evictor == nil {
		evictor = NoOpEvictor{}
	}
	if err := lockDir(abs); err != nil {
		return nil, err
	}

	c := &SimpleCache{
		dir:           abs,
		evictor:       evictor,
		compressIndex: true,
		now:           time.Now,
		contents:      make(map[string]*cachedContent),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.index = newContentIndex(abs, c.compressIndex)

	if err := c.initialize(); err != nil {
		unlockDir(abs)
		return nil, err
	}
	return c, nil
}

func (c *SimpleCache) initialize() error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	file, err := c.index.load()
	if err != nil {
		return err
	}

	byID := make(map[int]*cachedContent, len(file.Contents))
	for _, stored := range file.Contents {
		content := newCachedContent(stored.ID, stored.Key)
		content.length = stored.ContentLength
		c.contents[stored.Key] = content
		byID[stored.ID] = content
		if stored.ID >= c.nextID {
			c.nextID = stored.ID + 1
		}
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("scan cache dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		filePath := filepath.Join(c.dir, name)
		if strings.HasPrefix(name, spanTempPrefix) {
			_ = os.Remove(filePath)
			c.dirty = true
			continue
		}
		id, position, ok := parseSpanFileName(name)
		if !ok {
			continue
		}
		content := byID[id]
		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("stat span file: %w", err)
		}
		if content == nil || info.Size() == 0 {
			if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("remove orphan span: %w", err)
			}
			c.dirty = true
			continue
		}

		lastTouch := info.ModTime().UnixMilli()
		if meta, ok := file.Files[name]; ok && meta.Length == info.Size() {
			lastTouch = meta.LastTouch
		}
		c.addSpanLocked(content, Span{
			Key:       content.key,
			Position:  position,
			Length:    info.Size(),
			IsCached:  true,
			File:      filePath,
			LastTouch: lastTouch,
		})
	}

	for key, content := range c.contents {
		if content.isEmpty() {
			delete(c.contents, key)
			c.dirty = true
		}
	}
	return c.flushLocked()
}

// Dir 返回缓存根目录的绝对路径。
func (c *SimpleCache) Dir() string {
	return c.dir
}

// MaxBytes 返回淘汰器的容量上限，0 表示不限制。
func (c *SimpleCache) MaxBytes() int64 {
	return c.evictor.MaxBytes()
}

// CacheSpace 返回所有已缓存 Span 占用的字节数。
func (c *SimpleCache) CacheSpace() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.space
}

// Keys 按内容 id（即首次出现顺序）返回索引中的全部 key。
func (c *SimpleCache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.released || len(c.contents) == 0 {
		return nil
	}
	ordered := make([]*cachedContent, 0, len(c.contents))
	for _, content := range c.contents {
		ordered = append(ordered, content)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].id < ordered[j].id
	})
	keys := make([]string, len(ordered))
	for i, content := range ordered {
		keys[i] = content.key
	}
	return keys
}

// Spans 返回 key 的完整区间视图（已缓存 Span 与空洞），不会刷新 LastTouch。
// key 不存在时返回 nil。
func (c *SimpleCache) Spans(key string) ([]Span, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.released {
		return nil, ErrReleased
	}
	content := c.contents[key]
	if content == nil {
		return nil, nil
	}
	return content.layout(), nil
}

// CachedSpans 只返回 key 已落盘的 Span。
func (c *SimpleCache) CachedSpans(key string) ([]Span, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.released {
		return nil, ErrReleased
	}
	content := c.contents[key]
	if content == nil {
		return nil, nil
	}
	return content.cachedOnly(), nil
}

// CachedLength 返回从 position 开始连续缓存的字节数，length 为 -1 时不设上限。
func (c *SimpleCache) CachedLength(key string, position, length int64) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	content := c.contents[key]
	if content == nil || c.released {
		return 0
	}
	return content.cachedLength(position, length)
}

// IsCached 判断 [position, position+length) 是否完整缓存。
func (c *SimpleCache) IsCached(key string, position, length int64) bool {
	if length < 0 {
		return false
	}
	return c.CachedLength(key, position, length) >= length
}

// ContentLength 返回 key 的已知总长度，未知时返回 -1。
func (c *SimpleCache) ContentLength(key string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if content := c.contents[key]; content != nil {
		return content.length
	}
	return LengthUnbounded
}

// SetContentLength 记录 key 的总长度并持久化到索引。
func (c *SimpleCache) SetContentLength(key string, length int64) error {
	if key == "" {
		return errors.New("cache key required")
	}
	if length < 0 {
		length = LengthUnbounded
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return ErrReleased
	}
	content := c.contentLocked(key, -1)
	if content.length == length {
		return nil
	}
	content.length = length
	if content.isEmpty() {
		delete(c.contents, key)
	}
	c.dirty = true
	return c.flushLocked()
}

// Write 将 r 的内容写入 position 所在的空洞，最多写满该空洞，返回新建的 Span。
// 同一 key 的写入串行执行。
func (c *SimpleCache) Write(ctx context.Context, key string, position int64, r io.Reader) (Span, error) {
	if key == "" {
		return Span{}, errors.New("cache key required")
	}
	if position < 0 {
		return Span{}, fmt.Errorf("invalid position: %d", position)
	}

	unlock := c.writers.lock(key)
	defer unlock()

	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return Span{}, ErrReleased
	}
	content := c.contentLocked(key, -1)
	id := content.id
	hole := content.spanAt(position)
	c.mu.Unlock()

	if hole.IsCached {
		return Span{}, ErrAlreadyCached
	}

	src := r
	if !hole.IsOpenEnded() {
		src = io.LimitReader(r, hole.Length)
	}
	written, tempName, err := c.writeTemp(ctx, src)
	if err == nil && written == 0 {
		os.Remove(tempName)
		err = ErrEmptySpan
	}
	if err != nil {
		c.dropIfEmpty(key)
		return Span{}, err
	}

	filePath := filepath.Join(c.dir, spanFileName(id, position))
	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		c.dropIfEmpty(key)
		return Span{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		os.Remove(filePath)
		return Span{}, ErrReleased
	}
	span := Span{
		Key:       key,
		Position:  position,
		Length:    written,
		IsCached:  true,
		File:      filePath,
		LastTouch: c.now().UnixMilli(),
	}
	c.addSpanLocked(c.contentLocked(key, id), span)
	if err := c.flushLocked(); err != nil {
		return span, err
	}
	return span, nil
}

func (c *SimpleCache) writeTemp(ctx context.Context, src io.Reader) (int64, string, error) {
	tempFile, err := os.CreateTemp(c.dir, spanTempPrefix+"*")
	if err != nil {
		return 0, "", err
	}
	tempName := tempFile.Name()

	written, err := copyWithContext(ctx, tempFile, src)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return 0, "", err
	}
	return written, tempName, nil
}

// Open 返回 [position, position+length) 的连续读取器，并刷新涉及 Span 的 LastTouch。
// length 为 -1 时读取到已知内容末尾；区间未完整缓存时返回 ErrNotCached。
func (c *SimpleCache) Open(key string, position, length int64) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil, ErrReleased
	}
	content := c.contents[key]
	if content == nil {
		return nil, ErrNotCached
	}
	if length < 0 {
		if content.length < 0 {
			return nil, ErrNotCached
		}
		length = content.length - position
		if length < 0 {
			return nil, ErrNotCached
		}
	}
	if content.cachedLength(position, length) < length {
		return nil, ErrNotCached
	}

	reader := &rangeReader{}
	now := c.now().UnixMilli()
	cursor := position
	end := position + length
	for cursor < end {
		span := content.spanAt(cursor)
		n := span.End() - cursor
		if n > end-cursor {
			n = end - cursor
		}
		f, err := os.Open(span.File)
		if err != nil {
			reader.Close()
			return nil, fmt.Errorf("open span file: %w", err)
		}
		reader.segments = append(reader.segments, segment{
			file:   f,
			reader: io.NewSectionReader(f, cursor-span.Position, n),
		})
		if old, updated, ok := content.touch(span.File, now); ok {
			c.evictor.OnSpanTouched(old, updated)
			c.dirty = true
		}
		cursor += n
	}
	return reader, nil
}

// RemoveResource 删除 key 的所有 Span 及其索引记录。
func (c *SimpleCache) RemoveResource(key string) error {
	unlock := c.writers.lock(key)
	defer unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return ErrReleased
	}
	content := c.contents[key]
	if content == nil {
		return nil
	}
	var errs []error
	for _, span := range content.cachedOnly() {
		if err := c.removeSpanLocked(span); err != nil {
			errs = append(errs, err)
		}
	}
	delete(c.contents, key)
	c.dirty = true
	errs = append(errs, c.flushLocked())
	return errors.Join(errs...)
}

// RemoveSpan 删除单个已缓存 Span。
func (c *SimpleCache) RemoveSpan(span Span) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return ErrReleased
	}
	if err := c.removeSpanLocked(span); err != nil {
		return err
	}
	return c.flushLocked()
}

// Flush 将内容索引（含 LastTouch）写回磁盘。
func (c *SimpleCache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return ErrReleased
	}
	return c.flushLocked()
}

// Release 持久化索引并释放目录占用，之后的调用返回 ErrReleased。
func (c *SimpleCache) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil
	}
	err := c.flushLocked()
	c.released = true
	unlockDir(c.dir)
	return err
}

// contentLocked 返回 key 对应的内容，不存在时创建；id >= 0 时复用该 id。
func (c *SimpleCache) contentLocked(key string, id int) *cachedContent {
	if content := c.contents[key]; content != nil {
		return content
	}
	if id < 0 {
		id = c.nextID
		c.nextID++
	}
	content := newCachedContent(id, key)
	c.contents[key] = content
	c.dirty = true
	return content
}

func (c *SimpleCache) dropIfEmpty(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if content := c.contents[key]; content != nil && content.isEmpty() {
		delete(c.contents, key)
	}
}

func (c *SimpleCache) addSpanLocked(content *cachedContent, span Span) {
	content.add(span)
	c.space += span.Length
	c.dirty = true
	for _, victim := range c.evictor.OnSpanAdded(span) {
		_ = c.removeSpanLocked(victim)
	}
}

func (c *SimpleCache) removeSpanLocked(span Span) error {
	content := c.contents[span.Key]
	if content == nil {
		return nil
	}
	removed, ok := content.remove(span.File)
	if !ok {
		return nil
	}
	c.space -= removed.Length
	c.evictor.OnSpanRemoved(removed)
	if content.isEmpty() {
		delete(c.contents, span.Key)
	}
	c.dirty = true
	if err := os.Remove(removed.File); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove span file: %w", err)
	}
	return nil
}

func (c *SimpleCache) flushLocked() error {
	if !c.dirty {
		return nil
	}
	file := &indexFile{
		Contents: make([]indexContent, 0, len(c.contents)),
		Files:    make(map[string]fileMetadata),
	}
	for _, content := range c.contents {
		file.Contents = append(file.Contents, indexContent{
			ID:            content.id,
			Key:           content.key,
			ContentLength: content.length,
		})
		for _, span := range content.spans {
			file.Files[filepath.Base(span.File)] = fileMetadata{
				Length:    span.Length,
				LastTouch: span.LastTouch,
			}
		}
	}
	sort.Slice(file.Contents, func(i, j int) bool {
		return file.Contents[i].ID < file.Contents[j].ID
	})
	if err := c.index.store(file); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

type segment struct {
	file   *os.File
	reader io.Reader
}

// rangeReader 依次读取多个 Span 文件片段。文件在 Open 时已打开，
// 之后即使 Span 被淘汰删除也能读完。
type rangeReader struct {
	segments []segment
	current  int
}

func (r *rangeReader) Read(p []byte) (int, error) {
	for r.current < len(r.segments) {
		n, err := r.segments[r.current].reader.Read(p)
		if errors.Is(err, io.EOF) {
			r.segments[r.current].file.Close()
			r.current++
			err = nil
		}
		if n > 0 || err != nil {
			return n, err
		}
	}
	return 0, io.EOF
}

func (r *rangeReader) Close() error {
	var errs []error
	for ; r.current < len(r.segments); r.current++ {
		errs = append(errs, r.segments[r.current].file.Close())
	}
	return errors.Join(errs...)
}
