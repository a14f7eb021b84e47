package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/any-hub/spancache/internal/cache"
	"github.com/any-hub/spancache/internal/cachekey"
	"github.com/any-hub/spancache/internal/logging"
	"github.com/any-hub/spancache/internal/manager"
	"github.com/any-hub/spancache/internal/server"
)

// Options 描述上游地址、缓存 key 生成方式与回源限速。
type Options struct {
	Upstream   *url.URL
	KeyFactory cachekey.Factory
	// RateLimit 为每秒允许的回源请求数，<= 0 表示不限速。
	RateLimit float64
}

// Handler 负责 orchestrate “区间命中 → 回源补齐空洞 → 从缓存输出” 的流程，
// 无法由缓存完整覆盖时退化为直接透传上游响应。
type Handler struct {
	client  *http.Client
	logger  *logrus.Logger
	manager *manager.Manager
	opts    Options
	limiter *rate.Limiter
	fetches singleflight.Group
}

// NewHandler constructs a media handler with shared HTTP client/logger/cache manager.
func NewHandler(client *http.Client, logger *logrus.Logger, m *manager.Manager, opts Options) (*Handler, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	if m == nil {
		return nil, errors.New("cache manager is required")
	}
	if opts.Upstream == nil {
		return nil, errors.New("upstream is required")
	}
	if opts.KeyFactory == nil {
		opts.KeyFactory = cachekey.PathKey
	}
	if logger == nil {
		logger = logging.Discard()
	}
	h := &Handler{
		client:  client,
		logger:  logger,
		manager: m,
		opts:    opts,
	}
	if opts.RateLimit > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return h, nil
}

type mediaRequest struct {
	path      string
	rawQuery  string
	key       string
	rangeHdr  string
	requested byteRange
	ranged    bool
	requestID string
	started   time.Time
}

// Handle 实现 server.MediaHandler。
func (h *Handler) Handle(c fiber.Ctx) error {
	method := c.Method()
	if method != http.MethodGet && method != http.MethodHead {
		return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{"error": "method_not_allowed"})
	}

	uri := c.Request().URI()
	req := mediaRequest{
		path:      mediaPath(string(uri.Path())),
		rawQuery:  string(uri.QueryString()),
		rangeHdr:  c.Get(fiber.HeaderRange),
		requestID: server.RequestID(c),
		started:   time.Now(),
	}
	req.key = h.opts.KeyFactory(req.path, req.rawQuery)

	requested, ranged, supported := parseRange(req.rangeHdr)
	req.requested = requested
	req.ranged = ranged
	if !supported {
		return h.passThrough(c, &req)
	}

	sc, err := h.manager.GetOrCreateDefault()
	if err != nil {
		h.logger.WithFields(h.fields(&req, false)).WithError(err).Warn("media_cache_unavailable")
		return h.passThrough(c, &req)
	}

	total := sc.ContentLength(req.key)
	if total >= 0 && requested.start >= total && !(requested.start == 0 && total == 0) {
		return h.rangeNotSatisfiable(c, &req, total)
	}
	if n := requested.length(total); n >= 0 && sc.IsCached(req.key, requested.start, n) {
		return h.serveCached(c, sc, &req, total, n, true)
	}
	if method == http.MethodHead {
		return h.passThrough(c, &req)
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := h.fill(ctx, sc, &req); err != nil {
		var statusErr *upstreamStatusError
		if errors.As(err, &statusErr) {
			return h.passThrough(c, &req)
		}
		h.logResult(&req, 0, false, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	total = sc.ContentLength(req.key)
	if total >= 0 && requested.start >= total && !(requested.start == 0 && total == 0) {
		return h.rangeNotSatisfiable(c, &req, total)
	}
	if n := requested.length(total); n >= 0 && sc.IsCached(req.key, requested.start, n) {
		return h.serveCached(c, sc, &req, total, n, false)
	}
	return h.passThrough(c, &req)
}

// fill 回源补齐请求区间内的空洞，相同 key+区间 的并发请求共享一次回源。
func (h *Handler) fill(ctx context.Context, sc *cache.SimpleCache, req *mediaRequest) error {
	flightKey := req.key + "|" + req.requested.String()
	_, err, _ := h.fetches.Do(flightKey, func() (any, error) {
		return nil, h.fillHoles(context.WithoutCancel(ctx), sc, req)
	})
	return err
}

func (h *Handler) fillHoles(ctx context.Context, sc *cache.SimpleCache, req *mediaRequest) error {
	position := req.requested.start
	for {
		total := sc.ContentLength(req.key)
		remaining := byteRange{start: position, end: req.requested.end}.length(total)
		if remaining == 0 {
			return nil
		}
		position += sc.CachedLength(req.key, position, remaining)
		if remaining > 0 && position >= req.requested.start+req.requested.length(total) {
			return nil
		}
		if total >= 0 && position >= total {
			return nil
		}

		written, err := h.fetchInto(ctx, sc, req, byteRange{start: position, end: req.requested.end})
		switch {
		case errors.Is(err, cache.ErrAlreadyCached):
			continue
		case errors.Is(err, cache.ErrEmptySpan):
			return nil
		case err != nil:
			return err
		}
		position += written
	}
}

// fetchInto 以 Range 请求上游并写入 position 处的空洞，返回写入字节数。
func (h *Handler) fetchInto(ctx context.Context, sc *cache.SimpleCache, req *mediaRequest, want byteRange) (int64, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return 0, fmt.Errorf("upstream rate limit: %w", err)
		}
	}

	upstreamReq, err := http.NewRequestWithContext(ctx, http.MethodGet, h.upstreamURL(req).String(), http.NoBody)
	if err != nil {
		return 0, err
	}
	upstreamReq.Header.Set("Range", "bytes="+want.String())
	upstreamReq.Header.Set("Accept-Encoding", "identity")
	if req.requestID != "" {
		upstreamReq.Header.Set("X-Request-ID", req.requestID)
	}

	resp, err := h.client.Do(upstreamReq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body := io.Reader(resp.Body)
	switch resp.StatusCode {
	case http.StatusPartialContent:
		start, total, ok := parseContentRange(resp.Header.Get("Content-Range"))
		if !ok || start != want.start {
			return 0, &upstreamStatusError{status: resp.StatusCode, reason: "unexpected content-range"}
		}
		if total >= 0 {
			if err := sc.SetContentLength(req.key, total); err != nil {
				return 0, err
			}
		}
	case http.StatusOK:
		if resp.ContentLength >= 0 {
			if err := sc.SetContentLength(req.key, resp.ContentLength); err != nil {
				return 0, err
			}
		}
		if want.start > 0 {
			if _, err := io.CopyN(io.Discard, resp.Body, want.start); err != nil {
				return 0, fmt.Errorf("skip upstream prefix: %w", err)
			}
		}
	default:
		return 0, &upstreamStatusError{status: resp.StatusCode}
	}

	tracker := &eofTracker{r: body}
	span, err := sc.Write(ctx, req.key, want.start, tracker)
	if err != nil {
		return 0, err
	}
	if tracker.eof && want.openEnded() && sc.ContentLength(req.key) < 0 {
		if err := sc.SetContentLength(req.key, span.End()); err != nil {
			return span.Length, err
		}
	}
	return span.Length, nil
}

// serveCached 从缓存输出区间；hit 为 false 表示本次请求刚完成回源填充。
func (h *Handler) serveCached(c fiber.Ctx, sc *cache.SimpleCache, req *mediaRequest, total, n int64, hit bool) error {
	reader, err := sc.Open(req.key, req.requested.start, n)
	if err != nil {
		h.logger.WithFields(h.fields(req, hit)).WithError(err).Warn("media_cache_open_failed")
		return h.passThrough(c, req)
	}
	defer reader.Close()

	if ct := contentTypeFor(req.path); ct != "" {
		c.Set(fiber.HeaderContentType, ct)
	} else {
		c.Response().Header.Del(fiber.HeaderContentType)
	}
	c.Set(fiber.HeaderAcceptRanges, "bytes")
	c.Set("X-Cache-Hit", strconv.FormatBool(hit))
	c.Response().Header.SetContentLength(int(n))

	status := fiber.StatusOK
	if req.ranged {
		status = fiber.StatusPartialContent
		c.Set(fiber.HeaderContentRange, contentRange(req.requested.start, n, total))
	}
	c.Status(status)

	if c.Method() == http.MethodHead {
		h.logResult(req, status, hit, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), reader)
	h.logResult(req, status, hit, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("read cache failed: %v", err))
	}
	return nil
}

// passThrough 直接转发请求到上游并原样回传响应，不写缓存。
func (h *Handler) passThrough(c fiber.Ctx, req *mediaRequest) error {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			h.logResult(req, 0, false, err)
			return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
		}
	}

	upstreamReq, err := http.NewRequestWithContext(ctx, c.Method(), h.upstreamURL(req).String(), http.NoBody)
	if err != nil {
		h.logResult(req, 0, false, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	server.CopyHeaders(upstreamReq.Header, fiberHeadersAsHTTP(c))
	upstreamReq.Header.Del("Host")
	upstreamReq.Host = h.opts.Upstream.Host

	resp, err := h.client.Do(upstreamReq)
	if err != nil {
		h.logResult(req, 0, false, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header)
	c.Set("X-Cache-Hit", "false")
	c.Status(resp.StatusCode)

	if c.Method() == http.MethodHead {
		h.logResult(req, resp.StatusCode, false, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(req, resp.StatusCode, false, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (h *Handler) rangeNotSatisfiable(c fiber.Ctx, req *mediaRequest, total int64) error {
	c.Set(fiber.HeaderContentRange, "bytes */"+strconv.FormatInt(total, 10))
	h.logResult(req, fiber.StatusRequestedRangeNotSatisfiable, true, nil)
	return c.Status(fiber.StatusRequestedRangeNotSatisfiable).JSON(fiber.Map{"error": "range_not_satisfiable"})
}

func (h *Handler) upstreamURL(req *mediaRequest) *url.URL {
	base := *h.opts.Upstream
	base.Path = strings.TrimSuffix(base.Path, "/") + req.path
	base.RawPath = ""
	base.RawQuery = req.rawQuery
	return &base
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) fields(req *mediaRequest, cacheHit bool) logrus.Fields {
	fields := logging.RequestFields(req.key, req.rangeHdr, cacheHit)
	fields["action"] = "media"
	fields["upstream"] = h.opts.Upstream.Host
	if req.requestID != "" {
		fields["request_id"] = req.requestID
	}
	return fields
}

func (h *Handler) logResult(req *mediaRequest, status int, cacheHit bool, err error) {
	fields := h.fields(req, cacheHit)
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(req.started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("media_failed")
		return
	}
	h.logger.WithFields(fields).Info("media_complete")
}

// upstreamStatusError 表示上游返回了无法写入缓存的状态码，调用方改为透传。
type upstreamStatusError struct {
	status int
	reason string
}

func (e *upstreamStatusError) Error() string {
	if e.reason != "" {
		return fmt.Sprintf("upstream status %d: %s", e.status, e.reason)
	}
	return fmt.Sprintf("upstream status %d", e.status)
}

// eofTracker 记录上游响应体是否被读到 EOF，用于推断未知的内容长度。
type eofTracker struct {
	r   io.Reader
	eof bool
}

func (t *eofTracker) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if errors.Is(err, io.EOF) {
		t.eof = true
	}
	return n, err
}

func mediaPath(raw string) string {
	rest := strings.TrimPrefix(raw, strings.TrimSuffix(server.MediaPrefix, "/"))
	if rest == "" {
		rest = "/"
	}
	return path.Clean("/" + rest)
}

func contentRange(start, n, total int64) string {
	totalPart := "*"
	if total >= 0 {
		totalPart = strconv.FormatInt(total, 10)
	}
	if n == 0 {
		return "bytes */" + totalPart
	}
	return fmt.Sprintf("bytes %d-%d/%s", start, start+n-1, totalPart)
}

func contentTypeFor(p string) string {
	return mime.TypeByExtension(path.Ext(p))
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}
