package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/mvn-hub/mvn-hub/internal/cache"
	"github.com/mvn-hub/mvn-hub/internal/config"
	"github.com/mvn-hub/mvn-hub/internal/flight"
	"github.com/mvn-hub/mvn-hub/internal/logging"
	"github.com/mvn-hub/mvn-hub/internal/server"
	"github.com/mvn-hub/mvn-hub/internal/upstream"
)

const (
	headerCacheHit = "X-Mvn-Hub-Cache-Hit"
	headerRepo     = "X-Mvn-Hub-Repo"
	headerChecksum = "X-Checksum-SHA1"
)

// Handler 负责 orchestrate “缓存命中 → 单飞去重 → 按序回退回源 → 写穿透提交”
// 的全流程，对外暴露 Fiber handler，内部复用共享缓存、注册表与 fetcher。
type Handler struct {
	store     cache.Store
	headers   *cache.Headers
	registry  *flight.Registry
	fetcher   *upstream.Fetcher
	endpoints []upstream.Endpoint
	logger    *logrus.Logger

	chunkSize       int
	failFast        bool
	downloadTimeout time.Duration
	slots           chan struct{}
}

// Options 汇总 Handler 的全部依赖，由 main 显式装配。
type Options struct {
	Store    cache.Store
	Headers  *cache.Headers
	Registry *flight.Registry
	Fetcher  *upstream.Fetcher
	Logger   *logrus.Logger
	Config   *config.Config
}

// NewHandler 校验依赖并构造 pipeline handler。
func NewHandler(opts Options) (*Handler, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("flight registry is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("upstream fetcher is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if len(opts.Config.Repositories) == 0 {
		return nil, errors.New("at least one repository is required")
	}

	headers := opts.Headers
	if headers == nil {
		headers = cache.NewHeaders()
	}

	chunkSize := opts.Config.ChunkSize
	if chunkSize <= 0 {
		chunkSize = config.DefaultChunkSize
	}
	workers := opts.Config.DownloadWorkers
	if workers <= 0 {
		workers = config.DefaultDownloadWorkers
	}
	downloadTimeout := opts.Config.DownloadTimeout.DurationValue()
	if downloadTimeout <= 0 {
		downloadTimeout = config.DefaultDownloadTimeout
	}

	return &Handler{
		store:           opts.Store,
		headers:         headers,
		registry:        opts.Registry,
		fetcher:         opts.Fetcher,
		endpoints:       upstream.Endpoints(opts.Config.Repositories),
		logger:          opts.Logger,
		chunkSize:       chunkSize,
		failFast:        opts.Config.FailFast,
		downloadTimeout: downloadTimeout,
		slots:           make(chan struct{}, workers),
	}, nil
}

// Handle 执行缓存查找、单飞去重与回源 streaming，任何阶段出错都会输出结构化日志。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)
	method := c.Method()
	if method != http.MethodGet && method != http.MethodHead {
		return h.writeError(c, fiber.StatusMethodNotAllowed, "method_not_allowed")
	}
	isHead := method == http.MethodHead

	clean, err := NormalizeArtifactPath(string(c.Request().URI().Path()))
	if err != nil {
		h.logRequest(string(c.Request().URI().Path()), "reject", "", 0, fiber.StatusBadRequest, false, requestID, started, err)
		return h.writeError(c, fiber.StatusBadRequest, "invalid_path")
	}

	result, err := h.store.Get(c.Context(), clean)
	switch {
	case err == nil:
		return h.serveCached(c, clean, result, requestID, started, isHead)
	case errors.Is(err, cache.ErrNotFound):
		// miss, continue
	default:
		h.logRequest(clean, "lookup", "", 0, fiber.StatusInternalServerError, false, requestID, started, err)
		return h.writeError(c, fiber.StatusInternalServerError, "storage_failed")
	}

	leader, waiter := h.registry.AttachOrStart(clean)
	if leader != nil {
		return h.serveAsLeader(c, leader, clean, requestID, started, isHead)
	}
	return h.serveAsWaiter(c, waiter, clean, requestID, started, isHead)
}

// serveCached 输出校验头并流式返回缓存正文；支持 If-None-Match 条件请求。
func (h *Handler) serveCached(
	c fiber.Ctx,
	clean string,
	result *cache.ReadResult,
	requestID string,
	started time.Time,
	isHead bool,
) error {
	defer result.Reader.Close()

	validator, err := h.headers.For(result.Entry)
	if err != nil {
		h.logRequest(clean, "serve_cache", "", 0, fiber.StatusInternalServerError, true, requestID, started, err)
		return h.writeError(c, fiber.StatusInternalServerError, "storage_failed")
	}

	c.Set(fiber.HeaderETag, validator.ETag)
	c.Set(fiber.HeaderLastModified, validator.LastModified.UTC().Format(http.TimeFormat))
	c.Set(headerChecksum, validator.SHA1Hex)
	c.Set(headerCacheHit, "true")
	c.Set(fiber.HeaderContentType, artifactContentType(clean))

	if validator.Matches(c.Get(fiber.HeaderIfNoneMatch)) {
		c.Status(fiber.StatusNotModified)
		h.logRequest(clean, "serve_cache", "", 0, fiber.StatusNotModified, true, requestID, started, nil)
		return nil
	}

	c.Response().Header.SetContentLength(int(result.Entry.SizeBytes))
	c.Status(fiber.StatusOK)

	if isHead {
		h.logRequest(clean, "serve_cache", "", 0, fiber.StatusOK, true, requestID, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), result.Reader)
	h.logRequest(clean, "serve_cache", "", 0, fiber.StatusOK, true, requestID, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("read cache failed: %v", err))
	}
	return nil
}

// serveAsLeader 按配置顺序单轮遍历端点链，成功后同时写缓存、回给自身客户端
// 并广播给所有 waiter；下载并发受全局 slot 限制。
func (h *Handler) serveAsLeader(
	c fiber.Ctx,
	leader *flight.Leader,
	clean string,
	requestID string,
	started time.Time,
	isHead bool,
) error {
	// 回源生命周期与客户端连接解耦：leader 的客户端断开不取消共享下载。
	ctx, cancel := context.WithTimeout(context.Background(), h.downloadTimeout)
	defer cancel()

	// attach 与上一次 lookup 之间可能恰好有别的 leader 完成提交。
	if result, err := h.store.Get(ctx, clean); err == nil {
		leader.Resolve(nil)
		return h.serveCached(c, clean, result, requestID, started, isHead)
	}

	if err := h.acquireSlot(ctx); err != nil {
		classified := &upstream.TransientError{Endpoint: "", Err: fmt.Errorf("download slot: %w", err)}
		leader.Resolve(classified)
		h.logRequest(clean, "leader", "", 0, fiber.StatusBadGateway, false, requestID, started, classified)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	defer h.releaseSlot()

	var lastFailure error
	for _, endpoint := range h.endpoints {
		result, err := h.fetcher.Fetch(ctx, endpoint, clean)
		if err == nil {
			return h.streamAndCommit(ctx, c, leader, clean, result, requestID, started, isHead)
		}

		switch {
		case errors.Is(err, upstream.ErrNotFound):
			continue
		case isTransientFailure(err):
			lastFailure = err
			continue
		case isFatalFailure(err):
			lastFailure = err
			if h.failFast {
				// abort-fast：协议级失败不再尝试剩余端点。
				return h.failLeader(c, leader, clean, requestID, started, lastFailure)
			}
			continue
		default:
			// context 到期等不可恢复情况，终止整轮。
			lastFailure = err
			return h.failLeader(c, leader, clean, requestID, started, lastFailure)
		}
	}

	failure := lastFailure
	if failure == nil {
		// 所有端点都明确表示没有该构件；绝不缓存负结果。
		failure = upstream.ErrNotFound
	}
	return h.failLeader(c, leader, clean, requestID, started, failure)
}

func (h *Handler) failLeader(
	c fiber.Ctx,
	leader *flight.Leader,
	clean string,
	requestID string,
	started time.Time,
	failure error,
) error {
	leader.Resolve(failure)
	status, code := failureStatus(failure)
	h.logRequest(clean, "leader", "", 0, status, false, requestID, started, failure)
	return h.writeError(c, status, code)
}

// streamAndCommit 以固定分块推进写穿透：每个分块同时进入临时缓存文件、
// leader 自身客户端与所有 waiter，最后原子 rename 提交。
func (h *Handler) streamAndCommit(
	ctx context.Context,
	c fiber.Ctx,
	leader *flight.Leader,
	clean string,
	result *upstream.Result,
	requestID string,
	started time.Time,
	isHead bool,
) error {
	defer result.Body.Close()

	contentType := result.ContentType
	if contentType == "" {
		contentType = artifactContentType(clean)
	}
	leader.Announce(flight.Announcement{
		ContentType:   contentType,
		ContentLength: result.ContentLength,
	})

	c.Set(fiber.HeaderContentType, contentType)
	c.Set(headerCacheHit, "false")
	c.Set(headerRepo, result.Endpoint.BaseURL)
	if result.ContentLength >= 0 {
		c.Response().Header.SetContentLength(int(result.ContentLength))
	}
	c.Status(fiber.StatusOK)

	var clientWriter io.Writer = c.Response().BodyWriter()
	if isHead {
		clientWriter = io.Discard
	}
	client := &clientSink{dst: clientWriter}

	source := io.TeeReader(
		newChunkReader(result.Body, h.chunkSize),
		io.MultiWriter(client, leader),
	)

	if _, err := h.store.Put(ctx, clean, source, cache.PutOptions{ModTime: result.ModTime}); err != nil {
		classified := classifyCommitFailure(result.Endpoint, err)
		leader.Resolve(classified)
		status, code := failureStatus(classified)
		h.logRequest(clean, "leader", result.Endpoint.BaseURL, result.Endpoint.Ordinal, status, false, requestID, started, classified)
		return h.writeError(c, status, code)
	}

	leader.Resolve(nil)
	h.logRequest(clean, "leader", result.Endpoint.BaseURL, result.Endpoint.Ordinal, fiber.StatusOK, false, requestID, started, client.err)
	return nil
}

// serveAsWaiter 镜像 leader 的广播流；流式开始后才加入的 waiter 等待终态并改读缓存。
func (h *Handler) serveAsWaiter(
	c fiber.Ctx,
	waiter *flight.Waiter,
	clean string,
	requestID string,
	started time.Time,
	isHead bool,
) error {
	ctx := c.Context()

	if !waiter.Live() {
		if err := waiter.Wait(ctx); err != nil {
			status, code := failureStatus(err)
			h.logRequest(clean, "waiter", "", 0, status, false, requestID, started, err)
			return h.writeError(c, status, code)
		}
		return h.serveCommitted(c, clean, requestID, started, isHead)
	}

	info, err := waiter.Announced(ctx)
	if err != nil {
		waiter.Detach()
		if errors.Is(err, flight.ErrCompleted) {
			return h.serveCommitted(c, clean, requestID, started, isHead)
		}
		status, code := failureStatus(err)
		h.logRequest(clean, "waiter", "", 0, status, false, requestID, started, err)
		return h.writeError(c, status, code)
	}

	contentType := info.ContentType
	if contentType == "" {
		contentType = artifactContentType(clean)
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(headerCacheHit, "false")
	if info.ContentLength >= 0 {
		c.Response().Header.SetContentLength(int(info.ContentLength))
	}
	c.Status(fiber.StatusOK)

	if isHead {
		waiter.Detach()
		h.logRequest(clean, "waiter", "", 0, fiber.StatusOK, false, requestID, started, nil)
		return nil
	}

	body := c.Response().BodyWriter()
	for {
		chunk, err := waiter.Next(ctx)
		if err == nil {
			if _, writeErr := body.Write(chunk); writeErr != nil {
				// 自身客户端断开：解挂即可，对 leader 与其他 waiter 无影响。
				waiter.Detach()
				h.logRequest(clean, "waiter", "", 0, fiber.StatusOK, false, requestID, started, writeErr)
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			h.logRequest(clean, "waiter", "", 0, fiber.StatusOK, false, requestID, started, nil)
			return nil
		}
		waiter.Detach()
		status, code := failureStatus(err)
		h.logRequest(clean, "waiter", "", 0, status, false, requestID, started, err)
		return fiber.NewError(status, code)
	}
}

// serveCommitted 在 flight 成功终态后读取刚提交的缓存条目。
func (h *Handler) serveCommitted(
	c fiber.Ctx,
	clean string,
	requestID string,
	started time.Time,
	isHead bool,
) error {
	result, err := h.store.Get(c.Context(), clean)
	if err != nil {
		status := fiber.StatusInternalServerError
		code := "storage_failed"
		if errors.Is(err, cache.ErrNotFound) {
			// 成功终态与条目消失之间只剩显式失效这一种解释。
			status = fiber.StatusNotFound
			code = "not_found"
		}
		h.logRequest(clean, "waiter", "", 0, status, false, requestID, started, err)
		return h.writeError(c, status, code)
	}
	return h.serveCached(c, clean, result, requestID, started, isHead)
}

func (h *Handler) acquireSlot(ctx context.Context) error {
	select {
	case h.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) releaseSlot() {
	<-h.slots
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logRequest(
	path string,
	role string,
	repo string,
	ordinal int,
	status int,
	cacheHit bool,
	requestID string,
	started time.Time,
	err error,
) {
	fields := logging.FetchFields(path, role, repo, ordinal, cacheHit)
	fields["action"] = "artifact"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("artifact_failed")
		return
	}
	h.logger.WithFields(fields).Info("artifact_complete")
}

// failureStatus 把终态错误翻译为响应状态与错误码；waiter 始终与 leader 同类。
func failureStatus(err error) (int, string) {
	var storageErr *cache.StorageError
	var fatal *upstream.FatalError
	var transient *upstream.TransientError
	switch {
	case errors.Is(err, upstream.ErrNotFound):
		return fiber.StatusNotFound, "not_found"
	case errors.As(err, &storageErr):
		return fiber.StatusInternalServerError, "storage_failed"
	case errors.As(err, &fatal):
		return fiber.StatusBadGateway, "upstream_fatal"
	case errors.As(err, &transient):
		return fiber.StatusBadGateway, "upstream_failed"
	case errors.Is(err, flight.ErrLeaderAbandoned):
		return fiber.StatusBadGateway, "fetch_abandoned"
	case errors.Is(err, flight.ErrLagging):
		return fiber.StatusBadGateway, "waiter_lagging"
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "fetch_timeout"
	default:
		return fiber.StatusBadGateway, "upstream_failed"
	}
}

func isTransientFailure(err error) bool {
	var transient *upstream.TransientError
	return errors.As(err, &transient)
}

func isFatalFailure(err error) bool {
	var fatal *upstream.FatalError
	return errors.As(err, &fatal)
}

// classifyCommitFailure 区分磁盘故障与回源流中断：前者保持 StorageError，
// 后者归为当前端点的 transient 失败。
func classifyCommitFailure(endpoint upstream.Endpoint, err error) error {
	var storageErr *cache.StorageError
	if errors.As(err, &storageErr) {
		return err
	}
	return &upstream.TransientError{Endpoint: endpoint.BaseURL, Err: err}
}

// clientSink 吞掉客户端写失败并记住首个错误：单个消费者断开绝不取消共享回源。
type clientSink struct {
	dst io.Writer
	err error
}

func (s *clientSink) Write(p []byte) (int, error) {
	if s.err == nil {
		if _, err := s.dst.Write(p); err != nil {
			s.err = err
		}
	}
	return len(p), nil
}

// chunkReader 把每次 Read 限制在固定分块大小，使写穿透与广播以均匀粒度推进。
type chunkReader struct {
	r    io.Reader
	size int
}

func newChunkReader(r io.Reader, size int) *chunkReader {
	return &chunkReader{r: r, size: size}
}

func (cr *chunkReader) Read(p []byte) (int, error) {
	if len(p) > cr.size {
		p = p[:cr.size]
	}
	return cr.r.Read(p)
}

// artifactContentType 根据扩展名推断常见 Maven 构件类型，未知时回退二进制流。
func artifactContentType(clean string) string {
	switch {
	case strings.HasSuffix(clean, ".jar"),
		strings.HasSuffix(clean, ".war"),
		strings.HasSuffix(clean, ".ear"):
		return "application/java-archive"
	case strings.HasSuffix(clean, ".pom"), strings.HasSuffix(clean, ".xml"):
		return "application/xml"
	case strings.HasSuffix(clean, ".sha1"),
		strings.HasSuffix(clean, ".md5"),
		strings.HasSuffix(clean, ".asc"):
		return "text/plain"
	case strings.HasSuffix(clean, ".module"), strings.HasSuffix(clean, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
