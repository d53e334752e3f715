package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Endpoint 描述一个不可变的上游仓库及其在回退链中的序号。
type Endpoint struct {
	BaseURL string
	Ordinal int
}

// Endpoints 将配置中的有序仓库列表转换为带序号的端点链。
func Endpoints(repos []string) []Endpoint {
	result := make([]Endpoint, len(repos))
	for i, repo := range repos {
		result[i] = Endpoint{BaseURL: strings.TrimRight(repo, "/"), Ordinal: i}
	}
	return result
}

// Result 是一次成功回源的流式结果。Body 必须由调用方读尽并关闭；
// fetcher 永远不会把整个构件读进内存。
type Result struct {
	Endpoint      Endpoint
	Status        int
	ContentType   string
	ContentLength int64
	ModTime       time.Time
	Body          io.ReadCloser
}

// Fetcher 针对单个端点做一次流式抓取并分类结果，整站复用共享 client。
type Fetcher struct {
	client *http.Client
	logger *logrus.Logger
}

// NewFetcher constructs a fetcher around the shared upstream HTTP client.
func NewFetcher(client *http.Client, logger *logrus.Logger) *Fetcher {
	return &Fetcher{
		client: client,
		logger: logger,
	}
}

// Fetch 对 endpoint 发起一次 GET。返回值三选一：
// 成功的 *Result、ErrNotFound、或 *TransientError/*FatalError。
func (f *Fetcher) Fetch(ctx context.Context, endpoint Endpoint, artifactPath string) (*Result, error) {
	target := endpoint.BaseURL + "/" + strings.TrimPrefix(artifactPath, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, newFatal(endpoint.BaseURL, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// 连接失败、DNS、TLS、响应头超时等一律按 transient 处理。
		return nil, newTransient(endpoint.BaseURL, err)
	}

	if classified := classifyStatus(endpoint, resp.StatusCode); classified != nil {
		drainAndClose(resp.Body)
		f.logAttempt(endpoint, artifactPath, resp.StatusCode, classified)
		return nil, classified
	}

	f.logAttempt(endpoint, artifactPath, resp.StatusCode, nil)
	return &Result{
		Endpoint:      endpoint,
		Status:        resp.StatusCode,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		ModTime:       extractModTime(resp.Header),
		Body:          resp.Body,
	}, nil
}

// classifyStatus 把非 2xx 状态码翻译为错误分类；2xx 返回 nil。
func classifyStatus(endpoint Endpoint, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound || status == http.StatusGone:
		return ErrNotFound
	case status >= 500 ||
		status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout:
		return newTransient(endpoint.BaseURL, fmt.Errorf("status %d", status))
	default:
		return newFatal(endpoint.BaseURL, fmt.Errorf("unexpected status %d", status))
	}
}

func (f *Fetcher) logAttempt(endpoint Endpoint, artifactPath string, status int, classified error) {
	if f.logger == nil {
		return
	}
	fields := logrus.Fields{
		"action":       "upstream_fetch",
		"repo":         endpoint.BaseURL,
		"repo_ordinal": endpoint.Ordinal,
		"path":         artifactPath,
		"status":       status,
	}
	if classified != nil {
		fields["error"] = classified.Error()
		f.logger.WithFields(fields).Debug("upstream_attempt_failed")
		return
	}
	f.logger.WithFields(fields).Debug("upstream_attempt_ok")
}

// drainAndClose 读尽少量残留正文以便连接复用。
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 8*1024))
	body.Close()
}

func extractModTime(header http.Header) time.Time {
	if last := header.Get("Last-Modified"); last != "" {
		if parsed, err := http.ParseTime(last); err == nil {
			return parsed.UTC()
		}
	}
	return time.Now().UTC()
}
