package upstream

import (
	"net"
	"net/http"
	"time"

	"github.com/mvn-hub/mvn-hub/internal/config"
)

// NewClient 返回共享 http.Client，用于所有回源请求。
// 不设整体超时：大构件下载时长不可预估，由 pipeline 的下载期限兜底；
// 连接与响应头等待分别由 ConnectTimeout/ResponseTimeout 约束。
func NewClient(cfg *config.Config) *http.Client {
	connectTimeout := config.DefaultConnectTimeout
	if cfg != nil && cfg.ConnectTimeout.DurationValue() > 0 {
		connectTimeout = cfg.ConnectTimeout.DurationValue()
	}
	responseTimeout := config.DefaultResponseTimeout
	if cfg != nil && cfg.ResponseTimeout.DurationValue() > 0 {
		responseTimeout = cfg.ResponseTimeout.DurationValue()
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: responseTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	// 重定向跟随 http.Client 默认策略（最多 10 跳）。
	return &http.Client{Transport: transport}
}
