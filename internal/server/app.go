// Package server 装配 Fiber 应用：请求 ID 中间件、首页与 favicon 等固定路由，
// 以及把其余 GET/HEAD 请求交给构件 handler 的兜底路由。
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ArtifactHandler 是构件请求的处理方，便于测试时注入假实现。
type ArtifactHandler interface {
	Handle(fiber.Ctx) error
}

// ArtifactHandlerFunc adapts a function to the ArtifactHandler interface.
type ArtifactHandlerFunc func(fiber.Ctx) error

// Handle makes ArtifactHandlerFunc satisfy ArtifactHandler.
func (f ArtifactHandlerFunc) Handle(c fiber.Ctx) error {
	return f(c)
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Artifacts  ArtifactHandler
	Index      *IndexPage
	RunID      string
	ListenPort int
}

const (
	contextKeyRequestID = "_mvnhub_request_id"

	headerRequestID = "X-Request-ID"
	headerRunID     = "X-Mvn-Hub-Run-Id"
)

// NewApp builds a Fiber application with request-ID middleware and the
// artifact catch-all route.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Artifacts == nil {
		return nil, errors.New("artifact handler is required")
	}
	if opts.Index == nil {
		return nil, errors.New("index page is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.RunID))

	index := func(c fiber.Ctx) error {
		return opts.Index.Serve(c)
	}
	app.Get("/", index)
	app.Head("/", index)

	// 浏览器习惯性探测 favicon，直接宣告永久不存在并允许缓存一天。
	favicon := func(c fiber.Ctx) error {
		c.Set(fiber.HeaderCacheControl, "public, max-age=86400")
		return c.SendStatus(http.StatusGone)
	}
	app.Get("/favicon.ico", favicon)
	app.Head("/favicon.ico", favicon)

	artifacts := func(c fiber.Ctx) error {
		return opts.Artifacts.Handle(c)
	}
	app.Get("/*", artifacts)
	app.Head("/*", artifacts)

	return app, nil
}

// requestContextMiddleware 为每个请求生成 ID，并附带进程级 run ID 方便排障。
func requestContextMiddleware(runID string) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set(headerRequestID, reqID)
		if runID != "" {
			c.Set(headerRunID, runID)
		}
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
