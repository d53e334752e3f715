package server

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"html/template"
	"strings"

	"github.com/gofiber/fiber/v3"
)

const indexTemplate = `<!DOCTYPE html>
<html>
<head><title>mvn-hub</title></head>
<body>
<h1>mvn-hub</h1>
<p>Caching proxy for Maven artifact repositories. Point your build tool at this
host and artifacts are fetched once, cached locally and served from disk
afterwards.</p>
<h2>Upstream repositories</h2>
<ol>
{{- range .Repositories}}
<li><a href="{{.}}">{{.}}</a></li>
{{- end}}
</ol>
<p><small>{{.Version}} &middot; run {{.RunID}}</small></p>
</body>
</html>
`

// IndexPage 在启动时渲染一次首页并固定其 ETag；配置不变，页面就不变。
type IndexPage struct {
	body []byte
	etag string
}

// NewIndexPage 渲染仓库列表首页。ETag 取正文 SHA-1 的 base64，与正文一一对应。
func NewIndexPage(version, runID string, repositories []string) (*IndexPage, error) {
	tpl, err := template.New("index").Parse(indexTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse index template: %w", err)
	}

	var builder strings.Builder
	data := struct {
		Version      string
		RunID        string
		Repositories []string
	}{
		Version:      version,
		RunID:        runID,
		Repositories: repositories,
	}
	if err := tpl.Execute(&builder, data); err != nil {
		return nil, fmt.Errorf("render index page: %w", err)
	}

	body := []byte(builder.String())
	sum := sha1.Sum(body)
	etag := `"` + base64.StdEncoding.EncodeToString(sum[:]) + `"`

	return &IndexPage{body: body, etag: etag}, nil
}

// Serve 输出首页，支持 If-None-Match 条件请求与 HEAD。
func (p *IndexPage) Serve(c fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	c.Set(fiber.HeaderETag, p.etag)

	if match := c.Get(fiber.HeaderIfNoneMatch); match != "" {
		for _, candidate := range strings.Split(match, ",") {
			trimmed := strings.TrimSpace(candidate)
			if trimmed == "*" || trimmed == p.etag {
				return c.SendStatus(fiber.StatusNotModified)
			}
		}
	}

	c.Response().Header.SetContentLength(len(p.body))
	c.Status(fiber.StatusOK)
	if c.Method() == fiber.MethodHead {
		return nil
	}
	return c.Send(p.body)
}
