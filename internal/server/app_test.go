package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

func newTestApp(t *testing.T, handler ArtifactHandler) *fiber.App {
	t.Helper()

	index, err := NewIndexPage("mvn-hub test", "run-test", []string{
		"https://repo.maven.apache.org/maven2/",
	})
	if err != nil {
		t.Fatalf("build index page: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	app, err := NewApp(AppOptions{
		Logger:     logger,
		Artifacts:  handler,
		Index:      index,
		RunID:      "run-test",
		ListenPort: 5956,
	})
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	return app
}

func TestAppServesIndexWithETag(t *testing.T) {
	app := newTestApp(t, ArtifactHandlerFunc(func(c fiber.Ctx) error {
		t.Fatal("index request must not reach the artifact handler")
		return nil
	}))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	etag := resp.Header.Get("ETag")
	if etag == "" {
		t.Fatal("index response should carry an ETag")
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "repo.maven.apache.org") {
		t.Fatalf("index should list repositories, got %s", string(body))
	}

	conditional := httptest.NewRequest(http.MethodGet, "/", nil)
	conditional.Header.Set("If-None-Match", etag)
	resp2, err := app.Test(conditional)
	if err != nil {
		t.Fatalf("conditional request error: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotModified {
		t.Fatalf("expected 304 on matching ETag, got %d", resp2.StatusCode)
	}
}

func TestAppFaviconGone(t *testing.T) {
	app := newTestApp(t, ArtifactHandlerFunc(func(c fiber.Ctx) error {
		t.Fatal("favicon request must not reach the artifact handler")
		return nil
	}))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/favicon.ico", nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusGone {
		t.Fatalf("expected 410, got %d", resp.StatusCode)
	}
	if cc := resp.Header.Get("Cache-Control"); !strings.Contains(cc, "max-age") {
		t.Fatalf("favicon response should be cacheable, got %q", cc)
	}
}

func TestAppRoutesArtifactsWithRequestID(t *testing.T) {
	var seenPath, seenReqID string
	app := newTestApp(t, ArtifactHandlerFunc(func(c fiber.Ctx) error {
		seenPath = string(c.Request().URI().Path())
		seenReqID = RequestID(c)
		return c.SendStatus(http.StatusOK)
	}))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/com/acme/widget/1.0/widget-1.0.jar", nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	defer resp.Body.Close()

	if seenPath != "/com/acme/widget/1.0/widget-1.0.jar" {
		t.Fatalf("artifact handler saw wrong path: %s", seenPath)
	}
	if seenReqID == "" {
		t.Fatal("request ID should be available to the artifact handler")
	}
	if resp.Header.Get("X-Request-ID") != seenReqID {
		t.Fatalf("response header should expose the same request ID, got %q", resp.Header.Get("X-Request-ID"))
	}
	if resp.Header.Get("X-Mvn-Hub-Run-Id") != "run-test" {
		t.Fatalf("run ID header missing, got %q", resp.Header.Get("X-Mvn-Hub-Run-Id"))
	}
}

func TestNewAppValidatesDependencies(t *testing.T) {
	index, err := NewIndexPage("v", "r", []string{"https://example.com/"})
	if err != nil {
		t.Fatalf("build index page: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	if _, err := NewApp(AppOptions{Logger: logger, Index: index, ListenPort: 5956}); err == nil {
		t.Fatal("missing artifact handler should be rejected")
	}
	handler := ArtifactHandlerFunc(func(c fiber.Ctx) error { return nil })
	if _, err := NewApp(AppOptions{Logger: logger, Artifacts: handler, Index: index, ListenPort: 0}); err == nil {
		t.Fatal("invalid port should be rejected")
	}
}
