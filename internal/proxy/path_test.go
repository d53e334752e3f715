package proxy

import (
	"errors"
	"testing"
)

func TestNormalizeArtifactPath(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    string
		invalid bool
	}{
		{name: "plain artifact", raw: "/com/acme/widget/1.0/widget-1.0.jar", want: "com/acme/widget/1.0/widget-1.0.jar"},
		{name: "no leading slash", raw: "com/acme/widget/1.0/widget-1.0.pom", want: "com/acme/widget/1.0/widget-1.0.pom"},
		{name: "percent decoding", raw: "/com/acme/widget/1.0/widget%2D1.0.jar", want: "com/acme/widget/1.0/widget-1.0.jar"},
		{name: "backslash separators", raw: `com\acme\widget\1.0\widget-1.0.jar`, want: "com/acme/widget/1.0/widget-1.0.jar"},
		{name: "duplicate slashes collapse", raw: "/com//acme/widget.jar", want: "com/acme/widget.jar"},
		{name: "empty", raw: "", invalid: true},
		{name: "root only", raw: "/", invalid: true},
		{name: "dot segment", raw: "/com/./widget.jar", invalid: true},
		{name: "traversal", raw: "/../../etc/passwd", invalid: true},
		{name: "encoded traversal", raw: "/com/%2e%2e/secret.jar", invalid: true},
		{name: "bad escape", raw: "/com/%zz/widget.jar", invalid: true},
		{name: "nul byte", raw: "/com/%00/widget.jar", invalid: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeArtifactPath(tc.raw)
			if tc.invalid {
				if !errors.Is(err, ErrInvalidPath) {
					t.Fatalf("expected ErrInvalidPath, got %q / %v", got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestNormalizeArtifactPathIsCaseSensitive(t *testing.T) {
	upper, err := NormalizeArtifactPath("/com/Acme/Widget-1.0.JAR")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lower, err := NormalizeArtifactPath("/com/acme/widget-1.0.jar")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if upper == lower {
		t.Fatal("paths differing in case must map to distinct keys")
	}
}
