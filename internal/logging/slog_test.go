package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	t.Run("json at info level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&buf, false)
		logger.Debug("hidden")
		logger.Info("visible", Status(StatusSuccess))

		out := buf.String()
		if strings.Contains(out, "hidden") {
			t.Errorf("debug message should not be logged at info level: %s", out)
		}
		if !strings.Contains(out, `"msg":"visible"`) {
			t.Errorf("expected JSON output, got %s", out)
		}
	})

	t.Run("text at debug level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&buf, true)
		logger.Debug("shown")

		if !strings.Contains(buf.String(), "msg=shown") {
			t.Errorf("expected text output with debug message, got %s", buf.String())
		}
	})
}

func TestWithHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	WithService(WithGroup(WithOperation(logger, "sync"), "attachments"), "gmail").Info("done")

	out := buf.String()
	for _, want := range []string{"operation=sync", "route_group=attachments", "service=gmail"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestAttrs(t *testing.T) {
	tests := []struct {
		name    string
		attr    slog.Attr
		wantKey string
		wantVal string
	}{
		{"operation", Operation("list"), KeyOperation, "list"},
		{"service", Service("drive"), KeyService, "drive"},
		{"status", Status(StatusError), KeyStatus, "error"},
		{"path", Path("/api/logs"), KeyPath, "/api/logs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.attr.Key != tt.wantKey {
				t.Errorf("key = %q, want %q", tt.attr.Key, tt.wantKey)
			}
			if tt.attr.Value.String() != tt.wantVal {
				t.Errorf("value = %q, want %q", tt.attr.Value.String(), tt.wantVal)
			}
		})
	}
}

func TestErr(t *testing.T) {
	if attr := Err(nil); attr.Key != "" {
		t.Errorf("Err(nil) key = %q, want empty", attr.Key)
	}

	attr := Err(errors.New("boom"))
	if attr.Key != KeyError || attr.Value.String() != "boom" {
		t.Errorf("Err() = %v, want error=boom", attr)
	}
}

func TestAnonymizeEmail(t *testing.T) {
	if got := AnonymizeEmail(""); got != "" {
		t.Errorf("AnonymizeEmail(\"\") = %q, want empty", got)
	}

	a := AnonymizeEmail("jane@example.com")
	b := AnonymizeEmail("JANE@example.com")
	if a != b {
		t.Errorf("hash should be case-insensitive: %q != %q", a, b)
	}
	if !strings.HasPrefix(a, "user:") || strings.Contains(a, "jane") {
		t.Errorf("AnonymizeEmail() = %q leaks or lacks prefix", a)
	}
	if UserHash("jane@example.com").Value.String() != a {
		t.Error("UserHash should use AnonymizeEmail")
	}
}

func TestSanitizeToken(t *testing.T) {
	if got := SanitizeToken(""); got != "<empty>" {
		t.Errorf("SanitizeToken(\"\") = %q", got)
	}
	if got := SanitizeToken("ya29.secret"); got != "[token:11 chars]" {
		t.Errorf("SanitizeToken() = %q", got)
	}
}

func TestExtractDomain(t *testing.T) {
	tests := map[string]string{
		"jane@example.com": "example.com",
		"invalid":          "",
		"":                 "",
		"a@b@c":            "",
	}
	for in, want := range tests {
		if got := ExtractDomain(in); got != want {
			t.Errorf("ExtractDomain(%q) = %q, want %q", in, got, want)
		}
	}
}
