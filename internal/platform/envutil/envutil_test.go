package envutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFloatFallsBackOnGarbage(t *testing.T) {
	t.Setenv("WS_TEST_RATIO", "0.25")
	if got := Float("WS_TEST_RATIO", 0.1); got != 0.25 {
		t.Fatalf("parsed: got=%v", got)
	}
	t.Setenv("WS_TEST_RATIO", "most")
	if got := Float("WS_TEST_RATIO", 0.1); got != 0.1 {
		t.Fatalf("fallback: got=%v", got)
	}
}

func TestDurationAcceptsSecondsAndGoSyntax(t *testing.T) {
	t.Setenv("WS_TEST_TTL", "90")
	if got := Duration("WS_TEST_TTL", time.Minute); got != 90*time.Second {
		t.Fatalf("seconds: got=%s", got)
	}
	t.Setenv("WS_TEST_TTL", "6h")
	if got := Duration("WS_TEST_TTL", time.Minute); got != 6*time.Hour {
		t.Fatalf("go duration: got=%s", got)
	}
	t.Setenv("WS_TEST_TTL", "soon")
	if got := Duration("WS_TEST_TTL", time.Minute); got != time.Minute {
		t.Fatalf("fallback: got=%s", got)
	}
}

func TestLoadFileDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "WS_TEST_FROM_FILE: file-value\nWS_TEST_ALREADY_SET: file-value\nWS_TEST_PORT: 9090\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("WS_TEST_ALREADY_SET", "env-value")
	t.Cleanup(func() {
		_ = os.Unsetenv("WS_TEST_FROM_FILE")
		_ = os.Unsetenv("WS_TEST_PORT")
	})

	n, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if n != 2 {
		t.Fatalf("exported: want=2 got=%d", n)
	}
	if got := String("WS_TEST_FROM_FILE", ""); got != "file-value" {
		t.Fatalf("from file: got=%q", got)
	}
	if got := String("WS_TEST_ALREADY_SET", ""); got != "env-value" {
		t.Fatalf("env must win: got=%q", got)
	}
	if got := Int("WS_TEST_PORT", 0); got != 9090 {
		t.Fatalf("int from file: got=%d", got)
	}
}
