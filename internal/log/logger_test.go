package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/felixgeelhaar/loom/internal/errors"
)

func jsonLogger(buf *bytes.Buffer, level Level) *Logger {
	return New(Config{Level: level, Format: FormatJSON, Output: buf, ServiceName: "loom"})
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	line := strings.TrimSpace(buf.String())
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, line)
	}
	return entry
}

func TestNewFormats(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		check  func(string) bool
	}{
		{"json", FormatJSON, func(s string) bool { return strings.HasPrefix(s, "{") }},
		{"text", FormatText, func(s string) bool { return strings.Contains(s, "msg=hello") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(Config{Level: LevelInfo, Format: tt.format, Output: &buf})
			logger.Info("hello")
			if !tt.check(buf.String()) {
				t.Errorf("unexpected %s output: %s", tt.name, buf.String())
			}
		})
	}
}

func TestServiceAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := jsonLogger(&buf, LevelInfo)
	logger.Info("started")

	entry := decode(t, &buf)
	if entry["service"] != "loom" {
		t.Errorf("expected service=loom, got %v", entry["service"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := jsonLogger(&buf, LevelWarn)

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %s", buf.String())
	}

	logger.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("warn should be logged, got %s", buf.String())
	}
}

func TestSetLevelAffectsDerivedLoggers(t *testing.T) {
	var buf bytes.Buffer
	logger := jsonLogger(&buf, LevelInfo)
	child := logger.ForNode("build")

	child.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered, got %s", buf.String())
	}

	logger.SetLevel(LevelDebug)
	child.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("derived logger should follow SetLevel, got %s", buf.String())
	}
}

func TestScopeHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := jsonLogger(&buf, LevelInfo).ForRun("run-1").ForWave(2).ForNode("D").ForCandidate("candidate-3")
	logger.Info("scoped")

	entry := decode(t, &buf)
	if entry["run_id"] != "run-1" || entry["node_id"] != "D" || entry["candidate_id"] != "candidate-3" {
		t.Errorf("missing scope attributes: %v", entry)
	}
	if entry["wave"] != float64(2) {
		t.Errorf("expected wave=2, got %v", entry["wave"])
	}
}

func TestWithErrorLoomError(t *testing.T) {
	var buf bytes.Buffer
	err := errors.New(errors.ErrCodeConfigInvalid, "bad weights").WithSuggestion("fix them")
	jsonLogger(&buf, LevelInfo).WithError(fmt.Errorf("load: %w", err)).Warn("config")

	entry := decode(t, &buf)
	if entry["error_code"] != "CONFIG-001" {
		t.Errorf("expected error_code CONFIG-001, got %v", entry["error_code"])
	}
	if entry["error"] != "bad weights" {
		t.Errorf("expected error message, got %v", entry["error"])
	}
	if _, ok := entry["suggestions"]; !ok {
		t.Error("expected suggestions")
	}
}

func TestWithErrorTaxonomy(t *testing.T) {
	var buf bytes.Buffer
	err := &errors.ExecutionError{NodeID: "C", Cause: fmt.Errorf("exit status 1")}
	jsonLogger(&buf, LevelInfo).WithError(err).Error("node failed")

	entry := decode(t, &buf)
	if entry["error_code"] != "EXEC-001" {
		t.Errorf("expected error_code EXEC-001, got %v", entry["error_code"])
	}
}

func TestWithErrorNil(t *testing.T) {
	logger := Discard()
	if logger.WithError(nil) != logger {
		t.Error("WithError(nil) should return the same logger")
	}
}

func TestLogErrorContext(t *testing.T) {
	var buf bytes.Buffer
	err := errors.NewPlanNotFoundError("plan.yaml")
	jsonLogger(&buf, LevelInfo).LogErrorContext(context.Background(), err)

	entry := decode(t, &buf)
	if entry["msg"] != "operation failed" {
		t.Errorf("unexpected msg %v", entry["msg"])
	}
	if entry["error_code"] != "PLAN-005" {
		t.Errorf("unexpected code %v", entry["error_code"])
	}
}

func TestParseHelpers(t *testing.T) {
	if ParseLevel("WARNING") != LevelWarn {
		t.Error("ParseLevel WARNING")
	}
	if ParseLevel("nonsense") != LevelInfo {
		t.Error("ParseLevel should default to info")
	}
	if ParseFormat("JSON") != FormatJSON {
		t.Error("ParseFormat JSON")
	}

	cfg := FromSettings("debug", "json", nil)
	if cfg.Level != LevelDebug || cfg.Format != FormatJSON || cfg.Output == nil {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestDefaultLogger(t *testing.T) {
	custom := Discard()
	SetDefaultLogger(custom)
	defer SetDefaultLogger(nil)

	if DefaultLogger() != custom {
		t.Error("DefaultLogger should return the configured logger")
	}

	SetDefaultLogger(nil)
	if DefaultLogger() == nil {
		t.Error("DefaultLogger should lazily create a logger")
	}
}

func TestOrDiscard(t *testing.T) {
	if OrDiscard(nil) == nil {
		t.Fatal("OrDiscard(nil) returned nil")
	}
	l := Discard()
	if OrDiscard(l) != l {
		t.Error("OrDiscard should keep a non-nil logger")
	}
}
