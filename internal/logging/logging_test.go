package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew_JSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.log")

	log, err := New(Config{Level: "debug", Encoding: "json", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	log.Debug("job handled")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	var line map[string]any
	if err := json.Unmarshal(data, &line); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, data)
	}
	if line["message"] != "job handled" || line["level"] != "debug" {
		t.Errorf("line = %v", line)
	}
	if _, ok := line["timestamp"]; !ok {
		t.Error("expected a timestamp field")
	}
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	log, err := New(Config{Level: "chatty"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if log.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug should be disabled")
	}
	if !log.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be enabled")
	}
}

func TestNew_RejectsUnknownEncoding(t *testing.T) {
	if _, err := New(Config{Encoding: "xml"}); err == nil {
		t.Error("expected an error for an unknown encoding")
	}
}
