package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// captureLogOutput captures log output for testing by temporarily
// redirecting the logger to write to a buffer
func captureLogOutput(f func()) string {
	var buf bytes.Buffer

	oldLogger := defaultLogger
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	defaultLogger = slog.New(handler)

	f()

	defaultLogger = oldLogger
	return buf.String()
}

func parseLogLine(t *testing.T, line string) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, line)
	}
	return entry
}

func TestLevelHelpers(t *testing.T) {
	tests := []struct {
		name      string
		log       func()
		wantLevel string
		wantMsg   string
	}{
		{"debug", func() { Debug("dbg", "k", "v") }, "DEBUG", "dbg"},
		{"info", func() { Info("inf") }, "INFO", "inf"},
		{"warn", func() { Warn("wrn") }, "WARN", "wrn"},
		{"error", func() { Error("err") }, "ERROR", "err"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := captureLogOutput(tt.log)
			entry := parseLogLine(t, out)
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %v", entry["level"], tt.wantLevel)
			}
			if entry["msg"] != tt.wantMsg {
				t.Errorf("msg = %v, want %v", entry["msg"], tt.wantMsg)
			}
		})
	}
}

func TestOperationIDContext(t *testing.T) {
	ctx := WithOperationID(context.Background(), "01ARZ3NDEKTSV4RRFFQ69G5FAV")
	if got := GetOperationID(ctx); got != "01ARZ3NDEKTSV4RRFFQ69G5FAV" {
		t.Fatalf("GetOperationID = %q", got)
	}
	if got := GetOperationID(context.Background()); got != "" {
		t.Fatalf("GetOperationID on empty context = %q", got)
	}

	out := captureLogOutput(func() {
		InfoContext(ctx, "working")
	})
	entry := parseLogLine(t, out)
	if entry["operation_id"] != "01ARZ3NDEKTSV4RRFFQ69G5FAV" {
		t.Errorf("operation_id missing from context log: %v", entry)
	}
}

func TestImportEvent(t *testing.T) {
	out := captureLogOutput(func() {
		ImportEvent(context.Background(), "png", "chara_card_v3", "Mira", 2048, 15*time.Millisecond, "assets", 2)
	})
	entry := parseLogLine(t, out)
	if entry["msg"] != "card_import" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["format"] != "png" || entry["spec"] != "chara_card_v3" {
		t.Errorf("format/spec wrong: %v", entry)
	}
	if entry["size_bytes"] != float64(2048) {
		t.Errorf("size_bytes = %v", entry["size_bytes"])
	}
	if entry["duration_ms"] != float64(15) {
		t.Errorf("duration_ms = %v", entry["duration_ms"])
	}
	if entry["assets"] != float64(2) {
		t.Errorf("extra args not attached: %v", entry)
	}
}

func TestExportEvent(t *testing.T) {
	out := captureLogOutput(func() {
		ExportEvent(context.Background(), "charx", "chara_card_v3", "Mira", 4096, time.Millisecond)
	})
	entry := parseLogLine(t, out)
	if entry["msg"] != "card_export" || entry["format"] != "charx" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestAssetEvent(t *testing.T) {
	out := captureLogOutput(func() {
		AssetEvent(context.Background(), "import", 3)
	})
	entry := parseLogLine(t, out)
	if entry["direction"] != "import" || entry["count"] != float64(3) {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestFormatFallback(t *testing.T) {
	out := captureLogOutput(func() {
		FormatFallback(context.Background(), "charx", "voxta")
	})
	entry := parseLogLine(t, out)
	if entry["msg"] != "format_fallback" || entry["tried"] != "charx" || entry["next"] != "voxta" {
		t.Errorf("unexpected entry: %v", entry)
	}
}
