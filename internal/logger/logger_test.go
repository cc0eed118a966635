package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAsyncHandlerWritesLogFile(t *testing.T) {
	dir := t.TempDir()
	handler := NewAsyncHandler(dir, slog.LevelInfo)
	log := slog.New(handler).With("conn", 7).WithGroup("session")

	log.Debug("hidden")
	log.Info("subscribed", "destination", "/a")
	if err := handler.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, time.Now().Format("2006-01-02")+".log"))
	if err != nil {
		t.Fatalf("log file missing: %v", err)
	}
	content := string(data)
	if strings.Contains(content, "hidden") {
		t.Error("debug line written below configured level")
	}
	if !strings.Contains(content, "subscribed") || !strings.Contains(content, "conn=7") || !strings.Contains(content, "session.destination=/a") {
		t.Errorf("unexpected log content %q", content)
	}
}

func TestAsyncHandlerEnabled(t *testing.T) {
	handler := NewAsyncHandler("", slog.LevelWarn)
	defer handler.Close()

	if handler.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled at warn level")
	}
	if !handler.Enabled(context.Background(), LevelFatal) {
		t.Error("fatal should always be enabled")
	}
	// Close 可以重复调用
	_ = handler.Close()
}
