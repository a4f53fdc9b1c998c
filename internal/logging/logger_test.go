package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	SetBase(zap.New(core))
	t.Cleanup(func() {
		SetBase(nil)
		mu.Lock()
		categories = nil
		mu.Unlock()
	})
	return logs
}

func TestCategoryLoggerIsNamed(t *testing.T) {
	logs := observe(t)

	Engine("loaded %d sessions", 3)
	PipelineWarn("slow task %s", "a.jpg")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].LoggerName != "engine" || entries[0].Message != "loaded 3 sessions" {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].LoggerName != "pipeline" || entries[1].Level != zapcore.WarnLevel {
		t.Errorf("unexpected second entry: %+v", entries[1])
	}
}

func TestDisabledCategoryIsSilent(t *testing.T) {
	logs := observe(t)
	mu.Lock()
	categories = map[string]bool{"ollama": false}
	mu.Unlock()

	Ollama("should not appear")
	Store("should appear")

	if logs.FilterLoggerName("ollama").Len() != 0 {
		t.Error("expected disabled category to be dropped")
	}
	if logs.FilterLoggerName("store").Len() != 1 {
		t.Error("expected enabled category to log")
	}
}

func TestWithAddsFields(t *testing.T) {
	logs := observe(t)

	Get(CategoryPipeline).With("job", "j1").Info("started")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["job"] != "j1" {
		t.Errorf("expected job field, got %v", entries[0].ContextMap())
	}
}

func TestTimerStopWithThreshold(t *testing.T) {
	logs := observe(t)

	timer := StartTimer(CategoryPerformance, "classify")
	timer.start = time.Now().Add(-time.Second)
	elapsed := timer.StopWithThreshold(10 * time.Millisecond)

	if elapsed < time.Second {
		t.Errorf("expected elapsed >= 1s, got %v", elapsed)
	}
	warn := logs.FilterLevelExact(zapcore.WarnLevel).All()
	if len(warn) != 1 || !strings.Contains(warn[0].Message, "classify took") {
		t.Errorf("expected threshold warning, got %+v", logs.All())
	}
}

func TestInitializeWritesFile(t *testing.T) {
	t.Cleanup(func() { SetBase(nil) })
	path := filepath.Join(t.TempDir(), "logs", "photosort.log")

	if err := Initialize(Config{Level: "debug", File: path}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	Store("hello from test")
	Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "hello from test") {
		t.Errorf("log file missing entry: %s", data)
	}
}

func TestInitializeRejectsUnknownLevel(t *testing.T) {
	if err := Initialize(Config{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
