package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestLevelFromStringMatchesParseLevel(t *testing.T) {
	if LevelFromString("debug") != slog.LevelDebug {
		t.Fatalf("LevelFromString diverged from parseLevel")
	}
}

func TestDefaultConfigPointsAtDefaultLogPath(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.FilePath != DefaultLogPath() {
		t.Errorf("FilePath = %q, want %q", cfg.FilePath, DefaultLogPath())
	}
	if cfg.Level != "info" {
		t.Errorf("Level = %q, want info", cfg.Level)
	}
}

func TestDebugConfigOverridesLevelOnly(t *testing.T) {
	def := DefaultConfig()
	dbg := DebugConfig()
	if dbg.Level != "debug" {
		t.Errorf("Level = %q, want debug", dbg.Level)
	}
	if dbg.FilePath != def.FilePath || dbg.MaxSizeMB != def.MaxSizeMB {
		t.Errorf("DebugConfig changed fields other than Level: %+v vs %+v", dbg, def)
	}
}

func TestWorkerConfigUsesComponentLogPath(t *testing.T) {
	cfg := WorkerConfig()
	if cfg.Component != "worker" {
		t.Errorf("Component = %q, want worker", cfg.Component)
	}
	if cfg.FilePath != ComponentLogPath("worker") {
		t.Errorf("FilePath = %q, want %q", cfg.FilePath, ComponentLogPath("worker"))
	}
	if cfg.SyncInterval <= 0 {
		t.Errorf("expected a positive SyncInterval for the worker config, got %v", cfg.SyncInterval)
	}
}

func TestComponentLogPathDerivesFromComponentName(t *testing.T) {
	got := ComponentLogPath("worker")
	want := filepath.Join(DefaultLogDir(), "worker.log")
	if got != want {
		t.Errorf("ComponentLogPath(worker) = %q, want %q", got, want)
	}
	if ComponentLogPath("") != DefaultLogPath() {
		t.Errorf("ComponentLogPath(\"\") should fall back to DefaultLogPath")
	}
}

func TestSetupAttachesComponentFieldToRecords(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "worker.log")

	logger, cleanup, err := Setup(Config{
		Level:         "info",
		Component:     "worker",
		FilePath:      logPath,
		WriteToStderr: false,
	})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer cleanup()

	logger.Info("batch complete")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"component":"worker"`) {
		t.Errorf("expected component field in log output, got: %s", data)
	}
}

func TestSetupWritesJSONRecordsToFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "service.log")

	logger, cleanup, err := Setup(Config{
		Level:         "debug",
		FilePath:      logPath,
		MaxSizeMB:     1,
		MaxFiles:      1,
		WriteToStderr: false,
	})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer cleanup()

	logger.Info("hello from test", slog.String("component", "logging_test"))

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected log file to contain output")
	}
}

func TestRotatingWriterSyncIntervalDoesNotBlockWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.log")

	w, err := NewRotatingWriter(path, 10, 5)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer func() { _ = w.Close() }()

	w.SetSyncInterval(time.Hour)
	for i := 0; i < 3; i++ {
		if _, err := w.Write([]byte("line\n")); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if got := strings.Count(string(data), "line\n"); got != 3 {
		t.Errorf("expected 3 written lines regardless of sync throttle, got %d", got)
	}
}

func TestFindLogFileExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.log")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write test log: %v", err)
	}

	got, err := FindLogFile(path)
	if err != nil {
		t.Fatalf("FindLogFile: %v", err)
	}
	if got != path {
		t.Errorf("FindLogFile() = %q, want %q", got, path)
	}
}

func TestFindLogFileMissingExplicitPath(t *testing.T) {
	if _, err := FindLogFile(filepath.Join(t.TempDir(), "missing.log")); err == nil {
		t.Fatal("expected error for missing explicit path")
	}
}
