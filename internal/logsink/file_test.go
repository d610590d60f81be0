package logsink

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileSinkFlushWritesJSON(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(FileConfig{Dir: dir, Prefix: "events", Format: FormatJSON})
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}

	ctx := context.Background()
	sink.Log(ctx, Record{ID: "1", CreatedAt: time.Now(), Status: "COMPLETED"})
	sink.Log(ctx, Record{ID: "2", CreatedAt: time.Now(), Status: "FAILED", Error: "boom"})

	if err := sink.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	path := filepath.Join(dir, "events.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected flush to write %s: %v", path, err)
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
}

func TestFileSinkFlushIsNoOpWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(FileConfig{Dir: dir, Prefix: "empty"})
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	if err := sink.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected no files written, got %d", len(entries))
	}
}

func TestFileSinkWritesCSV(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(FileConfig{Dir: dir, Prefix: "events", Format: FormatCSV})
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	ctx := context.Background()
	sink.Log(ctx, Record{ID: "1", CreatedAt: time.Now(), Status: "COMPLETED", Duration: 0.5})
	if err := sink.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "events.csv"))
	if err != nil {
		t.Fatalf("expected csv file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty csv content")
	}
}

func TestFileSinkCloseFlushesWhenAutoSaveEnabled(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(FileConfig{Dir: dir, Prefix: "autosave", AutoSave: true})
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	sink.Log(context.Background(), Record{ID: "1", CreatedAt: time.Now(), Status: "COMPLETED"})

	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "autosave.json")); err != nil {
		t.Fatalf("expected autosave file on close: %v", err)
	}
}

func TestFileSinkCloseWithoutAutoSaveDoesNotFlush(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(FileConfig{Dir: dir, Prefix: "noautosave"})
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	sink.Log(context.Background(), Record{ID: "1", CreatedAt: time.Now(), Status: "COMPLETED"})

	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "noautosave.json")); !os.IsNotExist(err) {
		t.Fatal("expected no file written without AutoSave")
	}
}
