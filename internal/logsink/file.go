package logsink

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Format selects the on-disk encoding FileSink writes.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// FileConfig configures a FileSink.
type FileConfig struct {
	Dir    string
	Prefix string
	Format Format

	// IncludeTimestamp and IncludeHash control the
	// {prefix}{timestamp?}{hash?}.{ext} naming rule.
	IncludeTimestamp bool
	IncludeHash      bool

	// AutoSave flushes any buffered records when Close is called,
	// intended to be wired to a shutdown hook.
	AutoSave bool
}

// FileSink buffers Records in memory and flushes them to a single file
// per Flush call, named per FileConfig's naming rule.
type FileSink struct {
	cfg FileConfig

	mu     sync.Mutex
	buffer []Record
}

// NewFileSink constructs a FileSink, creating cfg.Dir if it does not
// exist.
func NewFileSink(cfg FileConfig) (*FileSink, error) {
	if cfg.Format == "" {
		cfg.Format = FormatJSON
	}
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("logsink: create directory: %w", err)
	}
	return &FileSink{cfg: cfg}, nil
}

// Log buffers r for the next Flush.
func (s *FileSink) Log(ctx context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = append(s.buffer, r)
	return nil
}

// Flush writes every buffered Record to a new file and clears the
// buffer. A no-op when nothing is buffered.
func (s *FileSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	records := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	if len(records) == 0 {
		return nil
	}

	path, err := s.filePath(records)
	if err != nil {
		return err
	}

	switch s.cfg.Format {
	case FormatCSV:
		return writeCSV(path, records)
	default:
		return writeJSON(path, records)
	}
}

// Close flushes any remaining records if AutoSave is set.
func (s *FileSink) Close() error {
	if !s.cfg.AutoSave {
		return nil
	}
	return s.Flush(context.Background())
}

func (s *FileSink) filePath(records []Record) (string, error) {
	name := s.cfg.Prefix
	if s.cfg.IncludeTimestamp {
		name += strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	if s.cfg.IncludeHash {
		name += "-" + contentHash(records)
	}
	ext := string(s.cfg.Format)
	if name == "" {
		name = "log"
	}
	return filepath.Join(s.cfg.Dir, name+"."+ext), nil
}

func contentHash(records []Record) string {
	data, _ := json.Marshal(records)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:12]
}

func writeJSON(path string, records []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("logsink: create file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func writeCSV(path string, records []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("logsink: create file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"id", "created_at", "status", "duration_seconds", "response", "error"}); err != nil {
		return err
	}
	for _, r := range records {
		response := ""
		if r.Response != nil {
			if b, err := json.Marshal(r.Response); err == nil {
				response = string(b)
			}
		}
		row := []string{
			r.ID,
			r.CreatedAt.Format(time.RFC3339Nano),
			r.Status,
			strconv.FormatFloat(r.Duration, 'f', -1, 64),
			response,
			r.Error,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}
