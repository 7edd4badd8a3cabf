package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"dissonance.ai/internal/sim/game"
)

// JSONLZstdWriter appends one JSON value per line to hourly zstd files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst. Reopening an hour appends a new zstd
// frame, which readers decode as one stream.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	clock   func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		clock:   time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.clock().UTC().Format("2006-01-02-15")
	if hour != w.curHour || w.w == nil {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// TickLogger writes one entry per simulated tick under <gameDir>/events.
type TickLogger struct{ w *JSONLZstdWriter }

func NewTickLogger(gameDir string) *TickLogger {
	return &TickLogger{w: NewJSONLZstdWriter(EventsDir(gameDir), "events")}
}

func (l *TickLogger) WriteTick(e game.TickLogEntry) error { return l.w.Write(e) }
func (l *TickLogger) Close() error                        { return l.w.Close() }

// AuditLogger writes structure destruction and loss events under <gameDir>/audit.
type AuditLogger struct{ w *JSONLZstdWriter }

func NewAuditLogger(gameDir string) *AuditLogger {
	return &AuditLogger{w: NewJSONLZstdWriter(AuditDir(gameDir), "audit")}
}

func (l *AuditLogger) WriteAudit(e game.AuditEntry) error { return l.w.Write(e) }
func (l *AuditLogger) Close() error                       { return l.w.Close() }

func EventsDir(gameDir string) string { return filepath.Join(gameDir, "events") }
func AuditDir(gameDir string) string  { return filepath.Join(gameDir, "audit") }

// ListEventFiles returns the tick log files in dir, oldest first. A missing
// dir yields no files.
func ListEventFiles(dir string) ([]string, error) { return listHourly(dir, "events-") }

func ListAuditFiles(dir string) ([]string, error) { return listHourly(dir, "audit-") }

func listHourly(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".jsonl.zst") {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// ReadTickLog decodes every entry in a tick log file and hands it to fn.
// Returning an error from fn stops the scan.
func ReadTickLog(path string, fn func(game.TickLogEntry) error) error {
	return readJSONL(path, func(line []byte) error {
		var e game.TickLogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		return fn(e)
	})
}

// ReadAuditLog is ReadTickLog for audit files.
func ReadAuditLog(path string, fn func(game.AuditEntry) error) error {
	return readJSONL(path, func(line []byte) error {
		var e game.AuditEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		return fn(e)
	})
}

func readJSONL(path string, fn func([]byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	r := bufio.NewReaderSize(dec, 64*1024)
	lineNo := 0
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			line = trimNewline(line)
			if len(line) > 0 {
				if ferr := fn(line); ferr != nil {
					return fmt.Errorf("%s:%d: %w", filepath.Base(path), lineNo, ferr)
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
