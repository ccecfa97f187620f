// Package journal persists a line-per-message trace of everything the
// coordinator routes. Entries are JSON lines in date-organized directories;
// image payloads are reduced to their byte size so the journal stays small.
package journal

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/uiforensics/elementcap/internal/protocol"
)

// htmlPreviewBytes caps how much selection markup one entry carries.
const htmlPreviewBytes = 512

// Entry is one journaled message.
type Entry struct {
	Timestamp   string `json:"ts"`
	Direction   string `json:"direction"`
	Type        string `json:"type"`
	SessionKey  string `json:"session_key"`
	Selection   bool   `json:"selection,omitempty"`
	HTMLPreview string `json:"html_preview,omitempty"`
	HTMLBytes   int    `json:"html_bytes,omitempty"`
	HTMLSHA256  string `json:"html_sha256,omitempty"`
	ImageBytes  int    `json:"image_bytes,omitempty"`
	NoticeCode  string `json:"notice_code,omitempty"`
}

// truncateBytes caps a payload at maxBytes and, when it cut anything,
// reports the original length and content hash so the full payload stays
// identifiable.
func truncateBytes(in []byte, maxBytes int) ([]byte, bool, int, string) {
	if maxBytes <= 0 || len(in) <= maxBytes {
		return in, false, len(in), ""
	}
	sum := sha256.Sum256(in)
	return in[:maxBytes], true, len(in), hex.EncodeToString(sum[:])
}

// Writer journals messages asynchronously. A full buffer drops entries
// rather than stalling the routing path.
type Writer struct {
	baseDir   string
	maxSizeMB int

	writeCh chan Entry
	done    chan struct{}
	wg      sync.WaitGroup

	mu          sync.Mutex
	currentDate string
	logger      *lumberjack.Logger
}

// NewWriter starts a journal rooted at baseDir.
func NewWriter(baseDir string, bufferSize, maxSizeMB int) *Writer {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	w := &Writer{
		baseDir:   baseDir,
		maxSizeMB: maxSizeMB,
		writeCh:   make(chan Entry, bufferSize),
		done:      make(chan struct{}),
	}
	w.wg.Add(1)
	go w.writeLoop()
	return w
}

// Record implements the coordinator's journal hook.
func (w *Writer) Record(direction string, msg protocol.Message) {
	entry := Entry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Direction:  direction,
		Type:       string(msg.Type),
		SessionKey: msg.SessionKey,
		Selection:  msg.Selection != nil,
	}
	if msg.Selection != nil {
		preview, truncated, size, sum := truncateBytes([]byte(msg.Selection.Code.HTML), htmlPreviewBytes)
		entry.HTMLPreview = string(preview)
		entry.HTMLBytes = size
		if truncated {
			entry.HTMLSHA256 = sum
		}
	}
	if msg.Capture != nil {
		entry.ImageBytes = len(msg.Capture.Data)
	}
	if msg.Notice != nil {
		entry.NoticeCode = msg.Notice.Code
	}

	select {
	case w.writeCh <- entry:
	case <-w.done:
	default:
		slog.Warn("journal buffer full, dropping entry", "type", entry.Type)
	}
}

// Close flushes pending entries and closes the underlying file.
func (w *Writer) Close() error {
	close(w.done)

	timeout := time.After(5 * time.Second)
drain:
	for {
		select {
		case entry := <-w.writeCh:
			w.writeEntry(entry)
		case <-timeout:
			slog.Warn("journal close timeout, entries may be lost")
			break drain
		default:
			break drain
		}
	}
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.logger != nil {
		return w.logger.Close()
	}
	return nil
}

func (w *Writer) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case entry := <-w.writeCh:
			w.writeEntry(entry)
		case <-w.done:
			return
		}
	}
}

func (w *Writer) writeEntry(entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		slog.Error("journal marshal failed", "error", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	date := time.Now().UTC().Format("2006-01-02")
	if w.logger == nil || date != w.currentDate {
		w.rotateForDate(date)
	}
	if w.logger == nil {
		return
	}
	if _, err := w.logger.Write(append(data, '\n')); err != nil {
		slog.Error("journal write failed", "error", err)
	}
}

func (w *Writer) rotateForDate(date string) {
	if w.logger != nil {
		w.logger.Close()
	}

	dir := filepath.Join(w.baseDir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("journal mkdir failed", "error", err, "dir", dir)
		w.logger = nil
		return
	}

	w.logger = &lumberjack.Logger{
		Filename:  filepath.Join(dir, fmt.Sprintf("messages-%d.jsonl", time.Now().Unix())),
		MaxSize:   w.maxSizeMB,
		MaxAge:    30,
		LocalTime: false,
	}
	w.currentDate = date
}
