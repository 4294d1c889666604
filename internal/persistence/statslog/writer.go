// Package statslog appends per-tick streaming reports to rotating,
// zstd-compressed JSONL files.
package statslog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const ext = ".jsonl.zst"

// Writer starts a new file every RotateTicks ticks. Files are named
// <prefix>-<first tick, zero padded>.jsonl.zst.
type Writer struct {
	baseDir     string
	prefix      string
	rotateTicks uint64

	mu      sync.Mutex
	segment uint64
	open    bool
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
	lines   uint64
}

func NewWriter(baseDir, prefix string, rotateTicks uint64) *Writer {
	if rotateTicks == 0 {
		rotateTicks = 10_000
	}
	if prefix == "" {
		prefix = "stats"
	}
	return &Writer{baseDir: baseDir, prefix: prefix, rotateTicks: rotateTicks}
}

// Write appends v as one JSON line belonging to tick.
func (w *Writer) Write(tick uint64, v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	seg := tick - tick%w.rotateTicks
	if !w.open || seg != w.segment {
		if err := w.rotateLocked(seg); err != nil {
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
	w.lines++
	return w.w.Flush()
}

// Lines is the number of lines written since creation.
func (w *Writer) Lines() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *Writer) rotateLocked(seg uint64) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathFor(seg), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
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
	w.segment = seg
	w.open = true
	return nil
}

func (w *Writer) closeLocked() error {
	var err error
	if w.w != nil {
		err = w.w.Flush()
	}
	if w.enc != nil {
		if cerr := w.enc.Close(); err == nil {
			err = cerr
		}
		w.enc = nil
	}
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
		w.f = nil
	}
	w.w = nil
	w.open = false
	return err
}

func (w *Writer) pathFor(seg uint64) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%012d%s", w.prefix, seg, ext))
}

// Files lists the log files under dir for prefix in tick order.
func Files(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, ext) {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}
