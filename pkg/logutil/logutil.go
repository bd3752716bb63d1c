// Package logutil configures the process logger. Everything logs through
// charmbracelet/log, reached via log/slog and the stdlib log package alike.
package logutil

import (
	"bytes"
	"fmt"
	"io"
	stdlog "log"
	"log/slog"
	"os"
	"strings"
	"sync"

	log "github.com/charmbracelet/log"
)

var (
	outputMu   sync.Mutex
	outputTee  io.Writer
	stderrSink = &levelFilterWriter{minLevel: log.InfoLevel}
)

// Configure sets the stderr level and installs the charm logger as the slog
// default. "trace" is accepted and maps to debug.
func Configure(levelRaw string) error {
	levelRaw = strings.TrimSpace(levelRaw)
	if levelRaw == "" {
		levelRaw = "info"
	}
	level, err := ParseLevel(levelRaw)
	if err != nil {
		return err
	}
	outputMu.Lock()
	stderrSink.minLevel = level
	outputMu.Unlock()
	// The logger emits everything; the sink filters what reaches stderr so
	// the tee still sees debug lines.
	log.SetLevel(log.DebugLevel)
	log.SetReportTimestamp(true)
	applyOutput()
	slog.SetDefault(slog.New(log.Default()))
	stdlog.SetFlags(0)
	stdlog.SetOutput(log.Default().StandardLog(log.StandardLogOptions{ForceLevel: log.InfoLevel}).Writer())
	return nil
}

func ParseLevel(levelRaw string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(levelRaw)) {
	case "trace", "trac":
		return log.DebugLevel, nil
	default:
		level, err := log.ParseLevel(levelRaw)
		if err != nil {
			return 0, fmt.Errorf("invalid loglevel %q", levelRaw)
		}
		return level, nil
	}
}

// SetOutputTee copies every log line, regardless of level, to w. Pass nil to
// stop.
func SetOutputTee(w io.Writer) {
	outputMu.Lock()
	outputTee = w
	outputMu.Unlock()
	applyOutput()
}

func applyOutput() {
	outputMu.Lock()
	tee := outputTee
	outputMu.Unlock()
	stderrSink.mu.Lock()
	stderrSink.out = os.Stderr
	stderrSink.tee = tee
	stderrSink.mu.Unlock()
	log.SetOutput(stderrSink)
}

// Redact keeps the first four characters of a secret.
func Redact(secret string) string {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + strings.Repeat("*", 8)
}

type levelFilterWriter struct {
	mu       sync.Mutex
	out      io.Writer
	tee      io.Writer
	minLevel log.Level
	buf      []byte
}

func (w *levelFilterWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		idx := bytes.IndexByte(w.buf, '\n')
		if idx < 0 {
			break
		}
		line := append([]byte(nil), w.buf[:idx+1]...)
		w.buf = w.buf[idx+1:]
		w.writeLine(line)
	}
	return len(p), nil
}

func (w *levelFilterWriter) writeLine(line []byte) {
	if w.tee != nil {
		_, _ = w.tee.Write(line)
	}
	if w.out == nil || lineLevel(string(line)) < w.minLevel {
		return
	}
	_, _ = w.out.Write(line)
}

// lineLevel reads the level column of a charm text log line. Lines without
// one count as info.
func lineLevel(line string) log.Level {
	for _, field := range strings.Fields(stripANSI(line)) {
		switch strings.ToUpper(field) {
		case "DEBU", "DEBUG", "TRAC", "TRACE":
			return log.DebugLevel
		case "INFO":
			return log.InfoLevel
		case "WARN", "WARNING":
			return log.WarnLevel
		case "ERRO", "ERROR":
			return log.ErrorLevel
		case "FATA", "FATAL":
			return log.FatalLevel
		}
	}
	return log.InfoLevel
}

func stripANSI(s string) string {
	if !strings.Contains(s, "\x1b") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	inEsc := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if !inEsc {
			if ch == 0x1b {
				inEsc = true
				continue
			}
			b.WriteByte(ch)
			continue
		}
		if (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') {
			inEsc = false
		}
	}
	return b.String()
}
