package logutil

import (
	"bytes"
	"testing"

	log "github.com/charmbracelet/log"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]log.Level{
		"trace": log.DebugLevel,
		"debug": log.DebugLevel,
		"info":  log.InfoLevel,
		"WARN":  log.WarnLevel,
		"error": log.ErrorLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestRedact(t *testing.T) {
	cases := map[string]string{
		"":                 "",
		"abc":              "***",
		"abcdefghijklmnop": "abcd********",
	}
	for in, want := range cases {
		if got := Redact(in); got != want {
			t.Fatalf("Redact(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLevelFilterWriter(t *testing.T) {
	var out, tee bytes.Buffer
	w := &levelFilterWriter{out: &out, tee: &tee, minLevel: log.InfoLevel}
	_, _ = w.Write([]byte("2026/01/02 10:00:00 DEBU refreshing models\n2026/01/02 10:00:01 INFO fetched"))
	_, _ = w.Write([]byte(" models=12\n\x1b[31mERRO\x1b[0m boom\n"))

	if got := out.String(); got != "2026/01/02 10:00:01 INFO fetched models=12\n\x1b[31mERRO\x1b[0m boom\n" {
		t.Fatalf("unexpected filtered output: %q", got)
	}
	if !bytes.Contains(tee.Bytes(), []byte("DEBU refreshing models")) {
		t.Fatalf("tee must see every line: %q", tee.String())
	}
}
