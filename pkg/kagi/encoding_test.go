package kagi

import (
	"bytes"
	"io"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const encodedFrame = "tokens.json:{\"text\":\"hi\"}\x00\n"

func TestDecodedBody(t *testing.T) {
	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, _ = gw.Write([]byte(encodedFrame))
	_ = gw.Close()

	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	_, _ = bw.Write([]byte(encodedFrame))
	_ = bw.Close()

	zw, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	zs := zw.EncodeAll([]byte(encodedFrame), nil)
	_ = zw.Close()

	cases := map[string][]byte{
		"":         []byte(encodedFrame),
		"identity": []byte(encodedFrame),
		"gzip":     gz.Bytes(),
		"br":       br.Bytes(),
		"zstd":     zs,
	}
	for enc, payload := range cases {
		body, err := decodedBody(io.NopCloser(bytes.NewReader(payload)), enc)
		if err != nil {
			t.Fatalf("%q: decodedBody: %v", enc, err)
		}
		got, err := io.ReadAll(body)
		if err != nil {
			t.Fatalf("%q: read: %v", enc, err)
		}
		_ = body.Close()
		if string(got) != encodedFrame {
			t.Fatalf("%q: unexpected body %q", enc, got)
		}
	}
}

func TestDecodedBodyUnsupported(t *testing.T) {
	if _, err := decodedBody(io.NopCloser(bytes.NewReader(nil)), "compress"); err == nil {
		t.Fatalf("expected error for unsupported encoding")
	}
}
