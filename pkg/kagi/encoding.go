package kagi

import (
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// decodedBody wraps an upstream body according to its Content-Encoding. We
// advertise gzip, deflate, br and zstd ourselves, so net/http leaves the
// decoding to us.
func decodedBody(body io.ReadCloser, contentEncoding string) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			_ = body.Close()
			return nil, fmt.Errorf("open gzip body: %w", err)
		}
		return &layeredBody{Reader: zr, closers: []func() error{zr.Close, body.Close}}, nil
	case "deflate":
		fr := flate.NewReader(body)
		return &layeredBody{Reader: fr, closers: []func() error{fr.Close, body.Close}}, nil
	case "br":
		return &layeredBody{Reader: brotli.NewReader(body), closers: []func() error{body.Close}}, nil
	case "zstd":
		zr, err := zstd.NewReader(body)
		if err != nil {
			_ = body.Close()
			return nil, fmt.Errorf("open zstd body: %w", err)
		}
		return &layeredBody{Reader: zr, closers: []func() error{func() error { zr.Close(); return nil }, body.Close}}, nil
	default:
		_ = body.Close()
		return nil, fmt.Errorf("unsupported content encoding %q", contentEncoding)
	}
}

type layeredBody struct {
	io.Reader
	closers []func() error
}

func (b *layeredBody) Close() error {
	var first error
	for _, c := range b.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
