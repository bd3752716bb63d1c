package kagi

import (
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	streamAccept = "application/vnd.kagi.stream"
	userAgent    = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:137.0) Gecko/20100101 Firefox/137.0"
)

// browserHeaders mirrors what the Kagi web assistant sends. The upstream
// switches response format on the accept header, so callers override it per
// endpoint rather than dropping it.
func browserHeaders(origin string) http.Header {
	origin = strings.TrimRight(origin, "/")
	h := http.Header{}
	h.Set("Accept", "application/json")
	h.Set("Accept-Language", "en-US,en;q=0.5")
	h.Set("Accept-Encoding", "gzip, deflate, br, zstd")
	h.Set("Cache-Control", "no-cache")
	h.Set("Content-Type", "application/json")
	h.Set("DNT", "1")
	h.Set("Origin", origin)
	h.Set("Pragma", "no-cache")
	h.Set("Priority", "u=0")
	h.Set("Referer", origin+"/assistant")
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "same-origin")
	h.Set("Sec-GPC", "1")
	h.Set("TE", "trailers")
	h.Set("User-Agent", userAgent)
	return h
}

// headerRoundTripper fills in the browser header set on every outgoing
// request without overriding headers the caller already chose.
type headerRoundTripper struct {
	Base   http.RoundTripper
	Origin string
}

func (rt headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	base := rt.Base
	if base == nil {
		base = http.DefaultTransport
	}
	out := req.Clone(req.Context())
	out.Header = req.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	for k, vals := range browserHeaders(rt.Origin) {
		if out.Header.Get(k) != "" {
			continue
		}
		out.Header[k] = append([]string(nil), vals...)
	}
	return base.RoundTrip(out)
}

type TransportOptions struct {
	DialTimeout           time.Duration
	ResponseHeaderTimeout time.Duration
}

// NewHTTPClient returns a client for upstream calls. There is no overall
// timeout because assistant replies stream for as long as the model writes.
func NewHTTPClient(origin string, opts TransportOptions) *http.Client {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 15 * time.Second
	}
	if opts.ResponseHeaderTimeout <= 0 {
		opts.ResponseHeaderTimeout = 60 * time.Second
	}
	base := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   opts.DialTimeout,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          16,
	}
	return &http.Client{
		Transport: headerRoundTripper{Base: base, Origin: origin},
	}
}
