// Package origin is the read-only network tier: it fetches the raw bytes for
// a key over HTTP. It never stores anything; a miss here means the object
// does not exist upstream.
package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"github.com/unkn0wn-root/tiercache/layer"
	"github.com/unkn0wn-root/tiercache/promise"
)

var (
	ErrUnsupportedEncoding    = errors.New("origin: unsupported content encoding")
	ErrUnsupportedContentType = errors.New("origin: unsupported content type")
	ErrBadPayload             = errors.New("origin: bad payload")
	ErrBadKey                 = errors.New("origin: key is not a valid URL")
)

// StatusError is a non-2xx response other than 404/410.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("origin: GET %s: %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Shared transport tuning; keep-alive connections are reused across layers.
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewClient returns an http.Client on a clone of the shared transport.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout, Transport: defaultTransport.Clone()}
}

type Config struct {
	Name    string       // default "origin"
	Client  *http.Client // default NewClient(30s)
	BaseURL string       // keys resolve against it; empty means keys are absolute URLs
	Header  http.Header  // sent with every request

	// AllowedContentTypes limits accepted media types ("image/png", "image/*").
	// Empty accepts anything.
	AllowedContentTypes []string
	MaxBytes            int64 // decoded body limit; 0 = unlimited
	Validate            func([]byte) error
}

type Layer struct {
	name     string
	client   *http.Client
	base     *url.URL
	header   http.Header
	allowed  []string
	maxBytes int64
	validate func([]byte) error
}

var _ layer.Layer = (*Layer)(nil)

func New(cfg Config) (*Layer, error) {
	l := &Layer{
		name:     cfg.Name,
		client:   cfg.Client,
		header:   cfg.Header.Clone(),
		maxBytes: cfg.MaxBytes,
		validate: cfg.Validate,
	}
	if l.name == "" {
		l.name = "origin"
	}
	if l.client == nil {
		l.client = NewClient(0)
	}
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || !u.IsAbs() {
			return nil, fmt.Errorf("origin: base URL %q must be absolute", cfg.BaseURL)
		}
		l.base = u
	}
	for _, ct := range cfg.AllowedContentTypes {
		l.allowed = append(l.allowed, strings.ToLower(strings.TrimSpace(ct)))
	}
	return l, nil
}

func (l *Layer) Name() string { return l.name }

// Writes are accepted and dropped: the origin is the source of truth.
func (l *Layer) Store(context.Context, string, []byte) error { return nil }
func (l *Layer) Remove(context.Context, string) error        { return nil }
func (l *Layer) RemoveAll(context.Context) error             { return nil }

func (l *Layer) Close(context.Context) error {
	l.client.CloseIdleConnections()
	return nil
}

// Retrieve issues the GET on its own goroutine. Cancelling the promise
// aborts the request.
func (l *Layer) Retrieve(ctx context.Context, key string) *promise.Promise[[]byte] {
	target, err := l.resolve(key)
	if err != nil {
		return promise.Rejected[[]byte](err)
	}
	ctx, cancel := context.WithCancel(ctx)
	p := promise.Go(func() ([]byte, error) {
		defer cancel()
		return l.fetch(ctx, target)
	})
	p.OnCancel(cancel)
	return p
}

func (l *Layer) resolve(key string) (string, error) {
	u, err := url.Parse(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	if l.base != nil {
		u = l.base.ResolveReference(u)
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: %q", ErrBadKey, key)
	}
	return u.String(), nil
}

func (l *Layer) fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range l.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	// set explicitly so the transport leaves decoding to us
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, layer.ErrMiss
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &StatusError{Code: resp.StatusCode, URL: target}
	}

	if err := l.checkContentType(resp.Header.Get("Content-Type")); err != nil {
		return nil, err
	}

	encoding := resp.Header.Get("Content-Encoding")
	body, err := decoder(encoding, resp.Body)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var r io.Reader = body
	if l.maxBytes > 0 {
		r = io.LimitReader(body, l.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrBadPayload, err)
	}
	if l.maxBytes > 0 && int64(len(data)) > l.maxBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrBadPayload, l.maxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrBadPayload)
	}
	if identity(encoding) && resp.ContentLength >= 0 && int64(len(data)) != resp.ContentLength {
		return nil, fmt.Errorf("%w: read %d bytes, Content-Length %d", ErrBadPayload, len(data), resp.ContentLength)
	}
	if l.validate != nil {
		if err := l.validate(data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
	}
	return data, nil
}

func (l *Layer) checkContentType(header string) error {
	if len(l.allowed) == 0 {
		return nil
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedContentType, header)
	}
	for _, a := range l.allowed {
		if a == mt || a == "*/*" {
			return nil
		}
		if prefix, ok := strings.CutSuffix(a, "/*"); ok && strings.HasPrefix(mt, prefix+"/") {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedContentType, mt)
}

func decoder(encoding string, r io.Reader) (io.ReadCloser, error) {
	if identity(encoding) {
		return io.NopCloser(r), nil
	}
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %v", ErrBadPayload, err)
		}
		return zr, nil
	case "deflate":
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: deflate: %v", ErrBadPayload, err)
		}
		return zr, nil
	case "br":
		return io.NopCloser(brotli.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, encoding)
	}
}

func identity(encoding string) bool {
	e := strings.ToLower(strings.TrimSpace(encoding))
	return e == "" || e == "identity"
}
