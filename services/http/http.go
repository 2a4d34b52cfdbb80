// Package http reads objects from any HTTP server. It is read-only: Stat
// issues HEAD and Read issues GET with a Range header.
package http

import (
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sagarc03/anystore"
	"github.com/sagarc03/anystore/internal/httpheader"
	"github.com/sagarc03/anystore/services/internal/options"
)

// Scheme is the scheme name of the HTTP backend.
const Scheme = "http"

// Config configures an HTTP accessor.
type Config struct {
	// Endpoint is the base URL, e.g. "https://example.com/files".
	Endpoint string `mapstructure:"endpoint" validate:"required,url"`
	Root     string `mapstructure:"root"`
	Username string `mapstructure:"username" validate:"required_with=Password"`
	Password string `mapstructure:"password"`
	Token    string `mapstructure:"token" validate:"excluded_with=Username"`
	// Timeout bounds each request; zero means no limit.
	Timeout time.Duration `mapstructure:"timeout" validate:"min=0"`

	// Client replaces the default client.
	Client *nethttp.Client `mapstructure:"-"`
}

// Accessor is a read-only anystore.Accessor over HTTP.
type Accessor struct {
	anystore.UnsupportedAccessor

	endpoint *url.URL
	root     string
	auth     string
	client   *nethttp.Client
	mapper   *anystore.ErrorMapper
}

func New(cfg Config) (*Accessor, error) {
	u, err := url.Parse(strings.TrimSuffix(cfg.Endpoint, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, anystore.NewError(anystore.KindInvalidInput, "endpoint must be an absolute url")
	}

	var auth string
	switch {
	case cfg.Username != "":
		auth, err = httpheader.FormatBasicAuth(cfg.Username, cfg.Password)
	case cfg.Token != "":
		auth, err = httpheader.FormatBearerAuth(cfg.Token)
	}
	if err != nil {
		return nil, err
	}

	client := cfg.Client
	if client == nil {
		client = &nethttp.Client{Timeout: cfg.Timeout}
	}

	return &Accessor{
		UnsupportedAccessor: anystore.UnsupportedAccessor{Scheme: Scheme},
		endpoint:            u,
		root:                cfg.Root,
		auth:                auth,
		client:              client,
		mapper:              anystore.NewErrorMapper(Scheme),
	}, nil
}

func FromOptions(raw map[string]string) (*Accessor, error) {
	var cfg Config
	if err := options.Decode(raw, &cfg); err != nil {
		return nil, err
	}
	return New(cfg)
}

func (a *Accessor) Info() anystore.AccessorInfo {
	return anystore.AccessorInfo{
		Scheme: Scheme,
		Root:   a.root,
		Name:   a.endpoint.Host,
		Capability: anystore.Capability{
			Stat:                true,
			StatWithIfMatch:     true,
			StatWithIfNoneMatch: true,
			Read:                true,
			ReadWithRange:       true,
			ReadWithIfMatch:     true,
			ReadWithIfNoneMatch: true,
			Blocking:            true,
		},
	}
}

func (a *Accessor) url(path string) string {
	u := *a.endpoint
	u.Path = u.Path + "/" + anystore.JoinRoot(a.root, path)
	return u.String()
}

func (a *Accessor) do(ctx context.Context, method, path string, header nethttp.Header) (*nethttp.Response, error) {
	req, err := nethttp.NewRequestWithContext(ctx, method, a.url(path), nil)
	if err != nil {
		return nil, anystore.NewError(anystore.KindInvalidInput, "build request").WithCause(err)
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	if a.auth != "" {
		req.Header.Set("Authorization", a.auth)
	}
	return a.client.Do(req)
}

func conditions(h nethttp.Header, ifMatch, ifNoneMatch string) {
	if ifMatch != "" {
		h.Set("If-Match", httpheader.QuoteETag(ifMatch))
	}
	if ifNoneMatch != "" {
		h.Set("If-None-Match", httpheader.QuoteETag(ifNoneMatch))
	}
}

func (a *Accessor) statusErr(op anystore.Operation, path string, resp *nethttp.Response) error {
	return anystore.HTTPStatusError(op, path, resp.StatusCode, resp.Status).WithBackend(Scheme)
}

func (a *Accessor) Stat(ctx context.Context, path string, opts anystore.StatOptions) (anystore.Metadata, error) {
	if path == anystore.RootPath {
		return anystore.NewMetadata(anystore.ModeDir), nil
	}

	h := nethttp.Header{}
	conditions(h, opts.IfMatch, opts.IfNoneMatch)
	resp, err := a.do(ctx, nethttp.MethodHead, path, h)
	if err != nil {
		return anystore.Metadata{}, a.mapper.Map(anystore.OpStat, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return anystore.Metadata{}, a.statusErr(anystore.OpStat, path, resp)
	}
	meta, err := httpheader.ParseMetadata(path, resp.Header)
	if err != nil {
		return anystore.Metadata{}, a.mapper.Map(anystore.OpStat, path, err)
	}
	return meta, nil
}

func (a *Accessor) Read(ctx context.Context, path string, opts anystore.ReadOptions) (anystore.Reader, error) {
	if size, ok := opts.Range.Size(); ok && size == 0 {
		if _, err := a.Stat(ctx, path, anystore.StatOptions{IfMatch: opts.IfMatch, IfNoneMatch: opts.IfNoneMatch}); err != nil {
			return nil, err
		}
		return anystore.NewBytesReader(nil), nil
	}

	h := nethttp.Header{}
	conditions(h, opts.IfMatch, opts.IfNoneMatch)
	if v := opts.Range.HeaderValue(); v != "" {
		h.Set("Range", v)
	}

	resp, err := a.do(ctx, nethttp.MethodGet, path, h)
	if err != nil {
		return nil, a.mapper.Map(anystore.OpRead, path, err)
	}

	switch {
	case resp.StatusCode == nethttp.StatusRequestedRangeNotSatisfiable:
		_ = resp.Body.Close()
		return anystore.NewBytesReader(nil), nil
	case resp.StatusCode == nethttp.StatusOK && !opts.Range.IsFull():
		// The server ignored Range; cut the window out of the full body.
		return a.window(resp.Body, path, opts.Range)
	case resp.StatusCode/100 != 2:
		_ = resp.Body.Close()
		return nil, a.statusErr(anystore.OpRead, path, resp)
	}
	return &bodyReader{body: resp.Body, a: a, path: path}, nil
}

func (a *Accessor) window(body io.ReadCloser, path string, r anystore.BytesRange) (anystore.Reader, error) {
	if _, err := io.CopyN(io.Discard, body, r.Offset()); err != nil {
		_ = body.Close()
		if errors.Is(err, io.EOF) {
			return anystore.NewBytesReader(nil), nil
		}
		return nil, a.mapper.Map(anystore.OpRead, path, err)
	}
	var src io.Reader = body
	if size, ok := r.Size(); ok {
		src = io.LimitReader(body, size)
	}
	return &bodyReader{body: struct {
		io.Reader
		io.Closer
	}{src, body}, a: a, path: path}, nil
}

type bodyReader struct {
	body io.ReadCloser
	a    *Accessor
	path string
}

func (r *bodyReader) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, r.a.mapper.Map(anystore.OpReaderRead, r.path, err)
	}
	return n, err
}

func (r *bodyReader) Close() error {
	return r.body.Close()
}
