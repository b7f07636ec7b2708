// Package fetch implements the resilient HTTP access layer feeding the
// pipeline. A request goes out on the direct transport first; when the
// response matches the district's block signature it is re-issued exactly
// once through the anonymizing proxy.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/busanfuneral/notice-pipeline/internal/metrics"
	"github.com/busanfuneral/notice-pipeline/internal/notice"
	"github.com/busanfuneral/notice-pipeline/internal/ratelimit"
)

const maxBodyBytes = 4 << 20

// Config controls Client behavior. HostRPS <= 0 disables the per-host
// rate limit.
type Config struct {
	ProxyURL  string
	UserAgent string
	Timeout   time.Duration
	HostRPS   float64
	HostBurst int
}

// Client implements notice.Fetcher over two net/http transports.
type Client struct {
	direct    *http.Client
	proxied   *http.Client
	retry     notice.RetryPolicy
	limiter   *ratelimit.Limiter
	userAgent string
	timeout   time.Duration
	logger    *zap.Logger

	// requiresProxy is the per-district advisory hint for the remainder of a
	// run: once a district's direct path was blocked, later requests skip it.
	requiresProxy sync.Map

	// blockSignatures maps district code to its configured block signature.
	blockSignatures sync.Map
}

// New constructs a Client. districts seeds the requires-proxy hint from the
// static site registry so known-blocking sites skip the doomed direct attempt.
func New(cfg Config, retry notice.RetryPolicy, districts []notice.District, logger *zap.Logger) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if retry == nil {
		retry = notice.NewExponentialRetryPolicy(0, 0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	directTransport := &http.Transport{
		Proxy:                 nil,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ForceAttemptHTTP2:     true,
	}

	c := &Client{
		direct:    &http.Client{Transport: directTransport, Timeout: cfg.Timeout},
		retry:     retry,
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
		logger:    logger,
	}
	if cfg.HostRPS > 0 {
		c.limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.HostRPS,
			DefaultBurst: cfg.HostBurst,
		})
	}

	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		proxiedTransport := directTransport.Clone()
		proxiedTransport.Proxy = http.ProxyURL(proxyURL)
		c.proxied = &http.Client{Transport: proxiedTransport, Timeout: cfg.Timeout}
	}

	for _, d := range districts {
		c.blockSignatures.Store(d.Code, d.Block)
		if d.RequiresProxy {
			c.requiresProxy.Store(d.Code, true)
		}
	}

	return c, nil
}

// Fetch retrieves one page, retrying transient errors on the same transport
// and falling back to the proxy at most once per logical request.
func (c *Client) Fetch(ctx context.Context, req notice.FetchRequest) (notice.FetchResponse, error) {
	useProxy := c.hinted(req.District)

	resp, err := c.fetchOn(ctx, req, useProxy)
	if err == nil && !c.isBlocked(req.District, resp) {
		return resp, nil
	}

	blocked := err == nil // a well-formed response that matched the signature
	if blocked {
		err = notice.ErrBlocked
	}

	// One escalation only: direct -> proxy. A blocked proxy response is final,
	// and a canceled context is never worth a second transport.
	if useProxy || c.proxied == nil || ctx.Err() != nil {
		return notice.FetchResponse{}, &notice.FetchError{District: req.District, URL: req.URL, Err: err}
	}

	if blocked {
		c.requiresProxy.Store(req.District, true)
	}
	metrics.ObserveProxyFallback(string(req.District))
	c.logger.Info("direct transport refused, retrying via proxy",
		zap.String("district", string(req.District)),
		zap.String("url", req.URL),
		zap.Bool("blocked", blocked),
	)

	resp, err = c.fetchOn(ctx, req, true)
	if err != nil {
		return notice.FetchResponse{}, &notice.FetchError{District: req.District, URL: req.URL, Err: err}
	}
	if c.isBlocked(req.District, resp) {
		return notice.FetchResponse{}, &notice.FetchError{District: req.District, URL: req.URL, Err: notice.ErrBlocked}
	}
	return resp, nil
}

// UsedProxy reports whether the district escalated to the proxy this run.
func (c *Client) UsedProxy(district notice.DistrictCode) bool {
	return c.hinted(district)
}

func (c *Client) hinted(district notice.DistrictCode) bool {
	_, ok := c.requiresProxy.Load(district)
	return ok
}

func (c *Client) fetchOn(ctx context.Context, req notice.FetchRequest, proxied bool) (notice.FetchResponse, error) {
	client := c.direct
	if proxied {
		if c.proxied == nil {
			return notice.FetchResponse{}, fmt.Errorf("no proxy transport configured")
		}
		client = c.proxied
	}

	var out notice.FetchResponse
	attempt := 0
	err := notice.Retry(ctx, c.retry, func() error {
		if attempt > 0 {
			metrics.ObserveFetchRetry(string(req.District))
		}
		attempt++
		var doErr error
		out, doErr = c.doOnce(ctx, client, req, proxied)
		return doErr
	})
	if err != nil {
		return notice.FetchResponse{}, err
	}
	return out, nil
}

func (c *Client) doOnce(ctx context.Context, client *http.Client, req notice.FetchRequest, proxied bool) (notice.FetchResponse, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(callCtx, req.URL); err != nil {
			return notice.FetchResponse{}, err
		}
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Form) > 0 {
		body = strings.NewReader(req.Form.Encode())
	}

	httpReq, err := http.NewRequestWithContext(callCtx, method, req.URL, body)
	if err != nil {
		return notice.FetchResponse{}, fmt.Errorf("build request: %w", err)
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	if len(req.Form) > 0 {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	httpResp, err := client.Do(httpReq)
	if err != nil {
		return notice.FetchResponse{}, fmt.Errorf("do request: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return notice.FetchResponse{}, fmt.Errorf("read body: %w", err)
	}

	metrics.ObserveFetch(string(req.District), proxied, httpResp.StatusCode)

	return notice.FetchResponse{
		URL:        req.URL,
		FinalURL:   httpResp.Request.URL.String(),
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header.Clone(),
		Body:       data,
		UsedProxy:  proxied,
		Duration:   time.Since(start),
	}, nil
}

func (c *Client) signature(district notice.DistrictCode) (notice.BlockSignature, bool) {
	v, ok := c.blockSignatures.Load(district)
	if !ok {
		return notice.BlockSignature{}, false
	}
	sig, ok := v.(notice.BlockSignature)
	return sig, ok
}

func (c *Client) isBlocked(district notice.DistrictCode, resp notice.FetchResponse) bool {
	sig, ok := c.signature(district)
	if !ok || sig.Empty() {
		return false
	}
	if sig.StatusCode != 0 && resp.StatusCode == sig.StatusCode {
		return true
	}
	if sig.RedirectPattern != "" && resp.FinalURL != resp.URL &&
		strings.Contains(strings.ToLower(resp.FinalURL), strings.ToLower(sig.RedirectPattern)) {
		return true
	}
	if sig.BodyPattern != "" &&
		bytes.Contains(bytes.ToLower(resp.Body), bytes.ToLower([]byte(sig.BodyPattern))) {
		return true
	}
	return false
}
