// Package httpexec is the bounded-attempt request executor: every outbound
// call (provider search or artifact download) goes through the rate
// limiter, the circuit breaker, a retry loop honoring Retry-After/backoff,
// and (for downloads) the budget accountant.
package httpexec

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pdiddy/archivist/internal/breaker"
	"github.com/pdiddy/archivist/internal/budget"
	"github.com/pdiddy/archivist/internal/clock"
	"github.com/pdiddy/archivist/internal/ratelimit"
	"github.com/pdiddy/archivist/pkg/types"
)

// providerHostMap lets an ad-hoc follow-on request (a redirect, or an IIIF
// image server hosted on a different domain than the search API) still land
// in the right provider's limiter/breaker bucket, mirroring the original's
// PROVIDER_HOST_MAP.
var providerHostMap = map[string]string{
	"archive.org":           "internetarchive",
	"iiif.archive.org":      "internetarchive",
	"gallica.bnf.fr":        "bnf",
	"www.europeana.eu":      "europeana",
	"api.europeana.eu":      "europeana",
	"digital.library.nypl.org": "nypl",
	"iiif.nypl.org":         "nypl",
}

// ProviderForURL maps a request URL's host to a provider_key via
// providerHostMap, falling back to the host itself when unrecognized so an
// unknown host still gets its own independent limiter/breaker rather than
// sharing one with an arbitrary default.
func ProviderForURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unknown"
	}
	host := strings.ToLower(u.Hostname())
	if pk, ok := providerHostMap[host]; ok {
		return pk
	}
	return host
}

// Limiters and Breakers are the process-scope keyed registries the executor
// consults; they are constructed once at the composition root.
type Limiters struct {
	mu       sync.Mutex
	clock    clock.Clock
	limiters map[string]*ratelimit.Limiter
	cfg      func(providerKey string) types.NetworkConfig
}

// NewLimiters returns a registry that lazily builds a Limiter per
// provider_key from cfg.
func NewLimiters(c clock.Clock, cfg func(providerKey string) types.NetworkConfig) *Limiters {
	return &Limiters{clock: c, limiters: make(map[string]*ratelimit.Limiter), cfg: cfg}
}

// For returns (creating if necessary) the Limiter for providerKey.
func (l *Limiters) For(providerKey string) *ratelimit.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[providerKey]; ok {
		return lim
	}
	nc := l.cfg(providerKey)
	lim := ratelimit.New(l.clock, nc.DelayMS, nc.JitterMS)
	l.limiters[providerKey] = lim
	return lim
}

// Executor wires one HTTP client through the breaker -> limiter -> retry ->
// budget pipeline described in §4.3.
type Executor struct {
	client    *http.Client
	insecure  *http.Client
	clock     clock.Clock
	limiters  *Limiters
	breakers  *breaker.Registry
	cfg       func(providerKey string) types.NetworkConfig
	accountant *budget.Accountant
}

// New builds an Executor. accountant may be nil for non-download (search)
// calls that never account bytes.
func New(c clock.Clock, limiters *Limiters, breakers *breaker.Registry, cfg func(string) types.NetworkConfig, accountant *budget.Accountant) *Executor {
	return &Executor{
		client:     &http.Client{},
		insecure:   &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}},
		clock:      c,
		limiters:   limiters,
		breakers:   breakers,
		cfg:        cfg,
		accountant: accountant,
	}
}

// Result is the outcome of a successful request: the response body has
// already been fully read (Do) or is still open for streaming (DoStream).
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Do performs req against providerKey's pacing/breaker/retry policy and
// returns the fully-buffered 2xx response body. Use DoStream for artifact
// downloads that must be budget-accounted while streaming.
func (e *Executor) Do(ctx context.Context, providerKey string, req *http.Request) (*Result, error) {
	resp, err := e.execute(ctx, providerKey, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &types.IOError{Op: "read response body", Err: err}
	}
	return &Result{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// DoStream performs req and returns the live *http.Response for the caller
// to stream (and budget-account) itself; the caller must close the body.
func (e *Executor) DoStream(ctx context.Context, providerKey string, req *http.Request) (*http.Response, error) {
	return e.execute(ctx, providerKey, req)
}

// execute runs the full breaker -> limiter -> attempt-loop pipeline and
// returns a live 2xx *http.Response, or a terminal error.
func (e *Executor) execute(ctx context.Context, providerKey string, req *http.Request) (*http.Response, error) {
	nc := e.cfg(providerKey)
	br := e.breakers.For(providerKey)
	lim := e.limiters.For(providerKey)

	maxAttempts := nc.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	timeout := time.Duration(nc.TimeoutS * float64(time.Second))
	triedInsecure := false

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if nc.CircuitBreakerEnabled {
			if err := br.Allow(); err != nil {
				return nil, err
			}
		}
		if err := lim.Wait(ctx); err != nil {
			return nil, err
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		r := req.Clone(attemptCtx)
		for k, v := range nc.Headers {
			r.Header.Set(k, v)
		}

		client := e.client
		if triedInsecure {
			client = e.insecure
		}
		resp, err := client.Do(r)
		if cancel != nil {
			defer cancel()
		}

		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if isTLSError(err) && nc.SSLErrorPolicy == "retry_insecure_once" && !triedInsecure {
				triedInsecure = true
				lastErr = err
				continue
			}
			lastErr = &types.Transient{Err: err}
			if nc.CircuitBreakerEnabled && attempt == maxAttempts {
				br.RecordFailure()
			}
			if attempt < maxAttempts {
				e.sleepBackoff(ctx, nc, attempt)
				continue
			}
			break
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if nc.CircuitBreakerEnabled {
				br.RecordSuccess()
			}
			return resp, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			wait := parseRetryAfter(resp.Header.Get("Retry-After"), e.clock.Now())
			maxBackoff := time.Duration(nc.MaxBackoffS * float64(time.Second))
			if maxBackoff > 0 && wait > maxBackoff {
				wait = maxBackoff
			}
			resp.Body.Close()
			lastErr = &types.RateLimited{ProviderKey: providerKey, RetryAfter: resp.Header.Get("Retry-After")}
			if attempt == maxAttempts && nc.CircuitBreakerEnabled {
				br.RecordFailure()
			}
			if attempt < maxAttempts {
				if wait > 0 {
					if err := e.clock.Sleep(ctx, wait); err != nil {
						return nil, err
					}
				}
				continue
			}

		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = &types.Transient{Err: &types.ClientError{StatusCode: resp.StatusCode, URL: req.URL.String()}}
			if attempt == maxAttempts && nc.CircuitBreakerEnabled {
				br.RecordFailure()
			}
			if attempt < maxAttempts {
				e.sleepBackoff(ctx, nc, attempt)
				continue
			}

		default:
			resp.Body.Close()
			return nil, &types.ClientError{StatusCode: resp.StatusCode, URL: req.URL.String()}
		}
	}
	return nil, lastErr
}

func (e *Executor) sleepBackoff(ctx context.Context, nc types.NetworkConfig, attempt int) {
	base := time.Duration(nc.BaseBackoffS * float64(time.Second))
	maxBackoff := time.Duration(nc.MaxBackoffS * float64(time.Second))
	multiplier := nc.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2
	}
	d := clock.Backoff(base, multiplier, attempt, maxBackoff)
	jittered := clock.Jitter(d, time.Duration(nc.JitterMS)*time.Millisecond)
	_ = e.clock.Sleep(ctx, jittered)
}

// parseRetryAfter accepts either an integer seconds count or an HTTP-date,
// per §4.3. An unparseable or empty header yields 0 (no additional wait).
func parseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d
	}
	return 0
}

func isTLSError(err error) bool {
	var certErr *tls.CertificateVerificationError
	if ok := asCertErr(err, &certErr); ok {
		return true
	}
	return strings.Contains(err.Error(), "x509") || strings.Contains(err.Error(), "tls")
}

func asCertErr(err error, target **tls.CertificateVerificationError) bool {
	for err != nil {
		if ce, ok := err.(*tls.CertificateVerificationError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Accountant exposes the wired budget accountant to adapters that stream
// downloads directly (bypassing Do's full-buffer path).
func (e *Executor) Accountant() *budget.Accountant { return e.accountant }
