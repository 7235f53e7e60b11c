package httpexec

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/archivist/internal/breaker"
	"github.com/pdiddy/archivist/internal/clock"
	"github.com/pdiddy/archivist/pkg/types"
)

func newTestExecutor(nc types.NetworkConfig) (*Executor, clock.Clock) {
	c := clock.NewFake(time.Now())
	lims := NewLimiters(c, func(string) types.NetworkConfig { return nc })
	brs := breaker.NewRegistry(c, func(string) types.NetworkConfig { return nc })
	return New(c, lims, brs, func(string) types.NetworkConfig { return nc }, nil), c
}

func defaultNetworkConfig() types.NetworkConfig {
	return types.NetworkConfig{
		MaxAttempts:             3,
		BaseBackoffS:            0.001,
		BackoffMultiplier:       2,
		MaxBackoffS:             0.01,
		TimeoutS:                5,
		CircuitBreakerEnabled:   true,
		CircuitBreakerThreshold: 5,
		CircuitBreakerCooldownS: 60,
	}
}

func TestExecutor_SuccessOnFirstAttempt(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	exec, _ := newTestExecutor(defaultNetworkConfig())
	req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	result, err := exec.Do(context.Background(), "ia", req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestExecutor_429RetriesThenSucceeds(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	exec, _ := newTestExecutor(defaultNetworkConfig())
	req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	result, err := exec.Do(context.Background(), "ia", req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestExecutor_429ExhaustsAttemptsAndTripsBreaker(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	nc := defaultNetworkConfig()
	nc.CircuitBreakerThreshold = 1
	exec, _ := newTestExecutor(nc)
	req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	_, err := exec.Do(context.Background(), "ia", req)
	require.Error(t, err)
	var rl *types.RateLimited
	require.ErrorAs(t, err, &rl)

	// breaker tripped: next call returns CircuitOpen immediately.
	req2, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	_, err = exec.Do(context.Background(), "ia", req2)
	var co *types.CircuitOpen
	require.ErrorAs(t, err, &co)
}

func TestExecutor_5xxRetriesThenFails(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	nc := defaultNetworkConfig()
	nc.MaxAttempts = 3
	exec, _ := newTestExecutor(nc)
	req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	_, err := exec.Do(context.Background(), "ia", req)
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestExecutor_4xxNonRetryableFailsImmediately(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	exec, _ := newTestExecutor(defaultNetworkConfig())
	req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	_, err := exec.Do(context.Background(), "ia", req)
	require.Error(t, err)
	var ce *types.ClientError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, http.StatusNotFound, ce.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestExecutor_CircuitOpenShortCircuitsBeforeRequest(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	nc := defaultNetworkConfig()
	nc.CircuitBreakerThreshold = 1
	exec, _ := newTestExecutor(nc)
	req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	_, err := exec.Do(context.Background(), "ia", req)
	require.Error(t, err)

	callsBefore := atomic.LoadInt32(&calls)
	req2, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	_, err = exec.Do(context.Background(), "ia", req2)
	var co *types.CircuitOpen
	require.ErrorAs(t, err, &co)
	assert.Equal(t, callsBefore, atomic.LoadInt32(&calls))
}

func TestParseRetryAfter_SecondsFormat(t *testing.T) {
	now := time.Now()
	assert.Equal(t, 5*time.Second, parseRetryAfter("5", now))
}

func TestParseRetryAfter_ZeroIsZero(t *testing.T) {
	now := time.Now()
	assert.Equal(t, time.Duration(0), parseRetryAfter("0", now))
}

func TestParseRetryAfter_HTTPDate(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	future := now.Add(10 * time.Second)
	assert.Equal(t, 10*time.Second, parseRetryAfter(future.Format(http.TimeFormat), now))
}

func TestParseRetryAfter_EmptyIsZero(t *testing.T) {
	assert.Equal(t, time.Duration(0), parseRetryAfter("", time.Now()))
}

func TestProviderForURL_KnownHost(t *testing.T) {
	assert.Equal(t, "internetarchive", ProviderForURL("https://archive.org/details/x"))
}

func TestProviderForURL_UnknownHostFallsBackToHostname(t *testing.T) {
	assert.Equal(t, "example.com", ProviderForURL("https://example.com/x"))
}
