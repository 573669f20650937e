package price

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSource_Prices(t *testing.T) {
	var gotQuery, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("symbols")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"prices":{"eth":"3012.55","CHIP":0.0042}}`))
	}))
	defer srv.Close()

	s := NewHTTPSource(srv.URL)
	prices, err := s.Prices(context.Background(), []string{"ETH", "CHIP"})
	require.NoError(t, err)

	assert.Equal(t, "ETH,CHIP", gotQuery)
	assert.True(t, strings.HasPrefix(gotUA, "bjclient/"))
	assert.True(t, decimal.RequireFromString("3012.55").Equal(prices["ETH"]))
	assert.True(t, decimal.RequireFromString("0.0042").Equal(prices["CHIP"]))
}

func TestHTTPSource_Retry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"prices":{"ETH":1}}`))
	}))
	defer srv.Close()

	s := NewHTTPSource(srv.URL, WithRetries(3, time.Millisecond))
	prices, err := s.Prices(context.Background(), []string{"ETH"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.True(t, decimal.NewFromInt(1).Equal(prices["ETH"]))
}

func TestHTTPSource_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := NewHTTPSource(srv.URL, WithRetries(3, time.Millisecond))
	_, err := s.Prices(context.Background(), []string{"ETH"})

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.False(t, httpErr.IsRetryable())
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPSource_MaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewHTTPSource(srv.URL, WithRetries(2, time.Millisecond))
	_, err := s.Prices(context.Background(), []string{"ETH"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
}

func TestHTTPSource_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL).Prices(context.Background(), []string{"ETH"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal prices")
}
