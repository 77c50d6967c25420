package repository

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xhttp "StockSense/pkg/http"
)

func TestHTTPPriceSource_GetDailyBars(t *testing.T) {
	var gotKey, gotAsOf, gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/prices/AAPL", r.URL.Path)
		gotKey = r.Header.Get("X-API-Key")
		gotAsOf = r.URL.Query().Get("as_of")
		gotLimit = r.URL.Query().Get("limit")
		_ = json.NewEncoder(w).Encode(barsResponse{
			Ticker: "AAPL",
			Bars: []barDTO{
				{Date: "2024-01-02", Close: 10, Volume: 100},
				{Date: "not-a-date", Close: 11},
				{Date: "2024-01-03", Close: 12, Volume: 110},
				{Date: "2024-01-04", Close: 13, Volume: 120},
				{Date: "2024-01-08", Close: 14, Volume: 130},
			},
		})
	}))
	defer srv.Close()

	src := NewHTTPPriceSource(srv.URL+"/", time.Second, WithAPIKey("secret"))
	asOf := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	bars, err := src.GetDailyBars(context.Background(), "AAPL", asOf, 2)
	require.NoError(t, err)

	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "2024-01-05", gotAsOf)
	assert.Equal(t, "2", gotLimit)
	// bad date dropped, bars after as_of dropped, then the newest two kept
	require.Len(t, bars, 2)
	assert.InDelta(t, 12.0, bars[0].Close, 1e-12)
	assert.InDelta(t, 13.0, bars[1].Close, 1e-12)
	assert.Equal(t, "AAPL", bars[1].Ticker)
}

func TestHTTPPriceSource_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(tickersResponse{Tickers: []string{"msft", "aapl", "MSFT"}})
	}))
	defer srv.Close()

	src := NewHTTPPriceSource(srv.URL, time.Second, WithRetry(3, time.Millisecond))
	ts, err := src.ListTickers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"MSFT", "AAPL"}, ts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPPriceSource_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := NewHTTPPriceSource(srv.URL, time.Second, WithRetry(2, time.Millisecond))
	_, err := src.GetDailyBars(context.Background(), "AAPL", time.Time{}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 500")
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPPriceSource_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := NewHTTPPriceSource(srv.URL, time.Second, WithRetry(5, time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := src.ListTickers(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHTTPPriceSource_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown ticker", http.StatusNotFound)
	}))
	defer srv.Close()

	src := NewHTTPPriceSource(srv.URL, time.Second, WithRetry(5, time.Millisecond))
	_, err := src.GetDailyBars(context.Background(), "ZZZZ", time.Time{}, 0)
	require.Error(t, err)

	var se *xhttp.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}
