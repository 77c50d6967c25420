package repository

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"StockSense/internal/domain/models"
	"StockSense/internal/service/ratelimit"
	xhttp "StockSense/pkg/http"
	applogger "StockSense/pkg/logger"
	"StockSense/pkg/util"
)

type barDTO struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type barsResponse struct {
	Ticker string   `json:"ticker"`
	Bars   []barDTO `json:"bars"`
}

type tickersResponse struct {
	Tickers []string `json:"tickers"`
}

// HTTPPriceSource reads daily bars from a market data REST service.
//
//	GET {base}/prices/{ticker}?as_of=YYYY-MM-DD&limit=N
//	GET {base}/tickers
type HTTPPriceSource struct {
	baseURL  string
	apiKey   string
	client   *xhttp.Client
	limiter  *ratelimit.Limiter
	attempts int
	backoff  time.Duration
	l        *applogger.Logger
}

// HTTPSourceOption configures HTTPPriceSource.
type HTTPSourceOption func(*HTTPPriceSource)

func WithAPIKey(key string) HTTPSourceOption {
	return func(s *HTTPPriceSource) { s.apiKey = key }
}

func WithRetry(attempts int, backoff time.Duration) HTTPSourceOption {
	return func(s *HTTPPriceSource) {
		s.attempts = attempts
		s.backoff = backoff
	}
}

// WithRequestsPerMinute throttles outbound calls. Zero disables throttling.
func WithRequestsPerMinute(n int) HTTPSourceOption {
	return func(s *HTTPPriceSource) {
		if n > 0 {
			s.limiter = ratelimit.NewLimiter("market-data", n)
		}
	}
}

func NewHTTPPriceSource(baseURL string, timeout time.Duration, opts ...HTTPSourceOption) *HTTPPriceSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &HTTPPriceSource{
		baseURL:  strings.TrimRight(baseURL, "/"),
		attempts: 3,
		backoff:  200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	copts := []xhttp.ClientOption{xhttp.WithTimeout(timeout)}
	if s.apiKey != "" {
		copts = append(copts, xhttp.WithHeader("X-API-Key", s.apiKey))
	}
	s.client = xhttp.NewClient(copts...)
	return s
}

// SetLogger injects a structured logger.
func (s *HTTPPriceSource) SetLogger(l *applogger.Logger) { s.l = l }

func (s *HTTPPriceSource) GetDailyBars(ctx context.Context, ticker string, asOf time.Time, limit int) ([]models.PriceBar, error) {
	params := url.Values{}
	if !asOf.IsZero() {
		params.Set("as_of", asOf.UTC().Format(util.DateLayout))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var resp barsResponse
	if err := s.getWithRetry(ctx, "/prices/"+url.PathEscape(ticker), params, &resp); err != nil {
		return nil, fmt.Errorf("get daily bars %s: %w", ticker, err)
	}

	bars := make([]models.PriceBar, 0, len(resp.Bars))
	for _, b := range resp.Bars {
		d, ok := util.ParseTime(b.Date)
		if !ok {
			if s.l != nil {
				s.l.Warn("skip bar with bad date",
					applogger.String("ticker", ticker),
					applogger.String("date", b.Date),
				)
			}
			continue
		}
		if !asOf.IsZero() && d.After(asOf) {
			continue
		}
		bars = append(bars, models.PriceBar{
			Date:   d,
			Ticker: ticker,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		})
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

func (s *HTTPPriceSource) ListTickers(ctx context.Context) ([]string, error) {
	var resp tickersResponse
	if err := s.getWithRetry(ctx, "/tickers", nil, &resp); err != nil {
		return nil, fmt.Errorf("list tickers: %w", err)
	}
	return util.NormalizeTickers(resp.Tickers...), nil
}

func (s *HTTPPriceSource) get(ctx context.Context, path string, params url.Values, dest interface{}) error {
	if s.client == nil || s.baseURL == "" {
		return errors.New("market data client not initialized")
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return s.client.GetJSON(ctx, s.baseURL+path, params, dest)
}

// getWithRetry retries transport failures and 5xx/429 answers with linear
// backoff. Other 4xx answers are returned at once.
func (s *HTTPPriceSource) getWithRetry(ctx context.Context, path string, params url.Values, dest interface{}) error {
	var err error
	for i := 1; i <= s.attempts || i == 1; i++ {
		err = s.get(ctx, path, params, dest)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var se *xhttp.StatusError
		if errors.As(err, &se) && !se.Temporary() {
			return err
		}
		if i >= s.attempts {
			break
		}
		if s.l != nil {
			s.l.Warn("market data request failed, retrying",
				applogger.String("path", path),
				applogger.Int("attempt", i),
				applogger.Error(err),
			)
		}
		select {
		case <-time.After(time.Duration(i) * s.backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
