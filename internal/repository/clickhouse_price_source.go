package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"StockSense/internal/domain/models"
	domrepo "StockSense/internal/domain/repository"
	pkgch "StockSense/pkg/clickhouse"
	applogger "StockSense/pkg/logger"
)

// DailyBarsTable holds one OHLCV row per ticker and trading day.
const DailyBarsTable = "stocksense.daily_bars"

// CHPriceSource implements PriceSource backed by ClickHouse.
type CHPriceSource struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHPriceSource(ch *pkgch.Client) *CHPriceSource {
	return &CHPriceSource{db: ch.DB(), table: DailyBarsTable}
}

// SetLogger injects a structured logger.
func (s *CHPriceSource) SetLogger(l *applogger.Logger) { s.l = l }

// GetDailyBars returns the latest limit bars at or before asOf, oldest first.
func (s *CHPriceSource) GetDailyBars(ctx context.Context, ticker string, asOf time.Time, limit int) ([]models.PriceBar, error) {
	start := time.Now()
	q := fmt.Sprintf(`
        SELECT date, ticker, open, high, low, close, volume
        FROM %s
        WHERE ticker = ? AND date <= ?
        ORDER BY date DESC`, s.table)
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	args := []interface{}{ticker, asOf}
	if limit > 0 {
		q += "\n        LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse daily_bars query error",
				applogger.String("table", s.table),
				applogger.String("ticker", ticker),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("get daily bars: %w", err)
	}
	defer rows.Close()

	out := make([]models.PriceBar, 0, 512)
	for rows.Next() {
		var b models.PriceBar
		if err := rows.Scan(&b.Date, &b.Ticker, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	// reverse to ASC
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if s.l != nil {
		s.l.Debug("clickhouse daily_bars ok",
			applogger.String("ticker", ticker),
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

// ListTickers returns every ticker with stored bars.
func (s *CHPriceSource) ListTickers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT DISTINCT ticker FROM %s ORDER BY ticker", s.table))
	if err != nil {
		return nil, fmt.Errorf("list tickers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan ticker: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertBars stores bars with a single multi-row insert per chunk.
func (s *CHPriceSource) InsertBars(ctx context.Context, bars []models.PriceBar) error {
	const chunkSize = 2000
	for start := 0; start < len(bars); start += chunkSize {
		end := start + chunkSize
		if end > len(bars) {
			end = len(bars)
		}
		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*7)
		for _, b := range bars[start:end] {
			if b.Ticker == "" {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?)")
			args = append(args, b.Date, b.Ticker, b.Open, b.High, b.Low, b.Close, b.Volume)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (date, ticker, open, high, low, close, volume) VALUES %s", s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert bars: %w", err)
		}
	}
	return nil
}

var _ domrepo.PriceSource = (*CHPriceSource)(nil)
