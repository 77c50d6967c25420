package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"StockSense/internal/domain/models"
	domrepo "StockSense/internal/domain/repository"
	pkgch "StockSense/pkg/clickhouse"
	applogger "StockSense/pkg/logger"
)

// PredictionsTable keeps every produced prediction.
const PredictionsTable = "stocksense.predictions"

// CHPredictionStore appends predictions to ClickHouse and reads back the latest.
type CHPredictionStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHPredictionStore(ch *pkgch.Client) *CHPredictionStore {
	return &CHPredictionStore{db: ch.DB(), table: PredictionsTable}
}

// SetLogger injects a structured logger.
func (s *CHPredictionStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHPredictionStore) Save(ctx context.Context, p *models.PredictionResult) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal prediction: %w", err)
	}
	q := fmt.Sprintf(`INSERT INTO %s (ticker, as_of, generated_at, signal, confidence, current_price, predicted_price, predicted_return, horizon_days, model_version, payload)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	_, err = s.db.ExecContext(ctx, q,
		p.Ticker,
		p.AsOfDate,
		p.GeneratedAt,
		string(p.Signal),
		p.Confidence,
		p.CurrentPrice,
		p.PredictedPrice,
		p.PredictedReturn,
		p.HorizonDays,
		p.ModelVersion,
		string(payload),
	)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse save prediction error", applogger.String("ticker", p.Ticker), applogger.Error(err))
		}
		return fmt.Errorf("save prediction: %w", err)
	}
	return nil
}

func (s *CHPredictionStore) Latest(ctx context.Context, ticker string) (*models.PredictionResult, error) {
	q := fmt.Sprintf("SELECT payload FROM %s WHERE ticker = ? ORDER BY generated_at DESC LIMIT 1", s.table)
	var payload string
	if err := s.db.QueryRowContext(ctx, q, ticker).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domrepo.ErrNotFound
		}
		return nil, fmt.Errorf("latest prediction: %w", err)
	}
	var p models.PredictionResult
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("decode prediction: %w", err)
	}
	return &p, nil
}

var _ domrepo.PredictionStore = (*CHPredictionStore)(nil)
